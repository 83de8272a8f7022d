// Package report writes everything an extraction produces: the profile
// figures, the decay-index map with the clicked cells, the population
// export, the session record and a catalog entry.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"decayindex/internal/models"
	"decayindex/pkg/catalog"
	"decayindex/pkg/export"
	"decayindex/pkg/interpolation"
	"decayindex/pkg/session"
	"decayindex/pkg/visualization"
)

// Paths lists the files written for one extraction.
type Paths struct {
	EachFigure  string
	TotalFigure string
	Map         string
	Population  string
	Record      string

	// ResultID is the catalog id, empty without a catalog
	ResultID string
}

// Writer stores extraction results under one output directory.
type Writer struct {
	Dir     string
	Format  string
	Catalog *catalog.DB
}

// NewWriter creates a writer for dir and figure format. db may be nil.
func NewWriter(dir, format string, db *catalog.DB) *Writer {
	if format == "" {
		format = "pdf"
	}
	return &Writer{Dir: dir, Format: format, Catalog: db}
}

// Write stores the results of summary, which must be the last extraction of
// ctrl. Files are named after the session id.
func (w *Writer) Write(ctrl *session.Controller, summary *session.Summary) (Paths, error) {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return Paths{}, fmt.Errorf("%w: output directory: %v", models.ErrAcquisition, err)
	}
	prefix := filepath.Join(w.Dir, summary.SessionID+"_")
	clicks := ctrl.Clicks()

	curves := make([]interpolation.Curve, len(clicks))
	samples := make([]*models.Sample, len(clicks))
	for i, c := range clicks {
		curves[i] = c.Curve
		samples[i] = c.Sample
	}

	var paths Paths
	var err error
	paths.EachFigure, paths.TotalFigure, err = visualization.SaveProfiles(prefix, w.Format, curves, visualization.Total{
		HeightMm:         summary.HeightMm,
		Mean:             summary.Mean,
		Std:              summary.Std,
		Curve:            summary.Curve,
		CriticalHeightMm: summary.CriticalHeightMm,
		KeyDI:            summary.KeyDI,
	})
	if err != nil {
		return Paths{}, err
	}

	paths.Map = prefix + "map.png"
	if err := saveMap(paths.Map, ctrl.Volume(), summary.CriticalHeightMm, samples); err != nil {
		return Paths{}, err
	}

	paths.Population = prefix + "population.parquet"
	if err := export.WritePopulation(paths.Population, summary.SessionID, summary.HeightMm, samples); err != nil {
		return Paths{}, err
	}

	paths.Record = prefix + "session.json"
	if err := session.SaveRecord(paths.Record, ctrl.Record()); err != nil {
		return Paths{}, err
	}

	if w.Catalog != nil {
		rec := ctrl.Record()
		rows := make([]catalog.Click, len(clicks))
		for i, c := range clicks {
			rows[i] = catalog.Click{
				Lon:              c.Sample.World.Lon,
				Lat:              c.Sample.World.Lat,
				GridX:            c.Sample.GridX,
				GridY:            c.Sample.GridY,
				CriticalHeightMm: c.CriticalHeightMm,
			}
		}
		stored, err := w.Catalog.Save(catalog.Result{
			SessionID:        summary.SessionID,
			Nr:               rec.Nr,
			Rss:              rec.Rss,
			KeyDI:            rec.KeyDI,
			HThreshold:       rec.HThreshold,
			Clicks:           summary.Clicks,
			Profiles:         summary.Profiles,
			CriticalHeightMm: summary.CriticalHeightMm,
		}, rows)
		if err != nil {
			return Paths{}, fmt.Errorf("catalog: %w", err)
		}
		paths.ResultID = stored.ID
	}

	log.WithFields(log.Fields{
		"session": summary.SessionID,
		"dir":     w.Dir,
		"total":   filepath.Base(paths.TotalFigure),
	}).Info("results written")
	return paths, nil
}

// Hook adapts Write to the click server's extract hook.
func (w *Writer) Hook(ctrl *session.Controller, summary *session.Summary) error {
	_, err := w.Write(ctrl, summary)
	return err
}

// saveMap renders the decay-index layer nearest the critical height and
// marks the clicked cells.
func saveMap(path string, volume *models.DecayIndexVolume, heightMm float64, samples []*models.Sample) error {
	viewer := visualization.NewViewer(volume, visualization.DefaultMaxIndex)
	img, err := viewer.ExtractSlice("h", viewer.NearestHeight(heightMm))
	if err != nil {
		return err
	}
	img = viewer.MarkSamples(img, samples)
	if err := viewer.SaveSlice(img, path); err != nil {
		return fmt.Errorf("error saving map %s: %w", path, err)
	}
	return nil
}
