// Package export writes the sample population of a session as a long-format
// Parquet table, one row per profile and height.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	log "github.com/sirupsen/logrus"

	"decayindex/internal/models"
	"decayindex/pkg/sampler"
)

// ProfileRow is one decay-index value of one population profile.
type ProfileRow struct {
	SessionID  string  `parquet:"session_id"`
	Click      int32   `parquet:"click"`
	Profile    int32   `parquet:"profile"`
	GridX      int32   `parquet:"grid_x"`
	GridY      int32   `parquet:"grid_y"`
	HeightMm   float64 `parquet:"height_mm"`
	DecayIndex float64 `parquet:"decay_index"`
}

// Rows flattens samples into profile rows. Neighbour profiles are numbered
// in population order; grid indices are those of each neighbour cell.
func Rows(sessionID string, heightMm []float64, samples []*models.Sample) ([]ProfileRow, error) {
	var rows []ProfileRow
	profile := int32(0)
	for c, s := range samples {
		for n, prof := range s.Profiles {
			if len(prof) != len(heightMm) {
				return nil, fmt.Errorf("%w: click %d profile %d has %d values for %d heights",
					models.ErrGeometry, c, n, len(prof), len(heightMm))
			}
			i, j := sampler.NeighbourCell(s.GridX, s.GridY, n)
			gx, gy := int32(i), int32(j)
			for k, val := range prof {
				rows = append(rows, ProfileRow{
					SessionID:  sessionID,
					Click:      int32(c),
					Profile:    profile,
					GridX:      gx,
					GridY:      gy,
					HeightMm:   heightMm[k],
					DecayIndex: val,
				})
			}
			profile++
		}
	}
	return rows, nil
}

// WritePopulation stores the population of samples at path.
func WritePopulation(path, sessionID string, heightMm []float64, samples []*models.Sample) error {
	rows, err := Rows(sessionID, heightMm, samples)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	writer := parquet.NewGenericWriter[ProfileRow](f)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write population rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}

	log.WithFields(log.Fields{
		"path": path,
		"rows": len(rows),
	}).Info("population exported")
	return f.Close()
}

// ReadPopulation loads rows written by WritePopulation.
func ReadPopulation(path string) ([]ProfileRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open export: %v", models.ErrAcquisition, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parquet open: %w", err)
	}

	reader := parquet.NewGenericReader[ProfileRow](pf)
	defer reader.Close()

	rows := make([]ProfileRow, 0, pf.NumRows())
	buf := make([]ProfileRow, 1000)
	for {
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parquet read: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return rows, nil
}
