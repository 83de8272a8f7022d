package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"decayindex/internal/models"
)

// DefaultHeightThreshold is used for records that do not carry h_threshold.
const DefaultHeightThreshold = 200.0

// CropArea is the crop rectangle, in the detail raster's world units.
type CropArea struct {
	CenterCoord [2]float64 `json:"center_coord" yaml:"center_coord"`
	Height      float64    `json:"height" yaml:"height"`
	Width       float64    `json:"width" yaml:"width"`
}

// Center returns the crop center as a coordinate.
func (c CropArea) Center() models.Coord {
	return models.Coord{Lon: c.CenterCoord[0], Lat: c.CenterCoord[1]}
}

// Record is the persisted form of a session. Only inputs are stored; the
// decay-index volume and all statistics are rebuilt from them on replay.
type Record struct {
	SessionID string `json:"session_id,omitempty" yaml:"session_id,omitempty"`

	Nr         int     `json:"nr" yaml:"nr"`
	Rss        float64 `json:"rss" yaml:"rss"`
	KeyDI      float64 `json:"key_di" yaml:"key_di"`
	HThreshold float64 `json:"h_threshold" yaml:"h_threshold"`

	// Source rasters: detail image, boundary magnetogram, synoptic map
	DetailPath      string `json:"aia_path,omitempty" yaml:"aia_path,omitempty"`
	MagnetogramPath string `json:"hmi_path,omitempty" yaml:"hmi_path,omitempty"`
	SynopticPath    string `json:"syn_path,omitempty" yaml:"syn_path,omitempty"`

	CropArea *CropArea `json:"crop_area,omitempty" yaml:"crop_area,omitempty"`

	// Coords holds one [lon, lat] pair per accepted click, in click order
	Coords [][2]float64 `json:"coords" yaml:"coords"`
}

// NewRecord creates an empty record with a fresh session id.
func NewRecord(nr int, rss, keyDI, hThreshold float64) *Record {
	return &Record{
		SessionID:  uuid.NewString(),
		Nr:         nr,
		Rss:        rss,
		KeyDI:      keyDI,
		HThreshold: hThreshold,
		Coords:     [][2]float64{},
	}
}

// AddCoord appends a clicked world coordinate.
func (r *Record) AddCoord(c models.Coord) {
	r.Coords = append(r.Coords, [2]float64{c.Lon, c.Lat})
}

// Clicks returns the stored coordinates as Coord values.
func (r *Record) Clicks() []models.Coord {
	out := make([]models.Coord, len(r.Coords))
	for i, c := range r.Coords {
		out[i] = models.Coord{Lon: c[0], Lat: c[1]}
	}
	return out
}

// Validate checks the reconstruction and threshold parameters.
func (r *Record) Validate() error {
	if r.Nr <= 0 {
		return fmt.Errorf("%w: nr must be > 0, got %d", models.ErrGeometry, r.Nr)
	}
	if r.Rss <= 1.0 {
		return fmt.Errorf("%w: rss must be > 1.0, got %g", models.ErrGeometry, r.Rss)
	}
	if r.HThreshold <= 0 {
		return fmt.Errorf("%w: h_threshold must be > 0, got %g", models.ErrGeometry, r.HThreshold)
	}
	if r.CropArea != nil && (r.CropArea.Height <= 0 || r.CropArea.Width <= 0) {
		return fmt.Errorf("%w: crop area %gx%g is empty", models.ErrGeometry, r.CropArea.Width, r.CropArea.Height)
	}
	return nil
}

type recordFormat int

const (
	formatJSON recordFormat = iota
	formatYAML
)

func formatFor(path string) (recordFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("unsupported session record extension %q (use .json, .yaml or .yml)", filepath.Ext(path))
	}
}

// SaveRecord writes a record as JSON or YAML depending on the file extension.
func SaveRecord(path string, r *Record) error {
	format, err := formatFor(path)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case formatJSON:
		data, err = json.MarshalIndent(r, "", "    ")
	case formatYAML:
		data, err = yaml.Marshal(r)
	}
	if err != nil {
		return fmt.Errorf("error marshaling session record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating record directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing session record: %w", err)
	}
	return nil
}

// LoadRecord reads a record written by SaveRecord. Records without
// h_threshold get DefaultHeightThreshold and records without an id get a
// new one.
func LoadRecord(path string) (*Record, error) {
	format, err := formatFor(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading session record: %v", models.ErrAcquisition, err)
	}

	// absent keys keep the default; an explicit 0 is rejected by Validate
	r := &Record{HThreshold: DefaultHeightThreshold}
	switch format {
	case formatJSON:
		err = json.Unmarshal(data, r)
	case formatYAML:
		err = yaml.Unmarshal(data, r)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing session record: %w", err)
	}

	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}
	if r.Coords == nil {
		r.Coords = [][2]float64{}
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session record %s: %w", path, err)
	}
	return r, nil
}
