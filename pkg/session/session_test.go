package session

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"decayindex/internal/models"
	"decayindex/pkg/config"
	"decayindex/pkg/reconstruction"
)

const testDepthMm = 40.0

func createTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Reconstruction.Nr = 100
	cfg.Reconstruction.Rss = 2.0
	return cfg
}

func createTestProducer() *reconstruction.SyntheticProducer {
	return &reconstruction.SyntheticProducer{
		NLon:       72,
		NLat:       36,
		DepthMm:    testDepthMm,
		Exponent:   3,
		FieldGauss: 500,
		Seed:       7,
	}
}

// flatColumns keeps the horizontal field constant with height in the
// longitude columns [lo, hi], so their decay index never reaches any key.
type flatColumns struct {
	inner  reconstruction.Producer
	lo, hi int
}

func (f *flatColumns) Produce(in reconstruction.Input) (*models.FieldVolume, error) {
	v, err := f.inner.Produce(in)
	if err != nil {
		return nil, err
	}
	for i := f.lo; i <= f.hi; i++ {
		for j := 0; j < v.NLat; j++ {
			for k := 0; k < v.NR; k++ {
				idx := v.Index(i, j, k)
				v.BTheta[idx] = 100
				v.BPhi[idx] = 0
			}
		}
	}
	return v, nil
}

var testCrop = CropArea{CenterCoord: [2]float64{180, 0}, Height: 20, Width: 30}

// createReadyController returns a controller that has been cropped and
// reconstructed and accepts clicks.
func createReadyController(t *testing.T, producer reconstruction.Producer) *Controller {
	t.Helper()
	c, err := NewController(createTestConfig(), producer)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := c.SetSources(Sources{}); err != nil {
		t.Fatalf("SetSources failed: %v", err)
	}
	if err := c.Crop(testCrop); err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if err := c.Reconstruct(); err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	return c
}

func TestStateOrdering(t *testing.T) {
	c, err := NewController(createTestConfig(), createTestProducer())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if c.State() != Uninitialized {
		t.Errorf("Expected state %s, got %s", Uninitialized, c.State())
	}

	if err := c.Crop(testCrop); !errors.Is(err, models.ErrState) {
		t.Errorf("Expected state error for crop before sources, got %v", err)
	}
	if err := c.Reconstruct(); !errors.Is(err, models.ErrState) {
		t.Errorf("Expected state error for reconstruct before crop, got %v", err)
	}
	if err := c.Submit(Event{Kind: PixelClick, X: 1, Y: 1}); !errors.Is(err, models.ErrNotReconstructed) {
		t.Errorf("Expected not-reconstructed error for early click, got %v", err)
	}
	if c.Pending() != 0 {
		t.Errorf("Early clicks must not be queued, got %d pending", c.Pending())
	}
	if _, err := c.Extract(); !errors.Is(err, models.ErrState) {
		t.Errorf("Expected state error for extract before reconstruct, got %v", err)
	}

	if err := c.SetSources(Sources{}); err != nil {
		t.Fatalf("SetSources failed: %v", err)
	}
	if err := c.Crop(testCrop); err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if c.State() != Cropped {
		t.Errorf("Expected state %s, got %s", Cropped, c.State())
	}
	if err := c.Reconstruct(); err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if err := c.Reconstruct(); !errors.Is(err, models.ErrState) {
		t.Errorf("Expected state error for second reconstruct, got %v", err)
	}
	if err := c.SetThreshold(150, 1.5); !errors.Is(err, models.ErrState) {
		t.Errorf("Expected state error for threshold change after reconstruct, got %v", err)
	}
}

func TestExtractEmptyPopulation(t *testing.T) {
	c := createReadyController(t, createTestProducer())
	_, err := c.Extract()
	if !errors.Is(err, models.ErrEmptyPopulation) {
		t.Errorf("Expected empty population error, got %v", err)
	}
	if errors.Is(err, models.ErrNumerical) {
		t.Errorf("Empty population must not be reported as a numerical error")
	}
}

func TestSetSourcesMissingFile(t *testing.T) {
	c, _ := NewController(createTestConfig(), createTestProducer())
	err := c.SetSources(Sources{Detail: filepath.Join(t.TempDir(), "missing.fits")})
	if !errors.Is(err, models.ErrAcquisition) {
		t.Errorf("Expected acquisition error, got %v", err)
	}
	if c.State() != Uninitialized {
		t.Errorf("Failed SetSources must not advance the state, got %s", c.State())
	}
}

func TestCropOutsideRaster(t *testing.T) {
	c, _ := NewController(createTestConfig(), createTestProducer())
	_ = c.SetSources(Sources{})
	err := c.Crop(CropArea{CenterCoord: [2]float64{180, 70}, Height: 20, Width: 20})
	if !errors.Is(err, models.ErrGeometry) {
		t.Errorf("Expected geometry error, got %v", err)
	}
	if c.State() != SourcesSet {
		t.Errorf("Expected state %s after failed crop, got %s", SourcesSet, c.State())
	}
}

func TestClickAndExtract(t *testing.T) {
	c := createReadyController(t, createTestProducer())

	for _, px := range [][2]float64{{10, 10}, {30, 20}, {50, 35}} {
		if err := c.Submit(Event{Kind: PixelClick, X: px[0], Y: px[1]}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if c.Pending() != 3 {
		t.Fatalf("Expected 3 pending events, got %d", c.Pending())
	}

	outcomes := c.Drain()
	if len(outcomes) != 3 {
		t.Fatalf("Expected 3 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Err != nil {
			t.Fatalf("Click %d failed: %v", i, o.Err)
		}
		if math.Abs(o.Result.CriticalHeightMm-testDepthMm) > 5 {
			t.Errorf("Click %d: expected critical height near %g Mm, got %f", i, testDepthMm, o.Result.CriticalHeightMm)
		}
	}
	if c.State() != Sampled {
		t.Errorf("Expected state %s, got %s", Sampled, c.State())
	}
	if got := c.Population().Len(); got != 12 {
		t.Errorf("Expected 4 profiles per click, got %d", got)
	}
	if len(c.Record().Coords) != 3 {
		t.Errorf("Expected 3 stored coordinates, got %d", len(c.Record().Coords))
	}

	summary, err := c.Extract()
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if c.State() != Extracted {
		t.Errorf("Expected state %s, got %s", Extracted, c.State())
	}
	if math.Abs(summary.CriticalHeightMm-testDepthMm) > 5 {
		t.Errorf("Expected critical height near %g Mm, got %f", testDepthMm, summary.CriticalHeightMm)
	}
	if summary.Profiles != 12 || summary.Clicks != 3 {
		t.Errorf("Expected 12 profiles from 3 clicks, got %d from %d", summary.Profiles, summary.Clicks)
	}
	if summary.Mean[0] != 0 || summary.Std[0] != 0 {
		t.Errorf("Expected zero decay index at the photosphere, got mean %g std %g", summary.Mean[0], summary.Std[0])
	}
	if len(summary.Curve.HeightMm) != 1000 {
		t.Errorf("Expected 1000-point dense curve, got %d", len(summary.Curve.HeightMm))
	}
}

func TestRejectedClicksLeavePopulation(t *testing.T) {
	producer := &flatColumns{inner: createTestProducer(), lo: 10, hi: 11}
	c := createReadyController(t, producer)

	events := []Event{
		{Kind: PixelClick, X: 10, Y: 10},
		{Kind: WorldClick, World: models.Coord{Lon: 359, Lat: 0}},  // last synoptic column
		{Kind: WorldClick, World: models.Coord{Lon: 53.5, Lat: 0}}, // flat field, no crossing
		{Kind: PixelClick, X: -40, Y: 10},                          // left of the cropped raster
	}
	for _, ev := range events {
		if err := c.Submit(ev); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	outcomes := c.Drain()

	if outcomes[0].Err != nil {
		t.Fatalf("First click failed: %v", outcomes[0].Err)
	}
	if !errors.Is(outcomes[1].Err, models.ErrOutOfRange) {
		t.Errorf("Expected out-of-range error, got %v", outcomes[1].Err)
	}
	if !errors.Is(outcomes[2].Err, models.ErrNoConvergence) {
		t.Errorf("Expected no-convergence error, got %v", outcomes[2].Err)
	}
	if !errors.Is(outcomes[3].Err, models.ErrGeometry) {
		t.Errorf("Expected geometry error for a pixel off the crop, got %v", outcomes[3].Err)
	}
	if got := c.Population().Len(); got != 4 {
		t.Errorf("Rejected clicks changed the population: %d profiles", got)
	}
	if got := len(c.Record().Coords); got != 1 {
		t.Errorf("Rejected clicks were recorded: %d coordinates", got)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := NewRecord(80, 2.5, 1.5, 150)
	r.DetailPath = "aia_171.fits"
	r.MagnetogramPath = "hmi_m.fits"
	r.SynopticPath = "synoptic.fits"
	r.CropArea = &CropArea{CenterCoord: [2]float64{-512.25, 301.5}, Height: 200, Width: 300}
	r.AddCoord(models.Coord{Lon: -500.125, Lat: 290.0625})
	r.AddCoord(models.Coord{Lon: -480.5, Lat: 310.1})

	for _, name := range []string{"session.json", "session.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := SaveRecord(path, r); err != nil {
				t.Fatalf("SaveRecord failed: %v", err)
			}
			loaded, err := LoadRecord(path)
			if err != nil {
				t.Fatalf("LoadRecord failed: %v", err)
			}

			if loaded.Nr != r.Nr || loaded.Rss != r.Rss || loaded.KeyDI != r.KeyDI || loaded.HThreshold != r.HThreshold {
				t.Errorf("Parameters not preserved: %+v", loaded)
			}
			if loaded.SessionID != r.SessionID {
				t.Errorf("Expected session id %s, got %s", r.SessionID, loaded.SessionID)
			}
			if *loaded.CropArea != *r.CropArea {
				t.Errorf("Expected crop area %+v, got %+v", *r.CropArea, *loaded.CropArea)
			}
			if len(loaded.Coords) != len(r.Coords) {
				t.Fatalf("Expected %d coords, got %d", len(r.Coords), len(loaded.Coords))
			}
			for i := range r.Coords {
				if loaded.Coords[i] != r.Coords[i] {
					t.Errorf("Coord %d: expected %v, got %v", i, r.Coords[i], loaded.Coords[i])
				}
			}
			if loaded.DetailPath != r.DetailPath || loaded.SynopticPath != r.SynopticPath {
				t.Errorf("Source paths not preserved: %+v", loaded)
			}
		})
	}
}

func TestLoadRecordLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	data := []byte(`{
    "nr": 100,
    "rss": 2.0,
    "aia_path": "a.fits",
    "hmi_path": "h.fits",
    "syn_path": "s.fits",
    "key_di": 1.5,
    "crop_area": {"center_coord": [-400, 250], "height": 150, "width": 150},
    "coords": [[-410.5, 240.25]]
}`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write record: %v", err)
	}

	r, err := LoadRecord(path)
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	if r.HThreshold != DefaultHeightThreshold {
		t.Errorf("Expected default threshold %g, got %g", DefaultHeightThreshold, r.HThreshold)
	}
	if r.SessionID == "" {
		t.Error("Expected a generated session id")
	}
	if r.Coords[0] != [2]float64{-410.5, 240.25} {
		t.Errorf("Unexpected coords %v", r.Coords)
	}
}

func TestLoadRecordErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadRecord(filepath.Join(dir, "missing.json")); !errors.Is(err, models.ErrAcquisition) {
		t.Errorf("Expected acquisition error, got %v", err)
	}
	if err := SaveRecord(filepath.Join(dir, "session.txt"), NewRecord(1, 2, 1.5, 200)); err == nil {
		t.Error("Expected error for unsupported extension")
	}

	tests := []struct {
		name string
		file string
		data string
	}{
		{"nr zero", "nr.json", `{"nr": 0, "rss": 2}`},
		{"explicit zero threshold", "h0.json", `{"nr": 100, "rss": 2, "h_threshold": 0}`},
		{"negative threshold", "hneg.json", `{"nr": 100, "rss": 2, "h_threshold": -5}`},
		{"explicit zero threshold yaml", "h0.yaml", "nr: 100\nrss: 2\nh_threshold: 0\n"},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.file)
		if err := os.WriteFile(path, []byte(tt.data), 0644); err != nil {
			t.Fatalf("Failed to write record: %v", err)
		}
		if _, err := LoadRecord(path); !errors.Is(err, models.ErrGeometry) {
			t.Errorf("%s: expected geometry error, got %v", tt.name, err)
		}
	}
}

func TestReplayReproducesSession(t *testing.T) {
	c := createReadyController(t, createTestProducer())
	for _, px := range [][2]float64{{5, 5}, {40, 30}} {
		_ = c.Submit(Event{Kind: PixelClick, X: px[0], Y: px[1]})
	}
	c.Drain()
	original, err := c.Extract()
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "session.json")
	if err := SaveRecord(path, c.Record()); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}
	loaded, err := LoadRecord(path)
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}

	replay, err := NewController(createTestConfig(), createTestProducer())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	outcomes, err := replay.Replay(loaded)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	for i, o := range outcomes {
		if o.Err != nil {
			t.Errorf("Replayed click %d failed: %v", i, o.Err)
		}
	}

	restored, err := replay.Extract()
	if err != nil {
		t.Fatalf("Extract after replay failed: %v", err)
	}
	if restored.SessionID != original.SessionID {
		t.Errorf("Expected session id %s, got %s", original.SessionID, restored.SessionID)
	}
	if restored.Profiles != original.Profiles {
		t.Errorf("Expected %d profiles, got %d", original.Profiles, restored.Profiles)
	}
	if math.Abs(restored.CriticalHeightMm-original.CriticalHeightMm) > 1e-9 {
		t.Errorf("Expected critical height %f, got %f", original.CriticalHeightMm, restored.CriticalHeightMm)
	}
}

func TestReplayFailsOnRejectedClick(t *testing.T) {
	r := NewRecord(100, 2.0, 1.5, DefaultHeightThreshold)
	stored := testCrop
	r.CropArea = &stored
	r.AddCoord(models.Coord{Lon: 180, Lat: 0})
	r.AddCoord(models.Coord{Lon: 359, Lat: 0}) // last synoptic column
	r.AddCoord(models.Coord{Lon: 181, Lat: 0})

	c, err := NewController(createTestConfig(), createTestProducer())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	outcomes, err := c.Replay(r)
	if !errors.Is(err, models.ErrOutOfRange) {
		t.Fatalf("Expected out-of-range error, got %v", err)
	}
	if !strings.Contains(err.Error(), "stored click 2 of 3") {
		t.Errorf("Expected the failing click to be named, got %q", err.Error())
	}
	if len(outcomes) != 2 {
		t.Errorf("Expected replay to stop after the failing click, got %d outcomes", len(outcomes))
	}
	if c.Pending() != 0 {
		t.Errorf("Expected no clicks left queued, got %d", c.Pending())
	}
	if c.State() == Extracted || c.Summary() != nil {
		t.Error("Failed replay must not produce a summary")
	}
}

func TestStateString(t *testing.T) {
	if Reconstructed.String() != "reconstructed" {
		t.Errorf("Expected reconstructed, got %s", Reconstructed.String())
	}
	if State(42).String() != "State(42)" {
		t.Errorf("Unexpected name for unknown state: %s", State(42).String())
	}
}
