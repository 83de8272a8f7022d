package reconstruction

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"decayindex/internal/models"
)

// stubProducer returns a fixed volume or error and counts its invocations
type stubProducer struct {
	volume *models.FieldVolume
	err    error
	calls  int
	input  Input
}

func (s *stubProducer) Produce(in Input) (*models.FieldVolume, error) {
	s.calls++
	s.input = in
	return s.volume, s.err
}

// createTestVolume builds a small volume with bh = 1/(1+k) along every column
func createTestVolume(nLon, nLat int, rg []float64) *models.FieldVolume {
	nr := len(rg)
	v := &models.FieldVolume{
		RadialGrid: rg,
		BTheta:     make([]float64, nLon*nLat*nr),
		BPhi:       make([]float64, nLon*nLat*nr),
		NLon:       nLon,
		NLat:       nLat,
		NR:         nr,
	}
	for i := 0; i < nLon; i++ {
		for j := 0; j < nLat; j++ {
			for k := 0; k < nr; k++ {
				idx := v.Index(i, j, k)
				v.BTheta[idx] = float64(i+1) / float64(1+k)
				v.BPhi[idx] = float64(j+1) / float64(1+k)
			}
		}
	}
	return v
}

func TestHeightsMm(t *testing.T) {
	if SolarRadiusMm != 695.7 {
		t.Fatalf("Expected solar radius 695.7 Mm, got %f", SolarRadiusMm)
	}

	rg := []float64{0, 0.1, 0.2}
	heights := HeightsMm(rg)
	for i, r := range rg {
		expected := (math.Exp(r) - 1) * 695.7
		if expected == 0 {
			if heights[i] != 0 {
				t.Errorf("Expected height 0 at index %d, got %g", i, heights[i])
			}
			continue
		}
		if rel := math.Abs(heights[i]-expected) / expected; rel > 1e-6 {
			t.Errorf("Height %d: expected %g, got %g (relative error %g)", i, expected, heights[i], rel)
		}
	}
}

func TestHeightsStrictlyIncreasing(t *testing.T) {
	producer := &SyntheticProducer{NLon: 4, NLat: 4, DepthMm: 30, Exponent: 3}
	volume, err := producer.Produce(Input{Nr: 50, Rss: 2.5})
	if err != nil {
		t.Fatalf("Synthetic producer failed: %v", err)
	}
	heights := HeightsMm(volume.RadialGrid)
	if heights[0] != 0 {
		t.Errorf("Expected height 0 at the photosphere, got %g", heights[0])
	}
	for i := 1; i < len(heights); i++ {
		if heights[i] <= heights[i-1] {
			t.Fatalf("Heights not strictly increasing at %d: %g <= %g", i, heights[i], heights[i-1])
		}
	}
}

func TestReconstructorProcess(t *testing.T) {
	stub := &stubProducer{volume: createTestVolume(3, 2, []float64{0, 0.05, 0.1, 0.15})}
	params := &Params{Nr: 3, Rss: 2, Magnetogram: "synoptic.fits"}
	r := NewReconstructor(params, stub)

	var stages []string
	r.SetProgressCallback(func(stage string) { stages = append(stages, stage) })

	if err := r.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("Expected producer to be called once, got %d", stub.calls)
	}
	if stub.input.Magnetogram != "synoptic.fits" || stub.input.Nr != 3 || stub.input.Rss != 2 {
		t.Errorf("Producer received unexpected input: %+v", stub.input)
	}
	if len(r.HeightMm()) != 4 {
		t.Errorf("Expected 4 heights, got %d", len(r.HeightMm()))
	}
	if r.Volume() == nil {
		t.Error("Expected volume after Process")
	}
	if len(stages) == 0 {
		t.Error("Expected progress callback to be invoked")
	}
	if r.Summary().MaxGauss <= 0 {
		t.Errorf("Expected positive surface field, got %+v", r.Summary())
	}

	// A second run is refused rather than silently re-invoking the solver
	if err := r.Process(); !errors.Is(err, models.ErrState) {
		t.Errorf("Expected state error on second Process, got %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("Producer re-invoked: %d calls", stub.calls)
	}
}

func TestReconstructorRejectsParameters(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{"zero nr", Params{Nr: 0, Rss: 2}},
		{"rss inside photosphere", Params{Nr: 10, Rss: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubProducer{}
			params := tt.params
			err := NewReconstructor(&params, stub).Process()
			if !errors.Is(err, models.ErrGeometry) {
				t.Errorf("Expected geometry error, got %v", err)
			}
			if stub.calls != 0 {
				t.Errorf("Producer should not run for invalid parameters")
			}
		})
	}
}

func TestReconstructorSurfacesProducerError(t *testing.T) {
	producerErr := errors.New("map geometry rejected")
	stub := &stubProducer{err: producerErr}
	err := NewReconstructor(&Params{Nr: 10, Rss: 2}, stub).Process()
	if !errors.Is(err, producerErr) {
		t.Errorf("Expected producer error to be surfaced, got %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("Expected exactly one attempt, got %d", stub.calls)
	}
}

func TestReconstructorRejectsInvalidVolume(t *testing.T) {
	volume := createTestVolume(2, 2, []float64{0, 0.2, 0.1})
	err := NewReconstructor(&Params{Nr: 2, Rss: 2}, &stubProducer{volume: volume}).Process()
	if !errors.Is(err, models.ErrGeometry) {
		t.Errorf("Expected geometry error for non-increasing grid, got %v", err)
	}
}

func TestSyntheticProducerGrid(t *testing.T) {
	producer := &SyntheticProducer{NLon: 6, NLat: 5, DepthMm: 40, Exponent: 3, Noise: 0.3, Seed: 7, FieldGauss: 100}
	volume, err := producer.Produce(Input{Nr: 20, Rss: 2})
	if err != nil {
		t.Fatalf("Synthetic producer failed: %v", err)
	}
	if err := volume.Validate(); err != nil {
		t.Fatalf("Synthetic volume invalid: %v", err)
	}
	if volume.NR != 21 {
		t.Errorf("Expected 21 radial layers, got %d", volume.NR)
	}
	if math.Abs(volume.RadialGrid[20]-math.Log(2)) > 1e-12 {
		t.Errorf("Expected outer layer at ln(2), got %g", volume.RadialGrid[20])
	}
	surface := math.Hypot(volume.BTheta[volume.Index(0, 0, 0)], volume.BPhi[volume.Index(0, 0, 0)])
	if math.Abs(surface-100) > 1e-9 {
		t.Errorf("Expected surface field 100 G, got %g", surface)
	}

	// Same seed, same field
	again, _ := producer.Produce(Input{Nr: 20, Rss: 2})
	for i := range volume.BTheta {
		if volume.BTheta[i] != again.BTheta[i] {
			t.Fatalf("Synthetic field not deterministic at %d", i)
		}
	}
}

func TestSyntheticProducerRejectsGeometry(t *testing.T) {
	producer := &SyntheticProducer{NLon: 1, NLat: 5, DepthMm: 40, Exponent: 3}
	if _, err := producer.Produce(Input{Nr: 10, Rss: 2}); !errors.Is(err, models.ErrGeometry) {
		t.Errorf("Expected geometry error, got %v", err)
	}
}

func TestVolumeFileRoundTrip(t *testing.T) {
	producer := &SyntheticProducer{NLon: 5, NLat: 4, DepthMm: 25, Exponent: 2.5, Noise: 0.2, Seed: 3, FieldGauss: 80}
	volume, err := producer.Produce(Input{Nr: 12, Rss: 2.5})
	if err != nil {
		t.Fatalf("Synthetic producer failed: %v", err)
	}

	for _, name := range []string{"volume.parquet", "volume.parquet.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := WriteVolume(path, volume); err != nil {
				t.Fatalf("WriteVolume failed: %v", err)
			}

			loaded, err := (&FileProducer{Path: path}).Produce(Input{Nr: 12, Rss: 2.5})
			if err != nil {
				t.Fatalf("FileProducer failed: %v", err)
			}
			if loaded.NLon != 5 || loaded.NLat != 4 || loaded.NR != 13 {
				t.Fatalf("Unexpected grid %dx%dx%d", loaded.NLon, loaded.NLat, loaded.NR)
			}
			for k := range volume.RadialGrid {
				if loaded.RadialGrid[k] != volume.RadialGrid[k] {
					t.Errorf("Radial grid differs at %d", k)
				}
			}
			for i := range volume.BTheta {
				if loaded.BTheta[i] != volume.BTheta[i] || loaded.BPhi[i] != volume.BPhi[i] {
					t.Fatalf("Field differs at flat index %d", i)
				}
			}
		})
	}
}

func TestFileProducerRejectsMismatchedGrid(t *testing.T) {
	volume, _ := (&SyntheticProducer{NLon: 3, NLat: 3, DepthMm: 25, Exponent: 3}).Produce(Input{Nr: 8, Rss: 2})
	path := filepath.Join(t.TempDir(), "volume.parquet")
	if err := WriteVolume(path, volume); err != nil {
		t.Fatalf("WriteVolume failed: %v", err)
	}

	if _, err := (&FileProducer{Path: path}).Produce(Input{Nr: 10, Rss: 2}); !errors.Is(err, models.ErrGeometry) {
		t.Errorf("Expected geometry error for wrong nr, got %v", err)
	}
	if _, err := (&FileProducer{Path: path}).Produce(Input{Nr: 8, Rss: 3}); !errors.Is(err, models.ErrGeometry) {
		t.Errorf("Expected geometry error for wrong rss, got %v", err)
	}
}

func TestFileProducerMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.parquet")
	_, err := (&FileProducer{Path: path}).Produce(Input{Nr: 10, Rss: 2})
	if !errors.Is(err, models.ErrAcquisition) {
		t.Errorf("Expected acquisition error, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("Producer must not create the missing file")
	}
}
