package reconstruction

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"decayindex/internal/models"
)

// SolarRadiusMm is the nominal solar radius (IAU 2015, 695 700 km) in megameters.
const SolarRadiusMm = 695.7

// Params holds the reconstruction parameters handed to the field producer.
type Params struct {
	// Nr is the number of radial grid cells. The producer returns Nr+1 radial layers.
	Nr int

	// Rss is the source-surface radius in solar radii.
	Rss float64

	// Magnetogram identifies the boundary magnetogram (usually a file path).
	Magnetogram string
}

// Input is what a Producer receives for one reconstruction run.
type Input struct {
	Magnetogram string
	Nr          int
	Rss         float64
}

// Producer computes the 3-D field above a boundary magnetogram. Implementations
// are external solvers, precomputed solver output, or synthetic fields.
type Producer interface {
	Produce(in Input) (*models.FieldVolume, error)
}

// ProgressCallback is a function that reports progress during reconstruction
type ProgressCallback func(stage string)

// FieldSummary holds descriptive statistics of the horizontal field at the
// photosphere, logged after each run.
type FieldSummary struct {
	MeanGauss float64
	StdGauss  float64
	MaxGauss  float64
}

// Reconstructor runs the field producer once and exposes the resulting
// volume together with its physical height axis.
type Reconstructor struct {
	params   *Params
	producer Producer

	volume   *models.FieldVolume
	heightMm []float64
	summary  FieldSummary

	progressCallback ProgressCallback
}

// NewReconstructor creates a reconstructor for the given parameters and producer.
func NewReconstructor(params *Params, producer Producer) *Reconstructor {
	return &Reconstructor{
		params:   params,
		producer: producer,
	}
}

// SetProgressCallback sets a callback function to report progress
func (r *Reconstructor) SetProgressCallback(callback ProgressCallback) {
	r.progressCallback = callback
}

func (r *Reconstructor) reportProgress(stage string) {
	if r.progressCallback != nil {
		r.progressCallback(stage)
	}
}

// Process invokes the producer and derives the height axis. Reconstructions
// are expensive, so a second call is refused instead of re-running the solver;
// build a new Reconstructor to supersede a result.
func (r *Reconstructor) Process() error {
	if r.volume != nil {
		return fmt.Errorf("%w: reconstruction already processed", models.ErrState)
	}
	if r.params.Nr <= 0 {
		return fmt.Errorf("%w: nr must be > 0, got %d", models.ErrGeometry, r.params.Nr)
	}
	if r.params.Rss <= 1.0 {
		return fmt.Errorf("%w: rss must be > 1.0, got %g", models.ErrGeometry, r.params.Rss)
	}

	r.reportProgress("producing field volume")
	volume, err := r.producer.Produce(Input{
		Magnetogram: r.params.Magnetogram,
		Nr:          r.params.Nr,
		Rss:         r.params.Rss,
	})
	if err != nil {
		return fmt.Errorf("field producer failed: %w", err)
	}
	if err := volume.Validate(); err != nil {
		return fmt.Errorf("field producer returned an invalid volume: %w", err)
	}

	r.reportProgress("deriving height axis")
	r.volume = volume
	r.heightMm = HeightsMm(volume.RadialGrid)
	r.summary = summarizeSurface(volume)

	log.WithFields(log.Fields{
		"nr":       r.params.Nr,
		"rss":      r.params.Rss,
		"grid":     fmt.Sprintf("%dx%dx%d", volume.NLon, volume.NLat, volume.NR),
		"size":     humanize.Bytes(uint64(16 * len(volume.BTheta))),
		"topMm":    fmt.Sprintf("%.1f", r.heightMm[len(r.heightMm)-1]),
		"meanBh_G": fmt.Sprintf("%.2f", r.summary.MeanGauss),
	}).Info("reconstruction finished")

	return nil
}

// Volume returns the field volume, or nil before Process succeeds.
func (r *Reconstructor) Volume() *models.FieldVolume {
	return r.volume
}

// HeightMm returns the height above the photosphere of each radial layer.
func (r *Reconstructor) HeightMm() []float64 {
	return r.heightMm
}

// Summary returns photospheric field statistics of the last run.
func (r *Reconstructor) Summary() FieldSummary {
	return r.summary
}

// Params returns the reconstruction parameters.
func (r *Reconstructor) Params() Params {
	return *r.params
}

// HeightsMm converts a radial grid in ln(r/R_sun) to heights above the
// photosphere in megameters: (exp(rg) - 1) * R_sun.
func HeightsMm(radialGrid []float64) []float64 {
	out := make([]float64, len(radialGrid))
	for i, rg := range radialGrid {
		out[i] = math.Expm1(rg) * SolarRadiusMm
	}
	return out
}

func summarizeSurface(v *models.FieldVolume) FieldSummary {
	bh := make([]float64, 0, v.NLon*v.NLat)
	maxBh := 0.0
	for i := 0; i < v.NLon; i++ {
		for j := 0; j < v.NLat; j++ {
			idx := v.Index(i, j, 0)
			b := math.Hypot(v.BTheta[idx], v.BPhi[idx])
			bh = append(bh, b)
			if b > maxBh {
				maxBh = b
			}
		}
	}
	mean, std := stat.MeanStdDev(bh, nil)
	return FieldSummary{MeanGauss: mean, StdGauss: std, MaxGauss: maxBh}
}
