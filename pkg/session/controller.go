// Package session drives one operator session: it holds the session state,
// guards the order of operations and feeds queued click events through the
// sampler and the critical-height extractor.
package session

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"decayindex/internal/models"
	"decayindex/pkg/config"
	"decayindex/pkg/coords"
	"decayindex/pkg/decay"
	"decayindex/pkg/interpolation"
	"decayindex/pkg/reconstruction"
	"decayindex/pkg/sampler"
)

// Sources names the three input rasters of a session.
type Sources struct {
	Detail      string
	Magnetogram string
	Synoptic    string
}

// FrameFactory wraps a (cropped) detail raster in the frame used to resolve
// clicks on it.
type FrameFactory func(raster *coords.LinearWCS) coords.Frame

// CarringtonFrames is the FrameFactory for detail rasters already in
// Carrington coordinates.
func CarringtonFrames(raster *coords.LinearWCS) coords.Frame {
	return coords.CarringtonFrame{LinearWCS: raster}
}

// ClickResult is what one accepted click produced.
type ClickResult struct {
	Sample           *models.Sample
	Average          []float64
	Curve            interpolation.Curve
	CriticalHeightMm float64
}

// Summary is the population-level result of a session.
type Summary struct {
	SessionID        string
	HeightMm         []float64
	Mean             []float64
	Std              []float64
	Curve            interpolation.Curve
	CriticalHeightMm float64
	KeyDI            float64
	Profiles         int
	Clicks           int
}

// Controller owns the state of one session. It is not safe for concurrent
// use; callers deliver events from a single goroutine.
type Controller struct {
	cfg      *config.Config
	producer reconstruction.Producer

	detail   *coords.LinearWCS
	synoptic *coords.LinearWCS
	rotator  coords.Rotator
	frames   FrameFactory

	state   State
	record  *Record
	display coords.Frame
	cropped *coords.LinearWCS

	recon     *reconstruction.Reconstructor
	volume    *models.DecayIndexVolume
	sampler   *sampler.Sampler
	extractor *interpolation.Extractor

	queue   []Event
	clicks  []*ClickResult
	summary *Summary
}

// NewController creates a controller for a fresh session using the frames,
// thresholds and solver settings of cfg.
func NewController(cfg *config.Config, producer reconstruction.Producer) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	detail, err := coords.FromConfig(cfg.Frames.Detail)
	if err != nil {
		return nil, fmt.Errorf("detail frame: %w", err)
	}
	synoptic, err := coords.FromConfig(cfg.Frames.Synoptic)
	if err != nil {
		return nil, fmt.Errorf("synoptic frame: %w", err)
	}

	c := &Controller{
		cfg:      cfg,
		producer: producer,
		detail:   detail,
		synoptic: synoptic,
		rotator:  coords.Howard(),
		frames:   CarringtonFrames,
	}
	c.Reset()
	return c, nil
}

// SetRotator replaces the solar-rotation correction.
func (c *Controller) SetRotator(r coords.Rotator) {
	c.rotator = r
}

// SetFrameFactory replaces how cropped detail rasters become click frames.
func (c *Controller) SetFrameFactory(f FrameFactory) {
	c.frames = f
}

// Reset discards everything and starts a new session with a new id.
func (c *Controller) Reset() {
	c.state = Uninitialized
	c.record = NewRecord(
		c.cfg.Reconstruction.Nr,
		c.cfg.Reconstruction.Rss,
		c.cfg.Threshold.KeyDecayIndex,
		c.cfg.Threshold.HeightMm,
	)
	c.display = nil
	c.cropped = nil
	c.recon = nil
	c.volume = nil
	c.sampler = nil
	c.extractor = nil
	c.queue = nil
	c.clicks = nil
	c.summary = nil
}

// State returns the current session state.
func (c *Controller) State() State {
	return c.state
}

// Record returns the session record. It reflects every accepted click.
func (c *Controller) Record() *Record {
	return c.record
}

// SetThreshold changes the height threshold and key decay index. Both feed
// the sampler, so they can only change before reconstruction.
func (c *Controller) SetThreshold(heightMm, keyDI float64) error {
	if err := c.state.require("set threshold", Uninitialized, SourcesSet, Cropped); err != nil {
		return err
	}
	if heightMm <= 0 {
		return fmt.Errorf("%w: h_threshold must be > 0, got %g", models.ErrGeometry, heightMm)
	}
	c.record.HThreshold = heightMm
	c.record.KeyDI = keyDI
	return nil
}

// SetReconstruction changes nr and rss before reconstruction.
func (c *Controller) SetReconstruction(nr int, rss float64) error {
	if err := c.state.require("set reconstruction parameters", Uninitialized, SourcesSet, Cropped); err != nil {
		return err
	}
	if nr <= 0 || rss <= 1.0 {
		return fmt.Errorf("%w: need nr > 0 and rss > 1, got nr=%d rss=%g", models.ErrGeometry, nr, rss)
	}
	c.record.Nr = nr
	c.record.Rss = rss
	return nil
}

// SetSources records the three input rasters. Named files must exist.
func (c *Controller) SetSources(src Sources) error {
	if err := c.state.require("set sources", Uninitialized, SourcesSet); err != nil {
		return err
	}
	for _, p := range []string{src.Detail, src.Magnetogram, src.Synoptic} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: source raster: %v", models.ErrAcquisition, err)
		}
	}
	c.record.DetailPath = src.Detail
	c.record.MagnetogramPath = src.Magnetogram
	c.record.SynopticPath = src.Synoptic
	c.state = SourcesSet
	return nil
}

// Crop cuts the detail raster to the rectangle around center. Clicks are
// pixels of the cropped raster.
func (c *Controller) Crop(area CropArea) error {
	if err := c.state.require("crop", SourcesSet, Cropped); err != nil {
		return err
	}
	if area.Height <= 0 || area.Width <= 0 {
		return fmt.Errorf("%w: crop area %gx%g is empty", models.ErrGeometry, area.Width, area.Height)
	}

	blc, trc := coords.Crop(area.Center(), area.Height, area.Width)
	sub, err := c.detail.Submap(blc, trc)
	if err != nil {
		return err
	}

	c.cropped = sub
	c.display = c.frames(sub)
	stored := area
	c.record.CropArea = &stored
	c.state = Cropped

	log.WithFields(log.Fields{
		"center": fmt.Sprintf("(%.1f, %.1f)", area.CenterCoord[0], area.CenterCoord[1]),
		"pixels": fmt.Sprintf("%dx%d", sub.NAXIS1, sub.NAXIS2),
	}).Info("detail raster cropped")
	return nil
}

// Display returns the cropped raster clicks refer to, or nil before Crop.
func (c *Controller) Display() *coords.LinearWCS {
	return c.cropped
}

// Reconstruct runs the field producer, derives the decay-index volume and
// prepares the sampler. It blocks until the producer returns.
func (c *Controller) Reconstruct() error {
	if err := c.state.require("reconstruct", Cropped); err != nil {
		return err
	}

	extractor, err := interpolation.NewExtractor(interpolation.Params{
		KeyDecayIndex: c.record.KeyDI,
		InitialGuess:  c.cfg.Solver.InitialGuess,
		Tolerance:     c.cfg.Solver.Tolerance,
		MaxIterations: c.cfg.Solver.MaxIterations,
		DensePoints:   c.cfg.Solver.DensePoints,
	})
	if err != nil {
		return err
	}

	recon := reconstruction.NewReconstructor(&reconstruction.Params{
		Nr:          c.record.Nr,
		Rss:         c.record.Rss,
		Magnetogram: c.record.MagnetogramPath,
	}, c.producer)
	recon.SetProgressCallback(func(stage string) {
		log.WithField("stage", stage).Debug("reconstruction progress")
	})
	if err := recon.Process(); err != nil {
		return err
	}

	field := recon.Volume()
	if field.NLon != c.synoptic.NAXIS1 || field.NLat != c.synoptic.NAXIS2 {
		return fmt.Errorf("%w: field grid %dx%d does not match the %dx%d synoptic raster",
			models.ErrGeometry, field.NLon, field.NLat, c.synoptic.NAXIS1, c.synoptic.NAXIS2)
	}

	volume, err := decay.Compute(field, recon.HeightMm())
	if err != nil {
		return err
	}

	locator := &sampler.Locator{
		Display:  c.display,
		Synoptic: c.synoptic,
		Rotator:  c.rotator,
	}
	s, err := sampler.NewSampler(volume, locator, c.record.HThreshold)
	if err != nil {
		return err
	}
	if n := len(s.Heights()); n < interpolation.MinPoints {
		return fmt.Errorf("%w: only %d heights at or below %g Mm, need %d",
			models.ErrGeometry, n, c.record.HThreshold, interpolation.MinPoints)
	}

	c.recon = recon
	c.volume = volume
	c.sampler = s
	c.extractor = extractor
	c.state = Reconstructed

	log.WithFields(log.Fields{
		"session":  c.record.SessionID,
		"heights":  len(s.Heights()),
		"h_thresh": c.record.HThreshold,
	}).Info("session ready for clicks")
	return nil
}

// Volume returns the decay-index volume, or nil before Reconstruct.
func (c *Controller) Volume() *models.DecayIndexVolume {
	return c.volume
}

// FieldSummary returns photospheric field statistics of the reconstruction.
func (c *Controller) FieldSummary() (reconstruction.FieldSummary, error) {
	if err := c.state.atLeast("field summary", Reconstructed); err != nil {
		return reconstruction.FieldSummary{}, err
	}
	return c.recon.Summary(), nil
}

// Heights returns the limited height axis of every profile.
func (c *Controller) Heights() []float64 {
	if c.sampler == nil {
		return nil
	}
	return c.sampler.Heights()
}

// Population returns the running population, or nil before Reconstruct.
func (c *Controller) Population() *sampler.Population {
	if c.sampler == nil {
		return nil
	}
	return c.sampler.Population()
}

// Clicks returns the results of every accepted click in order.
func (c *Controller) Clicks() []*ClickResult {
	return c.clicks
}

// Extract computes the population mean and spread and the critical height
// of the mean profile.
func (c *Controller) Extract() (*Summary, error) {
	if err := c.state.atLeast("extract", Reconstructed); err != nil {
		return nil, err
	}

	pop := c.sampler.Population()
	mean, std, err := pop.MeanStd()
	if err != nil {
		return nil, err
	}

	res, err := c.extractor.Extract(c.sampler.Heights(), mean)
	if err != nil {
		return nil, fmt.Errorf("population mean: %w", err)
	}

	c.summary = &Summary{
		SessionID:        c.record.SessionID,
		HeightMm:         c.sampler.Heights(),
		Mean:             mean,
		Std:              std,
		Curve:            res.Curve,
		CriticalHeightMm: res.CriticalHeightMm,
		KeyDI:            c.record.KeyDI,
		Profiles:         pop.Len(),
		Clicks:           len(c.clicks),
	}
	c.state = Extracted

	log.WithFields(log.Fields{
		"session":  c.record.SessionID,
		"clicks":   len(c.clicks),
		"profiles": pop.Len(),
		"h_crit":   fmt.Sprintf("%.1f Mm", res.CriticalHeightMm),
	}).Info("critical height extracted")
	return c.summary, nil
}

// Summary returns the last extraction, or nil.
func (c *Controller) Summary() *Summary {
	return c.summary
}
