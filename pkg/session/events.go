package session

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"decayindex/internal/models"
)

// EventKind tells how an event's position is expressed.
type EventKind int

const (
	// PixelClick is a click on the cropped detail raster, in 0-based pixels.
	PixelClick EventKind = iota
	// WorldClick is a click already in the detail raster's world frame,
	// as stored in session records.
	WorldClick
)

func (k EventKind) String() string {
	switch k {
	case PixelClick:
		return "pixel"
	case WorldClick:
		return "world"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one operator input waiting in the queue.
type Event struct {
	Kind  EventKind
	X, Y  float64
	World models.Coord
}

// Outcome pairs a processed event with its result or error.
type Outcome struct {
	Event  Event
	Result *ClickResult
	Err    error
}

// Submit queues an event. Clicks arriving before reconstruction has finished
// are refused rather than queued.
func (c *Controller) Submit(ev Event) error {
	if err := c.state.atLeast("click", Reconstructed); err != nil {
		return err
	}
	if ev.Kind != PixelClick && ev.Kind != WorldClick {
		return fmt.Errorf("unknown event kind %v", ev.Kind)
	}
	c.queue = append(c.queue, ev)
	return nil
}

// Pending returns the number of queued events.
func (c *Controller) Pending() int {
	return len(c.queue)
}

// Step processes the oldest queued event. It reports false when the queue
// is empty.
func (c *Controller) Step() (Outcome, bool) {
	if len(c.queue) == 0 {
		return Outcome{}, false
	}
	ev := c.queue[0]
	c.queue = c.queue[1:]

	res, err := c.handle(ev)
	if err != nil {
		log.WithFields(log.Fields{
			"kind":  ev.Kind,
			"error": err,
		}).Warn("click rejected")
	}
	return Outcome{Event: ev, Result: res, Err: err}, true
}

// Drain processes every queued event in order, one at a time.
func (c *Controller) Drain() []Outcome {
	var out []Outcome
	for {
		o, ok := c.Step()
		if !ok {
			return out
		}
		out = append(out, o)
	}
}

// handle resolves the click, computes its own curve and critical height and
// only then grows the population, so a failing click leaves no trace.
func (c *Controller) handle(ev Event) (*ClickResult, error) {
	var (
		sample *models.Sample
		err    error
	)
	switch ev.Kind {
	case PixelClick:
		sample, err = c.sampler.Resolve(ev.X, ev.Y)
	case WorldClick:
		sample, err = c.sampler.ResolveWorld(ev.World)
	}
	if err != nil {
		return nil, err
	}

	avg := sample.Average()
	res, err := c.extractor.Extract(c.sampler.Heights(), avg)
	if err != nil {
		return nil, fmt.Errorf("click at (%.2f, %.2f): %w", sample.World.Lon, sample.World.Lat, err)
	}

	if err := c.sampler.Add(sample); err != nil {
		return nil, err
	}
	c.record.AddCoord(sample.World)

	result := &ClickResult{
		Sample:           sample,
		Average:          avg,
		Curve:            res.Curve,
		CriticalHeightMm: res.CriticalHeightMm,
	}
	c.clicks = append(c.clicks, result)
	c.state = Sampled

	log.WithFields(log.Fields{
		"click":  len(c.clicks),
		"grid":   fmt.Sprintf("(%d,%d)", sample.GridX, sample.GridY),
		"h_crit": fmt.Sprintf("%.1f Mm", res.CriticalHeightMm),
	}).Info("click accepted")
	return result, nil
}

// Replay restores a session from a record: sources, crop, reconstruction and
// every stored click, rebuilt in that order. The controller starts over with
// the record's parameters and id. A stored click that no longer resolves
// stops the replay with its error; the outcomes up to it are returned.
func (c *Controller) Replay(r *Record) ([]Outcome, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.CropArea == nil {
		return nil, fmt.Errorf("%w: session record has no crop area", models.ErrGeometry)
	}

	c.Reset()
	clicks := r.Clicks()
	if r.SessionID != "" {
		c.record.SessionID = r.SessionID
	}
	c.record.Nr = r.Nr
	c.record.Rss = r.Rss
	c.record.KeyDI = r.KeyDI
	c.record.HThreshold = r.HThreshold

	if err := c.SetSources(Sources{Detail: r.DetailPath, Magnetogram: r.MagnetogramPath, Synoptic: r.SynopticPath}); err != nil {
		return nil, err
	}
	if err := c.Crop(*r.CropArea); err != nil {
		return nil, err
	}
	if err := c.Reconstruct(); err != nil {
		return nil, err
	}
	for _, w := range clicks {
		if err := c.Submit(Event{Kind: WorldClick, World: w}); err != nil {
			return nil, err
		}
	}

	var outcomes []Outcome
	for i := 0; ; i++ {
		o, ok := c.Step()
		if !ok {
			break
		}
		outcomes = append(outcomes, o)
		if o.Err != nil {
			c.queue = nil
			return outcomes, fmt.Errorf("stored click %d of %d at (%.2f, %.2f): %w",
				i+1, len(clicks), o.Event.World.Lon, o.Event.World.Lat, o.Err)
		}
	}
	log.WithFields(log.Fields{
		"session":  c.record.SessionID,
		"stored":   len(clicks),
		"accepted": len(c.clicks),
	}).Info("session replayed")
	return outcomes, nil
}
