// Package sampler turns operator clicks into decay-index height profiles and
// keeps the running population of profiles collected in a session.
package sampler

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"decayindex/internal/models"
	"decayindex/pkg/coords"
)

// NeighbourhoodSize is the edge length of the block of grid cells read
// around each click.
const NeighbourhoodSize = 2

// Locator resolves a click on the displayed raster to a pixel position on
// the synoptic grid the decay-index volume was built on.
type Locator struct {
	Display  coords.Frame
	Synoptic coords.Grid
	Rotator  coords.Rotator
}

// LocateWorld maps a world coordinate of the displayed raster onto the
// synoptic grid, correcting for rotation between the two observation times.
func (l *Locator) LocateWorld(world models.Coord) (helio models.Coord, gx, gy float64, err error) {
	hg, err := l.Display.ToHeliographic(world)
	if err != nil {
		return models.Coord{}, 0, 0, fmt.Errorf("frame transform: %w", err)
	}
	helio, err = l.Rotator.Rotate(hg, l.Display.ObsTime(), l.Synoptic.ObsTime())
	if err != nil {
		return models.Coord{}, 0, 0, fmt.Errorf("rotation correction: %w", err)
	}
	gx, gy = l.Synoptic.WorldToPixel(helio)
	return helio, gx, gy, nil
}

// Sampler reads neighbourhood profiles out of a decay-index volume and feeds
// them into a Population.
type Sampler struct {
	volume  *models.DecayIndexVolume
	locator *Locator
	limit   int
	pop     *Population
}

// NewSampler creates a sampler over the heights of volume that are at most
// maxHeightMm.
func NewSampler(volume *models.DecayIndexVolume, locator *Locator, maxHeightMm float64) (*Sampler, error) {
	limit := volume.LimitIndex(maxHeightMm)
	if limit == 0 {
		return nil, fmt.Errorf("%w: no heights at or below %g Mm", models.ErrGeometry, maxHeightMm)
	}
	return &Sampler{
		volume:  volume,
		locator: locator,
		limit:   limit,
		pop:     NewPopulation(limit),
	}, nil
}

// Heights returns the height axis of every profile the sampler produces.
func (s *Sampler) Heights() []float64 {
	return s.volume.HeightMm[:s.limit]
}

// Population returns the running population.
func (s *Sampler) Population() *Population {
	return s.pop
}

// Neighbourhood reads the NeighbourhoodSize x NeighbourhoodSize block of
// profiles whose lower corner is the truncated grid position (gx, gy).
// The population is not touched.
func (s *Sampler) Neighbourhood(gx, gy float64) (ix, iy int, profiles [][]float64, err error) {
	fx, fy := math.Floor(gx), math.Floor(gy)
	if math.IsNaN(fx) || math.IsNaN(fy) ||
		fx < 0 || fy < 0 ||
		fx+NeighbourhoodSize > float64(s.volume.NLon) ||
		fy+NeighbourhoodSize > float64(s.volume.NLat) {
		return 0, 0, nil, fmt.Errorf("%w: grid position (%.2f, %.2f) needs cells outside %dx%d",
			models.ErrOutOfRange, gx, gy, s.volume.NLon, s.volume.NLat)
	}

	ix, iy = int(fx), int(fy)
	profiles = make([][]float64, NeighbourhoodSize*NeighbourhoodSize)
	for n := range profiles {
		i, j := NeighbourCell(ix, iy, n)
		profiles[n] = s.volume.Profile(i, j, s.limit)
	}
	return ix, iy, profiles, nil
}

// NeighbourCell returns the grid cell of the n-th profile of the block whose
// lower corner is (ix, iy). Profiles are ordered i-major.
func NeighbourCell(ix, iy, n int) (i, j int) {
	return ix + n/NeighbourhoodSize, iy + n%NeighbourhoodSize
}

// Resolve turns a click on the displayed raster into a Sample without adding
// it to the population. Pixels off the raster are geometry errors.
func (s *Sampler) Resolve(px, py float64) (*models.Sample, error) {
	if !s.locator.Display.Contains(px, py) {
		return nil, fmt.Errorf("%w: pixel (%.2f, %.2f) is outside the displayed raster",
			models.ErrGeometry, px, py)
	}
	world := s.locator.Display.PixelToWorld(px, py)
	return s.ResolveWorld(world)
}

// ResolveWorld is Resolve for a click already expressed in world coordinates,
// as stored in session records.
func (s *Sampler) ResolveWorld(world models.Coord) (*models.Sample, error) {
	helio, gx, gy, err := s.locator.LocateWorld(world)
	if err != nil {
		return nil, err
	}
	ix, iy, profiles, err := s.Neighbourhood(gx, gy)
	if err != nil {
		return nil, err
	}
	return &models.Sample{
		World:        world,
		Heliographic: helio,
		GridX:        ix,
		GridY:        iy,
		Profiles:     profiles,
	}, nil
}

// Add appends every neighbour profile of the sample to the population
// individually.
func (s *Sampler) Add(sample *models.Sample) error {
	if err := s.pop.Add(sample.Profiles...); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"lon":      fmt.Sprintf("%.2f", sample.World.Lon),
		"lat":      fmt.Sprintf("%.2f", sample.World.Lat),
		"grid":     fmt.Sprintf("(%d,%d)", sample.GridX, sample.GridY),
		"profiles": s.pop.Len(),
	}).Debug("sample added")
	return nil
}
