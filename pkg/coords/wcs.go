// Package coords holds the coordinate contracts the sampler relies on: a
// displayed raster that maps pixels to world coordinates, a transform to the
// heliographic (Carrington) frame, a solar-rotation correction, and the
// synoptic grid that maps heliographic coordinates back to pixels.
//
// Full helioprojective geometry lives outside this module; any Frame
// implementation can be plugged in. The concrete types here cover rasters
// that are already in Carrington longitude/latitude.
package coords

import (
	"fmt"
	"math"
	"time"

	"decayindex/internal/models"
	"decayindex/pkg/config"
)

// Frame is a displayed raster the operator clicks on.
type Frame interface {
	// PixelToWorld converts 0-based pixel coordinates to world coordinates.
	PixelToWorld(x, y float64) models.Coord

	// Contains reports whether a 0-based pixel position lies on the raster.
	Contains(x, y float64) bool

	// ToHeliographic converts a world coordinate of this frame to Carrington
	// longitude/latitude in degrees at the frame's observation time.
	ToHeliographic(c models.Coord) (models.Coord, error)

	// ObsTime is the observation time of the raster.
	ObsTime() time.Time
}

// Grid maps heliographic coordinates onto a raster's pixel grid.
type Grid interface {
	WorldToPixel(c models.Coord) (x, y float64)
	ObsTime() time.Time
}

// Rotator moves a heliographic coordinate from one time to another to
// follow solar rotation.
type Rotator interface {
	Rotate(c models.Coord, from, to time.Time) (models.Coord, error)
}

// LinearWCS is a raster with a linear world coordinate system:
// world = CRVAL + (pixel - (CRPIX-1)) * CDELT on each axis.
type LinearWCS struct {
	CRPIX1, CRPIX2 float64
	CDELT1, CDELT2 float64
	CRVAL1, CRVAL2 float64
	NAXIS1, NAXIS2 int
	Time           time.Time
}

// FromConfig builds a LinearWCS from its configuration block.
func FromConfig(w config.WCS) (*LinearWCS, error) {
	l := &LinearWCS{
		CRPIX1: w.CRPIX1, CRPIX2: w.CRPIX2,
		CDELT1: w.CDELT1, CDELT2: w.CDELT2,
		CRVAL1: w.CRVAL1, CRVAL2: w.CRVAL2,
		NAXIS1: w.NAXIS1, NAXIS2: w.NAXIS2,
		Time: w.ObsTime,
	}
	if l.CDELT1 == 0 || l.CDELT2 == 0 {
		return nil, fmt.Errorf("%w: raster has zero pixel scale", models.ErrGeometry)
	}
	if l.NAXIS1 <= 0 || l.NAXIS2 <= 0 {
		return nil, fmt.Errorf("%w: raster has empty extent %dx%d", models.ErrGeometry, l.NAXIS1, l.NAXIS2)
	}
	return l, nil
}

// PixelToWorld converts 0-based pixel coordinates to world coordinates.
func (w *LinearWCS) PixelToWorld(x, y float64) models.Coord {
	return models.Coord{
		Lon: w.CRVAL1 + (x-(w.CRPIX1-1))*w.CDELT1,
		Lat: w.CRVAL2 + (y-(w.CRPIX2-1))*w.CDELT2,
	}
}

// WorldToPixel converts world coordinates to 0-based pixel coordinates.
func (w *LinearWCS) WorldToPixel(c models.Coord) (x, y float64) {
	x = (c.Lon-w.CRVAL1)/w.CDELT1 + (w.CRPIX1 - 1)
	y = (c.Lat-w.CRVAL2)/w.CDELT2 + (w.CRPIX2 - 1)
	return x, y
}

// ObsTime returns the raster's observation time.
func (w *LinearWCS) ObsTime() time.Time {
	return w.Time
}

// Contains reports whether a pixel position lies on the raster.
func (w *LinearWCS) Contains(x, y float64) bool {
	return x >= -0.5 && y >= -0.5 && x <= float64(w.NAXIS1)-0.5 && y <= float64(w.NAXIS2)-0.5
}

// Submap returns the raster cut to the rectangle spanned by the bottom-left
// and top-right world corners. Both corners must fall on the raster.
func (w *LinearWCS) Submap(blc, trc models.Coord) (*LinearWCS, error) {
	x0, y0 := w.WorldToPixel(blc)
	x1, y1 := w.WorldToPixel(trc)
	if !w.Contains(x0, y0) || !w.Contains(x1, y1) {
		return nil, fmt.Errorf("%w: crop [%v, %v] outside %dx%d raster",
			models.ErrGeometry, blc, trc, w.NAXIS1, w.NAXIS2)
	}

	px0 := math.Max(0, math.Round(math.Min(x0, x1)))
	py0 := math.Max(0, math.Round(math.Min(y0, y1)))
	px1 := math.Min(float64(w.NAXIS1-1), math.Round(math.Max(x0, x1)))
	py1 := math.Min(float64(w.NAXIS2-1), math.Round(math.Max(y0, y1)))

	sub := *w
	sub.CRPIX1 = w.CRPIX1 - px0
	sub.CRPIX2 = w.CRPIX2 - py0
	sub.NAXIS1 = int(px1-px0) + 1
	sub.NAXIS2 = int(py1-py0) + 1
	return &sub, nil
}

// CarringtonFrame is a displayed raster whose world coordinates are already
// Carrington longitude/latitude in degrees.
type CarringtonFrame struct {
	*LinearWCS
}

// ToHeliographic is the identity for a Carrington raster.
func (f CarringtonFrame) ToHeliographic(c models.Coord) (models.Coord, error) {
	if c.Lat < -90 || c.Lat > 90 {
		return models.Coord{}, fmt.Errorf("%w: latitude %g off the solar disk", models.ErrGeometry, c.Lat)
	}
	return models.Coord{Lon: wrapLongitude(c.Lon), Lat: c.Lat}, nil
}

// Crop builds the bottom-left and top-right corners of a crop rectangle
// centered on center. Corners are truncated to whole units.
func Crop(center models.Coord, height, width float64) (blc, trc models.Coord) {
	cLon, cLat := math.Trunc(center.Lon), math.Trunc(center.Lat)
	halfW, halfH := math.Trunc(width/2), math.Trunc(height/2)
	blc = models.Coord{Lon: cLon - halfW, Lat: cLat - halfH}
	trc = models.Coord{Lon: cLon + halfW, Lat: cLat + halfH}
	return blc, trc
}

func wrapLongitude(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	return lon
}
