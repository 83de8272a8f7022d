package coords

import (
	"fmt"
	"math"
	"time"

	"decayindex/internal/models"
)

// CarringtonRate is the sidereal rotation rate of the Carrington frame in
// degrees per day.
const CarringtonRate = 14.1844

// DifferentialRotation shifts Carrington longitudes by the difference between
// the latitude-dependent sidereal rate A + B sin^2(lat) + C sin^4(lat) and
// the Carrington rate. Rates are in degrees per day.
type DifferentialRotation struct {
	A, B, C float64
}

// Howard returns the Howard et al. (1990) coefficients.
func Howard() DifferentialRotation {
	return DifferentialRotation{A: 14.713, B: -2.396, C: -1.787}
}

// Rate returns the sidereal rotation rate at a latitude in degrees.
func (d DifferentialRotation) Rate(lat float64) float64 {
	s := math.Sin(lat * math.Pi / 180)
	s2 := s * s
	return d.A + d.B*s2 + d.C*s2*s2
}

// Rotate moves a Carrington coordinate observed at from to where the same
// surface feature sits at to.
func (d DifferentialRotation) Rotate(c models.Coord, from, to time.Time) (models.Coord, error) {
	if from.IsZero() || to.IsZero() {
		return models.Coord{}, fmt.Errorf("%w: rotation needs both observation times", models.ErrGeometry)
	}
	days := to.Sub(from).Hours() / 24
	lon := c.Lon + (d.Rate(c.Lat)-CarringtonRate)*days
	return models.Coord{Lon: wrapLongitude(lon), Lat: c.Lat}, nil
}
