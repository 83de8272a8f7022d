package models

import (
	"fmt"
	"math"
)

// Coord is a coordinate pair in some raster's world frame. The units are
// those of the frame it came from: arcseconds for helioprojective rasters,
// degrees for heliographic ones.
type Coord struct {
	Lon float64
	Lat float64
}

// FieldVolume is the output of one potential-field reconstruction run.
// It is never mutated after the producer returns it.
type FieldVolume struct {
	// RadialGrid holds ln(r/R_sun) for each radial layer, strictly increasing,
	// with RadialGrid[0] == 0 at the photosphere.
	RadialGrid []float64

	// BTheta and BPhi are the horizontal field components in Gauss, stored
	// flat in (lon, lat, radial) order. See Index.
	BTheta []float64
	BPhi   []float64

	// NLon, NLat and NR are the grid extents.
	NLon int
	NLat int
	NR   int
}

// Index returns the flat offset of cell (i, j, k).
func (v *FieldVolume) Index(i, j, k int) int {
	return (i*v.NLat+j)*v.NR + k
}

// Validate checks the extent and radial-grid invariants.
func (v *FieldVolume) Validate() error {
	if v.NLon <= 0 || v.NLat <= 0 || v.NR < 3 {
		return fmt.Errorf("%w: field volume extent %dx%dx%d", ErrGeometry, v.NLon, v.NLat, v.NR)
	}
	if len(v.RadialGrid) != v.NR {
		return fmt.Errorf("%w: radial grid has %d entries, volume has %d layers", ErrGeometry, len(v.RadialGrid), v.NR)
	}
	n := v.NLon * v.NLat * v.NR
	if len(v.BTheta) != n || len(v.BPhi) != n {
		return fmt.Errorf("%w: component arrays have %d/%d values, want %d", ErrGeometry, len(v.BTheta), len(v.BPhi), n)
	}
	if v.RadialGrid[0] != 0 {
		return fmt.Errorf("%w: radial grid starts at %g, want 0 (photosphere)", ErrGeometry, v.RadialGrid[0])
	}
	for k := 1; k < v.NR; k++ {
		if !(v.RadialGrid[k] > v.RadialGrid[k-1]) {
			return fmt.Errorf("%w: radial grid not strictly increasing at layer %d", ErrGeometry, k)
		}
	}
	return nil
}

// DecayIndexVolume is the decay index over the horizontal grid and height.
// Index and HeightMm share the radial length and Index[..., 0] is always 0.
type DecayIndexVolume struct {
	// Index is stored flat in (lon, lat, radial) order, like FieldVolume.
	Index []float64

	// HeightMm is the height above the photosphere in megameters of each
	// radial entry of Index.
	HeightMm []float64

	NLon int
	NLat int
	NR   int
}

// At returns the decay index of cell (i, j, k).
func (v *DecayIndexVolume) At(i, j, k int) float64 {
	return v.Index[(i*v.NLat+j)*v.NR+k]
}

// Profile returns a copy of the first n heights of column (i, j).
func (v *DecayIndexVolume) Profile(i, j, n int) []float64 {
	off := (i*v.NLat + j) * v.NR
	out := make([]float64, n)
	copy(out, v.Index[off:off+n])
	return out
}

// HeightSlice returns the (lon, lat) plane at radial index k in row-major
// order with lon varying fastest, which is how the map images are laid out.
func (v *DecayIndexVolume) HeightSlice(k int) []float64 {
	out := make([]float64, v.NLon*v.NLat)
	for j := 0; j < v.NLat; j++ {
		for i := 0; i < v.NLon; i++ {
			out[j*v.NLon+i] = v.At(i, j, k)
		}
	}
	return out
}

// LimitIndex returns how many leading heights are <= maxHeight.
func (v *DecayIndexVolume) LimitIndex(maxHeight float64) int {
	n := 0
	for n < len(v.HeightMm) && v.HeightMm[n] <= maxHeight {
		n++
	}
	return n
}

// Sample is one operator click resolved against a DecayIndexVolume.
type Sample struct {
	// World is the clicked coordinate in the displayed raster's frame.
	World Coord

	// Heliographic is World after the frame transform and rotation correction.
	Heliographic Coord

	// GridX, GridY is the truncated index into the volume's horizontal grid.
	GridX int
	GridY int

	// Profiles holds one height profile per neighbour cell.
	Profiles [][]float64
}

// Average returns the mean of the neighbour profiles at each height.
func (s *Sample) Average() []float64 {
	if len(s.Profiles) == 0 {
		return nil
	}
	out := make([]float64, len(s.Profiles[0]))
	for _, p := range s.Profiles {
		for k, val := range p {
			out[k] += val
		}
	}
	for k := range out {
		out[k] /= float64(len(s.Profiles))
	}
	return out
}

// IsFinite reports whether every value is a finite number.
func IsFinite(values []float64) bool {
	for _, val := range values {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return false
		}
	}
	return true
}
