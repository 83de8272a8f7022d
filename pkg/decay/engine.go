// Package decay derives the magnetic decay index n(h) = -d ln B_h / d ln h
// from a reconstructed field volume.
package decay

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"decayindex/internal/models"
)

// HorizontalField returns sqrt(b_theta^2 + b_phi^2) for every cell, in the
// same flat (lon, lat, radial) order as the volume.
func HorizontalField(v *models.FieldVolume) []float64 {
	bh := make([]float64, len(v.BTheta))
	for i := range bh {
		bh[i] = math.Sqrt(v.BTheta[i]*v.BTheta[i] + v.BPhi[i]*v.BPhi[i])
	}
	return bh
}

// Compute builds the decay-index volume from a field volume and its height
// axis (heightMm[k] is the height of radial layer k, heightMm[0] == 0).
//
// The photospheric layer is dropped before differencing because ln(0) is
// undefined there. Entry k >= 1 of each column holds the forward difference
// between layers k and k+1; entry 0 is padded with 0. The outermost layer has
// no forward difference, so the result covers the first NR-1 heights.
func Compute(v *models.FieldVolume, heightMm []float64) (*models.DecayIndexVolume, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if len(heightMm) != v.NR {
		return nil, fmt.Errorf("%w: %d heights for %d radial layers", models.ErrGeometry, len(heightMm), v.NR)
	}
	if heightMm[0] != 0 {
		return nil, fmt.Errorf("%w: height axis starts at %g Mm, want 0", models.ErrGeometry, heightMm[0])
	}

	nOut := v.NR - 1

	// d ln h is shared by every column
	dlnH := make([]float64, nOut)
	for k := 1; k < nOut; k++ {
		dlnH[k] = math.Log(heightMm[k+1]) - math.Log(heightMm[k])
		if !(dlnH[k] > 0) {
			return nil, fmt.Errorf("%w: height axis not strictly increasing at layer %d", models.ErrGeometry, k+1)
		}
	}

	bh := HorizontalField(v)
	out := &models.DecayIndexVolume{
		Index:    make([]float64, v.NLon*v.NLat*nOut),
		HeightMm: append([]float64(nil), heightMm[:nOut]...),
		NLon:     v.NLon,
		NLat:     v.NLat,
		NR:       nOut,
	}

	lnB := make([]float64, v.NR)
	for i := 0; i < v.NLon; i++ {
		for j := 0; j < v.NLat; j++ {
			for k := 1; k < v.NR; k++ {
				b := bh[v.Index(i, j, k)]
				if b == 0 {
					return nil, fmt.Errorf("%w: horizontal field is zero at cell (%d,%d) layer %d",
						models.ErrNonFinite, i, j, k)
				}
				lnB[k] = math.Log(b)
			}

			base := (i*v.NLat + j) * nOut
			for k := 1; k < nOut; k++ {
				n := -(lnB[k+1] - lnB[k]) / dlnH[k]
				if math.IsNaN(n) || math.IsInf(n, 0) {
					return nil, fmt.Errorf("%w: decay index at cell (%d,%d) layer %d is %g",
						models.ErrNonFinite, i, j, k, n)
				}
				out.Index[base+k] = n
			}
		}
	}

	log.WithFields(log.Fields{
		"grid":  fmt.Sprintf("%dx%dx%d", out.NLon, out.NLat, out.NR),
		"topMm": fmt.Sprintf("%.1f", out.HeightMm[nOut-1]),
	}).Info("decay index computed")

	return out, nil
}
