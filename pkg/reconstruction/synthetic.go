package reconstruction

import (
	"fmt"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
	"gonum.org/v1/gonum/floats"

	"decayindex/internal/models"
)

// noiseFrequency scales grid indices before sampling simplex noise so that
// neighbouring cells stay correlated.
const noiseFrequency = 0.15

// SyntheticProducer builds an analytic field whose horizontal strength falls
// off as B0 * (d/(d+h))^n above each cell. The decay index of that profile
// is n*h/(d+h), so it crosses n/2 exactly at h = d.
//
// Noise perturbs the per-cell depth d by up to ±Noise*DepthMm and rotates the
// horizontal field direction; with Noise == 0 every column is identical.
type SyntheticProducer struct {
	NLon       int
	NLat       int
	DepthMm    float64
	Exponent   float64
	Noise      float64
	Seed       int64
	FieldGauss float64
}

// Produce lays the field on rg = linspace(0, ln(rss), nr+1).
func (p *SyntheticProducer) Produce(in Input) (*models.FieldVolume, error) {
	if p.NLon < 2 || p.NLat < 2 {
		return nil, fmt.Errorf("%w: synthetic grid %dx%d is too small", models.ErrGeometry, p.NLon, p.NLat)
	}
	if p.DepthMm <= 0 || p.Exponent <= 0 {
		return nil, fmt.Errorf("%w: synthetic depth and exponent must be positive", models.ErrGeometry)
	}
	if p.Noise < 0 || p.Noise >= 1 {
		return nil, fmt.Errorf("%w: synthetic noise %g outside [0, 1)", models.ErrGeometry, p.Noise)
	}

	nr := in.Nr + 1
	rg := make([]float64, nr)
	floats.Span(rg, 0, math.Log(in.Rss))
	heights := HeightsMm(rg)

	b0 := p.FieldGauss
	if b0 == 0 {
		b0 = 1
	}

	noise := opensimplex.NewNormalized(p.Seed)
	volume := &models.FieldVolume{
		RadialGrid: rg,
		BTheta:     make([]float64, p.NLon*p.NLat*nr),
		BPhi:       make([]float64, p.NLon*p.NLat*nr),
		NLon:       p.NLon,
		NLat:       p.NLat,
		NR:         nr,
	}

	for i := 0; i < p.NLon; i++ {
		for j := 0; j < p.NLat; j++ {
			x, y := float64(i)*noiseFrequency, float64(j)*noiseFrequency
			depth := p.DepthMm * (1 + p.Noise*(2*noise.Eval2(x, y)-1))
			angle := 2 * math.Pi * noise.Eval2(x+100, y+100)
			if p.Noise == 0 {
				angle = math.Pi / 4
			}
			cosA, sinA := math.Cos(angle), math.Sin(angle)

			for k, h := range heights {
				bh := b0 * math.Pow(depth/(depth+h), p.Exponent)
				idx := volume.Index(i, j, k)
				volume.BTheta[idx] = bh * cosA
				volume.BPhi[idx] = bh * sinA
			}
		}
	}

	return volume, nil
}
