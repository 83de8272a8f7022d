// Package interpolation turns discrete decay-index profiles into dense curves
// and finds the critical height where a curve crosses a key decay index.
package interpolation

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"decayindex/internal/models"
)

// MinPoints is the smallest profile a cubic interpolant is fitted to.
const MinPoints = 4

// Params holds the parameters for critical-height extraction
type Params struct {
	KeyDecayIndex float64 // Decay index whose crossing defines the critical height
	InitialGuess  float64 // Secant starting height in Mm
	Tolerance     float64 // Absolute step tolerance in Mm
	MaxIterations int     // Secant iteration limit
	DensePoints   int     // Samples of the densified curve
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		KeyDecayIndex: 1.5,
		InitialGuess:  1.0,
		Tolerance:     1.48e-8,
		MaxIterations: 50,
		DensePoints:   1000,
	}
}

// Curve is a profile resampled on a uniform height axis.
type Curve struct {
	HeightMm []float64
	Index    []float64
}

// Result is the outcome of extracting one profile.
type Result struct {
	Curve            Curve
	CriticalHeightMm float64
	Iterations       int
}

// Extractor fits cubic interpolants to decay-index profiles and root-finds
// the key decay index on them.
type Extractor struct {
	params Params
}

// NewExtractor creates an extractor after checking its parameters.
func NewExtractor(params Params) (*Extractor, error) {
	if params.DensePoints < 2 {
		return nil, fmt.Errorf("dense curve needs at least 2 points, got %d", params.DensePoints)
	}
	if params.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", params.MaxIterations)
	}
	if !(params.Tolerance > 0) {
		return nil, fmt.Errorf("tolerance must be positive, got %g", params.Tolerance)
	}
	return &Extractor{params: params}, nil
}

// Params returns the extractor parameters.
func (e *Extractor) Params() Params {
	return e.params
}

// Fit builds the not-a-knot cubic interpolant of a profile.
func (e *Extractor) Fit(heightMm, profile []float64) (*interp.NotAKnotCubic, error) {
	if len(heightMm) != len(profile) {
		return nil, fmt.Errorf("%w: %d heights for %d decay-index values", models.ErrGeometry, len(heightMm), len(profile))
	}
	if len(heightMm) < MinPoints {
		return nil, fmt.Errorf("%w: cubic interpolation needs %d heights, got %d", models.ErrGeometry, MinPoints, len(heightMm))
	}
	for k := 1; k < len(heightMm); k++ {
		if !(heightMm[k] > heightMm[k-1]) {
			return nil, fmt.Errorf("%w: heights not strictly increasing at %d", models.ErrGeometry, k)
		}
	}
	if !models.IsFinite(profile) || !models.IsFinite(heightMm) {
		return nil, fmt.Errorf("%w: profile contains non-finite values", models.ErrNonFinite)
	}

	var spline interp.NotAKnotCubic
	if err := spline.Fit(heightMm, profile); err != nil {
		return nil, fmt.Errorf("%w: cubic fit: %v", models.ErrNumerical, err)
	}
	return &spline, nil
}

// Densify resamples a profile on DensePoints uniform heights from 0 to the
// floor of its highest height.
func (e *Extractor) Densify(heightMm, profile []float64) (Curve, error) {
	spline, err := e.Fit(heightMm, profile)
	if err != nil {
		return Curve{}, err
	}
	return e.densify(spline, heightMm), nil
}

func (e *Extractor) densify(spline interp.Predictor, heightMm []float64) Curve {
	top := math.Floor(heightMm[len(heightMm)-1])
	curve := Curve{
		HeightMm: floats.Span(make([]float64, e.params.DensePoints), 0, top),
		Index:    make([]float64, e.params.DensePoints),
	}
	for i, h := range curve.HeightMm {
		curve.Index[i] = spline.Predict(h)
	}
	return curve
}

// CriticalHeight returns the height at which the interpolated profile equals
// KeyDecayIndex. The secant search starts at InitialGuess and returns the
// root it converges to, which need not be the only crossing.
func (e *Extractor) CriticalHeight(heightMm, profile []float64) (float64, error) {
	res, err := e.Extract(heightMm, profile)
	if err != nil {
		return 0, err
	}
	return res.CriticalHeightMm, nil
}

// Extract densifies the profile and solves for its critical height.
func (e *Extractor) Extract(heightMm, profile []float64) (*Result, error) {
	spline, err := e.Fit(heightMm, profile)
	if err != nil {
		return nil, err
	}

	lo, hi := heightMm[0], heightMm[len(heightMm)-1]
	key := e.params.KeyDecayIndex
	f := func(h float64) (float64, error) {
		if h < lo || h > hi || math.IsNaN(h) {
			return 0, fmt.Errorf("%w: secant step to %.4g Mm left the profile range [%g, %g]",
				models.ErrNumerical, h, lo, hi)
		}
		return spline.Predict(h) - key, nil
	}

	root, iter, err := Secant(f, e.params.InitialGuess, e.params.Tolerance, e.params.MaxIterations)
	if err != nil {
		return nil, fmt.Errorf("critical height for key decay index %g: %w", key, err)
	}

	log.WithFields(log.Fields{
		"key_di":     key,
		"h_crit":     fmt.Sprintf("%.2f", root),
		"iterations": iter,
	}).Debug("critical height found")

	return &Result{
		Curve:            e.densify(spline, heightMm),
		CriticalHeightMm: root,
		Iterations:       iter,
	}, nil
}

// Secant finds a root of f starting from x0 without derivatives. The second
// starting point is x0 nudged by a relative and absolute 1e-4. Iteration
// stops when a step is shorter than tol.
func Secant(f func(float64) (float64, error), x0, tol float64, maxIter int) (float64, int, error) {
	const eps = 1e-4

	p0 := x0
	p1 := x0 * (1 + eps)
	if p1 >= 0 {
		p1 += eps
	} else {
		p1 -= eps
	}

	q0, err := f(p0)
	if err != nil {
		return 0, 0, err
	}
	q1, err := f(p1)
	if err != nil {
		return 0, 0, err
	}
	if math.Abs(q1) < math.Abs(q0) {
		p0, p1 = p1, p0
		q0, q1 = q1, q0
	}

	for iter := 1; iter <= maxIter; iter++ {
		if q1 == 0 {
			return p1, iter, nil
		}
		if q1 == q0 {
			return 0, iter, fmt.Errorf("%w: flat secant at %g", models.ErrNoConvergence, p1)
		}
		p := p1 - q1*(p1-p0)/(q1-q0)
		if math.Abs(p-p1) < tol {
			return p, iter, nil
		}
		p0, q0 = p1, q1
		p1 = p
		if q1, err = f(p1); err != nil {
			return 0, iter, err
		}
	}
	return 0, maxIter, fmt.Errorf("%w: no root within %d iterations", models.ErrNoConvergence, maxIter)
}
