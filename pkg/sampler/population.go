package sampler

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"decayindex/internal/models"
)

// Population is the growing set of height profiles collected in a session.
// Profiles are only ever appended.
type Population struct {
	length   int
	profiles [][]float64
}

// NewPopulation creates an empty population of profiles with length heights.
func NewPopulation(length int) *Population {
	return &Population{length: length}
}

// Add appends profiles. Either all are appended or, on error, none.
func (p *Population) Add(profiles ...[]float64) error {
	for _, prof := range profiles {
		if len(prof) != p.length {
			return fmt.Errorf("%w: profile has %d heights, population uses %d", models.ErrGeometry, len(prof), p.length)
		}
		if !models.IsFinite(prof) {
			return fmt.Errorf("%w: profile contains non-finite decay index", models.ErrNonFinite)
		}
	}
	for _, prof := range profiles {
		p.profiles = append(p.profiles, append([]float64(nil), prof...))
	}
	return nil
}

// Len returns the number of profiles.
func (p *Population) Len() int {
	return len(p.profiles)
}

// Profiles returns the profiles in insertion order. Callers must not modify them.
func (p *Population) Profiles() [][]float64 {
	return p.profiles
}

// Matrix returns the population as a profiles x heights matrix.
func (p *Population) Matrix() (*mat.Dense, error) {
	if len(p.profiles) == 0 {
		return nil, models.ErrEmptyPopulation
	}
	data := make([]float64, 0, len(p.profiles)*p.length)
	for _, prof := range p.profiles {
		data = append(data, prof...)
	}
	return mat.NewDense(len(p.profiles), p.length, data), nil
}

// MeanStd returns the mean and the population standard deviation at every
// height.
func (p *Population) MeanStd() (mean, std []float64, err error) {
	m, err := p.Matrix()
	if err != nil {
		return nil, nil, err
	}
	rows, cols := m.Dims()
	mean = make([]float64, cols)
	std = make([]float64, cols)
	col := make([]float64, rows)
	for k := 0; k < cols; k++ {
		mat.Col(col, k, m)
		mean[k], std[k] = stat.PopMeanStdDev(col, nil)
	}
	return mean, std, nil
}
