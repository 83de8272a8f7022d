// Package visualization renders decay-index results: per-click and averaged
// height profiles as figures, and planes of the decay-index volume as images.
package visualization

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"decayindex/pkg/interpolation"
)

// Figure size and axis range shared by both profile figures
const (
	FigureWidth  = 8 * vg.Inch
	FigureHeight = 6 * vg.Inch
	YMax         = 4.5
)

var critColor = color.RGBA{R: 220, A: 255}

// Total is what the averaged-profile figure shows.
type Total struct {
	HeightMm         []float64
	Mean             []float64
	Std              []float64
	Curve            interpolation.Curve
	CriticalHeightMm float64
	KeyDI            float64
}

func newProfilePlot(title string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "height to solar surface [Mm]"
	p.Y.Label.Text = "decay index"
	p.Y.Min = 0
	p.Y.Max = YMax
	p.Add(plotter.NewGrid())
	return p
}

func curveXYs(c interpolation.Curve) plotter.XYs {
	pts := make(plotter.XYs, len(c.HeightMm))
	for i := range pts {
		pts[i].X = c.HeightMm[i]
		pts[i].Y = c.Index[i]
	}
	return pts
}

// EachFigure draws the densified profile of every click.
func EachFigure(curves []interpolation.Curve) (*plot.Plot, error) {
	p := newProfilePlot("Decay Index at each point")
	for i, c := range curves {
		line, err := plotter.NewLine(curveXYs(c))
		if err != nil {
			return nil, fmt.Errorf("click %d curve: %w", i, err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
	}
	return p, nil
}

type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

// TotalFigure draws the averaged densified profile, the spread of the
// population at each discrete height and the critical-height marker.
func TotalFigure(t Total) (*plot.Plot, error) {
	if len(t.HeightMm) != len(t.Mean) || len(t.Mean) != len(t.Std) {
		return nil, fmt.Errorf("mean and std must have one value per height")
	}
	p := newProfilePlot("Averaged Decay Index")

	line, err := plotter.NewLine(curveXYs(t.Curve))
	if err != nil {
		return nil, fmt.Errorf("mean curve: %w", err)
	}
	line.Color = color.Black
	p.Add(line)

	pts := errorPoints{
		XYs:     make(plotter.XYs, len(t.HeightMm)),
		YErrors: make(plotter.YErrors, len(t.HeightMm)),
	}
	for i := range t.HeightMm {
		pts.XYs[i] = plotter.XY{X: t.HeightMm[i], Y: t.Mean[i]}
		pts.YErrors[i].Low = t.Std[i]
		pts.YErrors[i].High = t.Std[i]
	}
	bars, err := plotter.NewYErrorBars(pts)
	if err != nil {
		return nil, fmt.Errorf("error bars: %w", err)
	}
	bars.Color = color.Black
	bars.Width = vg.Points(1)
	p.Add(bars)

	marker, err := plotter.NewLine(plotter.XYs{
		{X: t.CriticalHeightMm, Y: 0},
		{X: t.CriticalHeightMm, Y: t.KeyDI},
	})
	if err != nil {
		return nil, fmt.Errorf("critical height marker: %w", err)
	}
	marker.Color = critColor
	p.Add(marker)

	label, err := plotter.NewLabels(plotter.XYLabels{
		XYs:    plotter.XYs{{X: t.CriticalHeightMm, Y: 2.5}},
		Labels: []string{CriticalLabel(t.CriticalHeightMm)},
	})
	if err != nil {
		return nil, fmt.Errorf("critical height label: %w", err)
	}
	label.TextStyle[0].Color = critColor
	label.TextStyle[0].XAlign = draw.XCenter
	p.Add(label)

	return p, nil
}

// CriticalLabel is the annotation text of a critical height.
func CriticalLabel(heightMm float64) string {
	return fmt.Sprintf("h_crit = %.1f Mm", heightMm)
}

// SaveFigure writes a figure; the format follows the file extension.
func SaveFigure(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating figure directory: %w", err)
	}
	if err := p.Save(FigureWidth, FigureHeight, path); err != nil {
		return fmt.Errorf("error saving figure %s: %w", path, err)
	}
	return nil
}

// SaveProfiles writes "<prefix>each.<format>" and "<prefix>total.<format>"
// and returns both paths.
func SaveProfiles(prefix, format string, curves []interpolation.Curve, t Total) (each, total string, err error) {
	eachPlot, err := EachFigure(curves)
	if err != nil {
		return "", "", err
	}
	totalPlot, err := TotalFigure(t)
	if err != nil {
		return "", "", err
	}

	each = prefix + "each." + format
	total = prefix + "total." + format
	if err := SaveFigure(eachPlot, each); err != nil {
		return "", "", err
	}
	if err := SaveFigure(totalPlot, total); err != nil {
		return "", "", err
	}
	return each, total, nil
}
