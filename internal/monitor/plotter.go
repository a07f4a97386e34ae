package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoPasses is returned when there is nothing to plot.
var ErrNoPasses = errors.New("no passes recorded")

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 5 * vg.Inch
)

var seriesColors = map[string]color.Color{
	"visited":   color.RGBA{R: 31, G: 119, B: 180, A: 255},
	"selected":  color.RGBA{R: 44, G: 160, B: 44, A: 255},
	"requested": color.RGBA{R: 214, G: 39, B: 40, A: 255},
	"pending":   color.RGBA{R: 255, G: 127, B: 14, A: 255},
}

// passPlot builds a line plot of tile counts per pass.
func passPlot(passes []PassSnapshot) (*plot.Plot, error) {
	if len(passes) == 0 {
		return nil, ErrNoPasses
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Traversal passes (run %s)", shortRunID(passes[len(passes)-1].RunID))
	p.X.Label.Text = "Pass"
	p.Y.Label.Text = "Tiles"

	series := []struct {
		name  string
		value func(PassSnapshot) int
	}{
		{"visited", func(s PassSnapshot) int { return s.Visited }},
		{"selected", func(s PassSnapshot) int { return s.Selected }},
		{"requested", func(s PassSnapshot) int { return s.Requested }},
		{"pending", func(s PassSnapshot) int { return s.Pending }},
	}
	for _, s := range series {
		pts := make(plotter.XYs, len(passes))
		for i, snap := range passes {
			pts[i].X = float64(snap.Index)
			pts[i].Y = float64(s.value(snap))
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("%s line: %w", s.name, err)
		}
		line.Color = seriesColors[s.name]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SavePassPlot writes a PNG plot of passes to path, creating parent
// directories as needed.
func SavePassPlot(passes []PassSnapshot, path string) error {
	p, err := passPlot(passes)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create plot dir: %w", err)
		}
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("save pass plot: %w", err)
	}
	return nil
}

// WritePassPlot renders the plot as PNG to w.
func WritePassPlot(passes []PassSnapshot, w io.Writer) error {
	p, err := passPlot(passes)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("render pass plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
