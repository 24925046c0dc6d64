// Package report renders the run's progress chart.
package report

import (
	"bytes"
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/cwbudde/swarmcal/internal/fit"
	"github.com/cwbudde/swarmcal/internal/store"
)

// DefaultFileName is the chart's name inside the run directory.
const DefaultFileName = "progress.png"

// Plotter draws every trial's error and the best-so-far curve against the
// trial index.
type Plotter struct {
	Path  string
	Title string

	Width  vg.Length
	Height vg.Length
}

// NewPlotter creates a 6x4 inch PNG plotter.
func NewPlotter(path, title string) *Plotter {
	return &Plotter{
		Path:   path,
		Title:  title,
		Width:  6 * vg.Inch,
		Height: 4 * vg.Inch,
	}
}

// Plot rewrites the chart. Failed trials are left out; the error axis is
// logarithmic whenever the plotted errors are positive and not all equal.
func (p *Plotter) Plot(records []fit.TrialRecord) (err error) {
	defer func() {
		// gonum/plot reports some degenerate axis ranges by panicking.
		if r := recover(); r != nil {
			err = fmt.Errorf("plot panicked: %v", r)
		}
	}()

	trials, best := series(records)
	if len(trials) == 0 {
		return nil
	}

	pl := plot.New()
	pl.Title.Text = p.Title
	pl.X.Label.Text = "Trial"
	pl.Y.Label.Text = "Error"
	if useLogScale(trials) {
		pl.Y.Scale = plot.LogScale{}
		pl.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	scatter, err := plotter.NewScatter(trials)
	if err != nil {
		return fmt.Errorf("failed to build trial series: %w", err)
	}
	scatter.GlyphStyle.Radius = vg.Points(1.5)

	bestLine, err := plotter.NewLine(best)
	if err != nil {
		return fmt.Errorf("failed to build best series: %w", err)
	}
	bestLine.LineStyle.Width = vg.Points(1.5)

	pl.Add(scatter, bestLine)
	pl.Legend.Add("trial", scatter)
	pl.Legend.Add("best", bestLine)
	pl.Legend.Top = true

	w, err := pl.WriterTo(p.Width, p.Height, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to encode plot: %w", err)
	}
	return store.WriteFileAtomic(p.Path, buf.Bytes())
}

// series returns the finite trial errors and the running minimum, both
// indexed by trial.
func series(records []fit.TrialRecord) (trials, best plotter.XYs) {
	running := math.Inf(1)
	for _, rec := range records {
		e := rec.Error()
		if math.IsInf(e, 0) || math.IsNaN(e) {
			continue
		}
		x := float64(rec.Index)
		trials = append(trials, plotter.XY{X: x, Y: e})
		if e <= running {
			running = e
		}
		best = append(best, plotter.XY{X: x, Y: running})
	}
	return trials, best
}

func useLogScale(xys plotter.XYs) bool {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, xy := range xys {
		if xy.Y <= 0 {
			return false
		}
		lo = math.Min(lo, xy.Y)
		hi = math.Max(hi, xy.Y)
	}
	return lo < hi
}
