package main

import (
	"fmt"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/trackfit/internal/trajectory"
)

// collectSeries walks the trajectory root-first and gathers the loc0 truth,
// predicted, filtered and smoothed values plus the smoothed pull.
type series struct {
	surface   []float64
	truth     []float64
	predicted []float64
	filtered  []float64
	smoothed  []float64
	pull      []float64
}

func collectSeries(sim *simulation, mt *trajectory.MultiTrajectory, leaf trajectory.Index) *series {
	var states []trajectory.TrackStateProxy
	mt.VisitBackwards(leaf, func(ts trajectory.TrackStateProxy) {
		states = append(states, ts)
	})
	// Leaf-to-root order; plots read better root-first.
	for i, j := 0, len(states)-1; i < j; i, j = i+1, j-1 {
		states[i], states[j] = states[j], states[i]
	}

	s := &series{}
	for k, ts := range states {
		truth := sim.truth[k][0]
		smoothed := ts.Smoothed().AtVec(0)
		variance := ts.SmoothedCovariance().At(0, 0)

		s.surface = append(s.surface, float64(k))
		s.truth = append(s.truth, truth)
		s.predicted = append(s.predicted, ts.Predicted().AtVec(0))
		s.filtered = append(s.filtered, ts.Filtered().AtVec(0))
		s.smoothed = append(s.smoothed, smoothed)
		if variance > 0 {
			s.pull = append(s.pull, (smoothed-truth)/math.Sqrt(variance))
		} else {
			s.pull = append(s.pull, math.NaN())
		}
	}
	return s
}

// writePullPlot saves a PNG of the smoothed loc0 pull per surface. For a
// well-behaved fit the pulls scatter around zero with unit spread.
func writePullPlot(path string, sim *simulation, mt *trajectory.MultiTrajectory, leaf trajectory.Index) error {
	s := collectSeries(sim, mt, leaf)

	p := plot.New()
	p.Title.Text = "Smoothed loc0 pull"
	p.X.Label.Text = "surface"
	p.Y.Label.Text = "(smoothed - truth) / sigma"

	pts := make(plotter.XYs, 0, len(s.pull))
	for i, pull := range s.pull {
		if math.IsNaN(pull) {
			continue
		}
		pts = append(pts, plotter.XY{X: s.surface[i], Y: pull})
	}

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return fmt.Errorf("build pull series: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line, points)

	zero, err := plotter.NewLine(plotter.XYs{
		{X: s.surface[0], Y: 0},
		{X: s.surface[len(s.surface)-1], Y: 0},
	})
	if err != nil {
		return fmt.Errorf("build zero line: %w", err)
	}
	zero.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(zero)

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save pull plot: %w", err)
	}
	return nil
}

// writeSeriesChart renders an HTML line chart comparing truth against the
// three estimate stages for loc0.
func writeSeriesChart(path string, sim *simulation, mt *trajectory.MultiTrajectory, leaf trajectory.Index) error {
	s := collectSeries(sim, mt, leaf)

	toLine := func(vals []float64) []opts.LineData {
		data := make([]opts.LineData, 0, len(vals))
		for _, v := range vals {
			data = append(data, opts.LineData{Value: v})
		}
		return data
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "fit-sim", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Track fit estimates (loc0)",
			Subtitle: fmt.Sprintf("surfaces=%d step=%.2f meas-noise=%.3f", sim.cfg.Surfaces, sim.cfg.Step, sim.cfg.MeasNoise),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	x := make([]string, len(s.surface))
	for i := range s.surface {
		x[i] = fmt.Sprintf("%d", i)
	}
	line.SetXAxis(x).
		AddSeries("truth", toLine(s.truth)).
		AddSeries("predicted", toLine(s.predicted)).
		AddSeries("filtered", toLine(s.filtered)).
		AddSeries("smoothed", toLine(s.smoothed))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()
	if err := line.Render(f); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
