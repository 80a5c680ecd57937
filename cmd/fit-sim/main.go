// Command fit-sim runs the track fitter over a synthetic trajectory: it
// propagates a straight-line truth track across a series of surfaces,
// smears 2-D measurements onto each one, runs the forward Kalman filter and
// the MBF smoother, and optionally persists and plots the result.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/fit"
	"github.com/banshee-data/trackfit/internal/monitoring"
	"github.com/banshee-data/trackfit/internal/trajdb"
	"github.com/banshee-data/trackfit/internal/trajectory"
	"github.com/banshee-data/trackfit/internal/version"
)

// simConfig holds the generator settings for one synthetic run.
type simConfig struct {
	Surfaces     int
	Step         float64
	MeasNoise    float64
	ProcessNoise float64
}

func defaultSimConfig() simConfig {
	return simConfig{
		Surfaces:     12,
		Step:         0.5,
		MeasNoise:    0.05,
		ProcessNoise: 1e-4,
	}
}

func main() {
	cfg := defaultSimConfig()
	surfaces := flag.Int("surfaces", cfg.Surfaces, "number of measurement surfaces")
	measNoise := flag.Float64("meas-noise", cfg.MeasNoise, "measurement noise sigma (both coordinates)")
	processNoise := flag.Float64("process-noise", cfg.ProcessNoise, "process noise added per transport step")
	step := flag.Float64("step", cfg.Step, "path length between surfaces")
	seed := flag.Int64("seed", 1, "random seed")
	dbPath := flag.String("db", "", "persist the trajectory to this SQLite file")
	runID := flag.String("run-id", "fit-sim", "run id recorded with persisted trajectories")
	plotPath := flag.String("plot", "", "write a smoothed-pull PNG to this path")
	htmlPath := flag.String("html", "", "write an estimate-series HTML chart to this path")
	verbose := flag.Bool("verbose", false, "log per-state fitter diagnostics")
	showVersion := flag.Bool("version", false, "print build information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("fit-sim", version.String())
		return
	}

	monitoring.Verbose = *verbose

	if *surfaces < 1 {
		log.Fatalf("need at least one surface, got %d", *surfaces)
	}

	cfg.Surfaces = *surfaces
	cfg.Step = *step
	cfg.MeasNoise = *measNoise
	cfg.ProcessNoise = *processNoise

	sim := newSimulation(cfg, rand.New(rand.NewSource(*seed)))

	mt := trajectory.NewMultiTrajectory()
	leaf, err := sim.runForward(mt)
	if err != nil {
		log.Fatalf("forward filter failed: %v", err)
	}
	log.Printf("filtered %d states", mt.Size())

	if err := (fit.MbfSmoother{}).Smooth(mt, leaf); err != nil {
		log.Fatalf("smoother failed: %v", err)
	}
	log.Printf("smoothed trajectory from state %d", leaf)

	var totalChi2 float64
	mt.VisitBackwards(leaf, func(ts trajectory.TrackStateProxy) {
		totalChi2 += ts.Chi2()
	})
	// Two measured coordinates per surface.
	log.Printf("total chi2 %.2f over %d degrees of freedom", totalChi2, 2*(*surfaces))

	if *dbPath != "" {
		db, err := trajdb.Open(*dbPath)
		if err != nil {
			log.Fatalf("open trajectory db: %v", err)
		}
		defer db.Close()

		id, err := db.InsertTrajectory(mt, leaf, trajdb.Meta{RunID: *runID, SensorID: "sim"})
		if err != nil {
			log.Fatalf("persist trajectory: %v", err)
		}
		log.Printf("✓ Persisted trajectory %s to %s", id, *dbPath)
	}

	if *plotPath != "" {
		if err := writePullPlot(*plotPath, sim, mt, leaf); err != nil {
			log.Fatalf("write pull plot: %v", err)
		}
		log.Printf("✓ Created: %s", *plotPath)
	}

	if *htmlPath != "" {
		if err := writeSeriesChart(*htmlPath, sim, mt, leaf); err != nil {
			log.Fatalf("write series chart: %v", err)
		}
		log.Printf("✓ Created: %s", *htmlPath)
	}

	if *dbPath == "" && *plotPath == "" && *htmlPath == "" {
		printSummary(mt, leaf)
	}
}

// simulation holds the synthetic truth track and the generator settings.
// The truth model is a constant-slope track in the first two bound
// parameters, with parameters 2 and 3 carrying the slopes, so the transport
// jacobian is the usual position-velocity coupling.
type simulation struct {
	cfg simConfig
	rng *rand.Rand

	// truth[k] is the true bound-parameter vector on surface k.
	truth [][]float64
}

func newSimulation(cfg simConfig, rng *rand.Rand) *simulation {
	s := &simulation{cfg: cfg, rng: rng}

	state := []float64{0.2, -0.1, 0.05, 0.03, 1.0, 0}
	for k := 0; k < cfg.Surfaces; k++ {
		s.truth = append(s.truth, append([]float64(nil), state...))
		state[0] += state[2] * cfg.Step
		state[1] += state[3] * cfg.Step
		state[5] += cfg.Step
	}
	return s
}

// transportJacobian is the per-step transport operator F.
func (s *simulation) transportJacobian() *mat.Dense {
	f := mat.NewDense(trajectory.BoundSize, trajectory.BoundSize, nil)
	for i := 0; i < trajectory.BoundSize; i++ {
		f.Set(i, i, 1)
	}
	f.Set(0, 2, s.cfg.Step)
	f.Set(1, 3, s.cfg.Step)
	return f
}

// runForward builds the trajectory surface by surface and filters each
// state, returning the leaf index.
func (s *simulation) runForward(mt *trajectory.MultiTrajectory) (trajectory.Index, error) {
	updater := fit.GainMatrixUpdater{}
	f := s.transportJacobian()

	parent := trajectory.Invalid
	for k := 0; k < s.cfg.Surfaces; k++ {
		idx := mt.AddTrackState(trajectory.PropPredicted|trajectory.PropJacobian|trajectory.PropCalibrated, parent)
		ts := mt.TrackState(idx)

		if parent == trajectory.Invalid {
			// Broad initial guess around the first truth point.
			for i := 0; i < trajectory.BoundSize; i++ {
				ts.Predicted().SetVec(i, s.truth[0][i]+s.rng.NormFloat64()*0.5)
				ts.PredictedCovariance().Set(i, i, 1)
			}
		} else {
			prev := mt.TrackState(parent)
			var pred mat.VecDense
			pred.MulVec(f, prev.Filtered())

			var fc, fcf mat.Dense
			fc.Mul(f, prev.FilteredCovariance())
			fcf.Mul(&fc, f.T())
			for i := 0; i < trajectory.BoundSize; i++ {
				fcf.Set(i, i, fcf.At(i, i)+s.cfg.ProcessNoise)
			}

			ts.Predicted().CopyVec(&pred)
			ts.PredictedCovariance().Copy(&fcf)
		}
		ts.Jacobian().Copy(f)
		ts.SetPathLength(float64(k) * s.cfg.Step)

		ts.AllocateCalibrated(2)
		ts.Calibrated().SetVec(0, s.truth[k][0]+s.rng.NormFloat64()*s.cfg.MeasNoise)
		ts.Calibrated().SetVec(1, s.truth[k][1]+s.rng.NormFloat64()*s.cfg.MeasNoise)
		ts.CalibratedCovariance().Set(0, 0, s.cfg.MeasNoise*s.cfg.MeasNoise)
		ts.CalibratedCovariance().Set(1, 1, s.cfg.MeasNoise*s.cfg.MeasNoise)
		ts.SetProjectorSubspace([]int{0, 1})
		ts.TypeFlags().Set(trajectory.MeasurementFlag)

		if _, err := updater.Update(ts, fit.Forward); err != nil {
			return trajectory.Invalid, err
		}
		parent = idx
	}
	return parent, nil
}

func printSummary(mt *trajectory.MultiTrajectory, leaf trajectory.Index) {
	mt.VisitBackwards(leaf, func(ts trajectory.TrackStateProxy) {
		log.Printf("state %2d  loc0=%+.4f  loc1=%+.4f  chi2=%.3f",
			ts.Index(), ts.Smoothed().AtVec(0), ts.Smoothed().AtVec(1), ts.Chi2())
	})
}
