package fit

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/monitoring"
	"github.com/banshee-data/trackfit/internal/trajectory"
)

// MbfSmoother runs the Modified Bryson-Frazier backward smoothing recursion
// over a filtered trajectory in a single traversal. Unlike Rauch-Tung-
// Striebel it needs neither a second forward pass nor an inversion of the
// full-trajectory system; the information it carries between states is one
// BoundSize matrix and one BoundSize vector.
//
// The smoother assumes the forward filter already rejected states with a
// degenerate innovation covariance; a singular S encountered here is not
// separately guarded.
type MbfSmoother struct{}

// Smooth walks backwards from entry to the root, writing a smoothed
// estimate into every visited state (allocating the smoothed slot where
// missing). entry is the endpoint of the forward fit for the hypothesis
// being smoothed; branch selection happens before this call.
func (MbfSmoother) Smooth(mt *trajectory.MultiTrajectory, entry trajectory.Index) error {
	bigLambda := mat.NewDense(trajectory.BoundSize, trajectory.BoundSize, nil)
	smallLambda := mat.NewVecDense(trajectory.BoundSize, nil)

	mt.VisitBackwards(entry, func(ts trajectory.TrackStateProxy) {
		ts.AddComponents(trajectory.PropSmoothed)
		calculateSmoothed(ts, bigLambda, smallLambda)

		if !ts.HasPrevious() {
			return
		}
		if ts.TypeFlags().Test(trajectory.MeasurementFlag) {
			visitMeasurement(ts, bigLambda, smallLambda)
		} else {
			visitNonMeasurement(ts, bigLambda, smallLambda)
		}
	})
	monitoring.Verbosef("fit: smoothed trajectory from state %d", entry)
	return nil
}

// calculateSmoothed writes the smoothed estimate for one state:
//
//	smoothedCovariance = C_f - C_f * Λ * C_f
//	smoothed           = x_f - C_f * λ
func calculateSmoothed(ts trajectory.TrackStateProxy, bigLambda *mat.Dense, smallLambda *mat.VecDense) {
	filtered := ts.Filtered()
	filteredCov := ts.FilteredCovariance()

	var cl mat.Dense
	cl.Mul(filteredCov, bigLambda)
	var clc mat.Dense
	clc.Mul(&cl, filteredCov)
	var smoothedCov mat.Dense
	smoothedCov.Sub(filteredCov, &clc)

	var correction mat.VecDense
	correction.MulVec(filteredCov, smallLambda)
	var smoothed mat.VecDense
	smoothed.SubVec(filtered, &correction)

	ts.Smoothed().CopyVec(&smoothed)
	ts.SmoothedCovariance().Copy(&smoothedCov)
}

// visitNonMeasurement propagates (Λ, λ) across a state that contributed no
// measurement (hole, material, pure transport):
//
//	Λ <- F^T * Λ * F
//	λ <- F^T * λ
func visitNonMeasurement(ts trajectory.TrackStateProxy, bigLambda *mat.Dense, smallLambda *mat.VecDense) {
	f := ts.Jacobian()

	var ftl mat.Dense
	ftl.Mul(f.T(), bigLambda)
	bigLambda.Mul(&ftl, f)

	var ftv mat.VecDense
	ftv.MulVec(f.T(), smallLambda)
	smallLambda.CopyVec(&ftv)
}

// visitMeasurement propagates (Λ, λ) across a measurement state. With
// S = H*C_p*H^T + R, K = C_p*H^T*S^-1, C = I - K*H and y = z - H*x_p:
//
//	Λ~ = H^T*S^-1*H + C^T*Λ*C
//	λ~ = -H^T*S^-1*y + C^T*λ
//	Λ <- F^T*Λ~*F
//	λ <- F^T*λ~
func visitMeasurement(ts trajectory.TrackStateProxy, bigLambda *mat.Dense, smallLambda *mat.VecDense) {
	h := ts.Projector()
	predicted := ts.Predicted()
	predictedCov := ts.PredictedCovariance()
	calibrated := ts.Calibrated()
	calibratedCov := ts.CalibratedCovariance()

	// S and its inverse could be cached from the filter step; they are
	// recomputed here to keep the trajectory store free of filter-internal
	// intermediates.
	var pht mat.Dense
	pht.Mul(predictedCov, h.T())
	var s mat.Dense
	s.Mul(h, &pht)
	s.Add(&s, calibratedCov)
	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil && !isCondition(err) {
		monitoring.Verbosef("fit: state %d smoother hit singular innovation covariance: %v", ts.Index(), err)
	}

	var gain mat.Dense
	gain.Mul(&pht, &sInv)

	// C = I - K*H
	var kh mat.Dense
	kh.Mul(&gain, h)
	c := eye(trajectory.BoundSize)
	c.Sub(c, &kh)

	// y = z - H*predicted
	var projected mat.VecDense
	projected.MulVec(h, predicted)
	var innovation mat.VecDense
	innovation.SubVec(calibrated, &projected)

	// Λ~ = H^T*S^-1*H + C^T*Λ*C
	var htsInv mat.Dense
	htsInv.Mul(h.T(), &sInv)
	var htsInvH mat.Dense
	htsInvH.Mul(&htsInv, h)
	var ctl mat.Dense
	ctl.Mul(c.T(), bigLambda)
	var ctlc mat.Dense
	ctlc.Mul(&ctl, c)
	var bigLambdaTilde mat.Dense
	bigLambdaTilde.Add(&htsInvH, &ctlc)

	// λ~ = -H^T*S^-1*y + C^T*λ
	var htsInvY mat.VecDense
	htsInvY.MulVec(&htsInv, &innovation)
	var ctv mat.VecDense
	ctv.MulVec(c.T(), smallLambda)
	var smallLambdaTilde mat.VecDense
	smallLambdaTilde.SubVec(&ctv, &htsInvY)

	f := ts.Jacobian()
	var ftl mat.Dense
	ftl.Mul(f.T(), &bigLambdaTilde)
	bigLambda.Mul(&ftl, f)
	var ftv mat.VecDense
	ftv.MulVec(f.T(), &smallLambdaTilde)
	smallLambda.CopyVec(&ftv)
}
