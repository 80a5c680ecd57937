package fit

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/monitoring"
	"github.com/banshee-data/trackfit/internal/trajectory"
)

// GainMatrixUpdater performs one Kalman measurement update, mapping a
// state's predicted estimate to its filtered one. It is stateless; a single
// value may be shared across trajectories and goroutines.
type GainMatrixUpdater struct{}

// Update runs the measurement update on ts, which must carry predicted
// parameters and covariance, a calibrated measurement with covariance, and
// a projector. On success the filtered estimate is written into the state
// (allocating the filtered slot if needed), the state's chi2 is set, and
// the chi2 increment is returned.
//
// The sole failure mode is a non-finite gain matrix: the update is aborted,
// nothing is written, and ErrForwardUpdateFailed or
// ErrBackwardUpdateFailed is returned according to dir.
func (GainMatrixUpdater) Update(ts trajectory.TrackStateProxy, dir Direction) (float64, error) {
	dim := ts.CalibratedSize()
	h := ts.Projector()
	predicted := ts.Predicted()
	predictedCov := ts.PredictedCovariance()
	calibrated := ts.Calibrated()
	calibratedCov := ts.CalibratedCovariance()

	monitoring.Verbosef("fit: state %d measurement dimension %d", ts.Index(), dim)

	// S = H * P_pred * H^T + R
	var pht mat.Dense
	pht.Mul(predictedCov, h.T())
	var s mat.Dense
	s.Mul(h, &pht)
	s.Add(&s, calibratedCov)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		if !isCondition(err) || hasNonFinite(&sInv) {
			monitoring.Verbosef("fit: state %d innovation covariance singular: %v", ts.Index(), err)
			return 0, updateFailed(dir)
		}
	}

	// K = P_pred * H^T * S^-1
	var gain mat.Dense
	gain.Mul(&pht, &sInv)
	if hasNonFinite(&gain) {
		monitoring.Verbosef("fit: state %d gain matrix not finite, aborting update", ts.Index())
		return 0, updateFailed(dir)
	}

	// filtered = predicted + K * (z - H * predicted)
	var projected mat.VecDense
	projected.MulVec(h, predicted)
	var innovation mat.VecDense
	innovation.SubVec(calibrated, &projected)
	var correction mat.VecDense
	correction.MulVec(&gain, &innovation)
	var filtered mat.VecDense
	filtered.AddVec(predicted, &correction)

	// filteredCovariance = (I - K*H) * P_pred
	var kh mat.Dense
	kh.Mul(&gain, h)
	ikh := eye(trajectory.BoundSize)
	ikh.Sub(ikh, &kh)
	var filteredCov mat.Dense
	filteredCov.Mul(ikh, predictedCov)

	// Allocation may grow the backing store, so all reads happened above
	// and the writes below go through fresh views.
	ts.AddComponents(trajectory.PropFiltered)
	ts.Filtered().CopyVec(&filtered)
	ts.FilteredCovariance().Copy(&filteredCov)

	// chi2 = r^T * ((I - H*K) * R)^-1 * r with r the filtered residual.
	var projectedFiltered mat.VecDense
	projectedFiltered.MulVec(h, &filtered)
	var residual mat.VecDense
	residual.SubVec(calibrated, &projectedFiltered)

	var hk mat.Dense
	hk.Mul(h, &gain)
	ihk := eye(dim)
	ihk.Sub(ihk, &hk)
	var residualCov mat.Dense
	residualCov.Mul(ihk, calibratedCov)

	chi2 := math.NaN()
	var weighted mat.VecDense
	if err := weighted.SolveVec(&residualCov, &residual); err == nil || isCondition(err) {
		chi2 = mat.Dot(&residual, &weighted)
	}
	ts.SetChi2(chi2)

	monitoring.Verbosef("fit: state %d filtered, chi2=%g", ts.Index(), chi2)
	return chi2, nil
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func hasNonFinite(m *mat.Dense) bool {
	for _, v := range m.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func isCondition(err error) bool {
	_, ok := err.(mat.Condition)
	return ok
}
