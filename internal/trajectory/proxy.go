package trajectory

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrComponentMismatch is returned by CopyFrom when a requested component is
// not allocated on both sides of the copy.
var ErrComponentMismatch = errors.New("component mismatch")

// TrackStateProxy is a view bound to (store, index). It carries no state of
// its own and is freely copyable; every accessor re-resolves through the
// store, so proxies stay valid as the store grows.
//
// Accessors for optional components require the component to be allocated;
// violating that is a programmer error and panics. Vector and matrix return
// values alias the store's backing memory: writes through them land in the
// store, and they remain valid until the next allocation on the store.
type TrackStateProxy struct {
	mt    *MultiTrajectory
	index Index
}

func (ts TrackStateProxy) data() *indexData { return &ts.mt.index[ts.index] }

// Index returns the state's index in its store.
func (ts TrackStateProxy) Index() Index { return ts.index }

// Previous returns the parent state's index, or Invalid for a root.
func (ts TrackStateProxy) Previous() Index { return ts.data().previous }

// HasPrevious reports whether this state has a parent.
func (ts TrackStateProxy) HasPrevious() bool { return ts.data().previous != Invalid }

func (ts TrackStateProxy) mustSlot(slot Index, name string) Index {
	if slot == Invalid {
		panic(fmt.Sprintf("trajectory: state %d has no %s component", ts.index, name))
	}
	return slot
}

// HasPredicted reports whether the predicted parameters are allocated.
func (ts TrackStateProxy) HasPredicted() bool { return ts.data().ipredicted != Invalid }

// Predicted returns the predicted bound-parameter vector.
func (ts TrackStateProxy) Predicted() *mat.VecDense {
	slot := ts.mustSlot(ts.data().ipredicted, "predicted")
	return mat.NewVecDense(BoundSize, ts.mt.paramSlice(slot))
}

// PredictedCovariance returns the predicted covariance matrix.
func (ts TrackStateProxy) PredictedCovariance() *mat.Dense {
	slot := ts.mustSlot(ts.data().ipredicted, "predicted")
	return mat.NewDense(BoundSize, BoundSize, ts.mt.covSlice(slot))
}

// HasFiltered reports whether the filtered parameters are allocated.
func (ts TrackStateProxy) HasFiltered() bool { return ts.data().ifiltered != Invalid }

// Filtered returns the filtered bound-parameter vector.
func (ts TrackStateProxy) Filtered() *mat.VecDense {
	slot := ts.mustSlot(ts.data().ifiltered, "filtered")
	return mat.NewVecDense(BoundSize, ts.mt.paramSlice(slot))
}

// FilteredCovariance returns the filtered covariance matrix.
func (ts TrackStateProxy) FilteredCovariance() *mat.Dense {
	slot := ts.mustSlot(ts.data().ifiltered, "filtered")
	return mat.NewDense(BoundSize, BoundSize, ts.mt.covSlice(slot))
}

// HasSmoothed reports whether the smoothed parameters are allocated.
func (ts TrackStateProxy) HasSmoothed() bool { return ts.data().ismoothed != Invalid }

// Smoothed returns the smoothed bound-parameter vector.
func (ts TrackStateProxy) Smoothed() *mat.VecDense {
	slot := ts.mustSlot(ts.data().ismoothed, "smoothed")
	return mat.NewVecDense(BoundSize, ts.mt.paramSlice(slot))
}

// SmoothedCovariance returns the smoothed covariance matrix.
func (ts TrackStateProxy) SmoothedCovariance() *mat.Dense {
	slot := ts.mustSlot(ts.data().ismoothed, "smoothed")
	return mat.NewDense(BoundSize, BoundSize, ts.mt.covSlice(slot))
}

// Parameters returns the best available estimate: smoothed if present, else
// filtered, else predicted. Downstream consumers rely on exactly this
// priority order. Panics if none of the three is allocated.
func (ts TrackStateProxy) Parameters() *mat.VecDense {
	switch {
	case ts.HasSmoothed():
		return ts.Smoothed()
	case ts.HasFiltered():
		return ts.Filtered()
	case ts.HasPredicted():
		return ts.Predicted()
	}
	panic(fmt.Sprintf("trajectory: state %d has no parameters", ts.index))
}

// Covariance returns the covariance paired with Parameters, in the same
// smoothed > filtered > predicted priority order.
func (ts TrackStateProxy) Covariance() *mat.Dense {
	switch {
	case ts.HasSmoothed():
		return ts.SmoothedCovariance()
	case ts.HasFiltered():
		return ts.FilteredCovariance()
	case ts.HasPredicted():
		return ts.PredictedCovariance()
	}
	panic(fmt.Sprintf("trajectory: state %d has no covariance", ts.index))
}

// HasJacobian reports whether the transport jacobian is allocated.
func (ts TrackStateProxy) HasJacobian() bool { return ts.data().ijacobian != Invalid }

// Jacobian returns the transport jacobian from the previous state to this
// one.
func (ts TrackStateProxy) Jacobian() *mat.Dense {
	slot := ts.mustSlot(ts.data().ijacobian, "jacobian")
	return mat.NewDense(BoundSize, BoundSize, ts.mt.jacSlice(slot))
}

// HasCalibrated reports whether the calibrated measurement is allocated.
func (ts TrackStateProxy) HasCalibrated() bool { return ts.data().icalibrated != Invalid }

// CalibratedSize returns the logical measurement dimension, 0 when no
// measurement has been written.
func (ts TrackStateProxy) CalibratedSize() int { return ts.data().measDim }

// AllocateCalibrated sets the logical measurement dimension and zeroes the
// measurement vector and covariance. The calibration collaborator calls
// this before writing Calibrated, CalibratedCovariance and the projector.
func (ts TrackStateProxy) AllocateCalibrated(dim int) {
	if dim < 1 || dim > MeasurementSizeMax {
		panic(fmt.Sprintf("trajectory: calibrated size %d out of range [1, %d]", dim, MeasurementSizeMax))
	}
	d := ts.data()
	slot := ts.mustSlot(d.icalibrated, "calibrated")
	d.measDim = dim
	off := int(slot) * MeasurementSizeMax
	for i := 0; i < MeasurementSizeMax; i++ {
		ts.mt.meas[off+i] = 0
	}
	covOff := int(slot) * MeasurementSizeMax * MeasurementSizeMax
	for i := 0; i < MeasurementSizeMax*MeasurementSizeMax; i++ {
		ts.mt.measCovs[covOff+i] = 0
	}
}

// Calibrated returns the calibrated measurement vector at its logical size.
// AllocateCalibrated must have been called first.
func (ts TrackStateProxy) Calibrated() *mat.VecDense {
	d := ts.data()
	slot := ts.mustSlot(d.icalibrated, "calibrated")
	if d.measDim == 0 {
		panic(fmt.Sprintf("trajectory: state %d calibrated size not set", ts.index))
	}
	return mat.NewVecDense(d.measDim, ts.mt.measSlice(slot, d.measDim))
}

// CalibratedCovariance returns the measurement covariance at its logical
// size. The backing buffer is fixed-capacity; the covariance is packed
// row-major at the logical dimension.
func (ts TrackStateProxy) CalibratedCovariance() *mat.Dense {
	d := ts.data()
	slot := ts.mustSlot(d.icalibrated, "calibrated")
	if d.measDim == 0 {
		panic(fmt.Sprintf("trajectory: state %d calibrated size not set", ts.index))
	}
	return mat.NewDense(d.measDim, d.measDim, ts.mt.measCovSlice(slot, d.measDim))
}

// HasProjector reports whether the projector is allocated (it travels with
// the calibrated measurement).
func (ts TrackStateProxy) HasProjector() bool { return ts.data().iprojector != Invalid }

// Projector returns the expanded m x BoundSize projector matrix H.
func (ts TrackStateProxy) Projector() *mat.Dense {
	d := ts.data()
	slot := ts.mustSlot(d.iprojector, "projector")
	if d.measDim == 0 {
		panic(fmt.Sprintf("trajectory: state %d calibrated size not set", ts.index))
	}
	return ts.mt.projectors[slot].expand(d.measDim)
}

// SetProjector stores the compact encoding of a dense 0/1 projector.
func (ts TrackStateProxy) SetProjector(h mat.Matrix) {
	slot := ts.mustSlot(ts.data().iprojector, "projector")
	ts.mt.projectors[slot] = projectorFromDense(h)
}

// SetProjectorSubspace stores a projector selecting the given
// bound-parameter indices, one per measurement row.
func (ts TrackStateProxy) SetProjectorSubspace(indices []int) {
	slot := ts.mustSlot(ts.data().iprojector, "projector")
	ts.mt.projectors[slot] = projectorFromSubspace(indices)
}

// HasUncalibratedSourceLink reports whether a raw hit has been attached.
func (ts TrackStateProxy) HasUncalibratedSourceLink() bool {
	return ts.mt.sourceLinks[ts.data().iuncalibrated] != nil
}

// UncalibratedSourceLink returns the raw detector hit identity.
func (ts TrackStateProxy) UncalibratedSourceLink() SourceLink {
	return ts.mt.sourceLinks[ts.data().iuncalibrated]
}

// SetUncalibratedSourceLink attaches the raw detector hit identity.
func (ts TrackStateProxy) SetUncalibratedSourceLink(sl SourceLink) {
	ts.mt.sourceLinks[ts.data().iuncalibrated] = sl
}

// CalibratedSourceLink returns the hit identity the calibration was derived
// from. Requires the calibrated allocation.
func (ts TrackStateProxy) CalibratedSourceLink() SourceLink {
	slot := ts.mustSlot(ts.data().icalibratedSourceLink, "calibratedSourceLink")
	return ts.mt.sourceLinks[slot]
}

// SetCalibratedSourceLink records the hit identity the calibration was
// derived from.
func (ts TrackStateProxy) SetCalibratedSourceLink(sl SourceLink) {
	slot := ts.mustSlot(ts.data().icalibratedSourceLink, "calibratedSourceLink")
	ts.mt.sourceLinks[slot] = sl
}

// ReferenceSurface returns the externally-owned geometry handle, nil if
// never set.
func (ts TrackStateProxy) ReferenceSurface() Surface { return ts.mt.surfaces[ts.index] }

// SetReferenceSurface attaches the geometry handle.
func (ts TrackStateProxy) SetReferenceSurface(s Surface) { ts.mt.surfaces[ts.index] = s }

// TypeFlags returns a pointer to the state's classification flags, writable
// in place.
func (ts TrackStateProxy) TypeFlags() *TrackStateFlags { return &ts.data().typeFlags }

// Chi2 returns the chi-square contribution recorded by the filter.
func (ts TrackStateProxy) Chi2() float64 { return ts.data().chi2 }

// SetChi2 records the chi-square contribution.
func (ts TrackStateProxy) SetChi2(chi2 float64) { ts.data().chi2 = chi2 }

// PathLength returns the accumulated path length at this state.
func (ts TrackStateProxy) PathLength() float64 { return ts.data().pathLength }

// SetPathLength records the accumulated path length.
func (ts TrackStateProxy) SetPathLength(l float64) { ts.data().pathLength = l }

// Mask reconstructs the allocation mask by probing each optional component.
func (ts TrackStateProxy) Mask() PropMask {
	m := PropNone
	if ts.HasPredicted() {
		m |= PropPredicted
	}
	if ts.HasFiltered() {
		m |= PropFiltered
	}
	if ts.HasSmoothed() {
		m |= PropSmoothed
	}
	if ts.HasJacobian() {
		m |= PropJacobian
	}
	if ts.HasCalibrated() {
		m |= PropCalibrated
	}
	return m
}

// AddComponents grows this state's allocation in place by the components
// named in mask. Already-allocated components are untouched. The smoother
// uses this to add a smoothed slot to a filtered state before writing it.
func (ts TrackStateProxy) AddComponents(mask PropMask) {
	d := ts.data()
	if mask.Has(PropPredicted) && d.ipredicted == Invalid {
		d.ipredicted = ts.mt.addParamSlot()
	}
	if mask.Has(PropFiltered) && d.ifiltered == Invalid {
		d.ifiltered = ts.mt.addParamSlot()
	}
	if mask.Has(PropSmoothed) && d.ismoothed == Invalid {
		d.ismoothed = ts.mt.addParamSlot()
	}
	if mask.Has(PropJacobian) && d.ijacobian == Invalid {
		d.ijacobian = ts.mt.addJacobianSlot()
	}
	if mask.Has(PropCalibrated) && d.icalibrated == Invalid {
		d.icalibrated = ts.mt.addMeasurementSlot()
		d.iprojector = ts.mt.addProjectorSlot()
		d.icalibratedSourceLink = ts.mt.addSourceLinkSlot()
	}
}

// CopyFrom copies exactly the components named in mask from other into this
// state. Every requested component must be allocated on both sides;
// otherwise nothing is copied and ErrComponentMismatch is returned. Fields
// outside mask are left untouched.
func (ts TrackStateProxy) CopyFrom(other TrackStateProxy, mask PropMask) error {
	type check struct {
		bit  PropMask
		name string
		has  func(TrackStateProxy) bool
	}
	checks := []check{
		{PropPredicted, "predicted", TrackStateProxy.HasPredicted},
		{PropFiltered, "filtered", TrackStateProxy.HasFiltered},
		{PropSmoothed, "smoothed", TrackStateProxy.HasSmoothed},
		{PropJacobian, "jacobian", TrackStateProxy.HasJacobian},
		{PropCalibrated, "calibrated", TrackStateProxy.HasCalibrated},
	}
	for _, c := range checks {
		if !mask.Has(c.bit) {
			continue
		}
		if !c.has(ts) || !c.has(other) {
			return fmt.Errorf("copy track state %s: %w", c.name, ErrComponentMismatch)
		}
	}

	src := other.data()
	dst := ts.data()
	if mask.Has(PropPredicted) {
		copy(ts.mt.paramSlice(dst.ipredicted), other.mt.paramSlice(src.ipredicted))
		copy(ts.mt.covSlice(dst.ipredicted), other.mt.covSlice(src.ipredicted))
	}
	if mask.Has(PropFiltered) {
		copy(ts.mt.paramSlice(dst.ifiltered), other.mt.paramSlice(src.ifiltered))
		copy(ts.mt.covSlice(dst.ifiltered), other.mt.covSlice(src.ifiltered))
	}
	if mask.Has(PropSmoothed) {
		copy(ts.mt.paramSlice(dst.ismoothed), other.mt.paramSlice(src.ismoothed))
		copy(ts.mt.covSlice(dst.ismoothed), other.mt.covSlice(src.ismoothed))
	}
	if mask.Has(PropJacobian) {
		copy(ts.mt.jacSlice(dst.ijacobian), other.mt.jacSlice(src.ijacobian))
	}
	if mask.Has(PropCalibrated) {
		dst.measDim = src.measDim
		srcMeasOff := int(src.icalibrated) * MeasurementSizeMax
		dstMeasOff := int(dst.icalibrated) * MeasurementSizeMax
		copy(ts.mt.meas[dstMeasOff:dstMeasOff+MeasurementSizeMax],
			other.mt.meas[srcMeasOff:srcMeasOff+MeasurementSizeMax])
		srcCovOff := int(src.icalibrated) * MeasurementSizeMax * MeasurementSizeMax
		dstCovOff := int(dst.icalibrated) * MeasurementSizeMax * MeasurementSizeMax
		copy(ts.mt.measCovs[dstCovOff:dstCovOff+MeasurementSizeMax*MeasurementSizeMax],
			other.mt.measCovs[srcCovOff:srcCovOff+MeasurementSizeMax*MeasurementSizeMax])
		ts.mt.projectors[dst.iprojector] = other.mt.projectors[src.iprojector]
		ts.mt.sourceLinks[dst.icalibratedSourceLink] = other.mt.sourceLinks[src.icalibratedSourceLink]
	}
	return nil
}
