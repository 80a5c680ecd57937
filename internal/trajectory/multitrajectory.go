package trajectory

import (
	"errors"
	"fmt"
)

// ErrUnknownComponent is wrapped into the panic raised when a component key
// is neither part of the fixed schema nor a registered dynamic column.
var ErrUnknownComponent = errors.New("unknown component")

// indexData is the per-node record. Optional components hold a slot index
// into the corresponding column, or Invalid when unallocated.
type indexData struct {
	previous Index

	ipredicted            Index
	ifiltered             Index
	ismoothed             Index
	ijacobian             Index
	iprojector            Index
	iuncalibrated         Index
	icalibrated           Index
	icalibratedSourceLink Index

	measDim    int
	chi2       float64
	pathLength float64
	typeFlags  TrackStateFlags
}

// MultiTrajectory is an append-only arena of track states forming a forest:
// every state has at most one parent and any number of children, so several
// track hypotheses can branch off a shared stem without copying it.
//
// Storage is columnar. Parameter vectors and covariances live in flat
// float64 columns addressed by slot indices held in the per-node indexData,
// so a node pays only for the components its allocation mask named.
//
// A finished store may be read concurrently; node creation and dynamic
// column registration are single-writer operations.
type MultiTrajectory struct {
	index []indexData

	// params/covs hold one slot per allocated predicted/filtered/smoothed
	// component, stride BoundSize and BoundSize*BoundSize respectively.
	params []float64
	covs   []float64

	// meas/measCovs hold calibrated measurements at fixed capacity
	// MeasurementSizeMax; the logical size is indexData.measDim and the
	// covariance is packed row-major at the logical size.
	meas     []float64
	measCovs []float64

	// jacs holds transport jacobians, stride BoundSize*BoundSize.
	jacs []float64

	sourceLinks []SourceLink
	projectors  []ProjectorBits
	surfaces    []Surface

	dynamic map[HashedString]dynamicColumn
}

// NewMultiTrajectory returns an empty store.
func NewMultiTrajectory() *MultiTrajectory {
	return &MultiTrajectory{dynamic: make(map[HashedString]dynamicColumn)}
}

// Size returns the number of track states.
func (mt *MultiTrajectory) Size() int { return len(mt.index) }

// Clear resets the store to empty. All nodes and all dynamic-column
// registrations are dropped; previously issued indices become meaningless.
func (mt *MultiTrajectory) Clear() {
	mt.index = mt.index[:0]
	mt.params = mt.params[:0]
	mt.covs = mt.covs[:0]
	mt.meas = mt.meas[:0]
	mt.measCovs = mt.measCovs[:0]
	mt.jacs = mt.jacs[:0]
	mt.sourceLinks = mt.sourceLinks[:0]
	mt.projectors = mt.projectors[:0]
	mt.surfaces = mt.surfaces[:0]
	mt.dynamic = make(map[HashedString]dynamicColumn)
}

// AddTrackState appends a track state allocating only the components named
// in mask and returns its stable index. previous must be Invalid (root) or
// the index of an existing state; anything else is a programmer error and
// panics. All registered dynamic columns are extended with a zero value.
func (mt *MultiTrajectory) AddTrackState(mask PropMask, previous Index) Index {
	if previous != Invalid && (previous < 0 || int(previous) >= len(mt.index)) {
		panic(fmt.Sprintf("trajectory: previous index %d out of range (size %d)", previous, len(mt.index)))
	}

	d := indexData{
		previous:              previous,
		ipredicted:            Invalid,
		ifiltered:             Invalid,
		ismoothed:             Invalid,
		ijacobian:             Invalid,
		iprojector:            Invalid,
		iuncalibrated:         Invalid,
		icalibrated:           Invalid,
		icalibratedSourceLink: Invalid,
	}

	if mask.Has(PropPredicted) {
		d.ipredicted = mt.addParamSlot()
	}
	if mask.Has(PropFiltered) {
		d.ifiltered = mt.addParamSlot()
	}
	if mask.Has(PropSmoothed) {
		d.ismoothed = mt.addParamSlot()
	}
	if mask.Has(PropJacobian) {
		d.ijacobian = mt.addJacobianSlot()
	}

	// The uncalibrated source-link slot always exists; it just stays nil
	// until the calibration collaborator fills it in.
	d.iuncalibrated = mt.addSourceLinkSlot()

	if mask.Has(PropCalibrated) {
		d.icalibrated = mt.addMeasurementSlot()
		d.iprojector = mt.addProjectorSlot()
		d.icalibratedSourceLink = mt.addSourceLinkSlot()
	}

	mt.surfaces = append(mt.surfaces, nil)
	mt.index = append(mt.index, d)

	for _, col := range mt.dynamic {
		col.add()
	}

	return Index(len(mt.index) - 1)
}

// TrackState returns a proxy bound to index. The proxy holds only the store
// reference and the index; all access re-resolves through the store.
func (mt *MultiTrajectory) TrackState(index Index) TrackStateProxy {
	mt.checkIndex(index)
	return TrackStateProxy{mt: mt, index: index}
}

// Has reports whether the component named by key exists on the state at
// index. Always-present fields report true unconditionally; optional fields
// report their allocation; unknown keys are looked up as dynamic columns.
func (mt *MultiTrajectory) Has(key HashedString, index Index) bool {
	mt.checkIndex(index)
	d := &mt.index[index]
	switch key {
	case keyPredicted:
		return d.ipredicted != Invalid
	case keyFiltered:
		return d.ifiltered != Invalid
	case keySmoothed:
		return d.ismoothed != Invalid
	case keyJacobian:
		return d.ijacobian != Invalid
	case keyProjector, keyCalibrated:
		return d.icalibrated != Invalid
	case keyUncalibrated:
		return mt.sourceLinks[d.iuncalibrated] != nil
	case keyPrevious, keyCalibratedSourceLink, keyReferenceSurface,
		keyMeasDim, keyChi2, keyPathLength, keyTypeFlags:
		return true
	default:
		_, ok := mt.dynamic[key]
		return ok
	}
}

// HasColumn reports whether key names a fixed-schema field or a registered
// dynamic column.
func (mt *MultiTrajectory) HasColumn(key HashedString) bool {
	switch key {
	case keyPrevious, keyPredicted, keyFiltered, keySmoothed, keyJacobian,
		keyProjector, keyCalibrated, keyUncalibrated, keyCalibratedSourceLink,
		keyReferenceSurface, keyMeasDim, keyChi2, keyPathLength, keyTypeFlags:
		return true
	default:
		_, ok := mt.dynamic[key]
		return ok
	}
}

// Component returns a pointer to the component named by key on the state at
// index, type-erased as any. Known keys resolve to fixed-schema fields; for
// an unregistered dynamic key it panics with ErrUnknownComponent wrapped in
// the panic value. Use the generic Component helper for typed access.
func (mt *MultiTrajectory) Component(key HashedString, index Index) any {
	mt.checkIndex(index)
	d := &mt.index[index]
	switch key {
	case keyPrevious:
		return &d.previous
	case keyPredicted:
		return &d.ipredicted
	case keyFiltered:
		return &d.ifiltered
	case keySmoothed:
		return &d.ismoothed
	case keyJacobian:
		return &d.ijacobian
	case keyProjector:
		return &mt.projectors[d.iprojector]
	case keyCalibrated:
		return &d.icalibrated
	case keyUncalibrated:
		return &mt.sourceLinks[d.iuncalibrated]
	case keyCalibratedSourceLink:
		return &mt.sourceLinks[d.icalibratedSourceLink]
	case keyReferenceSurface:
		return &mt.surfaces[index]
	case keyMeasDim:
		return &d.measDim
	case keyChi2:
		return &d.chi2
	case keyPathLength:
		return &d.pathLength
	case keyTypeFlags:
		return &d.typeFlags
	default:
		col, ok := mt.dynamic[key]
		if !ok {
			panic(fmt.Errorf("trajectory: component %#x: %w", uint64(key), ErrUnknownComponent))
		}
		return col.get(index)
	}
}

// Component returns a typed pointer to a per-state component. It panics if
// the key is unknown or the registered element type is not T.
func Component[T any](mt *MultiTrajectory, key HashedString, index Index) *T {
	v := mt.Component(key, index)
	p, ok := v.(*T)
	if !ok {
		panic(fmt.Sprintf("trajectory: component %#x holds %T, not %T", uint64(key), v, p))
	}
	return p
}

// VisitBackwards walks from start up the parent chain to a root, in that
// order, calling visit on the proxy at each state.
func (mt *MultiTrajectory) VisitBackwards(start Index, visit func(ts TrackStateProxy)) {
	mt.ApplyBackwards(start, func(ts TrackStateProxy) bool {
		visit(ts)
		return true
	})
}

// ApplyBackwards walks from start up the parent chain to a root, calling
// apply on the proxy at each state. Returning false stops the traversal
// after the current state. This is the only defined traversal order.
func (mt *MultiTrajectory) ApplyBackwards(start Index, apply func(ts TrackStateProxy) bool) {
	mt.checkIndex(start)
	for i := start; i != Invalid; i = mt.index[i].previous {
		if !apply(TrackStateProxy{mt: mt, index: i}) {
			return
		}
	}
}

func (mt *MultiTrajectory) checkIndex(index Index) {
	if index < 0 || int(index) >= len(mt.index) {
		panic(fmt.Sprintf("trajectory: index %d out of range (size %d)", index, len(mt.index)))
	}
}

// Slot allocators. Each returns the new slot's index within its column.

func (mt *MultiTrajectory) addParamSlot() Index {
	slot := Index(len(mt.params) / BoundSize)
	mt.params = append(mt.params, make([]float64, BoundSize)...)
	mt.covs = append(mt.covs, make([]float64, BoundSize*BoundSize)...)
	return slot
}

func (mt *MultiTrajectory) addJacobianSlot() Index {
	slot := Index(len(mt.jacs) / (BoundSize * BoundSize))
	mt.jacs = append(mt.jacs, make([]float64, BoundSize*BoundSize)...)
	return slot
}

func (mt *MultiTrajectory) addMeasurementSlot() Index {
	slot := Index(len(mt.meas) / MeasurementSizeMax)
	mt.meas = append(mt.meas, make([]float64, MeasurementSizeMax)...)
	mt.measCovs = append(mt.measCovs, make([]float64, MeasurementSizeMax*MeasurementSizeMax)...)
	return slot
}

func (mt *MultiTrajectory) addSourceLinkSlot() Index {
	mt.sourceLinks = append(mt.sourceLinks, nil)
	return Index(len(mt.sourceLinks) - 1)
}

func (mt *MultiTrajectory) addProjectorSlot() Index {
	mt.projectors = append(mt.projectors, 0)
	return Index(len(mt.projectors) - 1)
}

// Column slices, aliasing the backing store. Valid until the next slot
// allocation on the same column.

func (mt *MultiTrajectory) paramSlice(slot Index) []float64 {
	off := int(slot) * BoundSize
	return mt.params[off : off+BoundSize]
}

func (mt *MultiTrajectory) covSlice(slot Index) []float64 {
	off := int(slot) * BoundSize * BoundSize
	return mt.covs[off : off+BoundSize*BoundSize]
}

func (mt *MultiTrajectory) jacSlice(slot Index) []float64 {
	off := int(slot) * BoundSize * BoundSize
	return mt.jacs[off : off+BoundSize*BoundSize]
}

func (mt *MultiTrajectory) measSlice(slot Index, dim int) []float64 {
	off := int(slot) * MeasurementSizeMax
	return mt.meas[off : off+dim]
}

func (mt *MultiTrajectory) measCovSlice(slot Index, dim int) []float64 {
	off := int(slot) * MeasurementSizeMax * MeasurementSizeMax
	return mt.measCovs[off : off+dim*dim]
}
