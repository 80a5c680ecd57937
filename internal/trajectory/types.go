package trajectory

// Bound-parameter dimensionality of a track state and the measurement
// capacity of a node. Every parameter vector is BoundSize long and every
// calibrated measurement has between 1 and MeasurementSizeMax entries.
const (
	BoundSize          = 6
	MeasurementSizeMax = 6
)

// Index addresses one track state inside a MultiTrajectory. Indices are
// stable for the lifetime of the store: nodes are append-only and never
// move or get reused.
type Index int

// Invalid marks an absent index: an unallocated component slot, or the
// parent link of a root node.
const Invalid Index = -1

// PropMask selects which optional components a track state owns. Masks are
// bitwise composable.
type PropMask uint8

const (
	PropPredicted PropMask = 1 << iota
	PropFiltered
	PropSmoothed
	PropJacobian
	PropCalibrated

	PropNone PropMask = 0
	PropAll           = PropPredicted | PropFiltered | PropSmoothed | PropJacobian | PropCalibrated
)

// Has reports whether every bit of want is set in m.
func (m PropMask) Has(want PropMask) bool { return m&want == want }

// TrackStateFlags classifies a track state (measurement, hole, outlier,
// material, ...). Flags are independent bits; a state may carry several.
type TrackStateFlags uint8

const (
	MeasurementFlag TrackStateFlags = 1 << iota
	ParameterFlag
	OutlierFlag
	HoleFlag
	MaterialFlag
	SharedHitFlag
)

// Test reports whether flag is set.
func (f TrackStateFlags) Test(flag TrackStateFlags) bool { return f&flag != 0 }

// Set turns flag on.
func (f *TrackStateFlags) Set(flag TrackStateFlags) { *f |= flag }

// Clear turns flag off.
func (f *TrackStateFlags) Clear(flag TrackStateFlags) { *f &^= flag }

// SourceLink is the opaque identity of a raw detector hit. The store never
// interprets it; ownership stays with the experiment-specific event data.
type SourceLink any

// Surface identifies externally-owned detector geometry. Only the handle is
// stored; coordinate transforms are the geometry collaborator's business.
type Surface interface {
	GeometryID() uint64
}
