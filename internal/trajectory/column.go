package trajectory

// dynamicColumn is the type-erased extension point for run-time registered
// per-node attributes. The fixed component set never goes through this
// interface; it exists only for schema extensions the store cannot know
// about at compile time.
type dynamicColumn interface {
	// add appends a zero-value entry for a newly created track state.
	add()
	// get returns a pointer to the entry at i, as an untyped value.
	get(i Index) any
}

// column is the sole dynamicColumn implementation, one per registered
// element type.
type column[T any] struct {
	values []T
}

func (c *column[T]) add()            { var zero T; c.values = append(c.values, zero) }
func (c *column[T]) get(i Index) any { return &c.values[i] }

// AddColumn registers a dynamic column of element type T under name.
// Existing track states are backfilled with the zero value of T, and every
// state added afterwards receives one automatically. Registering the same
// name twice replaces the column.
//
// Registration mutates store-wide schema and must not race with concurrent
// AddTrackState or component access on the same store.
func AddColumn[T any](mt *MultiTrajectory, name string) {
	mt.dynamic[HashString(name)] = &column[T]{values: make([]T, mt.Size())}
}
