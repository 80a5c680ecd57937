package trajectory

import (
	"errors"
	"testing"
)

func TestAddTrackStateIndicesAreSequential(t *testing.T) {
	mt := NewMultiTrajectory()

	for i := 0; i < 5; i++ {
		idx := mt.AddTrackState(PropAll, Invalid)
		if idx != Index(i) {
			t.Fatalf("AddTrackState returned index %d, want %d", idx, i)
		}
	}
	if mt.Size() != 5 {
		t.Errorf("Size() = %d, want 5", mt.Size())
	}
}

func TestForestInvariant(t *testing.T) {
	mt := NewMultiTrajectory()

	// Branching structure: two hypotheses share a two-state stem.
	root := mt.AddTrackState(PropAll, Invalid)
	stem := mt.AddTrackState(PropAll, root)
	leafA := mt.AddTrackState(PropAll, stem)
	leafB := mt.AddTrackState(PropAll, stem)
	other := mt.AddTrackState(PropAll, Invalid) // second tree

	for _, start := range []Index{root, stem, leafA, leafB, other} {
		steps := 0
		for i := start; i != Invalid; i = mt.TrackState(i).Previous() {
			steps++
			if steps > mt.Size() {
				t.Fatalf("parent chain from %d did not terminate within %d steps", start, mt.Size())
			}
		}
	}
}

func TestAddTrackStateRejectsBadParent(t *testing.T) {
	mt := NewMultiTrajectory()
	mt.AddTrackState(PropAll, Invalid)

	defer func() {
		if recover() == nil {
			t.Error("AddTrackState with out-of-range parent should panic")
		}
	}()
	mt.AddTrackState(PropAll, Index(7))
}

func TestAllocationFidelity(t *testing.T) {
	masks := []PropMask{
		PropNone,
		PropPredicted,
		PropFiltered,
		PropPredicted | PropJacobian,
		PropPredicted | PropFiltered | PropCalibrated,
		PropAll,
	}

	mt := NewMultiTrajectory()
	for _, mask := range masks {
		idx := mt.AddTrackState(mask, Invalid)
		ts := mt.TrackState(idx)
		if got := ts.Mask(); got != mask {
			t.Errorf("mask %05b: Mask() = %05b", mask, got)
		}

		checks := map[HashedString]PropMask{
			keyPredicted:  PropPredicted,
			keyFiltered:   PropFiltered,
			keySmoothed:   PropSmoothed,
			keyJacobian:   PropJacobian,
			keyCalibrated: PropCalibrated,
		}
		for key, bit := range checks {
			if got, want := mt.Has(key, idx), mask.Has(bit); got != want {
				t.Errorf("mask %05b: Has(%#x) = %v, want %v", mask, uint64(key), got, want)
			}
		}
	}
}

func TestAlwaysPresentComponents(t *testing.T) {
	mt := NewMultiTrajectory()
	idx := mt.AddTrackState(PropNone, Invalid)

	for _, name := range []string{"previous", "chi2", "pathLength", "typeFlags", "referenceSurface", "measdim"} {
		if !mt.Has(HashString(name), idx) {
			t.Errorf("Has(%q) = false for a bare state, want true", name)
		}
	}
}

func TestComponentKnownKeys(t *testing.T) {
	mt := NewMultiTrajectory()
	idx := mt.AddTrackState(PropNone, Invalid)

	chi2 := Component[float64](mt, HashString("chi2"), idx)
	*chi2 = 3.5
	if got := mt.TrackState(idx).Chi2(); got != 3.5 {
		t.Errorf("Chi2() = %v after writing through Component, want 3.5", got)
	}

	prev := Component[Index](mt, HashString("previous"), idx)
	if *prev != Invalid {
		t.Errorf("previous = %d, want Invalid", *prev)
	}
}

func TestComponentUnknownKeyPanics(t *testing.T) {
	mt := NewMultiTrajectory()
	idx := mt.AddTrackState(PropNone, Invalid)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Component with unregistered key should panic")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrUnknownComponent) {
			t.Errorf("panic value %v does not wrap ErrUnknownComponent", r)
		}
	}()
	mt.Component(HashString("no-such-column"), idx)
}

func TestDynamicColumnBackfill(t *testing.T) {
	mt := NewMultiTrajectory()
	for i := 0; i < 3; i++ {
		mt.AddTrackState(PropNone, Invalid)
	}

	AddColumn[uint32](mt, "nSharedHits")
	if !mt.HasColumn(HashString("nSharedHits")) {
		t.Fatal("HasColumn = false after AddColumn")
	}

	// A state added after registration gets the column too.
	last := mt.AddTrackState(PropNone, Invalid)

	for i := Index(0); i <= last; i++ {
		if !mt.Has(HashString("nSharedHits"), i) {
			t.Errorf("Has(nSharedHits, %d) = false", i)
		}
		if got := *Component[uint32](mt, HashString("nSharedHits"), i); got != 0 {
			t.Errorf("state %d backfilled value = %d, want 0", i, got)
		}
	}

	// Writes are per-state.
	*Component[uint32](mt, HashString("nSharedHits"), 1) = 42
	if got := *Component[uint32](mt, HashString("nSharedHits"), 1); got != 42 {
		t.Errorf("state 1 value = %d after write, want 42", got)
	}
	if got := *Component[uint32](mt, HashString("nSharedHits"), 2); got != 0 {
		t.Errorf("state 2 value = %d, want 0 (untouched)", got)
	}
}

func TestClearDropsStatesAndColumns(t *testing.T) {
	mt := NewMultiTrajectory()
	mt.AddTrackState(PropAll, Invalid)
	AddColumn[float64](mt, "quality")

	mt.Clear()

	if mt.Size() != 0 {
		t.Errorf("Size() = %d after Clear, want 0", mt.Size())
	}
	if mt.HasColumn(HashString("quality")) {
		t.Error("dynamic column survived Clear")
	}
}

func TestVisitBackwardsOrder(t *testing.T) {
	mt := NewMultiTrajectory()
	root := mt.AddTrackState(PropNone, Invalid)
	mid := mt.AddTrackState(PropNone, root)
	leaf := mt.AddTrackState(PropNone, mid)

	var visited []Index
	mt.VisitBackwards(leaf, func(ts TrackStateProxy) {
		visited = append(visited, ts.Index())
	})

	want := []Index{leaf, mid, root}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited %v, want %v", visited, want)
		}
	}
}

func TestApplyBackwardsEarlyStop(t *testing.T) {
	mt := NewMultiTrajectory()
	root := mt.AddTrackState(PropNone, Invalid)
	mid := mt.AddTrackState(PropNone, root)
	leaf := mt.AddTrackState(PropNone, mid)

	var visited []Index
	mt.ApplyBackwards(leaf, func(ts TrackStateProxy) bool {
		visited = append(visited, ts.Index())
		return ts.Index() != mid
	})

	if len(visited) != 2 || visited[0] != leaf || visited[1] != mid {
		t.Errorf("visited %v, want [%d %d]", visited, leaf, mid)
	}
}

func TestHashStringMatchesFNV1a(t *testing.T) {
	// Reference value for the empty string is the FNV offset basis.
	if got := HashString(""); uint64(got) != 14695981039346656037 {
		t.Errorf("HashString(\"\") = %#x", uint64(got))
	}
	if HashString("predicted") == HashString("filtered") {
		t.Error("distinct keys collided")
	}
}
