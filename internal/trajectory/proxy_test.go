package trajectory

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func fillSequential(v *mat.VecDense, base float64) {
	for i := 0; i < v.Len(); i++ {
		v.SetVec(i, base+float64(i))
	}
}

func TestParametersFallbackOrder(t *testing.T) {
	mt := NewMultiTrajectory()
	idx := mt.AddTrackState(PropPredicted|PropFiltered|PropSmoothed, Invalid)
	ts := mt.TrackState(idx)

	fillSequential(ts.Predicted(), 100)
	fillSequential(ts.Filtered(), 200)
	fillSequential(ts.Smoothed(), 300)

	if got := ts.Parameters().AtVec(0); got != 300 {
		t.Errorf("Parameters()[0] = %v with smoothed present, want 300", got)
	}

	// Filtered only.
	idx2 := mt.AddTrackState(PropPredicted|PropFiltered, Invalid)
	ts2 := mt.TrackState(idx2)
	fillSequential(ts2.Predicted(), 100)
	fillSequential(ts2.Filtered(), 200)
	if got := ts2.Parameters().AtVec(0); got != 200 {
		t.Errorf("Parameters()[0] = %v with filtered present, want 200", got)
	}

	// Predicted only.
	idx3 := mt.AddTrackState(PropPredicted, Invalid)
	ts3 := mt.TrackState(idx3)
	fillSequential(ts3.Predicted(), 100)
	if got := ts3.Parameters().AtVec(0); got != 100 {
		t.Errorf("Parameters()[0] = %v with predicted only, want 100", got)
	}
}

func TestUnallocatedAccessPanics(t *testing.T) {
	mt := NewMultiTrajectory()
	idx := mt.AddTrackState(PropPredicted, Invalid)
	ts := mt.TrackState(idx)

	defer func() {
		if recover() == nil {
			t.Error("Filtered() on a state without the allocation should panic")
		}
	}()
	ts.Filtered()
}

func TestViewsAliasStore(t *testing.T) {
	mt := NewMultiTrajectory()
	idx := mt.AddTrackState(PropPredicted, Invalid)
	ts := mt.TrackState(idx)

	ts.Predicted().SetVec(2, 7.5)
	if got := mt.TrackState(idx).Predicted().AtVec(2); got != 7.5 {
		t.Errorf("write through one view not visible through another: got %v", got)
	}
}

func TestCalibratedLifecycle(t *testing.T) {
	mt := NewMultiTrajectory()
	idx := mt.AddTrackState(PropCalibrated, Invalid)
	ts := mt.TrackState(idx)

	ts.AllocateCalibrated(2)
	if got := ts.CalibratedSize(); got != 2 {
		t.Fatalf("CalibratedSize() = %d, want 2", got)
	}

	ts.Calibrated().SetVec(0, 1.5)
	ts.Calibrated().SetVec(1, -0.5)
	ts.CalibratedCovariance().Set(0, 0, 0.1)
	ts.CalibratedCovariance().Set(1, 1, 0.2)
	ts.SetProjectorSubspace([]int{0, 1})

	h := ts.Projector()
	r, c := h.Dims()
	if r != 2 || c != BoundSize {
		t.Fatalf("Projector dims = %dx%d, want 2x%d", r, c, BoundSize)
	}
	if h.At(0, 0) != 1 || h.At(1, 1) != 1 || h.At(0, 1) != 0 {
		t.Errorf("projector expansion wrong:\n%v", mat.Formatted(h))
	}

	// Re-allocation resets measurement contents.
	ts.AllocateCalibrated(1)
	if got := ts.Calibrated().AtVec(0); got != 0 {
		t.Errorf("Calibrated()[0] = %v after re-allocation, want 0", got)
	}
}

func TestAllocateCalibratedRejectsBadSize(t *testing.T) {
	mt := NewMultiTrajectory()
	ts := mt.TrackState(mt.AddTrackState(PropCalibrated, Invalid))

	for _, dim := range []int{0, -1, MeasurementSizeMax + 1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("AllocateCalibrated(%d) should panic", dim)
				}
			}()
			ts.AllocateCalibrated(dim)
		}()
	}
}

func TestProjectorRoundTrip(t *testing.T) {
	mt := NewMultiTrajectory()
	ts := mt.TrackState(mt.AddTrackState(PropCalibrated, Invalid))
	ts.AllocateCalibrated(2)

	h := mat.NewDense(2, BoundSize, nil)
	h.Set(0, 0, 1)
	h.Set(1, 3, 1)
	ts.SetProjector(h)

	got := ts.Projector()
	for r := 0; r < 2; r++ {
		for c := 0; c < BoundSize; c++ {
			if got.At(r, c) != h.At(r, c) {
				t.Fatalf("projector round trip mismatch at (%d,%d)", r, c)
			}
		}
	}
}

func TestSourceLinksAndSurface(t *testing.T) {
	type hit struct{ id int }
	mt := NewMultiTrajectory()
	ts := mt.TrackState(mt.AddTrackState(PropCalibrated, Invalid))

	if ts.HasUncalibratedSourceLink() {
		t.Error("HasUncalibratedSourceLink() = true before any hit attached")
	}
	ts.SetUncalibratedSourceLink(&hit{id: 9})
	if !ts.HasUncalibratedSourceLink() {
		t.Error("HasUncalibratedSourceLink() = false after attach")
	}
	if got := ts.UncalibratedSourceLink().(*hit).id; got != 9 {
		t.Errorf("uncalibrated hit id = %d, want 9", got)
	}

	ts.SetCalibratedSourceLink(&hit{id: 10})
	if got := ts.CalibratedSourceLink().(*hit).id; got != 10 {
		t.Errorf("calibrated hit id = %d, want 10", got)
	}
}

func TestCopyFromPartiality(t *testing.T) {
	mt := NewMultiTrajectory()
	src := mt.TrackState(mt.AddTrackState(PropPredicted|PropFiltered, Invalid))
	dst := mt.TrackState(mt.AddTrackState(PropPredicted|PropFiltered, Invalid))

	fillSequential(src.Predicted(), 10)
	fillSequential(src.Filtered(), 20)
	fillSequential(dst.Predicted(), 90)
	fillSequential(dst.Filtered(), 80)

	if err := dst.CopyFrom(src, PropPredicted); err != nil {
		t.Fatalf("CopyFrom(PropPredicted) failed: %v", err)
	}

	if got := dst.Predicted().AtVec(0); got != 10 {
		t.Errorf("predicted[0] = %v after copy, want 10", got)
	}
	// Filtered must be untouched.
	if got := dst.Filtered().AtVec(0); got != 80 {
		t.Errorf("filtered[0] = %v, want 80 (outside mask)", got)
	}
}

func TestCopyFromMismatch(t *testing.T) {
	mt := NewMultiTrajectory()
	src := mt.TrackState(mt.AddTrackState(PropPredicted, Invalid))
	dst := mt.TrackState(mt.AddTrackState(PropPredicted|PropSmoothed, Invalid))

	fillSequential(dst.Smoothed(), 50)

	err := dst.CopyFrom(src, PropPredicted|PropSmoothed)
	if !errors.Is(err, ErrComponentMismatch) {
		t.Fatalf("CopyFrom error = %v, want ErrComponentMismatch", err)
	}
	// Nothing may have been copied on failure.
	if got := dst.Smoothed().AtVec(0); got != 50 {
		t.Errorf("smoothed[0] = %v after failed copy, want 50", got)
	}
}

func TestCopyFromCalibrated(t *testing.T) {
	mt := NewMultiTrajectory()
	src := mt.TrackState(mt.AddTrackState(PropCalibrated, Invalid))
	dst := mt.TrackState(mt.AddTrackState(PropCalibrated, Invalid))

	src.AllocateCalibrated(1)
	src.Calibrated().SetVec(0, 2.5)
	src.CalibratedCovariance().Set(0, 0, 0.04)
	src.SetProjectorSubspace([]int{1})
	src.SetCalibratedSourceLink("hit-3")

	if err := dst.CopyFrom(src, PropCalibrated); err != nil {
		t.Fatalf("CopyFrom(PropCalibrated) failed: %v", err)
	}

	if got := dst.CalibratedSize(); got != 1 {
		t.Fatalf("CalibratedSize() = %d, want 1", got)
	}
	if got := dst.Calibrated().AtVec(0); got != 2.5 {
		t.Errorf("calibrated[0] = %v, want 2.5", got)
	}
	if got := dst.Projector().At(0, 1); got != 1 {
		t.Errorf("projector (0,1) = %v, want 1", got)
	}
	if got := dst.CalibratedSourceLink().(string); got != "hit-3" {
		t.Errorf("calibrated source link = %q, want hit-3", got)
	}
}

func TestAddComponentsGrowsInPlace(t *testing.T) {
	mt := NewMultiTrajectory()
	ts := mt.TrackState(mt.AddTrackState(PropPredicted|PropFiltered, Invalid))
	fillSequential(ts.Filtered(), 40)

	ts.AddComponents(PropSmoothed)

	if !ts.HasSmoothed() {
		t.Fatal("HasSmoothed() = false after AddComponents")
	}
	if got := ts.Mask(); got != PropPredicted|PropFiltered|PropSmoothed {
		t.Errorf("Mask() = %05b after AddComponents", got)
	}
	// Existing contents survive the allocation.
	if got := ts.Filtered().AtVec(0); got != 40 {
		t.Errorf("filtered[0] = %v after AddComponents, want 40", got)
	}
	// New slot starts zeroed.
	for i := 0; i < BoundSize; i++ {
		if got := ts.Smoothed().AtVec(i); got != 0 {
			t.Errorf("smoothed[%d] = %v, want 0", i, got)
		}
	}
}

func TestTypeFlagsInPlace(t *testing.T) {
	mt := NewMultiTrajectory()
	ts := mt.TrackState(mt.AddTrackState(PropNone, Invalid))

	ts.TypeFlags().Set(MeasurementFlag)
	ts.TypeFlags().Set(OutlierFlag)
	if !ts.TypeFlags().Test(MeasurementFlag) || !ts.TypeFlags().Test(OutlierFlag) {
		t.Error("flags not set through proxy")
	}
	ts.TypeFlags().Clear(OutlierFlag)
	if ts.TypeFlags().Test(OutlierFlag) {
		t.Error("OutlierFlag still set after Clear")
	}
	if ts.TypeFlags().Test(HoleFlag) {
		t.Error("HoleFlag set but never written")
	}
}

func TestScalarAccessors(t *testing.T) {
	mt := NewMultiTrajectory()
	ts := mt.TrackState(mt.AddTrackState(PropNone, Invalid))

	ts.SetChi2(1.25)
	ts.SetPathLength(math.Pi)
	if ts.Chi2() != 1.25 {
		t.Errorf("Chi2() = %v, want 1.25", ts.Chi2())
	}
	if ts.PathLength() != math.Pi {
		t.Errorf("PathLength() = %v, want pi", ts.PathLength())
	}
}
