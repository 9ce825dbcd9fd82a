package camera

import "testing"

func TestFuseFacesBoostsActiveSpeaker(t *testing.T) {
	calc := DefaultSignalFusingCalculator()
	faces := []Candidate{
		{BBox: [4]float32{0, 0, 100, 100}, HasMouth: true, MouthOpenness: 1.0},
		{BBox: [4]float32{200, 0, 300, 100}, HasMouth: false},
	}
	signals := calc.FuseFaces(faces)
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}
	if signals[0].Weight <= signals[1].Weight {
		t.Fatalf("active speaker should outweigh the silent face: %v vs %v", signals[0].Weight, signals[1].Weight)
	}
	if !signals[0].IsRequired || !signals[1].IsRequired {
		t.Fatalf("faces should be required signals by default")
	}
}

func TestFuseObjectsWeightsPersonHigherThanObject(t *testing.T) {
	calc := DefaultSignalFusingCalculator()
	boxes := []BBox{{X: 0, Y: 0, W: 50, H: 50}, {X: 100, Y: 100, W: 50, H: 50}}
	signals := calc.FuseObjects(boxes, []int{cocoPersonClassForTest, 5}, cocoPersonClassForTest)
	if signals[0].Weight <= signals[1].Weight {
		t.Fatalf("person weight should exceed generic object weight: %v vs %v", signals[0].Weight, signals[1].Weight)
	}
	if signals[0].IsRequired {
		t.Fatalf("object signals should not be required")
	}
}

const cocoPersonClassForTest = 0

func TestComputeFocusPointWeightedAverage(t *testing.T) {
	calc := DefaultSignalFusingCalculator()
	signals := []SaliencySignal{
		{BBox: BBox{X: 0, Y: 0, W: 100, H: 100}, Weight: 1.0},
		{BBox: BBox{X: 200, Y: 0, W: 100, H: 100}, Weight: 3.0},
	}
	cx, _ := calc.ComputeFocusPoint(signals)
	// weighted toward the second, heavier signal at cx=250
	if cx < 150 || cx > 250 {
		t.Fatalf("expected focus point pulled toward heavier signal, got cx=%v", cx)
	}
}

func TestComputeFocusPointFallsBackToUnweightedMean(t *testing.T) {
	calc := DefaultSignalFusingCalculator()
	signals := []SaliencySignal{
		{BBox: BBox{X: 0, Y: 0, W: 0, H: 0}, Weight: 0},
		{BBox: BBox{X: 100, Y: 100, W: 0, H: 0}, Weight: 0},
	}
	cx, cy := calc.ComputeFocusPoint(signals)
	if cx != 50 || cy != 50 {
		t.Fatalf("expected unweighted mean (50,50), got (%v,%v)", cx, cy)
	}
}

func TestComputeRequiredBoundsUnionsOnlyRequiredSignals(t *testing.T) {
	calc := DefaultSignalFusingCalculator()
	signals := []SaliencySignal{
		{BBox: BBox{X: 0, Y: 0, W: 50, H: 50}, IsRequired: true},
		{BBox: BBox{X: 200, Y: 200, W: 50, H: 50}, IsRequired: false},
	}
	bounds, ok := calc.ComputeRequiredBounds(signals)
	if !ok {
		t.Fatalf("expected required bounds to be found")
	}
	if bounds.W != 50 || bounds.H != 50 {
		t.Fatalf("expected bounds to ignore the non-required signal, got %+v", bounds)
	}
}

func TestComputeRequiredBoundsNoneRequired(t *testing.T) {
	calc := DefaultSignalFusingCalculator()
	_, ok := calc.ComputeRequiredBounds([]SaliencySignal{{BBox: BBox{X: 0, Y: 0, W: 10, H: 10}, IsRequired: false}})
	if ok {
		t.Fatalf("expected no required bounds")
	}
}

func TestComputeCombinedFocusFallsBackWithNoSignals(t *testing.T) {
	calc := DefaultSignalFusingCalculator()
	focus := calc.ComputeCombinedFocus(nil, 1000, 2000, 0.15)
	if focus.W != 500 || focus.H != 1000 {
		t.Fatalf("expected half-frame fallback box, got %+v", focus)
	}
}

func TestComputeCombinedFocusSingleFaceStaysInFrame(t *testing.T) {
	calc := DefaultSignalFusingCalculator()
	signals := calc.FuseFaces([]Candidate{{BBox: [4]float32{900, 900, 1000, 1000}}})
	focus := calc.ComputeCombinedFocus(signals, 1000, 1000, 0.15)
	if focus.X < 0 || focus.Y < 0 || focus.X+focus.W > 1000 || focus.Y+focus.H > 1000 {
		t.Fatalf("expected combined focus clamped inside the frame, got %+v", focus)
	}
}
