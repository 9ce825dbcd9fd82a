package camera

import (
	"math"
	"testing"
)

func TestSoftThresholdShrinksTowardZero(t *testing.T) {
	if v := softThreshold(5.0, 2.0); v != 3.0 {
		t.Fatalf("expected 3.0, got %v", v)
	}
	if v := softThreshold(-5.0, 2.0); v != -3.0 {
		t.Fatalf("expected -3.0, got %v", v)
	}
	if v := softThreshold(1.0, 2.0); v != 0 {
		t.Fatalf("expected 0 inside the threshold band, got %v", v)
	}
}

func TestSeptadiagonalSolverIdentityWhenNoDifferenceTerms(t *testing.T) {
	// n=1 collapses to M=[1], so solve(b) should just return b.
	s := newSeptadiagonalSolver(1)
	out := s.solve([]float64{7.0})
	if math.Abs(out[0]-7.0) > 1e-9 {
		t.Fatalf("expected 7.0, got %v", out[0])
	}
}

func TestL1OptimizerSmoothsNoisySignal(t *testing.T) {
	opt := NewL1Optimizer(DefaultL1Config())
	kfs := make([]Keyframe, 20)
	for i := range kfs {
		noise := 0.0
		if i%2 == 0 {
			noise = 30
		}
		kfs[i] = Keyframe{Time: float64(i), CX: 500 + noise, CY: 400, W: 800, H: 600}
	}

	out, err := opt.Optimize(kfs)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if len(out) != len(kfs) {
		t.Fatalf("expected %d keyframes out, got %d", len(kfs), len(out))
	}

	var inputJitter, outputJitter float64
	for i := 1; i < len(kfs); i++ {
		inputJitter += math.Abs(kfs[i].CX - kfs[i-1].CX)
		outputJitter += math.Abs(out[i].CX - out[i-1].CX)
	}
	if outputJitter >= inputJitter {
		t.Fatalf("expected smoothed path to have less jitter: in=%v out=%v", inputJitter, outputJitter)
	}
}

func TestL1OptimizerFewerThanThreeKeyframesLinearInterpolates(t *testing.T) {
	opt := NewL1Optimizer(DefaultL1Config())
	kfs := []Keyframe{
		{Time: 0, CX: 0, CY: 0, W: 100, H: 100},
		{Time: 10, CX: 100, CY: 100, W: 100, H: 100},
	}
	out, err := opt.Optimize(kfs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0].CX != 0 || out[1].CX != 100 {
		t.Fatalf("expected passthrough-style linear interpolation, got %+v", out)
	}
}

func TestFitPolynomialAndEvalRoundTripOnLinearData(t *testing.T) {
	to := NewTrajectoryOptimizer(TrajectoryMethodL2Polynomial, 1, 0, 10)
	times := []float64{0, 1, 2, 3, 4}
	values := []float64{10, 20, 30, 40, 50}

	coef := to.fitPolynomial(times, values)
	for i, tm := range times {
		got := evalPolynomial(coef, tm)
		if math.Abs(got-values[i]) > 1e-6 {
			t.Fatalf("expected %v at t=%v, got %v", values[i], tm, got)
		}
	}
}

func TestApplyStationaryLocksToMedian(t *testing.T) {
	to := NewTrajectoryOptimizer(TrajectoryMethodL2Polynomial, 2, 0.01, 5)
	kfs := []Keyframe{
		{Time: 0, CX: 100, CY: 100, W: 200, H: 200},
		{Time: 1, CX: 110, CY: 90, W: 210, H: 190},
		{Time: 2, CX: 90, CY: 110, W: 190, H: 210},
	}
	out := to.applyStationary(kfs)
	if len(out) == 0 {
		t.Fatalf("expected at least one sample")
	}
	for _, kf := range out {
		if kf.CX != 100 || kf.CY != 100 {
			t.Fatalf("expected locked median position, got %+v", kf)
		}
	}
}

func TestSmootherDeadZoneHoldsCentreOnSmallMotion(t *testing.T) {
	s := NewSmoother(DefaultSmootherConfig(), 1920, 1080)
	first := s.Step(Target{CX: 960, CY: 540, W: 800, H: 600}, 0)
	if first.CX != 960 {
		t.Fatalf("expected first keyframe to be the initial target, got %+v", first)
	}

	// A tiny nudge should stay inside the dead zone and not move the centre.
	second := s.Step(Target{CX: 962, CY: 541, W: 800, H: 600}, 100)
	if second.CX != first.CX || second.CY != first.CY {
		t.Fatalf("expected dead zone to hold centre, got %+v", second)
	}
}

func TestSmootherTracksLargeMotionWithEMA(t *testing.T) {
	s := NewSmoother(DefaultSmootherConfig(), 1920, 1080)
	s.Step(Target{CX: 200, CY: 200, W: 800, H: 600}, 0)

	moved := s.Step(Target{CX: 1700, CY: 900, W: 800, H: 600}, 500)
	if moved.CX <= 200 || moved.CX >= 1700 {
		t.Fatalf("expected EMA-smoothed position strictly between start and target, got %v", moved.CX)
	}
}

func TestTargetSelectorStickyPrimaryResistsWeakChallenger(t *testing.T) {
	sel := NewTargetSelector(DefaultSelectorWeights(), DefaultSelectorConfig(), 1920, 1080)

	primary := Candidate{TrackID: 1, BBox: [4]float32{860, 440, 1060, 640}, Confidence: 0.9, TrackAgeFrames: 10}
	weakChallenger := Candidate{TrackID: 2, BBox: [4]float32{100, 100, 260, 260}, Confidence: 0.5, TrackAgeFrames: 10}

	target, ok := sel.Select([]Candidate{primary, weakChallenger}, 0)
	if !ok || target.TrackID != 1 {
		t.Fatalf("expected track 1 selected first, got %+v", target)
	}

	// Immediately after, before the dwell period elapses, the
	// lower-scoring challenger should not unseat the sticky primary.
	target2, ok := sel.Select([]Candidate{primary, weakChallenger}, 100)
	if !ok || target2.TrackID != 1 {
		t.Fatalf("expected sticky primary to hold during dwell window, got %+v", target2)
	}
}
