package vision

import "testing"

func TestDecimatorAlwaysDetectsFirstFrame(t *testing.T) {
	d := NewDecimator(DefaultDecimatorConfig())
	if !d.ShouldDetect(DecisionInput{ActiveTracks: 1, MinTrackConf: 1, FrameWidth: 1920}) {
		t.Fatalf("frame 0 must always detect")
	}
}

func TestDecimatorForcesOnAllTracksLost(t *testing.T) {
	cfg := DefaultDecimatorConfig()
	cfg.MinDetectionInterval = 0
	d := NewDecimator(cfg)
	d.ShouldDetect(DecisionInput{}) // frame 0
	d.RecordDetection()

	if !d.ShouldDetect(DecisionInput{ActiveTracks: 0, FrameWidth: 1920}) {
		t.Fatalf("expected forced detection when all tracks lost")
	}
}

func TestDecimatorRespectsDetectEveryN(t *testing.T) {
	cfg := DecimatorConfig{DetectEveryN: 3, MinDetectionInterval: 0, MinConfidence: 0.5, DriftThresholdFrac: 10}
	d := NewDecimator(cfg)

	d.ShouldDetect(DecisionInput{ActiveTracks: 1, MinTrackConf: 1, FrameWidth: 1920})
	d.RecordDetection()

	gapDecision := d.ShouldDetect(DecisionInput{ActiveTracks: 1, MinTrackConf: 1, FrameWidth: 1920})
	if gapDecision {
		t.Fatalf("frame 1 should be a gap frame under detect_every_n=3")
	}
	d.RecordGap()

	gapDecision2 := d.ShouldDetect(DecisionInput{ActiveTracks: 1, MinTrackConf: 1, FrameWidth: 1920})
	if gapDecision2 {
		t.Fatalf("frame 2 should still be a gap frame")
	}
	d.RecordGap()

	keyframeDecision := d.ShouldDetect(DecisionInput{ActiveTracks: 1, MinTrackConf: 1, FrameWidth: 1920})
	if !keyframeDecision {
		t.Fatalf("frame 3 should be a forced keyframe under detect_every_n=3")
	}
}

func TestChiSquaredDistanceIdenticalHistogramsIsZero(t *testing.T) {
	h := ComputeHistogram([]float64{10, 50, 200}, []float64{0.2, 0.5, 0.8})
	if d := ChiSquaredDistance(h, h); d != 0 {
		t.Fatalf("expected zero distance for identical histograms, got %v", d)
	}
}

func TestShotDetectorEmitsShotOnLargeHistogramJump(t *testing.T) {
	d := NewShotDetector(0.5, 0)
	calm := ComputeHistogram([]float64{10, 10, 10}, []float64{0.1, 0.1, 0.1})
	differentScene := ComputeHistogram([]float64{300, 310, 320}, []float64{0.9, 0.9, 0.9})

	d.AddSample(0, calm)
	d.AddSample(1, calm)
	d.AddSample(2, differentScene)
	shots := d.Finalize(3)

	if len(shots) < 1 {
		t.Fatalf("expected at least one shot boundary, got %+v", shots)
	}
}

func TestKalmanTrackerAssignsStableIDsAcrossFrames(t *testing.T) {
	tracker := NewKalmanTracker(0.3, 5)

	f1 := []FaceDetection{{BBox: [4]float32{100, 100, 200, 200}, Confidence: 0.9}}
	out1 := tracker.Update(f1, nil)
	if len(out1) != 1 {
		t.Fatalf("expected 1 tracked detection, got %d", len(out1))
	}
	id := out1[0].TrackID

	f2 := []FaceDetection{{BBox: [4]float32{105, 103, 205, 203}, Confidence: 0.9}}
	out2 := tracker.Update(f2, nil)
	if len(out2) != 1 || out2[0].TrackID != id {
		t.Fatalf("expected track ID to remain stable across similar-position frames, got %+v", out2)
	}
}
