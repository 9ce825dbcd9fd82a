package camera

import "testing"

func TestPlannerSmoothedProducesOneCropPerFrame(t *testing.T) {
	p := NewPlanner(DefaultPlannerConfig(), 1920, 1080)
	frames := []FrameDetections{
		{TimeMS: 0, Dets: []Candidate{{TrackID: 1, BBox: [4]float32{860, 440, 1060, 640}, Confidence: 0.9, TrackAgeFrames: 10}}},
		{TimeMS: 100, Dets: []Candidate{{TrackID: 1, BBox: [4]float32{865, 440, 1065, 640}, Confidence: 0.9, TrackAgeFrames: 11}}},
		{TimeMS: 200, Dets: nil}, // dropout
	}

	out, stats := p.Plan(frames, false)
	if len(out) != len(frames) {
		t.Fatalf("expected %d crop windows, got %d", len(frames), len(out))
	}
	if stats.TotalFrames != 3 || stats.DropoutFrames != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	for _, cw := range out {
		if cw.W%2 != 0 || cw.H%2 != 0 {
			t.Fatalf("expected even crop dimensions, got %+v", cw)
		}
	}
}

func TestPlannerTrajectoryStationaryShortcut(t *testing.T) {
	p := NewPlanner(DefaultPlannerConfig(), 1920, 1080)
	var frames []FrameDetections
	for i := int64(0); i < 10; i++ {
		frames = append(frames, FrameDetections{
			TimeMS: i * 100,
			Dets:   []Candidate{{TrackID: 1, BBox: [4]float32{860, 440, 1060, 640}, Confidence: 0.9, TrackAgeFrames: 10}},
		})
	}

	out, stats := p.Plan(frames, true)
	if len(out) == 0 {
		t.Fatalf("expected at least one crop window")
	}
	if stats.TotalFrames != len(frames) {
		t.Fatalf("expected TotalFrames=%d, got %d", len(frames), stats.TotalFrames)
	}
	first := out[0]
	for _, cw := range out[1:] {
		if cw.X != first.X || cw.Y != first.Y {
			t.Fatalf("expected a locked crop for a stationary subject, got %+v vs %+v", first, cw)
		}
	}
}

func TestComputeCropClampsToSafeMargin(t *testing.T) {
	p := NewPlanner(DefaultPlannerConfig(), 640, 360)
	cw := p.computeCrop(Keyframe{Time: 0, CX: 5, CY: 5, W: 200, H: 200}, 0)
	if cw.X < 0 || cw.Y < 0 {
		t.Fatalf("expected crop clamped inside frame, got %+v", cw)
	}
}
