package vision

import "testing"

func unitEmbedding(x float32) []float32 {
	return []float32{x, 1 - x, 0}
}

func TestKalmanTrackerReidentifiesReappearingTrack(t *testing.T) {
	tracker := NewKalmanTracker(0.3, 2)
	tracker.EnableReID(0.9, 10)

	f1 := []FaceDetection{{BBox: [4]float32{100, 100, 200, 200}, Confidence: 0.9}}
	out1 := tracker.Update(f1, [][]float32{unitEmbedding(1.0)})
	lostID := out1[0].TrackID

	// Subject leaves frame for longer than maxGap, pruning the track.
	for i := 0; i < 3; i++ {
		tracker.Update(nil, nil)
	}
	if _, ok := tracker.tracks[lostID]; ok {
		t.Fatalf("expected track %d to be pruned after exceeding max gap", lostID)
	}

	// Reappears elsewhere in frame (too far for IoU match) with the same appearance.
	f2 := []FaceDetection{{BBox: [4]float32{900, 900, 1000, 1000}, Confidence: 0.9}}
	out2 := tracker.Update(f2, [][]float32{unitEmbedding(1.0)})
	if len(out2) != 1 {
		t.Fatalf("expected 1 tracked detection, got %d", len(out2))
	}
	if out2[0].TrackID != lostID {
		t.Fatalf("expected reidentified track ID %d, got %d", lostID, out2[0].TrackID)
	}
	if !out2[0].Reidentified {
		t.Fatalf("expected Reidentified to be true")
	}
}

func TestKalmanTrackerDoesNotReidentifyDissimilarAppearance(t *testing.T) {
	tracker := NewKalmanTracker(0.3, 2)
	tracker.EnableReID(0.9, 10)

	f1 := []FaceDetection{{BBox: [4]float32{100, 100, 200, 200}, Confidence: 0.9}}
	out1 := tracker.Update(f1, [][]float32{unitEmbedding(1.0)})
	lostID := out1[0].TrackID

	for i := 0; i < 3; i++ {
		tracker.Update(nil, nil)
	}

	f2 := []FaceDetection{{BBox: [4]float32{900, 900, 1000, 1000}, Confidence: 0.9}}
	out2 := tracker.Update(f2, [][]float32{unitEmbedding(0.0)})
	if out2[0].TrackID == lostID {
		t.Fatalf("expected a new track ID for a dissimilar appearance, got the reused lost ID %d", lostID)
	}
	if out2[0].Reidentified {
		t.Fatalf("expected Reidentified to be false for a dissimilar appearance")
	}
}

func TestKalmanTrackerForgetsLostTrackPastReidMaxAge(t *testing.T) {
	tracker := NewKalmanTracker(0.3, 2)
	tracker.EnableReID(0.9, 2)

	f1 := []FaceDetection{{BBox: [4]float32{100, 100, 200, 200}, Confidence: 0.9}}
	out1 := tracker.Update(f1, [][]float32{unitEmbedding(1.0)})
	lostID := out1[0].TrackID

	for i := 0; i < 6; i++ {
		tracker.Update(nil, nil)
	}

	f2 := []FaceDetection{{BBox: [4]float32{900, 900, 1000, 1000}, Confidence: 0.9}}
	out2 := tracker.Update(f2, [][]float32{unitEmbedding(1.0)})
	if out2[0].TrackID == lostID {
		t.Fatalf("expected the lost track to have aged out, got reused ID %d", lostID)
	}
}
