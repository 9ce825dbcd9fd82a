package camera

import "testing"

func face(trackID uint32, cx, cy, w, h float32) Candidate {
	return Candidate{
		TrackID: trackID,
		BBox:    [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
	}
}

func TestSceneCompositionSingleSubject(t *testing.T) {
	analyzer := NewSceneCompositionAnalyzer(1920, 1080)
	frames := make([][]Candidate, 10)
	for i := range frames {
		frames[i] = []Candidate{face(1, 960, 540, 300, 400)}
	}
	comp := analyzer.Analyze(frames, nil)
	if comp.Arrangement != ArrangementSingle {
		t.Fatalf("expected Single, got %v", comp.Arrangement)
	}
	if comp.CameraHint != HintLockOn {
		t.Fatalf("expected LockOn hint, got %v", comp.CameraHint)
	}
	if comp.SubjectCount != 1 {
		t.Fatalf("expected subject count 1, got %d", comp.SubjectCount)
	}
}

func TestSceneCompositionNoSubjects(t *testing.T) {
	analyzer := NewSceneCompositionAnalyzer(1920, 1080)
	comp := analyzer.Analyze(make([][]Candidate, 5), nil)
	if comp.Arrangement != ArrangementNoSubjects {
		t.Fatalf("expected NoSubjects, got %v", comp.Arrangement)
	}
	if comp.CameraHint != HintCenterDefault {
		t.Fatalf("expected CenterDefault hint, got %v", comp.CameraHint)
	}
}

func TestSceneCompositionSideBySide(t *testing.T) {
	analyzer := NewSceneCompositionAnalyzer(1920, 1080)
	frames := make([][]Candidate, 10)
	for i := range frames {
		frames[i] = []Candidate{
			face(1, 480, 540, 300, 400),
			face(2, 1440, 540, 300, 400),
		}
	}
	comp := analyzer.Analyze(frames, nil)
	if comp.Arrangement != ArrangementSideBySide {
		t.Fatalf("expected SideBySide, got %v", comp.Arrangement)
	}
	if comp.CameraHint != HintFrameBoth {
		t.Fatalf("expected FrameBoth hint, got %v", comp.CameraHint)
	}
}

func TestSceneCompositionInterview(t *testing.T) {
	analyzer := NewSceneCompositionAnalyzer(1920, 1080)
	frames := make([][]Candidate, 10)
	for i := range frames {
		frames[i] = []Candidate{
			face(1, 900, 540, 800, 900),
			face(2, 1700, 540, 120, 130),
		}
	}
	comp := analyzer.Analyze(frames, nil)
	if comp.Arrangement != ArrangementInterview {
		t.Fatalf("expected Interview, got %v", comp.Arrangement)
	}
	if comp.SecondaryFocus == nil {
		t.Fatalf("expected a secondary focus zone for interview arrangement")
	}
	if comp.CameraHint != HintFollowActive {
		t.Fatalf("expected FollowActive hint, got %v", comp.CameraHint)
	}
}

func TestSceneCompositionGroupIsWideShotWhenLarge(t *testing.T) {
	analyzer := NewSceneCompositionAnalyzer(1920, 1080)
	frames := make([][]Candidate, 10)
	for i := range frames {
		frames[i] = []Candidate{
			face(1, 300, 540, 200, 300),
			face(2, 700, 540, 200, 300),
			face(3, 1100, 540, 200, 300),
			face(4, 1500, 540, 200, 300),
		}
	}
	comp := analyzer.Analyze(frames, nil)
	if comp.Arrangement != ArrangementGroup {
		t.Fatalf("expected Group, got %v", comp.Arrangement)
	}
	if comp.CameraHint != HintWideShot {
		t.Fatalf("expected WideShot hint for a large group, got %v", comp.CameraHint)
	}
}

func TestSubjectArrangementRecommendedZoom(t *testing.T) {
	if ArrangementSingle.RecommendedZoom() >= ArrangementGroup.RecommendedZoom() {
		t.Fatalf("a single subject should recommend a tighter zoom than a group")
	}
}

func TestCameraHintIsStatic(t *testing.T) {
	if !HintLockOn.IsStatic() {
		t.Fatalf("LockOn should be static")
	}
	if HintFollowActive.IsStatic() {
		t.Fatalf("FollowActive should not be static")
	}
}
