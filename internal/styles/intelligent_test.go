package styles

import (
	"testing"
	"time"

	"github.com/vmatresu/viralclipai-sub001/internal/camera"
	"github.com/vmatresu/viralclipai-sub001/internal/mapping"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

func sampleAnalysis() *models.SceneNeuralAnalysis {
	frames := make([]models.FrameAnalysis, 0, 10)
	for i := 0; i < 10; i++ {
		t := float64(i) * 0.1
		cx := 0.4 + 0.02*float64(i)
		frames = append(frames, models.FrameAnalysis{
			Time: t,
			Faces: []models.FaceDetection{
				{
					BBox:  mapping.NormalizedBBox{X: cx, Y: 0.3, W: 0.2, H: 0.3},
					Score: 0.9,
				},
			},
		})
	}
	return &models.SceneNeuralAnalysis{
		AnalysisVersion: models.AnalysisVersion,
		DetectionTier:   models.TierBasic,
		Frames:          frames,
	}
}

func TestIntelligentProcessorCanHandle(t *testing.T) {
	p := NewIntelligentProcessor()
	for _, s := range []models.Style{models.StyleIntelligent, models.StyleIntelligentSpeaker, models.StyleIntelligentMotion, models.StyleIntelligentCinematic} {
		if !p.CanHandle(s) {
			t.Errorf("expected CanHandle(%v) to be true", s)
		}
	}
	if p.CanHandle(models.StyleOriginal) {
		t.Error("expected CanHandle(Original) to be false")
	}
}

func TestPlanCropsProducesOneWindowPerFrame(t *testing.T) {
	req := Request{
		Task: models.SceneTask{
			End:           durationSeconds(1),
			TargetAspectW: 9,
			TargetAspectH: 16,
			Style:         models.StyleIntelligent,
		},
		Analysis:      sampleAnalysis(),
		FrameWidth:    1920,
		FrameHeight:   1080,
		PlannerConfig: camera.DefaultPlannerConfig(),
	}

	crops, err := planCrops(req)
	if err != nil {
		t.Fatalf("planCrops: %v", err)
	}
	if len(crops) != len(req.Analysis.Frames) {
		t.Fatalf("expected %d crop windows, got %d", len(req.Analysis.Frames), len(crops))
	}
}

func TestBuildCropFilterReferencesSendcmd(t *testing.T) {
	crops := []models.CropWindow{
		{Time: 0, X: 100, Y: 50, W: 600, H: 1066},
		{Time: 0.5, X: 120, Y: 50, W: 600, H: 1066},
	}
	graph, label, cleanup, err := buildCropFilter(crops, 1920, 1080, models.SceneTask{TargetAspectW: 9, TargetAspectH: 16})
	if err != nil {
		t.Fatalf("buildCropFilter: %v", err)
	}
	defer cleanup()
	if label != "vout" {
		t.Errorf("expected output label vout, got %s", label)
	}
	if !contains(graph, "sendcmd") || !contains(graph, "crop=") {
		t.Errorf("expected graph to chain sendcmd into crop, got %s", graph)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func durationSeconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}
