package styles

import (
	"testing"

	"github.com/vmatresu/viralclipai-sub001/internal/mapping"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

func trackUint32(v uint32) *uint32 { return &v }

func twoSpeakerAnalysis(overlapFrames int) *models.SceneNeuralAnalysis {
	frames := make([]models.FrameAnalysis, 0, overlapFrames)
	for i := 0; i < overlapFrames; i++ {
		frames = append(frames, models.FrameAnalysis{
			Time: float64(i) * 0.1,
			Faces: []models.FaceDetection{
				{BBox: mapping.NormalizedBBox{X: 0.1, Y: 0.3, W: 0.15, H: 0.25}, Score: 0.9, TrackID: trackUint32(1)},
				{BBox: mapping.NormalizedBBox{X: 0.7, Y: 0.3, W: 0.15, H: 0.25}, Score: 0.9, TrackID: trackUint32(2)},
			},
		})
	}
	return &models.SceneNeuralAnalysis{AnalysisVersion: models.AnalysisVersion, Frames: frames}
}

func TestSelectSpeakerTracksSplitsWhenOverlapLongEnough(t *testing.T) {
	p := NewIntelligentSplitProcessor()
	req := Request{Analysis: twoSpeakerAnalysis(40), FrameWidth: 1920, FrameHeight: 1080}
	left, right, ok := p.selectSpeakerTracks(req)
	if !ok {
		t.Fatal("expected the split gate to pass with 4s of two-track overlap")
	}
	if left.meanCX >= right.meanCX {
		t.Errorf("expected left track to have the lower mean CX, got left=%.1f right=%.1f", left.meanCX, right.meanCX)
	}
}

func TestSelectSpeakerTracksFallsBackOnBriefOverlap(t *testing.T) {
	p := NewIntelligentSplitProcessor()
	req := Request{Analysis: twoSpeakerAnalysis(3), FrameWidth: 1920, FrameHeight: 1080}
	_, _, ok := p.selectSpeakerTracks(req)
	if ok {
		t.Fatal("expected the split gate to reject a brief two-track overlap")
	}
}

func TestStaticPanelCropStaysInFrame(t *testing.T) {
	gate := DefaultSplitGateConfig()
	track := trackSummary{meanCX: 50, meanCY: 900, meanW: 200, meanH: 300}
	x, y, w, h := staticPanelCrop(track, 1920, 1080, 608, 540, gate)
	if x < 0 || x+w > 1920 {
		t.Errorf("crop x out of bounds: x=%d w=%d", x, w)
	}
	if y < 0 || y+h > 1080 {
		t.Errorf("crop y out of bounds: y=%d h=%d", y, h)
	}
}
