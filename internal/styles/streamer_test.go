package styles

import (
	"strings"
	"testing"

	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

func TestStreamerCanHandle(t *testing.T) {
	p := NewStreamerProcessor()
	if !p.CanHandle(models.StyleStreamer) {
		t.Error("expected CanHandle(Streamer) to be true")
	}
	if p.CanHandle(models.StyleTopScenes) {
		t.Error("expected CanHandle(TopScenes) to be false; Top-Scenes is a job-level composite")
	}
}

func TestStreamerBuildFilterIncludesCountdown(t *testing.T) {
	p := NewStreamerProcessor()
	info := VideoInfo{Width: 1920, Height: 1080, FPS: 30}
	graph := p.buildFilter(info, 1080, 1920, 3, "")
	if !strings.Contains(graph, "drawtext=text='3'") {
		t.Errorf("expected countdown drawtext in graph, got %s", graph)
	}
	if !strings.Contains(graph, "gblur") {
		t.Errorf("expected blurred background stage, got %s", graph)
	}
}

func TestConcatenateSegmentsRejectsEmpty(t *testing.T) {
	if err := ConcatenateSegments(nil, nil, "/tmp/out.mp4"); err == nil {
		t.Error("expected an error concatenating zero segments")
	}
}
