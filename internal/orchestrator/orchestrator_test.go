package orchestrator

import (
	"testing"

	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

func TestGroupScenesPreservesOrderAndGroupsByID(t *testing.T) {
	scenes := []models.SceneTask{
		{SceneID: 1, Style: models.StyleOriginal},
		{SceneID: 2, Style: models.StyleIntelligent},
		{SceneID: 1, Style: models.StyleSplit},
	}
	groups := groupScenes(scenes)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].sceneID != 1 || len(groups[0].tasks) != 2 {
		t.Fatalf("expected scene 1 first with 2 tasks, got %+v", groups[0])
	}
	if groups[1].sceneID != 2 || len(groups[1].tasks) != 1 {
		t.Fatalf("expected scene 2 second with 1 task, got %+v", groups[1])
	}
}

func TestMaxTierPicksHighestAcrossStyles(t *testing.T) {
	tasks := []models.SceneTask{
		{Style: models.StyleOriginal},
		{Style: models.StyleIntelligentSpeaker},
		{Style: models.StyleIntelligent},
	}
	if got := maxTier(tasks); got != models.TierSpeakerAware {
		t.Fatalf("expected TierSpeakerAware, got %v", got)
	}
}

func TestAnyCutSilentPartsRequiresOnlyOneTrueFlag(t *testing.T) {
	tasks := []models.SceneTask{
		{CutSilentParts: false},
		{CutSilentParts: true},
	}
	if !anyCutSilentParts(tasks) {
		t.Fatal("expected true when any task opts into silence removal")
	}
	if anyCutSilentParts(tasks[:1]) {
		t.Fatal("expected false when no task opts in")
	}
}
