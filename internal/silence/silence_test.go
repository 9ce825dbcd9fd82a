package silence

import "testing"

func frames(pairs ...[2]float64) []SpeechFrame {
	out := make([]SpeechFrame, len(pairs))
	for i, p := range pairs {
		out[i] = SpeechFrame{TimeMS: int64(p[0]), SpeechP: p[1]}
	}
	return out
}

func TestSegmenterLeadingSilenceIsCut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSilenceMS = 300

	seg := NewSegmenter(cfg)
	for _, f := range frames([2]float64{0, 0}, [2]float64{500, 0}, [2]float64{1000, 0.9}, [2]float64{2000, 0.9}) {
		seg.IngestFrame(f)
	}
	segments := seg.Finalize(3000)

	var cuts, keeps int
	for _, s := range segments {
		switch s.Label {
		case Cut:
			cuts++
		case Keep:
			keeps++
		}
	}
	if cuts == 0 {
		t.Fatalf("expected at least one cut segment for leading silence, got %+v", segments)
	}
	if keeps == 0 {
		t.Fatalf("expected at least one keep segment for trailing speech, got %+v", segments)
	}
}

func TestSegmenterShortSilenceNotCut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSilenceMS = 1000

	seg := NewSegmenter(cfg)
	for _, f := range frames([2]float64{0, 0.9}, [2]float64{500, 0.1}, [2]float64{700, 0.9}, [2]float64{2000, 0.9}) {
		seg.IngestFrame(f)
	}
	segments := seg.Finalize(2500)

	for _, s := range segments {
		if s.Label == Cut {
			t.Fatalf("silence shorter than min_silence_ms should not produce a cut, got %+v", segments)
		}
	}
}

func TestShouldApplyGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinKeepRatio = 0.3

	noCuts := Stats{KeepMS: 1000, CutMS: 0, TotalMS: 1000, CutCount: 0}
	if ShouldApply(cfg, noCuts) {
		t.Fatalf("should not apply with zero cuts")
	}

	lowKeepRatio := Stats{KeepMS: 100, CutMS: 900, TotalMS: 1000, CutCount: 1, KeepRatio: 0.1, CutFraction: 0.9}
	if ShouldApply(cfg, lowKeepRatio) {
		t.Fatalf("should not apply when keep ratio below minimum")
	}

	tinyCut := Stats{KeepMS: 950, CutMS: 50, TotalMS: 1000, CutCount: 1, KeepRatio: 0.95, CutFraction: 0.05}
	if ShouldApply(cfg, tinyCut) {
		t.Fatalf("should not apply when cut fraction below 10%%")
	}

	good := Stats{KeepMS: 700, CutMS: 300, TotalMS: 1000, CutCount: 2, KeepRatio: 0.7, CutFraction: 0.3}
	if !ShouldApply(cfg, good) {
		t.Fatalf("expected gate to pass for %+v", good)
	}
}

func TestComputeStats(t *testing.T) {
	segments := []Segment{
		{Label: Keep, StartMS: 0, EndMS: 500},
		{Label: Cut, StartMS: 500, EndMS: 800},
		{Label: Keep, StartMS: 800, EndMS: 1000},
	}
	st := ComputeStats(segments)
	if st.TotalMS != 1000 || st.KeepMS != 700 || st.CutMS != 300 || st.CutCount != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.KeepRatio != 0.7 {
		t.Fatalf("expected keep ratio 0.7, got %v", st.KeepRatio)
	}
}
