package camera

import "math"

// Candidate is one scoreable track for a single frame, the inputs the
// target selector's weighted sum (spec §4.6.1) needs per track.
type Candidate struct {
	TrackID       uint32
	BBox          [4]float32 // x1,y1,x2,y2 in source pixels
	Confidence    float32
	MouthOpenness float64 // 0 when unavailable
	HasMouth      bool
	Jitter        float64 // normalised positional jitter over a rolling window, lower is steadier
	TrackAgeFrames int
}

func (c Candidate) area() float64 {
	return float64(c.BBox[2]-c.BBox[0]) * float64(c.BBox[3]-c.BBox[1])
}

func (c Candidate) center() (float64, float64) {
	return float64(c.BBox[0]+c.BBox[2]) / 2, float64(c.BBox[1]+c.BBox[3]) / 2
}

// SelectorWeights are the score-term weights spec §4.6.1 names: face
// size, detection confidence, mouth activity, track stability, and
// geometric centering, summed into one candidate score.
type SelectorWeights struct {
	Size        float64
	Confidence  float64
	Activity    float64
	Stability   float64
	Centering   float64
	MinTrackAge int // frames; tracks younger than this get zero stability credit
}

func DefaultSelectorWeights() SelectorWeights {
	return SelectorWeights{
		Size:        0.30,
		Confidence:  0.20,
		Activity:    0.20,
		Stability:   0.15,
		Centering:   0.15,
		MinTrackAge: 5,
	}
}

// SelectorConfig holds the sticky-primary-subject thresholds spec
// §4.6.1 names.
type SelectorConfig struct {
	SwitchActivityMargin      float64
	PrimarySubjectDwellMS     int64
	ReacquisitionWindowSec    float64
	ReacquisitionDwellFactor  float64
	PaddingFraction           float64 // extra size around the selected bbox
}

func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		SwitchActivityMargin:     0.15,
		PrimarySubjectDwellMS:    1500,
		ReacquisitionWindowSec:   2.0,
		ReacquisitionDwellFactor: 0.25,
		PaddingFraction:          0.25,
	}
}

// Target is the selector's per-frame output: a focus point and desired
// crop size, matching spec §4.6.1's "Output a focus point (cx, cy) and
// a desired size".
type Target struct {
	CX, CY float64
	W, H   float64
	TrackID uint32
}

// TargetSelector maintains the sticky current_primary track across
// frames and the reacquisition-window fast-lock state that follows a
// scene change.
type TargetSelector struct {
	weights SelectorWeights
	cfg     SelectorConfig

	frameWidth, frameHeight float64

	currentPrimary     uint32
	havePrimary        bool
	primarySince       int64 // ms, frame timestamp when current_primary was (re)selected
	sceneChangeAt      int64 // ms; only meaningful when haveSceneChange is set
	haveSceneChange    bool
}

func NewTargetSelector(weights SelectorWeights, cfg SelectorConfig, frameWidth, frameHeight float64) *TargetSelector {
	return &TargetSelector{weights: weights, cfg: cfg, frameWidth: frameWidth, frameHeight: frameHeight}
}

// OnSceneChange resets the sticky primary subject and opens a
// reacquisition window at timeMS, during which dwell requirements are
// relaxed by ReacquisitionDwellFactor (spec §4.6.1's "fast lock").
func (s *TargetSelector) OnSceneChange(timeMS int64) {
	s.havePrimary = false
	s.sceneChangeAt = timeMS
	s.haveSceneChange = true
}

// score computes the weighted sum spec §4.6.1 names for one candidate.
func (s *TargetSelector) score(c Candidate) float64 {
	frameArea := s.frameWidth * s.frameHeight
	sizeScore := 0.0
	if frameArea > 0 {
		sizeScore = clamp01(c.area() / frameArea * 4) // a quarter-frame face scores ~1.0
	}

	activityScore := 0.0
	if c.HasMouth {
		activityScore = clamp01(c.MouthOpenness)
	}

	stabilityScore := 0.0
	if c.TrackAgeFrames >= s.weights.MinTrackAge {
		stabilityScore = clamp01(1.0 - c.Jitter)
	}

	cx, cy := c.center()
	centeringScore := 0.0
	if s.frameWidth > 0 && s.frameHeight > 0 {
		dx := (cx - s.frameWidth/2) / (s.frameWidth / 2)
		dy := (cy - s.frameHeight/2) / (s.frameHeight / 2)
		dist := math.Sqrt(dx*dx + dy*dy)
		centeringScore = clamp01(1.0 - dist)
	}

	return s.weights.Size*sizeScore +
		s.weights.Confidence*float64(c.Confidence) +
		s.weights.Activity*activityScore +
		s.weights.Stability*stabilityScore +
		s.weights.Centering*centeringScore
}

// Select scores every candidate and applies the sticky-primary-subject
// rule: the current primary is kept unless a challenger beats it by
// SwitchActivityMargin AND the current primary has held for the
// (possibly reacquisition-shortened) dwell period.
func (s *TargetSelector) Select(candidates []Candidate, timeMS int64) (Target, bool) {
	if len(candidates) == 0 {
		return Target{}, false
	}

	scored := make(map[uint32]float64, len(candidates))
	byID := make(map[uint32]Candidate, len(candidates))
	best := candidates[0]
	bestScore := math.Inf(-1)
	for _, c := range candidates {
		sc := s.score(c)
		scored[c.TrackID] = sc
		byID[c.TrackID] = c
		if sc > bestScore {
			bestScore = sc
			best = c
		}
	}

	dwellRequired := s.cfg.PrimarySubjectDwellMS
	if s.haveSceneChange && float64(timeMS-s.sceneChangeAt)/1000.0 <= s.cfg.ReacquisitionWindowSec {
		dwellRequired = int64(float64(dwellRequired) * s.cfg.ReacquisitionDwellFactor)
	}

	chosen := best
	if s.havePrimary {
		if cur, ok := byID[s.currentPrimary]; ok {
			curScore := scored[s.currentPrimary]
			held := timeMS - s.primarySince
			if bestScore <= curScore+s.cfg.SwitchActivityMargin || held < dwellRequired {
				chosen = cur
			}
		}
	}

	if !s.havePrimary || chosen.TrackID != s.currentPrimary {
		s.currentPrimary = chosen.TrackID
		s.primarySince = timeMS
		s.havePrimary = true
	}

	cx, cy := chosen.center()
	w := float64(chosen.BBox[2]-chosen.BBox[0]) * (1 + s.cfg.PaddingFraction)
	h := float64(chosen.BBox[3]-chosen.BBox[1]) * (1 + s.cfg.PaddingFraction)

	return Target{CX: cx, CY: cy, W: w, H: h, TrackID: chosen.TrackID}, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
