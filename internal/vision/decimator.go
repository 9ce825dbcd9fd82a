package vision

// DecimatorConfig mirrors the intelligent-crop engine's optimised-mode
// tunables (spec §4.5): how often to detect, how long to cool down, and
// the thresholds that force an out-of-schedule detection.
type DecimatorConfig struct {
	DetectEveryN          int
	MinDetectionInterval  int // frames
	MinConfidence         float32
	DriftThresholdFrac    float64 // fraction of frame width
}

func DefaultDecimatorConfig() DecimatorConfig {
	return DecimatorConfig{
		DetectEveryN:         5,
		MinDetectionInterval: 2,
		MinConfidence:        0.5,
		DriftThresholdFrac:   0.1,
	}
}

// Decimator is the per-frame state machine spec §4.5 describes: it
// decides whether a given frame should run full inference (a keyframe)
// or rely on tracker prediction alone (a gap frame).
type Decimator struct {
	cfg              DecimatorConfig
	frameIndex       int
	framesSinceDet   int
	pendingSceneCut  bool
	keyframeCount    int
	gapCount         int
	sceneCutCount    int
}

func NewDecimator(cfg DecimatorConfig) *Decimator {
	return &Decimator{cfg: cfg, framesSinceDet: 1 << 30}
}

// DecisionInput carries the signals the decimator needs beyond its own
// internal counters.
type DecisionInput struct {
	ActiveTracks     int
	MinTrackConf     float32 // lowest confidence among active tracks this gap
	PredictedDriftPx float64
	FrameWidth       float64
}

// ShouldDetect implements the force-detect rules of spec §4.5 step 2:
// always on frame 0, every detect_every_n frames subject to cooldown,
// or forced on pending scene cut / all-tracks-lost / low confidence /
// excessive predicted drift.
func (d *Decimator) ShouldDetect(in DecisionInput) bool {
	defer func() { d.frameIndex++ }()

	if d.frameIndex == 0 {
		return true
	}

	coolingDown := d.framesSinceDet < d.cfg.MinDetectionInterval

	if d.pendingSceneCut && !coolingDown {
		d.pendingSceneCut = false
		d.sceneCutCount++
		return true
	}
	if in.ActiveTracks == 0 && !coolingDown {
		return true
	}
	if in.MinTrackConf < d.cfg.MinConfidence && in.ActiveTracks > 0 && !coolingDown {
		return true
	}
	if in.FrameWidth > 0 && in.PredictedDriftPx > d.cfg.DriftThresholdFrac*in.FrameWidth && !coolingDown {
		return true
	}
	if d.framesSinceDet+1 >= d.cfg.DetectEveryN && !coolingDown {
		return true
	}
	return false
}

// RecordDetection must be called after ShouldDetect returns true and
// inference actually ran.
func (d *Decimator) RecordDetection() {
	d.framesSinceDet = 0
	d.keyframeCount++
}

// RecordGap must be called after ShouldDetect returns false.
func (d *Decimator) RecordGap() {
	d.framesSinceDet++
	d.gapCount++
}

// MarkSceneCut flags that a scene cut was observed; the decimator will
// force a detection (and reset tracking) on the next eligible frame.
func (d *Decimator) MarkSceneCut() { d.pendingSceneCut = true }

// Stats reports the throughput multiplier spec §4.5 names:
// (keyframes+gaps)/keyframes, approximately detect_every_n.
type Stats struct {
	Keyframes          int
	Gaps               int
	SceneCuts          int
	ThroughputMultiplier float64
}

func (d *Decimator) Stats() Stats {
	total := d.keyframeCount + d.gapCount
	mult := 0.0
	if d.keyframeCount > 0 {
		mult = float64(total) / float64(d.keyframeCount)
	}
	return Stats{
		Keyframes:            d.keyframeCount,
		Gaps:                 d.gapCount,
		SceneCuts:             d.sceneCutCount,
		ThroughputMultiplier: mult,
	}
}
