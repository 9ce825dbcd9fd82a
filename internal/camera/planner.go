package camera

import (
	"math"

	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

// TrajectoryConfig holds the batch optimiser's tunables plus the
// heuristics that classify a shot into one of the three CameraModes
// spec §4.6.3 names, since neither original_source nor spec.md pins
// down the exact classification thresholds (DESIGN.md open-question
// decision #6).
type TrajectoryConfig struct {
	PolynomialDegree              int
	SmoothnessWeight             float64
	SampleRate                   float64 // samples per second
	StationaryVarianceThresholdPx float64
	PanningLinearityThreshold     float64
}

func DefaultTrajectoryConfig() TrajectoryConfig {
	return TrajectoryConfig{
		PolynomialDegree:               3,
		SmoothnessWeight:               0.01,
		SampleRate:                     30,
		StationaryVarianceThresholdPx:  6.0,
		PanningLinearityThreshold:      0.92,
	}
}

// CropConfig holds spec §4.6.4's crop-computation tunables: zoom
// bounds, the safe margin kept clear of the source frame edge, and the
// target output aspect ratio.
type CropConfig struct {
	MinZoom       float64
	MaxZoom       float64
	SafeMarginPx  float64
	TargetAspectW int
	TargetAspectH int
}

func DefaultCropConfig() CropConfig {
	return CropConfig{MinZoom: 1.0, MaxZoom: 4.0, SafeMarginPx: 8, TargetAspectW: 9, TargetAspectH: 16}
}

// PlannerConfig bundles every tunable the full camera-planning pipeline
// needs: target selection, smoothing, batch trajectory optimisation,
// and crop computation.
type PlannerConfig struct {
	Weights    SelectorWeights
	Selector   SelectorConfig
	Smoother   SmootherConfig
	Trajectory TrajectoryConfig
	Crop       CropConfig
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Weights:    DefaultSelectorWeights(),
		Selector:   DefaultSelectorConfig(),
		Smoother:   DefaultSmootherConfig(),
		Trajectory: DefaultTrajectoryConfig(),
		Crop:       DefaultCropConfig(),
	}
}

// Stats is spec §4.6.5's planner observability output.
type Stats struct {
	TotalFrames          int
	DropoutFrames        int
	SceneChanges         int
	SubjectSwitches      int
	MinZoom              float64
	MaxZoom              float64
	PeakPanSpeedPxPerSec float64
}

// FrameDetections is one sampled frame's raw-pixel-space candidates,
// plus whether a shot boundary starts at this frame.
type FrameDetections struct {
	TimeMS      int64
	Dets        []Candidate
	SceneChange bool
}

// Planner ties the target selector, smoother/trajectory-optimiser
// dispatch, and crop computation into the single per-scene operation
// spec §4.6 calls "the hardest single subsystem".
type Planner struct {
	cfg            PlannerConfig
	frameW, frameH float64
}

func NewPlanner(cfg PlannerConfig, frameW, frameH float64) *Planner {
	return &Planner{cfg: cfg, frameW: frameW, frameH: frameH}
}

// Plan runs the full pipeline over one scene's sampled frames. useL1
// selects the cinematic-tier batch L1/L2 trajectory path (spec §4.6.3)
// in place of the per-frame EMA smoother (spec §4.6.2); styles below
// the cinematic tier always pass false.
func (p *Planner) Plan(frames []FrameDetections, useL1 bool) ([]models.CropWindow, Stats) {
	selector := NewTargetSelector(p.cfg.Weights, p.cfg.Selector, p.frameW, p.frameH)
	stats := Stats{MinZoom: math.Inf(1), MaxZoom: math.Inf(-1)}

	var out []models.CropWindow
	if useL1 {
		out = p.planTrajectory(frames, selector, &stats)
	} else {
		out = p.planSmoothed(frames, selector, &stats)
	}
	if math.IsInf(stats.MinZoom, 1) {
		stats.MinZoom = 0
	}
	if math.IsInf(stats.MaxZoom, -1) {
		stats.MaxZoom = 0
	}
	return out, stats
}

func (p *Planner) planSmoothed(frames []FrameDetections, selector *TargetSelector, stats *Stats) []models.CropWindow {
	smoother := NewSmoother(p.cfg.Smoother, p.frameW, p.frameH)

	var out []models.CropWindow
	var lastSubject uint32
	haveSubject := false
	var lastTimeMS int64
	haveLastTime := false
	var prevKf Keyframe
	havePrevKf := false

	for _, f := range frames {
		stats.TotalFrames++
		if f.SceneChange {
			stats.SceneChanges++
			selector.OnSceneChange(f.TimeMS)
		}

		target, ok := selector.Select(f.Dets, f.TimeMS)

		var kf Keyframe
		if !ok {
			elapsed := 0.0
			if haveLastTime {
				elapsed = float64(f.TimeMS-lastTimeMS) / 1000.0
			}
			stats.DropoutFrames++
			kf = smoother.Dropout(elapsed)
		} else {
			if haveSubject && target.TrackID != lastSubject {
				stats.SubjectSwitches++
			}
			lastSubject = target.TrackID
			haveSubject = true

			if f.SceneChange {
				kf = smoother.SceneChange(target, float64(f.TimeMS))
			} else {
				kf = smoother.Step(target, float64(f.TimeMS))
			}
		}

		dtSec := 0.0
		if havePrevKf {
			dtSec = (kf.Time - prevKf.Time) / 1000.0
		}
		p.accumulateStats(stats, kf, prevKf, havePrevKf, dtSec)
		out = append(out, p.computeCrop(kf, kf.Time/1000.0))

		prevKf = kf
		havePrevKf = true
		lastTimeMS = f.TimeMS
		haveLastTime = true
	}
	return out
}

func (p *Planner) planTrajectory(frames []FrameDetections, selector *TargetSelector, stats *Stats) []models.CropWindow {
	var raw []Keyframe
	var lastSubject uint32
	haveSubject := false

	for _, f := range frames {
		stats.TotalFrames++
		if f.SceneChange {
			stats.SceneChanges++
			selector.OnSceneChange(f.TimeMS)
		}

		target, ok := selector.Select(f.Dets, f.TimeMS)
		if !ok {
			stats.DropoutFrames++
			continue
		}
		if haveSubject && target.TrackID != lastSubject {
			stats.SubjectSwitches++
		}
		lastSubject = target.TrackID
		haveSubject = true

		raw = append(raw, Keyframe{
			Time: float64(f.TimeMS) / 1000.0,
			CX:   target.CX, CY: target.CY,
			W: target.W, H: target.H,
		})
	}

	if len(raw) == 0 {
		return nil
	}

	mode := classifyMode(raw, p.cfg.Trajectory)
	opt := NewTrajectoryOptimizer(TrajectoryMethodL1Optimal, p.cfg.Trajectory.PolynomialDegree, p.cfg.Trajectory.SmoothnessWeight, p.cfg.Trajectory.SampleRate)
	smoothed := opt.Optimize(raw, mode)

	out := make([]models.CropWindow, 0, len(smoothed))
	var prevKf Keyframe
	havePrev := false
	for _, kf := range smoothed {
		dtSec := 0.0
		if havePrev {
			dtSec = kf.Time - prevKf.Time
		}
		p.accumulateStats(stats, kf, prevKf, havePrev, dtSec)
		out = append(out, p.computeCrop(kf, kf.Time))
		prevKf = kf
		havePrev = true
	}
	return out
}

// classifyMode applies the variance/linearity heuristics
// TrajectoryConfig names to pick Stationary, Panning, or Tracking for
// one shot's raw target path.
func classifyMode(kfs []Keyframe, cfg TrajectoryConfig) CameraMode {
	spread := math.Hypot(
		stddev(extract(kfs, func(k Keyframe) float64 { return k.CX })),
		stddev(extract(kfs, func(k Keyframe) float64 { return k.CY })),
	)
	if spread <= cfg.StationaryVarianceThresholdPx {
		return CameraModeStationary
	}
	if isRoughlyLinear(kfs, cfg.PanningLinearityThreshold) {
		return CameraModePanning
	}
	return CameraModeTracking
}

// isRoughlyLinear compares the direct first-to-last distance against
// the accumulated path length: a path that wanders scores low
// efficiency and is classified as Tracking instead.
func isRoughlyLinear(kfs []Keyframe, threshold float64) bool {
	if len(kfs) < 3 {
		return true
	}
	first, last := kfs[0], kfs[len(kfs)-1]
	direct := math.Hypot(last.CX-first.CX, last.CY-first.CY)
	if direct < 1e-6 {
		return false
	}
	var pathLen float64
	for i := 1; i < len(kfs); i++ {
		pathLen += math.Hypot(kfs[i].CX-kfs[i-1].CX, kfs[i].CY-kfs[i-1].CY)
	}
	if pathLen < 1e-6 {
		return false
	}
	return direct/pathLen >= threshold
}

func stddev(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	m := mean(v)
	var sum float64
	for _, x := range v {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(v)))
}

// accumulateStats folds one emitted keyframe into the running planner
// stats (spec §4.6.5): zoom range and peak pan speed, the latter only
// once a previous keyframe exists to measure displacement against.
func (p *Planner) accumulateStats(stats *Stats, kf, prevKf Keyframe, havePrev bool, dtSec float64) {
	zoom := 1.0
	if kf.W > 0 && p.frameW > 0 {
		zoom = p.frameW / kf.W
	}
	if zoom < stats.MinZoom {
		stats.MinZoom = zoom
	}
	if zoom > stats.MaxZoom {
		stats.MaxZoom = zoom
	}
	if havePrev && dtSec > 0 {
		dist := math.Hypot(kf.CX-prevKf.CX, kf.CY-prevKf.CY)
		speed := dist / dtSec
		if speed > stats.PeakPanSpeedPxPerSec {
			stats.PeakPanSpeedPxPerSec = speed
		}
	}
}

// computeCrop derives a pixel-aligned, aspect-correct CropWindow from a
// camera keyframe, spec §4.6.4: clamp width to the configured zoom
// range, derive height from the target aspect, clamp the centre so the
// rect stays inside the frame minus the safe margin, and round to even
// integers (H.264 requirement).
func (p *Planner) computeCrop(kf Keyframe, timeSec float64) models.CropWindow {
	cfg := p.cfg.Crop
	minW := p.frameW / cfg.MaxZoom
	maxW := p.frameW / cfg.MinZoom

	w := clamp(kf.W, minW, maxW)
	h := w * float64(cfg.TargetAspectH) / float64(cfg.TargetAspectW)
	if h > p.frameH {
		h = p.frameH
		w = h * float64(cfg.TargetAspectW) / float64(cfg.TargetAspectH)
	}

	halfW, halfH := w/2, h/2
	margin := cfg.SafeMarginPx

	cx := kf.CX
	if minCX, maxCX := margin+halfW, p.frameW-margin-halfW; minCX <= maxCX {
		cx = clamp(cx, minCX, maxCX)
	} else {
		cx = p.frameW / 2
	}

	cy := kf.CY
	if minCY, maxCY := margin+halfH, p.frameH-margin-halfH; minCY <= maxCY {
		cy = clamp(cy, minCY, maxCY)
	} else {
		cy = p.frameH / 2
	}

	return models.CropWindow{
		Time: timeSec,
		X:    evenInt(cx - halfW),
		Y:    evenInt(cy - halfH),
		W:    evenInt(w),
		H:    evenInt(h),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func evenInt(v float64) int {
	n := int(math.Round(v))
	if n%2 != 0 {
		n--
	}
	if n < 0 {
		n = 0
	}
	return n
}
