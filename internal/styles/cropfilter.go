package styles

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/vmatresu/viralclipai-sub001/internal/camera"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

// planCrops converts a scene's cached neural analysis into the per-frame
// camera.FrameDetections the planner needs, runs the planner (L1/L2
// trajectory for the cinematic tier, the per-frame smoother otherwise),
// and returns the resulting crop-window sequence.
func planCrops(req Request) ([]models.CropWindow, error) {
	if req.Analysis == nil {
		return nil, fmt.Errorf("plan crops: no cached analysis on request")
	}

	segStart, _ := req.Task.PaddedRange()
	segStartSec := segStart.Seconds()

	dets := req.Analysis.ToCropperDetections(req.FrameWidth, req.FrameHeight)

	history := newJitterTracker()
	frames := make([]camera.FrameDetections, 0, len(req.Analysis.Frames))
	faceCandidates := make([][]camera.Candidate, 0, len(req.Analysis.Frames))
	sceneCutTimes := sceneCutSet(req.Analysis)

	for i, frame := range req.Analysis.Frames {
		relSec := frame.Time - segStartSec
		if relSec < 0 {
			relSec = 0
		}
		timeMS := int64(relSec * 1000)

		candidates := make([]camera.Candidate, 0, len(dets[i]))
		for _, d := range dets[i] {
			trackID := uint32(0)
			if d.TrackID != nil {
				trackID = *d.TrackID
			}
			jitter, age := history.update(trackID, d.CX, d.CY, timeMS)
			candidates = append(candidates, camera.Candidate{
				TrackID:        trackID,
				BBox:           [4]float32{float32(d.CX - d.W/2), float32(d.CY - d.H/2), float32(d.CX + d.W/2), float32(d.CY + d.H/2)},
				Confidence:     float32(d.Score),
				Jitter:         jitter,
				TrackAgeFrames: age,
			})
		}
		faceCandidates = append(faceCandidates, candidates)

		frames = append(frames, camera.FrameDetections{
			TimeMS:      timeMS,
			Dets:        candidates,
			SceneChange: sceneCutTimes[timeMS],
		})
	}

	cfg := req.PlannerConfig
	useL1 := req.Task.Style == models.StyleIntelligentCinematic
	if useL1 && req.Analysis.CinematicSignals != nil && len(req.Analysis.CinematicSignals.ObjectDetections) > 0 {
		objectFrames := objectDetectionsToBBoxes(req.Analysis.CinematicSignals.ObjectDetections, float64(req.FrameWidth), float64(req.FrameHeight))
		fuseFaceless(frames, faceCandidates, objectFrames, req.Analysis.CinematicSignals.ObjectDetections, float64(req.FrameWidth), float64(req.FrameHeight))

		analyzer := camera.NewSceneCompositionAnalyzer(float64(req.FrameWidth), float64(req.FrameHeight))
		composition := analyzer.Analyze(faceCandidates, objectFrames)
		applyCompositionZoom(&cfg.Crop, composition)
	}

	planner := camera.NewPlanner(cfg, float64(req.FrameWidth), float64(req.FrameHeight))
	crops, _ := planner.Plan(frames, useL1)
	return crops, nil
}

// cocoPersonClassID is YOLOv8's COCO class id for "person", the only
// object class weighted like a face track in signal fusion.
const cocoPersonClassID = 0

// objectDetectionsToBBoxes denormalises cached per-frame object
// detections into raw pixel space, mirroring
// SceneNeuralAnalysis.ToCropperDetections for faces.
func objectDetectionsToBBoxes(frames [][]models.ObjectDetection, frameW, frameH float64) [][]camera.BBox {
	out := make([][]camera.BBox, len(frames))
	for i, dets := range frames {
		boxes := make([]camera.BBox, 0, len(dets))
		for _, d := range dets {
			r := d.BBox.ToRaw(frameW, frameH)
			boxes = append(boxes, camera.BBox{X: r.X, Y: r.Y, W: r.W, H: r.H})
		}
		out[i] = boxes
	}
	return out
}

// fuseFaceless fills in a synthetic candidate, via signal fusion, for
// frames where no face was detected but objects were: a presenter
// gesturing at a whiteboard, hands holding a product, and similar
// scenes the face-only target selector would otherwise treat as empty.
func fuseFaceless(frames []camera.FrameDetections, faceCandidates [][]camera.Candidate, objectFrames [][]camera.BBox, objectDets [][]models.ObjectDetection, frameW, frameH float64) {
	calc := camera.DefaultSignalFusingCalculator()
	for i := range frames {
		if len(faceCandidates[i]) > 0 || i >= len(objectFrames) || len(objectFrames[i]) == 0 {
			continue
		}
		classIDs := make([]int, len(objectFrames[i]))
		for j := range classIDs {
			classIDs[j] = objectDets[i][j].ClassID
		}
		signals := calc.FuseObjects(objectFrames[i], classIDs, cocoPersonClassID)
		focus := calc.ComputeCombinedFocus(signals, frameW, frameH, 0.2)
		frames[i].Dets = append(frames[i].Dets, camera.Candidate{
			TrackID:    math.MaxUint32,
			BBox:       [4]float32{float32(focus.X), float32(focus.Y), float32(focus.X + focus.W), float32(focus.Y + focus.H)},
			Confidence: 0.5,
		})
	}
}

// applyCompositionZoom sets the planner's minimum zoom (the widest crop
// it may emit) from the scene's subject arrangement, so a close-up single
// speaker is framed tighter than a group shot. The new minimum is clamped
// to [1, MaxZoom]; MaxZoom itself is left unchanged.
func applyCompositionZoom(crop *camera.CropConfig, composition camera.SceneComposition) {
	if composition.SubjectCount == 0 {
		return
	}
	fraction := composition.Arrangement.RecommendedZoom()
	if fraction <= 0 {
		return
	}
	zoom := 1.0 / fraction
	if zoom > crop.MaxZoom {
		zoom = crop.MaxZoom
	}
	if zoom < 1.0 {
		zoom = 1.0
	}
	crop.MinZoom = zoom
}

func sceneCutSet(a *models.SceneNeuralAnalysis) map[int64]bool {
	out := map[int64]bool{}
	if a.CinematicSignals == nil {
		return out
	}
	for _, shot := range a.CinematicSignals.Shots {
		out[int64(shot.StartTime*1000)] = true
	}
	return out
}

// jitterTracker keeps a short rolling window of recent centres per
// track, deriving a normalised jitter score and a frame-count age for
// the target selector's stability term.
type jitterTracker struct {
	history map[uint32][][2]float64
	age     map[uint32]int
}

func newJitterTracker() *jitterTracker {
	return &jitterTracker{history: map[uint32][][2]float64{}, age: map[uint32]int{}}
}

const jitterWindow = 8

func (j *jitterTracker) update(trackID uint32, cx, cy float64, _ int64) (float64, int) {
	h := append(j.history[trackID], [2]float64{cx, cy})
	if len(h) > jitterWindow {
		h = h[len(h)-jitterWindow:]
	}
	j.history[trackID] = h
	j.age[trackID]++

	if len(h) < 2 {
		return 0, j.age[trackID]
	}
	var sumDist float64
	for i := 1; i < len(h); i++ {
		sumDist += math.Hypot(h[i][0]-h[i-1][0], h[i][1]-h[i-1][1])
	}
	avgJump := sumDist / float64(len(h)-1)
	return clamp01Fraction(avgJump / 50.0), j.age[trackID]
}

func clamp01Fraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// buildCropFilter renders crops as a fixed-size crop window panning via
// a sendcmd-driven x/y track: ffmpeg's crop filter supports runtime x/y
// commands but not runtime w/h, so the scene's width/height is fixed to
// their median across the planned path (DESIGN.md open-question
// decision #7) and only the pan position is time-varying.
func buildCropFilter(crops []models.CropWindow, frameW, frameH int, task models.SceneTask) (string, string, func(), error) {
	if len(crops) == 0 {
		return "", "", func() {}, fmt.Errorf("build crop filter: no crop windows planned")
	}

	fixedW := medianInt(extractInt(crops, func(c models.CropWindow) int { return c.W }))
	fixedH := medianInt(extractInt(crops, func(c models.CropWindow) int { return c.H }))
	if fixedW < 2 {
		fixedW = 2
	}
	if fixedH < 2 {
		fixedH = 2
	}
	maxX := frameW - fixedW
	maxY := frameH - fixedH
	if maxX < 0 {
		maxX = 0
	}
	if maxY < 0 {
		maxY = 0
	}

	cmdFile, err := os.CreateTemp("", "crop-cmds-*.txt")
	if err != nil {
		return "", "", func() {}, fmt.Errorf("create sendcmd file: %w", err)
	}
	cleanup := func() { os.Remove(cmdFile.Name()) }

	for _, c := range crops {
		x := clampInt(c.X, 0, maxX)
		y := clampInt(c.Y, 0, maxY)
		fmt.Fprintf(cmdFile, "%.3f crop x %d, crop y %d;\n", c.Time, x, y)
	}
	if err := cmdFile.Close(); err != nil {
		cleanup()
		return "", "", func() {}, fmt.Errorf("write sendcmd file: %w", err)
	}

	aw, ah := aspectOrDefault(task)
	outW, outH := fitAspect(fixedW, fixedH, aw, ah)

	graph := fmt.Sprintf(
		"[0:v]sendcmd=f='%s',crop=w=%d:h=%d:x=%d:y=%d,scale=%d:%d:flags=lanczos,setsar=1,format=yuv420p[vout]",
		escapeFilterPath(cmdFile.Name()), fixedW, fixedH, crops[0].X, crops[0].Y, outW, outH,
	)
	return graph, "vout", cleanup, nil
}

func escapeFilterPath(p string) string {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == ':' || p[i] == '\\' || p[i] == '\'' {
			out = append(out, '\\')
		}
		out = append(out, p[i])
	}
	return string(out)
}

func extractInt(crops []models.CropWindow, f func(models.CropWindow) int) []int {
	out := make([]int, len(crops))
	for i, c := range crops {
		out[i] = f(c)
	}
	return out
}

func medianInt(v []int) int {
	if len(v) == 0 {
		return 0
	}
	s := append([]int(nil), v...)
	sort.Ints(s)
	return s[len(s)/2]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
