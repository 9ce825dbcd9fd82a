package vision

import (
	"context"
	"image"
	"math"

	"github.com/vmatresu/viralclipai-sub001/internal/mapping"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

// Models bundles the loaded ONNX sessions an Engine needs. Any detector
// left nil disables the tier features that depend on it (e.g. running
// without an ObjectDetector simply skips Cinematic's optional object
// detections, per spec §4.5 step 1's optional supplement).
type Models struct {
	FaceDetector   *FaceDetector
	FaceMesh       *FaceMesh
	ObjectDetector *ObjectDetector
	ReIDEmbedder   *ReIDEmbedder
}

// EngineConfig holds the optimised-mode tunables spec §4.5 names:
// inference canvas size, decimation schedule, and tracker thresholds.
type EngineConfig struct {
	InferenceWidth  int
	InferenceHeight int
	FPS             int
	Decimator       DecimatorConfig
	IoUThreshold    float32
	MaxTrackGap     int
	ShotThreshold   float64
	MinShotDuration float64
	MeshInputSize   int
	MeshExpandFrac  float64 // ROI expansion before the square mesh crop, spec §4.5 step 5's "expand ROI by 25%"
	ReIDInputSize   int
	ReIDThreshold   float64 // cosine similarity a detection must clear to reclaim a lost track ID
	ReIDMaxAge      int     // frames a pruned track's embedding is kept before it's forgotten
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		InferenceWidth:  960,
		InferenceHeight: 540,
		FPS:             5,
		Decimator:       DefaultDecimatorConfig(),
		IoUThreshold:    0.3,
		MaxTrackGap:     10,
		ShotThreshold:   0.4,
		MinShotDuration: 1.0,
		MeshInputSize:   192,
		MeshExpandFrac:  0.25,
		ReIDInputSize:   112,
		ReIDThreshold:   0.75,
		ReIDMaxAge:      150, // 30s at 5fps: long enough to survive a cutaway, short enough to avoid cross-video drift
	}
}

// Engine runs the tier-dispatched detection pipeline spec §4.4/§4.5
// describe: frame sampling, the optimised-mode decimator + Kalman
// tracker, and (tier-permitting) FaceMesh mouth-openness and shot
// detection, producing the per-frame analysis a SceneNeuralAnalysis is
// built from.
type Engine struct {
	models Models
	cfg    EngineConfig
}

func NewEngine(models Models, cfg EngineConfig) *Engine {
	return &Engine{models: models, cfg: cfg}
}

// motionThreshold and motionMinPixels are the MotionAware tier's
// frame-difference tunables: a per-pixel luma delta past
// motionThreshold counts as moved, and a frame needs at least
// motionMinPixels such pixels to register a motion centre at all
// (otherwise sensor noise on a static shot would "detect" constantly).
const (
	motionThreshold = 24
	motionMinPixels = 400
)

// Result is the Engine's output: per-frame analysis plus, for the
// Cinematic tier, the shot-boundary signals.
type Result struct {
	Frames  []models.FrameAnalysis
	Shots   []models.ShotBoundary
	Objects [][]models.ObjectDetection // aligned with Frames; nil unless an ObjectDetector is configured

	// TrackEmbeddings holds each track's last-seen appearance embedding,
	// nil unless a ReIDEmbedder is configured. Callers persist these for
	// cross-scene re-identification lookups (spec §4.5's re-identification
	// supplement) beyond the tracker's own in-memory lost-track buffer.
	TrackEmbeddings map[uint32][]float32
}

// trackMotion carries enough of the previous frame's tracked state to
// estimate predicted drift for the decimator's force-detect rule.
type trackMotion struct {
	cx, cy float64
}

// Analyze samples videoPath over [tStart, tEnd] at the configured FPS
// and dispatches to the tier-specific detection described in spec
// §4.4/§4.5. A detection failure degrades to a minimal empty-frame
// result (spec §4.4's "minimal analysis... so downstream styles degrade
// to a safe centered crop rather than erroring the job") rather than
// propagating the error.
func (e *Engine) Analyze(ctx context.Context, videoPath string, tStart, tEnd float64, tier models.DetectionTier, frameW, frameH int) Result {
	if tier == models.TierNone {
		return Result{}
	}

	tracker := NewKalmanTracker(e.cfg.IoUThreshold, e.cfg.MaxTrackGap)
	if e.models.ReIDEmbedder != nil {
		tracker.EnableReID(e.cfg.ReIDThreshold, e.cfg.ReIDMaxAge)
	}
	decimator := NewDecimator(e.cfg.Decimator)
	shotDetector := NewShotDetector(e.cfg.ShotThreshold, e.cfg.MinShotDuration)
	meta := mapping.ForYuNet(frameW, frameH, e.cfg.InferenceWidth, e.cfg.InferenceHeight)

	var frames []models.FrameAnalysis
	var objectFrames [][]models.ObjectDetection
	var prevMotion map[uint32]trackMotion
	var lastTrackedDets []TrackedDetection
	var lastHist *Histogram
	trackEmbeddings := map[uint32][]float32{}

	var motionDetector *MotionDetector
	if tier == models.TierMotionAware {
		motionDetector = NewMotionDetector(motionThreshold, motionMinPixels)
	}

	extractor := FrameExtractor{}
	err := extractor.Extract(ctx, videoPath, tStart, tEnd, e.cfg.FPS, func(f Frame) error {
		var sceneCut bool
		if tier == models.TierCinematic {
			hues, sats := SampleHSV(f.Image, 12)
			hist := ComputeHistogram(hues, sats)
			if lastHist != nil {
				dist := ChiSquaredDistance(*lastHist, hist)
				shotDetector.AddSample(f.TimeSec, hist)
				if dist > e.cfg.ShotThreshold {
					sceneCut = true
					decimator.MarkSceneCut()
				}
			} else {
				shotDetector.AddSample(f.TimeSec, hist)
			}
			lastHist = &hist
		}

		minConf := float32(1.0)
		for _, td := range lastTrackedDets {
			if td.Confidence < minConf {
				minConf = td.Confidence
			}
		}

		shouldDetect := decimator.ShouldDetect(DecisionInput{
			ActiveTracks:     tracker.ActiveCount(),
			MinTrackConf:     minConf,
			PredictedDriftPx: e.predictedDrift(tracker, prevMotion),
			FrameWidth:       float64(frameW),
		})

		var tracked []TrackedDetection
		switch {
		case motionDetector != nil:
			// MotionAware: frame-difference motion centre, no neural
			// network (spec §4.4). Runs every sampled frame rather than
			// through the decimator's inference-cost schedule, since
			// there's no model call to amortise.
			motionDets := motionDetector.Detect(f.Image, frameW, frameH, f.TimeSec)
			tracked = tracker.Update(motionDets, nil)
			if motionDets != nil {
				decimator.RecordDetection()
			} else {
				decimator.RecordGap()
			}
		case shouldDetect:
			if sceneCut {
				tracker = NewKalmanTracker(e.cfg.IoUThreshold, e.cfg.MaxTrackGap)
				if e.models.ReIDEmbedder != nil {
					tracker.EnableReID(e.cfg.ReIDThreshold, e.cfg.ReIDMaxAge)
				}
			}
			detsCHW := ToCHW(f.Image, e.cfg.InferenceWidth, e.cfg.InferenceHeight, meta.PadValue)
			faceDets, derr := e.models.FaceDetector.Detect(detsCHW, frameW, frameH)
			if derr != nil {
				// a single failed frame degrades to tracker-only output
				tracked = tracker.Update(nil, nil)
				decimator.RecordGap()
				break
			}
			var embeddings [][]float32
			if e.models.ReIDEmbedder != nil {
				embeddings = e.faceEmbeddings(f.Image, faceDets)
			}
			tracked = tracker.Update(faceDets, embeddings)
			decimator.RecordDetection()
		default:
			tracked = tracker.Update(nil, nil)
			decimator.RecordGap()
		}
		lastTrackedDets = tracked

		nextMotion := make(map[uint32]trackMotion, len(tracked))
		frame := models.FrameAnalysis{Time: tStart + f.TimeSec}
		for _, td := range tracked {
			trackID := td.TrackID
			cx := float64(td.BBox[0]+td.BBox[2]) / 2
			cy := float64(td.BBox[1]+td.BBox[3]) / 2
			nextMotion[trackID] = trackMotion{cx: cx, cy: cy}

			bbox := mapping.FromRaw(
				float64(td.BBox[0]), float64(td.BBox[1]),
				float64(td.BBox[2]-td.BBox[0]), float64(td.BBox[3]-td.BBox[1]),
				float64(frameW), float64(frameH),
			)
			det := models.FaceDetection{BBox: bbox, Score: float64(td.Confidence), TrackID: &trackID}
			if tier >= models.TierSpeakerAware && e.models.FaceMesh != nil {
				if m, ok := e.mouthOpenness(f.Image, td.BBox); ok {
					det.MouthOpenness = &m
				}
			}
			if td.Embedding != nil {
				trackEmbeddings[trackID] = td.Embedding
			}
			frame.Faces = append(frame.Faces, det)
		}
		if tier == models.TierCinematic && e.models.ObjectDetector != nil {
			objDetsCHW := ToCHW(f.Image, e.cfg.InferenceWidth, e.cfg.InferenceHeight, 128)
			if objs, oerr := e.models.ObjectDetector.Detect(objDetsCHW, frameW, frameH); oerr == nil {
				frameObjs := make([]models.ObjectDetection, 0, len(objs))
				for _, o := range objs {
					bbox := mapping.FromRaw(
						float64(o.BBox[0]), float64(o.BBox[1]),
						float64(o.BBox[2]-o.BBox[0]), float64(o.BBox[3]-o.BBox[1]),
						float64(frameW), float64(frameH),
					)
					frameObjs = append(frameObjs, models.ObjectDetection{BBox: bbox, Score: float64(o.Confidence), ClassID: o.ClassID, Label: o.Label()})
				}
				objectFrames = append(objectFrames, frameObjs)
			} else {
				objectFrames = append(objectFrames, nil)
			}
		}

		prevMotion = nextMotion
		frames = append(frames, frame)
		return nil
	})

	if err != nil {
		return Result{Frames: minimalFrames(tStart, tEnd, e.cfg.FPS)}
	}

	result := Result{Frames: frames, Objects: objectFrames}
	if len(trackEmbeddings) > 0 {
		result.TrackEmbeddings = trackEmbeddings
	}
	if tier == models.TierCinematic {
		for _, s := range shotDetector.Finalize(tEnd - tStart) {
			result.Shots = append(result.Shots, models.ShotBoundary{StartTime: s.StartTime, EndTime: s.EndTime})
		}
	}
	return result
}

// mouthOpenness expands the detection's bbox by MeshExpandFrac, square
// crops it, resizes to the mesh input size, and runs FaceMesh, matching
// spec §4.5 step 5.
func (e *Engine) mouthOpenness(img image.Image, bbox [4]float32) (float64, bool) {
	b := img.Bounds()
	w := float64(bbox[2] - bbox[0])
	h := float64(bbox[3] - bbox[1])
	cx := float64(bbox[0]) + w/2
	cy := float64(bbox[1]) + h/2

	side := math.Max(w, h) * (1 + e.cfg.MeshExpandFrac)
	x0 := int(math.Max(float64(b.Min.X), cx-side/2))
	y0 := int(math.Max(float64(b.Min.Y), cy-side/2))
	x1 := int(math.Min(float64(b.Max.X), cx+side/2))
	y1 := int(math.Min(float64(b.Max.Y), cy+side/2))
	if x1 <= x0 || y1 <= y0 {
		return 0, false
	}

	crop := cropImage(img, x0, y0, x1, y1)
	chw := ToCHW(crop, e.cfg.MeshInputSize, e.cfg.MeshInputSize, 0)
	landmarks, err := e.models.FaceMesh.Infer(chw, e.cfg.MeshInputSize, e.cfg.MeshInputSize)
	if err != nil {
		return 0, false
	}
	return MouthOpenness(landmarks), true
}

// faceEmbeddings runs the ReID embedder over each detection's face crop,
// aligned by index with dets; a crop or inference failure leaves that
// slot nil rather than aborting the rest of the frame.
func (e *Engine) faceEmbeddings(img image.Image, dets []FaceDetection) [][]float32 {
	out := make([][]float32, len(dets))
	for i, det := range dets {
		b := img.Bounds()
		x0 := int(math.Max(float64(b.Min.X), float64(det.BBox[0])))
		y0 := int(math.Max(float64(b.Min.Y), float64(det.BBox[1])))
		x1 := int(math.Min(float64(b.Max.X), float64(det.BBox[2])))
		y1 := int(math.Min(float64(b.Max.Y), float64(det.BBox[3])))
		if x1 <= x0 || y1 <= y0 {
			continue
		}
		crop := cropImage(img, x0, y0, x1, y1)
		chw := ToCHW(crop, e.cfg.ReIDInputSize, e.cfg.ReIDInputSize, 0)
		embedding, err := e.models.ReIDEmbedder.Embed(chw)
		if err != nil {
			continue
		}
		out[i] = embedding
	}
	return out
}

// predictedDrift estimates how far the tracker's live tracks have moved
// since the last recorded frame, the signal spec §4.5 step 2's
// "predicted-vs-last position drift > drift_threshold·W" force-detect
// rule checks. Tracks present in both frames contribute their centre
// displacement; the largest displacement wins, matching the spec's
// per-track (not aggregate) drift check.
func (e *Engine) predictedDrift(tracker *KalmanTracker, prev map[uint32]trackMotion) float64 {
	if prev == nil {
		return 0
	}
	var maxDrift float64
	for id, tr := range tracker.tracks {
		p, ok := prev[id]
		if !ok {
			continue
		}
		d := math.Hypot(tr.state[0]-p.cx, tr.state[1]-p.cy)
		if d > maxDrift {
			maxDrift = d
		}
	}
	return maxDrift
}

func minimalFrames(tStart, tEnd float64, fps int) []models.FrameAnalysis {
	if fps <= 0 {
		fps = 1
	}
	n := int((tEnd - tStart) * float64(fps))
	if n < 1 {
		n = 1
	}
	out := make([]models.FrameAnalysis, n)
	for i := range out {
		out[i] = models.FrameAnalysis{Time: tStart + float64(i)/float64(fps)}
	}
	return out
}

// cropImage returns a sub-image view over [x0,y0,x1,y1), falling back to
// a manual pixel copy when the source doesn't support SubImage.
func cropImage(img image.Image, x0, y0, x1, y1 int) image.Image {
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(image.Rect(x0, y0, x1, y1))
	}
	out := image.NewRGBA(image.Rect(0, 0, x1-x0, y1-y0))
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			out.Set(x-x0, y-y0, img.At(x, y))
		}
	}
	return out
}
