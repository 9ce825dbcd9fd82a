// Package models holds the domain entities of the clip-production
// pipeline (spec §3), grounded on original_source/vclip-models. Types
// here are shared across the object-store (JSON blobs) and document-store
// (JSONB rows) adapters, so every type round-trips through encoding/json.
package models

import (
	"time"

	"github.com/vmatresu/viralclipai-sub001/internal/mapping"
)

// DetectionTier is the detection capability level. Higher tiers subsume
// lower tiers; rank ordering is the zero-based iota below.
type DetectionTier int

const (
	TierNone DetectionTier = iota
	TierBasic
	TierMotionAware
	TierSpeakerAware
	TierCinematic
)

func (t DetectionTier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierBasic:
		return "basic"
	case TierMotionAware:
		return "motion_aware"
	case TierSpeakerAware:
		return "speaker_aware"
	case TierCinematic:
		return "cinematic"
	default:
		return "unknown"
	}
}

// Satisfies reports whether this tier (the cached tier) satisfies a
// requested tier, per spec §3's rank-ordering invariant.
func (t DetectionTier) Satisfies(requested DetectionTier) bool {
	return t >= requested
}

// Style is the closed set of output styles (spec §4.7), modelled as a
// tagged enum rather than open-world inheritance per spec §9.
type Style string

const (
	StyleOriginal             Style = "original"
	StyleSplit                Style = "split"
	StyleLeftFocus            Style = "left_focus"
	StyleCenterFocus          Style = "center_focus"
	StyleRightFocus           Style = "right_focus"
	StyleIntelligent          Style = "intelligent"
	StyleIntelligentSpeaker   Style = "intelligent_speaker"
	StyleIntelligentMotion    Style = "intelligent_motion"
	StyleIntelligentCinematic Style = "intelligent_cinematic"
	StyleIntelligentSplit     Style = "intelligent_split"
	StyleStreamer             Style = "streamer"
	StyleTopScenes            Style = "top_scenes"
)

// RequiredTier returns the minimum detection tier a style needs.
func (s Style) RequiredTier() DetectionTier {
	switch s {
	case StyleOriginal, StyleSplit, StyleLeftFocus, StyleCenterFocus, StyleRightFocus:
		return TierNone
	case StyleIntelligent, StyleIntelligentSplit, StyleStreamer, StyleTopScenes:
		return TierBasic
	case StyleIntelligentMotion:
		return TierMotionAware
	case StyleIntelligentSpeaker:
		return TierSpeakerAware
	case StyleIntelligentCinematic:
		return TierCinematic
	default:
		return TierBasic
	}
}

// UsesCache reports whether the style consumes the cached neural
// analysis at all (static families do not).
func (s Style) UsesCache() bool {
	return s.RequiredTier() > TierNone
}

// SourceVideoStatus tracks the lifecycle of a cached source video.
type SourceVideoStatus string

const (
	SourceAbsent      SourceVideoStatus = "absent"
	SourceDownloading SourceVideoStatus = "downloading"
	SourceReady       SourceVideoStatus = "ready"
	SourceFailed      SourceVideoStatus = "failed"
)

// SourceVideo is the per-(user,video) cached download record.
type SourceVideo struct {
	UserID    string            `json:"user_id"`
	VideoID   string            `json:"video_id"`
	SourceURL string            `json:"source_url"`
	ObjectKey string            `json:"object_key"`
	Status    SourceVideoStatus `json:"status"`
	Error     string            `json:"error,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SceneTask is one operator-selected scene/style pairing: a single clip
// task (spec's "Scene / clip task" entity).
type SceneTask struct {
	SceneID         uint32        `json:"scene_id"`
	Start           time.Duration `json:"start"`
	End             time.Duration `json:"end"`
	PadBefore       time.Duration `json:"pad_before"`
	PadAfter        time.Duration `json:"pad_after"`
	Style           Style         `json:"style"`
	Priority        int           `json:"priority"`
	CutSilentParts  bool          `json:"cut_silent_parts"`
	TargetAspectW   int           `json:"target_aspect_w"`
	TargetAspectH   int           `json:"target_aspect_h"`
	StyleParamsJSON string        `json:"style_params,omitempty"`
}

// PaddedRange returns the (start,end) extended by pad_before/pad_after,
// clamped so start never goes negative (spec §3 invariant).
func (s SceneTask) PaddedRange() (time.Duration, time.Duration) {
	start := s.Start - s.PadBefore
	if start < 0 {
		start = 0
	}
	return start, s.End + s.PadAfter
}

// Job is one operator-submitted production job: a source video plus an
// ordered list of scene tasks.
type Job struct {
	JobID     string      `json:"job_id"`
	UserID    string      `json:"user_id"`
	VideoID   string      `json:"video_id"`
	SourceURL string      `json:"source_url"`
	Plan      PlanTier    `json:"plan"`
	Scenes    []SceneTask `json:"scenes"`
}

// FaceDetection is one detected face within a FrameAnalysis.
type FaceDetection struct {
	BBox          mapping.NormalizedBBox `json:"bbox"`
	Score         float64                `json:"score"`
	TrackID       *uint32                `json:"track_id,omitempty"`
	MouthOpenness *float64               `json:"mouth_openness,omitempty"`
}

// CenterX / CenterY are convenience accessors matching the optional
// center_x/center_y fields in the persisted schema (spec §6.4).
func (f FaceDetection) CenterX() float64 { x, _ := f.BBox.Center(); return x }
func (f FaceDetection) CenterY() float64 { _, y := f.BBox.Center(); return y }

// FrameAnalysis is the per-sampled-frame detection record.
type FrameAnalysis struct {
	Time  float64         `json:"time"`
	Faces []FaceDetection `json:"faces"`
}

// PrimaryFace returns the highest-score face in the frame, if any.
func (f FrameAnalysis) PrimaryFace() (FaceDetection, bool) {
	if len(f.Faces) == 0 {
		return FaceDetection{}, false
	}
	best := f.Faces[0]
	for _, d := range f.Faces[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	return best, true
}

// ShotBoundary is one detected shot in the cinematic signals cache.
type ShotBoundary struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// ObjectDetection is one YOLOv8 detection feeding the cinematic tier's
// signal fusion (SPEC_FULL §4.5 supplement).
type ObjectDetection struct {
	BBox    mapping.NormalizedBBox `json:"bbox"`
	Score   float64                `json:"score"`
	ClassID int                    `json:"class_id"`
	Label   string                 `json:"label"`
}

// CinematicSignalsVersion is bumped whenever the shot-detection algorithm
// or its persisted shape changes incompatibly.
const CinematicSignalsVersion = 1

// CinematicSignalsCache holds the cinematic-tier-only signals computed
// alongside FrameAnalysis: shot boundaries and (optional, per DESIGN.md
// open-question decision #3) object detections.
type CinematicSignalsCache struct {
	Shots             []ShotBoundary      `json:"shots"`
	Version           int                 `json:"version"`
	ShotThreshold     float64             `json:"shot_threshold"`
	MinShotDuration   float64             `json:"min_shot_duration"`
	ObjectDetections  [][]ObjectDetection `json:"object_detections,omitempty"`
}

// IsValid reports whether the cache was computed with the current
// threshold/min-duration configuration (a config change invalidates it
// the same way an analysis_version bump does for FrameAnalysis).
func (c CinematicSignalsCache) IsValid(threshold, minDuration float64) bool {
	return c.Version == CinematicSignalsVersion &&
		c.ShotThreshold == threshold && c.MinShotDuration == minDuration
}

// AnalysisVersion is bumped whenever the on-disk schema of
// SceneNeuralAnalysis changes incompatibly.
const AnalysisVersion = 1

// SceneNeuralAnalysis is the cached neural-analysis record for one scene,
// shared across all styles of that scene (spec §4.4's central contract).
type SceneNeuralAnalysis struct {
	UserID           string                  `json:"user_id"`
	VideoID          string                  `json:"video_id"`
	SceneID          uint32                  `json:"scene_id"`
	DetectionTier    DetectionTier           `json:"detection_tier"`
	AnalysisVersion  int                     `json:"analysis_version"`
	Frames           []FrameAnalysis         `json:"frames"`
	CinematicSignals *CinematicSignalsCache  `json:"cinematic_signals,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
}

// IsCurrentVersion reports whether the analysis matches the compiled-in
// schema version.
func (a SceneNeuralAnalysis) IsCurrentVersion() bool {
	return a.AnalysisVersion == AnalysisVersion
}

// SatisfiesRequest implements spec §3's cache-hit contract: cached iff
// the analysis is current-version and the cached tier is at least the requested
// tier.
func (a SceneNeuralAnalysis) SatisfiesRequest(requestedTier DetectionTier) bool {
	return a.IsCurrentVersion() && a.DetectionTier.Satisfies(requestedTier)
}

// CropperDetection is per-frame detection reshaped for the camera
// planner's consumption (raw pixel space, not normalised).
type CropperDetection struct {
	CX, CY  float64
	W, H    float64
	Score   float64
	TrackID *uint32
}

// ToCropperDetections converts every frame's normalised faces into raw
// pixel-space detections for the given frame size, mirroring
// original_source's SceneNeuralAnalysis::to_cropper_detections.
func (a SceneNeuralAnalysis) ToCropperDetections(frameW, frameH int) [][]CropperDetection {
	out := make([][]CropperDetection, len(a.Frames))
	fw, fh := float64(frameW), float64(frameH)
	for i, frame := range a.Frames {
		dets := make([]CropperDetection, 0, len(frame.Faces))
		for _, f := range frame.Faces {
			r := f.BBox.ToRaw(fw, fh)
			dets = append(dets, CropperDetection{
				CX: r.X + r.W/2, CY: r.Y + r.H/2,
				W: r.W, H: r.H,
				Score: f.Score, TrackID: f.TrackID,
			})
		}
		out[i] = dets
	}
	return out
}

// ClipStatus is the lifecycle of a rendered clip.
type ClipStatus string

const (
	ClipQueued    ClipStatus = "queued"
	ClipRendering ClipStatus = "rendering"
	ClipCompleted ClipStatus = "completed"
	ClipFailed    ClipStatus = "failed"
)

// ClipMetadata is the persisted record for one rendered clip.
type ClipMetadata struct {
	ClipID         string     `json:"clip_id"`
	UserID         string     `json:"user_id"`
	VideoID        string     `json:"video_id"`
	SceneID        uint32     `json:"scene_id"`
	Style          Style      `json:"style"`
	R2Key          string     `json:"r2_key"`
	RawR2Key       string     `json:"raw_r2_key"`
	ThumbnailR2Key string     `json:"thumbnail_r2_key,omitempty"`
	SizeBytes      int64      `json:"size_bytes"`
	DurationSec    float64    `json:"duration_seconds"`
	Status         ClipStatus `json:"status"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ClipID derives the deterministic clip identifier (spec §6.5).
func ClipID(videoID string, sceneID uint32, style Style) string {
	return videoID + "_" + uint32ToString(sceneID) + "_" + string(style)
}

func uint32ToString(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// PlanTier is a billing plan tier, read-mostly, mapping to a storage
// quota limit.
type PlanTier string

const (
	PlanFree PlanTier = "free"
	PlanPro  PlanTier = "pro"
	PlanMax  PlanTier = "max"
)

// StorageLimitBytes returns the quota ceiling for a plan tier.
func (p PlanTier) StorageLimitBytes() int64 {
	const gib = 1 << 30
	switch p {
	case PlanFree:
		return 5 * gib
	case PlanPro:
		return 100 * gib
	case PlanMax:
		return 1000 * gib
	default:
		return 5 * gib
	}
}

// StorageAccounting is the per-user authoritative byte-counter record
// (spec §3, §4.9).
type StorageAccounting struct {
	UserID           string `json:"user_id"`
	RawSegmentBytes  int64  `json:"raw_segment_bytes"`
	NeuralCacheBytes int64  `json:"neural_cache_bytes"`
	StyledClipBytes  int64  `json:"styled_clip_bytes"`
	TotalBytes       int64  `json:"total_bytes"`
}

// CameraKeyframe is one planner output point (spec glossary).
type CameraKeyframe struct {
	Time float64 `json:"time"`
	CX   float64 `json:"cx"`
	CY   float64 `json:"cy"`
	W    float64 `json:"width"`
	H    float64 `json:"height"`
}

// ClipStepKind is one step in a clip's processing lifecycle, emitted on
// the progress channel (spec §4.11, §7's "ClipProcessingStep::Failed").
type ClipStepKind string

const (
	ClipStepQueued    ClipStepKind = "queued"
	ClipStepRendering ClipStepKind = "rendering"
	ClipStepUploading ClipStepKind = "uploading"
	ClipStepCompleted ClipStepKind = "completed"
	ClipStepFailed    ClipStepKind = "failed"
)

// ClipProcessingStep is one progress-channel event about a single clip.
type ClipProcessingStep struct {
	JobID   string       `json:"job_id"`
	SceneID uint32       `json:"scene_id"`
	Style   Style        `json:"style"`
	Step    ClipStepKind `json:"step"`
	Detail  string       `json:"detail,omitempty"`
	Time    time.Time    `json:"time"`
}

// ProcessingProgress is the throttled, job-level progress document spec
// §4.11 names: "completed_scenes, completed_clips, failed_clips,
// current_scene_id, current_scene_title".
type ProcessingProgress struct {
	JobID              string    `json:"job_id"`
	TotalScenes        int       `json:"total_scenes"`
	CompletedScenes    int       `json:"completed_scenes"`
	CompletedClips     int       `json:"completed_clips"`
	FailedClips        int       `json:"failed_clips"`
	CurrentSceneID     uint32    `json:"current_scene_id"`
	CurrentSceneTitle  string    `json:"current_scene_title,omitempty"`
	LastError          string    `json:"last_error,omitempty"`
	PercentComplete    float64   `json:"percent_complete"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CropWindow is a pixel-aligned, aspect-correct rect derived from a
// camera keyframe (spec glossary).
type CropWindow struct {
	Time float64 `json:"time"`
	X    int     `json:"x"`
	Y    int     `json:"y"`
	W    int     `json:"w"`
	H    int     `json:"h"`
}
