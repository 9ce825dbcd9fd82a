// Package styles implements the style-processor strategy family of
// spec §4.7: each output style is a processor with
// can_handle/validate/process/estimate_complexity, grounded on
// original_source/.../styles/intelligent.rs's StyleProcessor trait
// shape. Every style renders in a single ffmpeg invocation with one
// -filter_complex graph, following
// iluha78-FD/internal/ingest/ffmpeg.go's subprocess-construction idiom.
package styles

import (
	"context"
	"fmt"

	"github.com/vmatresu/viralclipai-sub001/internal/camera"
	"github.com/vmatresu/viralclipai-sub001/internal/clipfail"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

// EncodingConfig mirrors original_source's EncodingConfig: the handful
// of encode-time knobs every style's final ffmpeg invocation shares.
type EncodingConfig struct {
	Codec        string
	Preset       string
	CRF          int
	UseNVENC     bool
	AudioCodec   string
	AudioBitrate string
	ExtraArgs    []string
	ForceKeyframe0 bool // concat-friendly boundaries, spec §4.7
}

func DefaultEncodingConfig() EncodingConfig {
	return EncodingConfig{
		Codec:        "libx264",
		Preset:       "veryfast",
		CRF:          21,
		AudioCodec:   "aac",
		AudioBitrate: "128k",
	}
}

// WatermarkConfig is appended to the filter graph before the final
// mapped label, spec §4.7's "watermark, if requested".
type WatermarkConfig struct {
	ImagePath string
	X, Y      string // ffmpeg overlay expressions, e.g. "main_w-overlay_w-20"
	Opacity   float64
}

// Request is one clip's render job: the materialised raw segment, the
// scene task, the target aspect, and (for intelligence-requiring
// styles) the cached neural analysis plus camera planner config.
type Request struct {
	InputPath  string
	OutputPath string
	Task       models.SceneTask
	Encoding   EncodingConfig
	Watermark  *WatermarkConfig

	// Populated only for styles whose RequiredTier() > TierNone.
	Analysis       *models.SceneNeuralAnalysis
	FrameWidth     int
	FrameHeight    int
	PlannerConfig  camera.PlannerConfig
}

// Result is what a successful Process call reports back to the
// orchestrator for clip-metadata persistence and storage accounting.
type Result struct {
	OutputPath       string
	ThumbnailPath    string
	DurationSeconds  float64
	SizeBytes        int64
	ProcessingTimeMS int64
}

// Complexity is a style's self-estimate of render cost, used by the
// orchestrator to size its bounded-parallel fan-out.
type Complexity struct {
	EstimatedTimeMS int64
	EstimatedCPU    float64 // relative weight, 1.0 = one core saturated
}

// Processor is the strategy interface every style family implements,
// matching original_source's StyleProcessor trait.
type Processor interface {
	Name() string
	CanHandle(style models.Style) bool
	Validate(ctx context.Context, req Request) error
	Process(ctx context.Context, req Request) (Result, error)
	EstimateComplexity(req Request) Complexity
}

// Registry resolves a models.Style to the processor that handles it,
// spec §4.7's "strategy implementing can_handle/.../estimate_complexity".
type Registry struct {
	processors []Processor
}

func NewRegistry(processors ...Processor) *Registry {
	return &Registry{processors: processors}
}

// NewDefaultRegistry wires every style family spec §4.7 names. Top-Scenes
// is deliberately absent from the per-scene registry (see DESIGN.md
// decision #10); the orchestrator drives it directly through
// StreamerProcessor's RenderTopSceneSegment/ConcatenateSegments.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		NewStaticProcessor(),
		NewIntelligentProcessor(),
		NewIntelligentSplitProcessor(),
		NewStreamerProcessor(),
	)
}

func (r *Registry) Resolve(style models.Style) (Processor, error) {
	for _, p := range r.processors {
		if p.CanHandle(style) {
			return p, nil
		}
	}
	return nil, &clipfail.InvalidRequestError{Reason: fmt.Sprintf("no style processor handles %q", style)}
}

func validatePaths(inputPath, outputPath string) error {
	if inputPath == "" {
		return &clipfail.InvalidRequestError{Reason: "empty input path"}
	}
	if outputPath == "" {
		return &clipfail.InvalidRequestError{Reason: "empty output path"}
	}
	return nil
}

// estimateComplexity scales a duration-proportional base cost by a
// per-style multiplier, mirroring intelligent.rs's estimate_complexity.
func estimateComplexity(durationSec float64, multiplier float64) Complexity {
	base := durationSec * 40.0 // ms of render time per second of clip, single encode pass
	return Complexity{
		EstimatedTimeMS: int64(base * multiplier),
		EstimatedCPU:    multiplier,
	}
}

func sceneDuration(task models.SceneTask) float64 {
	start, end := task.PaddedRange()
	return (end - start).Seconds()
}
