package styles

import (
	"context"
	"time"

	"github.com/vmatresu/viralclipai-sub001/internal/clipfail"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

// IntelligentProcessor renders the single-panel detection-driven styles
// spec §4.7 names: Intelligent, IntelligentSpeaker, IntelligentMotion,
// and IntelligentCinematic. All four share one camera-planned crop
// track; they differ only in the selector/smoother/trajectory weights
// a caller threads through Request.PlannerConfig and in whether the
// batch L1 trajectory path is used, grounded on
// original_source/.../styles/intelligent.rs's tier-dispatched
// IntelligentProcessor.
type IntelligentProcessor struct{}

func NewIntelligentProcessor() *IntelligentProcessor { return &IntelligentProcessor{} }

func (p *IntelligentProcessor) Name() string { return "intelligent" }

func (p *IntelligentProcessor) CanHandle(style models.Style) bool {
	switch style {
	case models.StyleIntelligent, models.StyleIntelligentSpeaker, models.StyleIntelligentMotion, models.StyleIntelligentCinematic:
		return true
	default:
		return false
	}
}

func (p *IntelligentProcessor) Validate(ctx context.Context, req Request) error {
	if err := validatePaths(req.InputPath, req.OutputPath); err != nil {
		return err
	}
	if req.Analysis == nil {
		return &clipfail.InvalidRequestError{Reason: "intelligent style requires cached neural analysis"}
	}
	if req.FrameWidth <= 0 || req.FrameHeight <= 0 {
		return &clipfail.InvalidRequestError{Reason: "intelligent style requires the source frame dimensions"}
	}
	return nil
}

func (p *IntelligentProcessor) Process(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	crops, err := planCrops(req)
	if err != nil {
		return Result{}, err
	}

	filterComplex, outputLabel, cleanup, err := buildCropFilter(crops, req.FrameWidth, req.FrameHeight, req.Task)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()
	filterComplex, outputLabel = appendWatermark(filterComplex, outputLabel, req.Watermark)

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs(req.InputPath, req.Watermark)...)
	args = append(args,
		"-filter_complex", filterComplex,
		"-map", "["+outputLabel+"]",
		"-map", "0:a?",
	)
	args = append(args, baseEncodeArgs(req.Encoding)...)
	args = append(args, req.OutputPath)

	if err := runFFmpeg(ctx, args); err != nil {
		return Result{}, err
	}

	return Result{
		OutputPath:       req.OutputPath,
		DurationSeconds:  sceneDuration(req.Task),
		SizeBytes:        fileSize(req.OutputPath),
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

func (p *IntelligentProcessor) EstimateComplexity(req Request) Complexity {
	multiplier := map[models.Style]float64{
		models.StyleIntelligent:         1.0,
		models.StyleIntelligentMotion:   1.3,
		models.StyleIntelligentSpeaker:  1.6,
		models.StyleIntelligentCinematic: 1.8,
	}[req.Task.Style]
	if multiplier == 0 {
		multiplier = 1.0
	}
	return estimateComplexity(sceneDuration(req.Task), multiplier)
}
