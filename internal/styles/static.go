package styles

import (
	"context"
	"fmt"
	"time"

	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

// StaticProcessor renders the fixed-filter-graph styles spec §4.7
// names: Original (no crop, letterboxed to the target aspect),
// LeftFocus/CenterFocus/RightFocus (a static crop anchored at the
// frame's left/centre/right third), and Split (the frame's left and
// right halves stacked vertically). None of these consume detection or
// the neural-analysis cache.
type StaticProcessor struct{}

func NewStaticProcessor() *StaticProcessor { return &StaticProcessor{} }

func (p *StaticProcessor) Name() string { return "static" }

func (p *StaticProcessor) CanHandle(style models.Style) bool {
	switch style {
	case models.StyleOriginal, models.StyleSplit, models.StyleLeftFocus, models.StyleCenterFocus, models.StyleRightFocus:
		return true
	default:
		return false
	}
}

func (p *StaticProcessor) Validate(ctx context.Context, req Request) error {
	return validatePaths(req.InputPath, req.OutputPath)
}

func (p *StaticProcessor) Process(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	info, err := probeVideo(ctx, req.InputPath)
	if err != nil {
		return Result{}, err
	}

	filterComplex, outputLabel := p.buildFilter(req.Task.Style, info, req.Task)
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

func (p *StaticProcessor) EstimateComplexity(req Request) Complexity {
	return estimateComplexity(sceneDuration(req.Task), 0.6)
}

// buildFilter constructs the -filter_complex graph for one static
// style, returning the graph and the label of its final video output.
func (p *StaticProcessor) buildFilter(style models.Style, info VideoInfo, task models.SceneTask) (string, string) {
	aw, ah := aspectOrDefault(task)

	switch style {
	case models.StyleSplit:
		halfW := evenDim(info.Width / 2)
		graph := fmt.Sprintf(
			"[0:v]split=2[l][r];"+
				"[l]crop=%d:%d:0:0,scale=%d:%d:flags=lanczos,setsar=1,format=yuv420p[top];"+
				"[r]crop=%d:%d:%d:0,scale=%d:%d:flags=lanczos,setsar=1,format=yuv420p[bottom];"+
				"[top][bottom]vstack=inputs=2[vout]",
			halfW, info.Height, halfW, info.Height/2,
			halfW, info.Height, info.Width-halfW, halfW, info.Height/2,
		)
		return graph, "vout"

	case models.StyleLeftFocus, models.StyleCenterFocus, models.StyleRightFocus:
		cropW, cropH := fitAspect(info.Width, info.Height, aw, ah)
		x := anchorX(style, info.Width, cropW)
		y := evenDim((info.Height - cropH) / 2)
		graph := fmt.Sprintf(
			"[0:v]crop=%d:%d:%d:%d,scale=%d:%d:flags=lanczos,setsar=1,format=yuv420p[vout]",
			cropW, cropH, x, y, cropW, cropH,
		)
		return graph, "vout"

	default: // StyleOriginal: letterbox to the target aspect, no crop
		targetW, targetH := fitCanvas(info.Width, info.Height, aw, ah)
		graph := fmt.Sprintf(
			"[0:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1,format=yuv420p[vout]",
			targetW, targetH, targetW, targetH,
		)
		return graph, "vout"
	}
}

func anchorX(style models.Style, frameW, cropW int) int {
	switch style {
	case models.StyleLeftFocus:
		return 0
	case models.StyleRightFocus:
		return evenDim(frameW - cropW)
	default:
		return evenDim((frameW - cropW) / 2)
	}
}

func aspectOrDefault(task models.SceneTask) (int, int) {
	if task.TargetAspectW > 0 && task.TargetAspectH > 0 {
		return task.TargetAspectW, task.TargetAspectH
	}
	return 9, 16
}

// fitAspect returns the largest crop rect of aspect aw:ah that fits
// inside frameW x frameH.
func fitAspect(frameW, frameH, aw, ah int) (int, int) {
	w := frameW
	h := evenDim(w * ah / aw)
	if h > frameH {
		h = frameH
		w = evenDim(h * aw / ah)
	}
	return evenDim(w), evenDim(h)
}

// fitCanvas returns an output canvas of aspect aw:ah no larger than the
// source frame, for the Original style's letterbox.
func fitCanvas(frameW, frameH, aw, ah int) (int, int) {
	return fitAspect(frameW, frameH, aw, ah)
}

func evenDim(v int) int {
	if v%2 != 0 {
		v--
	}
	if v < 2 {
		v = 2
	}
	return v
}
