package styles

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vmatresu/viralclipai-sub001/internal/clipfail"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

// StreamerConfig tunes the landscape-in-portrait render spec §4.7's
// Streamer/Top-Scenes family describes. No original_source/.../filters.rs
// survived distillation (the pack's original_source only kept
// streamer/pipeline.rs), so the blur-background filter graph here is
// authored from the ffmpeg split/scale/gblur/overlay idiom rather than
// ported from a literal source (DESIGN.md decision #9).
type StreamerConfig struct {
	BlurSigma       float64
	BackgroundDim   float64 // eq= brightness offset, negative darkens
	CountdownFont   string
	CountdownSize   int
	MaxTopScenes    int
}

func DefaultStreamerConfig() StreamerConfig {
	return StreamerConfig{BlurSigma: 20, BackgroundDim: -0.05, CountdownFont: "Sans", CountdownSize: 160, MaxTopScenes: 10}
}

// StreamerProcessor renders spec §4.7's Streamer style: the source
// video as a blurred, darkened full-bleed background with the
// original-aspect foreground centred on top, in a portrait canvas.
// Grounded on streamer/pipeline.rs's render_streamer_format.
type StreamerProcessor struct {
	Config StreamerConfig
}

func NewStreamerProcessor() *StreamerProcessor {
	return &StreamerProcessor{Config: DefaultStreamerConfig()}
}

func (p *StreamerProcessor) Name() string { return "streamer" }

func (p *StreamerProcessor) CanHandle(style models.Style) bool {
	return style == models.StyleStreamer
}

func (p *StreamerProcessor) Validate(ctx context.Context, req Request) error {
	return validatePaths(req.InputPath, req.OutputPath)
}

func (p *StreamerProcessor) Process(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	info, err := probeVideo(ctx, req.InputPath)
	if err != nil {
		return Result{}, err
	}

	aw, ah := aspectOrDefault(req.Task)
	outW, outH := fitCanvas(1080, 1080*ah/aw, aw, ah) // 1080-wide portrait canvas regardless of source resolution

	filterComplex := p.buildFilter(info, outW, outH, 0, "")
	filterComplex, outputLabel := appendWatermark(filterComplex, "vout", req.Watermark)

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs(req.InputPath, req.Watermark)...)
	args = append(args,
		"-filter_complex", filterComplex,
		"-map", "["+outputLabel+"]",
		"-map", "0:a?",
	)
	args = append(args, streamerEncodeArgs(req.Encoding, info.FPS)...)
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

func (p *StreamerProcessor) EstimateComplexity(req Request) Complexity {
	return estimateComplexity(sceneDuration(req.Task), 1.1)
}

// RenderTopSceneSegment renders one Top-Scenes entry with its countdown
// overlay burned in, the per-segment step process_scene_with_countdown
// performs before concatenation.
func (p *StreamerProcessor) RenderTopSceneSegment(ctx context.Context, req Request, countdownNumber int, sceneTitle string) (Result, error) {
	start := time.Now()

	info, err := probeVideo(ctx, req.InputPath)
	if err != nil {
		return Result{}, err
	}

	aw, ah := aspectOrDefault(req.Task)
	outW, outH := fitCanvas(1080, 1080*ah/aw, aw, ah)

	filterComplex := p.buildFilter(info, outW, outH, countdownNumber, sceneTitle)
	filterComplex, outputLabel := appendWatermark(filterComplex, "vout", req.Watermark)

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs(req.InputPath, req.Watermark)...)
	args = append(args,
		"-filter_complex", filterComplex,
		"-map", "["+outputLabel+"]",
		"-map", "0:a?",
	)
	args = append(args, streamerEncodeArgs(req.Encoding, info.FPS)...)
	if !req.Encoding.ForceKeyframe0 {
		args = append(args, "-force_key_frames", "expr:eq(n,0)") // concat-friendly boundary
	}
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

// ConcatenateSegments stream-copies already-rendered segments into one
// output file, spec §4.7's "Top-Scenes concatenates N styled segments
// with stream-copy", grounded directly on
// streamer/pipeline.rs::concatenate_segments.
func ConcatenateSegments(ctx context.Context, segmentPaths []string, outputPath string) error {
	if len(segmentPaths) == 0 {
		return &clipfail.InvalidRequestError{Reason: "no segments to concatenate"}
	}
	if len(segmentPaths) == 1 {
		data, err := os.ReadFile(segmentPaths[0])
		if err != nil {
			return fmt.Errorf("read single segment for concat: %w", err)
		}
		return os.WriteFile(outputPath, data, 0o644)
	}

	listFile, err := os.CreateTemp("", "concat-list-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(listFile.Name())
	for _, p := range segmentPaths {
		fmt.Fprintf(listFile, "file '%s'\n", escapeFilterPath(p))
	}
	if err := listFile.Close(); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", listFile.Name(),
		"-c", "copy",
		"-movflags", "+faststart",
		outputPath,
	}
	return runFFmpeg(ctx, args)
}

// buildFilter renders the blurred-background + centred-foreground
// graph, with an optional countdown/title text overlay burned in last.
func (p *StreamerProcessor) buildFilter(info VideoInfo, outW, outH int, countdownNumber int, sceneTitle string) string {
	graph := fmt.Sprintf(
		"[0:v]split=2[bg][fg];"+
			"[bg]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,gblur=sigma=%s,eq=brightness=%s[bgblur];"+
			"[fg]scale=%d:-2:force_original_aspect_ratio=decrease[fgscaled];"+
			"[bgblur][fgscaled]overlay=(W-w)/2:(H-h)/2,format=yuv420p[comp]",
		outW, outH, outW, outH, formatFloat(p.Config.BlurSigma), formatFloat(p.Config.BackgroundDim),
		outW,
	)

	label := "comp"
	if countdownNumber > 0 {
		graph += fmt.Sprintf(
			";[%s]drawtext=text='%d':font=%s:fontsize=%d:fontcolor=white:box=1:boxcolor=black@0.5:boxborderw=16:x=(w-text_w)/2:y=80[cd]",
			label, countdownNumber, p.Config.CountdownFont, p.Config.CountdownSize,
		)
		label = "cd"
	}
	if sceneTitle != "" {
		graph += fmt.Sprintf(
			";[%s]drawtext=text='%s':font=%s:fontsize=48:fontcolor=white:box=1:boxcolor=black@0.5:boxborderw=10:x=(w-text_w)/2:y=h-200[title]",
			label, escapeDrawtext(sceneTitle), p.Config.CountdownFont,
		)
		label = "title"
	}
	graph += fmt.Sprintf(";[%s]null[vout]", label)
	return graph
}

func escapeDrawtext(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'', ':', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// streamerEncodeArgs mirrors render_streamer_format's encode block: the
// shared baseEncodeArgs plus an fps cap and bitrate ceiling specific to
// this style's larger blurred-background canvas.
func streamerEncodeArgs(enc EncodingConfig, sourceFPS float64) []string {
	args := baseEncodeArgs(enc)
	extra := []string{"-maxrate", "6M", "-bufsize", "12M"}
	if sourceFPS > 30.5 {
		extra = append([]string{"-r", "30"}, extra...)
	}
	return append(extra, args...)
}
