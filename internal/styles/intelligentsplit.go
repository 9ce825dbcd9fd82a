package styles

import (
	"context"
	"fmt"
	"time"

	"github.com/vmatresu/viralclipai-sub001/internal/clipfail"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

// SplitGateConfig tunes the "is a two-speaker split actually
// appropriate" gate spec §4.7's worked examples describe (a ≥3s
// simultaneous two-track overlap renders as a split; a brief 1.5s
// second face falls back to single-panel Intelligent rendering). The
// exact cutoff between those two examples is not pinned down by spec.md
// (DESIGN.md open-question decision #8), so it is a config field.
type SplitGateConfig struct {
	MinOverlapSec   float64
	HeadroomAbove   float64 // fraction of face height kept clear above the face
	HeadroomBelow   float64 // fraction of face height kept clear below the chin
}

func DefaultSplitGateConfig() SplitGateConfig {
	return SplitGateConfig{MinOverlapSec: 2.5, HeadroomAbove: 0.6, HeadroomBelow: 0.2}
}

// IntelligentSplitProcessor renders spec §4.7's two-speaker split
// style: two independently-framed 9:8 panels stacked vertically, each
// crop rect pre-computed once per scene (centred on a track's mean
// position, not time-varying), grounded on spec.md's canonical
// split=2/vstack filter-graph example. Falls back to the single-panel
// Intelligent rendering (internal/styles/cropfilter.go's per-frame
// camera-planned crop) when the analysis does not show two distinct
// speakers overlapping for long enough.
type IntelligentSplitProcessor struct {
	Gate SplitGateConfig
}

func NewIntelligentSplitProcessor() *IntelligentSplitProcessor {
	return &IntelligentSplitProcessor{Gate: DefaultSplitGateConfig()}
}

func (p *IntelligentSplitProcessor) Name() string { return "intelligent_split" }

func (p *IntelligentSplitProcessor) CanHandle(style models.Style) bool {
	return style == models.StyleIntelligentSplit
}

func (p *IntelligentSplitProcessor) Validate(ctx context.Context, req Request) error {
	if err := validatePaths(req.InputPath, req.OutputPath); err != nil {
		return err
	}
	if req.Analysis == nil {
		return &clipfail.InvalidRequestError{Reason: "intelligent_split style requires cached neural analysis"}
	}
	if req.FrameWidth <= 0 || req.FrameHeight <= 0 {
		return &clipfail.InvalidRequestError{Reason: "intelligent_split style requires the source frame dimensions"}
	}
	return nil
}

func (p *IntelligentSplitProcessor) Process(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	left, right, ok := p.selectSpeakerTracks(req)
	if !ok {
		return p.renderSinglePanelFallback(ctx, req, start)
	}

	panelW, panelH := fitAspect(req.FrameWidth, req.FrameHeight, 9, 8)

	lx, ly, lw, lh := staticPanelCrop(left, req.FrameWidth, req.FrameHeight, panelW, panelH, p.Gate)
	rx, ry, rw, rh := staticPanelCrop(right, req.FrameWidth, req.FrameHeight, panelW, panelH, p.Gate)

	filterComplex := fmt.Sprintf(
		"[0:v]split=2[L][R];"+
			"[L]crop=%d:%d:%d:%d,scale=%d:%d:flags=lanczos,setsar=1,format=yuv420p[top];"+
			"[R]crop=%d:%d:%d:%d,scale=%d:%d:flags=lanczos,setsar=1,format=yuv420p[bottom];"+
			"[top][bottom]vstack=inputs=2[vout]",
		lw, lh, lx, ly, panelW, panelH,
		rw, rh, rx, ry, panelW, panelH,
	)
	filterComplex, outputLabel := appendWatermark(filterComplex, "vout", req.Watermark)

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

func (p *IntelligentSplitProcessor) renderSinglePanelFallback(ctx context.Context, req Request, start time.Time) (Result, error) {
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

func (p *IntelligentSplitProcessor) EstimateComplexity(req Request) Complexity {
	return estimateComplexity(sceneDuration(req.Task), 1.7)
}

// trackSummary is one scene-level aggregate of a track's detections:
// its mean bbox, used to derive the static per-panel crop rect.
type trackSummary struct {
	trackID      uint32
	meanCX       float64
	meanCY       float64
	meanW        float64
	meanH        float64
	presentSec   float64
	samples      int
}

// selectSpeakerTracks finds the two most consistently present tracks
// and reports whether they overlap for long enough to justify a split
// (spec §4.7's worked examples: ≥3s overlap splits, 1.5s falls back).
func (p *IntelligentSplitProcessor) selectSpeakerTracks(req Request) (trackSummary, trackSummary, bool) {
	dets := req.Analysis.ToCropperDetections(req.FrameWidth, req.FrameHeight)
	if len(req.Analysis.Frames) < 2 {
		return trackSummary{}, trackSummary{}, false
	}

	sums := map[uint32]*trackSummary{}
	overlapFrames := 0

	for i := range req.Analysis.Frames {
		tracksThisFrame := map[uint32]bool{}
		for _, d := range dets[i] {
			if d.TrackID == nil {
				continue
			}
			id := *d.TrackID
			tracksThisFrame[id] = true
			s, ok := sums[id]
			if !ok {
				s = &trackSummary{trackID: id}
				sums[id] = s
			}
			s.meanCX += d.CX
			s.meanCY += d.CY
			s.meanW += d.W
			s.meanH += d.H
			s.samples++
		}
		if len(tracksThisFrame) >= 2 {
			overlapFrames++
		}
	}

	if len(sums) < 2 {
		return trackSummary{}, trackSummary{}, false
	}

	frameRate := estimateSampleRate(req.Analysis.Frames)
	overlapSec := float64(overlapFrames) / frameRate
	if overlapSec < p.Gate.MinOverlapSec {
		return trackSummary{}, trackSummary{}, false
	}

	list := make([]*trackSummary, 0, len(sums))
	for _, s := range sums {
		if s.samples == 0 {
			continue
		}
		s.meanCX /= float64(s.samples)
		s.meanCY /= float64(s.samples)
		s.meanW /= float64(s.samples)
		s.meanH /= float64(s.samples)
		s.presentSec = float64(s.samples) / frameRate
		list = append(list, s)
	}
	if len(list) < 2 {
		return trackSummary{}, trackSummary{}, false
	}

	// two most consistently present tracks, left = lower mean x
	sortTracksByPresence(list)
	top2 := list[:2]
	if top2[0].meanCX > top2[1].meanCX {
		top2[0], top2[1] = top2[1], top2[0]
	}
	return *top2[0], *top2[1], true
}

func sortTracksByPresence(list []*trackSummary) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].samples > list[j-1].samples; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func estimateSampleRate(frames []models.FrameAnalysis) float64 {
	if len(frames) < 2 {
		return 1
	}
	span := frames[len(frames)-1].Time - frames[0].Time
	if span <= 0 {
		return 1
	}
	return float64(len(frames)-1) / span
}

// staticPanelCrop derives the fixed 9:8 crop rect for one speaker
// panel, horizontally centred on the track's mean x and vertically
// positioned so the configured headroom/chin-room fractions of the
// mean face height are kept clear (spec §4.7).
func staticPanelCrop(t trackSummary, frameW, frameH, panelW, panelH int, gate SplitGateConfig) (x, y, w, h int) {
	w, h = panelW, panelH

	faceTop := t.meanCY - t.meanH/2
	faceBottom := t.meanCY + t.meanH/2
	cropY := faceTop - gate.HeadroomAbove*t.meanH
	if requiredBottom := faceBottom + gate.HeadroomBelow*t.meanH; cropY+float64(h) < requiredBottom {
		cropY = requiredBottom - float64(h)
	}
	y = clampInt(evenDim(int(cropY)), 0, frameH-h)

	cropX := t.meanCX - float64(w)/2
	x = clampInt(evenDim(int(cropX)), 0, frameW-w)
	return x, y, w, h
}
