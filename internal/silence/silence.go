// Package silence implements the silence-removal cache (spec §4.3): a
// VAD-driven segmenter state machine that decides which regions of a
// raw segment to keep, a should-apply gate, and three ffmpeg render
// paths selected by segment count. Grounded on
// original_source/backend/crates/vclip-media/src/silence_removal/
// {segmenter.rs,apply.rs} for the state machine and gate thresholds;
// subprocess invocation follows iluha78-FD/internal/ingest/ffmpeg.go's
// exec.CommandContext + stderr-scanner idiom.
package silence

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// SpeechFrame is one VAD output sample: a speech-probability value at a
// point in time. The VAD model itself (Silero, via ONNX) lives behind
// this narrow interface so the segmenter can be tested without it.
type SpeechFrame struct {
	TimeMS    int64
	SpeechP   float64
}

// VAD runs voice-activity detection over an audio file and returns a
// per-frame speech probability track.
type VAD interface {
	Analyze(ctx context.Context, audioPath string) ([]SpeechFrame, error)
}

// Config mirrors the segmenter configuration spec §4.3 names explicitly.
type Config struct {
	VADThreshold        float64
	MinSilenceMS        int64
	PreSpeechPaddingMS  int64
	PostSpeechPaddingMS int64
	MinKeepRatio        float64
}

func DefaultConfig() Config {
	return Config{
		VADThreshold:        0.5,
		MinSilenceMS:        500,
		PreSpeechPaddingMS:  100,
		PostSpeechPaddingMS: 200,
		MinKeepRatio:        0.3,
	}
}

// SegmentLabel tags a Segment as retained output or a cut region.
type SegmentLabel int

const (
	Keep SegmentLabel = iota
	Cut
)

// Segment is one contiguous labelled region of the source timeline.
type Segment struct {
	Label      SegmentLabel
	StartMS    int64
	EndMS      int64
}

func (s Segment) DurationMS() int64   { return s.EndMS - s.StartMS }
func (s Segment) DurationSecs() float64 { return float64(s.DurationMS()) / 1000.0 }

// segmenterState is the InSpeech / InSilence{start} state the segmenter
// machine walks through frame by frame.
type segmenterState int

const (
	stateInSpeech segmenterState = iota
	stateInSilence
)

// Segmenter consumes VAD frames and emits Keep/Cut segments. The
// initial state is InSilence{0} so leading silence is caught (spec
// §4.3).
type Segmenter struct {
	cfg Config

	state        segmenterState
	silenceStart int64
	lastSpeechMS int64
	segments     []Segment
	haveSpeech   bool
}

func NewSegmenter(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg, state: stateInSilence, silenceStart: 0}
}

// IngestFrame feeds one VAD sample into the state machine.
func (s *Segmenter) IngestFrame(f SpeechFrame) {
	speaking := f.SpeechP >= s.cfg.VADThreshold

	switch s.state {
	case stateInSilence:
		if speaking {
			silenceDur := f.TimeMS - s.silenceStart
			if silenceDur > s.cfg.MinSilenceMS {
				if s.haveSpeech {
					s.segments = append(s.segments, Segment{Label: Keep, StartMS: s.lastKeepStart(), EndMS: s.silenceStart})
				}
				cutEnd := f.TimeMS - s.cfg.PreSpeechPaddingMS
				if cutEnd < s.silenceStart {
					cutEnd = s.silenceStart
				}
				if cutEnd > s.silenceStart {
					s.segments = append(s.segments, Segment{Label: Cut, StartMS: s.silenceStart, EndMS: cutEnd})
				}
			}
			s.state = stateInSpeech
			s.haveSpeech = true
			s.lastSpeechMS = f.TimeMS
		}
	case stateInSpeech:
		if !speaking {
			s.state = stateInSilence
			s.silenceStart = f.TimeMS
		} else {
			s.lastSpeechMS = f.TimeMS
		}
	}
}

// lastKeepStart finds where the most recent Keep segment should begin:
// the end of the prior Cut, or 0 if none yet.
func (s *Segmenter) lastKeepStart() int64 {
	for i := len(s.segments) - 1; i >= 0; i-- {
		if s.segments[i].Label == Cut {
			return s.segments[i].EndMS
		}
	}
	return 0
}

// Finalize closes the last open region against the segment's total
// duration, per spec §4.3's finalize semantics.
func (s *Segmenter) Finalize(totalDurationMS int64) []Segment {
	switch s.state {
	case stateInSilence:
		silenceDur := totalDurationMS - s.silenceStart
		if silenceDur > s.cfg.MinSilenceMS {
			keepEnd := s.silenceStart + s.cfg.PostSpeechPaddingMS
			if keepEnd > totalDurationMS {
				keepEnd = totalDurationMS
			}
			if keepEnd > s.lastKeepStart() {
				s.segments = append(s.segments, Segment{Label: Keep, StartMS: s.lastKeepStart(), EndMS: keepEnd})
			}
			if totalDurationMS > keepEnd {
				s.segments = append(s.segments, Segment{Label: Cut, StartMS: keepEnd, EndMS: totalDurationMS})
			}
		} else if totalDurationMS > s.lastKeepStart() {
			s.segments = append(s.segments, Segment{Label: Keep, StartMS: s.lastKeepStart(), EndMS: totalDurationMS})
		}
	case stateInSpeech:
		if totalDurationMS > s.lastKeepStart() {
			s.segments = append(s.segments, Segment{Label: Keep, StartMS: s.lastKeepStart(), EndMS: totalDurationMS})
		}
	}
	return s.segments
}

func (s *Segmenter) SegmentCount() int { return len(s.segments) }

// Stats summarises a finalized segment list for the should-apply gate
// and for logging.
type Stats struct {
	KeepMS      int64
	CutMS       int64
	TotalMS     int64
	CutCount    int
	KeepRatio   float64
	CutFraction float64
}

func ComputeStats(segments []Segment) Stats {
	var st Stats
	for _, seg := range segments {
		st.TotalMS += seg.DurationMS()
		switch seg.Label {
		case Keep:
			st.KeepMS += seg.DurationMS()
		case Cut:
			st.CutMS += seg.DurationMS()
			st.CutCount++
		}
	}
	if st.TotalMS > 0 {
		st.KeepRatio = float64(st.KeepMS) / float64(st.TotalMS)
		st.CutFraction = float64(st.CutMS) / float64(st.TotalMS)
	}
	return st
}

// ShouldApply is the gate spec §4.3 names: true iff there is at least
// one Cut, keep_ratio >= min_keep_ratio, and cut fraction >= 10%.
func ShouldApply(cfg Config, st Stats) bool {
	return st.CutCount > 0 && st.KeepRatio >= cfg.MinKeepRatio && st.CutFraction >= 0.10
}

// Outcome is either NotNeeded or a path to a silence-trimmed segment.
type Outcome struct {
	Applied bool
	Path    string
	Stats   Stats
}

// Remove runs VAD, segments, gates, and conditionally renders a
// silence-trimmed copy of segmentPath into outDir.
func Remove(ctx context.Context, vad VAD, cfg Config, segmentPath, outDir string, totalDurationMS int64) (Outcome, error) {
	frames, err := vad.Analyze(ctx, segmentPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("vad analyze: %w", err)
	}

	seg := NewSegmenter(cfg)
	for _, f := range frames {
		seg.IngestFrame(f)
	}
	segments := seg.Finalize(totalDurationMS)
	stats := ComputeStats(segments)

	if !ShouldApply(cfg, stats) {
		return Outcome{Applied: false, Stats: stats}, nil
	}

	var keeps []Segment
	for _, s := range segments {
		if s.Label == Keep && s.DurationMS() > 0 {
			keeps = append(keeps, s)
		}
	}
	if len(keeps) == 0 {
		return Outcome{Applied: false, Stats: stats}, nil
	}

	outPath := filepath.Join(outDir, "silence_removed.mp4")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Outcome{}, fmt.Errorf("create output dir: %w", err)
	}

	if err := render(ctx, segmentPath, outPath, keeps); err != nil {
		return Outcome{}, err
	}

	return Outcome{Applied: true, Path: outPath, Stats: stats}, nil
}

// render dispatches to one of the three ffmpeg strategies spec §4.3
// names by segment count.
func render(ctx context.Context, srcPath, outPath string, keeps []Segment) error {
	switch {
	case len(keeps) == 1:
		return renderSingleTrim(ctx, srcPath, outPath, keeps[0])
	case len(keeps) <= 100:
		return renderFilterComplex(ctx, srcPath, outPath, keeps)
	default:
		return renderConcatDemuxer(ctx, srcPath, outPath, keeps)
	}
}

func renderSingleTrim(ctx context.Context, srcPath, outPath string, seg Segment) error {
	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-ss", fmt.Sprintf("%.3f", float64(seg.StartMS)/1000.0),
		"-i", srcPath,
		"-t", fmt.Sprintf("%.3f", seg.DurationSecs()),
		"-c", "copy",
		"-movflags", "+faststart",
		"-y", outPath,
	}
	return runFFmpeg(ctx, args)
}

// renderFilterComplex builds one filter graph with a trim/atrim+setpts
// chain per segment, the video labels feeding one video-only concat and
// the audio labels one audio-only concat, matching spec §4.3's
// "<=100 segments" path. Re-encode is unavoidable here since trim
// filters operate on decoded frames.
func renderFilterComplex(ctx context.Context, srcPath, outPath string, keeps []Segment) error {
	filter := ""
	var vLabels, aLabels string
	for i, seg := range keeps {
		start := float64(seg.StartMS) / 1000.0
		end := float64(seg.EndMS) / 1000.0
		filter += fmt.Sprintf("[0:v]trim=start=%.3f:end=%.3f,setpts=PTS-STARTPTS[v%d];", start, end, i)
		filter += fmt.Sprintf("[0:a]atrim=start=%.3f:end=%.3f,asetpts=PTS-STARTPTS[a%d];", start, end, i)
		vLabels += fmt.Sprintf("[v%d]", i)
		aLabels += fmt.Sprintf("[a%d]", i)
	}
	filter += fmt.Sprintf("%sconcat=n=%d:v=1:a=0[outv];", vLabels, len(keeps))
	filter += fmt.Sprintf("%sconcat=n=%d:v=0:a=1[outa]", aLabels, len(keeps))

	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-i", srcPath,
		"-filter_complex", filter,
		"-map", "[outv]", "-map", "[outa]",
		"-movflags", "+faststart",
		"-y", outPath,
	}
	return runFFmpeg(ctx, args)
}

// renderConcatDemuxer writes every Keep segment to a tempfile then
// concatenates via the concat demuxer, matching spec §4.3's
// ">100 segments" path (a filter-graph with hundreds of trim branches
// is impractically slow to build and run).
func renderConcatDemuxer(ctx context.Context, srcPath, outPath string, keeps []Segment) error {
	tmpDir, err := os.MkdirTemp(filepath.Dir(outPath), "silence-parts-*")
	if err != nil {
		return fmt.Errorf("create tempdir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	listPath := filepath.Join(tmpDir, "list.txt")
	listFile, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}

	for i, seg := range keeps {
		partPath := filepath.Join(tmpDir, fmt.Sprintf("part_%05d.mp4", i))
		if err := renderSingleTrim(ctx, srcPath, partPath, seg); err != nil {
			listFile.Close()
			return fmt.Errorf("render part %d: %w", i, err)
		}
		if _, err := fmt.Fprintf(listFile, "file '%s'\n", partPath); err != nil {
			listFile.Close()
			return fmt.Errorf("write concat list: %w", err)
		}
	}
	if err := listFile.Close(); err != nil {
		return fmt.Errorf("close concat list: %w", err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y", outPath,
	}
	return runFFmpeg(ctx, args)
}

func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	var lastLines []string
	// exec.Cmd requires every pipe reader to finish before Wait is
	// called; an errgroup joins the stderr scanner before Wait instead
	// of racing a bare goroutine against it.
	var g errgroup.Group
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			lastLines = append(lastLines, scanner.Text())
			if len(lastLines) > 20 {
				lastLines = lastLines[1:]
			}
		}
		return scanner.Err()
	})

	if err := g.Wait(); err != nil {
		slog.Warn("ffmpeg stderr scan error", "error", err)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w (last output: %v)", err, lastLines)
	}
	return nil
}
