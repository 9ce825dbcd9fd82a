package styles

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// VideoInfo is the subset of ffprobe's stream info every style's crop
// math needs.
type VideoInfo struct {
	Width, Height int
	FPS           float64
	DurationSec   float64
}

// ProbeVideo runs ffprobe against path and reports its dimensions,
// frame rate and duration. Exported so the worker glue can size a
// downloaded source before handing it to the orchestrator.
func ProbeVideo(ctx context.Context, path string) (VideoInfo, error) {
	return probeVideo(ctx, path)
}

// probeVideo runs ffprobe -print_format json, the same subprocess
// idiom as runFFmpeg, to recover the source dimensions a static or
// intelligent crop is computed against.
func probeVideo(ctx context.Context, path string) (VideoInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("probe %s: %w", path, err)
	}

	var parsed struct {
		Streams []struct {
			Width       int    `json:"width"`
			Height      int    `json:"height"`
			RFrameRate  string `json:"r_frame_rate"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return VideoInfo{}, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}
	if len(parsed.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("no video stream found in %s", path)
	}

	s := parsed.Streams[0]
	info := VideoInfo{Width: s.Width, Height: s.Height}
	info.FPS = parseFrameRate(s.RFrameRate)
	if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		info.DurationSec = d
	}
	return info, nil
}

func parseFrameRate(s string) float64 {
	var num, den float64
	if _, err := fmt.Sscanf(s, "%f/%f", &num, &den); err == nil && den != 0 {
		return num / den
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return 0
}
