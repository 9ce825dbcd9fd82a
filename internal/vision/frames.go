package vision

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

// FrameExtractor samples a local video file at a fixed FPS over a time
// window and decodes each sample to an image.Image, adapted from
// iluha78-FD/internal/ingest/ffmpeg.go's JPEG-over-pipe extraction (the
// teacher extracts from a live stream URL; this extracts a bounded
// [tStart,tEnd] window from a file already materialised by the
// raw-segment cache).
type FrameExtractor struct{}

// Frame is one decoded sample with its timestamp relative to the
// extraction window's start.
type Frame struct {
	TimeSec float64
	Image   image.Image
}

// Extract runs ffmpeg over [tStart, tEnd] (seconds) of videoPath at fps,
// decoding each emitted JPEG and invoking callback in order. Matches
// spec §4.4 step 4's "open video, seek to [t_start, t_end], sample at
// configured FPS".
func (FrameExtractor) Extract(ctx context.Context, videoPath string, tStart, tEnd float64, fps int, callback func(Frame) error) error {
	duration := tEnd - tStart
	if duration <= 0 {
		return fmt.Errorf("extract frames: non-positive window [%v,%v]", tStart, tEnd)
	}

	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-ss", strconv.FormatFloat(tStart, 'f', 3, 64),
		"-i", videoPath,
		"-t", strconv.FormatFloat(duration, 'f', 3, 64),
		"-vf", fmt.Sprintf("fps=%d", fps),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	frameInterval := 1.0 / float64(fps)
	idx := 0
	readErr := readJPEGFrames(ctx, stdout, func(data []byte) error {
		img, decErr := jpeg.Decode(newByteReader(data))
		if decErr != nil {
			slog.Warn("decode sampled frame failed", "error", decErr)
			idx++
			return nil
		}
		t := float64(idx) * frameInterval
		idx++
		return callback(Frame{TimeSec: t, Image: img})
	})
	if readErr != nil && ctx.Err() == nil && idx == 0 {
		return fmt.Errorf("read frames: %w", readErr)
	}

	return cmd.Wait()
}

func newByteReader(b []byte) io.Reader { return &byteReader{data: b} }

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// readJPEGFrames reads a stream of concatenated JPEG images, the same
// framing loop as iluha78-FD/internal/ingest/ffmpeg.go's readJPEGFrames.
func readJPEGFrames(ctx context.Context, r io.Reader, callback func([]byte) error) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	framesRead := 0
	const maxStartupRetries = 50
	startupRetries := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := findJPEGStart(reader); err != nil {
			if err == io.EOF {
				if framesRead == 0 && startupRetries < maxStartupRetries {
					startupRetries++
					time.Sleep(20 * time.Millisecond)
					continue
				}
				if framesRead > 0 {
					return nil
				}
				return fmt.Errorf("no frames received from ffmpeg")
			}
			return err
		}

		frameData, err := readUntilJPEGEnd(reader)
		if err != nil {
			if err == io.EOF && framesRead > 0 {
				return nil
			}
			return err
		}

		if len(frameData) > 0 {
			framesRead++
			if err := callback(frameData); err != nil {
				return err
			}
		}
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)
		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}
		if len(data) > 10*1024*1024 {
			return nil, fmt.Errorf("jpeg frame too large")
		}
	}
}

// ToCHW resizes src into a letterboxed w×h canvas per meta and converts
// it to a normalised [-1,1] planar (C,H,W) float32 slice, the ONNX
// input layout every model in this package expects.
func ToCHW(src image.Image, w, h int, padValue uint8) []float32 {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	out := make([]float32, 3*w*h)
	fillVal := (float32(padValue)/255.0 - 0.5) * 2
	for i := range out {
		out[i] = fillVal
	}

	scale := float64(w) / float64(srcW)
	if sh := float64(h) / float64(srcH); sh < scale {
		scale = sh
	}
	scaledW := int(float64(srcW) * scale)
	scaledH := int(float64(srcH) * scale)
	padLeft := (w - scaledW) / 2
	padTop := (h - scaledH) / 2

	for y := 0; y < scaledH; y++ {
		srcY := bounds.Min.Y + int(float64(y)/scale)
		for x := 0; x < scaledW; x++ {
			srcX := bounds.Min.X + int(float64(x)/scale)
			r, g, b, _ := src.At(srcX, srcY).RGBA()
			rn := (float32(r>>8)/255.0 - 0.5) * 2
			gn := (float32(g>>8)/255.0 - 0.5) * 2
			bn := (float32(b>>8)/255.0 - 0.5) * 2

			dx, dy := x+padLeft, y+padTop
			out[0*h*w+dy*w+dx] = rn
			out[1*h*w+dy*w+dx] = gn
			out[2*h*w+dy*w+dx] = bn
		}
	}
	return out
}

// SampleHSV draws a coarse grid of pixels from src and returns their
// hue (0-360) and saturation (0-1) for scene-cut histogram sampling.
func SampleHSV(src image.Image, gridN int) (hues, sats []float64) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	hues = make([]float64, 0, gridN*gridN)
	sats = make([]float64, 0, gridN*gridN)
	for gy := 0; gy < gridN; gy++ {
		for gx := 0; gx < gridN; gx++ {
			x := bounds.Min.X + (gx*w)/gridN
			y := bounds.Min.Y + (gy*h)/gridN
			r, g, b, _ := src.At(x, y).RGBA()
			hh, ss := rgbToHS(float64(r>>8), float64(g>>8), float64(b>>8))
			hues = append(hues, hh)
			sats = append(sats, ss)
		}
	}
	return hues, sats
}

func rgbToHS(r, g, b float64) (float64, float64) {
	r, g, b = r/255, g/255, b/255
	max := r
	if g > max {
		max = g
	}
	if b > max {
		max = b
	}
	min := r
	if g < min {
		min = g
	}
	if b < min {
		min = b
	}
	delta := max - min

	var hue float64
	switch {
	case delta == 0:
		hue = 0
	case max == r:
		hue = 60 * (mod6((g-b)/delta))
	case max == g:
		hue = 60 * ((b-r)/delta + 2)
	default:
		hue = 60 * ((r-g)/delta + 4)
	}
	if hue < 0 {
		hue += 360
	}

	sat := 0.0
	if max > 0 {
		sat = delta / max
	}
	return hue, sat
}

func mod6(v float64) float64 {
	for v < 0 {
		v += 6
	}
	for v >= 6 {
		v -= 6
	}
	return v
}
