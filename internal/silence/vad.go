// Silero VAD inference, layered behind the VAD interface so the
// segmenter (silence.go) never touches ONNX directly. Audio decode
// follows iluha78-FD/internal/ingest/ffmpeg.go's exec.CommandContext +
// stdout-pipe idiom (mp4 -> raw PCM over a pipe instead of JPEG frames
// over a pipe); session wiring follows internal/vision/session.go's
// AdvancedSession pattern, narrowed to Silero's single recurrent-state
// input/output pair.
package silence

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	sileroSampleRate = 16000
	sileroFrameLen   = 512 // samples per inference step at 16kHz
	sileroStateDim   = 128
)

// SileroVAD runs the Silero v4 ONNX model frame-by-frame over a
// decoded PCM track, maintaining its recurrent state across frames.
type SileroVAD struct {
	mu      sync.Mutex
	handle  *ort.AdvancedSession
	input   *ort.Tensor[float32]
	srIn    *ort.Tensor[int64]
	stateIn *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	stateOut *ort.Tensor[float32]
}

// NewSileroVAD loads the Silero VAD ONNX model. opts may be nil.
func NewSileroVAD(modelPath string, opts *ort.SessionOptions) (*SileroVAD, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, sileroFrameLen))
	if err != nil {
		return nil, fmt.Errorf("create silero input tensor: %w", err)
	}
	srIn, err := ort.NewTensor(ort.NewShape(1), []int64{sileroSampleRate})
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create silero sr tensor: %w", err)
	}
	stateIn, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateDim))
	if err != nil {
		input.Destroy()
		srIn.Destroy()
		return nil, fmt.Errorf("create silero state tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()
		srIn.Destroy()
		stateIn.Destroy()
		return nil, fmt.Errorf("create silero output tensor: %w", err)
	}
	stateOut, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateDim))
	if err != nil {
		input.Destroy()
		srIn.Destroy()
		stateIn.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create silero state-out tensor: %w", err)
	}

	handle, err := ort.NewAdvancedSession(modelPath,
		[]string{"input", "sr", "state"},
		[]string{"output", "stateN"},
		[]ort.Value{input, srIn, stateIn},
		[]ort.Value{output, stateOut},
		opts,
	)
	if err != nil {
		input.Destroy()
		srIn.Destroy()
		stateIn.Destroy()
		output.Destroy()
		stateOut.Destroy()
		return nil, fmt.Errorf("create silero session: %w", err)
	}

	return &SileroVAD{
		handle: handle, input: input, srIn: srIn, stateIn: stateIn,
		output: output, stateOut: stateOut,
	}, nil
}

func (v *SileroVAD) Close() {
	if v.handle != nil {
		v.handle.Destroy()
	}
	v.input.Destroy()
	v.srIn.Destroy()
	v.stateIn.Destroy()
	v.output.Destroy()
	v.stateOut.Destroy()
}

// Analyze decodes audioPath's audio track to mono 16kHz PCM via ffmpeg
// and runs Silero over consecutive 512-sample frames.
func (v *SileroVAD) Analyze(ctx context.Context, audioPath string) ([]SpeechFrame, error) {
	pcm, err := decodePCM(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("decode pcm: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	copy(v.stateIn.GetData(), make([]float32, 2*sileroStateDim))

	var frames []SpeechFrame
	for i := 0; i+sileroFrameLen <= len(pcm); i += sileroFrameLen {
		copy(v.input.GetData(), pcm[i:i+sileroFrameLen])
		if err := v.handle.Run(); err != nil {
			return nil, fmt.Errorf("silero inference at frame %d: %w", i/sileroFrameLen, err)
		}
		p := v.output.GetData()[0]
		copy(v.stateIn.GetData(), v.stateOut.GetData())

		timeMS := int64(i) * 1000 / sileroSampleRate
		frames = append(frames, SpeechFrame{TimeMS: timeMS, SpeechP: float64(p)})
	}
	return frames, nil
}

// decodePCM runs ffmpeg to produce mono 16kHz signed 16-bit PCM on
// stdout and converts it to normalised float32 samples.
func decodePCM(ctx context.Context, path string) ([]float32, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", sileroSampleRate),
		"-f", "s16le",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	samples, readErr := readS16LE(stdout)
	waitErr := cmd.Wait()
	if readErr != nil {
		return nil, readErr
	}
	if waitErr != nil {
		return nil, fmt.Errorf("ffmpeg pcm decode: %w", waitErr)
	}
	return samples, nil
}

func readS16LE(r io.Reader) ([]float32, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var out []float32
	buf := make([]byte, 2)
	for {
		if _, err := io.ReadFull(br, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, err
		}
		v := int16(binary.LittleEndian.Uint16(buf))
		out = append(out, float32(v)/float32(math.MaxInt16))
	}
	return out, nil
}
