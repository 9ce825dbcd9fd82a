// Package vision implements the face inference engine (spec §4.5):
// YuNet face detection, FaceMesh landmark/mouth-openness scoring, an
// IoU-greedy Kalman tracker, HSV-histogram scene-cut detection, and a
// YOLOv8 object-detection supplement for the Cinematic tier. ONNX
// session plumbing (tensor lifetime, AdvancedSession wiring) is adapted
// from iluha78-FD/internal/vision/detect.go, which wires RetinaFace the
// same way.
package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// session wraps one ONNX Runtime session with pre-bound input/output
// tensors, mirroring detect.go's Detector struct shape generalised
// across the four model families this engine loads.
type session struct {
	handle       *ort.AdvancedSession
	input        *ort.Tensor[float32]
	outputs      []*ort.Tensor[float32]
	outputNames  []string
	inputW       int
	inputH       int
}

type outputSpec struct {
	name  string
	shape ort.Shape
}

func newSession(modelPath, inputName string, inputW, inputH int, outs []outputSpec, opts *ort.SessionOptions) (*session, error) {
	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputNames := make([]string, len(outs))
	outputTensors := make([]*ort.Tensor[float32], len(outs))
	outputValues := make([]ort.Value, len(outs))

	for i, spec := range outs {
		outputNames[i] = spec.name
		t, terr := ort.NewEmptyTensor[float32](spec.shape)
		if terr != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			input.Destroy()
			return nil, fmt.Errorf("create output tensor %d (%s): %w", i, spec.name, terr)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	handle, err := ort.NewAdvancedSession(modelPath,
		[]string{inputName}, outputNames,
		[]ort.Value{input}, outputValues,
		opts,
	)
	if err != nil {
		input.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create session for %s: %w", modelPath, err)
	}

	return &session{
		handle:      handle,
		input:       input,
		outputs:     outputTensors,
		outputNames: outputNames,
		inputW:      inputW,
		inputH:      inputH,
	}, nil
}

func (s *session) run(imgCHW []float32) error {
	dst := s.input.GetData()
	copy(dst, imgCHW)
	return s.handle.Run()
}

func (s *session) output(i int) []float32 { return s.outputs[i].GetData() }

func (s *session) Close() {
	if s.handle != nil {
		s.handle.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	for _, t := range s.outputs {
		if t != nil {
			t.Destroy()
		}
	}
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func iouBox(a, b [4]float32) float32 {
	x1 := maxF(a[0], b[0])
	y1 := maxF(a[1], b[1])
	x2 := minF(a[2], b[2])
	y2 := minF(a[3], b[3])

	inter := maxF(0, x2-x1) * maxF(0, y2-y1)
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
