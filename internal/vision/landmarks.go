package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// faceMeshPoints is the landmark count the FaceMesh model emits; indices
// 13 and 14 are the standard inner-upper-lip / inner-lower-lip points
// used below to compute mouth openness.
const faceMeshPoints = 468

const (
	upperLipIdx = 13
	lowerLipIdx = 14
	leftMouthIdx = 78
	rightMouthIdx = 308
)

// LandmarkSet is the dense per-face landmark output of FaceMesh, in
// crop-local pixel coordinates.
type LandmarkSet struct {
	Points [faceMeshPoints][2]float32
}

// FaceMesh runs dense facial-landmark inference on a single cropped
// face, used to derive mouth_openness for speaker-aware scoring (spec
// §4.5). Session plumbing follows the same pattern as FaceDetector,
// adapted for a single-box single-output model.
type FaceMesh struct {
	sess *session
}

func NewFaceMesh(modelPath string, inputSize int, opts *ort.SessionOptions) (*FaceMesh, error) {
	outs := []outputSpec{
		{name: "landmarks", shape: ort.NewShape(1, faceMeshPoints*3)},
	}
	s, err := newSession(modelPath, "input", inputSize, inputSize, outs, opts)
	if err != nil {
		return nil, fmt.Errorf("load face mesh: %w", err)
	}
	return &FaceMesh{sess: s}, nil
}

// Infer runs the model on a cropped-and-resized face image (CHW,
// normalised) and returns landmarks scaled back to the crop's pixel
// dimensions.
func (m *FaceMesh) Infer(faceCropCHW []float32, cropW, cropH int) (LandmarkSet, error) {
	if err := m.sess.run(faceCropCHW); err != nil {
		return LandmarkSet{}, fmt.Errorf("run face mesh: %w", err)
	}
	raw := m.sess.output(0)

	var ls LandmarkSet
	scaleX := float32(cropW) / float32(m.sess.inputW)
	scaleY := float32(cropH) / float32(m.sess.inputH)
	for i := 0; i < faceMeshPoints; i++ {
		ls.Points[i][0] = raw[i*3+0] * scaleX
		ls.Points[i][1] = raw[i*3+1] * scaleY
	}
	return ls, nil
}

func (m *FaceMesh) Close() { m.sess.Close() }

// MouthOpenness is the vertical inner-lip gap normalised by mouth width,
// in [0, ~1] for typical speech. Using mouth-width rather than face
// height keeps the measure stable across face scale/distance.
func MouthOpenness(ls LandmarkSet) float64 {
	upper := ls.Points[upperLipIdx]
	lower := ls.Points[lowerLipIdx]
	left := ls.Points[leftMouthIdx]
	right := ls.Points[rightMouthIdx]

	vGap := float64(lower[1] - upper[1])
	width := float64(right[0] - left[0])
	if width <= 0 {
		return 0
	}
	openness := vGap / width
	if openness < 0 {
		openness = 0
	}
	return openness
}
