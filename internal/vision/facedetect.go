package vision

import (
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// FaceDetection is one raw face box in source-pixel coordinates plus
// five landmark points (eyes, nose, mouth corners), matching YuNet's
// output contract.
type FaceDetection struct {
	BBox       [4]float32
	Confidence float32
	Landmarks  [5][2]float32
}

// faceStrides mirrors YuNet's anchor-free multi-scale head: one
// score/bbox/landmark triple per feature-map level, no anchors-per-cell
// multiplier (unlike the RetinaFace decode this is adapted from).
var faceStrides = []int{8, 16, 32}

// FaceDetector runs YuNet face detection. Adapted from
// iluha78-FD/internal/vision/detect.go's Detector: same tensor-lifetime
// and AdvancedSession wiring, decode loop narrowed from RetinaFace's
// 2-anchors-per-cell grid to YuNet's anchor-free one-box-per-cell grid.
type FaceDetector struct {
	sess      *session
	threshold float32
}

// NewFaceDetector loads the YuNet ONNX model at the configured NN input
// resolution (default 320, per the intelligent-crop configuration).
func NewFaceDetector(modelPath string, inputSize int, threshold float32, opts *ort.SessionOptions) (*FaceDetector, error) {
	var outs []outputSpec
	for _, stride := range faceStrides {
		fm := inputSize / stride
		n := int64(fm * fm)
		outs = append(outs,
			outputSpec{name: fmt.Sprintf("score_%d", stride), shape: ort.NewShape(n, 1)},
			outputSpec{name: fmt.Sprintf("bbox_%d", stride), shape: ort.NewShape(n, 4)},
			outputSpec{name: fmt.Sprintf("kps_%d", stride), shape: ort.NewShape(n, 10)},
		)
	}

	s, err := newSession(modelPath, "input", inputSize, inputSize, outs, opts)
	if err != nil {
		return nil, fmt.Errorf("load face detector: %w", err)
	}
	return &FaceDetector{sess: s, threshold: threshold}, nil
}

// Detect runs the model on a preprocessed CHW, normalised image and
// returns NMS-filtered detections scaled to origW/origH.
func (d *FaceDetector) Detect(imgCHW []float32, origW, origH int) ([]FaceDetection, error) {
	if err := d.sess.run(imgCHW); err != nil {
		return nil, fmt.Errorf("run face detector: %w", err)
	}
	dets := d.decode(origW, origH)
	return nmsFaces(dets, 0.4), nil
}

func (d *FaceDetector) decode(origW, origH int) []FaceDetection {
	var out []FaceDetection
	scaleW := float32(origW) / float32(d.sess.inputW)
	scaleH := float32(origH) / float32(d.sess.inputH)

	for si, stride := range faceStrides {
		scores := d.sess.output(si * 3)
		bboxes := d.sess.output(si*3 + 1)
		kps := d.sess.output(si*3 + 2)

		fmW := d.sess.inputW / stride
		fmH := d.sess.inputH / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				score := scores[idx]
				if score >= d.threshold {
					ax := float32(cx) * st
					ay := float32(cy) * st

					x1 := clampF((ax-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW))
					y1 := clampF((ay-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH))
					x2 := clampF((ax+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW))
					y2 := clampF((ay+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH))

					var lm [5][2]float32
					for li := 0; li < 5; li++ {
						lm[li][0] = (ax + kps[idx*10+li*2]*st) * scaleW
						lm[li][1] = (ay + kps[idx*10+li*2+1]*st) * scaleH
					}

					out = append(out, FaceDetection{
						BBox:       [4]float32{x1, y1, x2, y2},
						Confidence: score,
						Landmarks:  lm,
					})
				}
				idx++
			}
		}
	}
	return out
}

func (d *FaceDetector) Close() { d.sess.Close() }

func nmsFaces(dets []FaceDetection, iouThreshold float32) []FaceDetection {
	if len(dets) == 0 {
		return dets
	}
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	keep := make([]bool, len(dets))
	for i := range keep {
		keep[i] = true
	}
	for i := range dets {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(dets); j++ {
			if keep[j] && iouBox(dets[i].BBox, dets[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []FaceDetection
	for i, d := range dets {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}
