package vision

import (
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// cocoClasses is the standard 80-class COCO label set YOLOv8 is trained
// on, matching original_source's detection/object_detector.rs
// COCO_CLASSES constant.
var cocoClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake",
	"chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop",
	"mouse", "remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

const personClassID = 0

// ObjectDetection is one YOLOv8 detection in source-pixel coordinates.
type ObjectDetection struct {
	BBox       [4]float32
	Confidence float32
	ClassID    int
}

func (d ObjectDetection) IsPerson() bool { return d.ClassID == personClassID }
func (d ObjectDetection) Label() string {
	if d.ClassID >= 0 && d.ClassID < len(cocoClasses) {
		return cocoClasses[d.ClassID]
	}
	return "unknown"
}
func (d ObjectDetection) Center() (float32, float32) {
	return (d.BBox[0] + d.BBox[2]) / 2, (d.BBox[1] + d.BBox[3]) / 2
}
func (d ObjectDetection) Area() float32 {
	return (d.BBox[2] - d.BBox[0]) * (d.BBox[3] - d.BBox[1])
}

// ObjectDetector runs YOLOv8 for the Cinematic tier's optional
// object-detection supplement (SPEC_FULL §4.5). YOLOv8's single
// [1, 84, N] output (4 box coords + 80 class scores per anchor,
// anchor-free) is decoded here rather than the per-stride anchor grid
// FaceDetector uses, since that is YOLOv8's actual export layout.
type ObjectDetector struct {
	sess       *session
	numAnchors int
	threshold  float32
}

func NewObjectDetector(modelPath string, inputSize int, numAnchors int, threshold float32, opts *ort.SessionOptions) (*ObjectDetector, error) {
	outs := []outputSpec{
		{name: "output0", shape: ort.NewShape(1, int64(4+len(cocoClasses)), int64(numAnchors))},
	}
	s, err := newSession(modelPath, "images", inputSize, inputSize, outs, opts)
	if err != nil {
		return nil, fmt.Errorf("load object detector: %w", err)
	}
	return &ObjectDetector{sess: s, numAnchors: numAnchors, threshold: threshold}, nil
}

func (d *ObjectDetector) Detect(imgCHW []float32, origW, origH int) ([]ObjectDetection, error) {
	if err := d.sess.run(imgCHW); err != nil {
		return nil, fmt.Errorf("run object detector: %w", err)
	}
	raw := d.sess.output(0)
	return nmsObjects(d.decode(raw, origW, origH), 0.45), nil
}

func (d *ObjectDetector) decode(raw []float32, origW, origH int) []ObjectDetection {
	numClasses := len(cocoClasses)
	n := d.numAnchors
	scaleX := float32(origW) / float32(d.sess.inputW)
	scaleY := float32(origH) / float32(d.sess.inputH)

	var out []ObjectDetection
	for i := 0; i < n; i++ {
		cx := raw[0*n+i]
		cy := raw[1*n+i]
		w := raw[2*n+i]
		h := raw[3*n+i]

		bestScore := float32(0)
		bestClass := -1
		for c := 0; c < numClasses; c++ {
			score := raw[(4+c)*n+i]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestScore < d.threshold || bestClass < 0 {
			continue
		}

		x1 := clampF((cx-w/2)*scaleX, 0, float32(origW))
		y1 := clampF((cy-h/2)*scaleY, 0, float32(origH))
		x2 := clampF((cx+w/2)*scaleX, 0, float32(origW))
		y2 := clampF((cy+h/2)*scaleY, 0, float32(origH))

		out = append(out, ObjectDetection{
			BBox:       [4]float32{x1, y1, x2, y2},
			Confidence: bestScore,
			ClassID:    bestClass,
		})
	}
	return out
}

func (d *ObjectDetector) Close() { d.sess.Close() }

func nmsObjects(dets []ObjectDetection, iouThreshold float32) []ObjectDetection {
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
			if keep[j] && dets[i].ClassID == dets[j].ClassID && iouBox(dets[i].BBox, dets[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []ObjectDetection
	for i, d := range dets {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}
