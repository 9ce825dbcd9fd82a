package camera

import "math"

// BBox is a pixel-space bounding box (top-left + size), the raw-pixel
// twin of mapping.NormalizedBBox used once detections have already been
// denormalised for planning.
type BBox struct {
	X, Y, W, H float64
}

func (b BBox) cx() float64 { return b.X + b.W/2 }
func (b BBox) cy() float64 { return b.Y + b.H/2 }

// SignalSource identifies what produced a SaliencySignal.
type SignalSource int

const (
	SignalFace SignalSource = iota
	SignalObject
)

// SaliencySignal is one scoreable saliency region feeding the fusion
// calculator: a face, an object, or (in the original system) a safe
// region to avoid cropping. Safe regions are not produced by this
// repo's detectors so only Face/Object sources appear here.
type SaliencySignal struct {
	BBox       BBox
	Weight     float64
	IsRequired bool
	Source     SignalSource
}

func (s SaliencySignal) weightedCX() float64 { return s.BBox.cx() * s.Weight }
func (s SaliencySignal) weightedCY() float64 { return s.BBox.cy() * s.Weight }

// SignalFusingCalculator merges face and object saliency signals into
// one weighted focus point plus the minimum bounding box that keeps
// every "required" signal in frame, for the cinematic detection tier's
// target selection (spec §4.6.1's "score each track" extended with
// object-detection saliency per SPEC_FULL §4.5 supplement). Grounded on
// original_source/vclip-media/src/intelligent/cinematic/signal_fusion.rs's
// SignalFusingCalculator.
type SignalFusingCalculator struct {
	FaceWeight    float64
	PersonWeight  float64
	ObjectWeight  float64
	ActivityBoost float64
	FacesRequired bool
}

func DefaultSignalFusingCalculator() SignalFusingCalculator {
	return SignalFusingCalculator{
		FaceWeight:    1.0,
		PersonWeight:  0.5,
		ObjectWeight:  0.2,
		ActivityBoost: 0.5,
		FacesRequired: true,
	}
}

// FuseFaces turns per-frame face candidates into saliency signals,
// boosting a speaking face's weight by its mouth-openness activity.
func (c SignalFusingCalculator) FuseFaces(faces []Candidate) []SaliencySignal {
	out := make([]SaliencySignal, 0, len(faces))
	for _, f := range faces {
		activity := 0.0
		if f.HasMouth {
			activity = f.MouthOpenness
		}
		out = append(out, SaliencySignal{
			BBox:       BBox{X: float64(f.BBox[0]), Y: float64(f.BBox[1]), W: float64(f.BBox[2] - f.BBox[0]), H: float64(f.BBox[3] - f.BBox[1])},
			Weight:     c.FaceWeight + activity*c.ActivityBoost,
			IsRequired: c.FacesRequired,
			Source:     SignalFace,
		})
	}
	return out
}

// FuseObjects turns per-frame object detections into saliency signals.
// personClassID identifies the COCO "person" class, which gets
// PersonWeight instead of the lower ObjectWeight.
func (c SignalFusingCalculator) FuseObjects(boxes []BBox, classIDs []int, personClassID int) []SaliencySignal {
	out := make([]SaliencySignal, 0, len(boxes))
	for i, b := range boxes {
		weight := c.ObjectWeight
		if i < len(classIDs) && classIDs[i] == personClassID {
			weight = c.PersonWeight
		}
		out = append(out, SaliencySignal{BBox: b, Weight: weight, IsRequired: false, Source: SignalObject})
	}
	return out
}

// ComputeFocusPoint returns the weighted center of all signals,
// falling back to an unweighted center if every signal has zero weight.
func (c SignalFusingCalculator) ComputeFocusPoint(signals []SaliencySignal) (float64, float64) {
	if len(signals) == 0 {
		return 0, 0
	}

	var totalWeight, sumCX, sumCY float64
	for _, s := range signals {
		if s.Weight > 0 {
			totalWeight += s.Weight
			sumCX += s.weightedCX()
			sumCY += s.weightedCY()
		}
	}
	if totalWeight == 0 {
		var cx, cy float64
		for _, s := range signals {
			cx += s.BBox.cx()
			cy += s.BBox.cy()
		}
		n := float64(len(signals))
		return cx / n, cy / n
	}
	return sumCX / totalWeight, sumCY / totalWeight
}

// ComputeRequiredBounds returns the minimum bounding box spanning every
// required signal, or ok=false if none are required.
func (c SignalFusingCalculator) ComputeRequiredBounds(signals []SaliencySignal) (BBox, bool) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	found := false

	for _, s := range signals {
		if !s.IsRequired {
			continue
		}
		found = true
		minX = math.Min(minX, s.BBox.X)
		minY = math.Min(minY, s.BBox.Y)
		maxX = math.Max(maxX, s.BBox.X+s.BBox.W)
		maxY = math.Max(maxY, s.BBox.Y+s.BBox.H)
	}
	if !found {
		return BBox{}, false
	}
	return BBox{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}, true
}

// ComputeCombinedFocus fuses the weighted focus point with the required
// bounds into one target box: centered on the focus point, sized to
// contain every required signal plus padding (a fraction of the
// required box's size), clamped to the frame.
func (c SignalFusingCalculator) ComputeCombinedFocus(signals []SaliencySignal, frameW, frameH, padding float64) BBox {
	if len(signals) == 0 {
		return BBox{X: frameW * 0.25, Y: frameH * 0.25, W: frameW * 0.5, H: frameH * 0.5}
	}

	cx, cy := c.ComputeFocusPoint(signals)

	w, h := frameW*0.5, frameH*0.5
	if bounds, ok := c.ComputeRequiredBounds(signals); ok {
		w = bounds.W + 2*bounds.W*padding
		h = bounds.H + 2*bounds.H*padding
	}
	if w > frameW {
		w = frameW
	}
	if h > frameH {
		h = frameH
	}

	x := clamp(cx-w/2, 0, frameW-w)
	y := clamp(cy-h/2, 0, frameH-h)
	return BBox{X: x, Y: y, W: w, H: h}
}
