// Package mapping provides the coordinate and letterbox mapping kernel
// shared by every detection tier: converting between raw source-frame
// pixel coordinates and a (possibly letterboxed) inference-canvas space,
// and normalised [0,1] bounding boxes used in the persisted analysis
// cache.
package mapping

import "math"

// Meta describes an aspect-preserving letterbox transform from a raw
// frame of size (RawW, RawH) into a fixed inference canvas of size
// (InfW, InfH): uniform scale plus centered padding on one axis.
type Meta struct {
	RawW, RawH float64
	InfW, InfH float64
	Scale      float64
	PadLeft    float64
	PadTop     float64
	// ScaledW/ScaledH are RawW*Scale / RawH*Scale, i.e. the occupied
	// region of the inference canvas before padding.
	ScaledW float64
	ScaledH float64
	// PadValue is the pixel value used to fill the letterbox bars.
	// 0 for face detectors (YuNet expects black padding), 128 elsewhere.
	PadValue uint8
}

// Compute builds the letterbox transform for an arbitrary raw frame
// mapped into an arbitrary inference canvas, with the given pad value.
func Compute(rawW, rawH, infW, infH int, padValue uint8) Meta {
	rw, rh := float64(rawW), float64(rawH)
	iw, ih := float64(infW), float64(infH)

	scale := math.Min(iw/rw, ih/rh)
	scaledW := rw * scale
	scaledH := rh * scale

	return Meta{
		RawW: rw, RawH: rh,
		InfW: iw, InfH: ih,
		Scale:    scale,
		PadLeft:  (iw - scaledW) / 2,
		PadTop:   (ih - scaledH) / 2,
		ScaledW:  scaledW,
		ScaledH:  scaledH,
		PadValue: padValue,
	}
}

// ForYuNet builds the static letterbox used by the legacy/optimised YuNet
// detectors: zero padding (black bars), since YuNet is trained on
// black-letterboxed input and non-zero padding biases edge detections.
func ForYuNet(rawW, rawH, infW, infH int) Meta {
	return Compute(rawW, rawH, infW, infH, 0)
}

// ForYOLO builds the letterbox used by the YOLOv8 object-detection tier,
// which (like most COCO-trained models) expects grey (128) padding.
func ForYOLO(rawW, rawH, infW, infH int) Meta {
	return Compute(rawW, rawH, infW, infH, 128)
}

// WithDefaults builds a 1:1 identity-scale meta for callers that already
// operate in raw-frame coordinates (e.g. motion-aware tier, which never
// resizes into a separate inference canvas).
func WithDefaults(rawW, rawH int) Meta {
	return Compute(rawW, rawH, rawW, rawH, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MapPointToInf maps a raw-frame point into inference-canvas space.
func (m Meta) MapPointToInf(x, y float64) (float64, float64) {
	return x*m.Scale + m.PadLeft, y*m.Scale + m.PadTop
}

// MapPoint maps an inference-canvas point back to raw-frame space,
// clamping to the raw frame bounds. Clamping is part of the contract:
// letterbox padding regions never produce out-of-frame raw coordinates.
func (m Meta) MapPoint(x, y float64) (float64, float64) {
	rx := (x - m.PadLeft) / m.Scale
	ry := (y - m.PadTop) / m.Scale
	return clamp(rx, 0, m.RawW-1), clamp(ry, 0, m.RawH-1)
}

// Rect is an axis-aligned pixel rectangle (x, y, w, h).
type Rect struct {
	X, Y, W, H float64
}

// MapRectToInf maps a raw-space rect into inference-canvas space.
func (m Meta) MapRectToInf(r Rect) Rect {
	x0, y0 := m.MapPointToInf(r.X, r.Y)
	x1, y1 := m.MapPointToInf(r.X+r.W, r.Y+r.H)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// MapRect maps an inference-canvas rect back into raw-space, clamping
// both corners to the raw frame and guaranteeing non-negative width and
// height (a degenerate inference-space rect never produces a negative
// raw rect).
func (m Meta) MapRect(r Rect) Rect {
	x0, y0 := m.MapPoint(r.X, r.Y)
	x1, y1 := m.MapPoint(r.X+r.W, r.Y+r.H)
	w := x1 - x0
	if w < 0 {
		w = 0
	}
	h := y1 - y0
	if h < 0 {
		h = 0
	}
	return Rect{X: x0, Y: y0, W: w, H: h}
}

// Normalize converts a raw-space rect to a [0,1]-normalised bbox.
func (m Meta) Normalize(r Rect) NormalizedBBox {
	return NormalizedBBox{
		X: clamp(r.X/m.RawW, 0, 1),
		Y: clamp(r.Y/m.RawH, 0, 1),
		W: clamp(r.W/m.RawW, 0, 1),
		H: clamp(r.H/m.RawH, 0, 1),
	}
}

// Denormalize converts a normalised bbox back to raw-space pixels.
func (m Meta) Denormalize(b NormalizedBBox) Rect {
	return Rect{X: b.X * m.RawW, Y: b.Y * m.RawH, W: b.W * m.RawW, H: b.H * m.RawH}
}

// IsInActiveArea reports whether an inference-canvas point falls within
// the scaled (non-padded) region of the canvas.
func (m Meta) IsInActiveArea(x, y float64) bool {
	return x >= m.PadLeft && x <= m.PadLeft+m.ScaledW &&
		y >= m.PadTop && y <= m.PadTop+m.ScaledH
}

// ActiveRegion returns the scaled (non-padded) rect within the inference
// canvas.
func (m Meta) ActiveRegion() Rect {
	return Rect{X: m.PadLeft, Y: m.PadTop, W: m.ScaledW, H: m.ScaledH}
}

// Padding returns (padLeft, padTop) for diagnostics/tests.
func (m Meta) Padding() (float64, float64) {
	return m.PadLeft, m.PadTop
}

// NormalizedBBox is a [0,1]-normalised bounding box, the stable form
// persisted in the neural-analysis cache (spec §6.4) independent of any
// one frame resolution.
type NormalizedBBox struct {
	X, Y, W, H float64
}

// FromRaw builds a NormalizedBBox from raw pixel coordinates and frame
// dimensions. Width and height are clipped at the frame edge, so the
// result always satisfies Valid's closure invariant.
func FromRaw(x, y, w, h, frameW, frameH float64) NormalizedBBox {
	nx := clamp(x/frameW, 0, 1)
	ny := clamp(y/frameH, 0, 1)
	return NormalizedBBox{
		X: nx,
		Y: ny,
		W: clamp(w/frameW, 0, 1-nx),
		H: clamp(h/frameH, 0, 1-ny),
	}
}

// ToRaw converts back to raw pixel coordinates for the given frame size.
func (b NormalizedBBox) ToRaw(frameW, frameH float64) Rect {
	return Rect{X: b.X * frameW, Y: b.Y * frameH, W: b.W * frameW, H: b.H * frameH}
}

// Center returns the normalised center point (cx, cy).
func (b NormalizedBBox) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns W*H in normalised units.
func (b NormalizedBBox) Area() float64 {
	return b.W * b.H
}

// IoU computes intersection-over-union between two normalised bboxes.
func (b NormalizedBBox) IoU(o NormalizedBBox) float64 {
	ix0 := math.Max(b.X, o.X)
	iy0 := math.Max(b.Y, o.Y)
	ix1 := math.Min(b.X+b.W, o.X+o.W)
	iy1 := math.Min(b.Y+b.H, o.Y+o.H)

	iw := ix1 - ix0
	ih := iy1 - iy0
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Valid reports whether the bbox satisfies the cache closure invariant:
// every component in [0,1] and x+w, y+h <= 1+eps.
func (b NormalizedBBox) Valid() bool {
	const eps = 1e-6
	in01 := func(v float64) bool { return v >= -eps && v <= 1+eps }
	return in01(b.X) && in01(b.Y) && in01(b.W) && in01(b.H) &&
		b.X+b.W <= 1+eps && b.Y+b.H <= 1+eps
}
