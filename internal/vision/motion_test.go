package vision

import (
	"image"
	"image/color"
	"testing"
)

func solidFrame(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func withPatch(base *image.Gray, x0, y0, x1, y1 int, v uint8) *image.Gray {
	img := image.NewGray(base.Bounds())
	copy(img.Pix, base.Pix)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestMotionDetectorNoMotionOnFirstFrame(t *testing.T) {
	d := NewMotionDetector(24, 10)
	base := solidFrame(100, 100, 50)
	if dets := d.Detect(base, 100, 100, 0); dets != nil {
		t.Fatalf("expected no detection on the first frame, got %+v", dets)
	}
}

func TestMotionDetectorNoMotionOnStaticScene(t *testing.T) {
	d := NewMotionDetector(24, 10)
	base := solidFrame(100, 100, 50)
	d.Detect(base, 100, 100, 0)
	if dets := d.Detect(base, 100, 100, 1.0/5); dets != nil {
		t.Fatalf("expected no detection on an unchanged frame, got %+v", dets)
	}
}

func TestMotionDetectorFindsMotionCentroid(t *testing.T) {
	d := NewMotionDetector(24, 10)
	base := solidFrame(200, 200, 30)
	d.Detect(base, 200, 200, 0)

	moved := withPatch(base, 140, 140, 160, 160, 220)
	dets := d.Detect(moved, 200, 200, 1.0/5)
	if len(dets) != 1 {
		t.Fatalf("expected 1 synthetic detection, got %d", len(dets))
	}
	cx := (dets[0].BBox[0] + dets[0].BBox[2]) / 2
	cy := (dets[0].BBox[1] + dets[0].BBox[3]) / 2
	if cx < 140 || cx > 160 || cy < 140 || cy > 160 {
		t.Fatalf("expected bbox centred near the moved patch, got centre (%v, %v)", cx, cy)
	}
	if dets[0].Confidence != 1.0 {
		t.Fatalf("expected synthetic confidence 1.0, got %v", dets[0].Confidence)
	}
}

func TestMotionDetectorCoastsThroughBriefGap(t *testing.T) {
	d := NewMotionDetector(24, 10)
	base := solidFrame(200, 200, 30)
	d.Detect(base, 200, 200, 0)

	moved := withPatch(base, 140, 140, 160, 160, 220)
	first := d.Detect(moved, 200, 200, 1.0/5)
	if len(first) != 1 {
		t.Fatalf("expected a detection on the moved frame")
	}

	// Scene goes static again but within the decay window: the last
	// motion centre should still be reported.
	coasted := d.Detect(moved, 200, 200, 1.0)
	if len(coasted) != 1 {
		t.Fatalf("expected a coasted detection within the decay window, got %+v", coasted)
	}

	// Past the decay window with no further motion: detection drops.
	expired := d.Detect(moved, 200, 200, 1.0+motionDecaySeconds+1)
	if expired != nil {
		t.Fatalf("expected the coasted detection to expire, got %+v", expired)
	}
}
