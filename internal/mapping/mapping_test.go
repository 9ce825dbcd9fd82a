package mapping

import "testing"

func TestRoundTripWithinOnePixel(t *testing.T) {
	m := Compute(1920, 1080, 960, 540, 0)
	for _, pt := range [][2]float64{{0, 0}, {1919, 1079}, {500, 300}, {960, 540}} {
		ix, iy := m.MapPointToInf(pt[0], pt[1])
		rx, ry := m.MapPoint(ix, iy)
		if diff := rx - pt[0]; diff > 1.0 || diff < -1.0 {
			t.Fatalf("x round-trip off by %v for %v", diff, pt)
		}
		if diff := ry - pt[1]; diff > 1.0 || diff < -1.0 {
			t.Fatalf("y round-trip off by %v for %v", diff, pt)
		}
	}
}

func TestSixteenByNineHasNoPadding(t *testing.T) {
	m := Compute(1920, 1080, 960, 540, 0)
	if m.PadLeft != 0 || m.PadTop != 0 {
		t.Fatalf("expected zero padding for matching aspect, got (%v, %v)", m.PadLeft, m.PadTop)
	}
}

func TestLetterboxPaddingNeverEmitsOutOfFrame(t *testing.T) {
	// 9:16 source into a 16:9 canvas: heavy horizontal padding.
	m := Compute(1080, 1920, 960, 540, 0)
	// Points inside the padding bars should clamp to the raw frame edges.
	rx, ry := m.MapPoint(0, 270)
	if rx < 0 || rx > m.RawW || ry < 0 || ry > m.RawH {
		t.Fatalf("out-of-frame raw coordinate: (%v, %v)", rx, ry)
	}
	r := m.MapRect(Rect{X: -50, Y: -50, W: 10000, H: 10000})
	if r.X < 0 || r.Y < 0 || r.X+r.W > m.RawW+1 || r.Y+r.H > m.RawH+1 {
		t.Fatalf("mapped rect escapes raw frame: %+v", r)
	}
}

func TestNormalizedBBoxIoU(t *testing.T) {
	a := NormalizedBBox{X: 0.1, Y: 0.1, W: 0.4, H: 0.4}
	b := NormalizedBBox{X: 0.3, Y: 0.3, W: 0.4, H: 0.4}
	// Intersection: x[0.3,0.5] y[0.3,0.5] => 0.2*0.2=0.04
	// union = 0.16+0.16-0.04 = 0.28
	got := a.IoU(b)
	want := 0.04 / 0.28
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("IoU = %v, want %v", got, want)
	}
}

func TestNormalizedBBoxClosure(t *testing.T) {
	b := FromRaw(1900, 1070, 50, 50, 1920, 1080)
	if !b.Valid() {
		t.Fatalf("expected valid bbox, got %+v", b)
	}
	if b.X+b.W > 1+1e-6 || b.Y+b.H > 1+1e-6 {
		t.Fatalf("bbox escapes normalised closure: %+v", b)
	}
}

func TestUltrawidePadding(t *testing.T) {
	// 21:9 source into a 9:16 portrait canvas: heavy vertical padding.
	m := Compute(2560, 1080, 1080, 1920, 0)
	if m.PadTop <= 0 {
		t.Fatalf("expected vertical padding for ultrawide->portrait, got %v", m.PadTop)
	}
	if m.PadLeft != 0 {
		t.Fatalf("expected zero horizontal padding, got %v", m.PadLeft)
	}
}
