package viewer

import "testing"

func TestSuggestWindow(t *testing.T) {
	// Linear ramp 0..255: the 2%..98% quantile window should cover most of
	// the range, centered near the middle.
	pix := make([]uint8, 256)
	for i := range pix {
		pix[i] = uint8(i)
	}
	b := testBitmap(t, 16, 16, pix)

	center, width := SuggestWindow(b, 0.02, 0.98)
	if center < 100 || center > 156 {
		t.Fatalf("center %v out of expected band", center)
	}
	if width < 200 || width > 256 {
		t.Fatalf("width %v out of expected band", width)
	}
}

func TestSuggestWindowFlatImage(t *testing.T) {
	pix := make([]uint8, 64)
	for i := range pix {
		pix[i] = 90
	}
	b := testBitmap(t, 8, 8, pix)

	center, width := SuggestWindow(b, 0.02, 0.98)
	if width <= 0 {
		t.Fatalf("width must stay positive, got %v", width)
	}
	if center < 89 || center > 92 {
		t.Fatalf("center %v should sit at the flat value", center)
	}
}

func TestSuggestWindowBadQuantilesFallBack(t *testing.T) {
	pix := make([]uint8, 16)
	for i := range pix {
		pix[i] = uint8(i * 16)
	}
	b := testBitmap(t, 4, 4, pix)

	center, width := SuggestWindow(b, 0.9, 0.1)
	if width <= 0 || center <= 0 {
		t.Fatalf("fallback quantiles produced center=%v width=%v", center, width)
	}
}
