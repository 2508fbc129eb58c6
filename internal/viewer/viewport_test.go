package viewer

import (
	"math"
	"testing"
)

func TestViewportContainFit(t *testing.T) {
	// 512x512 image in an 800x600 box fits on height: s = 600/512, centered
	// horizontally.
	vp := Viewport{ContainerW: 800, ContainerH: 600, ImageW: 512, ImageH: 512, Zoom: 1}

	s := vp.FitScale()
	want := 600.0 / 512.0
	if math.Abs(s-want) > 1e-9 {
		t.Fatalf("fit scale %v, want %v", s, want)
	}

	sx, sy := vp.ImageToScreen(0, 0)
	wantOx := (800 - 512*want) / 2
	if math.Abs(sx-wantOx) > 1e-9 || math.Abs(sy) > 1e-9 {
		t.Fatalf("origin mapped to (%v,%v), want (%v,0)", sx, sy, wantOx)
	}
}

func TestViewportRoundTrip(t *testing.T) {
	vps := []Viewport{
		{ContainerW: 800, ContainerH: 600, ImageW: 256, ImageH: 256, Zoom: 1},
		{ContainerW: 640, ContainerH: 480, ImageW: 100, ImageH: 300, Zoom: 2.5, PanX: 40, PanY: -13},
		{ContainerW: 300, ContainerH: 900, ImageW: 512, ImageH: 64, Zoom: 0.5, PanX: -7, PanY: 7},
	}
	points := [][2]float64{{0, 0}, {1, 1}, {13.25, 99.5}, {100, 60}, {63.999, 0.001}}

	for _, vp := range vps {
		for _, pt := range points {
			if pt[0] > vp.ImageW || pt[1] > vp.ImageH {
				continue
			}
			sx, sy := vp.ImageToScreen(pt[0], pt[1])
			ix, iy := vp.ScreenToImage(sx, sy)
			if math.Abs(ix-pt[0]) > 1e-9 || math.Abs(iy-pt[1]) > 1e-9 {
				t.Fatalf("round trip of (%v,%v) through %+v gave (%v,%v)", pt[0], pt[1], vp, ix, iy)
			}
		}
	}
}

func TestViewportClampsToImageBounds(t *testing.T) {
	vp := Viewport{ContainerW: 400, ContainerH: 400, ImageW: 200, ImageH: 200, Zoom: 1}

	ix, iy := vp.ScreenToImage(-5000, -5000)
	if ix != 0 || iy != 0 {
		t.Fatalf("far negative screen point should clamp to origin, got (%v,%v)", ix, iy)
	}
	ix, iy = vp.ScreenToImage(5000, 5000)
	if ix != 200 || iy != 200 {
		t.Fatalf("far positive screen point should clamp to extent, got (%v,%v)", ix, iy)
	}
}

func TestViewportZeroZoomFallsBackToUnity(t *testing.T) {
	vp := Viewport{ContainerW: 100, ContainerH: 100, ImageW: 100, ImageH: 100}
	sx, sy := vp.ImageToScreen(50, 50)
	if sx != 50 || sy != 50 {
		t.Fatalf("unit mapping expected, got (%v,%v)", sx, sy)
	}
}
