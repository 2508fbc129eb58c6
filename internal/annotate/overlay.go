package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"

	"teleview/internal/viewer"
)

var (
	committedColor = color.RGBA{R: 255, G: 214, B: 64, A: 255}
	sentinelColor  = color.RGBA{R: 64, G: 196, B: 255, A: 255}
)

// arrowheadLength is the wing length in image-space pixels.
const arrowheadLength = 12.0

// blit scales the intrinsic frame into the display surface at the viewport's
// fitted, panned and zoomed rectangle.
func blit(dst *image.RGBA, frame *image.RGBA, vp viewer.Viewport) {
	x0, y0 := vp.ImageToScreen(0, 0)
	x1, y1 := vp.ImageToScreen(vp.ImageW, vp.ImageH)
	dr := image.Rect(int(math.Floor(x0)), int(math.Floor(y0)), int(math.Ceil(x1)), int(math.Ceil(y1)))
	xdraw.ApproxBiLinear.Scale(dst, dr, frame, frame.Bounds(), xdraw.Src, nil)
}

// DrawOverlay stamps each committed annotation, and the sentinel in its
// distinct dashed style, onto dst. Geometry is computed in image space and
// mapped through the viewport.
func DrawOverlay(dst *image.RGBA, vp viewer.Viewport, committed []Annotation, pending *Annotation) {
	for _, a := range committed {
		drawAnnotation(dst, vp, a, committedColor, false)
	}
	if pending != nil {
		drawAnnotation(dst, vp, *pending, sentinelColor, true)
	}
}

func drawAnnotation(dst *image.RGBA, vp viewer.Viewport, a Annotation, col color.RGBA, dashed bool) {
	sx, sy := vp.ImageToScreen(a.Start.X, a.Start.Y)
	ex, ey := vp.ImageToScreen(a.End.X, a.End.Y)

	switch a.Type {
	case TypeMeasure:
		drawLine(dst, sx, sy, ex, ey, col, dashed)
		mid := a.Midpoint()
		mx, my := vp.ImageToScreen(mid.X, mid.Y)
		drawLabel(dst, fmt.Sprintf("%.1f", a.Distance()), int(mx), int(my)-6, col)
	case TypeArrow:
		drawLine(dst, sx, sy, ex, ey, col, dashed)
		for _, wing := range arrowWings(a.Start, a.End, arrowheadLength) {
			wx0, wy0 := vp.ImageToScreen(wing[0].X, wing[0].Y)
			wx1, wy1 := vp.ImageToScreen(wing[1].X, wing[1].Y)
			drawLine(dst, wx0, wy0, wx1, wy1, col, dashed)
		}
	case TypeCircle:
		r := a.Distance() * vp.FitScale() * zoomOf(vp)
		drawCircle(dst, sx, sy, r, col, dashed)
	case TypeRectangle:
		drawLine(dst, sx, sy, ex, sy, col, dashed)
		drawLine(dst, ex, sy, ex, ey, col, dashed)
		drawLine(dst, ex, ey, sx, ey, col, dashed)
		drawLine(dst, sx, ey, sx, sy, col, dashed)
	}
}

func zoomOf(vp viewer.Viewport) float64 {
	if vp.Zoom <= 0 {
		return 1
	}
	return vp.Zoom
}

// drawLine steps along the segment one pixel at a time. Dashed lines skip
// alternating runs for the sentinel preview style.
func drawLine(dst *image.RGBA, x0, y0, x1, y1 float64, col color.RGBA, dashed bool) {
	dx := x1 - x0
	dy := y1 - y0
	steps := int(math.Max(math.Abs(dx), math.Abs(dy)))
	if steps == 0 {
		setPixel(dst, int(x0), int(y0), col)
		return
	}
	for i := 0; i <= steps; i++ {
		if dashed && (i/4)%2 == 1 {
			continue
		}
		t := float64(i) / float64(steps)
		setPixel(dst, int(x0+dx*t), int(y0+dy*t), col)
	}
}

func drawCircle(dst *image.RGBA, cx, cy, r float64, col color.RGBA, dashed bool) {
	if r <= 0 {
		setPixel(dst, int(cx), int(cy), col)
		return
	}
	steps := int(2 * math.Pi * r)
	if steps < 16 {
		steps = 16
	}
	for i := 0; i < steps; i++ {
		if dashed && (i/4)%2 == 1 {
			continue
		}
		theta := 2 * math.Pi * float64(i) / float64(steps)
		setPixel(dst, int(cx+r*math.Cos(theta)), int(cy+r*math.Sin(theta)), col)
	}
}

func setPixel(dst *image.RGBA, x, y int, col color.RGBA) {
	if !image.Pt(x, y).In(dst.Bounds()) {
		return
	}
	dst.SetRGBA(x, y, col)
}

// digitPatterns holds 3x5 pixel glyphs for the measurement label charset.
var digitPatterns = map[rune][5]uint8{
	'0': {0b111, 0b101, 0b101, 0b101, 0b111},
	'1': {0b010, 0b110, 0b010, 0b010, 0b111},
	'2': {0b111, 0b001, 0b111, 0b100, 0b111},
	'3': {0b111, 0b001, 0b111, 0b001, 0b111},
	'4': {0b101, 0b101, 0b111, 0b001, 0b001},
	'5': {0b111, 0b100, 0b111, 0b001, 0b111},
	'6': {0b111, 0b100, 0b111, 0b101, 0b111},
	'7': {0b111, 0b001, 0b001, 0b001, 0b001},
	'8': {0b111, 0b101, 0b111, 0b101, 0b111},
	'9': {0b111, 0b101, 0b111, 0b001, 0b111},
	'.': {0b000, 0b000, 0b000, 0b000, 0b010},
}

// drawLabel stamps a numeric label centered at (cx, cy).
func drawLabel(dst *image.RGBA, text string, cx, cy int, col color.RGBA) {
	const cellW, cellH = 4, 5
	left := cx - len(text)*cellW/2
	for i, ch := range text {
		pattern, ok := digitPatterns[ch]
		if !ok {
			continue
		}
		ox := left + i*cellW
		for row := 0; row < cellH; row++ {
			for bit := 0; bit < 3; bit++ {
				if pattern[row]&(1<<(2-bit)) != 0 {
					setPixel(dst, ox+bit, cy+row, col)
				}
			}
		}
	}
}
