package viewer

import (
	"image"

	"golang.org/x/image/draw"
)

// ExportScaled resamples a rendered frame so that its longest side is at
// most maxDim pixels, preserving aspect ratio. Used for thumbnails and
// share previews; the full-resolution frame is never modified.
func ExportScaled(frame *image.RGBA, maxDim int) *image.RGBA {
	if maxDim <= 0 {
		maxDim = 256
	}
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		out := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Copy(out, image.Point{}, frame, b, draw.Src, nil)
		return out
	}

	var ow, oh int
	if w >= h {
		ow = maxDim
		oh = h * maxDim / w
	} else {
		oh = maxDim
		ow = w * maxDim / h
	}
	if ow < 1 {
		ow = 1
	}
	if oh < 1 {
		oh = 1
	}
	out := image.NewRGBA(image.Rect(0, 0, ow, oh))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), frame, b, draw.Src, nil)
	return out
}
