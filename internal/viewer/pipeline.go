package viewer

import (
	"image"
	"math"
)

// lut builds the 256-entry intensity mapping for the radiometric chain:
// windowing first, then brightness, contrast and gamma on the windowed
// signal. The source buffer is 8-bit so the table is exact.
func lut(p Parameters) [256]uint8 {
	width := p.WindowWidth
	if width <= 0 {
		width = 1
	}
	min := p.WindowCenter - width/2
	max := p.WindowCenter + width/2
	gamma := p.Gamma
	if gamma <= 0 {
		gamma = 1
	}

	var table [256]uint8
	for v := 0; v < 256; v++ {
		// Windowing maps [center-width/2, center+width/2] onto [0, 255].
		windowed := clamp((float64(v)-min)/(max-min)*255, 0, 255)
		bright := windowed + p.Brightness
		contrasted := (bright-128)*p.Contrast + 128
		corrected := clamp(math.Pow(contrasted/255, 1/gamma)*255, 0, 255)
		table[v] = uint8(math.Round(corrected))
	}
	return table
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	if math.IsNaN(v) {
		return lo
	}
	return v
}

// rotate resamples the buffer rotated about its center by the given number
// of degrees. The output keeps the source dimensions; samples falling
// outside the source read as black.
func rotate(b *Bitmap, degrees float64) *Bitmap {
	if degrees == 0 {
		return b
	}
	rad := degrees * math.Pi / 180
	cosR := math.Cos(-rad)
	sinR := math.Sin(-rad)
	cx := float64(b.width-1) / 2
	cy := float64(b.height-1) / 2

	out := make([]uint8, len(b.pix))
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			// Inverse-map the destination pixel into the source.
			relX := float64(x) - cx
			relY := float64(y) - cy
			srcX := int(math.Round(relX*cosR - relY*sinR + cx))
			srcY := int(math.Round(relX*sinR + relY*cosR + cy))
			if srcX < 0 || srcX >= b.width || srcY < 0 || srcY >= b.height {
				continue
			}
			out[y*b.width+x] = b.pix[srcY*b.width+srcX]
		}
	}
	return &Bitmap{width: b.width, height: b.height, pix: out}
}

// Render produces the displayed frame for the bitmap under the given
// parameters: geometric rotation first, then the per-pixel intensity chain.
// Each call is a full synchronous pass over the whole buffer.
func Render(b *Bitmap, p Parameters) *image.RGBA {
	rotated := rotate(b, p.Rotation)
	table := lut(p)

	out := image.NewRGBA(image.Rect(0, 0, rotated.width, rotated.height))
	for i, v := range rotated.pix {
		mapped := table[v]
		o := i * 4
		out.Pix[o] = mapped
		out.Pix[o+1] = mapped
		out.Pix[o+2] = mapped
		out.Pix[o+3] = 255
	}
	return out
}

// RenderDirect produces the fallback frame: the unprocessed source pixels
// with no windowing, rotation or overlays.
func RenderDirect(b *Bitmap) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	for i, v := range b.pix {
		o := i * 4
		out.Pix[o] = v
		out.Pix[o+1] = v
		out.Pix[o+2] = v
		out.Pix[o+3] = 255
	}
	return out
}

// ApplyTransfer maps a single source intensity through the pipeline's
// intensity chain. Exposed for parameter panels that preview the curve.
func ApplyTransfer(v uint8, p Parameters) uint8 {
	table := lut(p)
	return table[v]
}
