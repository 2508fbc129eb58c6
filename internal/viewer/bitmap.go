// Package viewer implements the rendering side of the shared diagnostic
// image screen: decoding the source bitmap, the radiometric pixel pipeline
// and the screen/image coordinate mapping.
package viewer

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Bitmap is the decoded source image reduced to an 8-bit grayscale buffer.
// A bitmap is immutable once constructed; loading a new source replaces the
// whole value, it is never patched in place.
type Bitmap struct {
	width  int
	height int
	pix    []uint8
}

// NewBitmap wraps a raw grayscale buffer. The pixel slice is copied so the
// caller cannot mutate the bitmap afterwards.
func NewBitmap(width, height int, pix []uint8) (*Bitmap, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid bitmap size %dx%d", width, height)
	}
	if len(pix) != width*height {
		return nil, fmt.Errorf("pixel buffer length %d does not match %dx%d", len(pix), width, height)
	}
	buf := make([]uint8, len(pix))
	copy(buf, pix)
	return &Bitmap{width: width, height: height, pix: buf}, nil
}

// Decode reads any registered image format and converts it to a grayscale
// bitmap using the standard luminance weighting.
func Decode(r io.Reader) (*Bitmap, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("decoded image is empty")
	}
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			pix[y*w+x] = g.Y
		}
	}
	return &Bitmap{width: w, height: h, pix: pix}, nil
}

// Width returns the intrinsic pixel width.
func (b *Bitmap) Width() int { return b.width }

// Height returns the intrinsic pixel height.
func (b *Bitmap) Height() int { return b.height }

// At returns the grayscale value at (x, y). Out-of-range coordinates read as
// black.
func (b *Bitmap) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= b.width || y >= b.height {
		return 0
	}
	return b.pix[y*b.width+x]
}

// Gray copies the buffer into a stdlib grayscale image.
func (b *Bitmap) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, b.width, b.height))
	copy(img.Pix, b.pix)
	return img
}
