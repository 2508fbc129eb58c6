package viewer

// Viewport maps between screen coordinates inside the container box and
// intrinsic image coordinates. The image is contain-fitted: scaled uniformly
// to fit the container and centered, with pan and zoom applied on top.
type Viewport struct {
	ContainerW float64
	ContainerH float64
	ImageW     float64
	ImageH     float64
	Zoom       float64
	PanX       float64
	PanY       float64
}

// FitScale returns the uniform contain-fit scale factor.
func (v Viewport) FitScale() float64 {
	if v.ImageW <= 0 || v.ImageH <= 0 {
		return 1
	}
	sx := v.ContainerW / v.ImageW
	sy := v.ContainerH / v.ImageH
	if sy < sx {
		return sy
	}
	return sx
}

// offsets returns the centering offsets of the fitted image in the container.
func (v Viewport) offsets() (ox, oy float64) {
	s := v.FitScale()
	ox = (v.ContainerW - v.ImageW*s) / 2
	oy = (v.ContainerH - v.ImageH*s) / 2
	return ox, oy
}

func (v Viewport) zoom() float64 {
	if v.Zoom <= 0 {
		return 1
	}
	return v.Zoom
}

// ImageToScreen maps an image-space point to screen space.
func (v Viewport) ImageToScreen(imgX, imgY float64) (screenX, screenY float64) {
	s := v.FitScale() * v.zoom()
	ox, oy := v.offsets()
	return imgX*s + ox + v.PanX, imgY*s + oy + v.PanY
}

// ScreenToImage maps a screen-space point into image space, clamped to the
// intrinsic bounds.
func (v Viewport) ScreenToImage(screenX, screenY float64) (imgX, imgY float64) {
	s := v.FitScale() * v.zoom()
	ox, oy := v.offsets()
	imgX = clamp((screenX-ox-v.PanX)/s, 0, v.ImageW)
	imgY = clamp((screenY-oy-v.PanY)/s, 0, v.ImageH)
	return imgX, imgY
}
