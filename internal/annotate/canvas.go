package annotate

import (
	"context"
	"image"
	"log/slog"

	"github.com/google/uuid"

	"teleview/internal/viewer"
)

// phase is the gesture state. Exactly one gesture may be active at a time;
// the transition rules make a concurrent pan and draw unrepresentable.
type phase int

const (
	phaseIdle phase = iota
	phasePanning
	phaseDrawing
)

// Canvas is one viewer instance: the decoded bitmap, its display
// parameters, the committed annotations and the current pointer gesture.
// Canvases are never shared; collaboration happens over the session layer.
type Canvas struct {
	params   viewer.Parameters
	bitmap   *viewer.Bitmap
	direct   bool
	source   string

	committed []Annotation
	pending   *Annotation

	phase phase
	lastX float64
	lastY float64

	containerW float64
	containerH float64

	frame   *image.RGBA
	newID   func() string
	onError func(error)
	logger  *slog.Logger
}

// NewCanvas creates an empty canvas for a display container of the given
// size. onError receives recoverable load failures; it may be nil.
func NewCanvas(containerW, containerH float64, onError func(error), logger *slog.Logger) *Canvas {
	if logger == nil {
		logger = slog.Default()
	}
	return &Canvas{
		params:     viewer.DefaultParameters(),
		containerW: containerW,
		containerH: containerH,
		newID:      uuid.NewString,
		onError:    onError,
		logger:     logger,
	}
}

// Viewport returns the current screen/image mapping.
func (c *Canvas) Viewport() viewer.Viewport {
	var iw, ih float64
	if c.bitmap != nil {
		iw = float64(c.bitmap.Width())
		ih = float64(c.bitmap.Height())
	}
	return viewer.Viewport{
		ContainerW: c.containerW,
		ContainerH: c.containerH,
		ImageW:     iw,
		ImageH:     ih,
		Zoom:       c.params.Zoom,
		PanX:       c.params.PanX,
		PanY:       c.params.PanY,
	}
}

// Load fetches a new source bitmap. Changing the source clears all
// annotations and replaces the bitmap wholesale; on failure the canvas
// switches to direct display of whatever it already holds and reports the
// error through the callback instead of returning it into the render path.
func (c *Canvas) Load(ctx context.Context, loader *viewer.Loader, sourceRef string) {
	changed := sourceRef != c.source
	if changed {
		c.committed = nil
		c.pending = nil
		c.phase = phaseIdle
		c.bitmap = nil
	}
	c.source = sourceRef

	bmp, err := loader.Load(ctx, sourceRef)
	if err != nil {
		c.direct = true
		c.logger.Error("bitmap load failed, using direct display", slog.String("source", sourceRef), slog.String("error", err.Error()))
		if c.onError != nil {
			c.onError(err)
		}
		c.render()
		return
	}
	c.direct = false
	c.bitmap = bmp
	if changed {
		c.params.Reset()
	}
	c.render()
}

// SetBitmap installs an already-decoded bitmap, clearing annotations.
func (c *Canvas) SetBitmap(bmp *viewer.Bitmap) {
	c.bitmap = bmp
	c.direct = false
	c.committed = nil
	c.pending = nil
	c.phase = phaseIdle
	c.render()
}

// Parameters returns a copy of the current display parameters.
func (c *Canvas) Parameters() viewer.Parameters { return c.params }

// SetWindow adjusts window center and width.
func (c *Canvas) SetWindow(center, width float64) {
	c.params.WindowCenter = center
	c.params.WindowWidth = width
	c.render()
}

// SetBrightness adjusts the brightness offset.
func (c *Canvas) SetBrightness(v float64) { c.params.Brightness = v; c.render() }

// SetContrast adjusts the contrast factor.
func (c *Canvas) SetContrast(v float64) { c.params.Contrast = v; c.render() }

// SetGamma adjusts the gamma correction.
func (c *Canvas) SetGamma(v float64) { c.params.Gamma = v; c.render() }

// SetRotation sets the rotation in degrees.
func (c *Canvas) SetRotation(deg float64) { c.params.Rotation = deg; c.render() }

// SetZoom sets the zoom factor.
func (c *Canvas) SetZoom(zoom float64) {
	if zoom <= 0 {
		zoom = 1
	}
	c.params.Zoom = zoom
	c.render()
}

// SetTool selects the active pointer tool.
func (c *Canvas) SetTool(tool viewer.Tool) { c.params.ActiveTool = tool }

// AutoWindow applies a window suggested by the bitmap's intensity
// distribution.
func (c *Canvas) AutoWindow() {
	if c.bitmap == nil {
		return
	}
	center, width := viewer.SuggestWindow(c.bitmap, 0.02, 0.98)
	c.SetWindow(center, width)
}

// Reset restores all parameters to their defaults and clears every
// committed annotation.
func (c *Canvas) Reset() {
	c.params.Reset()
	c.committed = nil
	c.pending = nil
	c.phase = phaseIdle
	c.render()
}

// Annotations returns a copy of the committed annotation list.
func (c *Canvas) Annotations() []Annotation {
	return append([]Annotation(nil), c.committed...)
}

// Pending returns the in-progress annotation, or nil outside a drawing
// gesture.
func (c *Canvas) Pending() *Annotation {
	if c.pending == nil {
		return nil
	}
	cp := *c.pending
	return &cp
}

// PointerDown starts a gesture at a screen coordinate. With the pointer tool
// and zoom > 1 it begins panning; with a shape tool it begins drawing the
// sentinel annotation. A pointer-down during an active gesture is ignored.
func (c *Canvas) PointerDown(screenX, screenY float64) {
	if c.phase != phaseIdle {
		return
	}
	if c.params.ActiveTool == viewer.ToolPointer {
		if c.params.Zoom > 1 {
			c.phase = phasePanning
			c.lastX, c.lastY = screenX, screenY
		}
		return
	}
	ix, iy := c.Viewport().ScreenToImage(screenX, screenY)
	c.phase = phaseDrawing
	c.pending = &Annotation{
		ID:    TempID,
		Type:  toolType(c.params.ActiveTool),
		Start: Point{X: ix, Y: iy},
		End:   Point{X: ix, Y: iy},
	}
	c.render()
}

// PointerMove advances the active gesture. Panning moves by raw screen-space
// deltas; drawing updates the sentinel's end point.
func (c *Canvas) PointerMove(screenX, screenY float64) {
	switch c.phase {
	case phasePanning:
		c.params.PanX += screenX - c.lastX
		c.params.PanY += screenY - c.lastY
		c.lastX, c.lastY = screenX, screenY
		c.render()
	case phaseDrawing:
		ix, iy := c.Viewport().ScreenToImage(screenX, screenY)
		c.pending.End = Point{X: ix, Y: iy}
		c.render()
	}
}

// PointerUp ends the active gesture, committing the sentinel as a new
// immutable annotation if one was being drawn.
func (c *Canvas) PointerUp() { c.finishGesture(true) }

// PointerLeave behaves like PointerUp: leaving the surface must not leave a
// gesture dangling.
func (c *Canvas) PointerLeave() { c.finishGesture(true) }

// Unselect forces the pointer tool and cancels any in-progress gesture
// without committing.
func (c *Canvas) Unselect() {
	c.params.ActiveTool = viewer.ToolPointer
	c.finishGesture(false)
}

func (c *Canvas) finishGesture(commit bool) {
	if c.phase == phaseDrawing && c.pending != nil && commit {
		done := *c.pending
		done.ID = c.newID()
		c.committed = append(c.committed, done)
	}
	c.pending = nil
	if c.phase != phaseIdle {
		c.phase = phaseIdle
		c.render()
	}
}

func toolType(t viewer.Tool) Type {
	switch t {
	case viewer.ToolArrow:
		return TypeArrow
	case viewer.ToolCircle:
		return TypeCircle
	case viewer.ToolRectangle:
		return TypeRectangle
	default:
		return TypeMeasure
	}
}

// Frame returns the last rendered intrinsic-resolution frame, or nil when no
// bitmap is loaded.
func (c *Canvas) Frame() *image.RGBA { return c.frame }

// render recomputes the displayed frame. Every parameter or annotation
// mutation funnels through here; the pass is synchronous and covers the
// whole buffer.
func (c *Canvas) render() {
	if c.bitmap == nil {
		c.frame = nil
		return
	}
	if c.direct {
		c.frame = viewer.RenderDirect(c.bitmap)
		return
	}
	frame := viewer.Render(c.bitmap, c.params)
	vp := c.Viewport()
	// Overlays are stamped in intrinsic coordinates; the display surface
	// applies the geometric transform when compositing.
	ivp := viewer.Viewport{
		ContainerW: vp.ImageW,
		ContainerH: vp.ImageH,
		ImageW:     vp.ImageW,
		ImageH:     vp.ImageH,
		Zoom:       1,
	}
	DrawOverlay(frame, ivp, c.committed, c.pending)
	c.frame = frame
}

// Surface composites the rendered frame into a container-sized display
// image: contain-fitted, panned and zoomed per the viewport, annotations
// included.
func (c *Canvas) Surface() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, int(c.containerW), int(c.containerH)))
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 255
	}
	if c.frame == nil {
		return out
	}
	vp := c.Viewport()
	blit(out, c.frame, vp)
	return out
}
