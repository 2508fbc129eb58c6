package viewer

// Tool identifies the active pointer tool.
type Tool string

const (
	ToolPointer   Tool = "pointer"
	ToolMeasure   Tool = "measure"
	ToolArrow     Tool = "arrow"
	ToolCircle    Tool = "circle"
	ToolRectangle Tool = "rectangle"
)

// Parameters holds the adjustable display state for one viewer instance.
// Each instance owns its parameters exclusively.
type Parameters struct {
	WindowCenter float64
	WindowWidth  float64
	Zoom         float64
	PanX         float64
	PanY         float64
	Rotation     float64 // degrees
	Brightness   float64
	Contrast     float64
	Gamma        float64
	ActiveTool   Tool
}

// DefaultParameters returns the documented reset state: a full-range 8-bit
// window with neutral brightness, contrast and gamma.
func DefaultParameters() Parameters {
	return Parameters{
		WindowCenter: 128,
		WindowWidth:  256,
		Zoom:         1,
		Rotation:     0,
		Brightness:   0,
		Contrast:     1,
		Gamma:        1,
		ActiveTool:   ToolPointer,
	}
}

// Reset restores every parameter to its default.
func (p *Parameters) Reset() {
	*p = DefaultParameters()
}
