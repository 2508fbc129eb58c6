// Package annotate holds the vector overlay model for the image viewer: the
// measurement/annotation shapes, the pointer gesture state machine that
// draws them, and the rasterizer that stamps them onto a rendered frame.
package annotate

import "math"

// Type enumerates the supported annotation shapes.
type Type string

const (
	TypeMeasure   Type = "measure"
	TypeArrow     Type = "arrow"
	TypeCircle    Type = "circle"
	TypeRectangle Type = "rectangle"
)

// TempID marks the single in-progress annotation while a drawing gesture is
// active. It is never committed.
const TempID = "temp"

// Point is an image-space coordinate.
type Point struct {
	X float64
	Y float64
}

// Annotation is one committed overlay shape in image-space coordinates.
// Committed annotations are immutable; the list is only appended to or
// cleared wholesale.
type Annotation struct {
	ID    string
	Type  Type
	Start Point
	End   Point
}

// Distance returns the Euclidean start-end distance in image-space pixels.
// For measure annotations this is the reported measurement; for circles it
// is the radius. It does not depend on zoom or pan.
func (a Annotation) Distance() float64 {
	dx := a.End.X - a.Start.X
	dy := a.End.Y - a.Start.Y
	return math.Hypot(dx, dy)
}

// Midpoint returns the segment midpoint, where measurement labels anchor.
func (a Annotation) Midpoint() Point {
	return Point{X: (a.Start.X + a.End.X) / 2, Y: (a.Start.Y + a.End.Y) / 2}
}

// arrowWings returns the two short segments forming the arrowhead at the end
// point, derived from the segment's angle.
func arrowWings(start, end Point, length float64) [2][2]Point {
	angle := math.Atan2(end.Y-start.Y, end.X-start.X)
	const spread = math.Pi / 6
	left := Point{
		X: end.X - length*math.Cos(angle-spread),
		Y: end.Y - length*math.Sin(angle-spread),
	}
	right := Point{
		X: end.X - length*math.Cos(angle+spread),
		Y: end.Y - length*math.Sin(angle+spread),
	}
	return [2][2]Point{{end, left}, {end, right}}
}
