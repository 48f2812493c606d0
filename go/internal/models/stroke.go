package models

import "math"

// Tool defines how a stroke is composited onto the canvas.
type Tool string

const (
	ToolBrush  Tool = "brush"
	ToolEraser Tool = "eraser"
)

// NormalizeTool maps unknown or empty tools to the brush.
func NormalizeTool(t Tool) Tool {
	if t == ToolEraser {
		return ToolEraser
	}
	return ToolBrush
}

// Point is a canvas coordinate in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the euclidean distance between two points.
func (p Point) Distance(o Point) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// Stroke represents one continuous drawn gesture.
type Stroke struct {
	ID     string  `json:"id"`
	UserID string  `json:"userId"`
	Tool   Tool    `json:"tool"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Points []Point `json:"points"`
	Active bool    `json:"active"`
}

// Clone returns a deep copy of the stroke.
func (s Stroke) Clone() Stroke {
	c := s
	c.Points = make([]Point, len(s.Points))
	copy(c.Points, s.Points)
	return c
}

// LastPoint returns the most recent point of the stroke.
func (s Stroke) LastPoint() (Point, bool) {
	if len(s.Points) == 0 {
		return Point{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// CloneStrokes deep copies an ordered stroke list. A nil input yields an empty,
// non-nil slice so snapshots always encode as a JSON array.
func CloneStrokes(strokes []Stroke) []Stroke {
	out := make([]Stroke, len(strokes))
	for i, s := range strokes {
		out[i] = s.Clone()
	}
	return out
}
