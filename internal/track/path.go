package track

import "github.com/OCAP2/copterviz/pkg/core"

// Path is an unbounded, append-only polyline.
type Path struct {
	points []core.Position3D
	length float64
}

// NewPath creates an empty Path.
func NewPath() *Path {
	return &Path{}
}

// Append adds p to the end of the path.
func (p *Path) Append(pt core.Position3D) {
	if n := len(p.points); n > 0 {
		p.length += p.points[n-1].Distance(pt)
	}
	p.points = append(p.points, pt)
}

// Len returns the number of vertices.
func (p *Path) Len() int {
	return len(p.points)
}

// Length returns the travelled distance along the path in metres.
func (p *Path) Length() float64 {
	return p.length
}

// Points returns a copy of every vertex in arrival order.
func (p *Path) Points() []core.Position3D {
	out := make([]core.Position3D, len(p.points))
	copy(out, p.points)
	return out
}
