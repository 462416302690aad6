// pkg/core/frame.go
package core

// ShapeMarker is the accumulated trail of one shape kind.
// Updated is set when the kind was drained on the pose that built the frame.
type ShapeMarker struct {
	Kind      ShapeKind `json:"kind"`
	Updated   bool      `json:"updated"`
	Primitive Primitive `json:"primitive"`
}

// RenderFrame is everything emitted for one pose update.
type RenderFrame struct {
	Sequence uint64        `json:"sequence"`
	Header   Header        `json:"header"`
	Track    Primitive     `json:"track"`
	Path     Primitive     `json:"path"`
	Shapes   []ShapeMarker `json:"shapes,omitempty"`
	Vehicle  []Primitive   `json:"vehicle"`
}

// UpdatedShapes returns the shape markers that were triggered this frame.
func (f *RenderFrame) UpdatedShapes() []ShapeMarker {
	var out []ShapeMarker
	for _, s := range f.Shapes {
		if s.Updated {
			out = append(out, s)
		}
	}
	return out
}
