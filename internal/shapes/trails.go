package shapes

import (
	"github.com/OCAP2/copterviz/internal/track"
	"github.com/OCAP2/copterviz/pkg/core"
)

type trail interface {
	Append(core.Position3D)
	Points() []core.Position3D
	Len() int
}

// Trails holds one position trail per shape kind. A kind has no trail until
// it is first recorded. Trails is not safe for concurrent use; it is owned by
// the pose-processing goroutine.
type Trails struct {
	capacity int
	trails   [core.NumShapeKinds]trail
}

// NewTrails creates Trails. A capacity of 0 or less keeps every position;
// otherwise each trail keeps only its most recent capacity positions.
func NewTrails(capacity int) *Trails {
	if capacity < 0 {
		capacity = 0
	}
	return &Trails{capacity: capacity}
}

// Record appends p to the trail of kind.
func (t *Trails) Record(kind core.ShapeKind, p core.Position3D) {
	if !kind.Valid() {
		return
	}
	tr := t.trails[kind]
	if tr == nil {
		if t.capacity > 0 {
			tr = track.NewBuffer(t.capacity)
		} else {
			tr = track.NewPath()
		}
		t.trails[kind] = tr
	}
	tr.Append(p)
}

// Points returns the trail of kind, oldest first, or nil if it was never
// recorded.
func (t *Trails) Points(kind core.ShapeKind) []core.Position3D {
	if !kind.Valid() || t.trails[kind] == nil {
		return nil
	}
	return t.trails[kind].Points()
}

// Len returns the trail size of kind.
func (t *Trails) Len(kind core.ShapeKind) int {
	if !kind.Valid() || t.trails[kind] == nil {
		return 0
	}
	return t.trails[kind].Len()
}

// Active returns every kind with a non-empty trail, in canonical order.
func (t *Trails) Active() []core.ShapeKind {
	var out []core.ShapeKind
	for i, tr := range t.trails {
		if tr != nil && tr.Len() > 0 {
			out = append(out, core.ShapeKind(i))
		}
	}
	return out
}
