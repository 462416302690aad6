package track

import "github.com/OCAP2/copterviz/pkg/core"

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1000

// Buffer is a fixed-capacity ring of positions.
//
// Until the ring is full, appends grow the stored slice. After that each
// append overwrites the slot at the cursor. The cursor advances modulo the
// capacity on every append, so once full it always points at the oldest slot.
// Buffer is not safe for concurrent use.
type Buffer struct {
	points []core.Position3D
	cursor int
	cap    int
}

// NewBuffer creates a Buffer. Capacities below 1 fall back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		points: make([]core.Position3D, 0, capacity),
		cap:    capacity,
	}
}

// Append records p.
func (b *Buffer) Append(p core.Position3D) {
	if len(b.points) < b.cap {
		b.points = append(b.points, p)
	} else {
		b.points[b.cursor] = p
	}
	b.cursor = (b.cursor + 1) % b.cap
}

// Len returns the number of stored points.
func (b *Buffer) Len() int {
	return len(b.points)
}

// Cap returns the ring capacity.
func (b *Buffer) Cap() int {
	return b.cap
}

// Cursor returns the slot the next append will write.
func (b *Buffer) Cursor() int {
	return b.cursor
}

// Full reports whether the ring has wrapped at least once.
func (b *Buffer) Full() bool {
	return len(b.points) == b.cap
}

// Points returns a copy of the stored points, oldest first.
func (b *Buffer) Points() []core.Position3D {
	out := make([]core.Position3D, len(b.points))
	if !b.Full() {
		copy(out, b.points)
		return out
	}
	n := copy(out, b.points[b.cursor:])
	copy(out[n:], b.points[:b.cursor])
	return out
}

// Stored returns a copy of the points in raw slot order.
func (b *Buffer) Stored() []core.Position3D {
	out := make([]core.Position3D, len(b.points))
	copy(out, b.points)
	return out
}

// Last returns the most recently appended point.
func (b *Buffer) Last() (core.Position3D, bool) {
	if len(b.points) == 0 {
		return core.Position3D{}, false
	}
	return b.points[(b.cursor-1+b.cap)%b.cap], true
}
