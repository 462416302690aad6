// Package shapes tracks shape detections between pose updates and the trail
// of positions at which each shape was seen.
package shapes

import (
	"sync"

	"github.com/OCAP2/copterviz/pkg/core"
)

// Latch remembers which shape kinds were signalled since the last drain.
// Signal and DrainAll may be called from different goroutines.
type Latch struct {
	mu      sync.Mutex
	pending [core.NumShapeKinds]bool
}

// NewLatch creates a Latch with every flag idle.
func NewLatch() *Latch {
	return &Latch{}
}

// Signal marks kind as pending. Repeated signals before a drain collapse
// into one.
func (l *Latch) Signal(kind core.ShapeKind) {
	if !kind.Valid() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[kind] = true
}

// SignalName parses name and signals the matching kind. Unknown names are
// ignored and return false.
func (l *Latch) SignalName(name string) bool {
	kind, ok := core.ParseShapeKind(name)
	if !ok {
		return false
	}
	l.Signal(kind)
	return true
}

// Pending reports whether kind is waiting to be drained.
func (l *Latch) Pending(kind core.ShapeKind) bool {
	if !kind.Valid() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending[kind]
}

// DrainAll returns the pending kinds in canonical order and resets every
// flag under the same lock.
func (l *Latch) DrainAll() []core.ShapeKind {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []core.ShapeKind
	for i, p := range l.pending {
		if p {
			out = append(out, core.ShapeKind(i))
			l.pending[i] = false
		}
	}
	return out
}
