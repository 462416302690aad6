// internal/storage/memory/memory.go
package memory

import (
	"fmt"
	"slices"
	"sync"

	"github.com/OCAP2/copterviz/internal/storage"
	"github.com/OCAP2/copterviz/pkg/core"
)

// SessionRecord groups a session with what was published during it
type SessionRecord struct {
	Session      core.Session
	Vehicle      []core.Primitive
	Frames       uint64
	ShapeUpdates map[core.ShapeKind]uint64
	Latest       *core.RenderFrame
}

func (r *SessionRecord) clone() SessionRecord {
	cp := *r
	cp.Vehicle = slices.Clone(r.Vehicle)
	cp.ShapeUpdates = make(map[core.ShapeKind]uint64, len(r.ShapeUpdates))
	for k, v := range r.ShapeUpdates {
		cp.ShapeUpdates[k] = v
	}
	return cp
}

// Backend keeps the latest frame of the active session in memory. It is the
// default sink when no viewer is attached and the one used in tests.
type Backend struct {
	current *SessionRecord
	ended   []SessionRecord
	mu      sync.RWMutex
}

// New creates a new memory backend
func New() *Backend {
	return &Backend{}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins a new session. An active session is ended first.
func (b *Backend) StartSession(s core.Session, vehicle []core.Primitive) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil {
		b.ended = append(b.ended, b.current.clone())
	}
	b.current = &SessionRecord{
		Session:      s,
		Vehicle:      slices.Clone(vehicle),
		ShapeUpdates: make(map[core.ShapeKind]uint64),
	}
	return nil
}

// EndSession closes the active session and archives its record.
func (b *Backend) EndSession(s core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return storage.ErrNoSession
	}
	if b.current.Session.ID != s.ID {
		return fmt.Errorf("end session %s: active session is %s", s.ID, b.current.Session.ID)
	}
	b.current.Session = s
	b.ended = append(b.ended, b.current.clone())
	b.current = nil
	return nil
}

// PublishFrame stores f as the latest frame of the active session.
func (b *Backend) PublishFrame(f *core.RenderFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return fmt.Errorf("publish frame %d: %w", f.Sequence, storage.ErrNoSession)
	}
	b.current.Frames++
	for _, sm := range f.UpdatedShapes() {
		b.current.ShapeUpdates[sm.Kind]++
	}
	b.current.Latest = f
	return nil
}

// Latest returns the most recent frame of the active session.
func (b *Backend) Latest() (*core.RenderFrame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.current == nil || b.current.Latest == nil {
		return nil, false
	}
	return b.current.Latest, true
}

// Current returns a copy of the active session record.
func (b *Backend) Current() (SessionRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.current == nil {
		return SessionRecord{}, false
	}
	return b.current.clone(), true
}

// Sessions returns the records of ended sessions, oldest first.
func (b *Backend) Sessions() []SessionRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return slices.Clone(b.ended)
}
