// Package session tracks the identity of the current visualization session
// so logs, metrics and the viewer stream can be correlated.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/copterviz/pkg/core"
	"github.com/google/uuid"
)

// Context holds the current session and the last frame assembled in it.
type Context struct {
	mu      sync.RWMutex
	current *core.Session

	lastFrame atomic.Uint64
}

// NewContext creates a Context with no active session.
func NewContext() *Context {
	return &Context{}
}

// Start begins a new session and returns a copy of it. A session that
// is still active is replaced and the frame counter restarts.
func (c *Context) Start(name, fixedFrame, childFrame string) core.Session {
	info := &core.Session{
		ID:         uuid.New(),
		Name:       name,
		FixedFrame: fixedFrame,
		ChildFrame: childFrame,
		StartedAt:  time.Now().UTC(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = info
	c.lastFrame.Store(0)
	return *info
}

// End closes the active session. ok is false when none was active.
func (c *Context) End() (info core.Session, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return core.Session{}, false
	}
	c.current.EndedAt = time.Now().UTC()
	info = *c.current
	c.current = nil
	return info, true
}

// Current returns the active session.
func (c *Context) Current() (core.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return core.Session{}, false
	}
	return *c.current, true
}

// MarkFrame records the sequence of the frame just assembled.
func (c *Context) MarkFrame(seq uint64) {
	c.lastFrame.Store(seq)
}

// LastFrame returns the sequence passed to the latest MarkFrame, 0 before any.
func (c *Context) LastFrame() uint64 {
	return c.lastFrame.Load()
}
