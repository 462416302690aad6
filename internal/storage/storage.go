// internal/storage/storage.go
package storage

import (
	"errors"

	"github.com/OCAP2/copterviz/pkg/core"
)

// ErrNoSession is returned when a backend that tracks sessions receives a
// frame or end_session outside of one.
var ErrNoSession = errors.New("no active session")

// Backend is the interface all frame sinks must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management. vehicle is the static model announced to the viewer.
	StartSession(s core.Session, vehicle []core.Primitive) error
	EndSession(s core.Session) error

	// PublishFrame emits one assembled frame. The frame must not be modified
	// after the call.
	PublishFrame(f *core.RenderFrame) error
}
