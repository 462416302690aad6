// pkg/core/session.go
package core

import (
	"time"

	"github.com/google/uuid"
)

// Session describes one visualization session: the span between the
// start_session and end_session messages on the viewer stream.
type Session struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	FixedFrame string    `json:"fixedFrame"`
	ChildFrame string    `json:"childFrame"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt,omitzero"`
}
