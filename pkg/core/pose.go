// pkg/core/pose.go
package core

import "time"

// Header is the frame metadata attached to a pose and carried through to
// every primitive built from it.
type Header struct {
	FrameID string    `json:"frameId"`
	Stamp   time.Time `json:"stamp"`
	Seq     uint32    `json:"seq"`
}

// Pose is a single vehicle pose sample. Orientation is carried but not used
// when building trails.
type Pose struct {
	Header      Header     `json:"header"`
	Position    Position3D `json:"position"`
	Orientation Quaternion `json:"orientation"`
}
