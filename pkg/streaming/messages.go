package streaming

import (
	"encoding/json"

	"github.com/OCAP2/copterviz/pkg/core"
)

// Message type constants matching the viewer protocol.
const (
	TypeStartSession  = "start_session"
	TypeEndSession    = "end_session"
	TypeTrackMarker   = "track_marker"
	TypeLineMarker    = "line_marker"
	TypeShapeMarker   = "shape_marker"
	TypeVehicleMarker = "vehicle_marker"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartSessionPayload announces a session and the static vehicle model.
type StartSessionPayload struct {
	Session core.Session     `json:"session"`
	Vehicle []core.Primitive `json:"vehicle,omitempty"`
}

// EndSessionPayload closes a session.
type EndSessionPayload struct {
	Session core.Session `json:"session"`
	Frames  uint64       `json:"frames"`
	// Dropped counts frames that never left copterviz because the viewer
	// fell behind.
	Dropped uint64 `json:"dropped"`
}

// TrackMarkerPayload carries the bounded track points.
type TrackMarkerPayload struct {
	Sequence uint64         `json:"sequence"`
	Marker   core.Primitive `json:"marker"`
}

// LineMarkerPayload carries the full flight path. Length is the travelled
// 3-D distance; GroundLength is the planar XY length of the WKT LineString.
// EPSG3857 is set only when the session is georeferenced.
type LineMarkerPayload struct {
	Sequence     uint64         `json:"sequence"`
	Marker       core.Primitive `json:"marker"`
	WKT          string         `json:"wkt"`
	Length       float64        `json:"length"`
	GroundLength float64        `json:"groundLength"`
	EPSG3857     [][2]float64   `json:"epsg3857,omitempty"`
}

// ShapeMarkerPayload carries one shape trail.
type ShapeMarkerPayload struct {
	Sequence uint64         `json:"sequence"`
	Kind     core.ShapeKind `json:"kind"`
	Updated  bool           `json:"updated"`
	Marker   core.Primitive `json:"marker"`
}

// VehicleMarkerPayload carries the vehicle model stamped with the pose header.
type VehicleMarkerPayload struct {
	Sequence uint64           `json:"sequence"`
	Header   core.Header      `json:"header"`
	Parts    []core.Primitive `json:"parts"`
}
