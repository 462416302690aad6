// pkg/core/primitive.go
package core

import "fmt"

// PrimitiveType is the renderable shape of a Primitive.
type PrimitiveType int

const (
	PrimitiveCubeList PrimitiveType = iota
	PrimitiveLineStrip
	PrimitiveCylinder
	PrimitiveCube
)

func (t PrimitiveType) String() string {
	switch t {
	case PrimitiveCubeList:
		return "cube_list"
	case PrimitiveLineStrip:
		return "line_strip"
	case PrimitiveCylinder:
		return "cylinder"
	case PrimitiveCube:
		return "cube"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type by name.
func (t PrimitiveType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name.
func (t *PrimitiveType) UnmarshalText(b []byte) error {
	for c := PrimitiveCubeList; c <= PrimitiveCube; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown primitive type %q", b)
}

// VehiclePart tags the primitives that make up the vehicle body.
// PartNone is used for trail and path primitives.
type VehiclePart int

const (
	PartNone VehiclePart = iota
	PartRotor
	PartArm
	PartBody
)

func (p VehiclePart) String() string {
	switch p {
	case PartRotor:
		return "rotor"
	case PartArm:
		return "arm"
	case PartBody:
		return "body"
	default:
		return "none"
	}
}

// MarshalText encodes the part by name.
func (p VehiclePart) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a part name.
func (p *VehiclePart) UnmarshalText(b []byte) error {
	for c := PartNone; c <= PartBody; c++ {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown vehicle part %q", b)
}

// Primitive is a single renderable shape description handed to the viewer.
// Position and Orientation place the shape relative to Header.FrameID; Points
// is only used by list and strip types.
type Primitive struct {
	Header      Header        `json:"header"`
	Namespace   string        `json:"ns"`
	ID          int           `json:"id"`
	Type        PrimitiveType `json:"type"`
	Part        VehiclePart   `json:"part,omitempty"`
	Position    Position3D    `json:"position"`
	Orientation Quaternion    `json:"orientation"`
	Scale       Vector3       `json:"scale"`
	Color       Color         `json:"color"`
	Points      []Position3D  `json:"points,omitempty"`
}
