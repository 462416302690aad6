// Package geometry builds the static vehicle body primitives: one rotor and
// one arm per sector of a full turn, plus a central body.
package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/OCAP2/copterviz/pkg/core"
)

const (
	DefaultRotorCount = 6
	MinRotorCount     = 2
	DefaultArmLength  = 0.22
	DefaultBodyWidth  = 0.15
	DefaultBodyHeight = 0.10
	DefaultScale      = 5.0
)

// Namespaces used for the vehicle primitives.
const (
	NamespaceRotor = "vehicle_rotor"
	NamespaceArm   = "vehicle_arm"
	NamespaceBody  = "vehicle_body"
)

var (
	rotorColor = core.Color{R: 0.4, G: 0.4, B: 0.4, A: 0.8}
	armColor   = core.Color{R: 0.0, G: 0.0, B: 1.0, A: 1.0}
	bodyColor  = core.Color{R: 0.0, G: 1.0, B: 0.0, A: 0.8}

	upAxis = mgl64.Vec3{0, 0, 1}
)

// Params describes the vehicle. FrameID is the vehicle (child) frame the
// primitives are expressed in.
type Params struct {
	RotorCount int
	ArmLength  float64
	BodyWidth  float64
	BodyHeight float64
	Scale      float64
	FrameID    string
}

// DefaultParams returns the stock hexacopter.
func DefaultParams() Params {
	return Params{
		RotorCount: DefaultRotorCount,
		ArmLength:  DefaultArmLength,
		BodyWidth:  DefaultBodyWidth,
		BodyHeight: DefaultBodyHeight,
		Scale:      DefaultScale,
	}
}

// normalize clamps the parameters that have no meaningful non-positive value.
func (p Params) normalize() Params {
	if p.RotorCount <= 0 {
		p.RotorCount = MinRotorCount
	}
	if p.Scale <= 0 {
		p.Scale = DefaultScale
	}
	return p
}

// SectorAngles returns the midpoint angle of each of n equal sectors of a
// full turn, starting at 0 rad.
func SectorAngles(n int) []float64 {
	if n <= 0 {
		n = MinRotorCount
	}
	inc := 2 * math.Pi / float64(n)
	out := make([]float64, n)
	for i := range out {
		out[i] = inc/2 + float64(i)*inc
	}
	return out
}

// Build lays out the vehicle primitives. Rotor/arm pairs come first in
// increasing angle order, the body last. Build is pure: equal params give
// equal output.
func Build(p Params) []core.Primitive {
	p = p.normalize()
	s := p.Scale

	header := core.Header{FrameID: p.FrameID}
	out := make([]core.Primitive, 0, 2*p.RotorCount+1)

	for i, angle := range SectorAngles(p.RotorCount) {
		yaw := mgl64.QuatRotate(angle, upAxis)
		tip := yaw.Rotate(mgl64.Vec3{p.ArmLength * s, 0, 0})

		rotor := core.Primitive{
			Header:      header,
			Namespace:   NamespaceRotor,
			ID:          i + 1,
			Type:        core.PrimitiveCylinder,
			Part:        core.PartRotor,
			Position:    core.Position3D{X: tip.X(), Y: tip.Y(), Z: 0},
			Orientation: core.IdentityQuaternion,
			Scale:       core.Vector3{X: 0.2 * s, Y: 0.2 * s, Z: 0.01 * s},
			Color:       rotorColor,
		}

		arm := core.Primitive{
			Header:      header,
			Namespace:   NamespaceArm,
			ID:          i + 1,
			Type:        core.PrimitiveCube,
			Part:        core.PartArm,
			Position:    core.Position3D{X: tip.X() / 2, Y: tip.Y() / 2, Z: -0.015 * s},
			Orientation: quaternion(yaw),
			Scale:       core.Vector3{X: p.ArmLength * s, Y: 0.02 * s, Z: 0.01 * s},
			Color:       armColor,
		}

		out = append(out, rotor, arm)
	}

	out = append(out, core.Primitive{
		Header:      header,
		Namespace:   NamespaceBody,
		ID:          0,
		Type:        core.PrimitiveCube,
		Part:        core.PartBody,
		Orientation: core.IdentityQuaternion,
		Scale:       core.Vector3{X: p.BodyWidth * s, Y: p.BodyWidth * s, Z: p.BodyHeight * s},
		Color:       bodyColor,
	})

	return out
}

func quaternion(q mgl64.Quat) core.Quaternion {
	return core.Quaternion{X: q.V.X(), Y: q.V.Y(), Z: q.V.Z(), W: q.W}
}

// YawOf returns the rotation about +Z encoded by q.
func YawOf(q core.Quaternion) float64 {
	return math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
}
