package render

import "github.com/OCAP2/copterviz/pkg/core"

// Namespaces for the trail primitives.
const (
	NamespaceTrack = "fcu"
	NamespacePath  = "fcu1"
)

const (
	trackPointScale = 0.015
	pathLineWidth   = 0.4
	shapePointScale = 0.5
)

var (
	trackColor = core.Color{R: 0.0, G: 0.0, B: 0.5, A: 1.0}
	pathColor  = core.Color{R: 1.0, G: 0.0, B: 0.0, A: 1.0}

	shapeColors = [core.NumShapeKinds]core.Color{
		core.ShapeTriangle: {R: 1.0, G: 0.5, B: 0.5, A: 1.0},
		core.ShapeSquare:   {R: 0.3, G: 0.2, B: 0.1, A: 1.0},
		core.ShapeCircle:   {R: 0.1, G: 0.2, B: 0.3, A: 1.0},
		core.ShapePentagon: {R: 0.6, G: 0.8, B: 0.9, A: 1.0},
		core.ShapeStar:     {R: 0.7, G: 0.6, B: 0.8, A: 1.0},
		core.ShapeHeart:    {R: 0.8, G: 0.6, B: 0.8, A: 1.0},
	}
)

// ShapeNamespace returns the namespace used for a shape kind's trail.
func ShapeNamespace(kind core.ShapeKind) string {
	return shapeNamespaces[kind]
}

var shapeNamespaces = [core.NumShapeKinds]string{"fcu2", "fcu3", "fcu4", "fcu5", "fcu6", "fcu7"}

// templates holds the marker styles; points and header are filled per frame.
type templates struct {
	track  core.Primitive
	path   core.Primitive
	shapes [core.NumShapeKinds]core.Primitive
}

func newTemplates(markerScale float64) templates {
	ts := templates{
		track: core.Primitive{
			Namespace:   NamespaceTrack,
			Type:        core.PrimitiveCubeList,
			Orientation: core.IdentityQuaternion,
			Scale:       uniform(markerScale * trackPointScale),
			Color:       trackColor,
		},
		path: core.Primitive{
			Namespace:   NamespacePath,
			Type:        core.PrimitiveLineStrip,
			Orientation: core.IdentityQuaternion,
			Scale:       uniform(pathLineWidth),
			Color:       pathColor,
		},
	}
	for _, kind := range core.AllShapeKinds() {
		ts.shapes[kind] = core.Primitive{
			Namespace:   shapeNamespaces[kind],
			Type:        core.PrimitiveCubeList,
			Orientation: core.IdentityQuaternion,
			Scale:       uniform(shapePointScale),
			Color:       shapeColors[kind],
		}
	}
	return ts
}

func uniform(v float64) core.Vector3 {
	return core.Vector3{X: v, Y: v, Z: v}
}

func fill(tmpl core.Primitive, h core.Header, pts []core.Position3D) core.Primitive {
	tmpl.Header = h
	tmpl.Points = pts
	return tmpl
}
