// pkg/core/shape.go
package core

import "fmt"

// ShapeKind identifies one of the detectable shape markers.
type ShapeKind int

const (
	ShapeTriangle ShapeKind = iota
	ShapeSquare
	ShapeCircle
	ShapePentagon
	ShapeStar
	ShapeHeart
)

// NumShapeKinds is the size of the closed ShapeKind set.
const NumShapeKinds = 6

var shapeNames = [NumShapeKinds]string{
	"triangle",
	"square",
	"circle",
	"pentagon",
	"star",
	"heart",
}

// AllShapeKinds returns every kind in canonical order.
func AllShapeKinds() []ShapeKind {
	return []ShapeKind{ShapeTriangle, ShapeSquare, ShapeCircle, ShapePentagon, ShapeStar, ShapeHeart}
}

// ParseShapeKind matches a shape name exactly (case-sensitive).
func ParseShapeKind(name string) (ShapeKind, bool) {
	for i, n := range shapeNames {
		if n == name {
			return ShapeKind(i), true
		}
	}
	return 0, false
}

// Valid reports whether k is inside the closed set.
func (k ShapeKind) Valid() bool {
	return k >= 0 && int(k) < NumShapeKinds
}

func (k ShapeKind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return shapeNames[k]
}

// MarshalText encodes the kind by name.
func (k ShapeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *ShapeKind) UnmarshalText(b []byte) error {
	kind, ok := ParseShapeKind(string(b))
	if !ok {
		return fmt.Errorf("unknown shape kind %q", b)
	}
	*k = kind
	return nil
}
