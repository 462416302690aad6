package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/OCAP2/copterviz/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Positions arrive in the vehicle's local metric frame. Georeferencing is
// optional: when an origin is configured, local east/north offsets are placed
// around it and projected to EPSG:3857 for map-based viewers.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// earthRadius is the WGS84 semi-major axis used by EPSG:3857.
const earthRadius = 6378137.0

// maxMercatorLat is the latitude limit of EPSG:3857.
const maxMercatorLat = 85.05112878

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, ErrInvalidCoordinates
		}
		out[i] = v
	}
	return out, nil
}

// Position3DFromString parses a "x,y" or "x,y,z" string into a core.Position3D.
// Extra components are ignored.
func Position3DFromString(coords string) (core.Position3D, error) {
	v, err := parseFloats(coords)
	if err != nil {
		return core.Position3D{}, err
	}
	if len(v) < 2 {
		return core.Position3D{}, ErrInvalidCoordinates
	}
	p := core.Position3D{X: v[0], Y: v[1]}
	if len(v) > 2 {
		p.Z = v[2]
	}
	return p, nil
}

// QuaternionFromString parses "qx,qy,qz,qw". An all-zero quaternion is
// rejected since it describes no rotation.
func QuaternionFromString(s string) (core.Quaternion, error) {
	v, err := parseFloats(s)
	if err != nil {
		return core.Quaternion{}, err
	}
	if len(v) != 4 {
		return core.Quaternion{}, ErrInvalidCoordinates
	}
	q := core.Quaternion{X: v[0], Y: v[1], Z: v[2], W: v[3]}
	if q == (core.Quaternion{}) {
		return core.Quaternion{}, ErrInvalidCoordinates
	}
	return q, nil
}

// Coords3857From4326 creates a Web Mercator point from a longitude and latitude
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	if math.Abs(latitude) > maxMercatorLat || math.Abs(longitude) > 180 {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	point, err = geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: x, Y: y},
			Type: geom.DimXY,
		},
	)
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), fmt.Errorf("building EPSG:3857 point: %w", err)
	}
	return point, nil
}

// Georeferencer places local positions around a geodetic origin.
type Georeferencer struct {
	lat, lon float64
	origin   geom.Point
	project  func(lon, lat float64) (x, y float64)
}

// NewGeoreferencer returns a Georeferencer for the given origin. The 0,0
// origin means georeferencing is off and yields nil without error.
func NewGeoreferencer(lat, lon float64) (*Georeferencer, error) {
	if lat == 0 && lon == 0 {
		return nil, nil
	}
	origin, err := Coords3857From4326(lon, lat)
	if err != nil {
		return nil, err
	}
	f := wgs84.EPSG().Transform(4326, 3857)
	return &Georeferencer{
		lat:    lat,
		lon:    lon,
		origin: origin,
		project: func(lon, lat float64) (float64, float64) {
			x, y, _ := f(lon, lat, 0)
			return x, y
		},
	}, nil
}

// Origin returns the origin in EPSG:3857.
func (g *Georeferencer) Origin() geom.Point {
	return g.origin
}

// Project maps a local position (X east, Y north, metres) to EPSG:3857.
func (g *Georeferencer) Project(p core.Position3D) (x, y float64) {
	lat := g.lat + p.Y/earthRadius*180/math.Pi
	lon := g.lon + p.X/(earthRadius*math.Cos(g.lat*math.Pi/180))*180/math.Pi
	return g.project(lon, lat)
}

// ProjectPath maps every point of a path to EPSG:3857.
func (g *Georeferencer) ProjectPath(points []core.Position3D) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		x, y := g.Project(p)
		out[i] = [2]float64{x, y}
	}
	return out
}
