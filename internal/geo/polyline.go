package geo

import (
	"fmt"
	"math"

	"github.com/OCAP2/copterviz/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// LineString builds an XYZ LineString from path points. Fewer than two
// points give an empty LineString.
//
// A hovering or purely climbing copter leaves a path with a single distinct
// XY value. That is not a valid OGC LineString, so such paths are built
// without validation; non-finite coordinates are still rejected.
func LineString(points []core.Position3D) (geom.LineString, error) {
	if len(points) < 2 {
		return geom.LineString{}, nil
	}

	flatCoords := make([]float64, 0, len(points)*3)
	for i, p := range points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return geom.LineString{}, fmt.Errorf("path point %d: %w", i, ErrInvalidCoordinates)
		}
		flatCoords = append(flatCoords, p.X, p.Y, p.Z)
	}

	seq := geom.NewSequence(flatCoords, geom.DimXYZ)
	ls, err := geom.NewLineString(seq)
	if err == nil {
		return ls, nil
	}
	return geom.NewLineString(seq, geom.DisableAllValidations)
}

// PathSummary describes a flight path for the line channel.
type PathSummary struct {
	WKT string
	// Length is the travelled 3-D distance, the same figure the assembler
	// reports as its path length.
	Length float64
	// GroundLength is the planar XY length of the LineString.
	GroundLength float64
}

// SummarizePath returns the WKT and both lengths of the path.
func SummarizePath(points []core.Position3D) (PathSummary, error) {
	ls, err := LineString(points)
	if err != nil {
		return PathSummary{}, err
	}

	var length float64
	for i := 1; i < len(points); i++ {
		length += points[i-1].Distance(points[i])
	}

	return PathSummary{
		WKT:          ls.AsText(),
		Length:       length,
		GroundLength: ls.Length(),
	}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
