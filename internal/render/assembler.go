// Package render turns each incoming pose into a RenderFrame: the track
// ring, the full path, the shape trails and the cached vehicle geometry.
package render

import (
	"sync"

	"github.com/OCAP2/copterviz/internal/geometry"
	"github.com/OCAP2/copterviz/internal/shapes"
	"github.com/OCAP2/copterviz/internal/track"
	"github.com/OCAP2/copterviz/pkg/core"
)

// Options configures an Assembler.
type Options struct {
	TrackCapacity      int
	MarkerScale        float64
	ShapeTrailCapacity int
}

// Stats is a point-in-time summary of the assembler state.
type Stats struct {
	Frames      uint64                 `json:"frames"`
	TrackPoints int                    `json:"trackPoints"`
	PathPoints  int                    `json:"pathPoints"`
	PathLength  float64                `json:"pathLength"`
	ShapePoints map[core.ShapeKind]int `json:"shapePoints"`
}

// Assembler owns all per-stream state. OnPose must only be called from one
// goroutine; Signal, SignalName and Snapshot may be called from any.
type Assembler struct {
	track   *track.Buffer
	path    *track.Path
	latch   *shapes.Latch
	trails  *shapes.Trails
	vehicle *geometry.Cache
	tmpl    templates

	frames uint64

	statsMu sync.Mutex
	stats   Stats
}

// NewAssembler creates an Assembler that emits vehicle from every frame.
func NewAssembler(opts Options, vehicle *geometry.Cache) *Assembler {
	if opts.MarkerScale <= 0 {
		opts.MarkerScale = geometry.DefaultScale
	}
	if vehicle == nil {
		vehicle = geometry.NewCache(geometry.DefaultParams())
	}
	return &Assembler{
		track:   track.NewBuffer(opts.TrackCapacity),
		path:    track.NewPath(),
		latch:   shapes.NewLatch(),
		trails:  shapes.NewTrails(opts.ShapeTrailCapacity),
		vehicle: vehicle,
		tmpl:    newTemplates(opts.MarkerScale),
	}
}

// Signal latches a shape detection until the next pose.
func (a *Assembler) Signal(kind core.ShapeKind) {
	a.latch.Signal(kind)
}

// SignalName latches a shape by name; unknown names are ignored.
func (a *Assembler) SignalName(name string) bool {
	return a.latch.SignalName(name)
}

// OnPose records the pose position and assembles the frame for it.
func (a *Assembler) OnPose(pose core.Pose) core.RenderFrame {
	pos := pose.Position
	h := pose.Header

	a.track.Append(pos)
	a.path.Append(pos)

	var updated [core.NumShapeKinds]bool
	for _, kind := range a.latch.DrainAll() {
		a.trails.Record(kind, pos)
		updated[kind] = true
	}

	a.frames++
	frame := core.RenderFrame{
		Sequence: a.frames,
		Header:   h,
		Track:    fill(a.tmpl.track, h, a.track.Points()),
		Path:     fill(a.tmpl.path, h, a.path.Points()),
		Vehicle:  a.vehicle.Stamped(h),
	}

	for _, kind := range a.trails.Active() {
		frame.Shapes = append(frame.Shapes, core.ShapeMarker{
			Kind:      kind,
			Updated:   updated[kind],
			Primitive: fill(a.tmpl.shapes[kind], h, a.trails.Points(kind)),
		})
	}

	a.updateStats()
	return frame
}

func (a *Assembler) updateStats() {
	shapePoints := make(map[core.ShapeKind]int)
	for _, kind := range a.trails.Active() {
		shapePoints[kind] = a.trails.Len(kind)
	}

	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	a.stats = Stats{
		Frames:      a.frames,
		TrackPoints: a.track.Len(),
		PathPoints:  a.path.Len(),
		PathLength:  a.path.Length(),
		ShapePoints: shapePoints,
	}
}

// Snapshot returns the stats as of the last assembled frame.
func (a *Assembler) Snapshot() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	s := a.stats
	s.ShapePoints = make(map[core.ShapeKind]int, len(a.stats.ShapePoints))
	for k, v := range a.stats.ShapePoints {
		s.ShapePoints[k] = v
	}
	return s
}

// Track exposes the ring buffer for inspection.
func (a *Assembler) Track() *track.Buffer {
	return a.track
}

// Vehicle returns the geometry cache in use.
func (a *Assembler) Vehicle() *geometry.Cache {
	return a.vehicle
}
