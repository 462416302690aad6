package websocket

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/OCAP2/copterviz/internal/geo"
	"github.com/OCAP2/copterviz/pkg/core"
	"github.com/OCAP2/copterviz/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string

	// QueueSize bounds the frames waiting for the viewer. 0 uses the default.
	QueueSize int

	// ShapesOnlyOnUpdate limits shape_marker messages to kinds triggered
	// on the current frame.
	ShapesOnlyOnUpdate bool

	// Georef adds EPSG:3857 coordinates to line_marker when set.
	Georef *geo.Georeferencer
}

// Backend streams render frames over WebSocket to the viewer.
type Backend struct {
	conn   *connection
	cfg    Config
	frames atomic.Uint64

	// Shape kinds whose update was in a dropped frame. The next frame that
	// gets queued reports them as updated so the viewer does not miss them.
	mu     sync.Mutex
	missed map[core.ShapeKind]bool
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn:   newConnection(cfg.QueueSize, logger.With("component", "websocket")),
		cfg:    cfg,
		missed: make(map[core.ShapeKind]bool),
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// DroppedFrames returns how many frames never reached the viewer queue.
func (b *Backend) DroppedFrames() uint64 {
	return b.conn.droppedFrames()
}

// StartSession announces the session and vehicle model and waits for the ack.
// The message is kept for replay after a reconnect.
func (b *Backend) StartSession(s core.Session, vehicle []core.Primitive) error {
	data, err := encodeEnvelope(streaming.TypeStartSession, streaming.StartSessionPayload{Session: s, Vehicle: vehicle})
	if err != nil {
		return err
	}

	b.conn.setStart(data)
	b.frames.Store(0)
	b.mu.Lock()
	clear(b.missed)
	b.mu.Unlock()

	return b.conn.request(data, streaming.TypeStartSession, ackTimeout)
}

// EndSession sends end_session with the frame counts and waits for the ack.
func (b *Backend) EndSession(s core.Session) error {
	data, err := encodeEnvelope(streaming.TypeEndSession, streaming.EndSessionPayload{
		Session: s,
		Frames:  b.frames.Load(),
		Dropped: b.conn.droppedFrames(),
	})
	if err != nil {
		return err
	}
	err = b.conn.request(data, streaming.TypeEndSession, ackTimeout)
	b.conn.setStart(nil)
	return err
}

// PublishFrame queues the frame's track, line, shape and vehicle envelopes as
// one unit. Encoding problems on one channel do not hold back the others.
func (b *Backend) PublishFrame(f *core.RenderFrame) error {
	b.frames.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	messages, shapes, encErr := b.frameMessages(f)
	err := b.conn.sendFrame(f.Sequence, messages)
	if errors.Is(err, errFrameDropped) {
		for _, sm := range f.UpdatedShapes() {
			b.missed[sm.Kind] = true
		}
	} else if err == nil {
		for _, sm := range shapes {
			delete(b.missed, sm.Kind)
		}
	}
	return errors.Join(encErr, err)
}

// frameMessages encodes every channel of f. It returns the shape markers it
// sent, with missed updates already folded in.
func (b *Backend) frameMessages(f *core.RenderFrame) ([][]byte, []core.ShapeMarker, error) {
	var (
		messages [][]byte
		errs     []error
	)
	add := func(msgType string, payload any) {
		data, err := encodeEnvelope(msgType, payload)
		if err != nil {
			errs = append(errs, err)
			return
		}
		messages = append(messages, data)
	}

	add(streaming.TypeTrackMarker, streaming.TrackMarkerPayload{
		Sequence: f.Sequence,
		Marker:   f.Track,
	})

	line := streaming.LineMarkerPayload{
		Sequence: f.Sequence,
		Marker:   f.Path,
	}
	summary, err := geo.SummarizePath(f.Path.Points)
	if err != nil {
		errs = append(errs, fmt.Errorf("summarizing path of frame %d: %w", f.Sequence, err))
	}
	line.WKT, line.Length, line.GroundLength = summary.WKT, summary.Length, summary.GroundLength
	if b.cfg.Georef != nil {
		line.EPSG3857 = b.cfg.Georef.ProjectPath(f.Path.Points)
	}
	add(streaming.TypeLineMarker, line)

	var shapes []core.ShapeMarker
	for _, sm := range f.Shapes {
		sm.Updated = sm.Updated || b.missed[sm.Kind]
		if b.cfg.ShapesOnlyOnUpdate && !sm.Updated {
			continue
		}
		shapes = append(shapes, sm)
		add(streaming.TypeShapeMarker, streaming.ShapeMarkerPayload{
			Sequence: f.Sequence,
			Kind:     sm.Kind,
			Updated:  sm.Updated,
			Marker:   sm.Primitive,
		})
	}

	add(streaming.TypeVehicleMarker, streaming.VehicleMarkerPayload{
		Sequence: f.Sequence,
		Header:   f.Header,
		Parts:    f.Vehicle,
	})

	return messages, shapes, errors.Join(errs...)
}
