package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/copterviz/internal/geo"
	"github.com/OCAP2/copterviz/internal/storage"
	"github.com/OCAP2/copterviz/pkg/core"
	"github.com/OCAP2/copterviz/pkg/streaming"
)

// Compile-time interface check.
var _ storage.Backend = (*Backend)(nil)

// testServer creates an httptest server that upgrades to WebSocket,
// records received messages, and sends acks for start_session/end_session.
func testServer(t *testing.T) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.setSecret(r.URL.Query().Get("secret"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if env.Type == streaming.TypeStartSession || env.Type == streaming.TypeEndSession {
				ack := streaming.AckMessage{Type: "ack", For: env.Type}
				data, _ := json.Marshal(ack)
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))

	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	secret   string
	messages []streaming.Envelope
}

func (m *messageLog) setSecret(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = s
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) all() []streaming.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]streaming.Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func (m *messageLog) ofType(msgType string) []streaming.Envelope {
	var out []streaming.Envelope
	for _, env := range m.all() {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testSession() core.Session {
	return core.Session{
		ID:         uuid.New(),
		Name:       "test-flight",
		FixedFrame: "map",
		ChildFrame: "copter_frame",
		StartedAt:  time.Now().UTC(),
	}
}

func testFrame(seq uint64) *core.RenderFrame {
	h := core.Header{FrameID: "map", Seq: uint32(seq)}
	return &core.RenderFrame{
		Sequence: seq,
		Header:   h,
		Track: core.Primitive{
			Header: h, Namespace: "fcu", Type: core.PrimitiveCubeList,
			Points: []core.Position3D{{X: 1}, {X: 2}},
		},
		Path: core.Primitive{
			Header: h, Namespace: "fcu1", Type: core.PrimitiveLineStrip,
			Points: []core.Position3D{{}, {X: 3}, {X: 3, Y: 4}},
		},
		Shapes: []core.ShapeMarker{
			{Kind: core.ShapeStar, Updated: true, Primitive: core.Primitive{Namespace: "fcu6", Points: []core.Position3D{{X: 3, Y: 4}}}},
			{Kind: core.ShapeCircle, Primitive: core.Primitive{Namespace: "fcu4", Points: []core.Position3D{{}}}},
		},
		Vehicle: []core.Primitive{
			{Namespace: "vehicle_rotor", ID: 1, Type: core.PrimitiveCylinder, Part: core.PartRotor},
			{Namespace: "vehicle_body", Type: core.PrimitiveCube, Part: core.PartBody},
		},
	}
}

func newBackend(t *testing.T, cfg Config) (*Backend, *messageLog) {
	t.Helper()
	srv, ml := testServer(t)
	t.Cleanup(srv.Close)

	cfg.URL = wsURL(srv)
	b := New(cfg, nil)
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b, ml
}

func TestInit_DialFailure(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/viz"}, nil)
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket dial failed")
}

func TestInit_InvalidURL(t *testing.T) {
	b := New(Config{URL: "://bad"}, nil)
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid websocket URL")
}

func TestStartAndEndSession(t *testing.T) {
	b, ml := newBackend(t, Config{Secret: "test"})

	s := testSession()
	vehicle := testFrame(0).Vehicle
	require.NoError(t, b.StartSession(s, vehicle))
	require.NoError(t, b.PublishFrame(testFrame(1)))
	require.NoError(t, b.PublishFrame(testFrame(2)))
	require.NoError(t, b.EndSession(s))

	msgs := ml.all()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, streaming.TypeStartSession, msgs[0].Type)
	assert.Equal(t, streaming.TypeEndSession, msgs[len(msgs)-1].Type)

	var start streaming.StartSessionPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &start))
	assert.Equal(t, s.ID, start.Session.ID)
	assert.Equal(t, vehicle, start.Vehicle)

	var end streaming.EndSessionPayload
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Payload, &end))
	assert.Equal(t, uint64(2), end.Frames)
	assert.Zero(t, end.Dropped)

	ml.mu.Lock()
	assert.Equal(t, "test", ml.secret)
	ml.mu.Unlock()
}

func TestPublishFrame_Channels(t *testing.T) {
	b, ml := newBackend(t, Config{})

	s := testSession()
	require.NoError(t, b.StartSession(s, nil))
	require.NoError(t, b.PublishFrame(testFrame(7)))
	require.NoError(t, b.EndSession(s))

	require.Len(t, ml.ofType(streaming.TypeTrackMarker), 1)
	require.Len(t, ml.ofType(streaming.TypeLineMarker), 1)
	require.Len(t, ml.ofType(streaming.TypeShapeMarker), 2)
	require.Len(t, ml.ofType(streaming.TypeVehicleMarker), 1)

	var track streaming.TrackMarkerPayload
	require.NoError(t, json.Unmarshal(ml.ofType(streaming.TypeTrackMarker)[0].Payload, &track))
	assert.Equal(t, uint64(7), track.Sequence)
	assert.Equal(t, core.PrimitiveCubeList, track.Marker.Type)
	assert.Len(t, track.Marker.Points, 2)

	var line streaming.LineMarkerPayload
	require.NoError(t, json.Unmarshal(ml.ofType(streaming.TypeLineMarker)[0].Payload, &line))
	assert.True(t, strings.HasPrefix(line.WKT, "LINESTRING Z"), line.WKT)
	assert.InDelta(t, 7, line.Length, 1e-9)
	assert.InDelta(t, 7, line.GroundLength, 1e-9)
	assert.Nil(t, line.EPSG3857, "no origin configured")

	var shape streaming.ShapeMarkerPayload
	require.NoError(t, json.Unmarshal(ml.ofType(streaming.TypeShapeMarker)[0].Payload, &shape))
	assert.Equal(t, core.ShapeStar, shape.Kind)
	assert.True(t, shape.Updated)

	var vehicle streaming.VehicleMarkerPayload
	require.NoError(t, json.Unmarshal(ml.ofType(streaming.TypeVehicleMarker)[0].Payload, &vehicle))
	assert.Equal(t, uint32(7), vehicle.Header.Seq)
	require.Len(t, vehicle.Parts, 2)
	assert.Equal(t, core.PartRotor, vehicle.Parts[0].Part)
}

func TestPublishFrame_ShapesOnlyOnUpdate(t *testing.T) {
	b, ml := newBackend(t, Config{ShapesOnlyOnUpdate: true})

	s := testSession()
	require.NoError(t, b.StartSession(s, nil))
	require.NoError(t, b.PublishFrame(testFrame(1)))
	require.NoError(t, b.EndSession(s))

	shapes := ml.ofType(streaming.TypeShapeMarker)
	require.Len(t, shapes, 1)

	var shape streaming.ShapeMarkerPayload
	require.NoError(t, json.Unmarshal(shapes[0].Payload, &shape))
	assert.Equal(t, core.ShapeStar, shape.Kind)
}

func TestPublishFrame_Georeferenced(t *testing.T) {
	georef, err := geo.NewGeoreferencer(52.52, 13.405)
	require.NoError(t, err)

	b, ml := newBackend(t, Config{Georef: georef})

	s := testSession()
	require.NoError(t, b.StartSession(s, nil))
	require.NoError(t, b.PublishFrame(testFrame(1)))
	require.NoError(t, b.EndSession(s))

	var line streaming.LineMarkerPayload
	require.NoError(t, json.Unmarshal(ml.ofType(streaming.TypeLineMarker)[0].Payload, &line))
	require.Len(t, line.EPSG3857, 3)

	origin, ok := georef.Origin().Coordinates()
	require.True(t, ok)
	assert.InDelta(t, origin.X, line.EPSG3857[0][0], 1e-6)
	assert.Greater(t, line.EPSG3857[1][0], origin.X)
}

func TestClose_Idempotent(t *testing.T) {
	b, _ := newBackend(t, Config{})

	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}

func TestEnvelopeSerialization(t *testing.T) {
	data, err := encodeEnvelope(streaming.TypeShapeMarker, streaming.ShapeMarkerPayload{Sequence: 3, Kind: core.ShapeHeart})
	require.NoError(t, err)

	var decoded streaming.Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, streaming.TypeShapeMarker, decoded.Type)
	assert.Contains(t, string(decoded.Payload), `"kind":"heart"`)

	var sp streaming.ShapeMarkerPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &sp))
	assert.Equal(t, core.ShapeHeart, sp.Kind)
	assert.Equal(t, uint64(3), sp.Sequence)
}

func TestPublishFrame_LineForHoverAndClimb(t *testing.T) {
	b, ml := newBackend(t, Config{})

	s := testSession()
	require.NoError(t, b.StartSession(s, nil))

	hover := testFrame(1)
	hover.Path.Points = []core.Position3D{{X: 1, Y: 1}, {X: 1, Y: 1}}
	require.NoError(t, b.PublishFrame(hover))

	climb := testFrame(2)
	climb.Path.Points = []core.Position3D{{X: 1, Y: 1}, {X: 1, Y: 1, Z: 2}, {X: 4, Y: 5, Z: 2}}
	require.NoError(t, b.PublishFrame(climb))
	require.NoError(t, b.EndSession(s))

	lines := ml.ofType(streaming.TypeLineMarker)
	require.Len(t, lines, 2)

	var line streaming.LineMarkerPayload
	require.NoError(t, json.Unmarshal(lines[0].Payload, &line))
	assert.True(t, strings.HasPrefix(line.WKT, "LINESTRING Z"), line.WKT)
	assert.Zero(t, line.Length)
	assert.Zero(t, line.GroundLength)

	require.NoError(t, json.Unmarshal(lines[1].Payload, &line))
	assert.True(t, strings.HasPrefix(line.WKT, "LINESTRING Z"), line.WKT)
	assert.InDelta(t, 7, line.Length, 1e-9)
	assert.InDelta(t, 5, line.GroundLength, 1e-9)
}

// queuedShapes decodes the shape markers of the next queued frame batch.
func queuedShapes(t *testing.T, c *connection) (uint64, map[core.ShapeKind]bool) {
	t.Helper()
	var b batch
	select {
	case b = <-c.queue:
	default:
		t.Fatal("no batch queued")
	}

	updated := map[core.ShapeKind]bool{}
	for _, raw := range b.messages {
		var env streaming.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Type != streaming.TypeShapeMarker {
			continue
		}
		var sp streaming.ShapeMarkerPayload
		require.NoError(t, json.Unmarshal(env.Payload, &sp))
		updated[sp.Kind] = sp.Updated
	}
	return b.seq, updated
}

func TestPublishFrame_QueueFullDropsWholeFrame(t *testing.T) {
	// Not dialled, so nothing drains the queue.
	b := New(Config{QueueSize: 1}, nil)

	require.NoError(t, b.PublishFrame(testFrame(1)))
	err := b.PublishFrame(testFrame(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errFrameDropped))
	assert.Equal(t, uint64(1), b.DroppedFrames())

	seq, _ := queuedShapes(t, b.conn)
	assert.Equal(t, uint64(1), seq)
	assert.Len(t, b.conn.queue, 0, "frame 2 left nothing behind")
}

func TestPublishFrame_DroppedUpdateCarriesOver(t *testing.T) {
	b := New(Config{QueueSize: 1}, nil)

	require.NoError(t, b.PublishFrame(testFrame(1)))
	require.Error(t, b.PublishFrame(testFrame(2)), "star update of frame 2 is dropped")
	_, _ = queuedShapes(t, b.conn)

	calm := testFrame(3)
	calm.Shapes[0].Updated = false
	require.NoError(t, b.PublishFrame(calm))
	seq, updated := queuedShapes(t, b.conn)
	assert.Equal(t, uint64(3), seq)
	assert.True(t, updated[core.ShapeStar], "missed star update reported on frame 3")
	assert.False(t, updated[core.ShapeCircle])

	calm = testFrame(4)
	calm.Shapes[0].Updated = false
	require.NoError(t, b.PublishFrame(calm))
	_, updated = queuedShapes(t, b.conn)
	assert.False(t, updated[core.ShapeStar], "reported once")
}

func TestPublishFrame_CarriedUpdateRespectsShapesOnlyOnUpdate(t *testing.T) {
	b := New(Config{QueueSize: 1, ShapesOnlyOnUpdate: true}, nil)

	require.NoError(t, b.PublishFrame(testFrame(1)))
	require.Error(t, b.PublishFrame(testFrame(2)))
	_, _ = queuedShapes(t, b.conn)

	calm := testFrame(3)
	calm.Shapes[0].Updated = false
	require.NoError(t, b.PublishFrame(calm))
	_, updated := queuedShapes(t, b.conn)
	assert.Equal(t, map[core.ShapeKind]bool{core.ShapeStar: true}, updated)
}

func TestEndSession_ReportsDroppedFrames(t *testing.T) {
	srv, ml := testServer(t)
	t.Cleanup(srv.Close)

	b := New(Config{URL: wsURL(srv)}, nil)
	b.conn.dropped.Store(3)
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })

	s := testSession()
	require.NoError(t, b.StartSession(s, nil))
	require.NoError(t, b.EndSession(s))

	ends := ml.ofType(streaming.TypeEndSession)
	require.Len(t, ends, 1)
	var end streaming.EndSessionPayload
	require.NoError(t, json.Unmarshal(ends[0].Payload, &end))
	assert.Equal(t, uint64(3), end.Dropped)
}

func TestPublishFrame_AfterClose(t *testing.T) {
	b := New(Config{}, nil)
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.PublishFrame(testFrame(1)), errClosed)
}
