package worker

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/OCAP2/copterviz/internal/dispatcher"
	"github.com/OCAP2/copterviz/internal/geometry"
	"github.com/OCAP2/copterviz/internal/parser"
	"github.com/OCAP2/copterviz/internal/render"
	"github.com/OCAP2/copterviz/internal/session"
	"github.com/OCAP2/copterviz/internal/storage"
	"github.com/OCAP2/copterviz/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements dispatcher.Logger for testing
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *mockLogger) Debug(msg string, keysAndValues ...any) { l.add(msg) }
func (l *mockLogger) Info(msg string, keysAndValues ...any) { l.add(msg) }
func (l *mockLogger) Error(msg string, keysAndValues ...any) { l.add(msg) }

func (l *mockLogger) add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *mockLogger) contains(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m == msg {
			return true
		}
	}
	return false
}

// mockBackend implements storage.Backend for testing
type mockBackend struct {
	mu      sync.Mutex
	frames  []core.RenderFrame
	failErr error
	gate    chan struct{} // when set, PublishFrame waits for it to close
}

var _ storage.Backend = (*mockBackend)(nil)

func (b *mockBackend) Init() error { return nil }
func (b *mockBackend) Close() error { return nil }

func (b *mockBackend) StartSession(core.Session, []core.Primitive) error { return nil }
func (b *mockBackend) EndSession(core.Session) error { return nil }

func (b *mockBackend) PublishFrame(f *core.RenderFrame) error {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failErr != nil {
		return b.failErr
	}
	b.frames = append(b.frames, *f)
	return nil
}

func (b *mockBackend) published() []core.RenderFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.RenderFrame(nil), b.frames...)
}

type fixture struct {
	manager    *Manager
	backend    *mockBackend
	dispatcher *dispatcher.Dispatcher
	logger     *mockLogger
	session    *session.Context
}

func newFixture(t *testing.T, trackCap, rotors int) *fixture {
	t.Helper()

	params := geometry.DefaultParams()
	params.RotorCount = rotors
	asm := render.NewAssembler(render.Options{TrackCapacity: trackCap}, geometry.NewCache(params))

	sess := session.NewContext()
	backend := &mockBackend{}
	m, err := NewManager(Dependencies{
		Assembler: asm,
		Parser:    parser.NewParser(slog.Default(), "map"),
		Session:   sess,
	}, backend, nil)
	require.NoError(t, err)

	logger := &mockLogger{}
	d, err := dispatcher.New(logger)
	require.NoError(t, err)
	m.RegisterHandlers(d, 16)
	t.Cleanup(d.Close)

	return &fixture{manager: m, backend: backend, dispatcher: d, logger: logger, session: sess}
}

func (f *fixture) dispatch(t *testing.T, cmd string, args ...string) any {
	t.Helper()
	result, err := f.dispatcher.Dispatch(dispatcher.Event{Command: cmd, Args: args})
	require.NoError(t, err)
	return result
}

func TestRegisterHandlers(t *testing.T) {
	f := newFixture(t, 10, 4)

	assert.True(t, f.dispatcher.HasHandler(CommandPose))
	assert.True(t, f.dispatcher.HasHandler(CommandShape))
	assert.True(t, f.dispatcher.HasHandler(CommandStatus))
}

func TestPoseStream_EndToEnd(t *testing.T) {
	f := newFixture(t, 3, 4)

	assert.Equal(t, "queued", f.dispatch(t, CommandPose, "", "1", "0,0,0"))
	f.dispatch(t, CommandPose, "", "2", "1,0,0")
	f.dispatch(t, CommandPose, "", "3", "2,0,0")
	f.dispatch(t, CommandPose, "", "4", "3,0,0")
	f.dispatcher.Close()

	frames := f.backend.published()
	require.Len(t, frames, 4)

	last := frames[3]
	assert.Equal(t, uint64(4), last.Sequence)
	assert.Equal(t, "map", last.Header.FrameID)
	assert.Equal(t, []core.Position3D{{X: 1}, {X: 2}, {X: 3}}, last.Track.Points)
	assert.Len(t, last.Path.Points, 4)
	assert.Len(t, last.Vehicle, 9)

	stats := f.manager.Stats()
	assert.Equal(t, uint64(4), stats.Frames)
	assert.Equal(t, 3, stats.TrackPoints)
	assert.Equal(t, 4, stats.PathPoints)
	assert.Equal(t, uint64(4), f.session.LastFrame())
}

func TestShapeLatchedUntilNextPose(t *testing.T) {
	f := newFixture(t, 10, 4)

	f.dispatch(t, CommandPose, "", "1", "0,0,0")
	assert.Equal(t, "queued", f.dispatch(t, CommandShape, "star"))
	assert.Equal(t, "queued", f.dispatch(t, CommandShape, "star"))
	assert.Equal(t, "ignored", f.dispatch(t, CommandShape, "hexagon"))
	f.dispatch(t, CommandPose, "", "2", "5,0,0")
	f.dispatch(t, CommandPose, "", "3", "6,0,0")
	f.dispatcher.Close()

	frames := f.backend.published()
	require.Len(t, frames, 3)
	assert.Empty(t, frames[0].Shapes)

	require.Len(t, frames[1].Shapes, 1)
	assert.Equal(t, core.ShapeStar, frames[1].Shapes[0].Kind)
	assert.True(t, frames[1].Shapes[0].Updated)
	assert.Equal(t, []core.Position3D{{X: 5}}, frames[1].Shapes[0].Primitive.Points, "debounced to one point")

	require.Len(t, frames[2].Shapes, 1)
	assert.False(t, frames[2].Shapes[0].Updated)
}

func TestShapeLatchesAgainstNextQueuedPose(t *testing.T) {
	f := newFixture(t, 10, 4)
	gate := make(chan struct{})
	f.backend.gate = gate

	// The consumer is held inside the first publish while the rest of the
	// feed piles up behind it.
	f.dispatch(t, CommandPose, "", "1", "1,0,0")
	f.dispatch(t, CommandPose, "", "2", "2,0,0")
	f.dispatch(t, CommandShape, "star")
	f.dispatch(t, CommandPose, "", "3", "3,0,0")
	close(gate)
	f.dispatcher.Close()

	frames := f.backend.published()
	require.Len(t, frames, 3)
	assert.Empty(t, frames[1].Shapes)

	require.Len(t, frames[2].Shapes, 1)
	star := frames[2].Shapes[0]
	assert.Equal(t, core.ShapeStar, star.Kind)
	assert.True(t, star.Updated)
	assert.Equal(t, []core.Position3D{{X: 3}}, star.Primitive.Points)
}

func TestShape_MissingArgs(t *testing.T) {
	f := newFixture(t, 10, 4)

	_, err := f.dispatcher.Dispatch(dispatcher.Event{Command: CommandShape})
	assert.ErrorIs(t, err, parser.ErrMissingArgs)

	f.dispatcher.Close()
	assert.Empty(t, f.backend.published())
	assert.Zero(t, f.manager.Stats().Frames)
}

func TestPose_ParseErrorIsLoggedAndSkipped(t *testing.T) {
	f := newFixture(t, 10, 4)

	f.dispatch(t, CommandPose, "", "1", "not,a,position")
	f.dispatch(t, CommandPose, "", "2", "1,2,3")
	f.dispatcher.Close()

	frames := f.backend.published()
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(1), frames[0].Sequence)
	assert.True(t, f.logger.contains("buffered event failed"))
}

func TestPose_PublishFailure(t *testing.T) {
	f := newFixture(t, 10, 4)
	f.backend.failErr = errors.New("viewer gone")

	_, err := f.manager.handlePose(dispatcher.Event{Command: CommandPose, Args: []string{"", "1", "1,2,3"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish frame 1")
	assert.Contains(t, err.Error(), "viewer gone")

	// The frame was still assembled.
	assert.Equal(t, uint64(1), f.manager.Stats().Frames)
}

func TestPose_ReturnsSequence(t *testing.T) {
	f := newFixture(t, 10, 4)

	seq, err := f.manager.handlePose(dispatcher.Event{Command: CommandPose, Args: []string{"odom", "1", "1,2,3"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, uint64(1), f.session.LastFrame())
	assert.GreaterOrEqual(t, f.manager.GetLastPublishDuration().Nanoseconds(), int64(0))
}

func TestStatus(t *testing.T) {
	f := newFixture(t, 10, 4)

	report, ok := f.dispatch(t, CommandStatus).(StatusReport)
	require.True(t, ok)
	assert.Nil(t, report.Session)
	assert.Zero(t, report.Stats.Frames)

	started := f.session.Start("status", "map", "copter_frame")
	_, err := f.manager.handlePose(dispatcher.Event{Command: CommandPose, Args: []string{"", "1", "3,4,0"}})
	require.NoError(t, err)

	report = f.dispatch(t, CommandStatus).(StatusReport)
	require.NotNil(t, report.Session)
	assert.Equal(t, started.ID, report.Session.ID)
	assert.Equal(t, uint64(1), report.Stats.Frames)
	assert.Equal(t, 1, report.Stats.PathPoints)
	assert.NotEmpty(t, report.LastPublish)
}
