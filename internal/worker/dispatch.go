package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/OCAP2/copterviz/internal/dispatcher"
	"github.com/OCAP2/copterviz/internal/render"
	"github.com/OCAP2/copterviz/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Feed commands handled by the worker.
const (
	CommandPose   = ":POSE:"
	CommandShape  = ":SHAPE:"
	CommandStatus = ":STATUS:"
)

// StatusReport is the reply to :STATUS:.
type StatusReport struct {
	Session     *core.Session `json:"session,omitempty"`
	Stats       render.Stats  `json:"stats"`
	LastPublish string        `json:"lastPublish"`
}

// frameQueue is the single ordered queue poses and shapes are assembled from.
const frameQueue = "frames"

// RegisterHandlers registers all feed handlers with the dispatcher.
// Poses and shapes share one buffered queue, so a shape latches against the
// pose that follows it in the feed no matter how far the consumer lags.
// Shapes are validated before queueing so bad names are answered inline.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher, queueSize int) {
	d.Register(CommandPose, m.handlePose,
		dispatcher.Buffered(queueSize), dispatcher.Queue(frameQueue), dispatcher.Blocking(), dispatcher.Logged())
	d.Register(CommandShape, m.handleShape,
		dispatcher.Buffered(queueSize), dispatcher.Queue(frameQueue), dispatcher.Blocking(), dispatcher.Logged(),
		dispatcher.Precheck(m.checkShape))
	d.Register(CommandStatus, m.handleStatus)
}

func (m *Manager) handlePose(e dispatcher.Event) (any, error) {
	ctx := context.Background()

	pose, err := m.deps.Parser.ParsePose(e.Args)
	if err != nil {
		m.posesRejected.Add(ctx, 1)
		return nil, fmt.Errorf("failed to parse pose: %w", err)
	}

	frame := m.deps.Assembler.OnPose(pose)
	if m.deps.Session != nil {
		m.deps.Session.MarkFrame(frame.Sequence)
	}

	start := time.Now()
	err = m.backend.PublishFrame(&frame)
	elapsed := time.Since(start)
	m.lastPublish.Store(int64(elapsed))
	m.publishDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond))

	if err != nil {
		m.publishFailed.Add(ctx, 1)
		return nil, fmt.Errorf("failed to publish frame %d: %w", frame.Sequence, err)
	}
	m.framesPublished.Add(ctx, 1)

	return frame.Sequence, nil
}

func (m *Manager) checkShape(e dispatcher.Event) error {
	_, ok, err := m.deps.Parser.ParseShape(e.Args)
	if err != nil {
		return fmt.Errorf("failed to parse shape: %w", err)
	}
	if !ok {
		return dispatcher.ErrSkip
	}
	return nil
}

func (m *Manager) handleShape(e dispatcher.Event) (any, error) {
	kind, ok, err := m.deps.Parser.ParseShape(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse shape: %w", err)
	}
	if !ok {
		return "ignored", nil
	}

	m.deps.Assembler.Signal(kind)
	m.shapesLatched.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", kind.String())))

	return "latched", nil
}

func (m *Manager) handleStatus(e dispatcher.Event) (any, error) {
	return m.Status(), nil
}

// Status reports the active session, assembler stats and last publish time.
func (m *Manager) Status() StatusReport {
	report := StatusReport{
		Stats:       m.deps.Assembler.Snapshot(),
		LastPublish: m.GetLastPublishDuration().String(),
	}
	if m.deps.Session != nil {
		if s, ok := m.deps.Session.Current(); ok {
			report.Session = &s
		}
	}
	return report
}
