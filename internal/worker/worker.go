package worker

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/OCAP2/copterviz/internal/parser"
	"github.com/OCAP2/copterviz/internal/render"
	"github.com/OCAP2/copterviz/internal/session"
	"github.com/OCAP2/copterviz/internal/storage"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Assembler *render.Assembler
	Parser    *parser.Parser
	Session   *session.Context
	Logger    *slog.Logger
}

// Manager turns dispatched feed commands into render frames and publishes
// them to the backend.
type Manager struct {
	deps    Dependencies
	backend storage.Backend

	lastPublish atomic.Int64 // nanoseconds

	posesRejected   metric.Int64Counter
	framesPublished metric.Int64Counter
	publishFailed   metric.Int64Counter
	shapesLatched   metric.Int64Counter
	publishDuration metric.Float64Histogram
}

// NewManager creates a new worker manager. A nil meter disables metrics.
func NewManager(deps Dependencies, backend storage.Backend, meter metric.Meter) (*Manager, error) {
	if meter == nil {
		meter = noop.Meter{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	m := &Manager{
		deps:    deps,
		backend: backend,
	}

	var err error
	m.posesRejected, err = meter.Int64Counter(
		"worker.poses.rejected",
		metric.WithDescription("Pose commands that failed to parse"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}

	m.framesPublished, err = meter.Int64Counter(
		"worker.frames.published",
		metric.WithDescription("Render frames handed to the backend"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}

	m.publishFailed, err = meter.Int64Counter(
		"worker.frames.failed",
		metric.WithDescription("Render frames the backend rejected"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	m.shapesLatched, err = meter.Int64Counter(
		"worker.shapes.latched",
		metric.WithDescription("Shape detections latched for the next pose"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating shapes counter: %w", err)
	}

	m.publishDuration, err = meter.Float64Histogram(
		"worker.publish.duration",
		metric.WithDescription("Time spent in Backend.PublishFrame"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating publish histogram: %w", err)
	}

	return m, nil
}

// GetLastPublishDuration returns how long the last PublishFrame call took.
func (m *Manager) GetLastPublishDuration() time.Duration {
	return time.Duration(m.lastPublish.Load())
}

// Stats returns the assembler stats.
func (m *Manager) Stats() render.Stats {
	return m.deps.Assembler.Snapshot()
}
