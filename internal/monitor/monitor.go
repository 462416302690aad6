package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/OCAP2/copterviz/internal/influx"
	"github.com/OCAP2/copterviz/internal/render"
	"github.com/OCAP2/copterviz/internal/session"
	"github.com/OCAP2/copterviz/pkg/core"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement performance points are written to.
const Measurement = "copterviz_performance"

// StatsSource is the subset of worker.Manager the monitor samples.
type StatsSource interface {
	Stats() render.Stats
	GetLastPublishDuration() time.Duration
}

// PointWriter accepts InfluxDB points. *influx.Manager satisfies it.
type PointWriter interface {
	WritePoint(point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger     *slog.Logger
	Session    *session.Context
	Worker     StatsSource
	Influx     PointWriter // optional
	StatusPath string      // optional
	Interval   time.Duration
}

// Performance is one status snapshot.
type Performance struct {
	Time          time.Time    `json:"time"`
	Session       core.Session `json:"session"`
	Stats         render.Stats `json:"stats"`
	LastPublishMs float64      `json:"lastPublishMs"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 5 * time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current status as printable lines plus the
// snapshot it was built from. ok is false when no session is active.
func (s *Service) GetProgramStatus() (output []string, perf Performance, ok bool) {
	sess, ok := s.deps.Session.Current()
	if !ok {
		return nil, Performance{}, false
	}

	perf = Performance{
		Time:          time.Now().UTC(),
		Session:       sess,
		Stats:         s.deps.Worker.Stats(),
		LastPublishMs: float64(s.deps.Worker.GetLastPublishDuration().Microseconds()) / 1000,
	}

	statsStr, err := json.MarshalIndent(perf.Stats, "", "  ")
	if err != nil {
		statsStr = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	output = append(output,
		fmt.Sprintf("session: %s (%s)", sess.Name, sess.ID),
		string(statsStr),
		fmt.Sprintf("lastPublishMs: %.3f", perf.LastPublishMs),
	)

	return output, perf, true
}

// Point converts a snapshot into an InfluxDB point.
func (p Performance) Point() *influxdb2_write.Point {
	fields := map[string]any{
		"frames":        p.Stats.Frames,
		"trackPoints":   p.Stats.TrackPoints,
		"pathPoints":    p.Stats.PathPoints,
		"pathLength":    p.Stats.PathLength,
		"lastPublishMs": p.LastPublishMs,
	}
	for kind, n := range p.Stats.ShapePoints {
		fields["shape_"+kind.String()] = n
	}
	tags := map[string]string{
		"sessionId":   p.Session.ID.String(),
		"sessionName": p.Session.Name,
		"frame":       p.Session.FixedFrame,
	}
	return influx.NewPoint(Measurement, tags, fields, p.Time)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stopChan, done := s.stopChan, s.done
	s.mu.Unlock()

	var statusFile *os.File
	if s.deps.StatusPath != "" {
		var err error
		statusFile, err = os.Create(s.deps.StatusPath)
		if err != nil {
			s.deps.Logger.Error("Error creating status file", "error", err, "path", s.deps.StatusPath)
		}
	}

	go func() {
		defer close(done)
		if statusFile != nil {
			defer statusFile.Close()
		}

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopChan:
				return
			case <-ticker.C:
				s.sample(statusFile)
			}
		}
	}()

	return nil
}

func (s *Service) sample(statusFile *os.File) {
	statusStr, perf, ok := s.GetProgramStatus()
	if !ok {
		return
	}
	logger := s.deps.Logger

	logger.Debug("Status",
		"frames", perf.Stats.Frames,
		"trackPoints", perf.Stats.TrackPoints,
		"pathPoints", perf.Stats.PathPoints,
		"pathLength", perf.Stats.PathLength,
		"lastPublishMs", perf.LastPublishMs)

	if statusFile != nil {
		_ = statusFile.Truncate(0)
		_, _ = statusFile.Seek(0, 0)
		for _, line := range statusStr {
			_, _ = statusFile.WriteString(line + "\n")
		}
	}

	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePoint(perf.Point()); err != nil {
			logger.Error("Error writing performance point to InfluxDB", "error", err)
		}
	}
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
