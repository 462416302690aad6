package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/OCAP2/copterviz/internal/config"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
)

// ErrDisabled is returned by Connect when InfluxDB is turned off in config.
var ErrDisabled = errors.New("influx is disabled")

// ErrNoWriter is returned by WritePoint when neither the InfluxDB writer nor
// the backup file is available.
var ErrNoWriter = errors.New("influxDB client not initialized and backup writer not available")

// ErrNoFields is returned by WritePoint for a point without fields.
var ErrNoFields = errors.New("point has no fields")

// Manager handles the InfluxDB connection and performance point writes.
// Points go to a gzip'd line protocol backup file while the server is
// unreachable.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	mu         sync.Mutex
	backupFile *os.File
}

// NewManager creates a new InfluxDB manager.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		cfg:        cfg,
		Logger:     log,
		BackupPath: backupPath,
	}
}

// Connect creates the client and checks server health. When the ping fails
// the manager falls back to the backup file and Connect still succeeds.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.cfg.URL,
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.Logger.Warn().Err(err).Str("url", m.cfg.URL).Str("backupPath", m.BackupPath).
			Msg("InfluxDB not reachable, writing to backup file")
		m.Client.Close()
		m.Client = nil
		return m.OpenBackup()
	}

	m.IsValid = true
	m.createWriter()
	m.Logger.Info().Str("url", m.cfg.URL).Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

// OpenBackup opens (or appends to) the backup file.
func (m *Manager) OpenBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.BackupWriter != nil {
		return nil
	}
	if m.BackupPath == "" {
		return errors.New("no backup path configured")
	}

	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) createWriter() {
	m.Logger.Trace().Str("bucket", m.cfg.Bucket).Msg("Creating InfluxDB writer")
	m.Writer = m.Client.WriteAPI(m.cfg.Org, m.cfg.Bucket)

	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(m.Writer.Errors())
}

// NewPoint builds a point in the configured measurement layout.
func NewPoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(measurement, tags, fields, ts)
}

// SourceTag is added to points written without any tag. Line protocol needs
// at least one tag after the measurement's comma in the backup file.
const SourceTag = "source"

// WritePoint writes a point to InfluxDB or the backup file. Points without
// fields are rejected.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if len(point.FieldList()) == 0 {
		return fmt.Errorf("point %q: %w", point.Name(), ErrNoFields)
	}
	if len(point.TagList()) == 0 {
		point.AddTag(SourceTag, "copterviz")
	}

	if m.IsValid {
		m.Writer.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return ErrNoWriter
	}

	lineProtocol := strings.TrimSuffix(influxdb2_write.PointToLineProtocol(point, time.Nanosecond), "\n")
	if _, err := m.BackupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending writes and releases the client and backup file.
func (m *Manager) Close() error {
	if m.Client != nil {
		m.Writer.Flush()
		m.Client.Close()
		m.Client = nil
		m.IsValid = false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return nil
	}
	err := errors.Join(m.BackupWriter.Close(), m.backupFile.Close())
	m.BackupWriter = nil
	m.backupFile = nil
	return err
}
