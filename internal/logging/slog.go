package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// InstrumentationName identifies copterviz records in the OTel log pipeline.
const InstrumentationName = "copterviz"

// console is the fallback sink when no log file is given. stdout belongs to
// feed replies, so it is never used for logs.
var console io.Writer = os.Stderr

// SlogManager manages slog-based logging with optional OTel integration.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
}

// SetupOption adds an extra sink or decoration to Setup.
type SetupOption func(*setupOptions)

type setupOptions struct {
	graylog io.Writer
	session SessionSource
}

// WithGraylog adds a JSON sink writing to w, normally a *gelf.Writer.
func WithGraylog(w io.Writer) SetupOption {
	return func(o *setupOptions) {
		o.graylog = w
	}
}

// WithSession stamps every record with the active session and frame.
func WithSession(source SessionSource) SetupOption {
	return func(o *setupOptions) {
		o.session = source
	}
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a config log level to slog.Level. Unknown values are info.
func parseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func utcTime(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
		}
	}
	return a
}

// Setup builds the logger. Text records go to file, or to stderr when file is
// nil. Graylog gets the same records as JSON. A nil provider disables the
// OTel sink.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, opts ...SetupOption) {
	var o setupOptions
	for _, opt := range opts {
		opt(&o)
	}

	m.logProvider = provider
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(level), ReplaceAttr: utcTime}

	textOut := console
	if file != nil {
		textOut = file
	}
	sinks := []sink{{name: "text", handler: slog.NewTextHandler(textOut, handlerOpts)}}
	if o.graylog != nil {
		sinks = append(sinks, sink{name: "graylog", handler: slog.NewJSONHandler(o.graylog, handlerOpts)})
	}
	if provider != nil {
		sinks = append(sinks, sink{
			name:    "otel",
			handler: otelslog.NewHandler(InstrumentationName, otelslog.WithLoggerProvider(provider)),
		})
	}

	var handler slog.Handler = newSinkSet(sinks...)
	if o.session != nil {
		handler = NewSessionHandler(handler, o.session)
	}

	m.logger = slog.New(handler)
	m.logger.Info("Logging initialized", "level", level, "sinks", len(sinks))
}

// Logger returns the configured slog.Logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
