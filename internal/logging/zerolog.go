package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// badKey holds a trailing key that has no value, matching slog.
const badKey = "!BADKEY"

// NewZerolog builds the console-format logger used for feed and InfluxDB
// traffic. Output is uncoloured so it can share the session log file.
// Unknown or empty levels fall back to info.
func NewZerolog(out io.Writer, level, component string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	w := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("component", component).Logger()
}

// FeedLogger adapts a zerolog.Logger to the dispatcher's key/value logger.
// With a session source every entry carries the session id and the last
// assembled frame, so feed lines can be matched against slog output.
type FeedLogger struct {
	logger zerolog.Logger
	source SessionSource
}

// NewFeedLogger wraps logger. source may be nil.
func NewFeedLogger(logger zerolog.Logger, source SessionSource) *FeedLogger {
	return &FeedLogger{logger: logger, source: source}
}

func (l *FeedLogger) Debug(msg string, keysAndValues ...any) {
	l.write(l.logger.Debug(), msg, keysAndValues)
}

func (l *FeedLogger) Info(msg string, keysAndValues ...any) {
	l.write(l.logger.Info(), msg, keysAndValues)
}

func (l *FeedLogger) Error(msg string, keysAndValues ...any) {
	l.write(l.logger.Error(), msg, keysAndValues)
}

func (l *FeedLogger) write(e *zerolog.Event, msg string, keysAndValues []any) {
	// nil when the level is filtered out
	if e == nil {
		return
	}
	if l.source != nil {
		if s, ok := l.source.Current(); ok {
			e = e.Str("session", s.ID.String()).Uint64("frame", l.source.LastFrame())
		}
	}
	e.Fields(toFields(keysAndValues)).Msg(msg)
}

// toFields pairs up keys and values. Non-string keys are skipped with their
// value; a dangling key is kept under badKey.
func toFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 == len(keysAndValues) {
			fields[badKey] = keysAndValues[i]
			break
		}
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}
