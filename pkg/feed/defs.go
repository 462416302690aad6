package feed

import (
	"io"
	"log/slog"

	"github.com/OCAP2/copterviz/internal/dispatcher"
)

// Built-in commands answered without a registered handler.
const (
	CommandVersion   = ":VERSION:"
	CommandTimestamp = ":TIMESTAMP:"
)

// maxLineSize bounds a single feed line.
const maxLineSize = 1 << 20

// Server reads command lines and replies through a dispatcher.
type Server struct {
	// version is returned for :VERSION:
	version string

	// dispatcher handles event routing
	dispatcher *dispatcher.Dispatcher

	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the string returned for :VERSION:.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithLogger sets the logger used for malformed lines.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a feed server over the given dispatcher.
func New(d *dispatcher.Dispatcher, opts ...Option) *Server {
	s := &Server{
		version:    "No version set",
		dispatcher: d,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
