// Package statusserver exposes read-only HTTP endpoints for the running
// session: health, stats and the most recent render frame.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/OCAP2/copterviz/internal/worker"
	"github.com/OCAP2/copterviz/pkg/core"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// StatusFunc returns the current status report.
type StatusFunc func() worker.StatusReport

// LatestFunc returns the most recent frame, if any.
type LatestFunc func() (*core.RenderFrame, bool)

// Dependencies holds what the endpoints read from.
type Dependencies struct {
	Status    StatusFunc
	Latest    LatestFunc // optional; /frame routes answer 404 without it
	Logger    *slog.Logger
	AccessLog io.Writer // optional; combined log format
}

// Service serves the status endpoints.
type Service struct {
	addr   string
	deps   Dependencies
	router *mux.Router

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
}

// NewService builds the router for addr. Nothing listens until Start.
func NewService(addr string, deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Service{addr: addr, deps: deps}

	router := mux.NewRouter()
	router.HandleFunc("/healthcheck", s.healthcheck).Methods(http.MethodGet)
	router.HandleFunc("/status", s.status).Methods(http.MethodGet)
	router.HandleFunc("/frame/latest", s.latestFrame).Methods(http.MethodGet)
	router.HandleFunc("/frame/latest/shapes/{kind:[a-z]+}", s.latestShape).Methods(http.MethodGet)
	s.router = router

	return s
}

// Handler returns the router, wrapped in access logging when configured.
func (s *Service) Handler() http.Handler {
	if s.deps.AccessLog != nil {
		return handlers.CombinedLoggingHandler(s.deps.AccessLog, s.router)
	}
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deps.Logger.Error("Status server stopped", "error", err)
		}
	}(s.server)

	s.deps.Logger.Info("Status server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.ln = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Service) healthcheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Service) status(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.deps.Status())
}

func (s *Service) latestFrame(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.latest()
	if !ok {
		http.Error(w, "no frame", http.StatusNotFound)
		return
	}
	s.writeJSON(w, frame)
}

func (s *Service) latestShape(w http.ResponseWriter, r *http.Request) {
	kind, ok := core.ParseShapeKind(mux.Vars(r)["kind"])
	if !ok {
		http.Error(w, "unknown shape", http.StatusNotFound)
		return
	}
	frame, ok := s.latest()
	if !ok {
		http.Error(w, "no frame", http.StatusNotFound)
		return
	}
	for _, sm := range frame.Shapes {
		if sm.Kind == kind {
			s.writeJSON(w, sm)
			return
		}
	}
	http.Error(w, "shape not triggered", http.StatusNotFound)
}

func (s *Service) latest() (*core.RenderFrame, bool) {
	if s.deps.Latest == nil {
		return nil, false
	}
	return s.deps.Latest()
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.deps.Logger.Error("Failed to encode response", "error", err)
	}
}
