// Package httpapi exposes the control plane's local HTTP API: health,
// permission review, tool invocation, audit/log tailing, and the brain
// runtime's chat and config surface. It is deliberately a single
// http.NewServeMux, matching the control plane's own stdlib-only routing
// convention rather than pulling in a router library for a handful of
// fixed routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/methings/brainctl/internal/audit"
	"github.com/methings/brainctl/internal/brain"
	"github.com/methings/brainctl/internal/dispatcher"
	"github.com/methings/brainctl/internal/journal"
	"github.com/methings/brainctl/internal/permission"
	"github.com/methings/brainctl/internal/ratelimit"
	"github.com/methings/brainctl/internal/storage"
)

// Server wires the control plane's components into an HTTP surface.
type Server struct {
	store      storage.Adapter
	broker     *permission.Broker
	dispatcher *dispatcher.Dispatcher
	journal    *journal.Journal
	brain      *brain.Runtime
	audit      *audit.Logger
	logger     *slog.Logger
	startedAt  time.Time
	chatLimit  *ratelimit.Bucket

	httpServer *http.Server
	listener   net.Listener
}

// Config bundles the already-constructed components a Server routes
// requests to.
type Config struct {
	Store      storage.Adapter
	Broker     *permission.Broker
	Dispatcher *dispatcher.Dispatcher
	Journal    *journal.Journal
	Brain      *brain.Runtime
	Audit      *audit.Logger
	Logger     *slog.Logger
}

// New constructs a Server. Call Start to begin listening.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:      cfg.Store,
		broker:     cfg.Broker,
		dispatcher: cfg.Dispatcher,
		journal:    cfg.Journal,
		brain:      cfg.Brain,
		audit:      cfg.Audit,
		logger:     logger,
		startedAt:  time.Now(),
		chatLimit:  ratelimit.NewBucket(ratelimit.Config{RequestsPerSecond: 2, BurstSize: 5, Enabled: true}),
	}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/permissions", s.handlePermissions)
	mux.HandleFunc("/permissions/", s.handlePermissionByID)

	mux.HandleFunc("/tools/", s.handleToolInvoke)

	mux.HandleFunc("/audit/recent", s.handleAuditRecent)
	mux.HandleFunc("/logs/stream", s.handleLogStream)

	mux.HandleFunc("/brain/chat", s.handleBrainChat)
	mux.HandleFunc("/brain/sessions", s.handleBrainSessions)
	mux.HandleFunc("/brain/sessions/", s.handleBrainSessionMessages)
	mux.HandleFunc("/brain/status", s.handleBrainStatus)
	mux.HandleFunc("/brain/config", s.handleBrainConfig)

	return mux
}

// Handler returns the server's routed http.Handler, for embedding in a test
// server or a caller that wants to manage its own listener.
func (s *Server) Handler() http.Handler {
	return s.mux()
}

// Start binds addr and serves in a background goroutine. Call Shutdown to
// stop it.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("http api listening", "addr", addr)
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
