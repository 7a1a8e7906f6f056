package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// ServerConfig holds configuration for the health server.
type ServerConfig struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:   ":8081",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server serves the health endpoints:
//
//	/health        every component, 503 unless all are serving
//	/health/live   200 while the process answers
//	/health/ready  200 when the readiness check passes
type Server struct {
	manager *Manager
	ready   func() bool
	server  *http.Server
	logger  *slog.Logger
}

// NewServer creates a new health server. ready decides readiness; when nil
// the worker is ready whenever it is healthy.
func NewServer(manager *Manager, ready func() bool, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		manager: manager,
		ready:   ready,
		logger:  logger.With("component", "health-server"),
	}

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the HTTP handler of the health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleLiveness)
	mux.HandleFunc("GET /health/ready", s.handleReadiness)
	return mux
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting health server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the health server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping health server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.manager.GetOverallStatus(r.Context())

	code := http.StatusOK
	if !status.Status.serving() {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, probe{Status: "alive", Timestamp: time.Now()})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	var ready bool
	if s.ready != nil {
		ready = s.ready()
	} else {
		ready = s.manager.IsHealthy(r.Context())
	}

	if ready {
		s.writeJSON(w, http.StatusOK, probe{Status: "ready", Timestamp: time.Now()})
		return
	}
	s.writeJSON(w, http.StatusServiceUnavailable, probe{Status: "not_ready", Timestamp: time.Now()})
}

type probe struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode health response", "error", err)
	}
}
