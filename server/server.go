// Package server exposes the HTTP chat surface for agent conversation turns.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vutler/agentd/agent"
)

// TurnRouter executes one conversation turn for an agent.
type TurnRouter interface {
	Run(ctx context.Context, agentID, message string, onChunk agent.StreamCallback) (*agent.TurnResult, error)
}

// AgentChecker reports whether an agent is configured.
type AgentChecker interface {
	Exists(ctx context.Context, agentID string) (bool, error)
}

// ExchangeLogger records a completed turn into agent memory.
type ExchangeLogger interface {
	LogExchange(ctx context.Context, agentID, userMessage, agentResponse string) bool
}

// Config holds server configuration options.
type Config struct {
	Addr string
	// TurnTimeout bounds a single conversation turn, tool loop included.
	TurnTimeout time.Duration
}

// Server is the HTTP server for agentd.
type Server struct {
	httpServer  *http.Server
	router      TurnRouter
	agents      AgentChecker
	exchanges   ExchangeLogger
	turnTimeout time.Duration
	logger      zerolog.Logger
}

// New creates a Server.
func New(cfg Config, router TurnRouter, agents AgentChecker, exchanges ExchangeLogger, logger zerolog.Logger) *Server {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 5 * time.Minute
	}
	s := &Server{
		router:      router,
		agents:      agents,
		exchanges:   exchanges,
		turnTimeout: cfg.TurnTimeout,
		logger:      logger.With().Str("component", "http_server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /agents/{id}/chat", s.handleChat)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok")) //nolint:errcheck
}
