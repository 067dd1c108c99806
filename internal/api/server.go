// Package api serves the read-only operator status API.
//
// Every route is a view: the engine is driven by feeds alone, and nothing
// here mutates state. Responses are JSON renderings of snapshots the other
// components already expose, so the API adds no locking of its own.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"polyarb/internal/config"
	"polyarb/pkg/types"
)

// Server runs the HTTP status API.
type Server struct {
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the routes. All sources are required; paperMode is echoed
// on /api/status so an operator can tell a dry run from live at a glance.
func NewServer(cfg config.StatusConfig, src Sources, paperMode bool, clock types.Clock, logger *slog.Logger) *Server {
	handlers := NewHandlers(src, paperMode, clock, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HandleHealth)
	mux.HandleFunc("/api/status", handlers.HandleStatus)
	mux.HandleFunc("/api/risk", handlers.HandleRisk)
	mux.HandleFunc("/api/opportunities", handlers.HandleOpportunities)
	mux.HandleFunc("/api/metrics", handlers.HandleMetrics)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start serves until Stop is called. It blocks; run it on its own goroutine.
func (s *Server) Start() error {
	s.logger.Info("status API listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status API: %w", err)
	}
	return nil
}

// Stop shuts the server down, draining in-flight requests.
func (s *Server) Stop() error {
	s.logger.Info("stopping status API")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
