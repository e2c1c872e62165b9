package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sublite/sublite/cfg"
	"github.com/sublite/sublite/engine"
	"github.com/sublite/sublite/telemetry"
)

const shutdownGrace = 5 * time.Second

// Server is the HTTP front of one engine.
type Server struct {
	engine     *engine.Engine
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a stopped server.
func NewServer(e *engine.Engine) *Server {
	return &Server{engine: e}
}

// Start binds the configured address and serves in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", cfg.Config.HTTP.BindAddress, cfg.Config.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	RegisterRoutes(mux, NewHandlers(s.engine))

	// Register pprof handlers for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if handler := telemetry.GetMetricsHandler(); handler != nil {
		mux.Handle("/metrics", handler)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}

	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Str("address", addr).Msg("API server listening")
	return nil
}

// Addr reports the bound address, useful when the configured port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, forcing lingering connections closed after a
// grace period.
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Forcing HTTP server close")
		s.httpServer.Close()
	}
	log.Info().Msg("API server stopped")
}
