// Package server provides the local HTTP surface: session control, a video
// preview with the hand overlay and a websocket feed of the gesture signal.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/overlay"
	"github.com/ayusman/mudra/internal/server/api"
)

// Config holds the server configuration.
type Config struct {
	StaticDir  string
	Controller api.Controller
	Frames     FrameSource
	Overlay    *overlay.Canvas
	// Mirror flips the preview horizontally, as for a user-facing camera.
	Mirror bool
	Logger zerolog.Logger
}

// Server represents the HTTP server for the mudra application.
type Server struct {
	config     Config
	mux        *http.ServeMux
	start      time.Time
	log        zerolog.Logger
	hub        *SignalHub
	httpServer *http.Server

	// baseCtx parents every request context; Shutdown cancels it to end
	// long-lived streams.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    config.Logger.With().Str("component", "server").Logger(),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	// Session control and the signal feed need the application
	if s.config.Controller != nil {
		s.mux.Handle("/api/session", api.NewSessionHandler(s.config.Controller, s.config.Logger))

		s.hub = NewSignalHub(s.config.Controller, SignalInterval, s.config.Logger)
		s.mux.Handle("/api/signal", s.hub)
	}

	// Register the preview stream if a frame source is configured
	if s.config.Frames != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Frames, s.config.Overlay, s.config.Mirror))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address. It returns
// nil after Shutdown, even when Shutdown ran first.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer.Addr = addr

	s.log.Info().Str("addr", addr).Msg("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve accepts connections on l. Like ListenAndServe it returns nil after
// Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info().Str("addr", l.Addr().String()).Msg("listening")
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends open streams and the signal feed, then gracefully shuts the
// listener down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()
	return s.httpServer.Shutdown(ctx)
}

// Close cancels in-flight requests and stops background broadcasting.
func (s *Server) Close() {
	s.cancelBase()
	if s.hub != nil {
		s.hub.Close()
	}
}
