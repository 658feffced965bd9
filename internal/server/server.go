// Package server provides the HTTP server for the fingerspelling recognizer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/ayusman/fingerspell/internal/capture"
	"github.com/ayusman/fingerspell/internal/detector"
	"github.com/ayusman/fingerspell/internal/lgr"
	"github.com/ayusman/fingerspell/internal/plugin"
	"github.com/ayusman/fingerspell/internal/recognition"
	"github.com/ayusman/fingerspell/internal/server/api"
	"github.com/ayusman/fingerspell/internal/store"
)

const shutdownTimeout = 5 * time.Second

// EventSource fans out recognition events. *recognition.Pipeline implements it.
type EventSource interface {
	Subscribe(buffer int) (<-chan recognition.Event, func())
}

// FrameIngester accepts landmarks detected outside the process.
// *app.App implements it.
type FrameIngester interface {
	Ingest(ctx context.Context, hands []detector.HandLandmarks) (recognition.FrameResult, error)
}

// Config holds the server configuration. Every dependency is optional;
// routes whose dependency is missing are not registered.
type Config struct {
	StaticDir    string
	Store        *store.Store
	Recognizer   api.Recognizer
	Events       EventSource
	Ingest       FrameIngester
	Frames       *capture.Latest
	Plugins      *plugin.Manager
	HistoryLimit int
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Recognizer != nil {
		control := api.NewControlHandler(s.config.Recognizer)
		s.mux.HandleFunc("/api/status", control.Status)
		s.mux.HandleFunc("/api/control/", control.Control)
		s.mux.HandleFunc("/api/settings/threshold", control.Threshold)
	}

	if s.config.Store != nil {
		var lookup api.PluginLookup
		if s.config.Plugins != nil {
			lookup = s.config.Plugins
		}
		actions := api.NewActionHandler(s.config.Store, lookup)
		s.mux.Handle("/api/actions", actions)
		s.mux.Handle("/api/actions/", actions)
		s.mux.Handle("/api/predictions", api.NewPredictionHandler(s.config.Store, s.config.HistoryLimit))
	}

	if s.config.Plugins != nil {
		s.mux.Handle("/api/plugins", api.NewPluginHandler(s.config.Plugins))
	}

	if s.config.Events != nil {
		s.mux.Handle("/api/events", NewEventsHandler(s.config.Events))
	}

	if s.config.Ingest != nil {
		s.mux.Handle("/api/landmarks", NewLandmarksHandler(s.config.Ingest))
	}

	if s.config.Frames != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Frames))
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface. Each request continues
// the caller's traceparent, or starts a trace, and echoes it back.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := lgr.FromTraceparent(r.Context(), r.Header.Get(lgr.TraceparentHeader))
	w.Header().Set(lgr.TraceparentHeader, lgr.Traceparent(ctx))
	s.mux.ServeHTTP(w, r.WithContext(ctx))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Recognizer != nil {
		response["running"] = s.config.Recognizer.State().Running
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		lgr.Logger.WarnContext(r.Context(), "encode health", slog.Any("error", xerrors.New(err.Error())))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
// Streaming handlers see ctx through their request context and return when
// it ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		lgr.Logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lgr.Logger.Warn("http shutdown", slog.Any("error", xerrors.New(err.Error())))
		srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
