// Package web serves the JSON API, the work update websocket and the
// metrics endpoint of the daemon.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/roasbeef/draftsync/internal/draft"
	"github.com/roasbeef/draftsync/internal/session"
	"github.com/roasbeef/draftsync/internal/store"
	"github.com/roasbeef/draftsync/internal/work"
)

// Config holds the collaborators of the server.
type Config struct {
	Addr string

	Messages store.MessageStore
	Accounts store.AccountStore
	Sessions *session.Manager
	Work     *work.Manager
	Drafts   *draft.Enqueuer

	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer

	// Version is reported by /healthz.
	Version string
}

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "localhost:8085"

// Server is the HTTP server of the daemon.
type Server struct {
	cfg Config
	mux *http.ServeMux
	srv *http.Server
}

// NewServer creates a server and registers its routes.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
	}

	s.registerAPIV1Routes()
	s.mux.HandleFunc("GET /ws/work/{id}", s.handleWorkStream)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(
		cfg.Gatherer, promhttp.HandlerOpts{},
	))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.InfoS(context.Background(), "Starting web server",
		"addr", s.cfg.Addr)

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.cfg.Work.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unhealthy",
			err.Error())
		return
	}

	byState := make(map[string]int, len(counts))
	for state, n := range counts {
		byState[string(state)] = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
		"work":    byState,
	})
}
