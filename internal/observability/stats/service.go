// Package stats exposes a small read-only HTTP surface: health, the live
// queue snapshot, and the archived task history.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tickq/internal/history"
	"tickq/internal/task/queue"
	"tickq/pkg/logx"
)

type Config struct {
	Listen string

	// Pprof mounts net/http/pprof under /debug. Keep the listener on
	// loopback when enabling this.
	Pprof bool
}

// Service serves queue introspection over HTTP.
type Service struct {
	cfg     Config
	log     logx.Logger
	queue   *queue.Queue
	archive *history.Archive // nil when history is disabled

	mu  sync.Mutex
	srv *http.Server
}

func New(cfg Config, q *queue.Queue, archive *history.Archive, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, queue: q, archive: archive}
}

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/queue", s.handleQueue)
	r.Get("/history", s.handleHistory)
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// Start begins serving. Idempotent; returns once the listener goroutine
// is launched.
func (s *Service) Start(ctx context.Context) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	s.srv = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func(srv *http.Server) {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("stats server stopped", logx.Err(err))
		}
	}(s.srv)
	s.log.Info("service started", logx.String("listen", s.cfg.Listen))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("stats shutdown", logx.Err(err))
	}
	s.log.Info("service stopped")
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  s.queue.State().String(),
	})
}

func (s *Service) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1..1000"})
			return
		}
		limit = n
	}
	entries, err := s.archive.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
