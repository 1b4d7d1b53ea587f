// Package server is the optional operator status endpoint: health, a JSON
// progress snapshot, recent run history and Prometheus metrics. It carries
// no authentication; bind it to loopback or an operator network.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/corvohq/janitor/internal/coordinator"
	"github.com/corvohq/janitor/internal/store"
)

// Server is the status HTTP server.
type Server struct {
	store      *store.Store
	progress   *coordinator.Progress
	httpServer *http.Server
	router     chi.Router
}

// New creates a status server bound to bindAddr.
func New(st *store.Store, progress *coordinator.Progress, bindAddr string) *Server {
	srv := &Server{store: st, progress: progress}
	srv.router = srv.buildRouter()
	srv.httpServer = &http.Server{
		Addr:    bindAddr,
		Handler: srv.router,
	}
	return srv
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	slog.Info("status server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type statusResponse struct {
		Progress coordinator.Snapshot `json:"progress"`
		Recent   []store.RunRecord    `json:"recent_runs"`
		Stats    []store.TaskStat     `json:"task_stats"`
	}

	recent, err := s.store.RecentRuns(20)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	stats, err := s.store.TaskStats()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Progress: s.progress.Snapshot(),
		Recent:   recent,
		Stats:    stats,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	snap := s.progress.Snapshot()

	fmt.Fprintln(w, "# HELP janitor_tasks_completed_total Maintenance tasks completed without error.")
	fmt.Fprintln(w, "# TYPE janitor_tasks_completed_total counter")
	fmt.Fprintf(w, "janitor_tasks_completed_total %d\n", snap.TasksCompleted)
	fmt.Fprintln(w, "# HELP janitor_tasks_failed_total Maintenance tasks that raised an error.")
	fmt.Fprintln(w, "# TYPE janitor_tasks_failed_total counter")
	fmt.Fprintf(w, "janitor_tasks_failed_total %d\n", snap.TasksFailed)
	fmt.Fprintln(w, "# HELP janitor_tasks_skipped_total Tasks dropped on lock contention near the deadline.")
	fmt.Fprintln(w, "# TYPE janitor_tasks_skipped_total counter")
	fmt.Fprintf(w, "janitor_tasks_skipped_total %d\n", snap.TasksSkipped)
	fmt.Fprintln(w, "# HELP janitor_chunks_total Committed work chunks across all tasks.")
	fmt.Fprintln(w, "# TYPE janitor_chunks_total counter")
	fmt.Fprintf(w, "janitor_chunks_total %d\n", snap.Chunks)
	fmt.Fprintln(w, "# HELP janitor_rows_affected_total Rows deleted or processed across all tasks.")
	fmt.Fprintln(w, "# TYPE janitor_rows_affected_total counter")
	fmt.Fprintf(w, "janitor_rows_affected_total %d\n", snap.RowsAffected)
	fmt.Fprintln(w, "# HELP janitor_tasks_running Currently running tasks.")
	fmt.Fprintln(w, "# TYPE janitor_tasks_running gauge")
	fmt.Fprintf(w, "janitor_tasks_running %d\n", len(snap.Running))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request with slog at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}
