// Package statusd serves the read-only progress API while a batch runs.
// It exposes the orchestrator's progress snapshot and the buffered event
// stream so dashboards can poll without touching the run itself.
package statusd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/caseworks/caserunner/internal/events"
	"github.com/caseworks/caserunner/internal/model"
)

// ProgressSource yields a consistent point-in-time progress snapshot.
type ProgressSource interface {
	Progress() model.BatchProgress
}

type Server struct {
	http *http.Server
}

// New builds the status server on addr. events may be nil when only progress
// is wanted.
func New(addr string, source ProgressSource, buffer *events.Buffer) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/v1/progress", handleProgress(source))
	r.Get("/api/v1/events", handleEvents(buffer))

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down draining in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.http.ListenAndServe()
	}()
	slog.InfoContext(ctx, "status server listening", "addr", s.http.Addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func handleProgress(source ProgressSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, source.Progress())
	}
}

func handleEvents(buffer *events.Buffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if buffer == nil {
			http.Error(w, "event stream not enabled", http.StatusNotFound)
			return
		}
		since := int64(0)
		if raw := r.URL.Query().Get("since"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 0 {
				http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
				return
			}
			since = n
		}
		evs := buffer.Since(since)
		if evs == nil {
			evs = []events.Event{}
		}
		writeJSON(w, evs)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
