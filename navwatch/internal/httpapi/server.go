// Package httpapi serves the read-only status endpoints of a running
// navwatch daemon: liveness, per-page detection counters, and the recent
// events kept in the journal.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/spawatch/navwatch/internal/observer"
	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// StatsFunc reports the counters of every observed page.
type StatsFunc func() []observer.Stats

// EventStore is the journal read side.
type EventStore interface {
	Recent(ctx context.Context, pageID string, limit int) ([]navigation.Event, error)
}

// NewRouter builds the chi router. events may be nil when no journal is
// configured; /events then answers 404.
func NewRouter(stats StatsFunc, events EventStore, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(headToGet, securityHeaders, traceID(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"pages": stats()})
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		if events == nil {
			writeError(w, http.StatusNotFound, errors.New("journal not configured"))
			return
		}
		limit, err := queryLimit(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		evs, err := events.Recent(r.Context(), r.URL.Query().Get("page_id"), limit)
		if err != nil {
			requestLogger(r.Context()).Error("httpapi: read journal", "error", err)
			writeError(w, http.StatusInternalServerError, errors.New("journal read failed"))
			return
		}
		if evs == nil {
			evs = []navigation.Event{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": evs})
	})

	return r
}

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit %q: want a positive integer", v)
	}
	return min(n, maxLimit), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// Serve runs an http.Server on addr until ctx is cancelled, then shuts it
// down with a 5s grace period.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("httpapi: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("httpapi: listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	return nil
}
