package navwatch

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/spawatch/navwatch/internal/httpapi"
)

// NewHandler exposes /healthz, /stats and, when journal is not nil, /events.
func NewHandler(w *Watcher, journal *Journal, logger *slog.Logger) http.Handler {
	var store httpapi.EventStore
	if journal != nil {
		store = journal
	}
	return httpapi.NewRouter(w.Stats, store, logger)
}

// ServeHTTP runs the status server on addr until ctx is cancelled.
func ServeHTTP(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	return httpapi.Serve(ctx, addr, h, logger)
}
