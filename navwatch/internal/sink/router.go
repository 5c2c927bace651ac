package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

// Router fans out events to all configured sinks in order. A failing sink
// is logged and skipped; the joined errors are returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Send(ctx context.Context, ev navigation.Event) error {
	var errs []error
	for i, s := range r.sinks {
		if err := s.Send(ctx, ev); err != nil {
			r.logger.Warn("sink: delivery failed",
				"sink", i, "action", ev.Action, "page_id", ev.PageID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink, draining the async ones.
func (r *Router) Close() error {
	errs := make([]error, 0, len(r.sinks))
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
