package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

// ErrQueueFull is returned by Async.Send when the delivery queue is full.
// The event is dropped.
var ErrQueueFull = errors.New("sink: async queue full")

// ErrClosed is returned by Async.Send after Close.
var ErrClosed = errors.New("sink: async sink closed")

// Async decouples a slow sink from the caller. Send never blocks: events
// are queued in order and delivered by one goroutine, so per-page ordering
// (started before completed) is kept. A full queue drops the event.
type Async struct {
	next   Sink
	queue  chan navigation.Event
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewAsync wraps next with a queue of the given size (default 256).
func NewAsync(next Sink, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:   next,
		queue:  make(chan navigation.Event, size),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Send(_ context.Context, ev navigation.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		a.logger.Warn("sink: async queue full, dropping event",
			"action", ev.Action, "page_id", ev.PageID)
		return ErrQueueFull
	}
}

// Close stops accepting events, drains the queue, and closes the wrapped sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		if err := a.next.Send(context.Background(), ev); err != nil {
			a.logger.Error("sink: async delivery failed",
				"action", ev.Action, "page_id", ev.PageID, "error", err)
		}
	}
}
