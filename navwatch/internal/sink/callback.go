// CLAUDE:SUMMARY In-process callback sink delivering lifecycle events via a Go function call.
package sink

import (
	"context"

	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

// EventFunc is called for each lifecycle event.
type EventFunc func(ctx context.Context, ev navigation.Event) error

// Callback delivers events via a Go function call, for consumers that live
// in the same binary.
type Callback struct {
	onEvent EventFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn EventFunc) *Callback {
	return &Callback{onEvent: fn}
}

func (c *Callback) Send(ctx context.Context, ev navigation.Event) error {
	if c.onEvent != nil {
		return c.onEvent(ctx, ev)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
