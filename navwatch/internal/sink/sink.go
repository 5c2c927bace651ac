// Package sink defines output backends for navwatch lifecycle events.
package sink

import (
	"context"

	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

// Sink is the output interface. Implementations deliver events to
// different backends (stdout, webhook, SQLite journal, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev navigation.Event) error
	Close() error
}
