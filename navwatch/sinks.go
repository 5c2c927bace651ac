package navwatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/spawatch/navwatch/internal/sink"
	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

// Sink is the output interface for navigation events.
type Sink = sink.Sink

// Journal is the SQLite event journal.
type Journal = sink.Journal

// JournalSchema creates the nav_events table.
const JournalSchema = sink.JournalSchema

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry. Delivery happens on
// a queue of queueSize events so the observers never wait on the network.
func NewWebhookSink(url string, retries, queueSize int, logger *slog.Logger) Sink {
	wh := sink.NewWebhook(url, sink.WithWebhookRetries(retries), sink.WithWebhookLogger(logger))
	return sink.NewAsync(wh, queueSize, logger)
}

// NewCallbackSink delivers events in-process to fn.
func NewCallbackSink(fn func(ctx context.Context, ev navigation.Event) error) Sink {
	return sink.NewCallback(fn)
}

// NewJournalSink wraps an open database (with JournalSchema applied) in a
// journal sink.
func NewJournalSink(j *Journal, queueSize int, logger *slog.Logger) Sink {
	return sink.NewAsync(j, queueSize, logger)
}

// NewJournal creates a Journal on db.
var NewJournal = sink.NewJournal

// BuildSinks turns sink configs into sinks. journal may be nil when no
// journal sink is configured. Output with no sink configured goes to stdout.
func BuildSinks(cfgs []SinkConfig, stdout io.Writer, journal *Journal, logger *slog.Logger) ([]Sink, error) {
	var sinks []Sink
	for i, sc := range cfgs {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, NewStdoutSink(stdout))
		case "webhook":
			retries := 3
			if sc.Retries != nil {
				retries = *sc.Retries
			}
			sinks = append(sinks, NewWebhookSink(sc.URL, retries, sc.QueueSize, logger))
		case "journal":
			if journal == nil {
				return nil, fmt.Errorf("navwatch: sinks[%d]: journal sink without an open journal", i)
			}
			sinks = append(sinks, NewJournalSink(journal, sc.QueueSize, logger))
		default:
			return nil, fmt.Errorf("navwatch: sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewStdoutSink(stdout))
	}
	return sinks, nil
}
