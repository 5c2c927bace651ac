// Package navigation defines the lifecycle events emitted by navwatch.
// These are the public API contract: any consumer (a webhook receiver,
// an in-process callback, the SQLite journal) imports this package to
// receive navigation decisions.
package navigation

import "time"

// Action discriminates the three event variants on the wire.
type Action string

const (
	ActionPageLoaded          Action = "pageLoaded"
	ActionNavigationStarted   Action = "navigationStarted"
	ActionNavigationCompleted Action = "navigationCompleted"
)

// Location is an observed (address, title) pair.
type Location struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Event is one lifecycle message. Build it with the New* constructors and
// pass it by value; nothing mutates an Event after construction except the
// envelope stamping done by WithEnvelope, which returns a copy.
type Event struct {
	ID          string `json:"id,omitempty"`      // UUIDv7, stamped by the emitter
	PageID      string `json:"page_id,omitempty"` // stable identifier provided by caller
	Action      Action `json:"action"`
	URL         string `json:"url"`
	PreviousURL string `json:"previousUrl"` // navigationStarted only
	Title       string `json:"title"`
	Timestamp   int64  `json:"timestamp"` // epoch milliseconds
}

// NewPageLoaded builds the startup event for a freshly loaded document.
func NewPageLoaded(loc Location, at time.Time) Event {
	return Event{
		Action:    ActionPageLoaded,
		URL:       loc.URL,
		Title:     loc.Title,
		Timestamp: at.UnixMilli(),
	}
}

// NewNavigationStarted builds the event emitted when a significant change
// is first observed. previous is the location recorded before the change.
func NewNavigationStarted(current, previous Location, at time.Time) Event {
	return Event{
		Action:      ActionNavigationStarted,
		URL:         current.URL,
		PreviousURL: previous.URL,
		Title:       current.Title,
		Timestamp:   at.UnixMilli(),
	}
}

// NewNavigationCompleted builds the event emitted once the settle delay has
// elapsed. loc is the location observed when the delay expired.
func NewNavigationCompleted(loc Location, at time.Time) Event {
	return Event{
		Action:    ActionNavigationCompleted,
		URL:       loc.URL,
		Title:     loc.Title,
		Timestamp: at.UnixMilli(),
	}
}

// WithEnvelope returns a copy of e carrying the delivery identifiers.
func (e Event) WithEnvelope(id, pageID string) Event {
	e.ID = id
	e.PageID = pageID
	return e
}

// Location returns the (url, title) carried by the event.
func (e Event) Location() Location {
	return Location{URL: e.URL, Title: e.Title}
}
