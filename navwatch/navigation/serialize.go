package navigation

import (
	"encoding/json"
	"fmt"
)

// wireEvent is the JSON shape of an Event. previousUrl is present on
// navigationStarted, even when empty, and absent on the other actions.
type wireEvent struct {
	ID          string  `json:"id,omitempty"`
	PageID      string  `json:"page_id,omitempty"`
	Action      Action  `json:"action"`
	URL         string  `json:"url"`
	PreviousURL *string `json:"previousUrl,omitempty"`
	Title       string  `json:"title"`
	Timestamp   int64   `json:"timestamp"`
}

// MarshalJSON writes the per-action wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		ID:        e.ID,
		PageID:    e.PageID,
		Action:    e.Action,
		URL:       e.URL,
		Title:     e.Title,
		Timestamp: e.Timestamp,
	}
	if e.Action == ActionNavigationStarted {
		prev := e.PreviousURL
		w.PreviousURL = &prev
	}
	return json.Marshal(w)
}

// MarshalEvent serialises an Event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserialises an Event from JSON and rejects unknown actions.
func UnmarshalEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	if !e.Action.Valid() {
		return Event{}, fmt.Errorf("navigation: unknown action %q", e.Action)
	}
	return e, nil
}

// Valid reports whether a is one of the three lifecycle actions.
func (a Action) Valid() bool {
	switch a {
	case ActionPageLoaded, ActionNavigationStarted, ActionNavigationCompleted:
		return true
	}
	return false
}
