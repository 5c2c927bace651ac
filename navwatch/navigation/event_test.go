package navigation

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewNavigationStarted(t *testing.T) {
	at := time.UnixMilli(1708700000000)
	e := NewNavigationStarted(
		Location{URL: "https://x/y", Title: "Sheet2"},
		Location{URL: "https://x/y", Title: "Sheet1"},
		at,
	)

	if e.Action != ActionNavigationStarted {
		t.Errorf("Action: got %q, want %q", e.Action, ActionNavigationStarted)
	}
	if e.PreviousURL != "https://x/y" {
		t.Errorf("PreviousURL: got %q", e.PreviousURL)
	}
	if e.Title != "Sheet2" {
		t.Errorf("Title: got %q, want %q", e.Title, "Sheet2")
	}
	if e.Timestamp != 1708700000000 {
		t.Errorf("Timestamp: got %d", e.Timestamp)
	}
}

func TestWireShape(t *testing.T) {
	e := NewNavigationStarted(
		Location{URL: "https://sheets.example/doc2", Title: "Doc2"},
		Location{URL: "https://sheets.example/doc1", Title: "Doc1"},
		time.UnixMilli(42),
	)

	data, err := MarshalEvent(e)
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["action"] != "navigationStarted" {
		t.Errorf("action: got %v", m["action"])
	}
	if m["previousUrl"] != "https://sheets.example/doc1" {
		t.Errorf("previousUrl: got %v", m["previousUrl"])
	}
	if m["timestamp"] != float64(42) {
		t.Errorf("timestamp: got %v", m["timestamp"])
	}
	if _, ok := m["id"]; ok {
		t.Error("id should be omitted before the envelope is stamped")
	}
}

func TestCompletedOmitsPreviousURL(t *testing.T) {
	e := NewNavigationCompleted(Location{URL: "https://x/z", Title: "Z"}, time.Now())
	data, err := MarshalEvent(e)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "previousUrl") {
		t.Errorf("completed event carries previousUrl: %s", data)
	}
}

func TestWithEnvelopeCopies(t *testing.T) {
	orig := NewPageLoaded(Location{URL: "https://sheets.example/doc1", Title: "Doc1"}, time.Now())
	stamped := orig.WithEnvelope("evt-1", "page-1")

	if orig.ID != "" || orig.PageID != "" {
		t.Fatalf("original mutated: %+v", orig)
	}
	if stamped.ID != "evt-1" || stamped.PageID != "page-1" {
		t.Fatalf("stamped: got %+v", stamped)
	}
	if stamped.Location() != orig.Location() {
		t.Fatalf("location changed: %+v vs %+v", stamped.Location(), orig.Location())
	}
}

func TestUnmarshalEvent_UnknownAction(t *testing.T) {
	_, err := UnmarshalEvent([]byte(`{"action":"navigationAborted","url":"https://x"}`))
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestStartedKeepsEmptyPreviousURL(t *testing.T) {
	e := NewNavigationStarted(
		Location{URL: "https://x/first", Title: "First"},
		Location{URL: "", Title: ""},
		time.UnixMilli(7),
	)
	data, err := MarshalEvent(e)
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	prev, ok := m["previousUrl"]
	if !ok {
		t.Fatalf("previousUrl missing from %s", data)
	}
	if prev != "" {
		t.Errorf("previousUrl: got %v, want empty string", prev)
	}

	back, err := UnmarshalEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	if back != e {
		t.Errorf("round trip: got %+v, want %+v", back, e)
	}
}

func TestTimestampAlwaysPresent(t *testing.T) {
	for _, e := range []Event{
		NewPageLoaded(Location{URL: "https://x/a"}, time.UnixMilli(0)),
		NewNavigationCompleted(Location{URL: "https://x/b"}, time.UnixMilli(0)),
	} {
		data, err := MarshalEvent(e)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"timestamp":0`) {
			t.Errorf("%s: timestamp missing: %s", e.Action, data)
		}
		if strings.Contains(string(data), "previousUrl") {
			t.Errorf("%s: unexpected previousUrl: %s", e.Action, data)
		}
	}
}
