package navwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/spawatch/dbopen"
	"github.com/hazyhaar/spawatch/navwatch/internal/browser"
	"github.com/hazyhaar/spawatch/navwatch/internal/config"
	"github.com/hazyhaar/spawatch/navwatch/internal/observer"
	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDiffPages(t *testing.T) {
	current := map[string]pageState{
		"cfg":  {url: "https://app.test/", static: true},
		"keep": {url: "https://a.test/"},
		"move": {url: "https://b.test/old"},
		"gone": {url: "https://c.test/"},
	}
	want := []PageConfig{
		{ID: "keep", URL: "https://a.test/"},
		{ID: "move", URL: "https://b.test/new"},
		{ID: "new", URL: "https://d.test/"},
		{ID: "cfg", URL: "https://elsewhere.test/"}, // static wins
		{ID: "", URL: "https://noid.test/"},         // ignored
	}

	add, remove := diffPages(current, want)

	wantAdd := []PageConfig{
		{ID: "move", URL: "https://b.test/new"},
		{ID: "new", URL: "https://d.test/"},
	}
	if !reflect.DeepEqual(add, wantAdd) {
		t.Errorf("add = %+v, want %+v", add, wantAdd)
	}
	if wantRemove := []string{"gone", "move"}; !reflect.DeepEqual(remove, wantRemove) {
		t.Errorf("remove = %v, want %v", remove, wantRemove)
	}
}

func TestDiffPages_StaticNeverRemoved(t *testing.T) {
	current := map[string]pageState{"cfg": {url: "https://app.test/", static: true}}
	add, remove := diffPages(current, nil)
	if len(add) != 0 || len(remove) != 0 {
		t.Errorf("add = %v, remove = %v, want nothing", add, remove)
	}
}

func TestBuildSinks(t *testing.T) {
	var buf bytes.Buffer
	sinks, err := BuildSinks(nil, &buf, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sinks) != 1 {
		t.Fatalf("got %d sinks, want stdout fallback", len(sinks))
	}
	ev := navigation.NewPageLoaded(navigation.Location{URL: "https://app.test/", Title: "App"}, fixedTime)
	if err := sinks[0].Send(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"action":"pageLoaded"`) {
		t.Errorf("stdout = %q", buf.String())
	}

	if _, err := BuildSinks([]SinkConfig{{Type: "journal"}}, &buf, nil, nil); err == nil {
		t.Error("journal sink without journal: want error")
	}
	if _, err := BuildSinks([]SinkConfig{{Type: "carrier-pigeon"}}, &buf, nil, nil); err == nil {
		t.Error("unknown sink type: want error")
	}
}

func TestBuildSinks_JournalRoundTrip(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(JournalSchema))
	j := NewJournal(db)

	sinks, err := BuildSinks([]SinkConfig{{Type: "journal", QueueSize: 4}}, nil, j, nil)
	if err != nil {
		t.Fatal(err)
	}
	ev := navigation.NewPageLoaded(navigation.Location{URL: "https://app.test/"}, fixedTime).
		WithEnvelope("ev-1", "pg_a")
	if err := sinks[0].Send(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	// Close drains the queue into the journal.
	if err := sinks[0].Close(); err != nil {
		t.Fatal(err)
	}

	got, err := j.Recent(context.Background(), "pg_a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "ev-1" {
		t.Errorf("journal = %+v", got)
	}
}

func TestNewHandler_NilJournal(t *testing.T) {
	w := &Watcher{pages: map[string]*pageRun{}}
	h := NewHandler(w, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/events status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var body struct {
		Pages []PageStats `json:"pages"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Pages) != 0 {
		t.Errorf("pages = %+v, want none", body.Pages)
	}
}

func TestUnobservePage_Unknown(t *testing.T) {
	w := &Watcher{pages: map[string]*pageRun{}}
	if err := w.UnobservePage("pg_missing"); err != ErrUnknownPage {
		t.Errorf("err = %v, want ErrUnknownPage", err)
	}
}

func TestObservePage_OpenDoesNotHoldLock(t *testing.T) {
	opening := make(chan struct{})
	release := make(chan struct{})
	w := &Watcher{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		pages:  map[string]*pageRun{},
		attach: func(context.Context, config.PageConfig) (*browser.Tab, *observer.Observer, error) {
			close(opening)
			<-release
			return nil, nil, nil
		},
	}
	page := config.PageConfig{ID: "pg_slow", URL: "https://example.com/"}

	errc := make(chan error, 1)
	go func() { errc <- w.ObservePage(context.Background(), page) }()
	<-opening

	done := make(chan struct{})
	go func() {
		w.Stats()
		w.Pages()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stats blocked while a tab was opening")
	}

	// Same ID while its tab is opening: no second open.
	if err := w.ObservePage(context.Background(), page); err != nil {
		t.Fatalf("second ObservePage: %v", err)
	}

	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("ObservePage: %v", err)
	}
	if got := w.Pages(); len(got) != 1 || got[0].ID != "pg_slow" {
		t.Errorf("pages = %+v, want pg_slow", got)
	}
}

func TestObservePage_StoppedWhileOpening(t *testing.T) {
	w := &Watcher{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		pages:  map[string]*pageRun{},
	}
	w.attach = func(context.Context, config.PageConfig) (*browser.Tab, *observer.Observer, error) {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		return nil, nil, nil
	}

	err := w.ObservePage(context.Background(), config.PageConfig{ID: "pg_late", URL: "https://example.com/"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if got := w.Pages(); len(got) != 0 {
		t.Errorf("pages = %+v, want none", got)
	}
}

func TestRunRetention(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(JournalSchema))
	j := NewJournal(db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stale := navigation.NewPageLoaded(navigation.Location{URL: "https://app.test/"}, time.Now().Add(-48*time.Hour)).
		WithEnvelope("old", "pg_a")
	if err := j.Send(ctx, stale); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		RunRetention(ctx, j, 24*time.Hour, time.Hour, nil)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := j.Recent(context.Background(), "", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stale event not pruned")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}
