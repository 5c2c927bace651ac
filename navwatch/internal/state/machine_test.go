package state

import (
	"testing"
	"time"

	"github.com/hazyhaar/spawatch/navwatch/internal/classify"
	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time         { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMachine(url, title string) (*Machine, *fakeClock) {
	clk := &fakeClock{t: time.UnixMilli(1708700000000)}
	return New(navigation.Location{URL: url, Title: title}, clk.now), clk
}

func TestEvaluate_NoOpIdempotent(t *testing.T) {
	m, _ := newTestMachine("https://x/y", "T")
	cur := navigation.Location{URL: "https://x/y", Title: "T"}

	for i := 0; i < 5; i++ {
		out := m.Evaluate(cur)
		if out.Verdict != classify.NoOp || out.Started || out.Swallowed {
			t.Fatalf("iteration %d: got %+v", i, out)
		}
	}
	if m.Phase() != Idle {
		t.Fatalf("phase: got %s, want idle", m.Phase())
	}
}

func TestEvaluate_InsignificantUpdatesBaseline(t *testing.T) {
	m, _ := newTestMachine("https://x/y", "T")
	cur := navigation.Location{URL: "https://x/y?sel=A1#c1", Title: "T"}

	out := m.Evaluate(cur)
	if out.Verdict != classify.Insignificant {
		t.Fatalf("verdict: got %s", out.Verdict)
	}
	if out.Started {
		t.Fatal("insignificant change started a navigation")
	}
	if m.Observed() != cur {
		t.Fatalf("observed: got %+v, want %+v", m.Observed(), cur)
	}
	if m.Phase() != Idle {
		t.Fatalf("phase: got %s", m.Phase())
	}
}

func TestEvaluate_TitleOnlyStarts(t *testing.T) {
	m, _ := newTestMachine("https://x/y", "Sheet1")

	out := m.Evaluate(navigation.Location{URL: "https://x/y", Title: "Sheet2"})
	if !out.Started {
		t.Fatalf("expected start, got %+v", out)
	}
	if out.Event.Action != navigation.ActionNavigationStarted {
		t.Errorf("action: got %q", out.Event.Action)
	}
	if out.Event.PreviousURL != "https://x/y" {
		t.Errorf("previousUrl: got %q", out.Event.PreviousURL)
	}
	if out.Event.Title != "Sheet2" {
		t.Errorf("title: got %q", out.Event.Title)
	}
	if m.Phase() != InTransition {
		t.Errorf("phase: got %s", m.Phase())
	}
	trig, ok := m.Trigger()
	if !ok || trig.Title != "Sheet2" {
		t.Errorf("trigger: got %+v, %v", trig, ok)
	}
}

func TestSettle_SinglePair(t *testing.T) {
	m, clk := newTestMachine("https://x/a", "A")

	out := m.Evaluate(navigation.Location{URL: "https://x/b", Title: "B"})
	if !out.Started {
		t.Fatal("expected start")
	}
	clk.advance(2 * time.Second)

	done, ok := m.Settle()
	if !ok {
		t.Fatal("settle reported idle")
	}
	if done.Action != navigation.ActionNavigationCompleted {
		t.Errorf("action: got %q", done.Action)
	}
	if done.Timestamp-out.Event.Timestamp < 2000 {
		t.Errorf("completed %d ms after start, want >= 2000", done.Timestamp-out.Event.Timestamp)
	}
	if _, ok := m.Settle(); ok {
		t.Fatal("second settle emitted another completion")
	}
	if m.Phase() != Idle {
		t.Fatalf("phase: got %s", m.Phase())
	}
}

func TestEvaluate_OverlapSwallowed(t *testing.T) {
	m, clk := newTestMachine("https://x/a", "A")

	first := m.Evaluate(navigation.Location{URL: "https://x/b", Title: "B"})
	if !first.Started {
		t.Fatal("expected first change to start")
	}
	startedAt, _ := m.StartedAt()

	clk.advance(500 * time.Millisecond)
	second := m.Evaluate(navigation.Location{URL: "https://x/c", Title: "C"})
	if second.Started {
		t.Fatal("overlapping change started a second navigation")
	}
	if !second.Swallowed {
		t.Fatal("overlapping change not reported as swallowed")
	}
	if again, _ := m.StartedAt(); !again.Equal(startedAt) {
		t.Fatal("swallowed change moved the transition start")
	}

	clk.advance(1500 * time.Millisecond)
	done, ok := m.Settle()
	if !ok {
		t.Fatal("settle reported idle")
	}
	if done.URL != "https://x/c" || done.Title != "C" {
		t.Fatalf("completed location: got %s %q, want latest observed", done.URL, done.Title)
	}
}

func TestEvaluate_NoiseDuringTransitionDrifts(t *testing.T) {
	m, _ := newTestMachine("https://x/a", "A")
	m.Evaluate(navigation.Location{URL: "https://x/b", Title: "B"})
	m.Evaluate(navigation.Location{URL: "https://x/b?sel=C3", Title: "B"})

	done, ok := m.Settle()
	if !ok {
		t.Fatal("settle reported idle")
	}
	if done.URL != "https://x/b?sel=C3" {
		t.Fatalf("completed url: got %q", done.URL)
	}
}

func TestReset(t *testing.T) {
	m, _ := newTestMachine("https://x/a", "A")
	m.Evaluate(navigation.Location{URL: "https://x/b", Title: "B"})

	m.Reset(navigation.Location{URL: "https://x/reloaded", Title: "R"})
	if m.Phase() != Idle {
		t.Fatalf("phase after reset: got %s", m.Phase())
	}
	if _, ok := m.Settle(); ok {
		t.Fatal("stale settle after reset emitted a completion")
	}
	if m.Observed().URL != "https://x/reloaded" {
		t.Fatalf("observed after reset: got %+v", m.Observed())
	}
}
