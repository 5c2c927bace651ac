package watch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/spawatch/dbopen"
)

func setUserVersion(t *testing.T, db *sql.DB, v int) {
	t.Helper()
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		t.Fatal(err)
	}
}

func eventually(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPragmaUserVersion(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx := context.Background()

	v, err := PragmaUserVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("got %d, want 0", v)
	}
	setUserVersion(t, db, 42)
	if v, _ = PragmaUserVersion(ctx, db); v != 42 {
		t.Fatalf("got %d, want 42", v)
	}
}

func TestPragmaDataVersion_SeesOtherConnectionWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	schema := dbopen.WithSchema(`CREATE TABLE IF NOT EXISTS watch_pages (id TEXT PRIMARY KEY, url TEXT)`)

	reader, err := dbopen.Open(path, schema)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	reader.SetMaxOpenConns(1)

	writer, err := dbopen.Open(path, schema)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()

	ctx := context.Background()
	before, err := PragmaDataVersion(ctx, reader)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Exec(`INSERT INTO watch_pages (id, url) VALUES ('pg_a', 'https://app.test/')`); err != nil {
		t.Fatal(err)
	}
	after, err := PragmaDataVersion(ctx, reader)
	if err != nil {
		t.Fatal(err)
	}
	if after == before {
		t.Fatalf("data_version unchanged after foreign write: %d", after)
	}
}

func TestOnChange_FiresOnVersionChange(t *testing.T) {
	db := dbopen.OpenMemory(t)
	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: PragmaUserVersion})

	var fired atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error { fired.Add(1); return nil })

	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("fired %d times without a change", got)
	}

	setUserVersion(t, db, 1)
	eventually(t, 2*time.Second, func() bool { return fired.Load() == 1 })
	if got := w.Version(); got != 1 {
		t.Fatalf("Version() = %d, want 1", got)
	}
}

func TestOnChange_Debounce(t *testing.T) {
	db := dbopen.OpenMemory(t)
	w := New(db, Options{
		Interval: 10 * time.Millisecond,
		Debounce: 150 * time.Millisecond,
		Detector: PragmaUserVersion,
	})

	var fired atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error { fired.Add(1); return nil })

	time.Sleep(30 * time.Millisecond)
	for i := 1; i <= 3; i++ {
		setUserVersion(t, db, i)
		time.Sleep(30 * time.Millisecond)
	}
	if got := fired.Load(); got != 0 {
		t.Fatalf("fired during burst: %d", got)
	}

	eventually(t, 2*time.Second, func() bool { return fired.Load() == 1 })
	if got := w.Version(); got != 3 {
		t.Fatalf("Version() = %d, want 3", got)
	}
}

func TestOnChange_ErrorDoesNotAdvanceVersion(t *testing.T) {
	db := dbopen.OpenMemory(t)
	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: PragmaUserVersion})

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		if calls.Add(1) == 1 {
			return errors.New("registry unreadable")
		}
		return nil
	})

	time.Sleep(40 * time.Millisecond)
	setUserVersion(t, db, 7)

	// The failed reload is retried on a later poll.
	eventually(t, 2*time.Second, func() bool { return calls.Load() >= 2 })
	eventually(t, time.Second, func() bool { return w.Version() == 7 })

	st := w.Stats()
	if st.Errors < 1 {
		t.Errorf("Errors = %d, want >= 1", st.Errors)
	}
	if st.Reloads != 1 {
		t.Errorf("Reloads = %d, want 1", st.Reloads)
	}
}

func TestOnChange_StopsOnCancel(t *testing.T) {
	db := dbopen.OpenMemory(t)
	w := New(db, Options{Interval: 10 * time.Millisecond, Detector: PragmaUserVersion})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.OnChange(ctx, func() error { return nil })
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnChange did not return after cancel")
	}
}

func TestStats(t *testing.T) {
	db := dbopen.OpenMemory(t)
	w := New(db, Options{Interval: 10 * time.Millisecond, Detector: PragmaUserVersion})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error { return nil })

	eventually(t, time.Second, func() bool { return w.Stats().Checks >= 3 })
	setUserVersion(t, db, 5)
	eventually(t, time.Second, func() bool {
		st := w.Stats()
		return st.ChangesDetected == 1 && st.Reloads == 1
	})
}
