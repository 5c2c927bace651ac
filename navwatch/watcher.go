// Package navwatch detects client-side navigations in single-page web
// applications. It drives Chrome through rod, attaches one observer per
// page, and emits pageLoaded, navigationStarted and navigationCompleted
// events to sinks (stdout, webhook, journal, callback).
//
// navwatch reports where the user is, not what the page contains: each
// event carries the address, title and time of the transition.
package navwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/spawatch/idgen"
	"github.com/hazyhaar/spawatch/navwatch/internal/browser"
	"github.com/hazyhaar/spawatch/navwatch/internal/config"
	"github.com/hazyhaar/spawatch/navwatch/internal/observer"
	"github.com/hazyhaar/spawatch/navwatch/internal/sink"
)

// ErrUnknownPage is returned by UnobservePage for an ID that is not observed.
var ErrUnknownPage = errors.New("navwatch: page not observed")

// ErrStopped is returned by ObservePage once the watcher has been stopped.
var ErrStopped = errors.New("navwatch: watcher stopped")

// PageStats are the per-page detection counters.
type PageStats = observer.Stats

type pageRun struct {
	cfg    config.PageConfig
	static bool // from the config file, never removed by SyncPages
	tab    *browser.Tab
	obs    *observer.Observer
}

// Watcher is the top-level orchestrator. It owns the browser, one observer
// per page, and the sink router.
type Watcher struct {
	cfg    *config.Config
	mgr    *browser.Manager
	sinkR  *sink.Router
	logger *slog.Logger

	// attach opens the tab and starts the observer for one page. It is
	// called without mu held.
	attach func(ctx context.Context, p config.PageConfig) (*browser.Tab, *observer.Observer, error)

	mu      sync.Mutex
	ctx     context.Context
	pages   map[string]*pageRun // keyed by page ID
	opening map[string]bool     // IDs whose tab is being opened
	stopped bool
}

// New creates a Watcher from configuration. Events go to every sink.
func New(cfg *config.Config, logger *slog.Logger, sinks ...sink.Sink) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Mode:             browser.ParseMode(cfg.Browser.Mode),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	w := &Watcher{
		cfg:    cfg,
		mgr:    mgr,
		sinkR:  sink.NewRouter(logger, sinks...),
		logger: logger,
		pages:  make(map[string]*pageRun),
	}
	w.attach = w.openPage
	return w
}

// Start launches the browser and begins observing every configured page.
// A page that fails to open is logged and skipped.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("navwatch: start browser: %w", err)
	}

	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	w.mgr.SetRecycleHooks(&browser.RecycleHooks{
		Before: w.detachAll,
		After:  func(*rod.Browser) { w.reattachAll() },
	})

	for _, p := range w.cfg.Pages {
		if err := w.observe(ctx, p, true); err != nil {
			w.logger.Error("navwatch: failed to observe page", "url", p.URL, "error", err)
		}
	}
	return nil
}

// ObservePage opens a tab on p.URL and starts detecting navigations in it.
// An empty ID is generated. Observing an ID twice is a no-op.
func (w *Watcher) ObservePage(ctx context.Context, p config.PageConfig) error {
	return w.observe(ctx, p, false)
}

func (w *Watcher) observe(ctx context.Context, p config.PageConfig, static bool) error {
	if p.ID == "" {
		p.ID = idgen.PageID()
	}

	w.mu.Lock()
	if _, ok := w.pages[p.ID]; ok || w.opening[p.ID] {
		w.mu.Unlock()
		return nil
	}
	if w.opening == nil {
		w.opening = make(map[string]bool)
	}
	w.opening[p.ID] = true
	w.mu.Unlock()

	tab, obs, err := w.attach(ctx, p)

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.opening, p.ID)
	if err != nil {
		return err
	}
	run := &pageRun{cfg: p, static: static, tab: tab, obs: obs}
	if w.stopped {
		run.detach()
		return ErrStopped
	}
	w.pages[p.ID] = run
	w.logger.Info("navwatch: observing page", "url", p.URL, "page_id", p.ID)
	return nil
}

// openPage opens the tab and starts the observer for p.
func (w *Watcher) openPage(ctx context.Context, p config.PageConfig) (*browser.Tab, *observer.Observer, error) {
	tab, err := browser.OpenTab(ctx, w.mgr, p.URL, p.ID, w.cfg.Browser.NavTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("navwatch: open tab: %w", err)
	}

	obs := observer.New(observer.Config{
		PageID:       p.ID,
		Host:         &observer.PageHost{Page: tab.Page},
		Sink:         w.sinkR,
		Sources:      []observer.Attacher{&observer.CDPSource{Page: tab.Page, Logger: w.logger}},
		PollInterval: w.cfg.Timing.PollInterval,
		HistoryDelay: w.cfg.Timing.HistoryDelay,
		SettleDelay:  w.cfg.Timing.SettleDelay,
		ReadTimeout:  w.cfg.Timing.ReadTimeout,
		Logger:       w.logger,
	})
	if err := obs.Start(ctx); err != nil {
		tab.Close()
		return nil, nil, fmt.Errorf("navwatch: start observer: %w", err)
	}
	return tab, obs, nil
}

func (run *pageRun) detach() {
	if run.obs != nil {
		run.obs.Stop()
		run.obs = nil
	}
	if run.tab != nil {
		run.tab.Close()
		run.tab = nil
	}
}

// UnobservePage stops the observer for id and closes its tab.
func (w *Watcher) UnobservePage(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	run, ok := w.pages[id]
	if !ok {
		return ErrUnknownPage
	}
	run.detach()
	delete(w.pages, id)
	w.logger.Info("navwatch: stopped observing page", "page_id", id)
	return nil
}

// SyncPages makes the set of registry pages match want: new pages are
// observed, pages no longer listed are dropped, pages whose URL changed
// are reopened. Pages from the config file are left alone.
func (w *Watcher) SyncPages(ctx context.Context, want []config.PageConfig) error {
	w.mu.Lock()
	current := make(map[string]pageState, len(w.pages))
	for id, run := range w.pages {
		current[id] = pageState{url: run.cfg.URL, static: run.static}
	}
	w.mu.Unlock()

	add, remove := diffPages(current, want)

	var errs []error
	for _, id := range remove {
		if err := w.UnobservePage(id); err != nil && !errors.Is(err, ErrUnknownPage) {
			errs = append(errs, err)
		}
	}
	for _, p := range add {
		if err := w.ObservePage(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("page %s: %w", p.ID, err))
		}
	}
	if len(add) > 0 || len(remove) > 0 {
		w.logger.Info("navwatch: pages synced", "added", len(add), "removed", len(remove))
	}
	return errors.Join(errs...)
}

type pageState struct {
	url    string
	static bool
}

// diffPages computes which registry pages to open and which to close.
// A static page is never removed, and a wanted ID that collides with a
// static page is ignored.
func diffPages(current map[string]pageState, want []config.PageConfig) (add []config.PageConfig, remove []string) {
	wanted := make(map[string]bool, len(want))
	for _, p := range want {
		if p.ID == "" || p.URL == "" {
			continue
		}
		wanted[p.ID] = true
		cur, ok := current[p.ID]
		switch {
		case !ok:
			add = append(add, p)
		case cur.static:
		case cur.url != p.URL:
			remove = append(remove, p.ID)
			add = append(add, p)
		}
	}
	for id, cur := range current {
		if !cur.static && !wanted[id] {
			remove = append(remove, id)
		}
	}
	sort.Strings(remove)
	return add, remove
}

// Pages lists the observed pages ordered by ID.
func (w *Watcher) Pages() []config.PageConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]config.PageConfig, 0, len(w.pages))
	for _, run := range w.pages {
		out = append(out, run.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns the counters of every running observer, ordered by page ID.
func (w *Watcher) Stats() []PageStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]PageStats, 0, len(w.pages))
	for _, run := range w.pages {
		if run.obs != nil {
			out = append(out, run.obs.Stats())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out
}

// Stop shuts down all observers, flushes the sinks, and closes the browser.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.stopped = true
	for id, run := range w.pages {
		run.detach()
		w.logger.Info("navwatch: stopped observer", "page_id", id)
	}
	w.pages = make(map[string]*pageRun)
	w.mu.Unlock()

	if err := w.sinkR.Close(); err != nil {
		w.logger.Warn("navwatch: close sinks", "error", err)
	}
	w.mgr.Close()
}

// detachAll runs before a browser recycle. Observers stop and their pending
// transitions are discarded; page configs are kept for reattachAll.
func (w *Watcher) detachAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, run := range w.pages {
		if run.obs != nil {
			run.obs.Stop()
			run.obs = nil
		}
		run.tab = nil // the tab dies with the browser
	}
}

// reattachAll reopens every page on the new browser. Each page emits a
// fresh pageLoaded. Tabs are opened without holding mu; a page removed
// meanwhile has its new tab closed.
func (w *Watcher) reattachAll() {
	w.mu.Lock()
	ctx := w.ctx
	runs := make(map[string]*pageRun, len(w.pages))
	for id, run := range w.pages {
		runs[id] = run
	}
	w.mu.Unlock()

	for id, run := range runs {
		tab, obs, err := w.attach(ctx, run.cfg)
		if err != nil {
			w.logger.Error("navwatch: reattach after recycle failed", "page_id", id, "url", run.cfg.URL, "error", err)
			continue
		}
		w.mu.Lock()
		if w.pages[id] == run && run.obs == nil {
			run.tab, run.obs = tab, obs
			tab, obs = nil, nil
		}
		w.mu.Unlock()
		if tab != nil || obs != nil {
			(&pageRun{tab: tab, obs: obs}).detach()
		}
	}
}
