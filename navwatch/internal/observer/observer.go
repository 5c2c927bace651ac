// Package observer implements per-page navigation detection: one event loop
// per page owns the navigation state machine and the settle timer, and every
// signal source funnels into it.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/spawatch/idgen"
	"github.com/hazyhaar/spawatch/navwatch/internal/classify"
	"github.com/hazyhaar/spawatch/navwatch/internal/sink"
	"github.com/hazyhaar/spawatch/navwatch/internal/state"
	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

// Host reads the address and title currently shown by the watched document.
type Host interface {
	Location(ctx context.Context) (navigation.Location, error)
}

// Attacher is a signal source that subscribes once, at observer start.
type Attacher interface {
	Attach(ctx context.Context, s Signaller) error
}

// Config for creating an Observer.
type Config struct {
	PageID  string
	Host    Host
	Sink    sink.Sink
	Sources []Attacher

	// PollInterval is the fallback re-evaluation period. Default: 5s.
	PollInterval time.Duration
	// HistoryDelay postpones history-style signals. Default: 100ms.
	HistoryDelay time.Duration
	// SettleDelay separates navigationStarted from navigationCompleted. Default: 2s.
	SettleDelay time.Duration
	// ReadTimeout bounds one Host.Location call. Default: 5s.
	ReadTimeout time.Duration
	// ReadyTimeout bounds the wait for DocumentReady after a reload; the
	// location is read anyway once it expires. Default: 10s.
	ReadyTimeout time.Duration

	NewID  idgen.Generator
	Now    func() time.Time
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.HistoryDelay <= 0 {
		c.HistoryDelay = 100 * time.Millisecond
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.NewID == nil {
		c.NewID = idgen.Default
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats are point-in-time counters for one page.
type Stats struct {
	PageID        string `json:"page_id"`
	Signals       int64  `json:"signals"`
	Dropped       int64  `json:"dropped"`
	Evaluations   int64  `json:"evaluations"`
	Insignificant int64  `json:"insignificant"`
	Started       int64  `json:"started"`
	Swallowed     int64  `json:"swallowed"`
	Completed     int64  `json:"completed"`
	Reloads       int64  `json:"reloads"`
	Deferred      int64  `json:"deferred"`
	ReadErrors    int64  `json:"read_errors"`
	InTransition  bool   `json:"in_transition"`
}

// Observer watches one page. Its loop goroutine is the only code touching
// the state machine, so the machine needs no locking.
type Observer struct {
	cfg    Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	signalCh chan Source
	docCh    chan docEvent // reload and ready, in arrival order

	// Owned by the loop goroutine after Start.
	machine     *state.Machine
	settleTimer *time.Timer
	settleC     <-chan time.Time
	reloading   bool // between Reloaded and DocumentReady
	rebase      bool // ready, but the new location could not be read yet
	readyTimer  *time.Timer
	readyC      <-chan time.Time

	signals       atomic.Int64
	dropped       atomic.Int64
	evaluations   atomic.Int64
	insignificant atomic.Int64
	started       atomic.Int64
	swallowed     atomic.Int64
	completed     atomic.Int64
	reloads       atomic.Int64
	deferred      atomic.Int64
	readErrors    atomic.Int64
	inTransition  atomic.Bool
}

// New creates an Observer. Call Start to begin watching.
func New(cfg Config) *Observer {
	cfg.defaults()
	return &Observer{
		cfg:      cfg,
		logger:   cfg.Logger.With("page_id", cfg.PageID),
		signalCh: make(chan Source, 64),
		docCh:    make(chan docEvent, 8),
	}
}

// Start reads the initial location, emits pageLoaded, attaches every signal
// source, and runs the loop. pageLoaded is always the first event and is
// emitted before any source is attached.
func (o *Observer) Start(ctx context.Context) error {
	o.ctx, o.cancel = context.WithCancel(ctx)

	loc, err := o.readLocation()
	if err != nil {
		o.cancel()
		return fmt.Errorf("observer: initial location: %w", err)
	}
	o.machine = state.New(loc, o.cfg.Now)
	o.emit(navigation.NewPageLoaded(loc, o.cfg.Now()))
	o.logger.Info("observer: page loaded", "url", loc.URL, "title", loc.Title)

	for _, src := range o.cfg.Sources {
		if err := src.Attach(o.ctx, o); err != nil {
			o.cancel()
			return fmt.Errorf("observer: attach source: %w", err)
		}
	}

	o.wg.Add(1)
	go o.loop()
	return nil
}

// Stop cancels the loop and waits for it to exit. A pending settle timer is
// discarded.
func (o *Observer) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	o.wg.Wait()
}

// Signal implements Signaller.
func (o *Observer) Signal(src Source) {
	if src.delayed() {
		time.AfterFunc(o.cfg.HistoryDelay, func() { o.enqueue(src) })
		return
	}
	o.enqueue(src)
}

type docEvent int

const (
	docReloaded docEvent = iota
	docReady
)

// Reloaded implements Signaller.
func (o *Observer) Reloaded() { o.postDoc(docReloaded) }

// DocumentReady implements Signaller.
func (o *Observer) DocumentReady() { o.postDoc(docReady) }

func (o *Observer) postDoc(ev docEvent) {
	select {
	case o.docCh <- ev:
	default:
		o.logger.Warn("observer: document event queue full", "event", ev)
	}
}

// Stats returns the current counters.
func (o *Observer) Stats() Stats {
	return Stats{
		PageID:        o.cfg.PageID,
		Signals:       o.signals.Load(),
		Dropped:       o.dropped.Load(),
		Evaluations:   o.evaluations.Load(),
		Insignificant: o.insignificant.Load(),
		Started:       o.started.Load(),
		Swallowed:     o.swallowed.Load(),
		Completed:     o.completed.Load(),
		Reloads:       o.reloads.Load(),
		Deferred:      o.deferred.Load(),
		ReadErrors:    o.readErrors.Load(),
		InTransition:  o.inTransition.Load(),
	}
}

func (o *Observer) enqueue(src Source) {
	if o.ctx.Err() != nil {
		return
	}
	select {
	case o.signalCh <- src:
		o.signals.Add(1)
	default:
		// A queued signal already guarantees a re-evaluation.
		o.dropped.Add(1)
	}
}

// loop is the page's event loop: signals, poll ticks, settle expiry, and
// reloads are handled one at a time.
func (o *Observer) loop() {
	defer o.wg.Done()

	poll := time.NewTicker(o.cfg.PollInterval)
	defer poll.Stop()
	defer o.stopSettle()
	defer o.stopReady()

	for {
		select {
		case <-o.ctx.Done():
			return

		case src := <-o.signalCh:
			o.evaluate(src)

		case <-poll.C:
			o.signals.Add(1)
			o.evaluate(SourcePoll)

		case <-o.settleC:
			o.settle()

		case ev := <-o.docCh:
			if ev == docReloaded {
				o.reload()
			} else {
				o.documentReady()
			}

		case <-o.readyC:
			o.logger.Warn("observer: document not ready after reload, reading location anyway",
				"timeout", o.cfg.ReadyTimeout)
			o.documentReady()
		}
	}
}

func (o *Observer) evaluate(src Source) {
	if o.reloading {
		// The new document's location is read once it is ready.
		o.deferred.Add(1)
		return
	}
	if o.rebase {
		o.finishReload()
		return
	}
	loc, err := o.readLocation()
	if err != nil {
		o.readErrors.Add(1)
		o.logger.Warn("observer: read location failed", "source", src, "error", err)
		return
	}
	o.evaluations.Add(1)

	out := o.machine.Evaluate(loc)
	switch {
	case out.Started:
		o.started.Add(1)
		o.inTransition.Store(true)
		o.logger.Info("observer: navigation started",
			"source", src, "url", out.Event.URL, "previous_url", out.Event.PreviousURL,
			"title", out.Event.Title)
		o.emit(out.Event)
		o.armSettle()

	case out.Swallowed:
		o.swallowed.Add(1)
		o.logger.Debug("observer: navigation during transition folded into current one",
			"source", src, "url", loc.URL, "title", loc.Title)

	case out.Verdict == classify.Insignificant:
		o.insignificant.Add(1)
		o.logger.Debug("observer: insignificant change", "source", src, "url", loc.URL)
	}
}

func (o *Observer) armSettle() {
	o.settleTimer = time.NewTimer(o.cfg.SettleDelay)
	o.settleC = o.settleTimer.C
}

func (o *Observer) stopSettle() {
	if o.settleTimer != nil {
		o.settleTimer.Stop()
	}
	o.settleTimer = nil
	o.settleC = nil
}

func (o *Observer) settle() {
	o.settleTimer = nil
	o.settleC = nil

	ev, ok := o.machine.Settle()
	if !ok {
		return
	}
	o.completed.Add(1)
	o.inTransition.Store(false)
	o.logger.Info("observer: navigation completed", "url", ev.URL, "title", ev.Title)
	o.emit(ev)
}

// reload handles a hard document replacement: the in-flight transition and
// settle timer are discarded at once, but the location is read only when
// the new document is ready, since its title is usually not parsed yet.
func (o *Observer) reload() {
	o.stopSettle()
	o.inTransition.Store(false)
	o.reloads.Add(1)
	o.machine.Reset(o.machine.Observed())

	o.reloading = true
	o.rebase = false
	o.stopReady()
	o.readyTimer = time.NewTimer(o.cfg.ReadyTimeout)
	o.readyC = o.readyTimer.C
	o.logger.Debug("observer: document replaced, waiting for it to be ready")
}

func (o *Observer) stopReady() {
	if o.readyTimer != nil {
		o.readyTimer.Stop()
	}
	o.readyTimer = nil
	o.readyC = nil
}

// documentReady completes a pending reload: the machine is rebased on the
// new document and a fresh pageLoaded is emitted. Outside a reload it does
// nothing.
func (o *Observer) documentReady() {
	if !o.reloading {
		return
	}
	o.reloading = false
	o.stopReady()
	o.rebase = true
	o.finishReload()
}

// finishReload reads the new document's location. On failure the next
// signal or poll tick retries instead of evaluating against the old page.
func (o *Observer) finishReload() {
	loc, err := o.readLocation()
	if err != nil {
		o.readErrors.Add(1)
		o.logger.Warn("observer: read location after reload failed", "error", err)
		return
	}
	o.rebase = false
	o.machine.Reset(loc)
	o.logger.Info("observer: document reloaded", "url", loc.URL, "title", loc.Title)
	o.emit(navigation.NewPageLoaded(loc, o.cfg.Now()))
}

func (o *Observer) readLocation() (navigation.Location, error) {
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.ReadTimeout)
	defer cancel()
	return o.cfg.Host.Location(ctx)
}

// emit hands the event to the sink. Delivery failures are logged, never
// retried here.
func (o *Observer) emit(ev navigation.Event) {
	ev = ev.WithEnvelope(o.cfg.NewID(), o.cfg.PageID)
	if err := o.cfg.Sink.Send(o.ctx, ev); err != nil {
		o.logger.Error("observer: send event failed", "action", ev.Action, "error", err)
	}
}
