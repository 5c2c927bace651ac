package observer

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

//go:embed navwatch.js
var navwatchJS []byte

const bindingName = "__navwatch_binding"

// CDPSource attaches the browser-side signal sources to a rod page: the
// injected script (mutation observers, history wrappers, popstate) reports
// through a runtime binding, and CDP page events cover same-document
// navigations and hard reloads.
type CDPSource struct {
	Page   *rod.Page
	Logger *slog.Logger
}

// Attach installs the binding and the script, then forwards events to s
// until ctx is cancelled.
func (c *CDPSource) Attach(ctx context.Context, s Signaller) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := c.Page

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p); err != nil {
		logger.Warn("observer: addBinding failed (may already exist)", "error", err)
	}

	// Subscribe before injecting so the script's init message is not lost.
	wait := p.Context(ctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != bindingName {
				return
			}
			handleBinding(logger, e.Payload, s)
		},
		func(e *proto.PageNavigatedWithinDocument) {
			if e.FrameID == p.FrameID {
				s.Signal(SourceCDP)
			}
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame != nil && e.Frame.ParentID == "" {
				s.Reloaded()
			}
		},
		func(*proto.PageDomContentEventFired) {
			s.DocumentReady()
		},
	)
	go wait()

	// Future documents (hard reloads) get the script at creation time.
	if _, err := p.EvalOnNewDocument("(" + string(navwatchJS) + ")()"); err != nil {
		return fmt.Errorf("observer: register script: %w", err)
	}
	if _, err := p.Eval(string(navwatchJS)); err != nil {
		return fmt.Errorf("observer: inject script: %w", err)
	}

	logger.Debug("observer: script injected")
	return nil
}

type bindingMessage struct {
	Source       string `json:"source"`
	Method       string `json:"method,omitempty"`
	TitleWatcher *bool  `json:"title_watcher,omitempty"`
}

func handleBinding(logger *slog.Logger, payload string, s Signaller) {
	var msg bindingMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		logger.Warn("observer: parse binding payload", "error", err)
		return
	}

	switch Source(msg.Source) {
	case SourceMutation, SourceTitle, SourceHistory, SourcePopState:
		s.Signal(Source(msg.Source))
	case "init":
		// The script attaches at DOMContentLoaded, so init also marks the
		// document as parsed.
		s.DocumentReady()
		if msg.TitleWatcher != nil && !*msg.TitleWatcher {
			logger.Warn("observer: no <title> element at startup, title watcher skipped")
			return
		}
		logger.Debug("observer: script sources attached")
	default:
		logger.Debug("observer: unknown binding source", "source", msg.Source)
	}
}

// PageHost reads the location of a rod page through Runtime.evaluate.
type PageHost struct {
	Page *rod.Page
}

func (h *PageHost) Location(ctx context.Context) (navigation.Location, error) {
	res, err := h.Page.Context(ctx).Eval(`() => JSON.stringify({url: location.href, title: document.title})`)
	if err != nil {
		return navigation.Location{}, fmt.Errorf("observer: eval location: %w", err)
	}
	var loc navigation.Location
	if err := json.Unmarshal([]byte(res.Value.Str()), &loc); err != nil {
		return navigation.Location{}, fmt.Errorf("observer: decode location: %w", err)
	}
	return loc, nil
}
