package observer

// Source names a signal origin. Signals carry no payload beyond "check now".
type Source string

const (
	SourceMutation Source = "mutation" // whole-document MutationObserver
	SourceTitle    Source = "title"    // <title> MutationObserver
	SourcePoll     Source = "poll"     // fixed-interval fallback
	SourceHistory  Source = "history"  // wrapped pushState / replaceState
	SourcePopState Source = "popstate" // browser back/forward
	SourceCDP      Source = "cdp"      // Page.navigatedWithinDocument
)

// delayed reports whether signals from s wait for the history delay before
// triggering an evaluation, to let the application render first.
func (s Source) delayed() bool {
	switch s {
	case SourceHistory, SourcePopState, SourceCDP:
		return true
	}
	return false
}

// Signaller is what a signal source sees of the observer. Sources only
// raise signals; they never read or write navigation state.
type Signaller interface {
	// Signal requests a re-evaluation. History-style sources are delayed.
	Signal(src Source)
	// Reloaded reports that the document was replaced by a hard navigation.
	// The new document may not be parsed yet.
	Reloaded()
	// DocumentReady reports that the current document has been parsed
	// (DOMContentLoaded). It completes a pending reload.
	DocumentReady()
}
