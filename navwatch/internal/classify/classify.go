// Package classify decides whether a change of (url, title) is a real
// navigation or query/fragment churn.
package classify

import (
	"strings"

	"github.com/hazyhaar/spawatch/navwatch/navigation"
)

// Verdict is the outcome of comparing two locations.
type Verdict int

const (
	NoOp          Verdict = iota // raw url and title unchanged
	Insignificant                // only query or fragment moved
	Significant                  // path or title changed
)

func (v Verdict) String() string {
	switch v {
	case NoOp:
		return "noop"
	case Insignificant:
		return "insignificant"
	case Significant:
		return "significant"
	}
	return "unknown"
}

// Normalize drops everything from the first '?' or '#' onward, whichever
// comes first.
func Normalize(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i]
	}
	return url
}

// Classify compares the last observed location with the current one.
func Classify(observed, current navigation.Location) Verdict {
	if current == observed {
		return NoOp
	}
	urlChanged := Normalize(current.URL) != Normalize(observed.URL)
	titleChanged := current.Title != observed.Title
	if urlChanged || titleChanged {
		return Significant
	}
	return Insignificant
}
