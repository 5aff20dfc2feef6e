// Package checkpoint persists per-query retrieval progress in flat CSV
// matrix files. A matrix file is both the input (the filter columns) and
// the checkpoint (the bookkeeping columns).
package checkpoint

import (
	"regexp"
	"strconv"
	"time"

	"github.com/Sternrassler/flightstatus-harvester/pkg/query"
)

// State is the retrieval progress of one query spec.
type State struct {
	Spec query.Spec

	// Response is the status of the last attempt, e.g. "200 OK".
	Response string
	// Message holds the error body of a failed attempt; cleared on success.
	Message string
	// Timestamp is the time of the last attempt.
	Timestamp time.Time

	PagesRetrieved int
	// TotalPages is 0 while unknown.
	TotalPages   int
	TotalFlights int
	// Completion is the retrieved share in percent, floor-rounded.
	Completion int
}

// NewState returns a pending state for spec.
func NewState(spec query.Spec) State {
	return State{Spec: spec}
}

// Signature is the dedup key of the state.
func (s State) Signature() string {
	return s.Spec.Signature()
}

// IsComplete reports whether every page has been retrieved.
func (s State) IsComplete() bool {
	return s.Completion >= 100
}

var statusPattern = regexp.MustCompile(`\d{3}`)

// StatusCode extracts the HTTP status of the last attempt from Response.
// Legacy values such as "<Response [404]>" are understood. Returns 0 if none.
func (s State) StatusCode() int {
	m := statusPattern.FindString(s.Response)
	if m == "" {
		return 0
	}
	code, _ := strconv.Atoi(m)
	return code
}

// CompletionPercent computes floor(100*retrieved/total), clamped to [0,100].
func CompletionPercent(retrieved, total int) int {
	if total <= 0 {
		return 0
	}
	pct := 100 * retrieved / total
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// merge applies last-write-wins with monotonic progress counters.
func merge(prev, next State) State {
	if prev.PagesRetrieved > next.PagesRetrieved {
		next.PagesRetrieved = prev.PagesRetrieved
	}
	if prev.Completion > next.Completion {
		next.Completion = prev.Completion
	}
	if next.TotalPages == 0 {
		next.TotalPages = prev.TotalPages
	}
	if next.TotalFlights == 0 {
		next.TotalFlights = prev.TotalFlights
	}
	if next.Timestamp.IsZero() {
		next.Timestamp = prev.Timestamp
	}
	return next
}
