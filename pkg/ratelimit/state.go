// Package ratelimit enforces the global minimum interval between API calls.
// The remote service limits calls per source IP, so the last-call timestamp
// is process-global and may be shared between processes through Redis.
package ratelimit

import (
	"time"
)

// RedisKeyLastCall holds the last call time as Unix nanoseconds.
const RedisKeyLastCall = "harvest:rate_limit:last_call"

// Defaults for limiter timing.
const (
	// DefaultInterval keeps callers safely under one request per second.
	DefaultInterval = 1100 * time.Millisecond

	// PollInterval is the granularity of the wait loop.
	PollInterval = 100 * time.Millisecond
)

// State is a snapshot of the limiter as seen by one caller.
type State struct {
	// LastCall is when the previous call completed. Zero means no call yet.
	LastCall time.Time `json:"last_call"`

	// Interval is the minimum spacing between calls.
	Interval time.Duration `json:"interval"`
}

// NextAllowed returns the earliest time the next call may start.
func (s State) NextAllowed() time.Time {
	if s.LastCall.IsZero() {
		return time.Time{}
	}
	return s.LastCall.Add(s.Interval)
}

// TimeUntilNext returns how long a caller must still wait at now.
// Returns 0 if a call is allowed immediately.
func (s State) TimeUntilNext(now time.Time) time.Duration {
	if s.LastCall.IsZero() {
		return 0
	}
	d := s.NextAllowed().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
