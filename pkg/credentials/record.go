// Package credentials manages the pool of API keys and their daily call
// budgets. Counters are persisted after every mutation so a crash loses at
// most the accounting of the call in flight.
package credentials

import "time"

// Record is one API key with its daily usage.
type Record struct {
	KeyDesc    string
	Secret     string
	CallsToday int
	LastReset  time.Time
}

// Remaining returns the calls left today under quota.
func (r Record) Remaining(quota int) int {
	left := quota - r.CallsToday
	if left < 0 {
		return 0
	}
	return left
}

// sameDay compares local calendar dates.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}
