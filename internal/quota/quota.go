// Package quota tracks per-source outbound call counts against configured
// limits. The tracker is shared by all orchestrator workers; the critical
// section covers only the counter read-modify-write, never network I/O.
package quota

import "sync"

// Tracker is a concurrency-safe per-source call counter. A limit of zero or
// below means the source is unmetered.
type Tracker struct {
	mu     sync.Mutex
	limits map[string]int
	counts map[string]int
}

// NewTracker creates a Tracker with the given per-source call limits.
func NewTracker(limits map[string]int) *Tracker {
	l := make(map[string]int, len(limits))
	for source, limit := range limits {
		l[source] = limit
	}
	return &Tracker{
		limits: l,
		counts: make(map[string]int),
	}
}

// RecordCall atomically adds n calls to the source's counter and reports
// whether the post-increment count is still within the limit.
func (t *Tracker) RecordCall(source string, n int) bool {
	if n <= 0 {
		n = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[source] += n
	limit, ok := t.limits[source]
	if !ok || limit <= 0 {
		return true
	}
	return t.counts[source] <= limit
}

// CheckQuota atomically reports whether the source has remaining quota,
// without incrementing.
func (t *Tracker) CheckQuota(source string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	limit, ok := t.limits[source]
	if !ok || limit <= 0 {
		return true
	}
	return t.counts[source] < limit
}

// Count returns the current call count for the source.
func (t *Tracker) Count(source string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[source]
}

// Reset clears all counters. The fetch orchestrator calls this at the start
// of every fan-out so the quota window matches one ingestion run.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = make(map[string]int)
}
