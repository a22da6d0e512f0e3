// Package runmetrics accumulates per-run ingestion counters (fetched per
// source, stored, collisions) and emits the final snapshot to the
// observability sink.
package runmetrics

import (
	"sync"
	"time"

	"github.com/pulsewire/newsfuse/internal/store"
)

// Metrics is the read-only snapshot of one ingestion run.
type Metrics struct {
	RunID              string         `json:"run_id"`
	StartedAt          time.Time      `json:"started_at"`
	ArticlesFetched    map[string]int `json:"articles_fetched"`
	ArticlesStored     int            `json:"articles_stored"`
	CollisionsDetected int            `json:"collisions_detected"`
	MalformedDropped   int            `json:"malformed_dropped"`
	FetchErrors        map[string]int `json:"fetch_errors"`
	DurationMs         int64          `json:"duration_ms"`
	CollisionRate      float64        `json:"collision_rate"`
}

// Collector aggregates counters for a single run. All methods are safe for
// concurrent use; increments hold the lock only for the counter update.
type Collector struct {
	mu         sync.Mutex
	runID      string
	startedAt  time.Time
	fetched    map[string]int
	stored     int
	collisions int
	malformed  int
	fetchErrs  map[string]int
}

// NewCollector starts a collector for the given run.
func NewCollector(runID string) *Collector {
	return &Collector{
		runID:     runID,
		startedAt: time.Now().UTC(),
		fetched:   make(map[string]int),
		fetchErrs: make(map[string]int),
	}
}

// RecordFetch adds n fetched articles for the source.
func (c *Collector) RecordFetch(source string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched[source] += n
}

// RecordFetchError counts one failed or skipped fetch task by reason.
func (c *Collector) RecordFetchError(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErrs[reason]++
}

// RecordMergeOutcome counts one merge. Only created outcomes count toward
// stored, so stored is the number of new canonical records this run, not the
// number of merge operations; collision is counted when a new source
// corroborated an existing story.
func (c *Collector) RecordMergeOutcome(outcome store.Outcome, collision bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if outcome == store.OutcomeCreated {
		c.stored++
	}
	if collision {
		c.collisions++
	}
}

// RecordMalformed counts a raw article dropped before merging because its
// headline normalized to empty.
func (c *Collector) RecordMalformed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed++
}

// Snapshot returns the immutable metrics for the run so far. The collision
// rate is collisions over total fetched articles.
func (c *Collector) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	fetched := make(map[string]int, len(c.fetched))
	total := 0
	for src, n := range c.fetched {
		fetched[src] = n
		total += n
	}
	fetchErrs := make(map[string]int, len(c.fetchErrs))
	for reason, n := range c.fetchErrs {
		fetchErrs[reason] = n
	}

	m := Metrics{
		RunID:              c.runID,
		StartedAt:          c.startedAt,
		ArticlesFetched:    fetched,
		ArticlesStored:     c.stored,
		CollisionsDetected: c.collisions,
		MalformedDropped:   c.malformed,
		FetchErrors:        fetchErrs,
		DurationMs:         time.Since(c.startedAt).Milliseconds(),
	}
	if total > 0 {
		m.CollisionRate = float64(c.collisions) / float64(total)
	}
	return m
}
