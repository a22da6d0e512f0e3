// Package store persists canonical deduplicated articles in PostgreSQL and
// implements the cross-source merge. The store, not the application, decides
// the winner when two workers race to create the first record for a new dedup
// key.
package store

import "time"

// Status is the analysis lifecycle of a canonical article.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnalyzed Status = "analyzed"
	StatusError    Status = "error"
)

// Attribution records how one source reported a canonical article.
type Attribution struct {
	SourceArticleID  string    `json:"source_article_id"`
	URL              string    `json:"url"`
	CrawlTimestamp   time.Time `json:"crawl_timestamp"`
	OriginalHeadline string    `json:"original_headline"`
}

// Article is the canonical deduplicated record for one real-world story. The
// dedup key is its sole identity; Sources is append-only and ordered by first
// observation.
type Article struct {
	DedupKey           string
	Headline           string
	NormalizedHeadline string
	Sources            []string
	Attribution        map[string]Attribution
	MatchedSymbols     []string
	Status             Status
	Sentiment          string
	Score              *float64
	Snippet            string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ExpiresAt          time.Time
}

// Outcome describes what a merge did to the canonical store.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
)

// MergeResult is returned by UpsertFromRaw. Collision is true exactly when an
// existing record gained a source it had not seen before; re-merging the same
// source is not a collision.
type MergeResult struct {
	DedupKey  string
	Outcome   Outcome
	Collision bool
}
