// Package source defines the news-source adapter abstraction: the RawArticle
// wire-independent model, the Adapter interface each third-party integration
// implements, and the tagged FetchError the orchestrator collects.
package source

import (
	"context"
	"fmt"
)

// RawArticle is the ephemeral output of one adapter call. It is merged into
// the canonical store and never persisted directly.
type RawArticle struct {
	SourceName      string   `json:"source_name"`
	SourceArticleID string   `json:"source_article_id"`
	Headline        string   `json:"headline"`
	PublishedAt     string   `json:"published_at"`
	URL             string   `json:"url"`
	Symbols         []string `json:"symbols"`
	Snippet         string   `json:"snippet"`
}

// Adapter fetches raw articles for a set of symbols from one news source.
// Implementations translate the source's wire format into RawArticle and
// propagate transport/parse failures unmodified, so the circuit breaker and
// metrics can observe them. Adding a source means implementing this
// interface; the orchestrator needs no changes.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, symbols []string) ([]RawArticle, error)
}

// Reason classifies why a fetch task produced no articles.
type Reason string

const (
	ReasonCircuitOpen    Reason = "circuit_open"
	ReasonQuotaExhausted Reason = "quota_exhausted"
	ReasonTimeout        Reason = "timeout"
	ReasonSourceError    Reason = "source_error"
)

// FetchError records one failed or skipped fetch task.
type FetchError struct {
	Source string `json:"source"`
	Symbol string `json:"symbol"`
	Reason Reason `json:"reason"`
	Err    error  `json:"-"`
}

func (e FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s/%s: %s: %v", e.Source, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch %s/%s: %s", e.Source, e.Symbol, e.Reason)
}

func (e FetchError) Unwrap() error {
	return e.Err
}
