package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pulsewire/newsfuse/internal/fetch"
	"github.com/pulsewire/newsfuse/internal/headline"
	"github.com/pulsewire/newsfuse/internal/quota"
	"github.com/pulsewire/newsfuse/internal/source"
	"github.com/pulsewire/newsfuse/internal/store"
	"github.com/pulsewire/newsfuse/pkg/kafka"
	"github.com/pulsewire/newsfuse/pkg/resilience"
)

type stubAdapter struct {
	name     string
	articles []source.RawArticle
	err      error
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Fetch(_ context.Context, symbols []string) ([]source.RawArticle, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []source.RawArticle
	for _, a := range s.articles {
		for _, sym := range symbols {
			for _, want := range a.Symbols {
				if sym == want {
					out = append(out, a)
				}
			}
		}
	}
	return out, nil
}

// fakeMerger deduplicates in memory with the real key function so collision
// accounting matches what the store would report.
type fakeMerger struct {
	mu     sync.Mutex
	seen   map[string][]string
	failOn string
}

func newFakeMerger() *fakeMerger {
	return &fakeMerger{seen: make(map[string][]string)}
}

func (m *fakeMerger) UpsertFromRaw(_ context.Context, raw source.RawArticle) (store.MergeResult, error) {
	if m.failOn != "" && raw.SourceArticleID == m.failOn {
		return store.MergeResult{}, errors.New("store unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key, err := dedupKeyFor(raw)
	if err != nil {
		return store.MergeResult{}, err
	}
	sources, ok := m.seen[key]
	if !ok {
		m.seen[key] = []string{raw.SourceName}
		return store.MergeResult{DedupKey: key, Outcome: store.OutcomeCreated}, nil
	}
	// A merge from a source not yet attached to the article is a
	// cross-source collision; a re-report from a known source is not.
	collision := true
	for _, s := range sources {
		if s == raw.SourceName {
			collision = false
		}
	}
	m.seen[key] = append(sources, raw.SourceName)
	return store.MergeResult{DedupKey: key, Outcome: store.OutcomeUpdated, Collision: collision}, nil
}

func dedupKeyFor(raw source.RawArticle) (string, error) {
	return headline.DedupKey(raw.Headline, raw.PublishedAt)
}

type fakeSymbols struct {
	symbols []string
	err     error
}

func (f *fakeSymbols) ListActive(context.Context) ([]string, error) {
	return f.symbols, f.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func newFetcher() *fetch.Orchestrator {
	return fetch.New(fetch.Config{Workers: 2}, quota.NewTracker(nil), resilience.NewBreakerGroup(resilience.BreakerConfig{}))
}

func rawArticle(src, id, headline, date string, symbols ...string) source.RawArticle {
	return source.RawArticle{
		SourceName:      src,
		SourceArticleID: id,
		Headline:        headline,
		PublishedAt:     date,
		URL:             fmt.Sprintf("https://%s.example/%s", src, id),
		Symbols:         symbols,
		Snippet:         "snippet for " + id,
	}
}

func TestRunCompletesAndPublishesDistinctArticles(t *testing.T) {
	adapters := []source.Adapter{
		&stubAdapter{name: "finwire", articles: []source.RawArticle{
			rawArticle("finwire", "f1", "Apple Beats Q3 Earnings Expectations!", "2026-08-29T10:00:00Z", "AAPL"),
			rawArticle("finwire", "f2", "Tesla recalls 50,000 vehicles", "2026-08-29T11:00:00Z", "TSLA"),
		}},
		&stubAdapter{name: "marketaux", articles: []source.RawArticle{
			// Same story as f1, different punctuation: must merge, not duplicate.
			rawArticle("marketaux", "m1", "apple beats q3 earnings expectations", "2026-08-29T15:00:00Z", "AAPL", "NASDAQ"),
		}},
	}
	merger := newFakeMerger()
	publisher := &fakePublisher{}
	coord := New(adapters, newFetcher(), merger, &fakeSymbols{symbols: []string{"AAPL", "TSLA", "NASDAQ"}}, publisher, nil, nil)

	summary, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.State != StateCompleted {
		t.Fatalf("state = %q, want %q", summary.State, StateCompleted)
	}
	if summary.RunID == "" {
		t.Error("expected a non-empty run ID")
	}
	// f1 and m1 collapse onto one canonical article, so two distinct
	// articles get published and one cross-source collision is recorded.
	if summary.ArticlesPublished != 2 {
		t.Errorf("ArticlesPublished = %d, want 2", summary.ArticlesPublished)
	}
	if len(publisher.events) != 2 {
		t.Fatalf("published %d events, want 2", len(publisher.events))
	}
	if summary.Metrics.CollisionsDetected != 1 {
		t.Errorf("CollisionsDetected = %d, want 1", summary.Metrics.CollisionsDetected)
	}
	if summary.Metrics.ArticlesStored != 2 {
		t.Errorf("ArticlesStored = %d, want 2 unique canonical records", summary.Metrics.ArticlesStored)
	}
	var appleEvent *ArticleEvent
	for _, ev := range publisher.events {
		ae := ev.Value.(*ArticleEvent)
		if ae.ArticleID != ev.Key {
			t.Errorf("event key %q does not match article ID %q", ev.Key, ae.ArticleID)
		}
		for _, s := range ae.Symbols {
			if s == "NASDAQ" {
				appleEvent = ae
			}
		}
	}
	if appleEvent == nil {
		t.Fatal("expected the merged apple article to carry the NASDAQ symbol from the second source")
	}
	if len(appleEvent.Symbols) != 2 {
		t.Errorf("merged symbols = %v, want AAPL and NASDAQ", appleEvent.Symbols)
	}
}

func TestRunDropsMalformedHeadlinesBeforeMerge(t *testing.T) {
	adapters := []source.Adapter{
		&stubAdapter{name: "finwire", articles: []source.RawArticle{
			rawArticle("finwire", "f1", "!!! ???", "2026-08-29T10:00:00Z", "AAPL"),
			rawArticle("finwire", "f2", "Valid headline here", "2026-08-29T10:00:00Z", "AAPL"),
		}},
	}
	merger := newFakeMerger()
	publisher := &fakePublisher{}
	coord := New(adapters, newFetcher(), merger, &fakeSymbols{symbols: []string{"AAPL"}}, publisher, nil, nil)

	summary, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Metrics.MalformedDropped != 1 {
		t.Errorf("MalformedDropped = %d, want 1", summary.Metrics.MalformedDropped)
	}
	if summary.Metrics.ArticlesStored != 1 {
		t.Errorf("ArticlesStored = %d, want 1", summary.Metrics.ArticlesStored)
	}
	if len(merger.seen) != 1 {
		t.Errorf("merger saw %d articles, want 1", len(merger.seen))
	}
}

func TestRunFailsWithoutAdapters(t *testing.T) {
	coord := New(nil, newFetcher(), newFakeMerger(), &fakeSymbols{symbols: []string{"AAPL"}}, &fakePublisher{}, nil, nil)

	summary, err := coord.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error for a run with no adapters")
	}
	if summary.State != StateFailed {
		t.Errorf("state = %q, want %q", summary.State, StateFailed)
	}
}

func TestRunFailsWhenSymbolLookupFails(t *testing.T) {
	adapters := []source.Adapter{&stubAdapter{name: "finwire"}}
	coord := New(adapters, newFetcher(), newFakeMerger(), &fakeSymbols{err: errors.New("redis down")}, &fakePublisher{}, nil, nil)

	summary, err := coord.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error when symbol lookup fails")
	}
	if summary.State != StateFailed {
		t.Errorf("state = %q, want %q", summary.State, StateFailed)
	}
}

func TestRunCompletesDespiteMergeAndPublishErrors(t *testing.T) {
	adapters := []source.Adapter{
		&stubAdapter{name: "finwire", articles: []source.RawArticle{
			rawArticle("finwire", "f1", "Headline one survives", "2026-08-29T10:00:00Z", "AAPL"),
			rawArticle("finwire", "f2", "Headline two hits a store error", "2026-08-29T10:00:00Z", "AAPL"),
		}},
	}
	merger := newFakeMerger()
	merger.failOn = "f2"
	publisher := &fakePublisher{err: errors.New("broker unreachable")}
	coord := New(adapters, newFetcher(), merger, &fakeSymbols{symbols: []string{"AAPL"}}, publisher, nil, nil)

	summary, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.State != StateCompleted {
		t.Errorf("state = %q, want %q", summary.State, StateCompleted)
	}
	if summary.Metrics.ArticlesStored != 1 {
		t.Errorf("ArticlesStored = %d, want 1", summary.Metrics.ArticlesStored)
	}
	if summary.ArticlesPublished != 0 {
		t.Errorf("ArticlesPublished = %d, want 0 after publish failure", summary.ArticlesPublished)
	}
}

func TestRunWithFailingSourceStillMergesTheRest(t *testing.T) {
	adapters := []source.Adapter{
		&stubAdapter{name: "finwire", err: errors.New("upstream 500")},
		&stubAdapter{name: "marketaux", articles: []source.RawArticle{
			rawArticle("marketaux", "m1", "Markets rally on rate cut hopes", "2026-08-29T09:00:00Z", "SPY"),
		}},
	}
	coord := New(adapters, newFetcher(), newFakeMerger(), &fakeSymbols{symbols: []string{"SPY"}}, &fakePublisher{}, nil, nil)

	summary, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.State != StateCompleted {
		t.Errorf("state = %q, want %q", summary.State, StateCompleted)
	}
	if summary.Metrics.ArticlesStored != 1 {
		t.Errorf("ArticlesStored = %d, want 1", summary.Metrics.ArticlesStored)
	}
	if summary.Metrics.FetchErrors["source_error"] != 1 {
		t.Errorf("FetchErrors[source_error] = %d, want 1", summary.Metrics.FetchErrors["source_error"])
	}
}
