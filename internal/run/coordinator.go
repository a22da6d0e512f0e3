// Package run wires one ingestion invocation end to end: resolve the tracked
// symbols, fan out fetches, merge raw articles into the canonical store, then
// publish the touched articles and the run's collision metrics.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsewire/newsfuse/internal/headline"
	"github.com/pulsewire/newsfuse/internal/runmetrics"
	"github.com/pulsewire/newsfuse/internal/source"
	"github.com/pulsewire/newsfuse/internal/store"
	apperrors "github.com/pulsewire/newsfuse/pkg/errors"
	"github.com/pulsewire/newsfuse/pkg/kafka"
	"github.com/pulsewire/newsfuse/pkg/logger"
	"github.com/pulsewire/newsfuse/pkg/metrics"
)

// State is the coordinator's lifecycle phase for one run.
type State string

const (
	StateStarted   State = "started"
	StateFetching  State = "fetching"
	StateMerging   State = "merging"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Fetcher fans fetches out across symbols and adapters.
type Fetcher interface {
	FetchAll(ctx context.Context, symbols []string, adapters []source.Adapter) ([]source.RawArticle, []source.FetchError)
}

// Merger upserts raw articles into the canonical store.
type Merger interface {
	UpsertFromRaw(ctx context.Context, raw source.RawArticle) (store.MergeResult, error)
}

// SymbolSource supplies the tracked symbols for a run.
type SymbolSource interface {
	ListActive(ctx context.Context) ([]string, error)
}

// Publisher hands deduplicated article events to the downstream analysis
// stage.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// ArticleEvent is the message published per distinct canonical article
// touched in a run. Downstream consumers are expected to be idempotent;
// delivery is at-least-once.
type ArticleEvent struct {
	ArticleID string   `json:"article_id"`
	Symbols   []string `json:"symbols"`
	Snippet   string   `json:"text_snippet"`
}

// Summary is the result of one ingestion run.
type Summary struct {
	RunID             string             `json:"run_id"`
	State             State              `json:"state"`
	Metrics           runmetrics.Metrics `json:"metrics"`
	ArticlesPublished int                `json:"articles_published"`
}

// Coordinator drives the started → fetching → merging → completed state
// machine for each invocation. Partial fetch failures never block merging of
// the articles that did arrive; only setup errors fail a run outright.
type Coordinator struct {
	adapters  []source.Adapter
	fetcher   Fetcher
	merger    Merger
	symbols   SymbolSource
	publisher Publisher
	emitter   *runmetrics.Emitter
	prom      *metrics.Metrics
}

// New creates a Coordinator. The emitter and prom metrics may be nil, e.g.
// in tests.
func New(
	adapters []source.Adapter,
	fetcher Fetcher,
	merger Merger,
	symbols SymbolSource,
	publisher Publisher,
	emitter *runmetrics.Emitter,
	prom *metrics.Metrics,
) *Coordinator {
	return &Coordinator{
		adapters:  adapters,
		fetcher:   fetcher,
		merger:    merger,
		symbols:   symbols,
		publisher: publisher,
		emitter:   emitter,
		prom:      prom,
	}
}

// Run executes one ingestion run and returns its summary. The returned error
// is non-nil only for the failed terminal state.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx).With("component", "run-coordinator")

	state := StateStarted
	collector := runmetrics.NewCollector(runID)
	started := time.Now()
	log.Info("ingestion run started")

	fail := func(err error) (*Summary, error) {
		state = StateFailed
		log.Error("ingestion run failed", "state", state, "error", err)
		c.observeRun(state, started)
		return &Summary{RunID: runID, State: state, Metrics: collector.Snapshot()}, err
	}

	if len(c.adapters) == 0 {
		return fail(fmt.Errorf("%w: no source adapters configured", apperrors.ErrInvalidInput))
	}
	activeSymbols, err := c.symbols.ListActive(ctx)
	if err != nil {
		return fail(fmt.Errorf("resolving tracked symbols: %w", err))
	}
	if len(activeSymbols) == 0 {
		log.Warn("no tracked symbols, nothing to ingest")
	}

	state = StateFetching
	raws, fetchErrs := c.fetcher.FetchAll(ctx, activeSymbols, c.adapters)
	for _, raw := range raws {
		collector.RecordFetch(raw.SourceName, 1)
		if c.prom != nil {
			c.prom.ArticlesFetchedTotal.WithLabelValues(raw.SourceName).Inc()
		}
	}
	for _, fe := range fetchErrs {
		collector.RecordFetchError(string(fe.Reason))
		if c.prom != nil {
			c.prom.FetchErrorsTotal.WithLabelValues(fe.Source, string(fe.Reason)).Inc()
			if fe.Reason == source.ReasonQuotaExhausted {
				c.prom.QuotaSkipsTotal.WithLabelValues(fe.Source).Inc()
			}
		}
	}
	log.Info("fetch phase complete",
		"symbols", len(activeSymbols),
		"articles", len(raws),
		"fetch_errors", len(fetchErrs),
	)

	state = StateMerging
	touched := make(map[string]*ArticleEvent)
	var touchOrder []string
	for _, raw := range raws {
		if headline.Normalize(raw.Headline) == "" {
			collector.RecordMalformed()
			if c.prom != nil {
				c.prom.MalformedTotal.Inc()
			}
			log.Warn("dropping article with malformed headline",
				"source", raw.SourceName,
				"source_article_id", raw.SourceArticleID,
			)
			continue
		}
		result, err := c.merger.UpsertFromRaw(ctx, raw)
		if err != nil {
			log.Error("merge failed",
				"source", raw.SourceName,
				"source_article_id", raw.SourceArticleID,
				"error", err,
			)
			continue
		}
		collector.RecordMergeOutcome(result.Outcome, result.Collision)
		if c.prom != nil {
			c.prom.MergesTotal.WithLabelValues(string(result.Outcome)).Inc()
			if result.Collision {
				c.prom.CollisionsTotal.Inc()
			}
		}
		event, seen := touched[result.DedupKey]
		if !seen {
			event = &ArticleEvent{ArticleID: result.DedupKey, Snippet: raw.Snippet}
			touched[result.DedupKey] = event
			touchOrder = append(touchOrder, result.DedupKey)
		}
		event.Symbols = mergeSymbols(event.Symbols, raw.Symbols)
	}

	state = StateCompleted
	snapshot := collector.Snapshot()
	published := c.publishTouched(ctx, log, touched, touchOrder)
	if c.emitter != nil {
		c.emitter.Emit(snapshot)
	}
	c.observeRun(state, started)
	log.Info("ingestion run completed",
		"articles_stored", snapshot.ArticlesStored,
		"collisions", snapshot.CollisionsDetected,
		"collision_rate", snapshot.CollisionRate,
		"published", published,
		"duration_ms", snapshot.DurationMs,
	)
	return &Summary{
		RunID:             runID,
		State:             state,
		Metrics:           snapshot,
		ArticlesPublished: published,
	}, nil
}

// publishTouched sends one event per distinct canonical article touched this
// run, keyed by dedup key so re-reports of a story land on one partition. A
// publish failure is logged and surfaced in metrics but does not fail the
// run; the store already holds the merged articles.
func (c *Coordinator) publishTouched(ctx context.Context, log *slog.Logger, touched map[string]*ArticleEvent, order []string) int {
	if len(order) == 0 {
		return 0
	}
	events := make([]kafka.Event, 0, len(order))
	for _, key := range order {
		events = append(events, kafka.Event{Key: key, Value: touched[key]})
	}
	if err := c.publisher.PublishBatch(ctx, events); err != nil {
		log.Error("publishing article events failed", "count", len(events), "error", err)
		return 0
	}
	if c.prom != nil {
		c.prom.EventsPublishedTotal.WithLabelValues("article-events").Add(float64(len(events)))
	}
	return len(events)
}

func (c *Coordinator) observeRun(state State, started time.Time) {
	if c.prom == nil {
		return
	}
	c.prom.RunsTotal.WithLabelValues(string(state)).Inc()
	c.prom.RunDuration.Observe(time.Since(started).Seconds())
}

// mergeSymbols unions two symbol lists preserving first-seen order.
func mergeSymbols(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	for _, s := range incoming {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			existing = append(existing, s)
		}
	}
	return existing
}
