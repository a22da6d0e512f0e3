// Package fetch fans out news-source fetches across symbols and adapters on a
// bounded worker pool, collecting partial results and per-task errors without
// letting one source's failure starve the others.
package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pulsewire/newsfuse/internal/quota"
	"github.com/pulsewire/newsfuse/internal/source"
	apperrors "github.com/pulsewire/newsfuse/pkg/errors"
	"github.com/pulsewire/newsfuse/pkg/resilience"
)

// defaultWorkers bounds parallel fetches when the config leaves it unset.
const defaultWorkers = 4

// Config controls the worker pool and per-call timing.
type Config struct {
	Workers        int
	Deadline       time.Duration
	SourceTimeouts map[string]time.Duration
}

// Orchestrator runs the symbols × adapters cross-product on a fixed-size
// worker pool. Before each network call it consults the per-source circuit
// breaker and quota tracker; skipped and failed tasks are recorded as tagged
// FetchErrors alongside the successful results.
type Orchestrator struct {
	cfg      Config
	quota    *quota.Tracker
	breakers *resilience.BreakerGroup
	logger   *slog.Logger
}

// New creates an Orchestrator sharing the given quota tracker and breaker
// group with the rest of the run.
func New(cfg Config, tracker *quota.Tracker, breakers *resilience.BreakerGroup) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Orchestrator{
		cfg:      cfg,
		quota:    tracker,
		breakers: breakers,
		logger:   slog.Default().With("component", "fetch-orchestrator"),
	}
}

type task struct {
	symbol  string
	adapter source.Adapter
}

// FetchAll fetches every symbol from every adapter and returns all raw
// articles plus one FetchError per failed or skipped task. It returns only
// after every submitted task has completed or the orchestrator deadline has
// elapsed; tasks still pending at the deadline are recorded as timeouts.
// Results from one adapter keep that adapter's original order; no ordering
// holds across adapters.
func (o *Orchestrator) FetchAll(ctx context.Context, symbols []string, adapters []source.Adapter) ([]source.RawArticle, []source.FetchError) {
	tasks := make([]task, 0, len(symbols)*len(adapters))
	for _, adapter := range adapters {
		for _, symbol := range symbols {
			tasks = append(tasks, task{symbol: symbol, adapter: adapter})
		}
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	// The quota window is one fan-out: every run starts with a fresh
	// per-source budget, so an exhausted source is retried next run instead
	// of being skipped until process restart.
	o.quota.Reset()

	runCtx := ctx
	if o.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.Deadline)
		defer cancel()
	}

	results := make([][]source.RawArticle, len(tasks))
	taskErrs := make([]*source.FetchError, len(tasks))

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Workers)
	started := time.Now()
	for i, tk := range tasks {
		i, tk := i, tk
		g.Go(func() error {
			taskErrs[i] = o.runTask(runCtx, tk, &results[i])
			return nil
		})
	}
	g.Wait()

	var articles []source.RawArticle
	var fetchErrs []source.FetchError
	for i := range tasks {
		if taskErrs[i] != nil {
			fetchErrs = append(fetchErrs, *taskErrs[i])
			continue
		}
		articles = append(articles, results[i]...)
	}
	o.logger.Info("fetch fan-out complete",
		"tasks", len(tasks),
		"articles", len(articles),
		"errors", len(fetchErrs),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return articles, fetchErrs
}

// runTask executes one (symbol, adapter) fetch. A nil return means success
// and *out holds the articles.
func (o *Orchestrator) runTask(ctx context.Context, tk task, out *[]source.RawArticle) *source.FetchError {
	name := tk.adapter.Name()
	if ctx.Err() != nil {
		return &source.FetchError{Source: name, Symbol: tk.symbol, Reason: source.ReasonTimeout, Err: apperrors.ErrTimeout}
	}
	if !o.breakers.AllowRequest(name) {
		o.logger.Debug("task skipped, circuit open", "source", name, "symbol", tk.symbol)
		return &source.FetchError{Source: name, Symbol: tk.symbol, Reason: source.ReasonCircuitOpen, Err: apperrors.ErrCircuitOpen}
	}
	if !o.quota.CheckQuota(name) {
		o.logger.Debug("task skipped, quota exhausted", "source", name, "symbol", tk.symbol)
		return &source.FetchError{Source: name, Symbol: tk.symbol, Reason: source.ReasonQuotaExhausted, Err: apperrors.ErrQuotaExhausted}
	}

	var fetched []source.RawArticle
	err := resilience.WithTimeout(ctx, o.cfg.SourceTimeouts[name], name+"-fetch", func(callCtx context.Context) error {
		articles, fetchErr := tk.adapter.Fetch(callCtx, []string{tk.symbol})
		fetched = articles
		return fetchErr
	})

	if !o.quota.RecordCall(name, 1) {
		o.logger.Warn("source exceeded call quota", "source", name, "calls", o.quota.Count(name))
	}

	if err != nil {
		o.breakers.RecordFailure(name)
		reason := source.ReasonSourceError
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			reason = source.ReasonTimeout
		}
		o.logger.Error("fetch task failed",
			"source", name,
			"symbol", tk.symbol,
			"reason", reason,
			"error", err,
		)
		return &source.FetchError{Source: name, Symbol: tk.symbol, Reason: reason, Err: err}
	}

	o.breakers.RecordSuccess(name)
	*out = fetched
	return nil
}
