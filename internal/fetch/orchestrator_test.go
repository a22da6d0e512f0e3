package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pulsewire/newsfuse/internal/quota"
	"github.com/pulsewire/newsfuse/internal/source"
	"github.com/pulsewire/newsfuse/pkg/resilience"
)

// stubAdapter returns canned articles or a fixed error for every symbol.
type stubAdapter struct {
	name    string
	perCall int
	err     error
	delay   time.Duration
	calls   atomic.Int64
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Fetch(ctx context.Context, symbols []string) ([]source.RawArticle, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	articles := make([]source.RawArticle, 0, s.perCall)
	for i := 0; i < s.perCall; i++ {
		articles = append(articles, source.RawArticle{
			SourceName:      s.name,
			SourceArticleID: fmt.Sprintf("%s-%s-%d", s.name, symbols[0], i),
			Headline:        fmt.Sprintf("%s headline %d for %s", s.name, i, symbols[0]),
			PublishedAt:     "2025-12-21T10:00:00Z",
			Symbols:         symbols,
		})
	}
	return articles, nil
}

func newTestOrchestrator(cfg Config, limits map[string]int) *Orchestrator {
	return New(cfg, quota.NewTracker(limits), resilience.NewBreakerGroup(resilience.BreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		ResetTimeout:     time.Minute,
	}))
}

func TestFetchAllHappyPath(t *testing.T) {
	o := newTestOrchestrator(Config{Workers: 4}, nil)
	adapters := []source.Adapter{
		&stubAdapter{name: "finwire", perCall: 2},
		&stubAdapter{name: "marketaux", perCall: 1},
	}
	symbols := []string{"AAPL", "MSFT", "TSLA"}

	articles, fetchErrs := o.FetchAll(context.Background(), symbols, adapters)
	if len(fetchErrs) != 0 {
		t.Fatalf("unexpected errors: %v", fetchErrs)
	}
	// 3 symbols × (2 + 1) articles per call.
	if len(articles) != 9 {
		t.Errorf("got %d articles, want 9", len(articles))
	}
}

func TestFetchAllPartialFailureIsolation(t *testing.T) {
	failing := &stubAdapter{name: "newsdata", err: errors.New("boom")}
	adapters := []source.Adapter{
		&stubAdapter{name: "finwire", perCall: 1},
		&stubAdapter{name: "marketaux", perCall: 1},
		&stubAdapter{name: "benzinga", perCall: 1},
		failing,
	}
	symbols := []string{"AAPL", "MSFT"}
	o := newTestOrchestrator(Config{Workers: 4}, nil)

	articles, fetchErrs := o.FetchAll(context.Background(), symbols, adapters)

	// The three healthy adapters contribute one article per symbol.
	if len(articles) != 6 {
		t.Errorf("got %d articles, want 6", len(articles))
	}
	// One error per symbol for the failing adapter.
	if len(fetchErrs) != 2 {
		t.Fatalf("got %d fetch errors, want 2: %v", len(fetchErrs), fetchErrs)
	}
	for _, fe := range fetchErrs {
		if fe.Source != "newsdata" || fe.Reason != source.ReasonSourceError {
			t.Errorf("unexpected error %+v", fe)
		}
	}
}

func TestFetchAllCircuitOpenSkips(t *testing.T) {
	breakers := resilience.NewBreakerGroup(resilience.BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
	})
	breakers.RecordFailure("finwire")

	o := New(Config{Workers: 2}, quota.NewTracker(nil), breakers)
	tripped := &stubAdapter{name: "finwire", perCall: 1}
	healthy := &stubAdapter{name: "marketaux", perCall: 1}

	articles, fetchErrs := o.FetchAll(context.Background(), []string{"AAPL"}, []source.Adapter{tripped, healthy})

	if tripped.calls.Load() != 0 {
		t.Error("open circuit must prevent the network call entirely")
	}
	if len(articles) != 1 {
		t.Errorf("got %d articles from healthy source, want 1", len(articles))
	}
	if len(fetchErrs) != 1 || fetchErrs[0].Reason != source.ReasonCircuitOpen {
		t.Errorf("fetchErrs = %v, want one circuit_open", fetchErrs)
	}
}

func TestFetchAllQuotaExhaustedSkips(t *testing.T) {
	o := newTestOrchestrator(Config{Workers: 1}, map[string]int{"finwire": 1})
	adapter := &stubAdapter{name: "finwire", perCall: 1}

	articles, fetchErrs := o.FetchAll(context.Background(), []string{"AAPL", "MSFT", "TSLA"}, []source.Adapter{adapter})

	// First task consumes the quota; the remaining two are skipped without a
	// network call.
	if adapter.calls.Load() != 1 {
		t.Errorf("adapter called %d times, want 1", adapter.calls.Load())
	}
	if len(articles) != 1 {
		t.Errorf("got %d articles, want 1", len(articles))
	}
	if len(fetchErrs) != 2 {
		t.Fatalf("got %d fetch errors, want 2", len(fetchErrs))
	}
	for _, fe := range fetchErrs {
		if fe.Reason != source.ReasonQuotaExhausted {
			t.Errorf("reason = %s, want quota_exhausted", fe.Reason)
		}
	}
}

func TestFetchAllQuotaResetsBetweenRuns(t *testing.T) {
	o := newTestOrchestrator(Config{Workers: 1}, map[string]int{"finwire": 1})
	adapter := &stubAdapter{name: "finwire", perCall: 1}
	symbols := []string{"AAPL", "MSFT", "TSLA"}

	// Two consecutive fan-outs each get a fresh budget; a source exhausted
	// in one run must not stay skipped in the next.
	for runN := 1; runN <= 2; runN++ {
		articles, fetchErrs := o.FetchAll(context.Background(), symbols, []source.Adapter{adapter})
		if len(articles) != 1 {
			t.Errorf("run %d: got %d articles, want 1", runN, len(articles))
		}
		if len(fetchErrs) != 2 {
			t.Errorf("run %d: got %d fetch errors, want 2", runN, len(fetchErrs))
		}
	}
	if adapter.calls.Load() != 2 {
		t.Errorf("adapter called %d times across two runs, want 2", adapter.calls.Load())
	}
}

func TestFetchAllDeadline(t *testing.T) {
	slow := &stubAdapter{name: "finwire", perCall: 1, delay: 500 * time.Millisecond}
	fast := &stubAdapter{name: "marketaux", perCall: 1}
	o := newTestOrchestrator(Config{Workers: 1, Deadline: 80 * time.Millisecond}, nil)

	start := time.Now()
	articles, fetchErrs := o.FetchAll(context.Background(), []string{"AAPL", "MSFT"}, []source.Adapter{slow, fast})
	elapsed := time.Since(start)

	if elapsed > 400*time.Millisecond {
		t.Errorf("FetchAll took %v, deadline abandonment not working", elapsed)
	}
	if len(articles) != 0 {
		t.Errorf("got %d articles, want 0 (slow source blocked the single worker)", len(articles))
	}
	// Every task ends up as a timeout: the in-flight one is cancelled, the
	// queued ones are abandoned at the deadline.
	if len(fetchErrs) != 4 {
		t.Fatalf("got %d fetch errors, want 4: %v", len(fetchErrs), fetchErrs)
	}
	for _, fe := range fetchErrs {
		if fe.Reason != source.ReasonTimeout {
			t.Errorf("reason = %s, want timeout", fe.Reason)
		}
	}
}

func TestFetchAllPerSourceTimeout(t *testing.T) {
	slow := &stubAdapter{name: "finwire", perCall: 1, delay: 300 * time.Millisecond}
	o := newTestOrchestrator(Config{
		Workers:        2,
		SourceTimeouts: map[string]time.Duration{"finwire": 30 * time.Millisecond},
	}, nil)

	articles, fetchErrs := o.FetchAll(context.Background(), []string{"AAPL"}, []source.Adapter{slow})
	if len(articles) != 0 {
		t.Errorf("got %d articles, want 0", len(articles))
	}
	if len(fetchErrs) != 1 || fetchErrs[0].Reason != source.ReasonTimeout {
		t.Fatalf("fetchErrs = %v, want one timeout", fetchErrs)
	}
}

func TestFetchAllOrderWithinAdapter(t *testing.T) {
	adapter := &stubAdapter{name: "finwire", perCall: 3}
	o := newTestOrchestrator(Config{Workers: 4}, nil)

	articles, _ := o.FetchAll(context.Background(), []string{"AAPL"}, []source.Adapter{adapter})
	if len(articles) != 3 {
		t.Fatalf("got %d articles, want 3", len(articles))
	}
	for i, a := range articles {
		want := fmt.Sprintf("finwire-AAPL-%d", i)
		if a.SourceArticleID != want {
			t.Errorf("article %d id = %s, want %s (adapter order not preserved)", i, a.SourceArticleID, want)
		}
	}
}

func TestFetchAllEmptyInputs(t *testing.T) {
	o := newTestOrchestrator(Config{Workers: 4}, nil)
	articles, fetchErrs := o.FetchAll(context.Background(), nil, nil)
	if len(articles) != 0 || len(fetchErrs) != 0 {
		t.Errorf("empty inputs should produce no results or errors")
	}
}
