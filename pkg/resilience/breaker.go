// Package resilience provides fault-tolerance primitives: per-source circuit
// breakers, exponential-backoff retry, and a context-based timeout wrapper.
package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the current phase of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls failure thresholds and recovery timing.
type BreakerConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	ResetTimeout     time.Duration
}

func defaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    5 * time.Minute,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker tracks failures for a single source and trips open when the
// threshold is crossed within the failure window. After a cool-down period it
// transitions to half-open and admits exactly one probe request.
type Breaker struct {
	name             string
	cfg              BreakerConfig
	mu               sync.Mutex
	state            State
	logger           *slog.Logger
	failures         int
	firstFailureTime time.Time
	lastFailureTime  time.Time
	probeInFlight    bool
}

// NewBreaker creates a Breaker with the given config, filling in defaults for
// zero values.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	defaults := defaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = defaults.FailureWindow
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaults.ResetTimeout
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		state:  StateClosed,
		logger: slog.Default().With("component", "circuit-breaker", "source", name),
	}
}

// Allow reports whether a request may proceed. In the open state it returns
// false until the cool-down elapses, then admits a single half-open probe;
// further calls return false until the probe's outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailureTime) < b.cfg.ResetTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		b.logger.Info("circuit transitioning to half-open", "after", b.cfg.ResetTimeout)
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return true
}

// RecordSuccess records a successful call. A successful half-open probe closes
// the circuit and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.probeInFlight = false
		b.logger.Info("circuit closed (recovered)")
	}
}

// RecordFailure records a failed call. Crossing the threshold within the
// failure window opens the circuit; a failed half-open probe re-opens it and
// restarts the cool-down.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	switch b.state {
	case StateClosed:
		if b.failures == 0 || now.Sub(b.firstFailureTime) > b.cfg.FailureWindow {
			b.failures = 0
			b.firstFailureTime = now
		}
		b.failures++
		b.lastFailureTime = now
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.logger.Warn("circuit opened",
				"failures", b.failures,
				"threshold", b.cfg.FailureThreshold,
			)
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.lastFailureTime = now
		b.probeInFlight = false
		b.logger.Warn("circuit re-opened (half-open probe failed)")
	case StateOpen:
		b.lastFailureTime = now
	}
}

// State returns the current State of the breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to the Closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probeInFlight = false
	b.logger.Info("circuit manually reset")
}

// BreakerGroup holds one independently locked Breaker per source, so an
// unhealthy source never contends with healthy ones.
type BreakerGroup struct {
	cfg      BreakerConfig
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerGroup creates an empty group sharing one config.
func NewBreakerGroup(cfg BreakerConfig) *BreakerGroup {
	return &BreakerGroup{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

func (g *BreakerGroup) breaker(source string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[source]
	if !ok {
		b = NewBreaker(source, g.cfg)
		g.breakers[source] = b
	}
	return b
}

// AllowRequest reports whether a request to the source may proceed.
func (g *BreakerGroup) AllowRequest(source string) bool {
	return g.breaker(source).Allow()
}

// RecordSuccess records a successful call to the source.
func (g *BreakerGroup) RecordSuccess(source string) {
	g.breaker(source).RecordSuccess()
}

// RecordFailure records a failed call to the source.
func (g *BreakerGroup) RecordFailure(source string) {
	g.breaker(source).RecordFailure()
}

// StateOf returns the current breaker state for the source.
func (g *BreakerGroup) StateOf(source string) State {
	return g.breaker(source).State()
}
