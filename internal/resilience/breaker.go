// Package resilience provides the circuit breakers that guard upstream
// provider calls. A breaker trips after a run of consecutive failures and
// rejects further calls until a probe succeeds, so a vendor outage fails
// fast instead of stalling every answer request behind a dead endpoint.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] when the breaker has
// tripped and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call. This is the normal mode.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]. Entered after
	// too many consecutive failures; left when the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. The
	// breaker closes if they succeed and re-opens on the first failure.
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

// BreakerConfig tunes a [Breaker]. Zero values select the defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output, typically a provider id.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker stays open before it
	// admits probe calls. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax caps the probe calls admitted while half-open.
	// Default: 3.
	HalfOpenMax int
}

// Breaker is a three-state circuit breaker. It is safe for concurrent
// use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// NewBreaker creates a closed [Breaker] from cfg, filling in defaults
// for zero-value fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        StateClosed,
	}
}

// Execute runs fn unless the breaker is open, in which case it returns
// [ErrCircuitOpen] without calling fn. The outcome of fn feeds the
// breaker's failure accounting and is returned unchanged.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()
	b.settle(probe, err)
	return err
}

// admit decides whether a call may proceed, reporting whether it counts
// as a half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.resetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("circuit breaker half-open", "name", b.name)

	case StateHalfOpen:
		if b.probes >= b.halfOpenMax {
			return false, ErrCircuitOpen
		}
	}

	if b.state == StateHalfOpen {
		b.probes++
		return true, nil
	}
	return false, nil
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.lastFailure = time.Now()
		if probe {
			// One failed probe re-opens immediately.
			b.probeFails++
			b.state = StateOpen
			b.failures = b.maxFailures
			slog.Warn("circuit breaker re-opened", "name", b.name)
			return
		}
		b.failures++
		if b.failures >= b.maxFailures {
			b.state = StateOpen
			slog.Warn("circuit breaker opened",
				"name", b.name,
				"consecutive_failures", b.failures)
		}
		return
	}

	if probe {
		if b.probes-b.probeFails >= b.halfOpenMax {
			b.state = StateClosed
			b.failures = 0
			b.probes = 0
			b.probeFails = 0
			slog.Info("circuit breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's mode. An open breaker whose reset timeout
// has elapsed reports [StateHalfOpen]; the stored state flips on the
// next [Breaker.Execute].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed] and clears all
// counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeFails = 0
	slog.Info("circuit breaker reset", "name", b.name)
}
