package breaker

import (
	"sync"
	"time"
)

// State represents the breaker's position in its state machine.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds the breaker tuning parameters. Zero fields fall back to the
// defaults below.
type Config struct {
	// FailureThreshold is the number of failures within WindowSize that
	// trips the breaker from Closed to Open.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays Open before admitting
	// trial requests.
	RecoveryTimeout time.Duration
	// HalfOpenMaxCalls bounds concurrent trial requests while HalfOpen and
	// is also the number of successes required to close the breaker.
	HalfOpenMaxCalls int
	// WindowSize is the trailing window over which failures are counted.
	WindowSize time.Duration
}

// Default breaker parameters.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultHalfOpenMaxCalls = 3
	DefaultWindowSize       = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	return c
}

// Breaker is a single named circuit breaker. All state mutation is
// serialized by an internal mutex; a Breaker is safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	name string
	cfg  Config

	state             State
	recentFailures    []time.Time
	halfOpenCalls     int
	halfOpenSuccesses int
	lastStateChange   time.Time
}

// New creates a standalone breaker. Most callers should obtain breakers
// through a Registry so that call sites protecting the same operation share
// one instance.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:            name,
		cfg:             cfg.withDefaults(),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Name returns the protected operation's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, applying the lazy Open→HalfOpen
// transition if the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen(time.Now())
	return b.state
}

// Allow reports whether a request may proceed. While HalfOpen each
// admission consumes one of the bounded trial slots.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.maybeHalfOpen(now)

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return false
		}
		b.halfOpenCalls++
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful protected call. Enough successes while
// HalfOpen close the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateHalfOpen {
		return
	}
	b.halfOpenSuccesses++
	if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxCalls {
		b.transition(StateClosed, time.Now())
	}
}

// RecordFailure records a failed protected call. While Closed it may trip
// the breaker once the window accumulates enough failures; while HalfOpen a
// single failure reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen, now)
	case StateClosed:
		b.recentFailures = append(b.recentFailures, now)
		b.pruneWindow(now)
		if len(b.recentFailures) >= b.cfg.FailureThreshold {
			b.transition(StateOpen, now)
		}
	case StateOpen:
		// Already open; nothing to count.
	}
}

// Reset forces the breaker back to Closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed, time.Now())
}

// maybeHalfOpen applies the lazy Open→HalfOpen transition. Callers must hold
// the mutex.
func (b *Breaker) maybeHalfOpen(now time.Time) {
	if b.state == StateOpen && now.Sub(b.lastStateChange) >= b.cfg.RecoveryTimeout {
		b.transition(StateHalfOpen, now)
	}
}

// transition moves the breaker to a new state and resets the counters that
// belong to the old one. Callers must hold the mutex.
func (b *Breaker) transition(to State, now time.Time) {
	b.state = to
	b.lastStateChange = now
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	if to == StateClosed {
		b.recentFailures = b.recentFailures[:0]
	}
}

// pruneWindow drops failure timestamps older than the trailing window.
// Callers must hold the mutex.
func (b *Breaker) pruneWindow(now time.Time) {
	cutoff := now.Add(-b.cfg.WindowSize)
	idx := 0
	for idx < len(b.recentFailures) && b.recentFailures[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		b.recentFailures = b.recentFailures[idx:]
	}
}
