package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Default policy parameters, used when a job carries no explicit policy.
const (
	DefaultMaxAttempts = 5
	DefaultBase        = 2.0
	DefaultMinDelay    = 1 * time.Second
	DefaultMaxDelay    = 60 * time.Second
)

// jitterFactor bounds the uniform jitter applied at dispatch time: the
// effective delay is the stored delay multiplied by a value in
// [1-jitterFactor, 1+jitterFactor].
const jitterFactor = 0.1

// Policy describes how a failing job is retried: how many attempts it gets,
// how long to wait before each retry, and an optional total wall-clock
// budget across all attempts. The zero value is not useful; construct
// policies with Fixed, Exponential, Custom or Default.
type Policy struct {
	MaxAttempts int
	Delays      []time.Duration
	Timeout     time.Duration // total budget across attempts, 0 = unbounded
}

// Fixed returns a policy that waits the same delay before every retry.
func Fixed(delay time.Duration, maxAttempts int) Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	delays := make([]time.Duration, maxAttempts)
	for i := range delays {
		delays[i] = delay
	}
	return Policy{MaxAttempts: maxAttempts, Delays: delays}
}

// Exponential returns a policy whose delay grows as minDelay * base^i,
// clamped to [minDelay, maxDelay].
func Exponential(base float64, minDelay, maxDelay time.Duration, maxAttempts int) Policy {
	if base <= 1 {
		base = DefaultBase
	}
	if minDelay <= 0 {
		minDelay = DefaultMinDelay
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	delays := make([]time.Duration, maxAttempts)
	for i := range delays {
		d := time.Duration(float64(minDelay) * math.Pow(base, float64(i)))
		if d < minDelay {
			d = minDelay
		}
		if d > maxDelay {
			d = maxDelay
		}
		delays[i] = d
	}
	return Policy{MaxAttempts: maxAttempts, Delays: delays}
}

// Custom returns a policy with an explicit delay sequence. When maxAttempts
// is not positive it defaults to len(delays). The slice is copied so the
// caller cannot mutate the policy afterwards.
func Custom(delays []time.Duration, maxAttempts int) Policy {
	if maxAttempts <= 0 {
		maxAttempts = len(delays)
	}
	cp := make([]time.Duration, len(delays))
	copy(cp, delays)
	return Policy{MaxAttempts: maxAttempts, Delays: cp}
}

// Default returns the policy applied to jobs enqueued without one:
// exponential backoff, base 2, 1s..60s, 5 attempts.
func Default() Policy {
	return Exponential(DefaultBase, DefaultMinDelay, DefaultMaxDelay, DefaultMaxAttempts)
}

// WithTimeout returns a copy of the policy carrying a total wall-clock
// budget across all attempts.
func (p Policy) WithTimeout(timeout time.Duration) Policy {
	p.Timeout = timeout
	return p
}

// DelayForAttempt returns the jittered delay to wait before the given
// attempt (1-indexed: attempt 1 is the first retry). Attempts beyond the
// stored sequence are clamped to its last element.
func (p Policy) DelayForAttempt(attempt int) time.Duration {
	return Jitter(p.RawDelayForAttempt(attempt))
}

// RawDelayForAttempt returns the stored, unjittered delay for the given
// attempt, clamping the index to the last element of the sequence.
func (p Policy) RawDelayForAttempt(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Delays) {
		idx = len(p.Delays) - 1
	}
	return p.Delays[idx]
}

// WouldExceedTimeout reports whether waiting for the next attempt's delay
// would push the job past its total wall-clock budget. Always false when the
// policy carries no budget.
func (p Policy) WouldExceedTimeout(firstAttempt, now time.Time, attempt int) bool {
	if p.Timeout <= 0 {
		return false
	}
	return now.Sub(firstAttempt)+p.RawDelayForAttempt(attempt) > p.Timeout
}

// Jitter multiplies a delay by a uniform factor in [0.9, 1.1] so that
// simultaneously failing jobs do not retry in lockstep.
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	factor := 1 - jitterFactor + rand.Float64()*2*jitterFactor
	return time.Duration(float64(d) * factor)
}

// DelaysToSeconds converts a delay sequence to seconds for the job wire
// format.
func DelaysToSeconds(delays []time.Duration) []float64 {
	if len(delays) == 0 {
		return nil
	}
	out := make([]float64, len(delays))
	for i, d := range delays {
		out[i] = d.Seconds()
	}
	return out
}

// DelaysFromSeconds converts a wire-format delay sequence back to durations.
func DelaysFromSeconds(secs []float64) []time.Duration {
	if len(secs) == 0 {
		return nil
	}
	out := make([]time.Duration, len(secs))
	for i, s := range secs {
		out[i] = time.Duration(s * float64(time.Second))
	}
	return out
}
