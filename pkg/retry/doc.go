// Package retry provides immutable retry policies for deferred job execution.
//
// A Policy is a pure value: a bounded sequence of per-attempt delays, an
// attempt ceiling and an optional total wall-clock budget. Policies never
// mutate after construction, so a single Policy can safely be shared between
// goroutines and embedded into serialized job records.
//
// # Usage
//
//	policy := retry.Exponential(2.0, time.Second, time.Minute, 5)
//	delay := policy.DelayForAttempt(3) // jittered, safe to sleep on
//
// Jitter is applied only at dispatch time via DelayForAttempt; the stored
// delay sequence itself is deterministic, which keeps serialized jobs and
// tests reproducible.
package retry
