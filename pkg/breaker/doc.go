// Package breaker implements a named circuit breaker for guarding operations
// that can fail in cascades, such as a backing store or a downstream service.
//
// A Breaker is a three-state machine:
//
//   - Closed: requests flow normally; failures are recorded in a sliding
//     time window.
//   - Open: requests are rejected immediately with ErrCircuitOpen. The
//     breaker moves to HalfOpen once the recovery timeout has elapsed; the
//     transition is evaluated lazily on the next admission check, no
//     background timer is involved.
//   - HalfOpen: a limited number of trial requests are admitted. Enough
//     successes close the breaker; a single failure reopens it.
//
// Breakers are shared by name through a Registry so that independent call
// sites protecting the same logical operation share fate. The Registry is an
// injected dependency rather than a package global, which keeps breaker
// scenarios isolated in tests.
//
// # Usage
//
//	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 5})
//	err := reg.Do("process_queue", func() error {
//	    return store.Pop(ctx, key)
//	})
//	if errors.Is(err, breaker.ErrCircuitOpen) {
//	    // fail fast, the protected operation was not attempted
//	}
//
// The breaker only gates admission: errors returned by the protected
// function are propagated unchanged.
package breaker
