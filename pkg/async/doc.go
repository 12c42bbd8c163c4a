// Package async provides a minimal typed future for running a function in
// the background and awaiting its result, optionally with a timeout.
//
// The queue worker uses it to await non-blocking handlers under a
// per-attempt timeout without tearing down the executing goroutine:
//
//	future := async.Async(ctx, payload, handle)
//	result, err := future.AwaitWithTimeout(5 * time.Second)
//	if errors.Is(err, async.ErrTimeout) {
//	    // the handler overran its budget; its goroutine finishes on its own
//	}
package async
