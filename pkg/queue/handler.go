package queue

import (
	"context"
	"encoding/json"
)

// Kind declares how the worker executes a handler. It is an explicit
// property of registration so dispatch is a tagged switch, never runtime
// inspection of the handler value.
type Kind string

const (
	// NonBlocking handlers cooperate with the worker's scheduler: they are
	// awaited directly under the effective per-attempt timeout.
	NonBlocking Kind = "non_blocking"

	// Blocking handlers do not cooperate with the scheduler and run on a
	// fixed-size execution pool with a bounded admission window.
	Blocking Kind = "blocking"
)

// Valid checks if the kind is one of the two known execution modes.
func (k Kind) Valid() bool {
	return k == NonBlocking || k == Blocking
}

// HandlerFunc processes a job's entity and returns an optional result that
// is handed to the success callback.
type HandlerFunc func(ctx context.Context, entity json.RawMessage) (any, error)

// Handler is a named, registered processor.
type Handler struct {
	Name      string
	Namespace string
	Kind      Kind
	Fn        HandlerFunc
}

// CallbackPayload is handed to success and failure callbacks. Exactly one of
// Result and Err is meaningful: Result on success, Err on terminal failure.
type CallbackPayload struct {
	Entity      json.RawMessage
	Result      any
	Err         error
	OperationID string
}

// CallbackFunc is invoked once on a job's terminal success or failure.
// Callback errors are the callback's own problem; the worker does not retry
// them.
type CallbackFunc func(ctx context.Context, payload CallbackPayload)

// Resolver looks up handlers and callbacks registered elsewhere in the
// process. The worker consults it only after the registry misses, and caches
// successful resolutions. Resolution failures must be reported as errors so
// they are distinguishable from a resolved no-op.
type Resolver interface {
	ResolveHandler(name, namespace string) (Handler, error)
	ResolveCallback(name, namespace string) (CallbackFunc, error)
}
