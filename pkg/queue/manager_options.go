package queue

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/relayq/pkg/retry"
)

// ManagerOption is a functional option for configuring a Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	keyPrefix string
	registry  *Registry
	metrics   Metrics
	logger    *slog.Logger
	dedupTTL  time.Duration
}

// WithKeyPrefix sets the store key prefix.
func WithKeyPrefix(prefix string) ManagerOption {
	return func(o *managerOptions) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithRegistry shares a handler/callback registry between the manager and a
// worker, so handlers passed first-class at enqueue time are visible to the
// worker.
func WithRegistry(registry *Registry) ManagerOption {
	return func(o *managerOptions) {
		if registry != nil {
			o.registry = registry
		}
	}
}

// WithMetrics injects the metrics sink.
func WithMetrics(metrics Metrics) ManagerOption {
	return func(o *managerOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDedupTTL sets how long a dedup key claim is held.
func WithDedupTTL(ttl time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if ttl > 0 {
			o.dedupTTL = ttl
		}
	}
}

// EnqueueOption is a functional option for a single Enqueue or EnqueueBatch
// call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority    Priority
	operationID string
	namespace   string
	policy      *retry.Policy
	timeout     time.Duration
	dedupKey    string

	onSuccess   string
	onSuccessNS string
	onFailure   string
	onFailureNS string

	handlerFn   HandlerFunc
	handlerKind Kind
	onSuccessFn CallbackFunc
	onFailureFn CallbackFunc
}

// WithPriority sets the job's priority tier. The value is validated at
// enqueue time, not here, so a bad tier surfaces as ErrInvalidPriority.
func WithPriority(priority Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = priority
	}
}

// WithOperationID supplies an external operation identifier instead of a
// generated UUID.
func WithOperationID(id string) EnqueueOption {
	return func(o *enqueueOptions) {
		if id != "" {
			o.operationID = id
		}
	}
}

// WithNamespace qualifies the processor and default callback names.
func WithNamespace(namespace string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.namespace = namespace
	}
}

// WithRetryPolicy carries the job's retry policy: attempt ceiling, delay
// sequence and optional total timeout.
func WithRetryPolicy(policy retry.Policy) EnqueueOption {
	return func(o *enqueueOptions) {
		o.policy = &policy
	}
}

// WithTimeout sets the job's total wall-clock budget across all attempts,
// overriding any budget carried by the retry policy.
func WithTimeout(timeout time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithDedupKey enables store-side deduplication: a second submission with
// the same key within the dedup TTL is rejected with ErrDuplicateEntity.
func WithDedupKey(key string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.dedupKey = key
	}
}

// WithHandlerFunc registers the processor first-class at enqueue time under
// the processor name passed to Enqueue.
func WithHandlerFunc(kind Kind, fn HandlerFunc) EnqueueOption {
	return func(o *enqueueOptions) {
		o.handlerKind = kind
		o.handlerFn = fn
	}
}

// WithOnSuccess names the callback fired once on terminal success.
func WithOnSuccess(name, namespace string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.onSuccess = name
		o.onSuccessNS = namespace
	}
}

// WithOnSuccessFunc registers the success callback first-class under the
// given name and wires it to the job.
func WithOnSuccessFunc(name string, fn CallbackFunc) EnqueueOption {
	return func(o *enqueueOptions) {
		o.onSuccess = name
		o.onSuccessFn = fn
	}
}

// WithOnFailure names the callback fired once on terminal failure.
func WithOnFailure(name, namespace string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.onFailure = name
		o.onFailureNS = namespace
	}
}

// WithOnFailureFunc registers the failure callback first-class under the
// given name and wires it to the job.
func WithOnFailureFunc(name string, fn CallbackFunc) EnqueueOption {
	return func(o *enqueueOptions) {
		o.onFailure = name
		o.onFailureFn = fn
	}
}
