package queue

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil store is provided to a constructor.
	ErrStoreNil = errors.New("queue: store cannot be nil")

	// ErrEntityNil is returned when attempting to enqueue a nil entity.
	ErrEntityNil = errors.New("queue: entity cannot be nil")

	// ErrEntityMarshal is returned when entity serialization fails.
	ErrEntityMarshal = errors.New("queue: failed to marshal entity to JSON")

	// ErrInvalidPriority is returned when priority is not one of high, normal or low.
	ErrInvalidPriority = errors.New("queue: priority must be high, normal or low")

	// ErrProcessorRequired is returned when enqueue is called without a processor name.
	ErrProcessorRequired = errors.New("queue: processor name is required")

	// ErrNoEntities is returned when batch enqueue is called with an empty slice.
	ErrNoEntities = errors.New("queue: no entities to enqueue")

	// ErrStoreUnavailable wraps any backing store failure surfaced to producers.
	ErrStoreUnavailable = errors.New("queue: backing store unavailable")

	// ErrDuplicateEntity is returned when a dedup key has already been claimed
	// by an earlier submission.
	ErrDuplicateEntity = errors.New("queue: duplicate entity rejected by dedup key")

	// ErrHandlerNotFound is returned when no handler is registered or
	// resolvable for a job's processor name.
	ErrHandlerNotFound = errors.New("queue: no handler registered for processor")

	// ErrCallbackNotFound is returned when a job references a callback that
	// is neither registered nor resolvable.
	ErrCallbackNotFound = errors.New("queue: no callback registered for name")

	// ErrInvalidHandler is returned when registering a handler with no name,
	// no function or an unknown kind.
	ErrInvalidHandler = errors.New("queue: invalid handler registration")

	// ErrTimeoutExceeded is returned when a non-blocking handler exceeds its
	// effective per-attempt timeout.
	ErrTimeoutExceeded = errors.New("queue: handler execution timed out")

	// ErrTimeoutBudgetExceeded is returned when a job's total wall-clock
	// budget across attempts is exhausted.
	ErrTimeoutBudgetExceeded = errors.New("queue: total timeout reached")

	// ErrPoolExhausted is returned when a blocking handler cannot be admitted
	// to the execution pool within the admission window.
	ErrPoolExhausted = errors.New("queue: pool exhaustion")

	// ErrPoolClosed is returned when a blocking handler is submitted to a
	// pool that has been shut down.
	ErrPoolClosed = errors.New("queue: pool is shut down")

	// ErrWorkerAlreadyStarted is returned when Start is called twice.
	ErrWorkerAlreadyStarted = errors.New("queue: worker already started")

	// ErrWorkerNotStarted is returned when Stop is called before Start.
	ErrWorkerNotStarted = errors.New("queue: worker not started")

	// ErrMalformedJob is returned when a serialized job cannot be parsed.
	ErrMalformedJob = errors.New("queue: malformed job payload")
)
