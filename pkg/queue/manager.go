package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relayq/pkg/retry"
)

// StatusEnqueued is the Status value of a successfully accepted submission.
const StatusEnqueued = "enqueued"

// EnqueueResult is returned to the producer for every accepted entity. It is
// the only synchronous feedback the producer gets; execution outcomes travel
// through callbacks, the terminal queues and metrics.
type EnqueueResult struct {
	OperationID  string `json:"operation_id"`
	Status       string `json:"status"`
	HasCallbacks bool   `json:"has_callbacks"`
}

// Manager is the producer side of the queue runtime: it builds job records,
// records handler and callback registrations, and pushes serialized jobs
// onto priority queues in the backing store.
type Manager struct {
	store    Store
	keys     Keys
	registry *Registry
	metrics  Metrics
	logger   *slog.Logger
	dedupTTL time.Duration
}

// NewManager creates a producer bound to a store.
func NewManager(store Store, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	options := &managerOptions{
		keyPrefix: DefaultKeyPrefix,
		registry:  NewRegistry(),
		metrics:   NewCounters(),
		logger:    slog.Default(),
		dedupTTL:  24 * time.Hour,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Manager{
		store:    store,
		keys:     NewKeys(options.keyPrefix),
		registry: options.registry,
		metrics:  options.metrics,
		logger:   options.logger,
		dedupTTL: options.dedupTTL,
	}, nil
}

// Registry returns the handler/callback registry the manager records
// first-class registrations into. Share it with the worker.
func (m *Manager) Registry() *Registry { return m.registry }

// Enqueue submits one entity for deferred processing by the named processor.
// Validation and store errors surface synchronously; everything downstream
// is asynchronous.
func (m *Manager) Enqueue(ctx context.Context, entity any, processor string, opts ...EnqueueOption) (EnqueueResult, error) {
	job, options, err := m.buildJob(entity, processor, opts)
	if err != nil {
		return EnqueueResult{}, err
	}

	var claimKey string
	if options.dedupKey != "" {
		claimKey = m.keys.Dedup(options.dedupKey)
		claimed, err := m.store.SetNX(ctx, claimKey, job.EntityHash, m.dedupTTL)
		if err != nil {
			return EnqueueResult{}, err
		}
		if !claimed {
			return EnqueueResult{}, fmt.Errorf("%w: %s", ErrDuplicateEntity, options.dedupKey)
		}
	}

	payload, err := job.Marshal()
	if err != nil {
		m.releaseClaim(ctx, claimKey)
		return EnqueueResult{}, fmt.Errorf("failed to serialize job %s: %w", job.OperationID, err)
	}

	queueKey := m.keys.Queue(job.ProcessorNamespace, job.Processor, options.priority)
	if err := m.store.Push(ctx, queueKey, payload); err != nil {
		m.releaseClaim(ctx, claimKey)
		return EnqueueResult{}, err
	}
	if err := m.store.SetAdd(ctx, m.keys.Registry(), queueKey); err != nil {
		return EnqueueResult{}, err
	}

	m.metrics.Inc(MetricEnqueued, 1)
	m.logger.DebugContext(ctx, "job enqueued",
		slog.String("operation_id", job.OperationID),
		slog.String("processor", QueueName(job.ProcessorNamespace, job.Processor)),
		slog.String("priority", string(options.priority)),
		slog.String("queue_key", queueKey))

	return EnqueueResult{
		OperationID:  job.OperationID,
		Status:       StatusEnqueued,
		HasCallbacks: job.HasCallbacks(),
	}, nil
}

// EnqueueBatch submits many entities for the same processor as one atomic
// pipelined round trip: either every entity is enqueued or none is.
func (m *Manager) EnqueueBatch(ctx context.Context, entities []any, processor string, opts ...EnqueueOption) ([]EnqueueResult, error) {
	if len(entities) == 0 {
		return nil, ErrNoEntities
	}

	payloads := make([][]byte, 0, len(entities))
	results := make([]EnqueueResult, 0, len(entities))
	var queueKey string

	for _, entity := range entities {
		// Per-entity operation IDs must be unique, so the supplied
		// WithOperationID option only applies to single enqueues.
		job, options, err := m.buildJob(entity, processor, opts)
		if err != nil {
			return nil, err
		}
		job.OperationID = uuid.NewString()

		payload, err := job.Marshal()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize job %s: %w", job.OperationID, err)
		}

		queueKey = m.keys.Queue(job.ProcessorNamespace, job.Processor, options.priority)
		payloads = append(payloads, payload)
		results = append(results, EnqueueResult{
			OperationID:  job.OperationID,
			Status:       StatusEnqueued,
			HasCallbacks: job.HasCallbacks(),
		})
	}

	if err := m.store.PushBatch(ctx, queueKey, payloads); err != nil {
		return nil, err
	}
	if err := m.store.SetAdd(ctx, m.keys.Registry(), queueKey); err != nil {
		return nil, err
	}

	m.metrics.Inc(MetricEnqueued, int64(len(entities)))
	m.logger.DebugContext(ctx, "batch enqueued",
		slog.String("processor", processor),
		slog.String("queue_key", queueKey),
		slog.Int("count", len(entities)))

	return results, nil
}

// QueueStatus enumerates every known queue (registry members plus the two
// terminal queues) with its current length, and attaches the metrics
// snapshot under the "metrics" key.
func (m *Manager) QueueStatus(ctx context.Context) (map[string]any, error) {
	members, err := m.store.SetMembers(ctx, m.keys.Registry())
	if err != nil {
		return nil, err
	}

	status := make(map[string]any, len(members)+3)
	for _, key := range append(members, m.keys.Failures(), m.keys.SystemErrors()) {
		length, err := m.store.Len(ctx, key)
		if err != nil {
			return nil, err
		}
		status[key] = length
	}
	status["metrics"] = m.metrics.Snapshot()
	return status, nil
}

// PurgeQueue deletes a processor's queue at the given priority and returns
// how many items were dropped. This is irreversible and logged as an
// explicit operational action.
func (m *Manager) PurgeQueue(ctx context.Context, namespace, processor string, priority Priority) (int64, error) {
	if !priority.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}

	queueKey := m.keys.Queue(namespace, processor, priority)
	removed, err := m.store.Purge(ctx, queueKey)
	if err != nil {
		return 0, err
	}

	m.logger.WarnContext(ctx, "queue purged",
		slog.String("queue_key", queueKey),
		slog.Int64("items_removed", removed))
	return removed, nil
}

// releaseClaim drops a dedup claim whose job never reached the store so the
// producer can retry the failed enqueue. Best effort: a release failure
// leaves the claim to expire with its TTL.
func (m *Manager) releaseClaim(ctx context.Context, claimKey string) {
	if claimKey == "" {
		return
	}
	if err := m.store.Del(ctx, claimKey); err != nil {
		m.logger.WarnContext(ctx, "failed to release dedup claim",
			slog.String("dedup_key", claimKey),
			slog.String("error", err.Error()))
	}
}

// buildJob validates the submission, records first-class handler/callback
// registrations, and assembles the job record.
func (m *Manager) buildJob(entity any, processor string, opts []EnqueueOption) (*Job, *enqueueOptions, error) {
	if entity == nil {
		return nil, nil, ErrEntityNil
	}
	if processor == "" {
		return nil, nil, ErrProcessorRequired
	}

	options := &enqueueOptions{priority: PriorityDefault}
	for _, opt := range opts {
		opt(options)
	}
	if !options.priority.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidPriority, options.priority)
	}

	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %T: %w", ErrEntityMarshal, entity, err)
	}
	hash, err := EntityHash(raw)
	if err != nil {
		return nil, nil, err
	}

	if options.handlerFn != nil {
		if err := m.registry.RegisterHandler(Handler{
			Name:      processor,
			Namespace: options.namespace,
			Kind:      options.handlerKind,
			Fn:        options.handlerFn,
		}); err != nil {
			return nil, nil, err
		}
	}
	if options.onSuccessFn != nil {
		if err := m.registry.RegisterCallback(options.onSuccessNS, options.onSuccess, options.onSuccessFn); err != nil {
			return nil, nil, err
		}
	}
	if options.onFailureFn != nil {
		if err := m.registry.RegisterCallback(options.onFailureNS, options.onFailure, options.onFailureFn); err != nil {
			return nil, nil, err
		}
	}

	policy := retry.Default()
	if options.policy != nil {
		policy = *options.policy
	}
	timeout := policy.Timeout
	if options.timeout > 0 {
		timeout = options.timeout
	}

	operationID := options.operationID
	if operationID == "" {
		operationID = uuid.NewString()
	}

	return &Job{
		Entity:             raw,
		OperationID:        operationID,
		EntityHash:         hash,
		Processor:          processor,
		ProcessorNamespace: options.namespace,
		OnSuccess:          options.onSuccess,
		OnSuccessNamespace: options.onSuccessNS,
		OnFailure:          options.onFailure,
		OnFailureNamespace: options.onFailureNS,
		Attempts:           0,
		MaxAttempts:        policy.MaxAttempts,
		Delays:             retry.DelaysToSeconds(policy.Delays),
		Timeout:            timeout.Seconds(),
	}, options, nil
}
