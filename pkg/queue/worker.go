package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dmitrymomot/relayq/pkg/async"
	"github.com/dmitrymomot/relayq/pkg/breaker"
	"github.com/dmitrymomot/relayq/pkg/retry"
)

// ProcessOperation is the circuit breaker name guarding handler execution.
// Every worker loop protecting this operation shares one breaker per
// registry.
const ProcessOperation = "process_queue"

// Worker is the consumer side of the queue runtime. It runs a configurable
// number of independent scheduling loops that poll queues in priority order,
// execute handlers and route outcomes through retries, callbacks and the
// terminal queues.
//
// Loops never coordinate with each other: the store's atomic pop is the only
// mutual exclusion over a job, and each loop mutates its own private copy of
// a popped job before re-pushing it.
type Worker struct {
	store    Store
	keys     Keys
	registry *Registry
	metrics  Metrics
	logger   *slog.Logger
	breakers *breaker.Registry
	pool     *blockingPool

	workerCount     int
	poolSize        int
	defaultTimeout  time.Duration
	admissionWindow time.Duration
	busySleep       time.Duration
	idleSleep       time.Duration
	shutdownTimeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker bound to a store. The zero configuration runs
// four loops, a ten-slot blocking pool and a 30s default handler timeout.
func NewWorker(store Store, opts ...WorkerOption) (*Worker, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	options := &workerOptions{
		keyPrefix:       DefaultKeyPrefix,
		registry:        NewRegistry(),
		metrics:         NewCounters(),
		logger:          slog.Default(),
		workerCount:     4,
		poolSize:        10,
		defaultTimeout:  30 * time.Second,
		admissionWindow: 100 * time.Millisecond,
		busySleep:       10 * time.Millisecond,
		idleSleep:       250 * time.Millisecond,
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.breakers == nil {
		options.breakers = breaker.NewRegistry(breaker.Config{})
	}

	return &Worker{
		store:           store,
		keys:            NewKeys(options.keyPrefix),
		registry:        options.registry,
		metrics:         options.metrics,
		logger:          options.logger,
		breakers:        options.breakers,
		workerCount:     options.workerCount,
		poolSize:        options.poolSize,
		defaultTimeout:  options.defaultTimeout,
		admissionWindow: options.admissionWindow,
		busySleep:       options.busySleep,
		idleSleep:       options.idleSleep,
		shutdownTimeout: options.shutdownTimeout,
	}, nil
}

// Registry returns the worker's handler/callback registry.
func (w *Worker) Registry() *Registry { return w.registry }

// Start launches the scheduling loops in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return ErrWorkerAlreadyStarted
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	// Stop shuts the pool down for good, so every Start gets a fresh one.
	w.pool = newBlockingPool(w.poolSize, w.metrics)

	for i := range w.workerCount {
		w.wg.Add(1)
		go w.loop(i)
	}

	w.logger.Info("queue worker started",
		slog.Int("loops", w.workerCount),
		slog.String("key_prefix", w.keys.Prefix))
	return nil
}

// Stop signals the loops to exit and waits for in-flight work, bounded by
// the shutdown timeout. The blocking pool drains already-submitted tasks but
// is not waited on; in-flight executions are never forcibly killed.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotStarted
	}
	cancel := w.cancel
	pool := w.pool
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	pool.shutdown()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("queue worker stopped")
	case <-time.After(w.shutdownTimeout):
		w.logger.Warn("queue worker stop timed out, abandoning in-flight work",
			slog.Duration("shutdown_timeout", w.shutdownTimeout))
	}
	return nil
}

// Run starts the worker and returns a function suitable for errgroup-style
// lifecycles: it blocks until ctx is done, then stops the worker.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

// loop is one scheduling loop. A single iteration's failure must never kill
// the loop; store errors are logged and backed off.
func (w *Worker) loop(id int) {
	defer w.wg.Done()

	log := w.logger.With(slog.Int("loop", id))
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		dispatched, err := w.cycle(w.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("poll cycle failed, backing off", slog.String("error", err.Error()))
			}
			w.sleep(w.idleSleep)
			continue
		}

		if dispatched {
			w.sleep(w.busySleep)
		} else {
			w.sleep(w.idleSleep)
		}
	}
}

// currentPool reads the pool under the lifecycle lock; Start replaces it on
// every restart.
func (w *Worker) currentPool() *blockingPool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pool
}

// sleep pauses between cycles but wakes up immediately on shutdown.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.ctx.Done():
	case <-time.After(d):
	}
}

// cycle performs one poll over every registered queue in priority order and
// handles at most one item. Returns whether an item was handled.
func (w *Worker) cycle(ctx context.Context) (bool, error) {
	members, err := w.store.SetMembers(ctx, w.keys.Registry())
	if err != nil {
		return false, err
	}

	for _, key := range w.partition(members) {
		handled, err := w.pollQueue(ctx, key)
		if err != nil {
			w.logger.Error("queue poll failed",
				slog.String("queue_key", key),
				slog.String("error", err.Error()))
			continue
		}
		if handled {
			return true, nil
		}
	}
	return false, nil
}

// partition orders the registered queue keys high, then normal, then low,
// dropping keys outside the scheme. Keys inside a tier are sorted so a
// single loop's scan order is deterministic.
func (w *Worker) partition(members []string) []string {
	buckets := map[Priority][]string{}
	for _, key := range members {
		p, ok := w.keys.PriorityOf(key)
		if !ok {
			continue
		}
		buckets[p] = append(buckets[p], key)
	}

	ordered := make([]string, 0, len(members))
	for _, p := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		bucket := buckets[p]
		sort.Strings(bucket)
		ordered = append(ordered, bucket...)
	}
	return ordered
}

// pollQueue peeks the queue's tail and, if the item is eligible, pops and
// processes it. The peek is a cheap eligibility check that avoids pop/push
// churn on queues whose head-of-line item is still waiting out its retry
// delay.
func (w *Worker) pollQueue(ctx context.Context, queueKey string) (bool, error) {
	peeked, err := w.store.Peek(ctx, queueKey)
	if err != nil {
		return false, err
	}
	if peeked == nil {
		return false, nil
	}
	if job, err := UnmarshalJob(peeked); err == nil && !job.Eligible(time.Now()) {
		return false, nil
	}

	// Pop gives this loop exclusive ownership of the item. A parse failure
	// here still counts as one handled item: the payload is moved verbatim
	// to system_errors and the cycle ends.
	payload, err := w.store.Pop(ctx, queueKey)
	if err != nil {
		return false, err
	}
	if payload == nil {
		return false, nil
	}

	job, err := UnmarshalJob(payload)
	if err != nil {
		w.logger.Error("malformed job payload, moving to system_errors",
			slog.String("queue_key", queueKey))
		if pushErr := w.store.Push(ctx, w.keys.SystemErrors(), payload); pushErr != nil {
			return true, pushErr
		}
		return true, nil
	}

	// Another loop may have popped the item we peeked; re-check the one we
	// actually own and put it back if its time has not come.
	if !job.Eligible(time.Now()) {
		if err := w.store.Push(ctx, queueKey, payload); err != nil {
			return false, err
		}
		return false, nil
	}

	w.process(ctx, queueKey, job)
	return true, nil
}

// process runs one execution attempt for a job the loop owns and routes the
// outcome.
func (w *Worker) process(ctx context.Context, queueKey string, job *Job) {
	handler, err := w.registry.Handler(job.Processor, job.ProcessorNamespace)
	if err != nil {
		w.toSystemErrors(ctx, job, err.Error())
		return
	}

	// Callbacks are a configuration problem when unresolvable, so they are
	// checked before execution rather than after the outcome is known.
	onSuccess, onFailure, err := w.resolveCallbacks(job)
	if err != nil {
		w.toSystemErrors(ctx, job, err.Error())
		return
	}

	now := time.Now()
	budget := job.TimeoutDuration()
	if budget > 0 {
		if job.FirstAttemptTime == nil {
			job.FirstAttemptTime = &now
		}
		if now.Sub(*job.FirstAttemptTime) > budget {
			w.terminal(ctx, job, ErrTimeoutBudgetExceeded, onFailure)
			return
		}
	}

	effTimeout := w.defaultTimeout
	if budget > 0 {
		if remaining := budget - now.Sub(*job.FirstAttemptTime); remaining < effTimeout {
			effTimeout = remaining
		}
	}

	start := time.Now()
	result, err := w.executeProtected(ctx, handler, job, effTimeout)
	if err != nil {
		w.handleFailure(ctx, queueKey, job, err, onFailure)
		return
	}

	w.handleSuccess(ctx, job, result, time.Since(start), onSuccess)
}

// executeProtected gates one handler execution through the shared breaker.
// Pool exhaustion and a shut-down pool are local signals, not evidence the
// protected operation is unhealthy, so neither is recorded as a breaker
// failure.
func (w *Worker) executeProtected(ctx context.Context, handler Handler, job *Job, effTimeout time.Duration) (any, error) {
	br := w.breakers.Get(ProcessOperation)
	if !br.Allow() {
		return nil, breaker.ErrCircuitOpen
	}

	result, err := w.execute(ctx, handler, job, effTimeout)
	if err != nil {
		if !errors.Is(err, ErrPoolExhausted) && !errors.Is(err, ErrPoolClosed) {
			br.RecordFailure()
		}
		return nil, err
	}
	br.RecordSuccess()
	return result, nil
}

// execute dispatches on the handler's registered kind: non-blocking handlers
// are awaited under the effective timeout, blocking handlers go through the
// bounded pool and are awaited to completion.
func (w *Worker) execute(ctx context.Context, handler Handler, job *Job, effTimeout time.Duration) (any, error) {
	switch handler.Kind {
	case Blocking:
		done := make(chan struct{})
		var result any
		var execErr error
		task := func() {
			defer close(done)
			result, execErr = invokeHandler(ctx, handler, job.Entity)
		}
		if err := w.currentPool().submit(task, w.admissionWindow); err != nil {
			return nil, err
		}
		<-done
		return result, execErr

	default:
		execCtx, cancel := context.WithTimeout(ctx, effTimeout)
		defer cancel()

		future := async.Async(execCtx, job.Entity, func(ctx context.Context, entity json.RawMessage) (any, error) {
			return invokeHandler(ctx, handler, entity)
		})
		result, err := future.AwaitWithTimeout(effTimeout)
		if errors.Is(err, async.ErrTimeout) {
			return nil, fmt.Errorf("%w after %s", ErrTimeoutExceeded, effTimeout)
		}
		return result, err
	}
}

// invokeHandler calls the handler, converting panics into errors so a single
// bad job can never kill a scheduling loop or pool goroutine.
func invokeHandler(ctx context.Context, handler Handler, entity json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler %s: %v", QueueName(handler.Namespace, handler.Name), r)
		}
	}()
	return handler.Fn(ctx, entity)
}

// handleSuccess fires the success callback and records metrics.
func (w *Worker) handleSuccess(ctx context.Context, job *Job, result any, duration time.Duration, onSuccess CallbackFunc) {
	if onSuccess != nil {
		onSuccess(ctx, CallbackPayload{
			Entity:      job.Entity,
			Result:      result,
			OperationID: job.OperationID,
		})
	}

	w.metrics.Inc(MetricProcessed, 1)
	w.metrics.ObserveProcessTime(duration)
	w.logger.Debug("job processed",
		slog.String("operation_id", job.OperationID),
		slog.String("processor", QueueName(job.ProcessorNamespace, job.Processor)),
		slog.Duration("duration", duration))
}

// handleFailure applies the shared retry / terminal-failure branch for
// handler errors, execution timeouts, pool exhaustion and open-breaker
// rejections.
func (w *Worker) handleFailure(ctx context.Context, queueKey string, job *Job, execErr error, onFailure CallbackFunc) {
	job.Attempts++

	if errors.Is(execErr, ErrPoolExhausted) {
		w.metrics.Inc(MetricPoolExhausted, 1)
	}

	if job.Attempts >= job.MaxAttempts {
		w.terminal(ctx, job, execErr, onFailure)
		return
	}

	now := time.Now()
	delay := w.nextDelay(job)
	next := now.Add(delay)

	// Requeueing would be pointless if the retry itself lands past the
	// job's total budget; divert straight to terminal failure instead.
	if budget := job.TimeoutDuration(); budget > 0 && job.FirstAttemptTime != nil {
		if next.Sub(*job.FirstAttemptTime) > budget {
			w.terminal(ctx, job, fmt.Errorf("%w: next retry would exceed budget: %w", ErrTimeoutBudgetExceeded, execErr), onFailure)
			return
		}
	}

	job.NextRetryTime = &next
	payload, err := job.Marshal()
	if err != nil {
		w.toSystemErrors(ctx, job, fmt.Sprintf("failed to serialize job for retry: %v", err))
		return
	}
	if err := w.store.Push(ctx, queueKey, payload); err != nil {
		w.logger.Error("failed to requeue job",
			slog.String("operation_id", job.OperationID),
			slog.String("error", err.Error()))
		return
	}

	w.metrics.Inc(MetricRetried, 1)
	w.logger.Debug("job scheduled for retry",
		slog.String("operation_id", job.OperationID),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.Duration("delay", delay),
		slog.String("error", execErr.Error()))
}

// nextDelay picks the retry delay for the job's current attempt count: the
// job's own delay sequence when it carries one (clamped to its last
// element), the default policy otherwise. Jitter is applied here, at
// dispatch time.
func (w *Worker) nextDelay(job *Job) time.Duration {
	if len(job.Delays) > 0 {
		idx := job.Attempts - 1
		if idx >= len(job.Delays) {
			idx = len(job.Delays) - 1
		}
		if idx < 0 {
			idx = 0
		}
		return retry.Jitter(time.Duration(job.Delays[idx] * float64(time.Second)))
	}
	return retry.Default().DelayForAttempt(job.Attempts)
}

// terminal moves the job to the failures queue, fires the failure callback
// and records the failed or timeouts metric.
func (w *Worker) terminal(ctx context.Context, job *Job, execErr error, onFailure CallbackFunc) {
	job.FailureReason = execErr.Error()

	payload, err := job.Marshal()
	if err != nil {
		w.toSystemErrors(ctx, job, fmt.Sprintf("failed to serialize terminal job: %v", err))
		return
	}
	if err := w.store.Push(ctx, w.keys.Failures(), payload); err != nil {
		w.logger.Error("failed to push job to failures queue",
			slog.String("operation_id", job.OperationID),
			slog.String("error", err.Error()))
		return
	}

	if onFailure != nil {
		onFailure(ctx, CallbackPayload{
			Entity:      job.Entity,
			Err:         execErr,
			OperationID: job.OperationID,
		})
	}

	if errors.Is(execErr, ErrTimeoutExceeded) || errors.Is(execErr, ErrTimeoutBudgetExceeded) {
		w.metrics.Inc(MetricTimeouts, 1)
	} else {
		w.metrics.Inc(MetricFailed, 1)
	}

	w.logger.Warn("job failed terminally",
		slog.String("operation_id", job.OperationID),
		slog.String("processor", QueueName(job.ProcessorNamespace, job.Processor)),
		slog.Int("attempts", job.Attempts),
		slog.String("failure_reason", job.FailureReason))
}

// toSystemErrors routes structurally broken jobs (unresolvable handler or
// callback, unserializable record) to the system_errors terminal queue.
func (w *Worker) toSystemErrors(ctx context.Context, job *Job, reason string) {
	job.FailureReason = reason

	payload, err := job.Marshal()
	if err != nil {
		w.logger.Error("failed to serialize job for system_errors",
			slog.String("operation_id", job.OperationID),
			slog.String("reason", reason))
		return
	}
	if err := w.store.Push(ctx, w.keys.SystemErrors(), payload); err != nil {
		w.logger.Error("failed to push job to system_errors",
			slog.String("operation_id", job.OperationID),
			slog.String("error", err.Error()))
		return
	}

	w.logger.Error("job moved to system_errors",
		slog.String("operation_id", job.OperationID),
		slog.String("reason", reason))
}

// resolveCallbacks looks up the job's configured callbacks before execution.
func (w *Worker) resolveCallbacks(job *Job) (onSuccess, onFailure CallbackFunc, err error) {
	if job.OnSuccess != "" {
		if onSuccess, err = w.registry.Callback(job.OnSuccess, job.OnSuccessNamespace); err != nil {
			return nil, nil, err
		}
	}
	if job.OnFailure != "" {
		if onFailure, err = w.registry.Callback(job.OnFailure, job.OnFailureNamespace); err != nil {
			return nil, nil, err
		}
	}
	return onSuccess, onFailure, nil
}
