package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relayq/pkg/breaker"
	"github.com/dmitrymomot/relayq/pkg/queue"
	"github.com/dmitrymomot/relayq/pkg/retry"
)

// testRuntime bundles the store, shared registry and metrics a worker test
// needs, mirroring how a real producer and consumer share state.
type testRuntime struct {
	store    *queue.MemoryStore
	registry *queue.Registry
	metrics  *queue.Counters
	manager  *queue.Manager
}

func newTestRuntime(t *testing.T) *testRuntime {
	t.Helper()

	store := queue.NewMemoryStore()
	registry := queue.NewRegistry()
	metrics := queue.NewCounters()

	manager, err := queue.NewManager(store,
		queue.WithKeyPrefix("test:"),
		queue.WithRegistry(registry),
		queue.WithMetrics(metrics),
		queue.WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	return &testRuntime{store: store, registry: registry, metrics: metrics, manager: manager}
}

// startWorker builds and starts a single-loop worker with fast test timings;
// extra options may override any of them. The worker is stopped on cleanup.
func (r *testRuntime) startWorker(t *testing.T, opts ...queue.WorkerOption) *queue.Worker {
	t.Helper()

	base := []queue.WorkerOption{
		queue.WithWorkerKeyPrefix("test:"),
		queue.WithWorkerRegistry(r.registry),
		queue.WithWorkerMetrics(r.metrics),
		queue.WithWorkerLogger(discardLogger()),
		queue.WithWorkerCount(1),
		queue.WithBusySleep(time.Millisecond),
		queue.WithIdleSleep(5 * time.Millisecond),
		queue.WithShutdownTimeout(2 * time.Second),
	}

	worker, err := queue.NewWorker(r.store, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, worker.Start(context.Background()))
	t.Cleanup(func() { _ = worker.Stop() })
	return worker
}

// terminalJobs parses every record in a terminal queue.
func (r *testRuntime) terminalJobs(t *testing.T, key string) []*queue.Job {
	t.Helper()

	ctx := context.Background()
	var jobs []*queue.Job
	for {
		payload, err := r.store.Pop(ctx, key)
		require.NoError(t, err)
		if payload == nil {
			return jobs
		}
		job, err := queue.UnmarshalJob(payload)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
}

func registerFailing(t *testing.T, r *testRuntime, name string) *atomic.Int64 {
	t.Helper()

	var calls atomic.Int64
	require.NoError(t, r.registry.RegisterHandler(queue.Handler{
		Name: name,
		Kind: queue.NonBlocking,
		Fn: func(context.Context, json.RawMessage) (any, error) {
			calls.Add(1)
			return nil, errors.New("handler always fails")
		},
	}))
	return &calls
}

func TestWorker_StartStop(t *testing.T) {
	t.Parallel()

	r := newTestRuntime(t)
	worker, err := queue.NewWorker(r.store,
		queue.WithWorkerLogger(discardLogger()),
		queue.WithWorkerCount(1))
	require.NoError(t, err)

	assert.ErrorIs(t, worker.Stop(), queue.ErrWorkerNotStarted)

	require.NoError(t, worker.Start(context.Background()))
	assert.ErrorIs(t, worker.Start(context.Background()), queue.ErrWorkerAlreadyStarted)

	require.NoError(t, worker.Stop())
	assert.ErrorIs(t, worker.Stop(), queue.ErrWorkerNotStarted)
}

// A handler that fails on every call with a two-attempt fixed policy ends up
// in failures exactly once with attempts == 2.
func TestWorker_RetryExhaustion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)
	calls := registerFailing(t, r, "always_fails")

	_, err := r.manager.Enqueue(ctx, map[string]string{"test": "data"}, "always_fails",
		queue.WithRetryPolicy(retry.Fixed(100*time.Millisecond, 2)))
	require.NoError(t, err)

	r.startWorker(t)

	require.Eventually(t, func() bool {
		n, err := r.store.Len(ctx, "test:failures")
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)

	jobs := r.terminalJobs(t, "test:failures")
	require.Len(t, jobs, 1)
	assert.Equal(t, 2, jobs[0].Attempts)
	assert.Contains(t, jobs[0].FailureReason, "handler always fails")
	assert.Equal(t, int64(2), calls.Load(), "handler must run exactly max_attempts times")
	assert.Equal(t, int64(1), r.metrics.Get(queue.MetricFailed))
	assert.Equal(t, int64(1), r.metrics.Get(queue.MetricRetried))
}

// Three jobs enqueued low, normal, high for the same processor drain in
// high, normal, low order under a single scheduling loop.
func TestWorker_PriorityOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)

	var mu sync.Mutex
	var order []string
	require.NoError(t, r.registry.RegisterHandler(queue.Handler{
		Name: "record",
		Kind: queue.NonBlocking,
		Fn: func(_ context.Context, entity json.RawMessage) (any, error) {
			var e struct {
				Tier string `json:"tier"`
			}
			if err := json.Unmarshal(entity, &e); err != nil {
				return nil, err
			}
			mu.Lock()
			order = append(order, e.Tier)
			mu.Unlock()
			return nil, nil
		},
	}))

	for _, tier := range []queue.Priority{queue.PriorityLow, queue.PriorityNormal, queue.PriorityHigh} {
		_, err := r.manager.Enqueue(ctx, map[string]string{"tier": string(tier)}, "record",
			queue.WithPriority(tier))
		require.NoError(t, err)
	}

	r.startWorker(t)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "normal", "low"}, order)
}

// A succeeding handler with a registered on_success callback delivers
// {entity, result, operation_id} exactly once and bumps the processed metric.
func TestWorker_SuccessCallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)

	require.NoError(t, r.registry.RegisterHandler(queue.Handler{
		Name: "succeeds",
		Kind: queue.NonBlocking,
		Fn: func(context.Context, json.RawMessage) (any, error) {
			return "done!", nil
		},
	}))

	var callbackCalls atomic.Int64
	var got queue.CallbackPayload
	var mu sync.Mutex
	require.NoError(t, r.registry.RegisterCallback("", "notify", func(_ context.Context, payload queue.CallbackPayload) {
		callbackCalls.Add(1)
		mu.Lock()
		got = payload
		mu.Unlock()
	}))

	res, err := r.manager.Enqueue(ctx, map[string]int{"order": 7}, "succeeds",
		queue.WithOnSuccess("notify", ""))
	require.NoError(t, err)
	require.True(t, res.HasCallbacks)

	r.startWorker(t)

	require.Eventually(t, func() bool {
		return callbackCalls.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"order":7}`, string(got.Entity))
	assert.Equal(t, "done!", got.Result)
	assert.Equal(t, res.OperationID, got.OperationID)
	assert.NoError(t, got.Err)

	assert.Equal(t, int64(1), r.metrics.Get(queue.MetricProcessed))

	// Give the worker a beat to prove the callback does not fire twice.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), callbackCalls.Load())
}

// The on_failure callback fires once with the terminal error.
func TestWorker_FailureCallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)
	registerFailing(t, r, "always_fails")

	var callbackCalls atomic.Int64
	var gotErr error
	var mu sync.Mutex
	require.NoError(t, r.registry.RegisterCallback("", "alert", func(_ context.Context, payload queue.CallbackPayload) {
		callbackCalls.Add(1)
		mu.Lock()
		gotErr = payload.Err
		mu.Unlock()
	}))

	_, err := r.manager.Enqueue(ctx, map[string]int{"n": 1}, "always_fails",
		queue.WithRetryPolicy(retry.Fixed(time.Millisecond, 1)),
		queue.WithOnFailure("alert", ""))
	require.NoError(t, err)

	r.startWorker(t)

	require.Eventually(t, func() bool {
		return callbackCalls.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ErrorContains(t, gotErr, "handler always fails")
}

// A job waiting out its retry delay stays in its queue untouched; the cheap
// peek check must not pop it.
func TestWorker_RetryDelayDefersExecution(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)
	calls := registerFailing(t, r, "always_fails")

	_, err := r.manager.Enqueue(ctx, map[string]int{"n": 1}, "always_fails",
		queue.WithRetryPolicy(retry.Fixed(10*time.Second, 3)))
	require.NoError(t, err)

	r.startWorker(t)

	require.Eventually(t, func() bool {
		return r.metrics.Get(queue.MetricRetried) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The retry is 10s out; the job must sit in its queue with one attempt.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())

	payload, err := r.store.Peek(ctx, "test:normal:always_fails")
	require.NoError(t, err)
	require.NotNil(t, payload)

	job, err := queue.UnmarshalJob(payload)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.NextRetryTime)
	assert.True(t, job.NextRetryTime.After(time.Now()))
}

func TestWorker_MalformedPayloadToSystemErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)

	require.NoError(t, r.store.Push(ctx, "test:normal:junk", []byte("garbage")))
	require.NoError(t, r.store.SetAdd(ctx, "test:registered", "test:normal:junk"))

	r.startWorker(t)

	require.Eventually(t, func() bool {
		n, err := r.store.Len(ctx, "test:system_errors")
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)

	payload, err := r.store.Pop(ctx, "test:system_errors")
	require.NoError(t, err)
	assert.Equal(t, []byte("garbage"), payload, "malformed payloads move verbatim")
}

func TestWorker_HandlerNotFoundToSystemErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)

	_, err := r.manager.Enqueue(ctx, map[string]int{"n": 1}, "ghost")
	require.NoError(t, err)

	r.startWorker(t)

	require.Eventually(t, func() bool {
		n, err := r.store.Len(ctx, "test:system_errors")
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)

	jobs := r.terminalJobs(t, "test:system_errors")
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].FailureReason, "no handler registered")
	assert.Zero(t, r.metrics.Get(queue.MetricFailed), "configuration problems are not business failures")
}

func TestWorker_CallbackNotFoundToSystemErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)

	require.NoError(t, r.registry.RegisterHandler(queue.Handler{
		Name: "succeeds", Kind: queue.NonBlocking, Fn: noopHandler,
	}))

	_, err := r.manager.Enqueue(ctx, map[string]int{"n": 1}, "succeeds",
		queue.WithOnSuccess("ghost_cb", ""))
	require.NoError(t, err)

	r.startWorker(t)

	require.Eventually(t, func() bool {
		n, err := r.store.Len(ctx, "test:system_errors")
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)

	jobs := r.terminalJobs(t, "test:system_errors")
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].FailureReason, "no callback registered")
	assert.Zero(t, r.metrics.Get(queue.MetricProcessed), "handler must not run with unresolvable callbacks")
}

// A job whose handler always overruns its per-attempt timeout terminates
// within its total budget instead of retrying forever.
func TestWorker_TimeoutBudget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)

	require.NoError(t, r.registry.RegisterHandler(queue.Handler{
		Name: "slow",
		Kind: queue.NonBlocking,
		Fn: func(ctx context.Context, _ json.RawMessage) (any, error) {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return nil, ctx.Err()
		},
	}))

	start := time.Now()
	_, err := r.manager.Enqueue(ctx, map[string]int{"n": 1}, "slow",
		queue.WithRetryPolicy(retry.Fixed(30*time.Millisecond, 10)),
		queue.WithTimeout(250*time.Millisecond))
	require.NoError(t, err)

	r.startWorker(t, queue.WithDefaultTimeout(50*time.Millisecond))

	require.Eventually(t, func() bool {
		n, err := r.store.Len(ctx, "test:failures")
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)
	elapsed := time.Since(start)

	jobs := r.terminalJobs(t, "test:failures")
	require.Len(t, jobs, 1)
	assert.Less(t, jobs[0].Attempts, 10, "the budget, not the attempt ceiling, must end the job")
	assert.Contains(t, jobs[0].FailureReason, "timeout")
	assert.GreaterOrEqual(t, r.metrics.Get(queue.MetricTimeouts), int64(1))

	// Total budget 250ms plus one retry delay and scheduling slack.
	assert.Less(t, elapsed, 2*time.Second, "terminal failure must arrive near the budget, not unbounded")
}

// Blocking handlers run on the bounded pool; when every slot and buffer
// position is taken, admission fails as pool exhaustion.
func TestWorker_PoolExhaustion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)

	require.NoError(t, r.registry.RegisterHandler(queue.Handler{
		Name: "blocking_sleep",
		Kind: queue.Blocking,
		Fn: func(context.Context, json.RawMessage) (any, error) {
			time.Sleep(150 * time.Millisecond)
			return nil, nil
		},
	}))

	// The attempt ceiling is generous so exhaustion retries can never burn a
	// job out before a pool slot frees up.
	for i := range 3 {
		_, err := r.manager.Enqueue(ctx, map[string]int{"n": i}, "blocking_sleep",
			queue.WithRetryPolicy(retry.Fixed(20*time.Millisecond, 50)))
		require.NoError(t, err)
	}

	r.startWorker(t,
		queue.WithWorkerCount(3),
		queue.WithPoolSize(1),
		queue.WithAdmissionWindow(10*time.Millisecond))

	require.Eventually(t, func() bool {
		return r.metrics.Get(queue.MetricPoolExhausted) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	// Exhausted submissions retry and all jobs eventually complete.
	require.Eventually(t, func() bool {
		return r.metrics.Get(queue.MetricProcessed) == 3
	}, 10*time.Second, 10*time.Millisecond)
}

func TestWorker_BlockingHandlerSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)

	require.NoError(t, r.registry.RegisterHandler(queue.Handler{
		Name: "blocking_ok",
		Kind: queue.Blocking,
		Fn: func(context.Context, json.RawMessage) (any, error) {
			return 42, nil
		},
	}))

	_, err := r.manager.Enqueue(ctx, map[string]int{"n": 1}, "blocking_ok")
	require.NoError(t, err)

	r.startWorker(t)

	require.Eventually(t, func() bool {
		return r.metrics.Get(queue.MetricProcessed) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

// Once the shared breaker opens, execution is rejected before the handler
// runs and the job fails terminally with a circuit-open reason.
func TestWorker_BreakerFailsFast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)
	registerFailing(t, r, "always_fails")

	var succeedCalls atomic.Int64
	require.NoError(t, r.registry.RegisterHandler(queue.Handler{
		Name: "would_succeed",
		Kind: queue.NonBlocking,
		Fn: func(context.Context, json.RawMessage) (any, error) {
			succeedCalls.Add(1)
			return nil, nil
		},
	}))

	// The failing job goes first (high priority) and trips the breaker.
	_, err := r.manager.Enqueue(ctx, map[string]int{"n": 1}, "always_fails",
		queue.WithPriority(queue.PriorityHigh),
		queue.WithRetryPolicy(retry.Fixed(time.Millisecond, 1)))
	require.NoError(t, err)
	_, err = r.manager.Enqueue(ctx, map[string]int{"n": 2}, "would_succeed",
		queue.WithRetryPolicy(retry.Fixed(time.Millisecond, 1)))
	require.NoError(t, err)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})
	r.startWorker(t, queue.WithBreakerRegistry(breakers))

	require.Eventually(t, func() bool {
		n, err := r.store.Len(ctx, "test:failures")
		return err == nil && n == 2
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, breaker.StateOpen, breakers.Get(queue.ProcessOperation).State())
	assert.Zero(t, succeedCalls.Load(), "open breaker must reject before the handler runs")

	jobs := r.terminalJobs(t, "test:failures")
	require.Len(t, jobs, 2)
	var reasons []string
	for _, job := range jobs {
		reasons = append(reasons, job.FailureReason)
	}
	assert.Contains(t, reasons[0]+reasons[1], "circuit is open")
}

// A stopped worker can be started again and must keep dispatching blocking
// handlers, which exercise the pool rebuilt on restart.
func TestWorker_RestartProcessesBlockingJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)

	require.NoError(t, r.registry.RegisterHandler(queue.Handler{
		Name: "blocking_ok",
		Kind: queue.Blocking,
		Fn: func(context.Context, json.RawMessage) (any, error) {
			return nil, nil
		},
	}))

	worker, err := queue.NewWorker(r.store,
		queue.WithWorkerKeyPrefix("test:"),
		queue.WithWorkerRegistry(r.registry),
		queue.WithWorkerMetrics(r.metrics),
		queue.WithWorkerLogger(discardLogger()),
		queue.WithWorkerCount(1),
		queue.WithBusySleep(time.Millisecond),
		queue.WithIdleSleep(5*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, worker.Start(ctx))
	_, err = r.manager.Enqueue(ctx, map[string]int{"n": 1}, "blocking_ok")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return r.metrics.Get(queue.MetricProcessed) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, worker.Stop())

	require.NoError(t, worker.Start(ctx))
	t.Cleanup(func() { _ = worker.Stop() })

	_, err = r.manager.Enqueue(ctx, map[string]int{"n": 2}, "blocking_ok")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return r.metrics.Get(queue.MetricProcessed) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

// A panicking handler is converted to a failure; the scheduling loop
// survives and keeps processing other jobs.
func TestWorker_PanicRecovered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRuntime(t)

	require.NoError(t, r.registry.RegisterHandler(queue.Handler{
		Name: "panics",
		Kind: queue.NonBlocking,
		Fn: func(context.Context, json.RawMessage) (any, error) {
			panic("boom")
		},
	}))
	require.NoError(t, r.registry.RegisterHandler(queue.Handler{
		Name: "succeeds", Kind: queue.NonBlocking, Fn: noopHandler,
	}))

	_, err := r.manager.Enqueue(ctx, map[string]int{"n": 1}, "panics",
		queue.WithPriority(queue.PriorityHigh),
		queue.WithRetryPolicy(retry.Fixed(time.Millisecond, 1)))
	require.NoError(t, err)
	_, err = r.manager.Enqueue(ctx, map[string]int{"n": 2}, "succeeds")
	require.NoError(t, err)

	r.startWorker(t)

	require.Eventually(t, func() bool {
		return r.metrics.Get(queue.MetricProcessed) == 1 &&
			r.metrics.Get(queue.MetricFailed) == 1
	}, 5*time.Second, 10*time.Millisecond)

	jobs := r.terminalJobs(t, "test:failures")
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].FailureReason, "panic in handler")
}
