// Package queue implements a reliability layer for deferred, at-least-once
// job execution over an abstract keyed-list + keyed-set store (Redis in
// production, an in-memory store in tests).
//
// Producers submit entities through a Manager, tagged with a processor name,
// a priority tier and a retry policy. A Worker runs independent scheduling
// loops that poll per-processor queues in priority order (high, normal,
// low), execute the named handler and route outcomes:
//
//   - success: the on_success callback fires once and the processed metric
//     is incremented;
//   - retryable failure: the job is re-pushed with a jittered backoff delay
//     and becomes eligible again at next_retry_time;
//   - exhausted retries or a spent wall-clock budget: the job lands in the
//     failures terminal queue and the on_failure callback fires;
//   - structural problems (malformed payload, unresolvable handler or
//     callback): the job lands in the system_errors terminal queue.
//
// Handlers are registered explicitly by name, tagged NonBlocking (awaited
// under a per-attempt timeout) or Blocking (run on a fixed-size pool with a
// bounded admission window; saturation is a distinct pool-exhaustion failure
// mode). Handler execution is guarded by a shared circuit breaker so a
// failing downstream cannot cascade.
//
// # Usage
//
//	store, _ := queue.NewRedisStore(client)
//	registry := queue.NewRegistry()
//	_ = registry.RegisterHandler(queue.Handler{
//	    Name: "send_email",
//	    Kind: queue.NonBlocking,
//	    Fn: func(ctx context.Context, entity json.RawMessage) (any, error) {
//	        // ...
//	        return nil, nil
//	    },
//	})
//
//	manager, _ := queue.NewManager(store, queue.WithRegistry(registry))
//	res, _ := manager.Enqueue(ctx, emailPayload, "send_email",
//	    queue.WithPriority(queue.PriorityHigh),
//	    queue.WithRetryPolicy(retry.Fixed(5*time.Second, 3)))
//
//	worker, _ := queue.NewWorker(store, queue.WithWorkerRegistry(registry))
//	_ = worker.Start(ctx)
//	defer worker.Stop()
//
// There is no synchronous feedback path from worker to producer: execution
// failures are visible only through on_failure callbacks, the failures
// queue and the aggregate metrics exposed by Manager.QueueStatus.
package queue
