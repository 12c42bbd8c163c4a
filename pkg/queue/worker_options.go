package queue

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/relayq/pkg/breaker"
)

// WorkerOption is a functional option for configuring a worker.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	keyPrefix       string
	registry        *Registry
	metrics         Metrics
	logger          *slog.Logger
	breakers        *breaker.Registry
	workerCount     int
	poolSize        int
	defaultTimeout  time.Duration
	admissionWindow time.Duration
	busySleep       time.Duration
	idleSleep       time.Duration
	shutdownTimeout time.Duration
}

// WithConfig applies an environment-loaded Config to the worker.
func WithConfig(cfg Config) WorkerOption {
	return func(o *workerOptions) {
		if cfg.KeyPrefix != "" {
			o.keyPrefix = cfg.KeyPrefix
		}
		if cfg.WorkerCount > 0 {
			o.workerCount = cfg.WorkerCount
		}
		if cfg.PoolSize > 0 {
			o.poolSize = cfg.PoolSize
		}
		if cfg.DefaultTimeout > 0 {
			o.defaultTimeout = cfg.DefaultTimeout
		}
		if cfg.AdmissionWindow > 0 {
			o.admissionWindow = cfg.AdmissionWindow
		}
		if cfg.BusySleep > 0 {
			o.busySleep = cfg.BusySleep
		}
		if cfg.IdleSleep > 0 {
			o.idleSleep = cfg.IdleSleep
		}
		if cfg.ShutdownTimeout > 0 {
			o.shutdownTimeout = cfg.ShutdownTimeout
		}
	}
}

// WithWorkerKeyPrefix sets the store key prefix the worker scans.
func WithWorkerKeyPrefix(prefix string) WorkerOption {
	return func(o *workerOptions) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithWorkerRegistry shares a handler/callback registry with a manager.
func WithWorkerRegistry(registry *Registry) WorkerOption {
	return func(o *workerOptions) {
		if registry != nil {
			o.registry = registry
		}
	}
}

// WithWorkerMetrics injects the metrics sink.
func WithWorkerMetrics(metrics Metrics) WorkerOption {
	return func(o *workerOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithWorkerLogger sets the logger for the worker.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBreakerRegistry injects the circuit breaker registry protecting
// handler execution.
func WithBreakerRegistry(breakers *breaker.Registry) WorkerOption {
	return func(o *workerOptions) {
		if breakers != nil {
			o.breakers = breakers
		}
	}
}

// WithWorkerCount sets how many independent scheduling loops the worker runs.
func WithWorkerCount(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.workerCount = n
		}
	}
}

// WithPoolSize sets the fixed size of the blocking-handler pool.
func WithPoolSize(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithDefaultTimeout sets the per-attempt timeout applied to non-blocking
// handlers when the job's remaining budget is larger (or absent).
func WithDefaultTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

// WithAdmissionWindow bounds how long a blocking handler submission waits
// for a pool slot before it counts as pool exhaustion.
func WithAdmissionWindow(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.admissionWindow = d
		}
	}
}

// WithBusySleep sets the pause after a cycle that dispatched an item.
func WithBusySleep(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.busySleep = d
		}
	}
}

// WithIdleSleep sets the pause after a cycle that found nothing eligible.
func WithIdleSleep(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.idleSleep = d
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for in-flight work.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}
