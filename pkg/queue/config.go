package queue

import "time"

// Config holds the environment-driven tuning knobs for the queue runtime.
type Config struct {
	KeyPrefix       string        `env:"QUEUE_KEY_PREFIX" envDefault:"relayq:"`
	WorkerCount     int           `env:"QUEUE_WORKER_COUNT" envDefault:"4"`
	PoolSize        int           `env:"QUEUE_POOL_SIZE" envDefault:"10"`
	DefaultTimeout  time.Duration `env:"QUEUE_DEFAULT_TIMEOUT" envDefault:"30s"`
	AdmissionWindow time.Duration `env:"QUEUE_POOL_ADMISSION_WINDOW" envDefault:"100ms"`
	BusySleep       time.Duration `env:"QUEUE_BUSY_SLEEP" envDefault:"10ms"`
	IdleSleep       time.Duration `env:"QUEUE_IDLE_SLEEP" envDefault:"250ms"`
	ShutdownTimeout time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	DedupTTL        time.Duration `env:"QUEUE_DEDUP_TTL" envDefault:"24h"`
}
