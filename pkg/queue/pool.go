package queue

import (
	"sync"
	"sync/atomic"
	"time"
)

// blockingPool executes blocking handlers on a fixed number of goroutines.
// Submission is bounded by a short admission window instead of queueing
// indefinitely: when every slot and buffer position is busy for longer than
// the window, the submit fails with ErrPoolExhausted so the caller can treat
// saturation as its own failure mode, distinct from a slow handler.
type blockingPool struct {
	tasks   chan func()
	size    int64
	active  atomic.Int64
	metrics Metrics
	wg      sync.WaitGroup

	// mu serializes submits against shutdown: the task channel may only be
	// closed while no submit holds the read lock, so a submit can never send
	// on a closed channel.
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

func newBlockingPool(size int, metrics Metrics) *blockingPool {
	if size <= 0 {
		size = 1
	}
	p := &blockingPool{
		tasks:   make(chan func(), size),
		size:    int64(size),
		metrics: metrics,
	}
	for range size {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *blockingPool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.metrics.SetPoolUtilization(p.active.Add(1), p.size)
		task()
		p.metrics.SetPoolUtilization(p.active.Add(-1), p.size)
	}
}

// submit offers the task to the pool, giving up after the admission window.
// A pool that has been shut down rejects the task with ErrPoolClosed.
func (p *blockingPool) submit(task func(), window time.Duration) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-time.After(window):
		return ErrPoolExhausted
	}
}

// shutdown stops accepting tasks. Already-submitted tasks are drained by the
// pool goroutines but shutdown does not wait for them to finish. Shutdown
// blocks for at most one admission window while in-flight submits settle.
func (p *blockingPool) shutdown() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
	})
}
