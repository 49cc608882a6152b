// Package workerpool implements C2: a fixed-capacity pool of inference
// worker processes, constructed lazily up to max_count. Grounded on
// _examples/original_source/src/assistant/object_pool.py's AsyncObjectPool
// (acquire_nowait/acquire/release) and structurally on the teacher's
// internal/background/polling_manager.go (capacity gate, mutex-guarded
// bookkeeping separate from the suspending work it guards).
package workerpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meshchat/meshchat-service/internal/worker"
)

var workersCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "meshchat_workers_created",
	Help: "Total number of worker processes constructed across all pools.",
})

// Factory constructs one new worker process. It is called without the
// pool's mutex held, so constructions for concurrent acquires are not
// serialized and may run in parallel; the created count, reserved under the
// mutex before the call, keeps them within capacity.
type Factory func() (*worker.Worker, error)

// Pool owns up to maxCount worker processes and loans them out one at a
// time. Created workers never exceed maxCount; every worker is free or
// loaned, never both, never neither once constructed.
type Pool struct {
	factory  Factory
	maxCount int

	mu      sync.Mutex
	free    []*worker.Worker
	created int

	waiters chan struct{} // buffered release signal for blocking Acquire
}

func New(maxCount int, factory Factory) *Pool {
	return &Pool{
		factory:  factory,
		maxCount: maxCount,
		waiters:  make(chan struct{}, maxCount),
	}
}

// TryAcquire returns a free worker without waiting, constructing a new one
// if capacity allows, or nil if every worker is loaned and capacity is
// exhausted. Never blocks.
func (p *Pool) TryAcquire() (*worker.Worker, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		w := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return w, nil
	}
	if p.created >= p.maxCount {
		p.mu.Unlock()
		return nil, nil
	}
	p.created++
	p.mu.Unlock()

	w, err := p.factory()
	if err != nil {
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
		return nil, fmt.Errorf("workerpool: construct worker: %w", err)
	}
	workersCreated.Inc()
	return w, nil
}

// Acquire behaves like TryAcquire but waits until a worker is available
// when the pool is saturated.
func (p *Pool) Acquire(ctx context.Context) (*worker.Worker, error) {
	for {
		w, err := p.TryAcquire()
		if err != nil {
			return nil, err
		}
		if w != nil {
			return w, nil
		}
		select {
		case <-p.waiters:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a worker to the free list. A dead worker (its process
// exited) is dropped instead of being reused, and capacity is freed for a
// fresh one to be constructed on next acquire — this is how a pool
// recovers from a crashed worker.
func (p *Pool) Release(w *worker.Worker) {
	p.mu.Lock()
	if !w.Alive() {
		p.created--
		p.mu.Unlock()
		_ = w.Close()
	} else {
		p.free = append(p.free, w)
		p.mu.Unlock()
	}

	select {
	case p.waiters <- struct{}{}:
	default:
	}
}

// Stats reports the pool's current created/free/loaned counts, for metrics
// and for the pool invariant tests.
type Stats struct {
	Created int
	Free    int
	Loaned  int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Created: p.created,
		Free:    len(p.free),
		Loaned:  p.created - len(p.free),
	}
}

// Shutdown terminates every worker the pool currently holds free. Loaned
// workers are not terminated: the orchestrator only signals its live
// streams to stop before calling Shutdown, so a worker they still hold is
// released afterwards and goes back onto the free list.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	workers := p.free
	p.free = nil
	p.mu.Unlock()

	for _, w := range workers {
		_ = w.Close()
	}
}
