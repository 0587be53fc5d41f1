// Package blockingpool offloads synchronous filesystem work (object puts,
// pack writes, fsync) onto a bounded worker pool so that async HTTP
// handlers never block the network-serving goroutines directly on disk I/O.
package blockingpool

import (
	"context"

	"github.com/alitto/pond"
)

// Pool runs durable-write callbacks on a fixed number of workers.
type Pool struct {
	pool *pond.WorkerPool
}

// New creates a Pool with maxWorkers concurrent goroutines, keeping at
// least minWorkers warm to avoid cold-start latency on the commit path.
func New(maxWorkers, minWorkers int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if minWorkers <= 0 {
		minWorkers = 1
	}
	return &Pool{pool: pond.New(maxWorkers, 0, pond.MinWorkers(minWorkers))}
}

// Submit runs fn on a pool worker and blocks the caller until it completes
// or ctx is cancelled, returning fn's error (or ctx.Err()).
func (p *Pool) Submit(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	p.pool.Submit(func() {
		done <- fn()
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports the pool's current load (running workers and queued
// tasks). No metric exports it.
func (p *Pool) Stats() (running, waiting int) {
	return int(p.pool.RunningWorkers()), int(p.pool.WaitingTasks())
}

// StopAndWait drains the queue and waits for in-flight work to finish.
func (p *Pool) StopAndWait() {
	p.pool.StopAndWait()
}
