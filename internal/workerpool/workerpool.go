// Package workerpool owns the fixed set of media-engine Workers the
// coordinator spreads Routers across, and the fail-fast behavior when one
// dies (spec.md §4.1).
package workerpool

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
	"github.com/adityaadpandey/sfu-coordinator/internal/metrics"
)

// Pool holds N long-lived engine.Workers and assigns new Routers to them
// round-robin. It never restarts an individual dead worker — spec.md §4.1
// treats any worker death as fatal to the whole process, so Watch is the
// only reaction this package implements.
type Pool struct {
	workers []engine.Worker
	next    uint64
	log     *zap.Logger
}

// New builds a Pool from already-constructed workers — typically produced
// by engine.NewPionWorker, one per configured port-range slice.
func New(workers []engine.Worker, log *zap.Logger) *Pool {
	return &Pool{workers: workers, log: log.Named("workerpool")}
}

// Next returns the next worker in round-robin order.
func (p *Pool) Next() engine.Worker {
	i := atomic.AddUint64(&p.next, 1)
	return p.workers[int(i)%len(p.workers)]
}

// Size reports the number of workers in the pool.
func (p *Pool) Size() int { return len(p.workers) }

// Watch blocks until any worker reports a fatal failure or ctx is done,
// returning the triggering error. The caller (cmd/sfu) is expected to log
// it and exit the process — there is no supervised-restart path, matching
// spec.md §4.1's "if any worker process dies, the whole coordinator
// process exits non-zero" contract.
func (p *Pool) Watch(ctx context.Context) error {
	cases := make(chan error, len(p.workers))
	for _, w := range p.workers {
		w := w
		go func() {
			select {
			case err := <-w.Dead():
				cases <- fmt.Errorf("worker %s died: %w", w.ID(), err)
			case <-ctx.Done():
			}
		}()
	}

	select {
	case err := <-cases:
		metrics.WorkerRestartsTotal.Inc()
		p.log.Error("worker died, process will exit", zap.Error(err))
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down every worker in the pool.
func (p *Pool) Close() error {
	var firstErr error
	for _, w := range p.workers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
