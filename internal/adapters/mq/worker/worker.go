// Package worker runs recompute jobs from the queue on a fixed pool of
// goroutines.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/errquotient/internal/adapters/mq/queue"
	"github.com/okian/errquotient/pkg/logger"
	"github.com/okian/errquotient/pkg/metrics"
)

const (
	defaultJobTimeout = 2 * time.Minute
	metricsInterval   = 5 * time.Second
)

// Recomputer recomputes one user.
type Recomputer interface {
	Recompute(ctx context.Context, userID string) error
}

// Pending is told when a user's job leaves the queue.
type Pending interface {
	Clear(ctx context.Context, id string)
}

// Source delivers jobs.
type Source interface {
	Dequeue() <-chan queue.Job
}

type noPending struct{}

func (noPending) Clear(context.Context, string) {}

// Pool manages a fixed set of workers sharing one job source.
type Pool struct {
	source     Source
	recomputer Recomputer
	pending    Pending
	count      int
	jobTimeout time.Duration
	log        logger.Logger

	started     atomic.Bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	quit        chan struct{}
	quitOnce    sync.Once
	metricsDone chan struct{}
	processed   atomic.Int64
	failed      atomic.Int64
	inFlight    atomic.Int64
}

// NewPool creates a pool of workerCount workers; values below one pick
// twice the CPU count.
func NewPool(workerCount int, source Source, recomputer Recomputer, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * 2
	}
	p := &Pool{
		source:      source,
		recomputer:  recomputer,
		pending:     noPending{},
		count:       workerCount,
		jobTimeout:  defaultJobTimeout,
		log:         logger.Nop(),
		quit:        make(chan struct{}),
		metricsDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start launches the workers. They run until the source channel is closed
// and drained or ctx ends.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.run(ctx, "worker-"+strconv.Itoa(i))
	}
	go p.reportMetrics(ctx)
}

func (p *Pool) run(ctx context.Context, name string) {
	defer p.wg.Done()
	log := p.log.Named(name)
	jobs := p.source.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			p.process(ctx, log, j)
		}
	}
}

func (p *Pool) process(ctx context.Context, log logger.Logger, j queue.Job) {
	start := time.Now()
	p.inFlight.Add(1)
	metrics.AddWorkerActive(1)
	defer func() {
		p.inFlight.Add(-1)
		metrics.AddWorkerActive(-1)
		metrics.RecordWorkerProcessingLatency(time.Since(start))
	}()

	p.pending.Clear(ctx, j.UserID)

	jctx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()
	if err := p.recomputer.Recompute(jctx, j.UserID); err != nil {
		p.failed.Add(1)
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "recompute")
		log.Error(ctx, "recompute failed", logger.UserID(j.UserID), logger.Error(err),
			logger.Duration("queued_for", start.Sub(j.EnqueuedAt)))
		return
	}
	p.processed.Add(1)
}

func (p *Pool) reportMetrics(ctx context.Context) {
	defer close(p.metricsDone)
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case <-ticker.C:
			metrics.UpdateSystemStats()
		}
	}
}

// Stats reports job counters.
func (p *Pool) Stats() (processed, failed int64) {
	return p.processed.Load(), p.failed.Load()
}

// InFlight reports jobs taken off the source and not yet finished. A job
// is counted before its pending mark is cleared.
func (p *Pool) InFlight() int64 { return p.inFlight.Load() }

// Workers returns the configured worker count.
func (p *Pool) Workers() int { return p.count }

// Shutdown closes the source if it can be closed and lets the workers drain
// what is queued. When ctx ends first, in-flight jobs are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.source.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.log.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	if !p.started.Load() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn(ctx, "worker shutdown timed out, cancelling in-flight jobs")
		p.cancel()
		<-done
		err = fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
	p.quitOnce.Do(func() { close(p.quit) })
	<-p.metricsDone
	p.cancel()
	return err
}
