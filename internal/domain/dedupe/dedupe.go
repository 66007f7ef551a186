// Package dedupe coalesces recompute requests: while a user already has a
// job waiting in the queue, further events for that user need no new job.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/errquotient/pkg/metrics"
)

const defaultMaxSize = 50000

// Pending tracks user ids that have a queued recompute job.
type Pending interface {
	// MarkPending records id and reports whether it was already pending.
	// A false result means the caller owns the job and must enqueue it.
	MarkPending(ctx context.Context, id string) bool

	// Clear forgets id. Workers call it right before recomputing so events
	// arriving during the run schedule a fresh job.
	Clear(ctx context.Context, id string)

	Size() int64
}

// inMemoryPending is a mutex-guarded set. When the set is full new ids are
// not tracked, so they are never coalesced but always enqueued.
type inMemoryPending struct {
	mu      sync.Mutex
	pending map[string]struct{}
	maxSize int
	size    atomic.Int64
}

// NewInMemoryPending creates a pending set.
func NewInMemoryPending(opts ...Option) Pending {
	p := &inMemoryPending{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(p)
	}
	p.pending = make(map[string]struct{})
	return p
}

func (p *inMemoryPending) MarkPending(ctx context.Context, id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pending[id]; ok {
		return true
	}
	if p.maxSize > 0 && len(p.pending) >= p.maxSize {
		metrics.RecordErrorByComponent("dedupe", "pending_set_full")
		return false
	}
	p.pending[id] = struct{}{}
	p.size.Add(1)
	return false
}

func (p *inMemoryPending) Clear(ctx context.Context, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pending[id]; ok {
		delete(p.pending, id)
		p.size.Add(-1)
	}
}

func (p *inMemoryPending) Size() int64 {
	return p.size.Load()
}
