package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"translator-backend/internal/core/types"
)

const (
	DefaultBatchWindow  = 50 * time.Millisecond
	DefaultBatchMaxSize = 10
)

// Batcher groups jobs with the same language pair and model tier that arrive
// within one window. A bucket is flushed when the window ticks, or at once
// when it reaches the maximum size.
type Batcher struct {
	window  time.Duration
	maxSize int
	flush   func(types.Batch)

	mu      sync.Mutex
	buckets map[string]*types.Batch
	order   []string
	closed  bool
}

func NewBatcher(window time.Duration, maxSize int, flush func(types.Batch)) *Batcher {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	if maxSize <= 0 {
		maxSize = DefaultBatchMaxSize
	}
	return &Batcher{
		window:  window,
		maxSize: maxSize,
		flush:   flush,
		buckets: make(map[string]*types.Batch),
	}
}

// bucketKey keeps bulk and normal jobs apart so a flushed batch has a single
// lane.
func bucketKey(job types.Job) string {
	return string(job.Lane) + "|" + types.BatchKey(job)
}

func (b *Batcher) Add(job types.Job) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.flush(types.Batch{Key: types.BatchKey(job), Lane: job.Lane, Jobs: []types.Job{job}, CreatedAt: time.Now()})
		return
	}

	key := bucketKey(job)
	bucket, ok := b.buckets[key]
	if !ok {
		bucket = &types.Batch{Key: types.BatchKey(job), Lane: job.Lane, CreatedAt: time.Now()}
		b.buckets[key] = bucket
		b.order = append(b.order, key)
	}
	bucket.Jobs = append(bucket.Jobs, job)

	var full *types.Batch
	if len(bucket.Jobs) >= b.maxSize {
		full = bucket
		b.removeLocked(key)
	}
	b.mu.Unlock()

	if full != nil {
		b.flush(*full)
	}
}

func (b *Batcher) removeLocked(key string) {
	delete(b.buckets, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// FlushAll hands every pending bucket to the flush callback in the order the
// buckets were opened.
func (b *Batcher) FlushAll() int {
	b.mu.Lock()
	pending := make([]types.Batch, 0, len(b.order))
	for _, key := range b.order {
		pending = append(pending, *b.buckets[key])
	}
	b.buckets = make(map[string]*types.Batch)
	b.order = nil
	b.mu.Unlock()

	for _, batch := range pending {
		b.flush(batch)
	}
	return len(pending)
}

func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, bucket := range b.buckets {
		n += len(bucket.Jobs)
	}
	return n
}

// Run flushes on every window tick until ctx is done, then flushes whatever is
// left. Jobs added after Run returns are flushed immediately as single-job
// batches.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Close()
			return
		case <-ticker.C:
			b.FlushAll()
		}
	}
}

func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	if n := b.FlushAll(); n > 0 {
		slog.Info("flushed pending batches on shutdown", "batches", n)
	}
}
