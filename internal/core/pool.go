package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"translator-backend/internal/core/types"
	"translator-backend/internal/results"
)

type processFunc func(ctx context.Context, item workItem, worker results.WorkerInfo)

// pool runs the workers that own one lane. Every worker also drains the fast
// lane before its own.
type pool struct {
	lane   *lane
	fast   *lane
	min    int
	max    int
	policy ScalingPolicy

	process        processFunc
	dequeueTimeout time.Duration

	mu      sync.Mutex
	ctx     context.Context
	target  int
	nextId  int
	retire  chan struct{}
	running atomic.Int32
	busy    atomic.Int32
	wg      sync.WaitGroup

	// closed once the pool should exit as soon as both lanes are empty
	draining chan struct{}
	logger   *slog.Logger
}

type poolConfig struct {
	min, max, initial int
	policy            ScalingPolicy
	dequeueTimeout    time.Duration
}

func newPool(own, fast *lane, cfg poolConfig, process processFunc) *pool {
	p := &pool{
		lane:           own,
		fast:           fast,
		min:            cfg.min,
		max:            max(cfg.max, cfg.min),
		policy:         cfg.policy,
		process:        process,
		dequeueTimeout: cfg.dequeueTimeout,
		retire:         make(chan struct{}, max(cfg.max, cfg.min)),
		draining:       make(chan struct{}),
		logger:         slog.Default().With("component", "pool", "lane", own.name),
	}
	p.target = min(max(cfg.initial, p.min), p.max)
	return p
}

func (p *pool) start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ctx = ctx
	for i := 0; i < p.target; i++ {
		p.spawnLocked()
	}
	p.logger.Info("worker pool started", "workers", p.target, "min", p.min, "max", p.max, "capacity", p.lane.capacity())
}

func (p *pool) spawnLocked() {
	p.nextId++
	info := results.WorkerInfo{
		WorkerId:   fmt.Sprintf("%s-%d", p.lane.name, p.nextId),
		WorkerName: fmt.Sprintf("%s-worker-%d", p.lane.name, p.nextId),
	}
	p.wg.Add(1)
	p.running.Add(1)
	go p.work(p.ctx, info)
}

// resize moves the target worker count towards n. New workers start at once,
// surplus workers exit after their current item.
func (p *pool) resize(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n = min(max(n, p.min), p.max)
	for p.target < n {
		if p.ctx != nil {
			p.spawnLocked()
		}
		p.target++
	}
	for p.target > n {
		select {
		case p.retire <- struct{}{}:
		default:
		}
		p.target--
	}
	return p.target
}

func (p *pool) workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

func (p *pool) utilization() float64 {
	workers := p.workers()
	if workers == 0 {
		return 0
	}
	return float64(p.busy.Load()) / float64(workers)
}

func (p *pool) next(ctx context.Context) (workItem, bool) {
	if item, ok := p.fast.tryDequeue(); ok {
		return item, true
	}

	timer := time.NewTimer(p.dequeueTimeout)
	defer timer.Stop()

	select {
	case item := <-p.fast.items:
		return item, true
	case item := <-p.lane.items:
		return item, true
	case <-timer.C:
		return workItem{}, false
	case <-ctx.Done():
		return workItem{}, false
	}
}

func (p *pool) work(ctx context.Context, info results.WorkerInfo) {
	defer p.wg.Done()
	defer p.running.Add(-1)

	p.logger.Debug("worker started", "worker_id", info.WorkerId)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.retire:
			p.logger.Debug("worker retired", "worker_id", info.WorkerId)
			return
		default:
		}

		item, ok := p.next(ctx)
		if !ok {
			select {
			case <-p.draining:
				if p.fast.depth() == 0 && p.lane.depth() == 0 {
					return
				}
			default:
			}
			continue
		}

		p.busy.Add(1)
		p.run(ctx, item, info)
		p.busy.Add(-1)
	}
}

func (p *pool) run(ctx context.Context, item workItem, info results.WorkerInfo) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("recovered from panic while processing work item", "worker_id", info.WorkerId, "panic", r)
		}
	}()
	p.process(ctx, item, info)
}

// drain asks workers to exit once both lanes are empty and waits for them or
// for ctx.
func (p *pool) drain(ctx context.Context) error {
	close(p.draining)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s pool did not drain: %w", p.lane.name, ctx.Err())
	}
}

func (p *pool) laneName() types.Lane {
	return p.lane.name
}
