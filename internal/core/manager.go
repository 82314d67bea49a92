package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"translator-backend/internal/config"
	"translator-backend/internal/core/types"
	"translator-backend/internal/metrics"
	"translator-backend/internal/results"
)

var ErrStopped = errors.New("translation manager stopped")

type Options struct {
	ShortTextThreshold int

	FastCapacity   int
	NormalCapacity int
	BulkCapacity   int

	NormalWorkers    int
	NormalWorkersMin int
	NormalWorkersMax int
	BulkWorkers      int
	BulkWorkersMin   int
	BulkWorkersMax   int

	BatchEnabled bool
	BatchWindow  time.Duration
	BatchMaxSize int

	ScalingInterval time.Duration
	DequeueTimeout  time.Duration
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ShortTextThreshold: cfg.ShortTextThreshold,
		FastCapacity:       cfg.FastPoolCapacity,
		NormalCapacity:     cfg.NormalPoolCapacity,
		BulkCapacity:       cfg.AnyPoolCapacity,
		NormalWorkers:      cfg.NormalWorkers,
		NormalWorkersMin:   cfg.NormalWorkersMin,
		NormalWorkersMax:   cfg.NormalWorkersMax,
		BulkWorkers:        cfg.AnyWorkers,
		BulkWorkersMin:     cfg.AnyWorkersMin,
		BulkWorkersMax:     cfg.AnyWorkersMax,
		BatchEnabled:       cfg.BatchEnabled,
		BatchWindow:        cfg.BatchWindow(),
		BatchMaxSize:       cfg.BatchMaxSize,
		ScalingInterval:    cfg.ScalingInterval,
		DequeueTimeout:     cfg.WorkerDequeueTimeout,
	}
}

func (o *Options) withDefaults() {
	if o.ShortTextThreshold <= 0 {
		o.ShortTextThreshold = 100
	}
	if o.FastCapacity <= 0 {
		o.FastCapacity = 5000
	}
	if o.NormalCapacity <= 0 {
		o.NormalCapacity = 10000
	}
	if o.BulkCapacity <= 0 {
		o.BulkCapacity = 10000
	}
	if o.NormalWorkersMin <= 0 {
		o.NormalWorkersMin = 2
	}
	if o.NormalWorkersMax <= 0 {
		o.NormalWorkersMax = 40
	}
	if o.BulkWorkersMin <= 0 {
		o.BulkWorkersMin = 2
	}
	if o.BulkWorkersMax <= 0 {
		o.BulkWorkersMax = 20
	}
	if o.ScalingInterval <= 0 {
		o.ScalingInterval = DefaultScalingInterval
	}
	if o.DequeueTimeout <= 0 {
		o.DequeueTimeout = time.Second
	}
}

// Manager owns the three lanes, the worker pools that drain them and the
// batch accumulator in front of the normal and bulk lanes.
type Manager struct {
	opts      Options
	fast      *lane
	lanes     map[types.Lane]*lane
	pools     []*pool
	batcher   *Batcher
	publisher *results.Publisher
	stats     *metrics.ServerStats

	started atomic.Bool
	stopped atomic.Bool

	cancelWorkers    context.CancelFunc
	cancelBackground context.CancelFunc
	background       sync.WaitGroup
}

func NewManager(opts Options, processor *TranslationProcessor, publisher *results.Publisher, stats *metrics.ServerStats) *Manager {
	opts.withDefaults()

	fast := newLane(types.FastLane, opts.FastCapacity)
	normal := newLane(types.NormalLane, opts.NormalCapacity)
	bulk := newLane(types.BulkLane, opts.BulkCapacity)

	m := &Manager{
		opts: opts,
		fast: fast,
		lanes: map[types.Lane]*lane{
			types.FastLane:   fast,
			types.NormalLane: normal,
			types.BulkLane:   bulk,
		},
		publisher: publisher,
		stats:     stats,
	}

	m.pools = []*pool{
		newPool(normal, fast, poolConfig{
			min:            opts.NormalWorkersMin,
			max:            opts.NormalWorkersMax,
			initial:        opts.NormalWorkers,
			policy:         NormalScaling,
			dequeueTimeout: opts.DequeueTimeout,
		}, processor.Process),
		newPool(bulk, fast, poolConfig{
			min:            opts.BulkWorkersMin,
			max:            opts.BulkWorkersMax,
			initial:        opts.BulkWorkers,
			policy:         BulkScaling,
			dequeueTimeout: opts.DequeueTimeout,
		}, processor.Process),
	}

	if opts.BatchEnabled {
		m.batcher = NewBatcher(opts.BatchWindow, opts.BatchMaxSize, m.enqueueBatch)
	}
	return m
}

func (m *Manager) ShortTextThreshold() int {
	return m.opts.ShortTextThreshold
}

// Start launches the workers, the batch flusher and the scaler. They run
// until Stop is called or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	backgroundCtx, cancelBackground := context.WithCancel(ctx)
	m.cancelWorkers = cancelWorkers
	m.cancelBackground = cancelBackground

	for _, p := range m.pools {
		p.start(workerCtx)
	}

	if m.batcher != nil {
		m.background.Add(1)
		go func() {
			defer m.background.Done()
			m.batcher.Run(backgroundCtx)
		}()
	}

	m.background.Add(1)
	go func() {
		defer m.background.Done()
		if err := m.runScaler(backgroundCtx); err != nil {
			slog.Error("scaler stopped", "error", err)
		}
	}()

	m.reportLanes()
	slog.Info("translation manager started",
		"short_text_threshold", m.opts.ShortTextThreshold,
		"batching", m.opts.BatchEnabled,
		"scaling_interval", m.opts.ScalingInterval,
	)
}

// Submit routes a job to its lane. It never blocks: when the lane is full a
// pool_full error is published for every target language and ErrPoolFull is
// returned.
func (m *Manager) Submit(ctx context.Context, job types.Job) error {
	if m.stopped.Load() {
		return ErrStopped
	}

	if job.Lane != types.FastLane && m.batcher != nil {
		m.batcher.Add(job)
		return nil
	}

	return m.enqueue(ctx, workItem{job: &job}, job.Lane)
}

func (m *Manager) enqueue(ctx context.Context, item workItem, laneName types.Lane) error {
	l, ok := m.lanes[laneName]
	if !ok {
		return fmt.Errorf("unknown lane %q", laneName)
	}

	if !l.tryEnqueue(item) {
		slog.Warn("lane full, rejecting work", "lane", laneName, "depth", l.depth(), "jobs", len(item.jobs()))
		for _, job := range item.jobs() {
			m.publisher.PublishPoolFull(ctx, job)
		}
		return ErrPoolFull
	}
	return nil
}

func (m *Manager) enqueueBatch(batch types.Batch) {
	if len(batch.Jobs) == 0 {
		return
	}
	if err := m.enqueue(context.Background(), workItem{batch: &batch}, batch.Lane); err != nil {
		slog.Error("error enqueueing batch", "batch_key", batch.Key, "size", len(batch.Jobs), "error", err)
	}
}

func (m *Manager) LaneDepth(l types.Lane) int {
	if lane, ok := m.lanes[l]; ok {
		return lane.depth()
	}
	return 0
}

func (m *Manager) Workers(l types.Lane) int {
	for _, p := range m.pools {
		if p.laneName() == l {
			return p.workers()
		}
	}
	return 0
}

// Stop rejects new jobs, flushes the batch accumulator and lets workers drain
// the lanes until ctx expires. Workers still running at that point are
// cancelled.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if !m.started.Load() {
		if m.batcher != nil {
			m.batcher.Close()
		}
		return nil
	}

	m.cancelBackground()
	m.background.Wait()

	var errs []error
	for _, p := range m.pools {
		if err := p.drain(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.cancelWorkers()

	if err := errors.Join(errs...); err != nil {
		slog.Warn("translation manager stopped before lanes drained", "error", err,
			"fast", m.fast.depth(), "normal", m.LaneDepth(types.NormalLane), "any", m.LaneDepth(types.BulkLane))
		return err
	}
	slog.Info("translation manager stopped")
	return nil
}
