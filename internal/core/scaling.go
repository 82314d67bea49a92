package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultScalingInterval = 30 * time.Second

// ScalingPolicy decides a lane's worker count from its queue depth and the
// share of its workers that are busy.
type ScalingPolicy struct {
	ScaleUpDepth   int
	ScaleDownDepth int
	ScaleUpStep    int
	ScaleDownStep  int
	HighUtil       float64
	LowUtil        float64
}

var (
	NormalScaling = ScalingPolicy{
		ScaleUpDepth:   100,
		ScaleDownDepth: 10,
		ScaleUpStep:    5,
		ScaleDownStep:  2,
		HighUtil:       0.8,
		LowUtil:        0.3,
	}
	BulkScaling = ScalingPolicy{
		ScaleUpDepth:   50,
		ScaleDownDepth: 5,
		ScaleUpStep:    3,
		ScaleDownStep:  1,
		HighUtil:       0.8,
		LowUtil:        0.3,
	}
)

// Decide returns the new worker count, clamped to [minWorkers, maxWorkers].
func (p ScalingPolicy) Decide(depth, workers int, utilization float64, minWorkers, maxWorkers int) int {
	next := workers
	switch {
	case depth > p.ScaleUpDepth && utilization > p.HighUtil:
		next = workers + p.ScaleUpStep
	case depth < p.ScaleDownDepth && utilization < p.LowUtil:
		next = workers - p.ScaleDownStep
	}
	return min(max(next, minWorkers), maxWorkers)
}

func (m *Manager) checkScaling() {
	for _, p := range m.pools {
		depth := p.lane.depth()
		workers := p.workers()
		utilization := p.utilization()

		next := p.policy.Decide(depth, workers, utilization, p.min, p.max)
		if next != workers {
			direction := "up"
			if next < workers {
				direction = "down"
			}
			next = p.resize(next)
			m.stats.ScalingEvent(string(p.laneName()), direction)
			slog.Info("scaled worker pool",
				"lane", p.laneName(),
				"direction", direction,
				"from", workers,
				"to", next,
				"depth", depth,
				"utilization", utilization,
			)
		}
	}
	m.reportLanes()
}

func (m *Manager) reportLanes() {
	m.stats.SetLaneState(string(m.fast.name), m.fast.depth(), 0)
	for _, p := range m.pools {
		m.stats.SetLaneState(string(p.laneName()), p.lane.depth(), p.workers())
	}
}

// runScaler schedules scaling checks until ctx is done.
func (m *Manager) runScaler(ctx context.Context) error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", m.opts.ScalingInterval), func() {
		m.checkScaling()
	}); err != nil {
		return fmt.Errorf("error scheduling scaling check: %w", err)
	}

	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}
