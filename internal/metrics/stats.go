package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"translator-backend/pkg/api"
)

// ServerStats keeps the process wide counters served on /stats and mirrors
// them into the prometheus collectors.
type ServerStats struct {
	start time.Time

	mu           sync.Mutex
	processed    map[string]uint64
	failed       map[string]uint64
	active       map[string]int64
	latencyTotal time.Duration
	latencyCount uint64
	laneDepth    map[string]int
	laneWorkers  map[string]int

	cacheHits          atomic.Uint64
	cacheMisses        atomic.Uint64
	scalingEvents      atomic.Uint64
	qualityRejections  atomic.Uint64
	skippedMessages    atomic.Uint64
	poolFullRejections atomic.Uint64
}

func NewServerStats() *ServerStats {
	return &ServerStats{
		start:       time.Now(),
		processed:   make(map[string]uint64),
		failed:      make(map[string]uint64),
		active:      make(map[string]int64),
		laneDepth:   make(map[string]int),
		laneWorkers: make(map[string]int),
	}
}

func (s *ServerStats) TaskStarted(taskType string) {
	s.mu.Lock()
	s.active[taskType]++
	s.mu.Unlock()
	ActiveTasks.WithLabelValues(taskType).Inc()
}

func (s *ServerStats) TaskDone(taskType string) {
	s.mu.Lock()
	s.active[taskType]--
	s.mu.Unlock()
	ActiveTasks.WithLabelValues(taskType).Dec()
}

func (s *ServerStats) ActiveTasks() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, n := range s.active {
		total += n
	}
	return total
}

func (s *ServerStats) RecordResult(taskType string, ok bool, latency time.Duration) {
	status := "completed"
	s.mu.Lock()
	if ok {
		s.processed[taskType]++
	} else {
		s.failed[taskType]++
		status = "failed"
	}
	s.latencyTotal += latency
	s.latencyCount++
	s.mu.Unlock()

	TasksTotal.WithLabelValues(taskType, status).Inc()
	TaskLatency.WithLabelValues(taskType).Observe(latency.Seconds())
}

func (s *ServerStats) CacheHit() {
	s.cacheHits.Add(1)
	CacheLookups.WithLabelValues("hit").Inc()
}

func (s *ServerStats) CacheMiss() {
	s.cacheMisses.Add(1)
	CacheLookups.WithLabelValues("miss").Inc()
}

func (s *ServerStats) ScalingEvent(lane, direction string) {
	s.scalingEvents.Add(1)
	ScalingEvents.WithLabelValues(lane, direction).Inc()
}

func (s *ServerStats) QualityRejection(reason string) {
	s.qualityRejections.Add(1)
	QualityRejections.WithLabelValues(reason).Inc()
}

func (s *ServerStats) Skipped(reason string) {
	s.skippedMessages.Add(1)
	SkippedMessages.WithLabelValues(reason).Inc()
}

func (s *ServerStats) PoolFull(lane string) {
	s.poolFullRejections.Add(1)
	PoolFullRejections.WithLabelValues(lane).Inc()
}

func (s *ServerStats) EnvelopeDropped(reason string) {
	DroppedEnvelopes.WithLabelValues(reason).Inc()
}

func (s *ServerStats) SetLaneState(lane string, depth, workers int) {
	s.mu.Lock()
	s.laneDepth[lane] = depth
	s.laneWorkers[lane] = workers
	s.mu.Unlock()

	LaneDepth.WithLabelValues(lane).Set(float64(depth))
	LaneWorkers.WithLabelValues(lane).Set(float64(workers))
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *ServerStats) Snapshot() api.ServerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avgLatency float64
	if s.latencyCount > 0 {
		avgLatency = float64(s.latencyTotal.Milliseconds()) / float64(s.latencyCount)
	}

	hits, misses := s.cacheHits.Load(), s.cacheMisses.Load()
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return api.ServerStats{
		TasksProcessed:     copyMap(s.processed),
		TasksFailed:        copyMap(s.failed),
		ActiveTasks:        copyMap(s.active),
		LaneDepth:          copyMap(s.laneDepth),
		LaneWorkers:        copyMap(s.laneWorkers),
		AvgLatencyMs:       avgLatency,
		CacheHits:          hits,
		CacheMisses:        misses,
		CacheHitRate:       hitRate,
		ScalingEvents:      s.scalingEvents.Load(),
		QualityRejections:  s.qualityRejections.Load(),
		SkippedMessages:    s.skippedMessages.Load(),
		PoolFullRejections: s.poolFullRejections.Load(),
		UptimeSeconds:      time.Since(s.start).Seconds(),
	}
}
