package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"translator-backend/internal/core/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		ShortTextThreshold: 100,
		FastCapacity:       100,
		NormalCapacity:     200,
		BulkCapacity:       100,
		NormalWorkers:      2,
		NormalWorkersMin:   2,
		NormalWorkersMax:   10,
		BulkWorkers:        2,
		BulkWorkersMin:     2,
		BulkWorkersMax:     4,
		BatchEnabled:       true,
		BatchWindow:        10 * time.Millisecond,
		BatchMaxSize:       10,
		ScalingInterval:    time.Hour,
		DequeueTimeout:     20 * time.Millisecond,
	}
}

func stopManager(t *testing.T, m *Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
}

func TestShortTextTranslatedOnFastLane(t *testing.T) {
	h := newHarness(&fakeTranslator{dictionary: map[string]string{"Hi|fr": "Salut"}})
	m := NewManager(testOptions(), h.processor, h.publisher, h.stats)
	m.Start(context.Background())
	defer stopManager(t, m)

	job := types.NewJob(types.JobParams{MessageId: "m1", Text: "Hi", SourceLanguage: "en", TargetLanguages: []string{"fr"}}, m.ShortTextThreshold())
	require.Equal(t, types.FastLane, job.Lane)
	require.NoError(t, m.Submit(context.Background(), job))

	require.Eventually(t, func() bool {
		return len(h.out.ofType(t, "translation_completed")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	event := h.out.ofType(t, "translation_completed")[0]
	assert.Equal(t, "fr", event["targetLanguage"])
	result := event["result"].(map[string]any)
	assert.Equal(t, "Salut", result["translatedText"])
	assert.Equal(t, "fast", result["poolType"])
	assert.Equal(t, "m1", result["messageId"])

	calls, batchCalls := h.translator.counts()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, batchCalls)
}

func TestLongTextsAreBatched(t *testing.T) {
	h := newHarness(&fakeTranslator{})
	opts := testOptions()
	opts.BatchWindow = time.Hour
	m := NewManager(opts, h.processor, h.publisher, h.stats)
	m.Start(context.Background())

	for i := 0; i < 12; i++ {
		require.NoError(t, m.Submit(context.Background(), newTestJob(longText(fmt.Sprintf("message %d", i)), "fr")))
	}

	// the full bucket is dispatched right away, the remainder on shutdown
	require.Eventually(t, func() bool {
		return len(h.out.ofType(t, "translation_completed")) == 10
	}, 2*time.Second, 5*time.Millisecond)

	stopManager(t, m)

	assert.Len(t, h.out.ofType(t, "translation_completed"), 12)
	assert.Equal(t, []int{10, 2}, h.translator.batchSizes)
}

func TestBatchingDisabledEnqueuesJobsIndividually(t *testing.T) {
	h := newHarness(&fakeTranslator{})
	opts := testOptions()
	opts.BatchEnabled = false
	m := NewManager(opts, h.processor, h.publisher, h.stats)
	m.Start(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Submit(context.Background(), newTestJob(longText(fmt.Sprintf("message %d", i)), "fr")))
	}
	stopManager(t, m)

	calls, batchCalls := h.translator.counts()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, batchCalls)
	assert.Len(t, h.out.ofType(t, "translation_completed"), 3)
}

func TestFullLaneRejectsWithPoolFull(t *testing.T) {
	h := newHarness(&fakeTranslator{})
	opts := testOptions()
	opts.FastCapacity = 2
	m := NewManager(opts, h.processor, h.publisher, h.stats)

	for i := 0; i < 2; i++ {
		require.NoError(t, m.Submit(context.Background(), newTestJob(fmt.Sprintf("Hi %d", i), "fr")))
	}
	require.Equal(t, 2, m.LaneDepth(types.FastLane))

	err := m.Submit(context.Background(), newTestJob("One more", "fr", "de"))
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, 2, m.LaneDepth(types.FastLane))

	errorsOut := h.out.ofType(t, "translation_error")
	require.Len(t, errorsOut, 2)
	for _, ev := range errorsOut {
		assert.Equal(t, "pool_full", ev["errorCode"])
	}
	assert.Equal(t, uint64(1), h.stats.Snapshot().PoolFullRejections)
}

func TestFullLaneRejectsWholeBatch(t *testing.T) {
	h := newHarness(&fakeTranslator{})
	opts := testOptions()
	opts.NormalCapacity = 1
	opts.BatchMaxSize = 2
	opts.BatchWindow = time.Hour
	m := NewManager(opts, h.processor, h.publisher, h.stats)

	for i := 0; i < 4; i++ {
		require.NoError(t, m.Submit(context.Background(), newTestJob(longText(fmt.Sprintf("message %d", i)), "fr")))
	}

	assert.Equal(t, 1, m.LaneDepth(types.NormalLane))
	assert.Len(t, h.out.ofType(t, "translation_error"), 2)
}

func TestSubmitAfterStop(t *testing.T) {
	h := newHarness(&fakeTranslator{})
	m := NewManager(testOptions(), h.processor, h.publisher, h.stats)
	m.Start(context.Background())
	stopManager(t, m)

	assert.ErrorIs(t, m.Submit(context.Background(), newTestJob("Hi", "fr")), ErrStopped)
}

func TestScalingAddsWorkersUnderLoad(t *testing.T) {
	translator := &fakeTranslator{gate: make(chan struct{})}
	h := newHarness(translator)
	opts := testOptions()
	opts.BatchEnabled = false
	m := NewManager(opts, h.processor, h.publisher, h.stats)
	m.Start(context.Background())

	for i := 0; i < 120; i++ {
		require.NoError(t, m.Submit(context.Background(), newTestJob(longText(fmt.Sprintf("message %d", i)), "fr")))
	}

	normal := m.pools[0]
	require.Eventually(t, func() bool { return normal.busy.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Greater(t, m.LaneDepth(types.NormalLane), 100)

	m.checkScaling()
	assert.Equal(t, 7, m.Workers(types.NormalLane))
	assert.Equal(t, 2, m.Workers(types.BulkLane))
	assert.Equal(t, uint64(1), h.stats.Snapshot().ScalingEvents)

	close(translator.gate)
	stopManager(t, m)
	assert.Len(t, h.out.ofType(t, "translation_completed"), 120)
}

func TestScalingRemovesIdleWorkers(t *testing.T) {
	h := newHarness(&fakeTranslator{})
	opts := testOptions()
	opts.NormalWorkers = 6
	m := NewManager(opts, h.processor, h.publisher, h.stats)
	m.Start(context.Background())
	defer stopManager(t, m)

	m.checkScaling()
	assert.Equal(t, 4, m.Workers(types.NormalLane))

	normal := m.pools[0]
	assert.Eventually(t, func() bool { return normal.running.Load() == 4 }, time.Second, 5*time.Millisecond)

	m.checkScaling()
	m.checkScaling()
	assert.Equal(t, 2, m.Workers(types.NormalLane))
}
