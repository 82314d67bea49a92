package core

import (
	"context"
	"testing"
	"time"

	"translator-backend/internal/cache"
	"translator-backend/internal/core/types"
	"translator-backend/internal/results"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testWorker = results.WorkerInfo{WorkerId: "normal-1", WorkerName: "normal-worker-1"}

func TestBatchFansOutPerTargetLanguage(t *testing.T) {
	h := newHarness(&fakeTranslator{})

	batch := types.Batch{Key: "en_de,fr_basic", Lane: types.NormalLane}
	for _, text := range []string{longText("one"), longText("two"), longText("three")} {
		batch.Jobs = append(batch.Jobs, newTestJob(text, "fr", "de"))
	}

	h.processor.Process(context.Background(), workItem{batch: &batch, enqueuedAt: time.Now()}, testWorker)

	_, batchCalls := h.translator.counts()
	assert.Equal(t, 2, batchCalls)

	completed := h.out.ofType(t, "translation_completed")
	require.Len(t, completed, 6)
	for _, ev := range completed {
		result := ev["result"].(map[string]any)
		assert.Equal(t, 0.95, result["confidenceScore"])
		assert.Equal(t, float64(3), result["batchSize"])
	}
}

func TestBatchErrorFailsOnlyThatLanguage(t *testing.T) {
	h := newHarness(&fakeTranslator{failTargets: map[string]bool{"de": true}})

	batch := types.Batch{Key: "en_de,fr_basic", Lane: types.NormalLane}
	for _, text := range []string{longText("one"), longText("two")} {
		batch.Jobs = append(batch.Jobs, newTestJob(text, "fr", "de"))
	}

	h.processor.Process(context.Background(), workItem{batch: &batch, enqueuedAt: time.Now()}, testWorker)

	completed := h.out.ofType(t, "translation_completed")
	require.Len(t, completed, 2)
	for _, ev := range completed {
		assert.Equal(t, "fr", ev["targetLanguage"])
	}

	failed := h.out.ofType(t, "translation_error")
	require.Len(t, failed, 2)
	for _, ev := range failed {
		assert.Equal(t, "de", ev["targetLanguage"])
		assert.Equal(t, "translation_failed", ev["errorCode"])
		assert.Contains(t, ev["error"], "model unavailable")
	}
}

func TestSingleJobErrorIsolatedPerLanguage(t *testing.T) {
	h := newHarness(&fakeTranslator{failTargets: map[string]bool{"es": true}})
	job := newTestJob("Good morning", "fr", "es", "de")

	h.processor.Process(context.Background(), workItem{job: &job, enqueuedAt: time.Now()}, testWorker)

	assert.Len(t, h.out.ofType(t, "translation_completed"), 2)
	failed := h.out.ofType(t, "translation_error")
	require.Len(t, failed, 1)
	assert.Equal(t, "es", failed[0]["targetLanguage"])
}

func TestRejectedResultIsNotPublishedOrCached(t *testing.T) {
	store, err := cache.NewStore("", cache.Options{})
	require.NoError(t, err)
	defer store.Close()

	translations := cache.NewTranslationCache(store, time.Hour)
	translator := &fakeTranslator{dictionary: map[string]string{"OK|fr": "[ML Error] boom"}}
	h := newHarness(translator)
	h.processor = NewTranslationProcessor(translator, translations, h.publisher, h.stats, "fake")

	job := newTestJob("OK", "fr")
	h.processor.Process(context.Background(), workItem{job: &job, enqueuedAt: time.Now()}, testWorker)

	assert.Empty(t, h.out.events(t))
	_, ok := translations.Get(context.Background(), "OK", "en", "fr", types.Basic)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), h.stats.Snapshot().QualityRejections)
}

func TestCacheHitSkipsInference(t *testing.T) {
	store, err := cache.NewStore("", cache.Options{})
	require.NoError(t, err)
	defer store.Close()

	translations := cache.NewTranslationCache(store, time.Hour)
	translator := &fakeTranslator{dictionary: map[string]string{"Hi|fr": "Salut"}}
	h := newHarness(translator)
	h.processor = NewTranslationProcessor(translator, translations, h.publisher, h.stats, "fake")

	for i := 0; i < 2; i++ {
		job := newTestJob("Hi", "fr")
		h.processor.Process(context.Background(), workItem{job: &job, enqueuedAt: time.Now()}, testWorker)
	}

	calls, _ := h.translator.counts()
	assert.Equal(t, 1, calls)

	completed := h.out.ofType(t, "translation_completed")
	require.Len(t, completed, 2)
	second := completed[1]["result"].(map[string]any)
	assert.Equal(t, true, second["fromCache"])
	assert.Equal(t, 0.99, second["confidenceScore"])
	assert.Equal(t, "Salut", second["translatedText"])

	stats := h.stats.Snapshot()
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, uint64(1), stats.CacheMisses)
}

func TestBatchUsesCachedEntries(t *testing.T) {
	store, err := cache.NewStore("", cache.Options{})
	require.NoError(t, err)
	defer store.Close()

	translations := cache.NewTranslationCache(store, time.Hour)
	translator := &fakeTranslator{}
	h := newHarness(translator)
	h.processor = NewTranslationProcessor(translator, translations, h.publisher, h.stats, "fake")

	cachedText := longText("cached")
	translations.Set(context.Background(), cachedText, "en", "fr", types.Premium, "déjà traduit", 0.9)

	batch := types.Batch{Key: "en_fr_basic", Lane: types.NormalLane, Jobs: []types.Job{
		newTestJob(cachedText, "fr"),
		newTestJob(longText("fresh"), "fr"),
	}}
	h.processor.Process(context.Background(), workItem{batch: &batch, enqueuedAt: time.Now()}, testWorker)

	assert.Equal(t, []int{1}, translator.batchSizes)
	assert.Len(t, h.out.ofType(t, "translation_completed"), 2)
}
