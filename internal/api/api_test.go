package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	backend "translator-backend/internal/api"
	"translator-backend/internal/cache"
	"translator-backend/internal/database"
	"translator-backend/internal/messaging"
	"translator-backend/internal/metrics"
	"translator-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(opts backend.Options) http.Handler {
	if opts.Stats == nil {
		opts.Stats = metrics.NewServerStats()
	}
	return backend.NewRouter(backend.NewBackendService(opts), true)
}

func get[T any](t *testing.T, router http.Handler, endpoint string, expectedCode int) T {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, endpoint, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, expectedCode, rec.Code, rec.Body.String())

	var res T
	if expectedCode == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	}
	return res
}

func memoryStore(t *testing.T) *cache.Store {
	store := cache.NewStoreWithClient(nil, cache.Options{})
	t.Cleanup(store.Close)
	return store
}

func TestHealth(t *testing.T) {
	router := newRouter(backend.Options{Store: memoryStore(t), AudioPipelineAvailable: true})

	for _, endpoint := range []string{"/health", "/api/v1/health"} {
		res := get[api.HealthResponse](t, router, endpoint, http.StatusOK)
		assert.Equal(t, "healthy", res.Status)
		assert.True(t, res.AudioPipelineAvailable)
		assert.Equal(t, "memory", res.CacheMode)
		assert.False(t, res.DatabaseAvailable)
	}
}

func TestStats(t *testing.T) {
	stats := metrics.NewServerStats()
	stats.CacheHit()
	stats.CacheMiss()
	stats.SetLaneState("fast", 3, 2)

	router := newRouter(backend.Options{Stats: stats})
	res := get[api.ServerStats](t, router, "/api/v1/stats", http.StatusOK)

	assert.Equal(t, uint64(1), res.CacheHits)
	assert.Equal(t, uint64(1), res.CacheMisses)
	assert.Equal(t, 0.5, res.CacheHitRate)
	assert.Equal(t, 3, res.LaneDepth["fast"])
}

func TestMetrics(t *testing.T) {
	stats := metrics.NewServerStats()
	stats.CacheHit()

	router := newRouter(backend.Options{Stats: stats})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "translator_cache_lookups_total")
}

func TestCacheEndpoints(t *testing.T) {
	store := memoryStore(t)
	ctx := context.Background()
	store.Set(ctx, "translation:abc", []byte("x"), time.Hour)
	store.Set(ctx, "audio:transcription:a1", []byte("y"), time.Hour)

	router := newRouter(backend.Options{Store: store})

	stats := get[api.CacheStats](t, router, "/api/v1/cache/stats", http.StatusOK)
	assert.Equal(t, "memory", stats.Mode)
	assert.Equal(t, 2, stats.MemoryEntries)

	keys := get[api.CacheKeysResponse](t, router, "/api/v1/cache/keys?pattern=translation:*", http.StatusOK)
	assert.Equal(t, []string{"translation:abc"}, keys.Keys)

	all := get[api.CacheKeysResponse](t, router, "/api/v1/cache/keys", http.StatusOK)
	assert.Len(t, all.Keys, 2)
}

func TestCacheEndpointsWithoutCache(t *testing.T) {
	router := newRouter(backend.Options{})
	get[any](t, router, "/api/v1/cache/stats", http.StatusNotFound)
	get[any](t, router, "/api/v1/cache/keys", http.StatusNotFound)
}

func TestSubmitRequest(t *testing.T) {
	queue := messaging.NewInMemoryQueue(4)
	router := newRouter(backend.Options{Requests: queue})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(`{"type":"ping"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res api.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Accepted)

	select {
	case d := <-queue.Deliveries():
		assert.JSONEq(t, `{"type":"ping"}`, string(d.Frames()[0]))
	default:
		t.Fatal("request was not queued")
	}

	for _, body := range []string{"", "[1,2]", "{not json"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestSubmitDisabledOutsideLocalMode(t *testing.T) {
	router := newRouter(backend.Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(`{"type":"ping"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTranslations(t *testing.T) {
	svc := database.NewService("file::memory:", database.ServiceOptions{})
	svc.Start(context.Background())
	t.Cleanup(svc.Close)
	require.Eventually(t, svc.Available, 2*time.Second, 5*time.Millisecond)

	_, err := database.SaveTranslation(context.Background(), svc.DB(), database.Translation{
		MessageId:      "m1",
		TargetLanguage: "fr",
		SourceLanguage: "en",
		TranslatedText: "Salut",
		ModelType:      "basic",
		Confidence:     0.9,
	})
	require.NoError(t, err)

	router := newRouter(backend.Options{Database: svc})
	res := get[[]api.StoredTranslation](t, router, "/api/v1/translations/m1", http.StatusOK)
	require.Len(t, res, 1)
	assert.Equal(t, "Salut", res[0].TranslatedText)

	empty := get[[]api.StoredTranslation](t, router, "/api/v1/translations/m2", http.StatusOK)
	assert.Empty(t, empty)
}

func TestGetTranslationsWithoutDatabase(t *testing.T) {
	router := newRouter(backend.Options{})
	get[any](t, router, "/api/v1/translations/m1", http.StatusServiceUnavailable)
}

func TestStreamEvents(t *testing.T) {
	events := messaging.NewInMemoryBroadcaster()
	server := httptest.NewServer(newRouter(backend.Options{Events: events}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	// the subscription is registered before the response headers are flushed
	require.NoError(t, events.Publish(ctx, [][]byte{[]byte(`{"type":"pong"}`), []byte{0x1}}))

	line, err := bufio.NewReader(res.Body).ReadString('\n')
	require.NoError(t, err)

	var msg struct {
		Data map[string]any `json:"data"`
		Code int            `json:"code"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &msg))
	assert.Equal(t, http.StatusOK, msg.Code)
	assert.Equal(t, "pong", msg.Data["type"])
}
