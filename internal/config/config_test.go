package config_test

import (
	"testing"
	"time"

	"translator-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "translator.requests", cfg.RequestQueue)
	assert.Equal(t, 10000, cfg.MaxTranslationLength)
	assert.Equal(t, 100, cfg.ShortTextThreshold)
	assert.Equal(t, 50*time.Millisecond, cfg.BatchWindow())
	assert.Equal(t, 720*time.Hour, cfg.TranslationCacheTTL)
	assert.Empty(t, cfg.RedisURL)
	assert.GreaterOrEqual(t, cfg.NormalWorkers, cfg.NormalWorkersMin)
	assert.LessOrEqual(t, cfg.NormalWorkers, cfg.NormalWorkersMax)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TRANSLATOR_SHORT_TEXT_THRESHOLD", "40")
	t.Setenv("BATCH_WINDOW_MS", "200")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("NORMAL_WORKERS", "8")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 40, cfg.ShortTextThreshold)
	assert.Equal(t, 200*time.Millisecond, cfg.BatchWindow())
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 8, cfg.NormalWorkers)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("FAST_POOL_CAPACITY", "lots")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestWorkerDefaultsClamped(t *testing.T) {
	cfg := config.Config{
		NormalWorkers:    100,
		NormalWorkersMin: 2,
		NormalWorkersMax: 40,
		AnyWorkers:       1,
		AnyWorkersMin:    2,
		AnyWorkersMax:    20,
	}
	cfg.ApplyWorkerDefaults()

	assert.Equal(t, 40, cfg.NormalWorkers)
	assert.Equal(t, 2, cfg.AnyWorkers)
}
