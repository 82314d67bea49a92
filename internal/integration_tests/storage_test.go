//go:build integration

package integrationtests

import (
	"context"
	"testing"
	"time"

	"translator-backend/internal/cache"
	"translator-backend/internal/core/types"
	"translator-backend/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresTranslations(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.NewDatabase(setupPostgresContainer(t, ctx))
	require.NoError(t, err)

	save := func(text, tier string) bool {
		saved, err := database.SaveTranslation(ctx, db, database.Translation{
			MessageId:      "m1",
			TargetLanguage: "fr",
			SourceLanguage: "en",
			TranslatedText: text,
			ModelType:      tier,
			Confidence:     0.9,
		})
		require.NoError(t, err)
		return saved
	}

	assert.True(t, save("bonjour", "medium"))
	assert.False(t, save("salut", "basic"))
	assert.True(t, save("bonjour à vous", "premium"))

	stored, err := database.GetTranslation(ctx, db, "m1", "fr")
	require.NoError(t, err)
	assert.Equal(t, "bonjour à vous", stored.TranslatedText)
	assert.Equal(t, "premium", stored.ModelType)

	// migrations are idempotent on restart
	require.NoError(t, database.GetMigrator(db).Migrate())
}

func TestRedisStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := cache.NewStore(setupRedisContainer(t, ctx), cache.Options{})
	require.NoError(t, err)
	defer store.Close()

	store.Ping(ctx)
	assert.Equal(t, cache.RedisMode, store.Mode())

	translations := cache.NewTranslationCache(store, time.Hour)
	translations.Set(ctx, "Hello", "en", "fr", types.Premium, "Bonjour", 0.95)

	cached, ok := translations.Get(ctx, "  Hello ", "en", "fr", types.Basic)
	require.True(t, ok)
	assert.Equal(t, "Bonjour", cached.TranslatedText)

	keys := store.Keys(ctx, "translation:*")
	assert.Len(t, keys, 1)
	ttl := store.TTL(ctx, keys[0])
	assert.Greater(t, ttl, int64(0))
	assert.LessOrEqual(t, ttl, int64(3600))
	assert.Equal(t, cache.RedisMode, store.Mode())
}
