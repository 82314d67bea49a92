package cache_test

import (
	"context"
	"testing"
	"time"

	"translator-backend/internal/cache"
	"translator-backend/internal/core/types"
	"translator-backend/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslationKeyNormalizesText(t *testing.T) {
	a := cache.TranslationKey("  Hello   World ", "en", "fr", types.Basic)
	b := cache.TranslationKey("Hello World", "en", "fr", types.Basic)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, cache.TranslationKey("hello world", "en", "fr", types.Basic))
	assert.NotEqual(t, a, cache.TranslationKey("Hello World", "en", "de", types.Basic))
	assert.NotEqual(t, a, cache.TranslationKey("Hello World", "en", "fr", types.Premium))
	assert.Contains(t, a, "translation:")
}

func TestPremiumSatisfiesLowerTiers(t *testing.T) {
	store := memoryStore(t, newFakeClock())
	tc := cache.NewTranslationCache(store, time.Hour)
	ctx := context.Background()

	tc.Set(ctx, "good morning", "en", "fr", types.Premium, "bonjour", 0.97)

	for _, tier := range []types.ModelTier{types.Basic, types.Medium, types.Premium} {
		cached, ok := tc.Get(ctx, "good morning", "en", "fr", tier)
		require.True(t, ok, "tier %s", tier)
		assert.Equal(t, "bonjour", cached.TranslatedText)
		assert.Equal(t, "premium", cached.ModelType)
	}
}

func TestBasicDoesNotSatisfyPremium(t *testing.T) {
	store := memoryStore(t, newFakeClock())
	tc := cache.NewTranslationCache(store, time.Hour)
	ctx := context.Background()

	tc.Set(ctx, "good morning", "en", "fr", types.Basic, "bonjour", 0.8)

	_, ok := tc.Get(ctx, "good morning", "en", "fr", types.Premium)
	assert.False(t, ok)

	_, ok = tc.Get(ctx, "good morning", "en", "fr", types.Medium)
	assert.False(t, ok)

	cached, ok := tc.Get(ctx, "good morning", "en", "fr", types.Basic)
	require.True(t, ok)
	assert.Equal(t, 0.8, cached.Confidence)
}

func TestRequestedTierPreferred(t *testing.T) {
	store := memoryStore(t, newFakeClock())
	tc := cache.NewTranslationCache(store, time.Hour)
	ctx := context.Background()

	tc.Set(ctx, "cat", "en", "fr", types.Medium, "chat (medium)", 0.9)
	tc.Set(ctx, "cat", "en", "fr", types.Premium, "chat (premium)", 0.95)

	cached, ok := tc.Get(ctx, "cat", "en", "fr", types.Medium)
	require.True(t, ok)
	assert.Equal(t, "chat (medium)", cached.TranslatedText)
}

func TestAudioCacheKeys(t *testing.T) {
	assert.Equal(t, "audio:transcription:att1", cache.TranscriptionKey("att1"))
	assert.Equal(t, "audio:translation:att1:en", cache.AudioTranslationKey("att1", "en"))
	assert.Equal(t, "voice:profile:u1", cache.VoiceProfileKey("u1"))
}

func TestVoiceProfileTTL(t *testing.T) {
	clock := newFakeClock()
	store := memoryStore(t, clock)
	ac := cache.NewAudioCache(store, time.Hour, 0)
	ctx := context.Background()

	ac.SetVoiceProfile(ctx, cache.CachedVoiceProfile{UserId: "u1", ProfileId: "p1", Embedding: []byte{1, 2, 3}})
	assert.Equal(t, int64(cache.DefaultVoiceProfileTTL/time.Second), store.TTL(ctx, cache.VoiceProfileKey("u1")))

	profile, ok := ac.GetVoiceProfile(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, profile.Embedding)

	ac.SetTranscription(ctx, "att1", api.Transcription{Text: "salut", Language: "fr"})
	tr, ok := ac.GetTranscription(ctx, "att1")
	require.True(t, ok)
	assert.Equal(t, "salut", tr.Text)

	clock.Advance(2 * time.Hour)
	_, ok = ac.GetTranscription(ctx, "att1")
	assert.False(t, ok)
	_, ok = ac.GetVoiceProfile(ctx, "u1")
	assert.True(t, ok)
}
