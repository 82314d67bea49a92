package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"translator-backend/internal/core/types"
	"translator-backend/internal/core/utils"
)

const DefaultTranslationTTL = 30 * 24 * time.Hour

type CachedTranslation struct {
	TranslatedText string    `json:"translatedText"`
	SourceLanguage string    `json:"sourceLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
	ModelType      string    `json:"modelType"`
	Confidence     float64   `json:"confidence"`
	CachedAt       time.Time `json:"cachedAt"`
}

// TranslationCache stores translations keyed on normalized source text,
// language pair and model tier.
type TranslationCache struct {
	store *Store
	ttl   time.Duration
}

func NewTranslationCache(store *Store, ttl time.Duration) *TranslationCache {
	if ttl <= 0 {
		ttl = DefaultTranslationTTL
	}
	return &TranslationCache{store: store, ttl: ttl}
}

func TranslationKey(text, source, target string, tier types.ModelTier) string {
	sum := sha256.Sum256([]byte(utils.NormalizeText(text) + "|" + source + "|" + target + "|" + string(tier)))
	return "translation:" + hex.EncodeToString(sum[:])
}

// Get looks up the requested tier first and then every higher tier, so a
// premium translation satisfies a basic request but not the reverse.
func (c *TranslationCache) Get(ctx context.Context, text, source, target string, tier types.ModelTier) (CachedTranslation, bool) {
	for _, t := range tier.AtLeast() {
		data, ok := c.store.Get(ctx, TranslationKey(text, source, target, t))
		if !ok {
			continue
		}

		var cached CachedTranslation
		if err := json.Unmarshal(data, &cached); err != nil {
			slog.Warn("discarding corrupt translation cache entry", "tier", t, "error", err)
			continue
		}
		return cached, true
	}
	return CachedTranslation{}, false
}

func (c *TranslationCache) Set(ctx context.Context, text, source, target string, tier types.ModelTier, translated string, confidence float64) {
	data, err := json.Marshal(CachedTranslation{
		TranslatedText: translated,
		SourceLanguage: source,
		TargetLanguage: target,
		ModelType:      string(tier),
		Confidence:     confidence,
		CachedAt:       time.Now().UTC(),
	})
	if err != nil {
		slog.Error("error encoding translation cache entry", "error", err)
		return
	}

	c.store.Set(ctx, TranslationKey(text, source, target, tier), data, c.ttl)
}
