package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"translator-backend/pkg/api"
)

const DefaultVoiceProfileTTL = 90 * 24 * time.Hour

func TranscriptionKey(attachmentId string) string {
	return "audio:transcription:" + attachmentId
}

func AudioTranslationKey(attachmentId, lang string) string {
	return "audio:translation:" + attachmentId + ":" + lang
}

func VoiceProfileKey(userId string) string {
	return "voice:profile:" + userId
}

type CachedAudioTranslation struct {
	TranslatedAudio api.TranslatedAudio `json:"translatedAudio"`
	Audio           []byte              `json:"audio"`
}

type CachedVoiceProfile struct {
	ProfileId       string         `json:"profileId"`
	UserId          string         `json:"userId"`
	QualityScore    float64        `json:"qualityScore"`
	Embedding       []byte         `json:"embedding"`
	Fingerprint     string         `json:"fingerprint,omitempty"`
	Characteristics map[string]any `json:"characteristics,omitempty"`
}

// AudioCache holds transcriptions, synthesized translations and voice
// profiles produced by the audio pipeline.
type AudioCache struct {
	store           *Store
	ttl             time.Duration
	voiceProfileTTL time.Duration
}

func NewAudioCache(store *Store, ttl, voiceProfileTTL time.Duration) *AudioCache {
	if ttl <= 0 {
		ttl = DefaultTranslationTTL
	}
	if voiceProfileTTL <= 0 {
		voiceProfileTTL = DefaultVoiceProfileTTL
	}
	return &AudioCache{store: store, ttl: ttl, voiceProfileTTL: voiceProfileTTL}
}

func getJSON[T any](ctx context.Context, store *Store, key string) (T, bool) {
	var value T
	data, ok := store.Get(ctx, key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		slog.Warn("discarding corrupt cache entry", "key", key, "error", err)
		return value, false
	}
	return value, true
}

func setJSON(ctx context.Context, store *Store, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		slog.Error("error encoding cache entry", "key", key, "error", err)
		return
	}
	store.Set(ctx, key, data, ttl)
}

func (c *AudioCache) GetTranscription(ctx context.Context, attachmentId string) (api.Transcription, bool) {
	return getJSON[api.Transcription](ctx, c.store, TranscriptionKey(attachmentId))
}

func (c *AudioCache) SetTranscription(ctx context.Context, attachmentId string, t api.Transcription) {
	setJSON(ctx, c.store, TranscriptionKey(attachmentId), t, c.ttl)
}

func (c *AudioCache) GetAudioTranslation(ctx context.Context, attachmentId, lang string) (CachedAudioTranslation, bool) {
	return getJSON[CachedAudioTranslation](ctx, c.store, AudioTranslationKey(attachmentId, lang))
}

func (c *AudioCache) SetAudioTranslation(ctx context.Context, attachmentId, lang string, value CachedAudioTranslation) {
	setJSON(ctx, c.store, AudioTranslationKey(attachmentId, lang), value, c.ttl)
}

func (c *AudioCache) GetVoiceProfile(ctx context.Context, userId string) (CachedVoiceProfile, bool) {
	return getJSON[CachedVoiceProfile](ctx, c.store, VoiceProfileKey(userId))
}

func (c *AudioCache) SetVoiceProfile(ctx context.Context, profile CachedVoiceProfile) {
	setJSON(ctx, c.store, VoiceProfileKey(profile.UserId), profile, c.voiceProfileTTL)
}

func (c *AudioCache) DeleteVoiceProfile(ctx context.Context, userId string) {
	c.store.Delete(ctx, VoiceProfileKey(userId))
}
