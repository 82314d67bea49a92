package database

import (
	"encoding/json"
	"fmt"

	"translator-backend/internal/inference"
	"translator-backend/internal/results"
	"translator-backend/pkg/api"

	"gorm.io/datatypes"
)

func FromCompletedTranslation(c results.CompletedTranslation) Translation {
	return Translation{
		MessageId:      c.MessageId,
		TargetLanguage: c.TargetLanguage,
		ConversationId: c.ConversationId,
		SourceLanguage: c.SourceLanguage,
		TranslatedText: c.TranslatedText,
		ModelType:      c.ModelType,
		Confidence:     c.Confidence,
	}
}

func FromTranscription(messageId, attachmentId string, t api.Transcription) (Transcription, error) {
	row := Transcription{
		AttachmentId: attachmentId,
		MessageId:    messageId,
		Text:         t.Text,
		Language:     t.Language,
		Confidence:   t.Confidence,
		DurationMs:   t.DurationMs,
		Source:       t.Source,
	}
	if len(t.Segments) > 0 {
		segments, err := json.Marshal(t.Segments)
		if err != nil {
			return Transcription{}, fmt.Errorf("error encoding segments: %w", err)
		}
		row.Segments = datatypes.JSON(segments)
	}
	return row, nil
}

func (t Transcription) ToAPI() (api.Transcription, error) {
	out := api.Transcription{
		Text:       t.Text,
		Language:   t.Language,
		Confidence: t.Confidence,
		DurationMs: t.DurationMs,
		Source:     t.Source,
	}
	if len(t.Segments) > 0 {
		if err := json.Unmarshal(t.Segments, &out.Segments); err != nil {
			return api.Transcription{}, fmt.Errorf("invalid segments JSON: %w", err)
		}
	}
	return out, nil
}

func FromVoiceProfile(p inference.VoiceProfile) (VoiceProfile, error) {
	row := VoiceProfile{
		UserId:       p.UserId,
		ProfileId:    p.ProfileId,
		Embedding:    p.Embedding,
		QualityScore: p.QualityScore,
		Fingerprint:  p.Fingerprint,
	}
	if len(p.Characteristics) > 0 {
		characteristics, err := json.Marshal(p.Characteristics)
		if err != nil {
			return VoiceProfile{}, fmt.Errorf("error encoding voice characteristics: %w", err)
		}
		row.Characteristics = datatypes.JSON(characteristics)
	}
	return row, nil
}
