package database

import (
	"context"
	"errors"
	"fmt"

	"translator-backend/internal/core/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveTranslation stores t unless the stored row was produced by a higher
// model tier. It reports whether the row was written.
func SaveTranslation(ctx context.Context, db *gorm.DB, t Translation) (bool, error) {
	saved := false
	err := db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var existing Translation
		err := txn.Where("message_id = ? AND target_language = ?", t.MessageId, t.TargetLanguage).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := txn.Create(&t).Error; err != nil {
				return fmt.Errorf("error creating translation: %w", err)
			}
			saved = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("error loading translation: %w", err)
		}

		if types.ParseModelTier(t.ModelType).Rank() < types.ParseModelTier(existing.ModelType).Rank() {
			return nil
		}

		if err := txn.Model(&existing).Updates(map[string]any{
			"conversation_id": t.ConversationId,
			"source_language": t.SourceLanguage,
			"translated_text": t.TranslatedText,
			"model_type":      t.ModelType,
			"confidence":      t.Confidence,
		}).Error; err != nil {
			return fmt.Errorf("error updating translation: %w", err)
		}
		saved = true
		return nil
	})
	return saved, err
}

func GetTranslation(ctx context.Context, db *gorm.DB, messageId, targetLanguage string) (*Translation, error) {
	var t Translation
	err := db.WithContext(ctx).Where("message_id = ? AND target_language = ?", messageId, targetLanguage).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting translation: %w", err)
	}
	return &t, nil
}

func ListTranslations(ctx context.Context, db *gorm.DB, messageId string) ([]Translation, error) {
	var rows []Translation
	if err := db.WithContext(ctx).Where("message_id = ?", messageId).Order("target_language").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing translations: %w", err)
	}
	return rows, nil
}

func SaveTranscription(ctx context.Context, db *gorm.DB, t Transcription) error {
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&t).Error; err != nil {
		return fmt.Errorf("error saving transcription: %w", err)
	}
	return nil
}

func GetTranscription(ctx context.Context, db *gorm.DB, attachmentId string) (*Transcription, error) {
	var t Transcription
	err := db.WithContext(ctx).Where("attachment_id = ?", attachmentId).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting transcription: %w", err)
	}
	return &t, nil
}

func SaveVoiceProfile(ctx context.Context, db *gorm.DB, p VoiceProfile) error {
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&p).Error; err != nil {
		return fmt.Errorf("error saving voice profile: %w", err)
	}
	return nil
}

func GetVoiceProfile(ctx context.Context, db *gorm.DB, userId string) (*VoiceProfile, error) {
	var p VoiceProfile
	err := db.WithContext(ctx).Where("user_id = ?", userId).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting voice profile: %w", err)
	}
	return &p, nil
}
