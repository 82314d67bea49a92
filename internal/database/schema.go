package database

import (
	"time"

	"gorm.io/datatypes"
)

// Translation is keyed by message and target language so a message has at
// most one stored translation per language.
type Translation struct {
	MessageId      string `gorm:"size:64;primaryKey"`
	TargetLanguage string `gorm:"size:16;primaryKey"`

	ConversationId string `gorm:"size:64;index"`
	SourceLanguage string `gorm:"size:16"`
	TranslatedText string `gorm:"not null"`
	ModelType      string `gorm:"size:20;not null"`
	Confidence     float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Transcription struct {
	AttachmentId string `gorm:"size:64;primaryKey"`
	MessageId    string `gorm:"size:64;index"`

	Text       string
	Language   string `gorm:"size:16"`
	Confidence float64
	DurationMs int64
	Source     string `gorm:"size:20"`
	Segments   datatypes.JSON
	CreatedAt  time.Time
}

type VoiceProfile struct {
	UserId    string `gorm:"size:64;primaryKey"`
	ProfileId string `gorm:"size:64"`

	Embedding       []byte
	QualityScore    float64
	Fingerprint     string `gorm:"size:64"`
	Characteristics datatypes.JSON
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
