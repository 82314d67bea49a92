package inference

import (
	"context"

	"translator-backend/internal/core/types"
	"translator-backend/pkg/api"
)

type TranslateRequest struct {
	Text           string          `json:"text"`
	SourceLanguage string          `json:"sourceLanguage"`
	TargetLanguage string          `json:"targetLanguage"`
	ModelType      types.ModelTier `json:"modelType"`
}

type Translation struct {
	TranslatedText   string  `json:"translatedText"`
	DetectedLanguage string  `json:"detectedLanguage"`
	Confidence       float64 `json:"confidence"`
	Model            string  `json:"model"`
	Error            string  `json:"error,omitempty"`
}

type Translator interface {
	Translate(ctx context.Context, req TranslateRequest) (Translation, error)

	// TranslateBatch returns one translation per input text, in order.
	TranslateBatch(ctx context.Context, texts []string, source, target string, tier types.ModelTier) ([]string, error)
}

type AudioInput struct {
	Data     []byte
	MimeType string
	Language string
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio AudioInput) (api.Transcription, error)
}

type VoiceProfile struct {
	ProfileId       string         `json:"profileId"`
	UserId          string         `json:"userId"`
	Embedding       []byte         `json:"embedding"`
	QualityScore    float64        `json:"qualityScore"`
	Fingerprint     string         `json:"fingerprint,omitempty"`
	Characteristics map[string]any `json:"characteristics,omitempty"`
}

type SynthesizeRequest struct {
	Text          string         `json:"text"`
	Language      string         `json:"language"`
	Voice         *VoiceProfile  `json:"voice,omitempty"`
	CloningParams map[string]any `json:"cloningParams,omitempty"`
}

type SynthesizedAudio struct {
	Audio        []byte  `json:"audio"`
	MimeType     string  `json:"mimeType"`
	DurationMs   int64   `json:"durationMs"`
	VoiceCloned  bool    `json:"voiceCloned"`
	VoiceQuality float64 `json:"voiceQuality"`
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesizedAudio, error)
}

type VoiceAnalyzer interface {
	Analyze(ctx context.Context, userId string, audio AudioInput) (VoiceProfile, error)

	// Compare returns a similarity score in [0, 1] between two embeddings.
	Compare(ctx context.Context, a, b []byte) (float64, error)
}

type VoiceAPI interface {
	Handle(ctx context.Context, requestType string, payload map[string]any) (map[string]any, error)
}

// Engines bundles the inference backends the dispatcher calls into. A nil
// Transcriber or Synthesizer disables the audio pipeline.
type Engines struct {
	Translator    Translator
	Transcriber   Transcriber
	Synthesizer   Synthesizer
	VoiceAnalyzer VoiceAnalyzer
	VoiceAPI      VoiceAPI

	ModelName    string
	ModelVersion string
}

func (e Engines) AudioPipelineAvailable() bool {
	return e.Translator != nil && e.Transcriber != nil && e.Synthesizer != nil
}
