package inference

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"time"
	"unicode/utf8"

	"translator-backend/internal/core/types"
	"translator-backend/pkg/api"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
)

const StubModelName = "stub-dictionary"

type StubConfig struct {
	ProcessingDelay time.Duration

	// Dictionary maps target language to source text to translation. Texts
	// missing from it are returned prefixed with the target language.
	Dictionary map[string]map[string]string
}

type stubDictionaryFile struct {
	Dictionary map[string]map[string]string `yaml:"dictionary"`
}

func LoadStubDictionary(path string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading stub dictionary: %w", err)
	}

	var file stubDictionaryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing stub dictionary: %w", err)
	}
	return file.Dictionary, nil
}

// Stub is a deterministic engine used by local mode and tests. It implements
// every inference interface.
type Stub struct {
	config StubConfig
}

func NewStub(config StubConfig) *Stub {
	return &Stub{config: config}
}

func NewStubEngines(config StubConfig) Engines {
	stub := NewStub(config)
	return Engines{
		Translator:    stub,
		Transcriber:   stub,
		Synthesizer:   stub,
		VoiceAnalyzer: stub,
		VoiceAPI:      stub,
		ModelName:     StubModelName,
		ModelVersion:  "1.0",
	}
}

func (s *Stub) wait(ctx context.Context) error {
	if s.config.ProcessingDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(s.config.ProcessingDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stub) lookup(text, target string) string {
	if dict, ok := s.config.Dictionary[target]; ok {
		if translated, ok := dict[text]; ok {
			return translated
		}
	}
	return "[" + target + "] " + text
}

func (s *Stub) Translate(ctx context.Context, req TranslateRequest) (Translation, error) {
	if err := s.wait(ctx); err != nil {
		return Translation{}, err
	}

	return Translation{
		TranslatedText:   s.lookup(req.Text, req.TargetLanguage),
		DetectedLanguage: req.SourceLanguage,
		Confidence:       0.92,
		Model:            StubModelName,
	}, nil
}

func (s *Stub) TranslateBatch(ctx context.Context, texts []string, source, target string, tier types.ModelTier) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = s.lookup(text, target)
	}
	return out, nil
}

// Transcribe treats UTF-8 audio payloads as the spoken text, which keeps test
// fixtures readable.
func (s *Stub) Transcribe(ctx context.Context, audio AudioInput) (api.Transcription, error) {
	if err := s.wait(ctx); err != nil {
		return api.Transcription{}, err
	}
	if len(audio.Data) == 0 {
		return api.Transcription{}, fmt.Errorf("empty audio payload")
	}

	text := fmt.Sprintf("audio of %d bytes", len(audio.Data))
	if utf8.Valid(audio.Data) {
		text = string(audio.Data)
	}

	lang := audio.Language
	if lang == "" {
		lang = types.DefaultSourceLanguage
	}

	duration := int64(len(audio.Data)) * 10
	return api.Transcription{
		Text:       text,
		Language:   lang,
		Confidence: 0.9,
		DurationMs: duration,
		Source:     "whisper",
		Segments: []api.Segment{
			{Text: text, StartMs: 0, EndMs: duration, Confidence: 0.9},
		},
	}, nil
}

func (s *Stub) Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesizedAudio, error) {
	if err := s.wait(ctx); err != nil {
		return SynthesizedAudio{}, err
	}

	out := SynthesizedAudio{
		Audio:      []byte("AUDIO:" + req.Language + ":" + req.Text),
		MimeType:   "audio/mpeg",
		DurationMs: int64(utf8.RuneCountInString(req.Text)) * 60,
	}
	if req.Voice != nil {
		out.VoiceCloned = true
		out.VoiceQuality = req.Voice.QualityScore
	}
	return out, nil
}

func (s *Stub) Analyze(ctx context.Context, userId string, audio AudioInput) (VoiceProfile, error) {
	if err := s.wait(ctx); err != nil {
		return VoiceProfile{}, err
	}
	if len(audio.Data) == 0 {
		return VoiceProfile{}, fmt.Errorf("empty audio payload")
	}

	sum := sha256.Sum256(audio.Data)
	quality := min(1.0, 0.5+float64(len(audio.Data))/2000)

	return VoiceProfile{
		ProfileId:    uuid.NewString(),
		UserId:       userId,
		Embedding:    sum[:16],
		QualityScore: quality,
		Fingerprint:  hex.EncodeToString(sum[:8]),
		Characteristics: map[string]any{
			"sampleBytes": len(audio.Data),
		},
	}, nil
}

func (s *Stub) Compare(ctx context.Context, a, b []byte) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("cannot compare empty embeddings")
	}
	n := min(len(a), len(b))
	same := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			same++
		}
	}
	return float64(same) / float64(max(len(a), len(b))), nil
}

func (s *Stub) Handle(ctx context.Context, requestType string, payload map[string]any) (map[string]any, error) {
	switch requestType {
	case "voice_health":
		return map[string]any{"status": "healthy", "model": StubModelName}, nil
	case "voice_languages":
		langs := make([]string, 0, len(s.config.Dictionary))
		for lang := range s.config.Dictionary {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		return map[string]any{"languages": langs}, nil
	default:
		return map[string]any{"requestType": requestType, "accepted": true}, nil
	}
}
