package inference_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"translator-backend/internal/core/types"
	"translator-backend/internal/inference"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubDictionary(t *testing.T) {
	stub := inference.NewStub(inference.StubConfig{
		Dictionary: map[string]map[string]string{"fr": {"Hi": "Salut"}},
	})

	res, err := stub.Translate(context.Background(), inference.TranslateRequest{Text: "Hi", SourceLanguage: "en", TargetLanguage: "fr"})
	require.NoError(t, err)
	assert.Equal(t, "Salut", res.TranslatedText)

	batch, err := stub.TranslateBatch(context.Background(), []string{"Hi", "Bye"}, "en", "fr", types.Basic)
	require.NoError(t, err)
	assert.Equal(t, []string{"Salut", "[fr] Bye"}, batch)
}

func TestStubRespectsCancellation(t *testing.T) {
	stub := inference.NewStub(inference.StubConfig{ProcessingDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stub.Translate(ctx, inference.TranslateRequest{Text: "Hi", TargetLanguage: "fr"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadStubDictionary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dictionary:\n  fr:\n    Hello: Bonjour\n  es:\n    Hello: Hola\n"), 0o644))

	dict, err := inference.LoadStubDictionary(path)
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", dict["fr"]["Hello"])
	assert.Equal(t, "Hola", dict["es"]["Hello"])
}

func TestStubAudio(t *testing.T) {
	engines := inference.NewStubEngines(inference.StubConfig{})
	require.True(t, engines.AudioPipelineAvailable())

	tr, err := engines.Transcriber.Transcribe(context.Background(), inference.AudioInput{Data: []byte("bonjour"), Language: "fr"})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", tr.Text)
	assert.Len(t, tr.Segments, 1)

	profile, err := engines.VoiceAnalyzer.Analyze(context.Background(), "u1", inference.AudioInput{Data: []byte("sample")})
	require.NoError(t, err)
	assert.Len(t, profile.Embedding, 16)

	audio, err := engines.Synthesizer.Synthesize(context.Background(), inference.SynthesizeRequest{Text: "hello", Language: "en", Voice: &profile})
	require.NoError(t, err)
	assert.True(t, audio.VoiceCloned)
	assert.Equal(t, []byte("AUDIO:en:hello"), audio.Audio)

	similarity, err := engines.VoiceAnalyzer.Compare(context.Background(), profile.Embedding, profile.Embedding)
	require.NoError(t, err)
	assert.Equal(t, 1.0, similarity)
}

func TestHTTPClientTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/translate":
			var req inference.TranslateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "premium", string(req.ModelType))
			json.NewEncoder(w).Encode(inference.Translation{TranslatedText: "Salut", Confidence: 0.9}) //nolint:errcheck
		case "/translate/batch":
			json.NewEncoder(w).Encode(map[string][]string{"translations": {"a"}}) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "model crashed"}) //nolint:errcheck
		}
	}))
	defer server.Close()

	client := inference.NewHTTPClient(server.URL, 5*time.Second, 0)

	res, err := client.Translate(context.Background(), inference.TranslateRequest{Text: "Hi", TargetLanguage: "fr", ModelType: types.Premium})
	require.NoError(t, err)
	assert.Equal(t, "Salut", res.TranslatedText)
	assert.Equal(t, "remote", res.Model)

	_, err = client.TranslateBatch(context.Background(), []string{"x", "y"}, "en", "fr", types.Basic)
	assert.ErrorContains(t, err, "returned 1 results for 2 texts")

	_, err = client.Synthesize(context.Background(), inference.SynthesizeRequest{Text: "x"})
	assert.ErrorContains(t, err, "model crashed")
}
