package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"translator-backend/internal/core/types"
	"translator-backend/pkg/api"

	"github.com/go-resty/resty/v2"
)

// HTTPClient calls a remote inference server. It implements every inference
// interface so one server can back all engines.
type HTTPClient struct {
	client    *resty.Client
	modelName string
}

func NewHTTPClient(baseURL string, timeout time.Duration, retries int) *HTTPClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Accept", "application/json")

	return &HTTPClient{client: client, modelName: "remote"}
}

func NewHTTPEngines(baseURL string, timeout time.Duration, retries int) Engines {
	c := NewHTTPClient(baseURL, timeout, retries)
	return Engines{
		Translator:    c,
		Transcriber:   c,
		Synthesizer:   c,
		VoiceAnalyzer: c,
		VoiceAPI:      c,
		ModelName:     c.modelName,
		ModelVersion:  "remote",
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, body any, out any) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return fmt.Errorf("inference request to %s failed: %w", endpoint, err)
	}

	return decodeResponse(res, endpoint, out)
}

func decodeResponse(res *resty.Response, endpoint string, out any) error {
	if !res.IsSuccess() {
		var errRes errorResponse
		if err := json.Unmarshal(res.Body(), &errRes); err == nil && errRes.Error != "" {
			return fmt.Errorf("inference server returned %d for %s: %s", res.StatusCode(), endpoint, errRes.Error)
		}
		slog.Error("inference server returned error", "endpoint", endpoint, "status_code", res.StatusCode(), "body", res.String())
		return fmt.Errorf("inference server returned %d for %s", res.StatusCode(), endpoint)
	}

	if err := json.Unmarshal(res.Body(), out); err != nil {
		return fmt.Errorf("error parsing inference response from %s: %w", endpoint, err)
	}
	return nil
}

func (c *HTTPClient) Translate(ctx context.Context, req TranslateRequest) (Translation, error) {
	var out Translation
	if err := c.post(ctx, "/translate", req, &out); err != nil {
		return Translation{}, err
	}
	if out.Model == "" {
		out.Model = c.modelName
	}
	return out, nil
}

type batchRequest struct {
	Texts          []string        `json:"texts"`
	SourceLanguage string          `json:"sourceLanguage"`
	TargetLanguage string          `json:"targetLanguage"`
	ModelType      types.ModelTier `json:"modelType"`
}

type batchResponse struct {
	Translations []string `json:"translations"`
}

func (c *HTTPClient) TranslateBatch(ctx context.Context, texts []string, source, target string, tier types.ModelTier) ([]string, error) {
	var out batchResponse
	if err := c.post(ctx, "/translate/batch", batchRequest{
		Texts:          texts,
		SourceLanguage: source,
		TargetLanguage: target,
		ModelType:      tier,
	}, &out); err != nil {
		return nil, err
	}
	if len(out.Translations) != len(texts) {
		return nil, fmt.Errorf("batch translation returned %d results for %d texts", len(out.Translations), len(texts))
	}
	return out.Translations, nil
}

func (c *HTTPClient) Transcribe(ctx context.Context, audio AudioInput) (api.Transcription, error) {
	const endpoint = "/transcribe"

	res, err := c.client.R().
		SetContext(ctx).
		SetFileReader("audio", "audio", bytes.NewReader(audio.Data)).
		SetFormData(map[string]string{
			"mimeType": audio.MimeType,
			"language": audio.Language,
		}).
		Post(endpoint)
	if err != nil {
		return api.Transcription{}, fmt.Errorf("inference request to %s failed: %w", endpoint, err)
	}

	var out api.Transcription
	if err := decodeResponse(res, endpoint, &out); err != nil {
		return api.Transcription{}, err
	}
	return out, nil
}

func (c *HTTPClient) Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesizedAudio, error) {
	var out SynthesizedAudio
	if err := c.post(ctx, "/synthesize", req, &out); err != nil {
		return SynthesizedAudio{}, err
	}
	return out, nil
}

type analyzeRequest struct {
	UserId   string `json:"userId"`
	Audio    []byte `json:"audio"`
	MimeType string `json:"mimeType"`
}

func (c *HTTPClient) Analyze(ctx context.Context, userId string, audio AudioInput) (VoiceProfile, error) {
	var out VoiceProfile
	if err := c.post(ctx, "/voice/analyze", analyzeRequest{UserId: userId, Audio: audio.Data, MimeType: audio.MimeType}, &out); err != nil {
		return VoiceProfile{}, err
	}
	return out, nil
}

type compareRequest struct {
	A []byte `json:"a"`
	B []byte `json:"b"`
}

type compareResponse struct {
	Similarity float64 `json:"similarity"`
}

func (c *HTTPClient) Compare(ctx context.Context, a, b []byte) (float64, error) {
	var out compareResponse
	if err := c.post(ctx, "/voice/compare", compareRequest{A: a, B: b}, &out); err != nil {
		return 0, err
	}
	return out.Similarity, nil
}

type voiceAPIRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func (c *HTTPClient) Handle(ctx context.Context, requestType string, payload map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := c.post(ctx, "/voice/api", voiceAPIRequest{Type: requestType, Payload: payload}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
