package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"translator-backend/internal/core/types"
	"translator-backend/internal/inference"
	"translator-backend/internal/metrics"
	"translator-backend/internal/results"

	"github.com/stretchr/testify/require"
)

type fakeTranslator struct {
	mu          sync.Mutex
	dictionary  map[string]string
	failTargets map[string]bool
	gate        chan struct{}
	calls       int
	batchCalls  int
	batchSizes  []int
}

func (f *fakeTranslator) wait(ctx context.Context) error {
	if f.gate == nil {
		return nil
	}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTranslator) translate(text, target string) string {
	if out, ok := f.dictionary[text+"|"+target]; ok {
		return out
	}
	return fmt.Sprintf("%s (%s)", text, target)
}

func (f *fakeTranslator) Translate(ctx context.Context, req inference.TranslateRequest) (inference.Translation, error) {
	if err := f.wait(ctx); err != nil {
		return inference.Translation{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failTargets[req.TargetLanguage] {
		return inference.Translation{}, fmt.Errorf("model unavailable for %s", req.TargetLanguage)
	}
	return inference.Translation{
		TranslatedText: f.translate(req.Text, req.TargetLanguage),
		Confidence:     0.9,
		Model:          "fake",
	}, nil
}

func (f *fakeTranslator) TranslateBatch(ctx context.Context, texts []string, source, target string, tier types.ModelTier) ([]string, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	f.batchSizes = append(f.batchSizes, len(texts))
	if f.failTargets[target] {
		return nil, fmt.Errorf("model unavailable for %s", target)
	}
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = f.translate(text, target)
	}
	return out, nil
}

func (f *fakeTranslator) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.batchCalls
}

type recordingPublisher struct {
	mu     sync.Mutex
	frames [][][]byte
}

func (r *recordingPublisher) Publish(ctx context.Context, frames [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frames)
	return nil
}

func (r *recordingPublisher) Close() {}

func (r *recordingPublisher) events(t *testing.T) []map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]map[string]any, 0, len(r.frames))
	for _, f := range r.frames {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(f[0], &ev))
		events = append(events, ev)
	}
	return events
}

func (r *recordingPublisher) ofType(t *testing.T, eventType string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ev := range r.events(t) {
		if ev["type"] == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type noUsage struct{}

func (noUsage) CPUPercent() float64 { return 0 }
func (noUsage) MemoryMB() float64   { return 0 }

type harness struct {
	translator *fakeTranslator
	out        *recordingPublisher
	publisher  *results.Publisher
	stats      *metrics.ServerStats
	processor  *TranslationProcessor
}

func newHarness(translator *fakeTranslator) *harness {
	out := &recordingPublisher{}
	stats := metrics.NewServerStats()
	publisher := results.NewPublisher(out, noUsage{}, stats, results.Config{ModelVersion: "test"})
	return &harness{
		translator: translator,
		out:        out,
		publisher:  publisher,
		stats:      stats,
		processor:  NewTranslationProcessor(translator, nil, publisher, stats, "fake"),
	}
}

func longText(prefix string) string {
	text := prefix
	for len(text) < 150 {
		text += " lorem ipsum"
	}
	return text
}

func newTestJob(text string, targets ...string) types.Job {
	return types.NewJob(types.JobParams{
		MessageId:       "m-" + text[:min(len(text), 8)],
		Text:            text,
		SourceLanguage:  "en",
		TargetLanguages: targets,
		ConversationId:  "c1",
	}, 100)
}
