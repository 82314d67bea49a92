package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"translator-backend/internal/core/types"
	"translator-backend/internal/messaging"
	"translator-backend/internal/metrics"
	"translator-backend/pkg/api"
)

const (
	ResultVersion     = "1.0.0"
	TranslatorVersion = "2.0.0"
	Encoding          = "UTF-8"

	ErrorCodePoolFull        = "pool_full"
	ErrorCodeTranslation     = "translation_failed"
	ReasonMessageTooLong     = "message_too_long"
	TranslationPoolFullError = "translation pool full"
)

var ErrRejected = errors.New("result rejected by quality gate")

// Timestamp converts t to fractional unix seconds, the format used by every
// published event.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// CompletedTranslation is handed to the persistence sink after a successful
// publish.
type CompletedTranslation struct {
	MessageId      string
	ConversationId string
	SourceLanguage string
	TargetLanguage string
	TranslatedText string
	ModelType      string
	Confidence     float64
}

type Sink interface {
	Enqueue(CompletedTranslation)
}

type WorkerInfo struct {
	WorkerId   string
	WorkerName string
}

type TranslationOutcome struct {
	Job             types.Job
	TargetLanguage  string
	TranslatedText  string
	Confidence      float64
	Model           string
	Error           string
	Worker          WorkerInfo
	QueueTime       time.Duration
	TranslationTime time.Duration
	FromCache       bool
	BatchSize       int
	BatchIndex      int
}

type Config struct {
	Protocol     string
	ModelVersion string
}

type Publisher struct {
	out      messaging.Publisher
	usage    ResourceUsage
	stats    *metrics.ServerStats
	sink     Sink
	config   Config
	hostname string
	logger   *slog.Logger
}

func NewPublisher(out messaging.Publisher, usage ResourceUsage, stats *metrics.ServerStats, config Config) *Publisher {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if config.Protocol == "" {
		config.Protocol = messaging.AMQPProtocol
	}

	return &Publisher{
		out:      out,
		usage:    usage,
		stats:    stats,
		config:   config,
		hostname: hostname,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// SetSink attaches an optional persistence sink for completed translations.
func (p *Publisher) SetSink(sink Sink) {
	p.sink = sink
}

// Frames encodes event as frame 0 followed by the binary payloads.
func Frames(event any, binaries ...[]byte) ([][]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("error encoding event: %w", err)
	}

	frames := make([][]byte, 0, 1+len(binaries))
	frames = append(frames, data)
	frames = append(frames, binaries...)
	return frames, nil
}

// Publish sends one event, with optional binary frames attached after the
// JSON frame.
func (p *Publisher) Publish(ctx context.Context, event any, binaries ...[]byte) error {
	frames, err := Frames(event, binaries...)
	if err != nil {
		return err
	}

	if err := p.out.Publish(ctx, frames); err != nil {
		p.logger.Error("error publishing event", "error", err)
		return fmt.Errorf("error publishing event: %w", err)
	}
	return nil
}

// PublishTranslation validates a result and publishes it as a
// translation_completed event. Rejected results are logged and counted only.
func (p *Publisher) PublishTranslation(ctx context.Context, outcome TranslationOutcome) error {
	job := outcome.Job

	if reason, ok := Validate(Candidate{
		TranslatedText: outcome.TranslatedText,
		Confidence:     outcome.Confidence,
		Error:          outcome.Error,
	}, job.Text); !ok {
		p.logger.Error("translation rejected by quality gate",
			"task_id", job.TaskId,
			"message_id", job.MessageId,
			"target_language", outcome.TargetLanguage,
			"worker_id", outcome.Worker.WorkerId,
			"reason", reason,
			"confidence", outcome.Confidence,
		)
		p.stats.QualityRejection(string(reason))
		return ErrRejected
	}

	now := time.Now()
	model := outcome.Model
	if model == "" {
		model = string(job.ModelType)
	}

	event := api.TranslationCompleted{
		Type:   api.TranslationCompletedEvent,
		TaskId: job.TaskId,
		Result: api.TranslationResult{
			MessageId:       job.MessageId,
			TranslatedText:  outcome.TranslatedText,
			SourceLanguage:  job.SourceLanguage,
			TargetLanguage:  outcome.TargetLanguage,
			ConfidenceScore: outcome.Confidence,
			ProcessingTime:  outcome.TranslationTime.Seconds(),
			ModelType:       string(job.ModelType),
			WorkerName:      outcome.Worker.WorkerName,
			TranslatorModel: model,
			WorkerId:        outcome.Worker.WorkerId,
			PoolType:        string(job.Lane),
			TranslationTime: outcome.TranslationTime.Milliseconds(),
			QueueTime:       outcome.QueueTime.Milliseconds(),
			MemoryUsage:     p.usage.MemoryMB(),
			CpuUsage:        p.usage.CPUPercent(),
			FromCache:       outcome.FromCache,
			BatchSize:       outcome.BatchSize,
			BatchIndex:      outcome.BatchIndex,
			Timestamp:       Timestamp(now),
			Version:         ResultVersion,
		},
		TargetLanguage: outcome.TargetLanguage,
		Timestamp:      Timestamp(now),
		Metadata: api.TranslationMetadata{
			TranslatorVersion: TranslatorVersion,
			ModelVersion:      p.config.ModelVersion,
			ProcessingNode:    p.hostname,
			SessionId:         job.SessionId,
			RequestId:         job.RequestId,
			Protocol:          p.config.Protocol,
			Encoding:          Encoding,
		},
	}

	if err := p.Publish(ctx, event); err != nil {
		return err
	}

	if p.sink != nil && !outcome.FromCache {
		p.sink.Enqueue(CompletedTranslation{
			MessageId:      job.MessageId,
			ConversationId: job.ConversationId,
			SourceLanguage: job.SourceLanguage,
			TargetLanguage: outcome.TargetLanguage,
			TranslatedText: outcome.TranslatedText,
			ModelType:      string(job.ModelType),
			Confidence:     outcome.Confidence,
		})
	}
	return nil
}

func (p *Publisher) PublishTranslationError(ctx context.Context, job types.Job, target, message, code string) error {
	return p.Publish(ctx, api.TranslationError{
		Type:           api.TranslationErrorEvent,
		TaskId:         job.TaskId,
		MessageId:      job.MessageId,
		TargetLanguage: target,
		Error:          message,
		ErrorCode:      code,
		ConversationId: job.ConversationId,
		Timestamp:      Timestamp(time.Now()),
	})
}

// PublishPoolFull reports a capacity rejection once per target language.
func (p *Publisher) PublishPoolFull(ctx context.Context, job types.Job) {
	p.stats.PoolFull(string(job.Lane))
	for _, target := range job.TargetLanguages {
		if err := p.PublishTranslationError(ctx, job, target, TranslationPoolFullError, ErrorCodePoolFull); err != nil {
			p.logger.Error("error publishing pool full event", "task_id", job.TaskId, "error", err)
		}
	}
}

func (p *Publisher) PublishSkipped(ctx context.Context, messageId, conversationId string, length, maxLength int) error {
	p.stats.Skipped(ReasonMessageTooLong)
	return p.Publish(ctx, api.TranslationSkipped{
		Type:           api.TranslationSkippedEvent,
		MessageId:      messageId,
		Reason:         ReasonMessageTooLong,
		Length:         length,
		MaxLength:      maxLength,
		ConversationId: conversationId,
		Timestamp:      Timestamp(time.Now()),
	})
}
