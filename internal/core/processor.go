package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"translator-backend/internal/cache"
	"translator-backend/internal/core/types"
	"translator-backend/internal/inference"
	"translator-backend/internal/metrics"
	"translator-backend/internal/results"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	BatchConfidence = 0.95
	CacheConfidence = 0.99

	translationTaskType = "translation"
)

// TranslationProcessor executes the work items that pool workers dequeue. Each
// (job, target language) pair succeeds or fails on its own.
type TranslationProcessor struct {
	translator inference.Translator
	cache      *cache.TranslationCache
	publisher  *results.Publisher
	stats      *metrics.ServerStats
	modelName  string
	tracer     trace.Tracer
}

// NewTranslationProcessor builds a processor. translations may be nil, in
// which case every job goes to inference.
func NewTranslationProcessor(translator inference.Translator, translations *cache.TranslationCache, publisher *results.Publisher, stats *metrics.ServerStats, modelName string) *TranslationProcessor {
	return &TranslationProcessor{
		translator: translator,
		cache:      translations,
		publisher:  publisher,
		stats:      stats,
		modelName:  modelName,
		tracer:     otel.Tracer("translator-backend/internal/core"),
	}
}

func (proc *TranslationProcessor) Process(ctx context.Context, item workItem, worker results.WorkerInfo) {
	queueTime := time.Since(item.enqueuedAt)
	if item.batch != nil {
		proc.processBatch(ctx, *item.batch, worker, queueTime)
		return
	}
	proc.processJob(ctx, *item.job, worker, queueTime)
}

func (proc *TranslationProcessor) lookup(ctx context.Context, job types.Job, target string) (cache.CachedTranslation, bool) {
	if proc.cache == nil {
		return cache.CachedTranslation{}, false
	}
	cached, ok := proc.cache.Get(ctx, job.Text, job.SourceLanguage, target, job.ModelType)
	if ok {
		proc.stats.CacheHit()
	} else {
		proc.stats.CacheMiss()
	}
	return cached, ok
}

func (proc *TranslationProcessor) store(ctx context.Context, job types.Job, target, translated string, confidence float64) {
	if proc.cache == nil {
		return
	}
	proc.cache.Set(ctx, job.Text, job.SourceLanguage, target, job.ModelType, translated, confidence)
}

func (proc *TranslationProcessor) publishCached(ctx context.Context, job types.Job, target string, cached cache.CachedTranslation, worker results.WorkerInfo, queueTime time.Duration) {
	err := proc.publisher.PublishTranslation(ctx, results.TranslationOutcome{
		Job:            job,
		TargetLanguage: target,
		TranslatedText: cached.TranslatedText,
		Confidence:     CacheConfidence,
		Model:          proc.modelName,
		Worker:         worker,
		QueueTime:      queueTime,
		FromCache:      true,
	})
	proc.stats.RecordResult(translationTaskType, err == nil, 0)
}

// publishFresh publishes a new inference result and caches it if it passed the
// quality gate.
func (proc *TranslationProcessor) publishFresh(ctx context.Context, outcome results.TranslationOutcome) {
	err := proc.publisher.PublishTranslation(ctx, outcome)
	if !errors.Is(err, results.ErrRejected) {
		proc.store(ctx, outcome.Job, outcome.TargetLanguage, outcome.TranslatedText, outcome.Confidence)
	}
	proc.stats.RecordResult(translationTaskType, err == nil, outcome.TranslationTime)
}

func (proc *TranslationProcessor) fail(ctx context.Context, job types.Job, target string, err error, latency time.Duration) {
	slog.Error("translation failed",
		"task_id", job.TaskId,
		"message_id", job.MessageId,
		"target_language", target,
		"error", err,
	)
	if pubErr := proc.publisher.PublishTranslationError(ctx, job, target, err.Error(), results.ErrorCodeTranslation); pubErr != nil {
		slog.Error("error publishing translation error", "task_id", job.TaskId, "error", pubErr)
	}
	proc.stats.RecordResult(translationTaskType, false, latency)
}

func (proc *TranslationProcessor) processJob(ctx context.Context, job types.Job, worker results.WorkerInfo, queueTime time.Duration) {
	ctx, span := proc.tracer.Start(ctx, "translate_job", trace.WithAttributes(
		attribute.String("task_id", job.TaskId),
		attribute.String("lane", string(job.Lane)),
		attribute.String("worker_id", worker.WorkerId),
		attribute.Int("targets", len(job.TargetLanguages)),
	))
	defer span.End()

	for _, target := range job.TargetLanguages {
		if cached, ok := proc.lookup(ctx, job, target); ok {
			proc.publishCached(ctx, job, target, cached, worker, queueTime)
			continue
		}

		start := time.Now()
		translation, err := proc.translator.Translate(ctx, inference.TranslateRequest{
			Text:           job.Text,
			SourceLanguage: job.SourceLanguage,
			TargetLanguage: target,
			ModelType:      job.ModelType,
		})
		elapsed := time.Since(start)
		if err != nil {
			span.RecordError(err, trace.WithAttributes(attribute.String("target_language", target)))
			span.SetStatus(codes.Error, "translation failed")
			proc.fail(ctx, job, target, err, elapsed)
			continue
		}

		model := translation.Model
		if model == "" {
			model = proc.modelName
		}
		proc.publishFresh(ctx, results.TranslationOutcome{
			Job:             job,
			TargetLanguage:  target,
			TranslatedText:  translation.TranslatedText,
			Confidence:      translation.Confidence,
			Model:           model,
			Error:           translation.Error,
			Worker:          worker,
			QueueTime:       queueTime,
			TranslationTime: elapsed,
		})
	}
}

// processBatch makes one inference call per target language for the jobs
// that missed the cache. A failed call fails that language for every job in
// the batch and nothing else.
func (proc *TranslationProcessor) processBatch(ctx context.Context, batch types.Batch, worker results.WorkerInfo, queueTime time.Duration) {
	if len(batch.Jobs) == 0 {
		return
	}
	first := batch.Jobs[0]

	ctx, span := proc.tracer.Start(ctx, "translate_batch", trace.WithAttributes(
		attribute.String("batch_key", batch.Key),
		attribute.String("lane", string(batch.Lane)),
		attribute.String("worker_id", worker.WorkerId),
		attribute.Int("batch_size", len(batch.Jobs)),
	))
	defer span.End()

	for _, target := range first.TargetLanguages {
		var pending []int
		for i, job := range batch.Jobs {
			if cached, ok := proc.lookup(ctx, job, target); ok {
				proc.publishCached(ctx, job, target, cached, worker, queueTime)
				continue
			}
			pending = append(pending, i)
		}
		if len(pending) == 0 {
			continue
		}

		texts := make([]string, len(pending))
		for i, idx := range pending {
			texts[i] = batch.Jobs[idx].Text
		}

		start := time.Now()
		translated, err := proc.translator.TranslateBatch(ctx, texts, first.SourceLanguage, target, first.ModelType)
		elapsed := time.Since(start)
		if err == nil && len(translated) != len(texts) {
			err = fmt.Errorf("batch translation returned %d results for %d texts", len(translated), len(texts))
		}
		if err != nil {
			span.RecordError(err, trace.WithAttributes(attribute.String("target_language", target)))
			span.SetStatus(codes.Error, "batch translation failed")
			for _, idx := range pending {
				proc.fail(ctx, batch.Jobs[idx], target, err, elapsed)
			}
			continue
		}

		slog.Debug("batch translated", "batch_key", batch.Key, "target_language", target, "size", len(texts), "elapsed", elapsed)
		for i, idx := range pending {
			proc.publishFresh(ctx, results.TranslationOutcome{
				Job:             batch.Jobs[idx],
				TargetLanguage:  target,
				TranslatedText:  translated[i],
				Confidence:      BatchConfidence,
				Model:           proc.modelName,
				Worker:          worker,
				QueueTime:       queueTime,
				TranslationTime: elapsed,
				BatchSize:       len(batch.Jobs),
				BatchIndex:      idx,
			})
		}
	}
}
