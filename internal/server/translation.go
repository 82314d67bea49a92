package server

import (
	"context"
	"errors"
	"time"

	"translator-backend/internal/core"
	"translator-backend/internal/core/types"
	"translator-backend/internal/core/utils"
	"translator-backend/internal/protocol"
)

const ErrorCodeUnavailable = "service_unavailable"

func (s *Server) handleTranslation(ctx context.Context, req protocol.Translation) {
	start := time.Now()

	length := utils.TextLength(req.Text)
	if length > s.config.MaxTranslationLength {
		s.logger.Warn("skipping translation, message too long",
			"message_id", req.MessageId,
			"length", length,
			"max_length", s.config.MaxTranslationLength,
		)
		conversationId := req.ConversationId
		if conversationId == "" {
			conversationId = "unknown"
		}
		if err := s.publisher.PublishSkipped(ctx, req.MessageId, conversationId, length, s.config.MaxTranslationLength); err != nil {
			s.logger.Error("error publishing translation skipped", "message_id", req.MessageId, "error", err)
		}
		return
	}

	job := types.NewJob(types.JobParams{
		TaskId:          req.TaskId,
		MessageId:       req.MessageId,
		Text:            req.Text,
		SourceLanguage:  req.SourceLanguage,
		TargetLanguages: req.TargetLanguages,
		ModelType:       req.ModelType,
		ConversationId:  req.ConversationId,
		SessionId:       req.SessionId,
		RequestId:       req.RequestId,
	}, s.manager.ShortTextThreshold())

	err := s.manager.Submit(ctx, job)
	switch {
	case err == nil:
		s.logger.Debug("translation queued",
			"task_id", job.TaskId,
			"message_id", job.MessageId,
			"lane", job.Lane,
			"priority", job.Priority,
			"targets", job.TargetLanguages,
			"text", utils.Preview(job.Text, 40),
			"elapsed", time.Since(start),
		)
	case errors.Is(err, core.ErrPoolFull):
		// already reported per target language
	case errors.Is(err, core.ErrStopped):
		for _, target := range job.TargetLanguages {
			if pubErr := s.publisher.PublishTranslationError(ctx, job, target, err.Error(), ErrorCodeUnavailable); pubErr != nil {
				s.logger.Error("error publishing translation error", "task_id", job.TaskId, "error", pubErr)
			}
		}
	default:
		s.logger.Error("error submitting translation", "task_id", job.TaskId, "error", err)
	}
}
