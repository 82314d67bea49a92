package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"translator-backend/internal/inference"
	"translator-backend/internal/protocol"
	"translator-backend/internal/results"
	"translator-backend/pkg/api"

	"github.com/google/uuid"
)

const (
	ErrorCodeUnsupported = "UNSUPPORTED_REQUEST"
	ErrorCodeInternal    = "INTERNAL_ERROR"

	// A profile update is only accepted when the new sample matches the
	// stored voice at least this closely.
	UpdateSimilarityThreshold = 0.80
	MatchThreshold            = 0.75
)

func (s *Server) handleVoiceAPI(ctx context.Context, req protocol.VoiceAPI) {
	start := time.Now()
	taskId := req.TaskId
	if taskId == "" {
		taskId = uuid.NewString()
	}

	fail := func(message, code string) {
		s.stats.RecordResult(VoiceAPITask, false, time.Since(start))
		err := s.publisher.Publish(ctx, api.VoiceAPIError{
			Type:        api.VoiceAPIErrorEvent,
			TaskId:      taskId,
			RequestType: req.Operation,
			Error:       message,
			ErrorCode:   code,
			Timestamp:   results.Timestamp(time.Now()),
		})
		if err != nil {
			s.logger.Error("error publishing voice api error", "task_id", taskId, "error", err)
		}
	}

	if s.engines.VoiceAPI == nil {
		fail("voice api not available", ErrorCodePipelineUnavailable)
		return
	}
	if !protocol.IsVoiceAPIType(req.Operation) {
		fail(fmt.Sprintf("unsupported voice api request type '%s'", req.Operation), ErrorCodeUnsupported)
		return
	}

	result, err := s.engines.VoiceAPI.Handle(ctx, req.Operation, req.Payload)
	if err != nil {
		s.logger.Error("voice api request failed", "task_id", taskId, "request_type", req.Operation, "error", err)
		fail(err.Error(), ErrorCodeInternal)
		return
	}

	err = s.publisher.Publish(ctx, api.VoiceAPISuccess{
		Type:             api.VoiceAPISuccessEvent,
		TaskId:           taskId,
		RequestType:      req.Operation,
		Result:           result,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Timestamp:        results.Timestamp(time.Now()),
	})
	if err != nil {
		s.logger.Error("error publishing voice api result", "task_id", taskId, "error", err)
	}
	s.stats.RecordResult(VoiceAPITask, true, time.Since(start))
}

// errSoftFailure marks outcomes reported as a result with success=false
// rather than as a voice_profile_error.
type errSoftFailure struct {
	message string
	result  map[string]any
}

func (e *errSoftFailure) Error() string {
	return e.message
}

func (s *Server) handleVoiceProfile(ctx context.Context, req protocol.VoiceProfile) {
	start := time.Now()

	var result map[string]any
	var err error
	if s.engines.VoiceAnalyzer == nil {
		err = errors.New("voice analyzer not available")
	} else {
		switch req.Type {
		case protocol.VoiceProfileVerify:
			result, err = s.verifyVoice(ctx, req)
		case protocol.VoiceProfileCompare:
			result, err = s.compareVoices(ctx, req)
		default:
			result, err = s.analyzeVoice(ctx, req)
		}
	}

	resultType := req.Type + "_result"
	if req.Type == api.VoiceProfileRequestType {
		resultType = protocol.VoiceProfileAnalyze + "_result"
	}

	var soft *errSoftFailure
	switch {
	case err == nil:
		s.stats.RecordResult(VoiceProfileTask, true, time.Since(start))
		s.publishProfileResult(ctx, api.VoiceProfileResult{
			Type:      resultType,
			RequestId: req.RequestId,
			UserId:    req.UserId,
			Success:   true,
			Result:    result,
			Timestamp: results.Timestamp(time.Now()),
		})
	case errors.As(err, &soft):
		s.stats.RecordResult(VoiceProfileTask, false, time.Since(start))
		s.publishProfileResult(ctx, api.VoiceProfileResult{
			Type:      resultType,
			RequestId: req.RequestId,
			UserId:    req.UserId,
			Success:   false,
			Error:     soft.message,
			Result:    soft.result,
			Timestamp: results.Timestamp(time.Now()),
		})
	default:
		s.logger.Error("voice profile request failed", "request_id", req.RequestId, "type", req.Type, "error", err)
		s.stats.RecordResult(VoiceProfileTask, false, time.Since(start))
		s.publishProfileResult(ctx, api.VoiceProfileError{
			Type:      api.VoiceProfileErrorEvent,
			RequestId: req.RequestId,
			UserId:    req.UserId,
			Error:     err.Error(),
			Success:   false,
			Timestamp: results.Timestamp(time.Now()),
		})
	}
}

func (s *Server) publishProfileResult(ctx context.Context, event any) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("error publishing voice profile result", "error", err)
	}
}

func (s *Server) analyzeVoice(ctx context.Context, req protocol.VoiceProfile) (map[string]any, error) {
	if len(req.Audio) == 0 {
		return nil, &errSoftFailure{message: "audio_data is required"}
	}

	profile, err := s.engines.VoiceAnalyzer.Analyze(ctx, req.UserId, inference.AudioInput{Data: req.Audio, MimeType: req.AudioFormat})
	if err != nil {
		return nil, fmt.Errorf("error analyzing voice: %w", err)
	}

	if req.IsUpdate && len(req.Embedding) > 0 {
		similarity, err := s.engines.VoiceAnalyzer.Compare(ctx, req.Embedding, profile.Embedding)
		if err != nil {
			return nil, fmt.Errorf("error comparing with existing profile: %w", err)
		}
		if similarity < UpdateSimilarityThreshold {
			return nil, &errSoftFailure{
				message: "voice does not match the existing profile",
				result: map[string]any{
					"similarity_score": similarity,
					"threshold":        UpdateSimilarityThreshold,
				},
			}
		}
	}

	s.storeProfile(ctx, profile)

	return map[string]any{
		"profile_id":            profile.ProfileId,
		"quality_score":         profile.QualityScore,
		"fingerprint":           profile.Fingerprint,
		"voice_characteristics": profile.Characteristics,
		"embedding_data":        base64.StdEncoding.EncodeToString(profile.Embedding),
		"embedding_dimension":   len(profile.Embedding),
	}, nil
}

func (s *Server) verifyVoice(ctx context.Context, req protocol.VoiceProfile) (map[string]any, error) {
	if len(req.Audio) == 0 {
		return nil, &errSoftFailure{message: "audio_data is required"}
	}

	existing := req.Embedding
	if len(existing) == 0 && s.audioCache != nil {
		if cached, ok := s.audioCache.GetVoiceProfile(ctx, req.UserId); ok {
			existing = cached.Embedding
		}
	}
	if len(existing) == 0 {
		return nil, &errSoftFailure{message: "no existing voice profile to verify against"}
	}

	profile, err := s.engines.VoiceAnalyzer.Analyze(ctx, req.UserId, inference.AudioInput{Data: req.Audio, MimeType: req.AudioFormat})
	if err != nil {
		return nil, fmt.Errorf("error analyzing voice: %w", err)
	}
	return s.similarity(ctx, existing, profile.Embedding)
}

func (s *Server) compareVoices(ctx context.Context, req protocol.VoiceProfile) (map[string]any, error) {
	a, errA := base64.StdEncoding.DecodeString(req.EmbeddingA)
	b, errB := base64.StdEncoding.DecodeString(req.EmbeddingB)
	if errA != nil || errB != nil || len(a) == 0 || len(b) == 0 {
		return nil, &errSoftFailure{message: "embedding_a and embedding_b must be non empty base64"}
	}
	return s.similarity(ctx, a, b)
}

func (s *Server) similarity(ctx context.Context, a, b []byte) (map[string]any, error) {
	score, err := s.engines.VoiceAnalyzer.Compare(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("error comparing embeddings: %w", err)
	}
	return map[string]any{
		"is_match":         score >= MatchThreshold,
		"similarity_score": score,
		"threshold":        MatchThreshold,
	}, nil
}
