package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"translator-backend/internal/cache"
	"translator-backend/internal/core/types"
	"translator-backend/internal/core/utils"
	"translator-backend/internal/inference"
	"translator-backend/internal/protocol"
	"translator-backend/internal/results"
	"translator-backend/pkg/api"
)

const (
	ErrorCodePipelineUnavailable = "pipeline_unavailable"
	ErrorCodeInvalidRequest      = "invalid_request"
	ErrorCodeProcessingFailed    = "processing_failed"
	ErrorCodeTranscription       = "transcription_failed"

	MobileSource = "mobile"
)

var errNoAudio = errors.New("request carries neither audio nor a mobile transcription")

// transcribe returns the transcription for an attachment, preferring the
// cache, then a transcription supplied by the client, then the engine.
func (s *Server) transcribe(ctx context.Context, attachmentId string, mobile *api.MobileTranscription, audio []byte, mimeType, language string) (api.Transcription, error) {
	if s.audioCache != nil && attachmentId != "" {
		if cached, ok := s.audioCache.GetTranscription(ctx, attachmentId); ok {
			s.stats.CacheHit()
			return cached, nil
		}
		s.stats.CacheMiss()
	}

	var transcription api.Transcription
	switch {
	case mobile != nil && mobile.Text != "":
		transcription = api.Transcription{
			Text:       mobile.Text,
			Language:   mobile.Language,
			Confidence: mobile.Confidence,
			Source:     MobileSource,
			Segments:   mobile.Segments,
		}
		if transcription.Language == "" {
			transcription.Language = language
		}
		if mobile.Source != "" {
			transcription.Source = mobile.Source
		}
	case len(audio) > 0:
		var err error
		transcription, err = s.engines.Transcriber.Transcribe(ctx, inference.AudioInput{Data: audio, MimeType: mimeType, Language: language})
		if err != nil {
			return api.Transcription{}, fmt.Errorf("error transcribing audio: %w", err)
		}
	default:
		return api.Transcription{}, errNoAudio
	}

	if s.audioCache != nil && attachmentId != "" {
		s.audioCache.SetTranscription(ctx, attachmentId, transcription)
	}
	return transcription, nil
}

func (s *Server) publishTaskError(ctx context.Context, eventType, taskId, messageId, attachmentId, message, code string) {
	err := s.publisher.Publish(ctx, api.TaskError{
		Type:         eventType,
		TaskId:       taskId,
		MessageId:    messageId,
		AttachmentId: attachmentId,
		Error:        message,
		ErrorCode:    code,
		Timestamp:    results.Timestamp(time.Now()),
	})
	if err != nil {
		s.logger.Error("error publishing task error", "type", eventType, "task_id", taskId, "error", err)
	}
}

type audioLanguageResult struct {
	translated api.TranslatedAudio
	audio      []byte
}

func (s *Server) handleAudioProcess(ctx context.Context, req protocol.AudioProcess) {
	start := time.Now()
	taskId := req.TaskId
	if taskId == "" {
		taskId = req.MessageId
	}

	fail := func(message, code string) {
		s.stats.RecordResult(AudioProcessTask, false, time.Since(start))
		s.publishTaskError(ctx, api.AudioProcessErrorEvent, taskId, req.MessageId, req.AttachmentId, message, code)
	}

	if !s.engines.AudioPipelineAvailable() {
		fail("audio pipeline not available", ErrorCodePipelineUnavailable)
		return
	}
	if len(req.Audio) == 0 && (req.MobileTranscription == nil || req.MobileTranscription.Text == "") {
		fail(errNoAudio.Error(), ErrorCodeInvalidRequest)
		return
	}

	transcription, err := s.transcribe(ctx, req.AttachmentId, req.MobileTranscription, req.Audio, req.AudioMimeType, req.SourceLanguage)
	if err != nil {
		s.logger.Error("error transcribing attachment", "task_id", taskId, "attachment_id", req.AttachmentId, "error", err)
		fail(err.Error(), ErrorCodeProcessingFailed)
		return
	}
	if transcription.DurationMs == 0 {
		transcription.DurationMs = req.AudioDurationMs
	}
	if s.archive != nil {
		s.archive.SaveTranscription(req.MessageId, req.AttachmentId, transcription)
	}

	err = s.publisher.Publish(ctx, api.TranscriptionEvent{
		Type:             api.TranscriptionReadyEvent,
		TaskId:           taskId,
		MessageId:        req.MessageId,
		AttachmentId:     req.AttachmentId,
		Transcription:    transcription,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Timestamp:        results.Timestamp(time.Now()),
	})
	if err != nil {
		s.logger.Error("error publishing transcription ready", "task_id", taskId, "error", err)
	}

	var voice *inference.VoiceProfile
	var newProfile *inference.VoiceProfile
	if req.GenerateVoiceClone {
		voice, newProfile = s.resolveVoice(ctx, req)
	}

	source := req.SourceLanguage
	if source == "" {
		source = transcription.Language
	}
	targets := targetLanguages(req.TargetLanguages, source)

	queue := make(chan string, len(targets))
	for _, lang := range targets {
		queue <- lang
	}
	close(queue)

	completed := make(chan utils.CompletedTask[string, audioLanguageResult], len(targets))
	utils.RunInPool(func(lang string) (audioLanguageResult, error) {
		return s.translateAudio(ctx, req, transcription.Text, source, lang, voice)
	}, queue, completed, s.config.AudioWorkers)

	position := make(map[string]int, len(targets))
	for i, lang := range targets {
		position[lang] = i
	}

	done := make(map[string]audioLanguageResult, len(targets))
	for task := range completed {
		if task.Error != nil {
			s.logger.Error("error producing translated audio",
				"task_id", taskId,
				"attachment_id", req.AttachmentId,
				"language", task.Input,
				"error", task.Error,
			)
			continue
		}

		index := position[task.Input]
		done[task.Input] = task.Result
		audio := task.Result.audio
		err := s.publisher.Publish(ctx, api.AudioTranslationReady{
			Type:            api.AudioTranslationReadyEvent,
			TaskId:          taskId,
			MessageId:       req.MessageId,
			AttachmentId:    req.AttachmentId,
			Language:        task.Input,
			TranslatedAudio: task.Result.translated,
			CurrentIndex:    index + 1,
			TotalLanguages:  len(targets),
			IsLastLanguage:  index == len(targets)-1,
			BinaryFrames:    protocol.BinaryFrames([]string{protocol.AudioFrame}, [][]byte{audio}, []string{task.Result.translated.AudioMimeType}),
			Timestamp:       results.Timestamp(time.Now()),
		}, audio)
		if err != nil {
			s.logger.Error("error publishing translated audio", "task_id", taskId, "language", task.Input, "error", err)
		}
	}

	if len(targets) > 0 && len(done) == 0 {
		fail("no target language could be produced", ErrorCodeProcessingFailed)
		return
	}

	// Frames of the completion event follow target language order.
	translatedAudios := make([]api.TranslatedAudio, 0, len(done))
	names := make([]string, 0, len(done)+1)
	payloads := make([][]byte, 0, len(done)+1)
	mimeTypes := make([]string, 0, len(done)+1)
	for _, lang := range targets {
		result, ok := done[lang]
		if !ok {
			continue
		}
		translatedAudios = append(translatedAudios, result.translated)
		names = append(names, "audio_"+lang)
		payloads = append(payloads, result.audio)
		mimeTypes = append(mimeTypes, result.translated.AudioMimeType)
	}

	event := api.AudioProcessCompleted{
		Type:             api.AudioProcessCompletedEvent,
		TaskId:           taskId,
		MessageId:        req.MessageId,
		AttachmentId:     req.AttachmentId,
		Transcription:    transcription,
		TranslatedAudios: translatedAudios,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Timestamp:        results.Timestamp(time.Now()),
	}
	if newProfile != nil {
		event.NewVoiceProfile = &api.NewVoiceProfile{
			UserId:          newProfile.UserId,
			ProfileId:       newProfile.ProfileId,
			QualityScore:    newProfile.QualityScore,
			Fingerprint:     newProfile.Fingerprint,
			Characteristics: newProfile.Characteristics,
		}
		names = append(names, protocol.EmbeddingFrame)
		payloads = append(payloads, newProfile.Embedding)
		mimeTypes = append(mimeTypes, "application/octet-stream")
	}
	if len(payloads) > 0 {
		event.BinaryFrames = protocol.BinaryFrames(names, payloads, mimeTypes)
	}

	if err := s.publisher.Publish(ctx, event, payloads...); err != nil {
		s.logger.Error("error publishing audio process completed", "task_id", taskId, "error", err)
	}

	s.stats.RecordResult(AudioProcessTask, true, time.Since(start))
	s.logger.Info("audio processed",
		"task_id", taskId,
		"attachment_id", req.AttachmentId,
		"languages", len(done),
		"voice_cloned", voice != nil,
		"duration", time.Since(start),
	)
}

func targetLanguages(langs []string, source string) []string {
	seen := make(map[string]struct{}, len(langs))
	out := make([]string, 0, len(langs))
	for _, lang := range langs {
		if lang == source {
			continue
		}
		if _, ok := seen[lang]; ok {
			continue
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}
	return out
}

func (s *Server) translateAudio(ctx context.Context, req protocol.AudioProcess, text, source, lang string, voice *inference.VoiceProfile) (audioLanguageResult, error) {
	// Cached audio is only reused when it was produced with the same voice mode.
	if s.audioCache != nil {
		if cached, ok := s.audioCache.GetAudioTranslation(ctx, req.AttachmentId, lang); ok && cached.TranslatedAudio.VoiceCloned == (voice != nil) {
			s.stats.CacheHit()
			cached.TranslatedAudio.FromCache = true
			return audioLanguageResult{translated: cached.TranslatedAudio, audio: cached.Audio}, nil
		}
		s.stats.CacheMiss()
	}

	translation, err := s.engines.Translator.Translate(ctx, inference.TranslateRequest{
		Text:           text,
		SourceLanguage: source,
		TargetLanguage: lang,
		ModelType:      types.ParseModelTier(req.ModelType),
	})
	if err != nil {
		return audioLanguageResult{}, fmt.Errorf("error translating transcription: %w", err)
	}
	if reason, ok := results.Validate(results.Candidate{
		TranslatedText: translation.TranslatedText,
		Confidence:     translation.Confidence,
		Error:          translation.Error,
	}, text); !ok {
		s.stats.QualityRejection(string(reason))
		return audioLanguageResult{}, fmt.Errorf("translation rejected: %s", reason)
	}

	synthesized, err := s.engines.Synthesizer.Synthesize(ctx, inference.SynthesizeRequest{
		Text:          translation.TranslatedText,
		Language:      lang,
		Voice:         voice,
		CloningParams: req.CloningParams,
	})
	if err != nil {
		return audioLanguageResult{}, fmt.Errorf("error synthesizing audio: %w", err)
	}

	result := audioLanguageResult{
		translated: api.TranslatedAudio{
			TargetLanguage: lang,
			TranslatedText: translation.TranslatedText,
			AudioMimeType:  synthesized.MimeType,
			DurationMs:     synthesized.DurationMs,
			VoiceCloned:    synthesized.VoiceCloned,
			VoiceQuality:   synthesized.VoiceQuality,
		},
		audio: synthesized.Audio,
	}

	if s.audioCache != nil {
		s.audioCache.SetAudioTranslation(ctx, req.AttachmentId, lang, cache.CachedAudioTranslation{
			TranslatedAudio: result.translated,
			Audio:           result.audio,
		})
	}
	return result, nil
}

// resolveVoice picks the voice used for cloning. The second return value is
// set only when a profile was created for this request.
func (s *Server) resolveVoice(ctx context.Context, req protocol.AudioProcess) (*inference.VoiceProfile, *inference.VoiceProfile) {
	if profile, ok := s.suppliedVoice(req); ok {
		return profile, nil
	}

	if s.audioCache != nil {
		if cached, ok := s.audioCache.GetVoiceProfile(ctx, req.SenderId); ok {
			return fromCachedProfile(cached), nil
		}
	}

	if s.engines.VoiceAnalyzer == nil || len(req.Audio) == 0 {
		return nil, nil
	}

	// Concurrent messages from one sender must not each build a profile.
	var created *inference.VoiceProfile
	var voice *inference.VoiceProfile
	err := s.profileLocks.WithLock(req.SenderId, func() error {
		if s.audioCache != nil {
			if cached, ok := s.audioCache.GetVoiceProfile(ctx, req.SenderId); ok {
				voice = fromCachedProfile(cached)
				return nil
			}
		}

		profile, err := s.engines.VoiceAnalyzer.Analyze(ctx, req.SenderId, inference.AudioInput{
			Data:     req.Audio,
			MimeType: req.AudioMimeType,
			Language: req.SourceLanguage,
		})
		if err != nil {
			return err
		}

		s.storeProfile(ctx, profile)
		voice = &profile
		created = &profile
		return nil
	})
	if err != nil {
		s.logger.Warn("unable to build voice profile, continuing without cloning", "sender_id", req.SenderId, "error", err)
		return nil, nil
	}
	return voice, created
}

func (s *Server) suppliedVoice(req protocol.AudioProcess) (*inference.VoiceProfile, bool) {
	var meta api.VoiceProfileData
	if len(req.VoiceProfile) > 0 {
		if err := json.Unmarshal(req.VoiceProfile, &meta); err != nil {
			s.logger.Warn("ignoring undecodable voice profile frame", "sender_id", req.SenderId, "error", err)
		}
	} else if req.ExistingVoiceProfile != nil {
		meta = *req.ExistingVoiceProfile
	}

	embedding := req.Embedding
	if len(embedding) == 0 && meta.Embedding != "" {
		decoded, err := base64.StdEncoding.DecodeString(meta.Embedding)
		if err != nil {
			s.logger.Warn("ignoring invalid voice profile embedding", "sender_id", req.SenderId, "error", err)
		} else {
			embedding = decoded
		}
	}
	if len(embedding) == 0 {
		return nil, false
	}

	userId := meta.UserId
	if userId == "" {
		userId = req.SenderId
	}
	return &inference.VoiceProfile{
		ProfileId:       meta.ProfileId,
		UserId:          userId,
		Embedding:       embedding,
		QualityScore:    meta.QualityScore,
		Fingerprint:     meta.Fingerprint,
		Characteristics: meta.Characteristics,
	}, true
}

func (s *Server) storeProfile(ctx context.Context, profile inference.VoiceProfile) {
	if s.audioCache != nil {
		s.audioCache.SetVoiceProfile(ctx, cache.CachedVoiceProfile{
			ProfileId:       profile.ProfileId,
			UserId:          profile.UserId,
			QualityScore:    profile.QualityScore,
			Embedding:       profile.Embedding,
			Fingerprint:     profile.Fingerprint,
			Characteristics: profile.Characteristics,
		})
	}
	if s.archive != nil {
		s.archive.SaveVoiceProfile(profile)
	}
}

func fromCachedProfile(cached cache.CachedVoiceProfile) *inference.VoiceProfile {
	return &inference.VoiceProfile{
		ProfileId:       cached.ProfileId,
		UserId:          cached.UserId,
		Embedding:       cached.Embedding,
		QualityScore:    cached.QualityScore,
		Fingerprint:     cached.Fingerprint,
		Characteristics: cached.Characteristics,
	}
}

func (s *Server) handleTranscription(ctx context.Context, req protocol.TranscriptionOnly) {
	start := time.Now()

	if s.engines.Transcriber == nil && (req.MobileTranscription == nil || req.MobileTranscription.Text == "") {
		s.stats.RecordResult(TranscriptionTask, false, time.Since(start))
		s.publishTaskError(ctx, api.TranscriptionErrorEvent, req.TaskId, req.MessageId, req.AttachmentId, "transcription engine not available", ErrorCodePipelineUnavailable)
		return
	}
	if len(req.Audio) == 0 && (req.MobileTranscription == nil || req.MobileTranscription.Text == "") {
		s.stats.RecordResult(TranscriptionTask, false, time.Since(start))
		s.publishTaskError(ctx, api.TranscriptionErrorEvent, req.TaskId, req.MessageId, req.AttachmentId, errNoAudio.Error(), ErrorCodeInvalidRequest)
		return
	}

	transcription, err := s.transcribe(ctx, req.AttachmentId, req.MobileTranscription, req.Audio, req.AudioMimeType, req.Language)
	if err != nil {
		s.logger.Error("error transcribing audio", "task_id", req.TaskId, "message_id", req.MessageId, "error", err)
		s.stats.RecordResult(TranscriptionTask, false, time.Since(start))
		s.publishTaskError(ctx, api.TranscriptionErrorEvent, req.TaskId, req.MessageId, req.AttachmentId, err.Error(), ErrorCodeTranscription)
		return
	}
	if s.archive != nil && req.AttachmentId != "" {
		s.archive.SaveTranscription(req.MessageId, req.AttachmentId, transcription)
	}

	err = s.publisher.Publish(ctx, api.TranscriptionEvent{
		Type:             api.TranscriptionCompletedEvent,
		TaskId:           req.TaskId,
		MessageId:        req.MessageId,
		AttachmentId:     req.AttachmentId,
		Transcription:    transcription,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Timestamp:        results.Timestamp(time.Now()),
	})
	if err != nil {
		s.logger.Error("error publishing transcription", "task_id", req.TaskId, "error", err)
	}
	s.stats.RecordResult(TranscriptionTask, true, time.Since(start))
}
