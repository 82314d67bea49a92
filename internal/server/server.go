package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"translator-backend/internal/cache"
	"translator-backend/internal/core"
	"translator-backend/internal/core/utils"
	"translator-backend/internal/inference"
	"translator-backend/internal/messaging"
	"translator-backend/internal/metrics"
	"translator-backend/internal/protocol"
	"translator-backend/internal/results"
	"translator-backend/pkg/api"

	"golang.org/x/time/rate"
)

const (
	TranslationTask   = "translation"
	AudioProcessTask  = "audio_process"
	TranscriptionTask = "transcription"
	VoiceAPITask      = "voice_api"
	VoiceProfileTask  = "voice_profile"

	DefaultShutdownTimeout = 30 * time.Second
	maxProfileLocks        = 10000
)

// Archive receives audio pipeline output for durable storage. Calls must not
// block.
type Archive interface {
	SaveTranscription(messageId, attachmentId string, transcription api.Transcription)
	SaveVoiceProfile(profile inference.VoiceProfile)
}

type Config struct {
	MaxTranslationLength int
	PortPub              int
	PortPull             int
	AudioWorkers         int
	RateLimit            float64
	RateBurst            int
	ShutdownTimeout      time.Duration
}

type Deps struct {
	Receiver   messaging.Receiver
	Manager    *core.Manager
	Publisher  *results.Publisher
	Engines    inference.Engines
	AudioCache *cache.AudioCache
	Archive    Archive
	Stats      *metrics.ServerStats
}

// Server reads requests from the ingress channel and dispatches each one as
// its own tracked task.
type Server struct {
	receiver   messaging.Receiver
	decoder    *protocol.Decoder
	manager    *core.Manager
	publisher  *results.Publisher
	engines    inference.Engines
	audioCache *cache.AudioCache
	archive    Archive
	stats      *metrics.ServerStats
	limiter    *rate.Limiter

	profileLocks *utils.MutexMap
	config       Config

	tasks       sync.WaitGroup
	taskCtx     context.Context
	cancelTasks context.CancelFunc
	logger      *slog.Logger
}

func New(deps Deps, config Config) *Server {
	if config.MaxTranslationLength <= 0 {
		config.MaxTranslationLength = 10000
	}
	if config.AudioWorkers <= 0 {
		config.AudioWorkers = 4
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), max(config.RateBurst, 1))
	}

	taskCtx, cancelTasks := context.WithCancel(context.Background())

	return &Server{
		receiver:     deps.Receiver,
		decoder:      protocol.NewDecoder(),
		manager:      deps.Manager,
		publisher:    deps.Publisher,
		engines:      deps.Engines,
		audioCache:   deps.AudioCache,
		archive:      deps.Archive,
		stats:        deps.Stats,
		limiter:      limiter,
		profileLocks: utils.NewMutexMap(maxProfileLocks),
		config:       config,
		taskCtx:      taskCtx,
		cancelTasks:  cancelTasks,
		logger:       slog.Default().With("component", "server"),
	}
}

// Run consumes deliveries until ctx is cancelled or the receiver closes.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("ingress loop started")
	deliveries := s.receiver.Deliveries()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ingress loop stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				s.logger.Warn("ingress channel closed")
				return nil
			}
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					if rejectErr := d.Reject(); rejectErr != nil {
						s.logger.Error("error rejecting message", "error", rejectErr)
					}
					return nil
				}
			}
			s.dispatch(ctx, d)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, d messaging.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered from panic while dispatching message", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	req, err := s.decoder.Decode(d.Frames())
	if err != nil {
		s.drop(d, err)
		return
	}
	if err := d.Ack(); err != nil {
		s.logger.Error("error acknowledging message", "error", err)
	}

	switch r := req.(type) {
	case protocol.Ping:
		s.handlePing(ctx)
	case protocol.Translation:
		s.track(TranslationTask, func(ctx context.Context) { s.handleTranslation(ctx, r) })
	case protocol.AudioProcess:
		s.track(AudioProcessTask, func(ctx context.Context) { s.handleAudioProcess(ctx, r) })
	case protocol.TranscriptionOnly:
		s.track(TranscriptionTask, func(ctx context.Context) { s.handleTranscription(ctx, r) })
	case protocol.VoiceAPI:
		s.track(VoiceAPITask, func(ctx context.Context) { s.handleVoiceAPI(ctx, r) })
	case protocol.VoiceProfile:
		s.track(VoiceProfileTask, func(ctx context.Context) { s.handleVoiceProfile(ctx, r) })
	default:
		s.logger.Error("no handler for request", "type", fmt.Sprintf("%T", req))
	}
}

// drop discards an undecodable message. It is rejected so a broker with a
// dead-letter exchange keeps a copy.
func (s *Server) drop(d messaging.Delivery, err error) {
	reason := "invalid"
	var validationErr *protocol.ValidationError
	switch {
	case errors.Is(err, protocol.ErrMalformedEnvelope):
		reason = "malformed"
	case errors.Is(err, protocol.ErrUnknownType):
		reason = "unknown_type"
	case errors.As(err, &validationErr):
		reason = "validation"
	}

	s.logger.Warn("dropping message", "reason", reason, "error", err)
	s.stats.EnvelopeDropped(reason)
	if rejectErr := d.Reject(); rejectErr != nil {
		s.logger.Error("error rejecting message", "error", rejectErr)
	}
}

func (s *Server) track(taskType string, fn func(ctx context.Context)) {
	s.tasks.Add(1)
	s.stats.TaskStarted(taskType)

	go func() {
		defer s.tasks.Done()
		defer s.stats.TaskDone(taskType)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("recovered from panic in task", "task_type", taskType, "panic", r, "stack", string(debug.Stack()))
			}
		}()

		fn(s.taskCtx)
	}()
}

// Shutdown waits for tracked tasks for at most the configured timeout, then
// cancels whatever is still running.
func (s *Server) Shutdown() error {
	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()

	active := s.stats.ActiveTasks()
	if active > 0 {
		s.logger.Info("waiting for active tasks", "active", active, "timeout", s.config.ShutdownTimeout)
	}

	select {
	case <-done:
		s.cancelTasks()
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.cancelTasks()
		return fmt.Errorf("%d tasks still active after %s", s.stats.ActiveTasks(), s.config.ShutdownTimeout)
	}
}

func (s *Server) handlePing(ctx context.Context) {
	err := s.publisher.Publish(ctx, api.Pong{
		Type:                   api.PongEvent,
		Timestamp:              results.Timestamp(time.Now()),
		TranslatorStatus:       "alive",
		TranslatorPortPub:      s.config.PortPub,
		TranslatorPortPull:     s.config.PortPull,
		AudioPipelineAvailable: s.engines.AudioPipelineAvailable(),
	})
	if err != nil {
		s.logger.Error("error publishing pong", "error", err)
	}
}
