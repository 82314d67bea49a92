package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"translator-backend/internal/inference"
	"translator-backend/internal/results"
	"translator-backend/pkg/api"

	"gorm.io/gorm"
)

const (
	DefaultQueueSize      = 1000
	DefaultConnectRetries = 5
	DefaultRetryDelay     = 5 * time.Second
	writeTimeout          = 10 * time.Second
)

type ServiceOptions struct {
	QueueSize      int
	ConnectRetries int
	RetryDelay     time.Duration

	// Open defaults to NewDatabase.
	Open func(uri string) (*gorm.DB, error)
}

type write struct {
	kind  string
	key   string
	apply func(ctx context.Context, db *gorm.DB) error
}

// Service persists pipeline output without ever blocking the caller. It
// connects in the background and drops writes while the database is not
// available or the write queue is full.
type Service struct {
	uri    string
	opts   ServiceOptions
	db     atomic.Pointer[gorm.DB]
	writes chan write

	mu     sync.RWMutex
	closed bool

	written atomic.Uint64
	dropped atomic.Uint64
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(uri string, opts ServiceOptions) *Service {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.ConnectRetries <= 0 {
		opts.ConnectRetries = DefaultConnectRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Open == nil {
		opts.Open = NewDatabase
	}

	return &Service{
		uri:    uri,
		opts:   opts,
		writes: make(chan write, opts.QueueSize),
		logger: slog.Default().With("component", "database"),
	}
}

// Start connects and then drains the write queue until Close.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.connect(ctx); err != nil {
			s.logger.Error("database unavailable, persistence disabled", "error", err)
			return
		}
		s.run()
	}()
}

func (s *Service) connect(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= s.opts.ConnectRetries; attempt++ {
		var db *gorm.DB
		if db, err = s.opts.Open(s.uri); err == nil {
			s.db.Store(db)
			s.logger.Info("connected to database", "attempt", attempt)
			return nil
		}

		s.logger.Warn("database connection failed", "attempt", attempt, "max_attempts", s.opts.ConnectRetries, "error", err)
		if attempt == s.opts.ConnectRetries {
			break
		}
		select {
		case <-time.After(s.opts.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to connect after %d attempts: %w", s.opts.ConnectRetries, err)
}

func (s *Service) run() {
	db := s.db.Load()
	for w := range s.writes {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := w.apply(ctx, db)
		cancel()

		if err != nil {
			s.logger.Error("error persisting record", "kind", w.kind, "key", w.key, "error", err)
			continue
		}
		s.written.Add(1)
	}
}

func (s *Service) Available() bool {
	return s.db.Load() != nil
}

// DB returns the connection, or nil before the service connected.
func (s *Service) DB() *gorm.DB {
	return s.db.Load()
}

func (s *Service) submit(w write) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || !s.Available() {
		s.dropped.Add(1)
		s.logger.Debug("database not available, dropping record", "kind", w.kind, "key", w.key)
		return
	}

	select {
	case s.writes <- w:
	default:
		s.dropped.Add(1)
		s.logger.Warn("database write queue full, dropping record", "kind", w.kind, "key", w.key)
	}
}

// Enqueue implements results.Sink.
func (s *Service) Enqueue(c results.CompletedTranslation) {
	row := FromCompletedTranslation(c)
	s.submit(write{
		kind: "translation",
		key:  row.MessageId + ":" + row.TargetLanguage,
		apply: func(ctx context.Context, db *gorm.DB) error {
			_, err := SaveTranslation(ctx, db, row)
			return err
		},
	})
}

func (s *Service) SaveTranscription(messageId, attachmentId string, transcription api.Transcription) {
	row, err := FromTranscription(messageId, attachmentId, transcription)
	if err != nil {
		s.logger.Error("error converting transcription", "attachment_id", attachmentId, "error", err)
		return
	}
	s.submit(write{
		kind: "transcription",
		key:  attachmentId,
		apply: func(ctx context.Context, db *gorm.DB) error {
			return SaveTranscription(ctx, db, row)
		},
	})
}

func (s *Service) SaveVoiceProfile(profile inference.VoiceProfile) {
	row, err := FromVoiceProfile(profile)
	if err != nil {
		s.logger.Error("error converting voice profile", "user_id", profile.UserId, "error", err)
		return
	}
	s.submit(write{
		kind: "voice_profile",
		key:  row.UserId,
		apply: func(ctx context.Context, db *gorm.DB) error {
			return SaveVoiceProfile(ctx, db, row)
		},
	})
}

func (s *Service) Written() uint64 {
	return s.written.Load()
}

func (s *Service) Dropped() uint64 {
	return s.dropped.Load()
}

// Close flushes queued writes and closes the connection.
func (s *Service) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.writes)
	}
	s.mu.Unlock()

	s.wg.Wait()

	if db := s.db.Load(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
