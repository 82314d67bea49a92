package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"translator-backend/pkg/api"

	"github.com/redis/go-redis/v9"
)

type Mode string

const (
	RedisMode  Mode = "redis"
	MemoryMode Mode = "memory"
)

const (
	DefaultMaxFailures      = 3
	DefaultOperationTimeout = 2 * time.Second
	DefaultSweepInterval    = 60 * time.Second
)

type Options struct {
	MaxFailures      int64
	OperationTimeout time.Duration
	SweepInterval    time.Duration
	Now              func() time.Time
}

func (o *Options) withDefaults() {
	if o.MaxFailures <= 0 {
		o.MaxFailures = DefaultMaxFailures
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
}

// Store is a key/value cache backed by redis with an in-memory fallback.
// After MaxFailures consecutive remote errors it switches to the memory
// fallback for the rest of the process lifetime. Remote errors never reach
// callers.
type Store struct {
	remote redis.UniversalClient
	memory *memoryCache
	opts   Options
	logger *slog.Logger

	failures atomic.Int64
	degraded atomic.Bool

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStore connects to redisURL. An empty url gives a memory only store.
func NewStore(redisURL string, opts Options) (*Store, error) {
	if redisURL == "" {
		return NewStoreWithClient(nil, opts), nil
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return NewStoreWithClient(redis.NewClient(redisOpts), opts), nil
}

func NewStoreWithClient(client redis.UniversalClient, opts Options) *Store {
	opts.withDefaults()

	s := &Store{
		remote: client,
		memory: newMemoryCache(opts.Now),
		opts:   opts,
		logger: slog.Default().With("component", "cache"),
		stop:   make(chan struct{}),
	}

	if client == nil {
		s.degraded.Store(true)
		s.logger.Info("no redis configured, using memory cache")
	}

	s.wg.Add(1)
	go s.sweepLoop()

	return s
}

// Ping checks redis once at startup. A failure counts toward degradation.
func (s *Store) Ping(ctx context.Context) {
	if !s.useRemote() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.OperationTimeout)
	defer cancel()
	if err := s.remote.Ping(ctx).Err(); err != nil {
		s.recordFailure(ctx, "ping", err)
		return
	}
	s.logger.Info("connected to redis")
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if removed := s.memory.sweep(); removed > 0 {
				s.logger.Debug("swept expired memory cache entries", "removed", removed)
			}
		}
	}
}

func (s *Store) useRemote() bool {
	return s.remote != nil && !s.degraded.Load()
}

// recordFailure counts a remote error toward degradation. Errors caused by
// the caller's own context going away say nothing about redis health and are
// not counted.
func (s *Store) recordFailure(ctx context.Context, op string, err error) {
	if ctx.Err() != nil {
		s.logger.Debug("redis operation abandoned by caller, using memory cache", "op", op, "error", err)
		return
	}

	failures := s.failures.Add(1)
	s.logger.Warn("redis operation failed, using memory cache", "op", op, "consecutive_failures", failures, "error", err)

	if failures >= s.opts.MaxFailures && s.degraded.CompareAndSwap(false, true) {
		s.logger.Error("redis failure threshold reached, switching to memory cache permanently", "failures", failures)
	}
}

func (s *Store) recordSuccess() {
	s.failures.Store(0)
}

func (s *Store) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.OperationTimeout)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if s.useRemote() {
		rctx, cancel := s.remoteCtx(ctx)
		defer cancel()

		val, err := s.remote.Get(rctx, key).Bytes()
		if err == nil {
			s.recordSuccess()
			return val, true
		}
		if errors.Is(err, redis.Nil) {
			s.recordSuccess()
			return nil, false
		}
		s.recordFailure(ctx, "get", err)
	}

	return s.memory.get(key)
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}

	if s.useRemote() {
		rctx, cancel := s.remoteCtx(ctx)
		defer cancel()

		err := s.remote.Set(rctx, key, value, ttl).Err()
		if err == nil {
			s.recordSuccess()
			return
		}
		s.recordFailure(ctx, "set", err)
	}

	s.memory.set(key, value, ttl)
}

func (s *Store) Delete(ctx context.Context, key string) {
	if s.useRemote() {
		rctx, cancel := s.remoteCtx(ctx)
		defer cancel()

		if err := s.remote.Del(rctx, key).Err(); err != nil {
			s.recordFailure(ctx, "delete", err)
		} else {
			s.recordSuccess()
		}
	}

	s.memory.delete(key)
}

func (s *Store) Exists(ctx context.Context, key string) bool {
	if s.useRemote() {
		rctx, cancel := s.remoteCtx(ctx)
		defer cancel()

		n, err := s.remote.Exists(rctx, key).Result()
		if err == nil {
			s.recordSuccess()
			return n > 0
		}
		s.recordFailure(ctx, "exists", err)
	}

	_, ok := s.memory.lookup(key)
	return ok
}

// TTL returns the remaining lifetime in seconds, -2 for a missing key and -1
// for a key without expiry.
func (s *Store) TTL(ctx context.Context, key string) int64 {
	if s.useRemote() {
		rctx, cancel := s.remoteCtx(ctx)
		defer cancel()

		d, err := s.remote.TTL(rctx, key).Result()
		if err == nil {
			s.recordSuccess()
			if d < 0 {
				return int64(d)
			}
			return int64(d / time.Second)
		}
		s.recordFailure(ctx, "ttl", err)
	}

	return s.memory.ttl(key)
}

func (s *Store) Keys(ctx context.Context, pattern string) []string {
	if s.useRemote() {
		rctx, cancel := s.remoteCtx(ctx)
		defer cancel()

		var keys []string
		iter := s.remote.Scan(rctx, 0, pattern, 100).Iterator()
		for iter.Next(rctx) {
			keys = append(keys, iter.Val())
		}
		err := iter.Err()
		if err == nil {
			s.recordSuccess()
			return keys
		}
		s.recordFailure(ctx, "keys", err)
	}

	return s.memory.keys(pattern)
}

func (s *Store) Mode() Mode {
	if s.useRemote() {
		return RedisMode
	}
	return MemoryMode
}

func (s *Store) Stats() api.CacheStats {
	return api.CacheStats{
		Mode:                string(s.Mode()),
		MemoryEntries:       s.memory.len(),
		ConsecutiveFailures: s.failures.Load(),
		RemoteAvailable:     s.useRemote(),
	}
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		if s.remote != nil {
			if err := s.remote.Close(); err != nil {
				s.logger.Error("error closing redis client", "error", err)
			}
		}
	})
}
