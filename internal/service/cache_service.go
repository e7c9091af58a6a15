package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

// cacheNamespace prefixes every key so the service can share a Redis database.
const cacheNamespace = "lms:"

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService is a best-effort read-through cache. Redis errors degrade to misses and are never
// returned to request paths; a nil or disabled service behaves as an always-empty cache.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Remember fills dest from cache, or runs load (which must fill dest) and caches the result.
// It reports whether dest came from cache. Only load errors are returned.
func (s *CacheService) Remember(ctx context.Context, key string, ttl time.Duration, dest interface{}, load func(ctx context.Context) error) (bool, error) {
	if s.lookup(ctx, key, dest) {
		return true, nil
	}
	if err := load(ctx); err != nil {
		return false, err
	}
	s.store(ctx, key, dest, ttl)
	return false, nil
}

// Forget drops the given keys.
func (s *CacheService) Forget(ctx context.Context, keys ...string) {
	if !s.Enabled() || len(keys) == 0 {
		return
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = cacheNamespace + k
	}
	if err := s.repo.Delete(ctx, namespaced...); err != nil {
		s.logger.Warn("cache delete failed", zap.Strings("keys", namespaced), zap.Error(err))
	}
}

// Invalidate drops every key matching pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.DeleteByPattern(ctx, cacheNamespace+pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
	}
}

// Version returns the generation stored under key, 0 when none is stored.
func (s *CacheService) Version(ctx context.Context, key string) int64 {
	if !s.Enabled() {
		return 0
	}
	var version int64
	if err := s.repo.Get(ctx, cacheNamespace+key, &version); err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("cache version get failed", zap.String("key", key), zap.Error(err))
		}
		return 0
	}
	return version
}

// BumpVersion stores a new generation under key. Entries keyed by an older generation are never
// read again and expire on their own TTL. ttl must outlive the entries keyed by the generation.
func (s *CacheService) BumpVersion(ctx context.Context, key string, ttl time.Duration) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.Set(ctx, cacheNamespace+key, time.Now().UnixNano(), ttl); err != nil {
		s.logger.Warn("cache version bump failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *CacheService) lookup(ctx context.Context, key string, dest interface{}) bool {
	if !s.Enabled() {
		return false
	}
	start := time.Now()
	err := s.repo.Get(ctx, cacheNamespace+key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	return err == nil
}

func (s *CacheService) store(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !s.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, cacheNamespace+key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}
