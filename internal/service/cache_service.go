package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

// CacheRepository abstracts persistence for cached projection payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService orchestrates projection caching and related metrics. Cached
// projections are never authoritative; every payload is derivable from rows.
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
		defaultTTL = 5 * time.Minute
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// EcheancierKey addresses a per-student schedule projection.
func EcheancierKey(studentID, schoolYear string) string {
	return fmt.Sprintf("proj:echeancier:%s:%s", studentID, schoolYear)
}

// AggregateKey addresses a per-school periodic aggregate.
func AggregateKey(schoolID string, from, to time.Time) string {
	return fmt.Sprintf("proj:aggregate:%s:%s:%s", schoolID, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

// RollupKey addresses the class rollups of a school year.
func RollupKey(schoolID, schoolYear string) string {
	return fmt.Sprintf("proj:rollup:%s:%s", schoolID, schoolYear)
}

// BulletinKey addresses a rendered bulletin.
func BulletinKey(studentID, period string) string {
	return fmt.Sprintf("proj:bulletin:%s:%s", studentID, period)
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		if s.logger != nil {
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false, err
	}
	s.metrics.RecordCacheOperation(true, duration)
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil && s.logger != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// InvalidateBilling drops every billing projection of a school. Called after
// payment validation, reversal and discount application.
func (s *CacheService) InvalidateBilling(ctx context.Context, schoolID string) {
	s.invalidate(ctx, fmt.Sprintf("proj:aggregate:%s:*", schoolID))
	s.invalidate(ctx, fmt.Sprintf("proj:rollup:%s:*", schoolID))
}

// InvalidateStudent drops one student's cached projections.
func (s *CacheService) InvalidateStudent(ctx context.Context, studentID string) {
	s.invalidate(ctx, fmt.Sprintf("proj:echeancier:%s:*", studentID))
	s.invalidate(ctx, fmt.Sprintf("proj:bulletin:%s:*", studentID))
}

// InvalidateAll drops every cached projection. Used by the admin reset.
func (s *CacheService) InvalidateAll(ctx context.Context) {
	s.invalidate(ctx, "proj:*")
}

func (s *CacheService) invalidate(ctx context.Context, pattern string) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil && s.logger != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
	}
}
