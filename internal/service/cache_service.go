package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/form-review-api/internal/models"
	appErrors "github.com/noah-isme/form-review-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	SetIfNewer(ctx context.Context, key string, version int64, value interface{}, ttl time.Duration) (bool, error)
}

// CacheService orchestrates form snapshot caching and related metrics.
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
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
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
		if errors.Is(err, appErrors.ErrCacheMiss) {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(false, duration)
			}
			return false, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false, duration)
		}
		if s.logger != nil {
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false, err
	}
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(true, duration)
	}
	return true, nil
}

// Store writes value unless the cache already holds the same or a later
// version, so a slow reader cannot overwrite what a writer cached.
func (s *CacheService) Store(ctx context.Context, key string, version int64, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	written, err := s.repo.SetIfNewer(ctx, key, version, value, ttl)
	if s.metrics != nil {
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return err
	}
	if !written && s.logger != nil {
		s.logger.Debug("cache already holds a newer snapshot", zap.String("key", key), zap.Int64("version", version))
	}
	return nil
}

// FormKey is the cache key of one form snapshot.
func FormKey(kind models.FormKind, id string) string {
	return fmt.Sprintf("form:%s:%s", kind, id)
}

// formCacheEntry is the cached view of a form. Deleted entries outrank any
// snapshot read before the delete.
type formCacheEntry struct {
	Version int64        `json:"version"`
	Deleted bool         `json:"deleted,omitempty"`
	Form    *models.Form `json:"form,omitempty"`
}

// StoreForm caches the snapshot at its version. A zero ttl uses the default.
func (s *CacheService) StoreForm(ctx context.Context, form *models.Form, ttl time.Duration) error {
	if form == nil {
		return nil
	}
	return s.Store(ctx, FormKey(form.Kind, form.ID), form.Version, formCacheEntry{Version: form.Version, Form: form}, ttl)
}

// StoreDeleted caches a tombstone ranked above the last stored version.
func (s *CacheService) StoreDeleted(ctx context.Context, kind models.FormKind, id string, lastVersion int64) error {
	version := lastVersion + 1
	return s.Store(ctx, FormKey(kind, id), version, formCacheEntry{Version: version, Deleted: true}, 0)
}

// LoadForm reads a cached snapshot. deleted is set for tombstones.
func (s *CacheService) LoadForm(ctx context.Context, kind models.FormKind, id string) (form *models.Form, deleted bool, hit bool) {
	var entry formCacheEntry
	found, _ := s.Get(ctx, FormKey(kind, id), &entry)
	if !found {
		return nil, false, false
	}
	if entry.Deleted {
		return nil, true, true
	}
	if entry.Form == nil {
		return nil, false, false
	}
	return entry.Form, false, true
}
