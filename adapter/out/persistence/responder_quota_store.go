// Package persistence holds the database-backed outbound adapters.
package persistence

import (
	"context"
	"time"

	"responder_server/core/domain"
	"responder_server/pkg/apperr"
	"responder_server/pkg/cache"
)

const quotaKeyPrefix = "responder:quota:"

// RedisQuotaStore persists quota windows in Redis so a restarted
// runner keeps its daily counters. Saves are pipelined because the
// limiter flushes windows in batches.
type RedisQuotaStore struct {
	cache *cache.RedisCache
}

func NewRedisQuotaStore(c *cache.RedisCache) *RedisQuotaStore {
	return &RedisQuotaStore{cache: c}
}

func (s *RedisQuotaStore) LoadWindow(ctx context.Context, modelKey string) (*domain.QuotaWindow, error) {
	var w domain.QuotaWindow
	found, err := s.cache.GetJSON(ctx, quotaKeyPrefix+modelKey, &w)
	if err != nil {
		return nil, apperr.DatabaseError("quota load", err)
	}
	if !found {
		return nil, nil
	}
	return &w, nil
}

// AcquireDailyReset claims the reset marker for the day. SETNX makes
// exactly one runner the owner; everyone else sees false.
func (s *RedisQuotaStore) AcquireDailyReset(ctx context.Context, day string, ttl time.Duration) (bool, error) {
	ok, err := s.cache.SetNX(ctx, quotaKeyPrefix+"reset:"+day, "1", ttl)
	if err != nil {
		return false, apperr.DatabaseError("quota reset guard", err)
	}
	return ok, nil
}

func (s *RedisQuotaStore) SaveWindows(ctx context.Context, windows []*domain.QuotaWindow, ttl time.Duration) error {
	if len(windows) == 0 {
		return nil
	}
	items := make(map[string]interface{}, len(windows))
	for _, w := range windows {
		items[quotaKeyPrefix+w.ModelKey] = w
	}
	if err := s.cache.SetMultiJSON(ctx, items, ttl); err != nil {
		return apperr.DatabaseError("quota save", err)
	}
	return nil
}
