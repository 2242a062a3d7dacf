// Package lock provides Redis-backed advisory locks and idempotency
// markers shared between runner instances.
package lock

import (
	"context"
	"time"

	"responder_server/pkg/apperr"
	"responder_server/pkg/cache"

	"github.com/google/uuid"
)

const (
	lockPrefix      = "responder:lock:"
	processedPrefix = "responder:processed:"
)

// RedisLocker implements advisory locks as SET NX with a TTL and an
// owner token. Release is compare-and-delete, so a lock that expired
// and was re-acquired by another runner is never deleted by the old
// owner.
type RedisLocker struct {
	cache *cache.RedisCache
}

func NewRedisLocker(c *cache.RedisCache) *RedisLocker {
	return &RedisLocker{cache: c}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.cache.SetNX(ctx, lockPrefix+key, token, ttl)
	if err != nil {
		return "", false, apperr.DatabaseError("lock acquire", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if _, err := l.cache.DeleteIfEquals(ctx, lockPrefix+key, token); err != nil {
		return apperr.DatabaseError("lock release", err)
	}
	return nil
}

func (l *RedisLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	val, found, err := l.cache.GetString(ctx, lockPrefix+key)
	if err != nil {
		return false, apperr.DatabaseError("lock extend", err)
	}
	if !found || val != token {
		return false, nil
	}
	if err := l.cache.Expire(ctx, lockPrefix+key, ttl); err != nil {
		return false, apperr.DatabaseError("lock extend", err)
	}
	return true, nil
}

// RedisProcessedMarker records answered message IDs so a crashed run
// never answers the same message twice.
type RedisProcessedMarker struct {
	cache *cache.RedisCache
}

func NewRedisProcessedMarker(c *cache.RedisCache) *RedisProcessedMarker {
	return &RedisProcessedMarker{cache: c}
}

func (m *RedisProcessedMarker) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	exists, err := m.cache.Exists(ctx, processedPrefix+messageID)
	if err != nil {
		return false, apperr.DatabaseError("processed check", err)
	}
	return exists, nil
}

func (m *RedisProcessedMarker) MarkProcessed(ctx context.Context, messageID string, ttl time.Duration) error {
	if err := m.cache.Set(ctx, processedPrefix+messageID, "1", ttl); err != nil {
		return apperr.DatabaseError("processed mark", err)
	}
	return nil
}
