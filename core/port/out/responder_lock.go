package out

import (
	"context"
	"time"
)

// LockerPort provides advisory locks with an owner token.
//
// Acquire is atomic put-if-absent: it either takes the lock and returns
// a token, or reports the lock busy. Release deletes the lock only when
// the stored token matches, so an expired lock taken over by another
// runner is never released by the old owner.
type LockerPort interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Release(ctx context.Context, key, token string) error
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

// ProcessedMarkerPort records message level idempotency markers so a
// message is never answered twice even across crashed runs.
type ProcessedMarkerPort interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string, ttl time.Duration) error
}
