package out

import (
	"context"
	"time"

	"responder_server/core/domain"
)

// MemoryRepositoryPort persists per-thread conversation memory.
//
// Save enforces optimistic locking: the write succeeds only when the
// stored version equals the version carried by the record, and the
// stored version is incremented atomically. A stale write returns
// apperr.CodeConcurrencyConflict.
type MemoryRepositoryPort interface {
	Get(ctx context.Context, threadID string) (*domain.ThreadMemory, error)
	Save(ctx context.Context, mem *domain.ThreadMemory) error
	Delete(ctx context.Context, threadID string) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// QuotaStorePort persists quota windows across process restarts.
//
// AcquireDailyReset is a cross-process guard: it returns true for
// exactly one caller per day, so concurrent runners do not race on
// writing the zeroed daily counters.
type QuotaStorePort interface {
	LoadWindow(ctx context.Context, modelKey string) (*domain.QuotaWindow, error)
	SaveWindows(ctx context.Context, windows []*domain.QuotaWindow, ttl time.Duration) error
	AcquireDailyReset(ctx context.Context, day string, ttl time.Duration) (bool, error)
}

// ReportRepositoryPort stores batch run reports for ops review.
type ReportRepositoryPort interface {
	SaveRun(ctx context.Context, report *domain.RunReport) error
	RecentRuns(ctx context.Context, limit int) ([]*domain.RunReport, error)
}

// KnowledgeSourcePort loads the parish knowledge base. Snapshot returns
// an immutable view taken at call time.
type KnowledgeSourcePort interface {
	Snapshot(ctx context.Context) (*domain.KnowledgeBaseSnapshot, error)
}
