// Package memory maintains the per-thread conversation state: what
// was already told to a sender, how they reacted, and a short rolling
// summary. Writes go through optimistic locking so two concurrent
// runners never silently drop each other's updates.
package memory

import (
	"context"
	"time"

	"responder_server/config"
	"responder_server/core/domain"
	"responder_server/core/port/out"
	"responder_server/pkg/apperr"
	"responder_server/pkg/logger"
)

const (
	// saveRetries is how many times a conflicted save is reloaded and
	// reapplied before giving up.
	saveRetries = 3
	// conflictBackoff is the first pause after a version conflict,
	// doubled on each further attempt.
	conflictBackoff = 50 * time.Millisecond

	memoryCachePrefix = "responder:memory:"
)

// MemoryCache is the slice of the cache the service uses for the
// read path. A nil cache degrades to repository reads.
type MemoryCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Exchange describes one completed reply, to be folded into memory.
type Exchange struct {
	SenderEmail  string
	Category     domain.Category
	Language     domain.Language
	Topics       []string
	SummaryEntry string
	InboundText  string
	RepliedAt    time.Time
}

type Service struct {
	repo   out.MemoryRepositoryPort
	locker out.LockerPort
	cache  MemoryCache
	cfg    *config.Config
	log    *logger.Logger

	sleepFn func(context.Context, time.Duration)
}

func NewService(repo out.MemoryRepositoryPort, locker out.LockerPort, cache MemoryCache, cfg *config.Config, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cache:  cache,
		cfg:    cfg,
		log:    log,
		sleepFn: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// Load returns the memory for a thread, or a fresh zero-version record
// when the thread was never seen. Reads go through a short-lived cache
// first: within one batch the same thread memory is loaded for the
// prompt and again for the post-send update.
func (s *Service) Load(ctx context.Context, threadID string) (*domain.ThreadMemory, error) {
	if s.cache != nil {
		var cached domain.ThreadMemory
		found, err := s.cache.GetJSON(ctx, memoryCachePrefix+threadID, &cached)
		if err != nil {
			s.log.WithError(err).WithThread(threadID).Warn("memory cache read failed")
		} else if found {
			return &cached, nil
		}
	}

	mem, err := s.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, mem)
	return mem, nil
}

// load reads straight from the repository, bypassing the cache. The
// conflict retry loop must see the winner's version, not a stale copy.
func (s *Service) load(ctx context.Context, threadID string) (*domain.ThreadMemory, error) {
	mem, err := s.repo.Get(ctx, threadID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return &domain.ThreadMemory{ThreadID: threadID}, nil
		}
		return nil, err
	}
	return mem, nil
}

func (s *Service) cachePut(ctx context.Context, mem *domain.ThreadMemory) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, memoryCachePrefix+mem.ThreadID, mem, s.cfg.MemoryCacheTTL); err != nil {
		s.log.WithError(err).WithThread(mem.ThreadID).Warn("memory cache write failed")
	}
}

// RecordExchange folds a completed reply into the thread memory and
// saves it. On a version conflict the memory is reloaded and the
// mutation reapplied after an increasing pause, so the losing writer
// adds to the winner's state instead of overwriting it.
func (s *Service) RecordExchange(ctx context.Context, threadID string, ex Exchange) (*domain.ThreadMemory, error) {
	lockKey := "memory:" + threadID
	token, acquired, err := s.locker.Acquire(ctx, lockKey, s.cfg.MemoryLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, apperr.LockBusy(lockKey)
	}
	defer func() {
		if err := s.locker.Release(ctx, lockKey, token); err != nil {
			s.log.WithError(err).WithThread(threadID).Warn("memory lock release failed")
		}
	}()

	backoff := conflictBackoff
	var mem *domain.ThreadMemory
	for attempt := 0; attempt < saveRetries; attempt++ {
		if attempt > 0 {
			s.sleepFn(ctx, backoff)
			backoff *= 2
		}
		mem, err = s.load(ctx, threadID)
		if err != nil {
			return nil, err
		}
		s.apply(mem, ex)
		err = s.repo.Save(ctx, mem)
		if err == nil {
			s.cachePut(ctx, mem)
			return mem, nil
		}
		if !apperr.IsCode(err, apperr.CodeConcurrencyConflict) {
			return nil, err
		}
		s.log.WithThread(threadID).WithField("attempt", attempt+1).
			Warn("memory version conflict, reloading")
	}
	return nil, err
}

func (s *Service) apply(mem *domain.ThreadMemory, ex Exchange) {
	if mem.SenderEmail == "" {
		mem.SenderEmail = ex.SenderEmail
	}
	if r := InferReaction(ex.InboundText, ex.Language); r != domain.ReactionNone {
		mem.MarkReaction(r)
	}
	for _, topic := range ex.Topics {
		mem.AddTopic(topic, ex.RepliedAt, s.cfg.MaxProvidedTopics)
	}
	if ex.SummaryEntry != "" {
		mem.Summary = FoldSummary(mem.Summary, ex.SummaryEntry,
			s.cfg.MaxSummaryBullets, s.cfg.MaxSummaryChars)
	}
	if ex.Category != "" {
		mem.LastCategory = ex.Category
	}
	if ex.Language != "" {
		mem.LastLanguage = ex.Language
	}
	mem.LastReplyAt = ex.RepliedAt
	mem.MessageCount++
	mem.UpdatedAt = ex.RepliedAt
}

// Forget removes a thread's memory entirely.
func (s *Service) Forget(ctx context.Context, threadID string) error {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, memoryCachePrefix+threadID); err != nil {
			s.log.WithError(err).WithThread(threadID).Warn("memory cache delete failed")
		}
	}
	return s.repo.Delete(ctx, threadID)
}

// PurgeExpired deletes memories past the retention window.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.cfg.MemoryRetention)
	return s.repo.PurgeOlderThan(ctx, cutoff)
}
