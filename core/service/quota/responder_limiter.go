// Package quota implements client-side rate limiting for the
// generative model endpoint: sliding minute windows for requests and
// tokens, a daily counter with timezone-aware reset, and ordered model
// failover per task.
package quota

import (
	"context"
	"sync"
	"time"

	"responder_server/config"
	"responder_server/core/domain"
	"responder_server/core/port/out"
	"responder_server/pkg/apperr"
	"responder_server/pkg/logger"
)

// staleWindowAge is the age past which a persisted window's minute
// events are discarded on load. The daily counter survives as long as
// the day stamp still matches.
const staleWindowAge = 5 * time.Minute

// Limiter tracks model usage and picks the best available model for a
// task. All state is in memory, write-behind persisted through the
// quota store so restarts do not forget a day's worth of calls.
type Limiter struct {
	cfg   *config.Config
	store out.QuotaStorePort
	log   *logger.Logger
	loc   *time.Location

	mu        sync.Mutex
	windows   map[string]*domain.QuotaWindow
	dirty     map[string]bool
	loaded    bool
	lastFlush time.Time

	nowFn   func() time.Time
	sleepFn func(context.Context, time.Duration) error
}

func NewLimiter(cfg *config.Config, store out.QuotaStorePort, log *logger.Logger) (*Limiter, error) {
	loc, err := time.LoadLocation(cfg.QuotaTimezone)
	if err != nil {
		return nil, apperr.ConfigError("invalid QUOTA_TIMEZONE").WithError(err)
	}
	return &Limiter{
		cfg:     cfg,
		store:   store,
		log:     log,
		loc:     loc,
		windows: make(map[string]*domain.QuotaWindow),
		dirty:   make(map[string]bool),
		nowFn:   time.Now,
		sleepFn: sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SelectModel returns the first model in the task's preference chain
// that has quota headroom for a call of estTokens tokens. A model that
// is near a limit but not at it is still selected, after a short
// throttle pause keeps the pace below the remote counter. When every
// model is exhausted it returns CodeQuotaExceeded carrying the
// earliest reset time.
func (l *Limiter) SelectModel(ctx context.Context, task string, estTokens int) (string, error) {
	key, delay, err := l.pick(ctx, task, estTokens)
	if err != nil {
		return "", err
	}
	if delay > 0 {
		l.log.WithFields(map[string]interface{}{
			"model": key,
			"delay": delay.String(),
		}).Debug("near a quota limit, throttling before the call")
		if err := l.sleepFn(ctx, delay); err != nil {
			return "", err
		}
	}
	return key, nil
}

// pick walks the chain under the lock and returns the chosen model
// plus the advisory throttle delay, if any. A configured force model
// bypasses the chain entirely: only that model is checked.
func (l *Limiter) pick(ctx context.Context, task string, estTokens int) (string, time.Duration, error) {
	chain, ok := l.cfg.Strategy[task]
	if !ok {
		return "", 0, apperr.BadRequest("unknown task: " + task)
	}
	if l.cfg.ForceModel != "" {
		chain = []string{l.cfg.ForceModel}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoaded(ctx); err != nil {
		return "", 0, err
	}

	now := l.nowFn()
	earliestReset := time.Time{}
	for _, key := range chain {
		mc := l.cfg.Models[key]
		w := l.window(key, now)
		denial := l.check(w, mc, estTokens, now)
		if denial == domain.DenialNone {
			if adv := l.throttle(w, mc, estTokens, now); adv != domain.DenialNone {
				return key, adv.ThrottleDelay(), nil
			}
			return key, 0, nil
		}
		reset := l.resetFor(denial, now)
		if earliestReset.IsZero() || reset.Before(earliestReset) {
			earliestReset = reset
		}
		l.log.WithFields(map[string]interface{}{
			"model":  key,
			"denial": string(denial),
		}).Debug("model unavailable, trying next in chain")
	}
	return "", 0, apperr.QuotaExceeded("all models exhausted for task "+task, earliestReset)
}

// Record books a completed call against a model and schedules a flush.
// Call it with the real token usage reported by the endpoint.
func (l *Limiter) Record(ctx context.Context, modelKey string, tokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoaded(ctx); err != nil {
		return err
	}

	now := l.nowFn()
	w := l.window(modelKey, now)
	w.Events = append(w.Events, domain.UsageEvent{At: now, Tokens: tokens})
	w.Prune(now, l.cfg.QuotaWindowCap)
	w.DayCount++
	w.UpdatedAt = now
	l.dirty[modelKey] = true

	if now.Sub(l.lastFlush) >= l.cfg.QuotaFlushInterval {
		l.flushLocked(ctx, now)
	}
	return nil
}

// Flush persists all dirty windows immediately. Called at end of run.
func (l *Limiter) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx, l.nowFn())
}

// Snapshot returns the current usage view for every configured model.
func (l *Limiter) Snapshot(ctx context.Context) ([]domain.QuotaSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	now := l.nowFn()
	snaps := make([]domain.QuotaSnapshot, 0, len(l.cfg.Models))
	for key, mc := range l.cfg.Models {
		w := l.window(key, now)
		snaps = append(snaps, domain.QuotaSnapshot{
			ModelKey:       key,
			MinuteRequests: w.MinuteRequests(now),
			MinuteTokens:   w.MinuteTokens(now),
			DayRequests:    w.DayCount,
			RPMLimit:       mc.RPM,
			TPMLimit:       mc.TPM,
			RPDLimit:       mc.RPD,
			NextDailyReset: l.nextDailyReset(now),
		})
	}
	return snaps, nil
}

// Availability reports per-model verdicts for a task chain.
func (l *Limiter) Availability(ctx context.Context, task string) ([]domain.ModelAvailability, error) {
	chain, ok := l.cfg.Strategy[task]
	if !ok {
		return nil, apperr.BadRequest("unknown task: " + task)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	now := l.nowFn()
	out := make([]domain.ModelAvailability, 0, len(chain))
	for _, key := range chain {
		mc := l.cfg.Models[key]
		w := l.window(key, now)
		denial := l.check(w, mc, 0, now)
		av := domain.ModelAvailability{
			ModelKey:  key,
			Available: denial == domain.DenialNone,
			Denial:    denial,
		}
		if denial != domain.DenialNone {
			av.NextReset = l.resetFor(denial, now)
		}
		out = append(out, av)
	}
	return out, nil
}

// check applies the three limits at full value. Denial here means the
// model truly has no headroom left; approaching a limit is handled by
// throttle, not by denying the call.
func (l *Limiter) check(w *domain.QuotaWindow, mc config.ModelConfig, estTokens int, now time.Time) domain.QuotaDenial {
	if w.DayCount >= mc.RPD {
		return domain.DenialRPD
	}
	if w.MinuteRequests(now) >= mc.RPM {
		return domain.DenialRPM
	}
	if w.MinuteTokens(now)+estTokens > mc.TPM {
		return domain.DenialTPM
	}
	return domain.DenialNone
}

// throttle is an advisory: past a safety margin of a limit, the caller
// should pause before the call so the remote endpoint's own counter,
// which we cannot see, never fires first. Checked daily then
// per-minute, matching the order in which a breach would hurt.
func (l *Limiter) throttle(w *domain.QuotaWindow, mc config.ModelConfig, estTokens int, now time.Time) domain.QuotaDenial {
	if float64(w.DayCount) >= float64(mc.RPD)*config.SafetyMarginRPD {
		return domain.DenialRPD
	}
	if float64(w.MinuteRequests(now)) >= float64(mc.RPM)*config.SafetyMarginRPM {
		return domain.DenialRPM
	}
	if float64(w.MinuteTokens(now)+estTokens) > float64(mc.TPM)*config.SafetyMarginTPM {
		return domain.DenialTPM
	}
	return domain.DenialNone
}

// window returns the in-memory window for a model, rolling the daily
// counter when the quota-timezone day has changed.
func (l *Limiter) window(modelKey string, now time.Time) *domain.QuotaWindow {
	w, ok := l.windows[modelKey]
	if !ok {
		w = &domain.QuotaWindow{ModelKey: modelKey, DayStamp: l.dayStamp(now)}
		l.windows[modelKey] = w
	}
	if stamp := l.dayStamp(now); w.DayStamp != stamp {
		w.DayStamp = stamp
		w.DayCount = 0
		l.dirty[modelKey] = true
	}
	w.Prune(now, l.cfg.QuotaWindowCap)
	return w
}

func (l *Limiter) ensureLoaded(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	now := l.nowFn()
	today := l.dayStamp(now)
	resetChecked, resetOwner := false, false

	for key := range l.cfg.Models {
		w, err := l.store.LoadWindow(ctx, key)
		if err != nil {
			l.log.WithError(err).WithField("model", key).Warn("quota window load failed, starting fresh")
			continue
		}
		if w == nil {
			continue
		}
		if now.Sub(w.UpdatedAt) > staleWindowAge {
			w.Events = nil
		}
		if w.DayStamp != today {
			// Only one runner writes the zeroed counters back, the
			// others roll over in memory only.
			if !resetChecked {
				resetChecked = true
				resetOwner = l.acquireReset(ctx, today)
			}
			w.DayCount = 0
			w.DayStamp = today
			if resetOwner {
				l.dirty[key] = true
			}
		}
		l.windows[key] = w
	}
	l.loaded = true
	l.lastFlush = now
	return nil
}

// acquireReset takes the cross-process daily reset guard. A store
// error does not block the reset, it just loses the serialization.
func (l *Limiter) acquireReset(ctx context.Context, day string) bool {
	ok, err := l.store.AcquireDailyReset(ctx, day, 48*time.Hour)
	if err != nil {
		l.log.WithError(err).Warn("daily reset guard failed, persisting anyway")
		return true
	}
	return ok
}

func (l *Limiter) flushLocked(ctx context.Context, now time.Time) error {
	if len(l.dirty) == 0 {
		l.lastFlush = now
		return nil
	}
	batch := make([]*domain.QuotaWindow, 0, len(l.dirty))
	for key := range l.dirty {
		if w, ok := l.windows[key]; ok {
			batch = append(batch, w)
		}
	}
	if err := l.store.SaveWindows(ctx, batch, 48*time.Hour); err != nil {
		l.log.WithError(err).Warn("quota window flush failed")
		return err
	}
	l.dirty = make(map[string]bool)
	l.lastFlush = now
	return nil
}

func (l *Limiter) dayStamp(now time.Time) string {
	return now.In(l.loc).Format("2006-01-02")
}

// nextDailyReset is the next midnight in the quota timezone.
func (l *Limiter) nextDailyReset(now time.Time) time.Time {
	local := now.In(l.loc)
	next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, l.loc)
	return next
}

func (l *Limiter) resetFor(denial domain.QuotaDenial, now time.Time) time.Time {
	if denial == domain.DenialRPD {
		return l.nextDailyReset(now)
	}
	return now.Add(time.Minute)
}
