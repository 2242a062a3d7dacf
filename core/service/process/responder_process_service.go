// Package process drives one email from fetch to a terminal outcome.
package process

import (
	"context"
	"strings"
	"sync"
	"time"

	"responder_server/config"
	"responder_server/core/agent/llm"
	"responder_server/core/domain"
	"responder_server/core/port/in"
	"responder_server/core/port/out"
	"responder_server/core/service/classification"
	"responder_server/core/service/memory"
	"responder_server/core/service/territory"
	"responder_server/core/service/validation"
	"responder_server/pkg/apperr"
	"responder_server/pkg/logger"

	"github.com/google/uuid"
)

// ReplyAgent is the slice of the model agent the orchestrator needs.
type ReplyAgent interface {
	QuickCheck(ctx context.Context, subject, content string) (*domain.QuickCheck, string, error)
	GenerateReply(ctx context.Context, input llm.GenerationInput) (body, modelKey string, err error)
	SummarizeExchange(ctx context.Context, inbound, reply string) string
	ExtractText(ctx context.Context, mimeType string, data []byte) (string, error)
}

// MemoryStore is the slice of the memory service the orchestrator needs.
type MemoryStore interface {
	Load(ctx context.Context, threadID string) (*domain.ThreadMemory, error)
	RecordExchange(ctx context.Context, threadID string, ex memory.Exchange) (*domain.ThreadMemory, error)
}

// QuotaTracker flushes usage and snapshots quota state at run end.
type QuotaTracker interface {
	Flush(ctx context.Context) error
	Snapshot(ctx context.Context) ([]domain.QuotaSnapshot, error)
}

// Service implements in.ProcessService.
type Service struct {
	mailbox    out.MailboxPort
	locker     out.LockerPort
	marker     out.ProcessedMarkerPort
	knowledge  out.KnowledgeSourcePort
	reports    out.ReportRepositoryPort
	events     out.EventPublisherPort
	agent      ReplyAgent
	memories   MemoryStore
	quota      QuotaTracker
	classifier *classification.Classifier
	prefilter  *classification.Prefilter
	validator  *validation.Validator
	cfg        *config.Config
	log        *logger.Logger

	nowFn func() time.Time

	mu       sync.Mutex
	snapshot *domain.KnowledgeBaseSnapshot
}

// Deps groups the service's collaborators for construction.
type Deps struct {
	Mailbox   out.MailboxPort
	Locker    out.LockerPort
	Marker    out.ProcessedMarkerPort
	Knowledge out.KnowledgeSourcePort
	Reports   out.ReportRepositoryPort
	Events    out.EventPublisherPort
	Agent     ReplyAgent
	Memories  MemoryStore
	Quota     QuotaTracker
}

// NewService wires the orchestrator.
func NewService(d Deps, cfg *config.Config, log *logger.Logger) *Service {
	return &Service{
		mailbox:    d.Mailbox,
		locker:     d.Locker,
		marker:     d.Marker,
		knowledge:  d.Knowledge,
		reports:    d.Reports,
		events:     d.Events,
		agent:      d.Agent,
		memories:   d.Memories,
		quota:      d.Quota,
		classifier: classification.NewClassifier(),
		prefilter:  classification.NewPrefilter(),
		validator: validation.NewValidator(
			cfg.ValidationMinScore, strictScoreFor(cfg.ValidationMinScore)),
		cfg:   cfg,
		log:   log,
		nowFn: time.Now,
	}
}

// strictScoreFor raises the passing bar for sensitive replies.
func strictScoreFor(min float64) float64 {
	strict := min + 0.2
	if strict > 1.0 {
		strict = 1.0
	}
	return strict
}

// RunOnce fetches a batch of unprocessed emails and handles each one,
// within the run time budget.
func (s *Service) RunOnce(ctx context.Context) (*domain.RunReport, error) {
	report := &domain.RunReport{
		RunID:     uuid.NewString(),
		RunnerID:  s.cfg.RunnerID,
		StartedAt: s.nowFn(),
	}
	runLog := s.log.WithField("run_id", report.RunID)

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeBudget)
	defer cancel()

	if _, err := s.currentSnapshot(runCtx); err != nil {
		runLog.WithError(err).Error("knowledge snapshot failed")
		report.ErrorDetail = err.Error()
		return s.finishRun(ctx, report)
	}

	emails, err := s.mailbox.ListUnprocessed(runCtx, s.cfg.MaxEmailsPerRun)
	if err != nil {
		runLog.WithError(err).Error("mailbox listing failed")
		report.ErrorDetail = err.Error()
		return s.finishRun(ctx, report)
	}
	report.Fetched = len(emails)
	runLog.Info("run started with %d emails", len(emails))

	for _, email := range emails {
		if runCtx.Err() != nil {
			report.TimedOut = true
			runLog.Warn("run time budget exhausted, deferring remaining emails")
			break
		}

		outcome := s.ProcessEmail(runCtx, report.RunID, email)
		report.Outcomes = append(report.Outcomes, outcome)

		if s.events != nil {
			if err := s.events.PublishOutcome(ctx, report.RunID, &outcome); err != nil {
				runLog.WithError(err).Warn("outcome publish failed")
			}
		}

		// Every remaining email needs the same exhausted models, so
		// iterating on would just burn the run budget.
		if outcome.Status == domain.OutcomeQuotaDeferred {
			runLog.Warn("model quota exhausted, deferring remaining emails")
			break
		}
	}

	return s.finishRun(ctx, report)
}

// finishRun closes the report, persists it and flushes quota state.
// Uses the parent context so bookkeeping survives a run timeout.
func (s *Service) finishRun(ctx context.Context, report *domain.RunReport) (*domain.RunReport, error) {
	report.FinishedAt = s.nowFn()
	report.Tally()

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	if snaps, err := s.quota.Snapshot(finishCtx); err == nil {
		report.QuotaState = snaps
	}
	if err := s.quota.Flush(finishCtx); err != nil {
		s.log.WithError(err).Warn("quota flush failed")
	}
	if s.reports != nil {
		if err := s.reports.SaveRun(finishCtx, report); err != nil {
			s.log.WithError(err).Warn("run report save failed")
		}
	}
	if s.events != nil {
		if err := s.events.PublishRunFinished(finishCtx, report); err != nil {
			s.log.WithError(err).Warn("run publish failed")
		}
	}

	s.log.WithField("run_id", report.RunID).
		WithFields(map[string]any{"counts": report.Counts}).
		Info("run finished")
	return report, nil
}

// ProcessEmail handles a single inbound email end to end.
func (s *Service) ProcessEmail(ctx context.Context, runID string, email domain.InboundEmail) domain.Outcome {
	start := s.nowFn()
	log := s.log.WithField("run_id", runID).WithThread(email.ThreadID)

	outcome := func(status domain.OutcomeStatus, reason string) domain.Outcome {
		return domain.Outcome{
			Status:    status,
			ThreadID:  email.ThreadID,
			MessageID: email.MessageID,
			Reason:    reason,
			Duration:  s.nowFn().Sub(start),
		}
	}

	// Idempotency first: a marker survives crashed runs and label races.
	done, err := s.marker.IsProcessed(ctx, email.MessageID)
	if err != nil {
		log.WithError(err).Warn("idempotency check failed, continuing")
	} else if done {
		return outcome(domain.OutcomeAlreadyHandled, "processed_marker")
	}

	if reason := ShouldIgnore(&email, s.cfg); reason != "" {
		s.closeWithoutReply(ctx, &email, log)
		return outcome(domain.OutcomeIgnored, reason)
	}

	// One runner per thread at a time.
	lockKey := "thread:" + email.ThreadID
	token, acquired, err := s.locker.Acquire(ctx, lockKey, s.cfg.ThreadLockTTL)
	if err != nil {
		o := outcome(domain.OutcomeFailed, "lock_error")
		o.Err = err
		return o
	}
	if !acquired {
		return outcome(domain.OutcomeLockBusy, "thread_locked")
	}
	defer func() {
		if err := s.locker.Release(ctx, lockKey, token); err != nil {
			log.WithError(err).Warn("thread lock release failed")
		}
	}()

	thread, err := s.mailbox.GetThread(ctx, email.ThreadID, s.cfg.MaxHistory)
	if err != nil {
		s.markFailed(ctx, &email, log)
		o := outcome(domain.OutcomeFailed, "thread_fetch_failed")
		o.Err = err
		return o
	}

	// The office already answered and the sender has not written back:
	// nothing to do, and the message stays unmarked so a real follow-up
	// is picked up next run.
	if thread.OwnResolved && len(thread.Messages) > 0 &&
		thread.Messages[len(thread.Messages)-1].IsOwn {
		return outcome(domain.OutcomeSelfSpoke, "own_reply_is_latest")
	}

	content := classification.ExtractMainContent(email.Body)
	isReply := len(thread.Messages) > 1 ||
		strings.HasPrefix(strings.ToLower(email.Subject), "re:")

	verdict := s.prefilter.Classify(email.Subject, content, isReply)
	if !verdict.NeedsAI && !verdict.Reply {
		s.closeWithoutReply(ctx, &email, log)
		return outcome(domain.OutcomeSkipped, verdict.Reason)
	}

	if guard := s.loopGuard(thread); guard != "" {
		if err := s.mailbox.AddLabel(ctx, email.MessageID, s.cfg.ReviewLabel); err != nil {
			log.WithError(err).Warn("review label failed")
		}
		log.Warn("loop guard fired: %s", guard)
		return outcome(domain.OutcomeLoopDetected, guard)
	}

	// Classification: local scan always, model hint when quota allows.
	local := s.classifier.Analyze(email.Subject, content)
	remote, qcModel, err := s.agent.QuickCheck(ctx, email.Subject, content)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeQuotaExceeded) {
			return outcome(domain.OutcomeQuotaDeferred, "quick_check_quota")
		}
		log.WithError(err).Warn("quick check unavailable, using local verdict")
		remote = nil
	}
	qc := s.classifier.Resolve(local, remote)

	if qc.Exotic {
		s.flagForReview(ctx, &email, log)
		o := outcome(domain.OutcomeNeedsReview, "exotic_content")
		o.Category, o.Language, o.ModelUsed = qc.Category, qc.Language, qcModel
		return o
	}
	if !qc.ReplyNeeded {
		s.closeWithoutReply(ctx, &email, log)
		o := outcome(domain.OutcomeSkipped, "no_reply_needed")
		o.Category, o.Language, o.ModelUsed = qc.Category, qc.Language, qcModel
		return o
	}

	// Attachment OCR feeds the territory check and the reply prompt.
	if WantsAttachmentText(content, email.Attachments) {
		if extracted := s.attachmentText(ctx, &email, log); extracted != "" {
			content = content + "\n\n[testo estratto dagli allegati]\n" + extracted
		}
	}

	snapshot, err := s.currentSnapshot(ctx)
	if err != nil {
		s.markFailed(ctx, &email, log)
		o := outcome(domain.OutcomeFailed, "knowledge_unavailable")
		o.Err = err
		return o
	}
	terr := territory.NewValidator(snapshot).Validate(content)

	mem, err := s.memories.Load(ctx, email.ThreadID)
	if err != nil {
		log.WithError(err).Warn("memory load failed, replying without context")
		mem = &domain.ThreadMemory{ThreadID: email.ThreadID}
	}

	now := s.nowFn()
	topics := make([]string, 0, len(mem.ProvidedTopics))
	for _, t := range mem.ProvidedTopics {
		topics = append(topics, t.Topic)
	}

	input := llm.GenerationInput{
		SenderName:     email.FromName,
		Subject:        email.Subject,
		Content:        content,
		History:        thread.Messages,
		Language:       qc.Language,
		Category:       qc.Category,
		SubIntents:     qc.SubIntents,
		Salutation:     domain.SalutationFor(mem.LastReplyAt, now),
		Tone:           qc.SuggestedTone,
		DelayApology:   domain.NeedsDelayApology(email.Date, now),
		Season:         domain.Season(now),
		MemorySummary:  mem.Summary,
		ProvidedTopics: topics,
		Territory:      &terr,
		Knowledge:      snapshot,
	}

	body, genModel, err := s.agent.GenerateReply(ctx, input)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeQuotaExceeded) {
			return outcome(domain.OutcomeQuotaDeferred, "generation_quota")
		}
		s.markFailed(ctx, &email, log)
		o := outcome(domain.OutcomeFailed, "generation_failed")
		o.Err, o.Category, o.Language = err, qc.Category, qc.Language
		return o
	}

	if s.cfg.ValidationEnabled {
		strict := s.cfg.ValidationStrict ||
			qc.HasSubIntent(domain.SubIntentBereavement) ||
			qc.HasSubIntent(domain.SubIntentEmotionalDistress)
		vin := validation.Input{
			Reply:      body,
			Language:   qc.Language,
			Strict:     strict,
			SourceText: email.Subject + "\n" + content,
			Knowledge:  snapshot,
		}
		res := s.validator.Validate(vin)
		if !res.Passed {
			// One repair attempt for cosmetic defects, then revalidate.
			if healed, ok := s.validator.SelfHeal(body, res, qc.Language); ok {
				vin.Reply = healed
				if retry := s.validator.Validate(vin); retry.Passed {
					log.Info("reply repaired by self-heal pass")
					body, res = healed, retry
				}
			}
		}
		if !res.Passed {
			s.flagForReview(ctx, &email, log)
			log.Warn("reply failed validation with score %.2f", res.Score)
			o := outcome(domain.OutcomeNeedsReview, "validation_failed")
			o.Category, o.Language, o.ModelUsed = qc.Category, qc.Language, genModel
			return o
		}
	}

	if s.cfg.DryRun {
		log.Info("dry run, reply withheld (%d chars, model %s)", len(body), genModel)
		o := outcome(domain.OutcomeDryRun, "dry_run")
		o.Category, o.Language, o.ModelUsed = qc.Category, qc.Language, genModel
		return o
	}

	reply := &domain.OutboundReply{
		ThreadID: email.ThreadID,
		To:       email.FromEmail,
		Subject:  email.Subject,
		Body:     body,
	}
	if _, err := s.mailbox.SendReply(ctx, reply); err != nil {
		s.markFailed(ctx, &email, log)
		o := outcome(domain.OutcomeFailed, "send_failed")
		o.Err, o.Category, o.Language = err, qc.Category, qc.Language
		return o
	}

	s.closeWithoutReply(ctx, &email, log) // same labels apply after a reply

	summary := s.agent.SummarizeExchange(ctx, content, body)
	if _, err := s.memories.RecordExchange(ctx, email.ThreadID, memory.Exchange{
		SenderEmail:  email.FromEmail,
		Category:     qc.Category,
		Language:     qc.Language,
		Topics:       ExtractProvidedTopics(body),
		SummaryEntry: summary,
		InboundText:  content,
		RepliedAt:    now,
	}); err != nil {
		log.WithError(err).Warn("memory record failed")
	}

	o := outcome(domain.OutcomeReplied, "")
	o.Category, o.Language, o.ModelUsed = qc.Category, qc.Language, genModel
	return o
}

// loopGuard returns a non-empty reason when the thread shows signs of
// an automated back-and-forth. A long thread alone is not enough: a
// slow legitimate conversation can run long, so the guard also wants
// the newest messages to be an unbroken external run.
func (s *Service) loopGuard(thread *domain.Thread) string {
	// Without the owner's address every message counts as external and
	// the guard would fire on ordinary threads.
	if !thread.OwnResolved {
		return ""
	}
	if len(thread.Messages) >= s.cfg.MaxThreadLength &&
		trailingExternalRun(thread) >= s.cfg.MaxConsecutiveExternal {
		return "thread_too_long"
	}
	if last := thread.LastOwnReply(); !last.IsZero() {
		latest := thread.Latest.Date
		if latest.After(last) && latest.Sub(last) < s.cfg.ClosureWindow &&
			trailingExternalRun(thread) > 1 {
			return "rapid_pingpong"
		}
	}
	return ""
}

// closeWithoutReply marks a message handled: processed label, read,
// idempotency marker. Failures are logged, not fatal.
func (s *Service) closeWithoutReply(ctx context.Context, email *domain.InboundEmail, log *logger.Logger) {
	if err := s.mailbox.AddLabel(ctx, email.MessageID, s.cfg.ProcessedLabel); err != nil {
		log.WithError(err).Warn("processed label failed")
	}
	if err := s.mailbox.MarkRead(ctx, email.MessageID); err != nil {
		log.WithError(err).Warn("mark read failed")
	}
	if err := s.marker.MarkProcessed(ctx, email.MessageID, s.cfg.MemoryRetention); err != nil {
		log.WithError(err).Warn("processed marker failed")
	}
}

// markFailed labels a message for operator attention and records the
// marker so the failing message is not retried forever.
func (s *Service) markFailed(ctx context.Context, email *domain.InboundEmail, log *logger.Logger) {
	if err := s.mailbox.AddLabel(ctx, email.MessageID, s.cfg.ErrorLabel); err != nil {
		log.WithError(err).Warn("error label failed")
	}
	if err := s.marker.MarkProcessed(ctx, email.MessageID, s.cfg.MemoryRetention); err != nil {
		log.WithError(err).Warn("processed marker failed")
	}
}

// flagForReview routes a message to a human without answering it.
func (s *Service) flagForReview(ctx context.Context, email *domain.InboundEmail, log *logger.Logger) {
	if err := s.mailbox.AddLabel(ctx, email.MessageID, s.cfg.ReviewLabel); err != nil {
		log.WithError(err).Warn("review label failed")
	}
	if err := s.marker.MarkProcessed(ctx, email.MessageID, s.cfg.MemoryRetention); err != nil {
		log.WithError(err).Warn("processed marker failed")
	}
}

// attachmentText downloads image attachments and extracts their text.
// Capped at two attachments per message.
func (s *Service) attachmentText(ctx context.Context, email *domain.InboundEmail, log *logger.Logger) string {
	const maxAttachments = 2

	var parts []string
	seen := 0
	for _, att := range email.Attachments {
		if !att.IsImage() || seen >= maxAttachments {
			continue
		}
		seen++

		data, err := s.mailbox.GetAttachment(ctx, email.MessageID, att.ID)
		if err != nil {
			log.WithError(err).Warn("attachment download failed")
			continue
		}
		text, err := s.agent.ExtractText(ctx, att.MimeType, data)
		if err != nil {
			log.WithError(err).Warn("attachment text extraction failed")
			continue
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// currentSnapshot caches the knowledge base for the cache TTL so a
// batch sees consistent data without a query per email.
func (s *Service) currentSnapshot(ctx context.Context) (*domain.KnowledgeBaseSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot != nil {
		age := s.nowFn().Unix() - s.snapshot.TakenAtUnix
		if age < int64(s.cfg.MemoryCacheTTL.Seconds()) {
			return s.snapshot, nil
		}
	}

	snap, err := s.knowledge.Snapshot(ctx)
	if err != nil {
		if s.snapshot != nil {
			s.log.WithError(err).Warn("knowledge refresh failed, using stale snapshot")
			return s.snapshot, nil
		}
		return nil, err
	}
	s.snapshot = snap
	return snap, nil
}

var _ in.ProcessService = (*Service)(nil)
