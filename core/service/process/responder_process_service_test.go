package process

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"responder_server/config"
	"responder_server/core/agent/llm"
	"responder_server/core/domain"
	"responder_server/core/service/memory"
	"responder_server/core/service/territory"
	"responder_server/pkg/apperr"
	"responder_server/pkg/logger"

	"github.com/google/uuid"
)

// fakes

type fakeMailbox struct {
	mu          sync.Mutex
	inbox       []domain.InboundEmail
	threads     map[string]*domain.Thread
	labels      map[string][]string // messageID -> label names
	read        map[string]bool
	sent        []*domain.OutboundReply
	attachments map[string][]byte
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		threads:     make(map[string]*domain.Thread),
		labels:      make(map[string][]string),
		read:        make(map[string]bool),
		attachments: make(map[string][]byte),
	}
}

func (f *fakeMailbox) ListUnprocessed(_ context.Context, max int) ([]domain.InboundEmail, error) {
	if len(f.inbox) > max {
		return f.inbox[:max], nil
	}
	return f.inbox, nil
}

func (f *fakeMailbox) GetThread(_ context.Context, threadID string, _ int) (*domain.Thread, error) {
	if t, ok := f.threads[threadID]; ok {
		return t, nil
	}
	return &domain.Thread{ID: threadID}, nil
}

func (f *fakeMailbox) SendReply(_ context.Context, reply *domain.OutboundReply) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, reply)
	return "sent-" + uuid.NewString(), nil
}

func (f *fakeMailbox) AddLabel(_ context.Context, messageID, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels[messageID] = append(f.labels[messageID], label)
	return nil
}

func (f *fakeMailbox) RemoveLabel(_ context.Context, messageID, label string) error {
	return nil
}

func (f *fakeMailbox) MarkRead(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read[messageID] = true
	return nil
}

func (f *fakeMailbox) EnsureLabels(_ context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = "id-" + n
	}
	return out, nil
}

func (f *fakeMailbox) GetAttachment(_ context.Context, _, attachmentID string) ([]byte, error) {
	return f.attachments[attachmentID], nil
}

func (f *fakeMailbox) hasLabel(messageID, label string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.labels[messageID] {
		if l == label {
			return true
		}
	}
	return false
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (f *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.held[key]; busy {
		return "", false, nil
	}
	token := uuid.NewString()
	f.held[key] = token
	return token, true, nil
}

func (f *fakeLocker) Release(_ context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] == token {
		delete(f.held, key)
	}
	return nil
}

func (f *fakeLocker) Extend(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[key] == token, nil
}

type fakeMarker struct {
	mu     sync.Mutex
	marked map[string]bool
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{marked: make(map[string]bool)}
}

func (f *fakeMarker) IsProcessed(_ context.Context, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marked[messageID], nil
}

func (f *fakeMarker) MarkProcessed(_ context.Context, messageID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked[messageID] = true
	return nil
}

type fakeKnowledge struct{}

func (fakeKnowledge) Snapshot(_ context.Context) (*domain.KnowledgeBaseSnapshot, error) {
	return territory.DefaultSnapshot(), nil
}

type fakeReports struct {
	mu    sync.Mutex
	saved []*domain.RunReport
}

func (f *fakeReports) SaveRun(_ context.Context, r *domain.RunReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeReports) RecentRuns(_ context.Context, _ int) ([]*domain.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved, nil
}

type fakeEvents struct {
	mu       sync.Mutex
	outcomes int
	runs     int
}

func (f *fakeEvents) PublishOutcome(_ context.Context, _ string, _ *domain.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes++
	return nil
}

func (f *fakeEvents) PublishRunFinished(_ context.Context, _ *domain.RunReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return nil
}

type fakeQuota struct{}

func (fakeQuota) Flush(_ context.Context) error { return nil }
func (fakeQuota) Snapshot(_ context.Context) ([]domain.QuotaSnapshot, error) {
	return nil, nil
}

type fakeAgent struct {
	verdict    *domain.QuickCheck
	checkErr   error
	reply      string
	replyErr   error
	ocrText    string
	quickCalls int
	genCalls   int
}

func (f *fakeAgent) QuickCheck(_ context.Context, _, _ string) (*domain.QuickCheck, string, error) {
	f.quickCalls++
	if f.checkErr != nil {
		return nil, "", f.checkErr
	}
	return f.verdict, "flash-lite", nil
}

func (f *fakeAgent) GenerateReply(_ context.Context, _ llm.GenerationInput) (string, string, error) {
	f.genCalls++
	if f.replyErr != nil {
		return "", "", f.replyErr
	}
	return f.reply, "flash-2.5", nil
}

func (f *fakeAgent) SummarizeExchange(_ context.Context, _, _ string) string {
	return "richiesta orari messe"
}

func (f *fakeAgent) ExtractText(_ context.Context, _ string, _ []byte) (string, error) {
	return f.ocrText, nil
}

type fakeMemories struct {
	mu       sync.Mutex
	records  map[string]*domain.ThreadMemory
	recorded []memory.Exchange
}

func newFakeMemories() *fakeMemories {
	return &fakeMemories{records: make(map[string]*domain.ThreadMemory)}
}

func (f *fakeMemories) Load(_ context.Context, threadID string) (*domain.ThreadMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.records[threadID]; ok {
		return m, nil
	}
	return &domain.ThreadMemory{ThreadID: threadID}, nil
}

func (f *fakeMemories) RecordExchange(_ context.Context, threadID string, ex memory.Exchange) (*domain.ThreadMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, ex)
	return &domain.ThreadMemory{ThreadID: threadID}, nil
}

// fixture

const goodReply = `Gentile parrocchiano,

la ringraziamo per il suo messaggio. Le sante messe festive sono celebrate alle ore 9:00 e alle 11:00, quelle feriali alle 18:30. La segreteria resta a disposizione per ogni chiarimento.

Cordiali saluti,
la segreteria parrocchiale`

func testConfig() *config.Config {
	return &config.Config{
		ProcessedLabel:         "IA",
		ErrorLabel:             "Errore",
		ReviewLabel:            "Verifica",
		MaxEmailsPerRun:        5,
		MaxHistory:             10,
		RunnerID:               "test-runner",
		RunTimeBudget:          30 * time.Second,
		ThreadLockTTL:          30 * time.Second,
		MemoryLockTTL:          30 * time.Second,
		MemoryCacheTTL:         5 * time.Minute,
		MaxProvidedTopics:      50,
		MemoryRetention:        30 * 24 * time.Hour,
		MaxSummaryBullets:      4,
		MaxSummaryChars:        600,
		ValidationEnabled:      true,
		ValidationMinScore:     0.6,
		MaxThreadLength:        10,
		MaxConsecutiveExternal: 5,
		ClosureWindow:          10 * time.Minute,
		IgnoreDomains:          []string{"noreply", "newsletter"},
		IgnoreKeywords:         []string{"unsubscribe", "disiscriviti"},
		OutOfOfficePhrases:     []string{"out of office", "risposta automatica", "sarò assente"},
		Models:                 config.DefaultModels(),
		Strategy:               config.DefaultStrategy(),
	}
}

type harness struct {
	svc      *Service
	mailbox  *fakeMailbox
	locker   *fakeLocker
	marker   *fakeMarker
	agent    *fakeAgent
	memories *fakeMemories
	reports  *fakeReports
	events   *fakeEvents
	cfg      *config.Config
}

func newHarness(cfg *config.Config) *harness {
	h := &harness{
		mailbox:  newFakeMailbox(),
		locker:   newFakeLocker(),
		marker:   newFakeMarker(),
		agent:    &fakeAgent{reply: goodReply},
		memories: newFakeMemories(),
		reports:  &fakeReports{},
		events:   &fakeEvents{},
		cfg:      cfg,
	}
	h.agent.verdict = &domain.QuickCheck{
		ReplyNeeded: true,
		Language:    domain.LangItalian,
		Category:    domain.CategoryInformation,
		Confidence:  0.9,
	}
	log := logger.New(logger.Config{Level: logger.LevelError, Output: io.Discard, Service: "test"})
	h.svc = NewService(Deps{
		Mailbox:   h.mailbox,
		Locker:    h.locker,
		Marker:    h.marker,
		Knowledge: fakeKnowledge{},
		Reports:   h.reports,
		Events:    h.events,
		Agent:     h.agent,
		Memories:  h.memories,
		Quota:     fakeQuota{},
	}, cfg, log)
	return h
}

func askScheduleEmail() domain.InboundEmail {
	return domain.InboundEmail{
		MessageID: "msg-1",
		ThreadID:  "thread-1",
		Subject:   "Orari delle messe",
		FromEmail: "mario.rossi@example.com",
		FromName:  "Mario Rossi",
		Date:      time.Now().Add(-1 * time.Hour),
		Body:      "Buongiorno, vorrei sapere gli orari delle messe domenicali. Grazie mille per la disponibilità.",
		IsUnread:  true,
	}
}

// tests

func TestProcessEmailRepliesAndRecordsMemory(t *testing.T) {
	h := newHarness(testConfig())
	email := askScheduleEmail()

	o := h.svc.ProcessEmail(context.Background(), "run-1", email)

	if o.Status != domain.OutcomeReplied {
		t.Fatalf("status = %s (%s), want replied", o.Status, o.Reason)
	}
	if o.ModelUsed != "flash-2.5" {
		t.Errorf("model = %q, want flash-2.5", o.ModelUsed)
	}
	if len(h.mailbox.sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(h.mailbox.sent))
	}
	if h.mailbox.sent[0].To != email.FromEmail {
		t.Errorf("reply to %q, want %q", h.mailbox.sent[0].To, email.FromEmail)
	}
	if !h.mailbox.hasLabel("msg-1", "IA") {
		t.Error("processed label not applied")
	}
	if !h.mailbox.read["msg-1"] {
		t.Error("message not marked read")
	}
	if !h.marker.marked["msg-1"] {
		t.Error("idempotency marker not set")
	}
	if len(h.memories.recorded) != 1 {
		t.Fatalf("recorded %d exchanges, want 1", len(h.memories.recorded))
	}
	ex := h.memories.recorded[0]
	if ex.SenderEmail != email.FromEmail {
		t.Errorf("exchange sender = %q", ex.SenderEmail)
	}
	found := false
	for _, topic := range ex.Topics {
		if topic == "orari_messe" {
			found = true
		}
	}
	if !found {
		t.Errorf("topics %v missing orari_messe", ex.Topics)
	}
}

func TestProcessEmailAlreadyHandled(t *testing.T) {
	h := newHarness(testConfig())
	email := askScheduleEmail()
	h.marker.marked[email.MessageID] = true

	o := h.svc.ProcessEmail(context.Background(), "run-1", email)

	if o.Status != domain.OutcomeAlreadyHandled {
		t.Fatalf("status = %s, want already_handled", o.Status)
	}
	if h.agent.quickCalls != 0 || len(h.mailbox.sent) != 0 {
		t.Error("handled message should not reach the model or the mailbox")
	}
}

func TestProcessEmailIgnoresAutoGenerated(t *testing.T) {
	h := newHarness(testConfig())
	email := askScheduleEmail()
	email.AutoSubmitted = true

	o := h.svc.ProcessEmail(context.Background(), "run-1", email)

	if o.Status != domain.OutcomeIgnored {
		t.Fatalf("status = %s, want ignored", o.Status)
	}
	if !h.mailbox.hasLabel(email.MessageID, "IA") {
		t.Error("ignored message should still be labeled processed")
	}
	if h.agent.quickCalls != 0 {
		t.Error("ignored message should not reach the model")
	}
}

func TestProcessEmailIgnoresNewsletterSender(t *testing.T) {
	h := newHarness(testConfig())
	email := askScheduleEmail()
	email.FromEmail = "updates@newsletter.example.com"

	o := h.svc.ProcessEmail(context.Background(), "run-1", email)

	if o.Status != domain.OutcomeIgnored {
		t.Fatalf("status = %s, want ignored", o.Status)
	}
}

func TestProcessEmailLockBusy(t *testing.T) {
	h := newHarness(testConfig())
	email := askScheduleEmail()
	if _, ok, _ := h.locker.Acquire(context.Background(), "thread:"+email.ThreadID, time.Minute); !ok {
		t.Fatal("setup: could not pre-acquire lock")
	}

	o := h.svc.ProcessEmail(context.Background(), "run-1", email)

	if o.Status != domain.OutcomeLockBusy {
		t.Fatalf("status = %s, want lock_busy", o.Status)
	}
	if h.marker.marked[email.MessageID] {
		t.Error("lock_busy must leave the message unprocessed for the next run")
	}
}

func TestProcessEmailSkipsBareThanks(t *testing.T) {
	h := newHarness(testConfig())
	email := askScheduleEmail()
	email.Body = "Grazie mille!"

	o := h.svc.ProcessEmail(context.Background(), "run-1", email)

	if o.Status != domain.OutcomeSkipped {
		t.Fatalf("status = %s (%s), want skipped", o.Status, o.Reason)
	}
	if h.agent.quickCalls != 0 {
		t.Error("acknowledgment should not reach the model")
	}
	if !h.marker.marked[email.MessageID] {
		t.Error("skipped message should carry the marker")
	}
}

func TestProcessEmailLoopGuardOnLongThread(t *testing.T) {
	h := newHarness(testConfig())
	email := askScheduleEmail()

	thread := &domain.Thread{ID: email.ThreadID, Latest: email, OwnResolved: true}
	for i := 0; i < 10; i++ {
		thread.Messages = append(thread.Messages, domain.ThreadMessage{
			MessageID: uuid.NewString(),
			FromEmail: email.FromEmail,
			Date:      time.Now().Add(time.Duration(i-10) * time.Hour),
			Body:      "ancora una domanda sugli orari delle messe per favore",
		})
	}
	h.mailbox.threads[email.ThreadID] = thread

	o := h.svc.ProcessEmail(context.Background(), "run-1", email)

	if o.Status != domain.OutcomeLoopDetected {
		t.Fatalf("status = %s (%s), want loop_detected", o.Status, o.Reason)
	}
	if !h.mailbox.hasLabel(email.MessageID, "Verifica") {
		t.Error("loop should flag the message for review")
	}
	if h.marker.marked[email.MessageID] {
		t.Error("loop_detected must not set the processed marker")
	}
	if h.agent.genCalls != 0 {
		t.Error("loop should fire before any generation")
	}
}

func TestProcessEmailStopsWhenOwnReplyIsLatest(t *testing.T) {
	h := newHarness(testConfig())
	email := askScheduleEmail()
	now := time.Now()

	h.mailbox.threads[email.ThreadID] = &domain.Thread{
		ID:          email.ThreadID,
		OwnResolved: true,
		Messages: []domain.ThreadMessage{
			{FromEmail: email.FromEmail, Date: now.Add(-2 * time.Hour), Body: "vorrei informazioni sugli orari"},
			{FromEmail: "segreteria@parrocchia.it", IsOwn: true, Date: now.Add(-1 * time.Hour), Body: goodReply},
		},
		Latest: email,
	}

	o := h.svc.ProcessEmail(context.Background(), "run-1", email)

	if o.Status != domain.OutcomeSelfSpoke {
		t.Fatalf("status = %s (%s), want last_speaker_is_self", o.Status, o.Reason)
	}
	if h.agent.quickCalls != 0 || len(h.mailbox.sent) != 0 {
		t.Error("already-answered thread must not reach the model")
	}
	if h.marker.marked[email.MessageID] {
		t.Error("message must stay unmarked for a real follow-up")
	}
}

func TestLoopGuardNeedsOwnAddress(t *testing.T) {
	h := newHarness(testConfig())
	now := time.Now()

	thread := &domain.Thread{ID: "thread-1", Latest: domain.InboundEmail{Date: now}}
	for i := 0; i < 12; i++ {
		thread.Messages = append(thread.Messages, domain.ThreadMessage{
			FromEmail: "mario@example.com",
			Date:      now.Add(time.Duration(i-12) * time.Hour),
		})
	}

	if guard := h.svc.loopGuard(thread); guard != "" {
		t.Errorf("loopGuard() = %q, want no guard when the own address is unknown", guard)
	}
	thread.OwnResolved = true
	if guard := h.svc.loopGuard(thread); guard != "thread_too_long" {
		t.Errorf("loopGuard() = %q, want thread_too_long once resolved", guard)
	}
}

func TestLoopGuardLongThreadWithRecentOwnReply(t *testing.T) {
	h := newHarness(testConfig())
	now := time.Now()

	// Long but interleaved: the office answered two messages ago, so
	// the trailing external run stays short.
	thread := &domain.Thread{ID: "thread-1", OwnResolved: true, Latest: domain.InboundEmail{Date: now}}
	for i := 0; i < 12; i++ {
		thread.Messages = append(thread.Messages, domain.ThreadMessage{
			FromEmail: "mario@example.com",
			Date:      now.Add(time.Duration(i-12) * time.Hour),
		})
	}
	thread.Messages[9] = domain.ThreadMessage{
		FromEmail: "segreteria@parrocchia.it",
		IsOwn:     true,
		Date:      now.Add(-3 * time.Hour),
	}

	if guard := h.svc.loopGuard(thread); guard != "" {
		t.Errorf("loopGuard() = %q, want no guard on an interleaved thread", guard)
	}
}

func TestProcessEmailQuotaDeferred(t *testing.T) {
	h := newHarness(testConfig())
	h.agent.checkErr = apperr.QuotaExceeded("quick_check", time.Now().Add(time.Minute))
	email := askScheduleEmail()

	o := h.svc.ProcessEmail(context.Background(), "run-1", email)

	if o.Status != domain.OutcomeQuotaDeferred {
		t.Fatalf("status = %s, want quota_deferred", o.Status)
	}
	if h.marker.marked[email.MessageID] {
		t.Error("deferred message must stay unprocessed")
	}
	if len(h.mailbox.sent) != 0 {
		t.Error("deferred message must not be answered")
	}
}

func TestProcessEmailValidationFailureGoesToReview(t *testing.T) {
	h := newHarness(testConfig())
	h.agent.reply = "Gentile [NOME], la contatteremo presto. Cordiali saluti, la segreteria parrocchiale."
	email := askScheduleEmail()

	o := h.svc.ProcessEmail(context.Background(), "run-1", email)

	if o.Status != domain.OutcomeNeedsReview {
		t.Fatalf("status = %s (%s), want needs_review", o.Status, o.Reason)
	}
	if !h.mailbox.hasLabel(email.MessageID, "Verifica") {
		t.Error("review label not applied")
	}
	if len(h.mailbox.sent) != 0 {
		t.Error("invalid reply must not be sent")
	}
}

func TestProcessEmailExoticGoesToReview(t *testing.T) {
	h := newHarness(testConfig())
	h.agent.verdict.Exotic = true
	email := askScheduleEmail()

	o := h.svc.ProcessEmail(context.Background(), "run-1", email)

	if o.Status != domain.OutcomeNeedsReview {
		t.Fatalf("status = %s, want needs_review", o.Status)
	}
	if h.agent.genCalls != 0 {
		t.Error("exotic content must not be answered")
	}
}

func TestProcessEmailDryRunSendsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	h := newHarness(cfg)
	email := askScheduleEmail()

	o := h.svc.ProcessEmail(context.Background(), "run-1", email)

	if o.Status != domain.OutcomeDryRun {
		t.Fatalf("status = %s, want dry_run", o.Status)
	}
	if len(h.mailbox.sent) != 0 {
		t.Error("dry run must not send")
	}
	if h.marker.marked[email.MessageID] {
		t.Error("dry run must not mark the message")
	}
}

func TestRunOnceTalliesAndPersists(t *testing.T) {
	h := newHarness(testConfig())
	first := askScheduleEmail()
	second := askScheduleEmail()
	second.MessageID = "msg-2"
	second.ThreadID = "thread-2"
	second.Body = "Grazie mille!"
	h.mailbox.inbox = []domain.InboundEmail{first, second}

	report, err := h.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if report.Fetched != 2 {
		t.Errorf("fetched = %d, want 2", report.Fetched)
	}
	if report.Counts["replied"] != 1 || report.Counts["skipped"] != 1 {
		t.Errorf("counts = %v, want one replied and one skipped", report.Counts)
	}
	if len(h.reports.saved) != 1 {
		t.Fatalf("saved %d reports, want 1", len(h.reports.saved))
	}
	if h.events.outcomes != 2 || h.events.runs != 1 {
		t.Errorf("published %d outcomes, %d runs; want 2 and 1",
			h.events.outcomes, h.events.runs)
	}
	if report.FinishedAt.Before(report.StartedAt) {
		t.Error("finished before started")
	}
}

func TestRunOnceHaltsWhenQuotaExhausted(t *testing.T) {
	h := newHarness(testConfig())
	h.agent.checkErr = apperr.QuotaExceeded("quick_check", time.Now().Add(time.Minute))

	first := askScheduleEmail()
	second := askScheduleEmail()
	second.MessageID = "msg-2"
	second.ThreadID = "thread-2"
	third := askScheduleEmail()
	third.MessageID = "msg-3"
	third.ThreadID = "thread-3"
	h.mailbox.inbox = []domain.InboundEmail{first, second, third}

	report, err := h.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if report.Fetched != 3 {
		t.Errorf("fetched = %d, want 3", report.Fetched)
	}
	if report.Counts["quota_deferred"] != 1 {
		t.Errorf("counts = %v, want a single quota_deferred before the halt", report.Counts)
	}
	if h.agent.quickCalls != 1 {
		t.Errorf("quick checks = %d, want 1 after the halt", h.agent.quickCalls)
	}
	if h.events.outcomes != 1 {
		t.Errorf("published %d outcomes, want 1", h.events.outcomes)
	}
}

func TestShouldIgnore(t *testing.T) {
	cfg := testConfig()
	cfg.OwnAliases = []string{"segreteria@parrocchia.it"}

	tests := []struct {
		name  string
		email domain.InboundEmail
		want  string
	}{
		{
			name:  "normal sender",
			email: domain.InboundEmail{FromEmail: "mario@example.com", Body: "vorrei informazioni"},
			want:  "",
		},
		{
			name:  "auto submitted",
			email: domain.InboundEmail{FromEmail: "mario@example.com", AutoSubmitted: true},
			want:  "auto_generated",
		},
		{
			name:  "own alias",
			email: domain.InboundEmail{FromEmail: "Segreteria@parrocchia.it"},
			want:  "own_address",
		},
		{
			name:  "noreply sender",
			email: domain.InboundEmail{FromEmail: "noreply@shop.example.com"},
			want:  "excluded_sender",
		},
		{
			name:  "unsubscribe footer",
			email: domain.InboundEmail{FromEmail: "mario@example.com", Body: "offerta!\nclicca per disiscriviti"},
			want:  "bulk_keyword",
		},
		{
			name:  "free text absence notice",
			email: domain.InboundEmail{FromEmail: "mario@example.com", Subject: "Risposta automatica", Body: "Sarò assente fino al 20 agosto."},
			want:  "out_of_office",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldIgnore(&tt.email, cfg); got != tt.want {
				t.Errorf("ShouldIgnore() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractProvidedTopics(t *testing.T) {
	reply := strings.Join([]string{
		"Gentile signora, gli orari delle sante messe sono i seguenti.",
		"Per il battesimo di suo figlio può chiamarci al numero di telefono in calce.",
	}, " ")

	topics := ExtractProvidedTopics(reply)

	want := map[string]bool{"orari_messe": true, "contatti": true, "battesimo_info": true}
	if len(topics) != len(want) {
		t.Fatalf("topics = %v, want %v", topics, want)
	}
	for _, topic := range topics {
		if !want[topic] {
			t.Errorf("unexpected topic %q", topic)
		}
	}
}

func TestWantsAttachmentText(t *testing.T) {
	image := domain.Attachment{ID: "a1", MimeType: "image/jpeg", Filename: "doc.jpg"}
	pdf := domain.Attachment{ID: "a2", MimeType: "application/pdf", Filename: "cert.pdf"}
	zip := domain.Attachment{ID: "a3", MimeType: "application/zip", Filename: "x.zip"}

	tests := []struct {
		name        string
		content     string
		attachments []domain.Attachment
		want        bool
	}{
		{"mentions attachment", "vi invio in allegato il certificato di battesimo richiesto", []domain.Attachment{image}, true},
		{"pdf document", "ecco il documento che mi avete chiesto la settimana scorsa", []domain.Attachment{pdf}, true},
		{"no attachments", "vi invio in allegato il certificato", nil, false},
		{"non image attachment", "vi invio in allegato il certificato di battesimo richiesto", []domain.Attachment{zip}, false},
		{"bare image no text", "ecco", []domain.Attachment{image}, true},
		{"long text no mention", "vorrei sapere a che ora sono le messe della domenica e se la chiesa resta aperta anche nel pomeriggio durante la settimana", []domain.Attachment{image}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WantsAttachmentText(tt.content, tt.attachments); got != tt.want {
				t.Errorf("WantsAttachmentText() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoopGuardRapidPingPong(t *testing.T) {
	h := newHarness(testConfig())
	now := time.Now()

	thread := &domain.Thread{
		ID:          "thread-1",
		OwnResolved: true,
		Messages: []domain.ThreadMessage{
			{FromEmail: "segreteria@parrocchia.it", IsOwn: true, Date: now.Add(-5 * time.Minute)},
			{FromEmail: "mario@example.com", Date: now.Add(-4 * time.Minute)},
			{FromEmail: "mario@example.com", Date: now.Add(-2 * time.Minute)},
		},
		Latest: domain.InboundEmail{Date: now.Add(-2 * time.Minute)},
	}

	if guard := h.svc.loopGuard(thread); guard != "rapid_pingpong" {
		t.Errorf("loopGuard() = %q, want rapid_pingpong", guard)
	}

	// Same shape but outside the closure window.
	thread.Messages[0].Date = now.Add(-2 * time.Hour)
	if guard := h.svc.loopGuard(thread); guard != "" {
		t.Errorf("loopGuard() = %q, want empty", guard)
	}
}
