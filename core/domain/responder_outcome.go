package domain

import "time"

// OutcomeStatus tags the terminal state of processing one email.
type OutcomeStatus string

const (
	OutcomeReplied        OutcomeStatus = "replied"
	OutcomeSkipped        OutcomeStatus = "skipped"              // no reply needed, marked processed
	OutcomeIgnored        OutcomeStatus = "ignored"              // excluded sender or auto-generated
	OutcomeLoopDetected   OutcomeStatus = "loop_detected"        // anti-loop guard fired, left unprocessed
	OutcomeNeedsReview    OutcomeStatus = "needs_review"         // validation failed, flagged for a human
	OutcomeQuotaDeferred  OutcomeStatus = "quota_deferred"       // all models exhausted, retried next run
	OutcomeLockBusy       OutcomeStatus = "lock_busy"            // another runner holds the thread
	OutcomeFailed         OutcomeStatus = "failed"               // unrecoverable error, error label applied
	OutcomeAlreadyHandled OutcomeStatus = "already_handled"      // idempotency guard, nothing to do
	OutcomeSelfSpoke      OutcomeStatus = "last_speaker_is_self" // own reply is the newest message, waiting for the sender
	OutcomeDryRun         OutcomeStatus = "dry_run"
)

// Outcome is the result of processing one inbound email.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	ThreadID  string        `json:"thread_id"`
	MessageID string        `json:"message_id"`
	Category  Category      `json:"category,omitempty"`
	Language  Language      `json:"language,omitempty"`
	ModelUsed string        `json:"model_used,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	Err       error         `json:"-"`
}

// Terminal reports whether the message should not be retried next run.
func (o Outcome) Terminal() bool {
	switch o.Status {
	case OutcomeQuotaDeferred, OutcomeLockBusy, OutcomeLoopDetected, OutcomeSelfSpoke:
		return false
	default:
		return true
	}
}

// RunReport summarizes one batch run for the ops store.
type RunReport struct {
	RunID       string          `json:"run_id" bson:"run_id"`
	RunnerID    string          `json:"runner_id" bson:"runner_id"`
	StartedAt   time.Time       `json:"started_at" bson:"started_at"`
	FinishedAt  time.Time       `json:"finished_at" bson:"finished_at"`
	Fetched     int             `json:"fetched" bson:"fetched"`
	Outcomes    []Outcome       `json:"outcomes" bson:"-"`
	Counts      map[string]int  `json:"counts" bson:"counts"`
	QuotaState  []QuotaSnapshot `json:"quota_state,omitempty" bson:"quota_state,omitempty"`
	TimedOut    bool            `json:"timed_out" bson:"timed_out"`
	ErrorDetail string          `json:"error_detail,omitempty" bson:"error_detail,omitempty"`
}

// Tally recomputes the per-status counts from Outcomes.
func (r *RunReport) Tally() {
	r.Counts = make(map[string]int, len(r.Outcomes))
	for _, o := range r.Outcomes {
		r.Counts[string(o.Status)]++
	}
}
