package domain

import "time"

// UsageEvent is one recorded model call inside a sliding window.
type UsageEvent struct {
	At     time.Time `json:"at"`
	Tokens int       `json:"tokens"`
}

// QuotaWindow tracks recent usage of one model. Minute events feed the
// RPM and TPM checks, DayCount feeds the RPD check.
type QuotaWindow struct {
	ModelKey  string       `json:"model_key"`
	Events    []UsageEvent `json:"events"`
	DayCount  int          `json:"day_count"`
	DayStamp  string       `json:"day_stamp"` // YYYY-MM-DD in the quota timezone
	UpdatedAt time.Time    `json:"updated_at"`
}

// Prune drops events outside the sliding minute window and caps the
// slice so an abusive burst cannot grow it without bound.
func (w *QuotaWindow) Prune(now time.Time, cap int) {
	cutoff := now.Add(-time.Minute)
	kept := w.Events[:0]
	for _, e := range w.Events {
		if e.At.After(cutoff) {
			kept = append(kept, e)
		}
	}
	w.Events = kept
	if cap > 0 && len(w.Events) > cap {
		w.Events = w.Events[len(w.Events)-cap:]
	}
}

// MinuteRequests counts calls inside the sliding minute.
func (w *QuotaWindow) MinuteRequests(now time.Time) int {
	cutoff := now.Add(-time.Minute)
	n := 0
	for _, e := range w.Events {
		if e.At.After(cutoff) {
			n++
		}
	}
	return n
}

// MinuteTokens sums tokens inside the sliding minute.
func (w *QuotaWindow) MinuteTokens(now time.Time) int {
	cutoff := now.Add(-time.Minute)
	total := 0
	for _, e := range w.Events {
		if e.At.After(cutoff) {
			total += e.Tokens
		}
	}
	return total
}

// QuotaDenial names which limit blocked a model.
type QuotaDenial string

const (
	DenialNone QuotaDenial = ""
	DenialRPM  QuotaDenial = "rpm"
	DenialTPM  QuotaDenial = "tpm"
	DenialRPD  QuotaDenial = "rpd"
)

// ThrottleDelay is how long to wait before retrying after a denial.
func (d QuotaDenial) ThrottleDelay() time.Duration {
	switch d {
	case DenialRPM:
		return 5 * time.Second
	case DenialTPM:
		return 3 * time.Second
	case DenialRPD:
		return 10 * time.Second
	default:
		return 0
	}
}

// ModelAvailability is the limiter's verdict for one model.
type ModelAvailability struct {
	ModelKey  string      `json:"model_key"`
	Available bool        `json:"available"`
	Denial    QuotaDenial `json:"denial,omitempty"`
	NextReset time.Time   `json:"next_reset,omitempty"`
}

// QuotaSnapshot is a read-only view of current usage, for ops endpoints.
type QuotaSnapshot struct {
	ModelKey       string    `json:"model_key"`
	MinuteRequests int       `json:"minute_requests"`
	MinuteTokens   int       `json:"minute_tokens"`
	DayRequests    int       `json:"day_requests"`
	RPMLimit       int       `json:"rpm_limit"`
	TPMLimit       int       `json:"tpm_limit"`
	RPDLimit       int       `json:"rpd_limit"`
	NextDailyReset time.Time `json:"next_daily_reset"`
}
