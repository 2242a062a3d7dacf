package domain

import (
	"strings"
	"time"
)

// InboundEmail is a single message fetched from the mailbox provider.
type InboundEmail struct {
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id"`
	Subject   string    `json:"subject"`
	FromEmail string    `json:"from_email"`
	FromName  string    `json:"from_name,omitempty"`
	ToEmails  []string  `json:"to_emails"`
	CcEmails  []string  `json:"cc_emails,omitempty"`
	Date      time.Time `json:"date"`
	Body      string    `json:"body"`
	Snippet   string    `json:"snippet,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
	IsUnread  bool      `json:"is_unread"`

	// Auto-generated mail markers (Auto-Submitted, Precedence: bulk, ...)
	AutoSubmitted bool `json:"auto_submitted"`

	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is provider attachment metadata. Data is only populated
// when the attachment has been explicitly downloaded (OCR path).
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`
}

// IsImage reports whether the attachment looks like an OCR candidate.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/") || a.MimeType == "application/pdf"
}

// ThreadMessage is one message of a conversation history, ordered oldest first.
type ThreadMessage struct {
	MessageID string    `json:"message_id"`
	FromEmail string    `json:"from_email"`
	Date      time.Time `json:"date"`
	Body      string    `json:"body"`
	IsOwn     bool      `json:"is_own"` // sent by the mailbox owner (or this system)
}

// Thread is a conversation with its history and the message under processing.
type Thread struct {
	ID       string          `json:"id"`
	Messages []ThreadMessage `json:"messages"`
	Latest   InboundEmail    `json:"latest"`

	// OwnResolved is false when the mailbox owner's address could not
	// be determined, which makes every IsOwn flag meaningless.
	OwnResolved bool `json:"own_resolved"`
}

// ExternalMessageCount returns how many messages were not sent by the
// mailbox owner. Used by the anti-loop guard.
func (t *Thread) ExternalMessageCount() int {
	n := 0
	for _, m := range t.Messages {
		if !m.IsOwn {
			n++
		}
	}
	return n
}

// LastOwnReply returns the timestamp of the most recent own message,
// or the zero time when the system never replied.
func (t *Thread) LastOwnReply() time.Time {
	var last time.Time
	for _, m := range t.Messages {
		if m.IsOwn && m.Date.After(last) {
			last = m.Date
		}
	}
	return last
}

// OutboundReply is a generated response ready to be sent.
type OutboundReply struct {
	ThreadID  string   `json:"thread_id"`
	To        string   `json:"to"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	InReplyTo string   `json:"in_reply_to,omitempty"`
	Labels    []string `json:"labels,omitempty"`
}

// SalutationMode drives how the generated reply opens, based on how
// recently the same sender was greeted.
type SalutationMode string

const (
	SalutationFull    SalutationMode = "full"               // first contact or long silence
	SalutationSoft    SalutationMode = "soft"               // recent but not same-day contact
	SalutationNone    SalutationMode = "none_or_continuity" // same conversation, recent
	SalutationSession SalutationMode = "session"            // rapid back-and-forth
)

// SalutationFor picks the greeting mode from the elapsed time since the
// last own reply to this sender. Invalid or future timestamps fall back
// to a full salutation.
func SalutationFor(lastReply, now time.Time) SalutationMode {
	if lastReply.IsZero() || lastReply.After(now) {
		return SalutationFull
	}
	elapsed := now.Sub(lastReply)
	switch {
	case elapsed <= 15*time.Minute:
		return SalutationSession
	case elapsed <= 48*time.Hour:
		return SalutationNone
	case elapsed <= 96*time.Hour:
		return SalutationSoft
	default:
		return SalutationFull
	}
}

// NeedsDelayApology reports whether the reply should open with an
// apology for the late answer.
func NeedsDelayApology(received, now time.Time) bool {
	if received.IsZero() || received.After(now) {
		return false
	}
	return now.Sub(received) >= 72*time.Hour
}

// Season returns the pastoral season label for schedule answers.
func Season(t time.Time) string {
	m := t.Month()
	if m >= time.June && m <= time.September {
		return "estivo"
	}
	return "invernale"
}
