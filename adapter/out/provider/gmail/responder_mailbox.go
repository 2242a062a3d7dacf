// Package gmail implements the mailbox port on the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"responder_server/config"
	"responder_server/core/domain"
	"responder_server/core/port/out"
	"responder_server/pkg/apperr"
	"responder_server/pkg/logger"
	"responder_server/pkg/metrics"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Mailbox implements out.MailboxPort for a single Gmail account
// authenticated with a long-lived refresh token.
type Mailbox struct {
	service *gmailapi.Service
	cb      *gobreaker.CircuitBreaker
	cfg     *config.Config
	log     *logger.Logger

	email string

	mu       sync.RWMutex
	labelIDs map[string]string // label name -> id
}

// NewMailbox builds the Gmail service from the configured OAuth client
// and refresh token, resolves the account address, and ensures the
// processing labels exist.
func NewMailbox(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Mailbox, error) {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes: []string{
			gmailapi.GmailReadonlyScope,
			gmailapi.GmailSendScope,
			gmailapi.GmailModifyScope,
			gmailapi.GmailLabelsScope,
		},
		Endpoint: google.Endpoint,
	}

	token := &oauth2.Token{RefreshToken: cfg.GoogleRefreshToken}
	client := oauthCfg.Client(ctx, token)

	service, err := gmailapi.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker %s: state changed from %s to %s",
				name, from.String(), to.String())
		},
	}

	m := &Mailbox{
		service:  service,
		cb:       gobreaker.NewCircuitBreaker(cbSettings),
		cfg:      cfg,
		log:      log,
		labelIDs: make(map[string]string),
	}

	profile, err := m.getProfile(ctx)
	if err != nil {
		return nil, err
	}
	m.email = profile.EmailAddress

	if _, err := m.EnsureLabels(ctx, []string{
		cfg.ProcessedLabel, cfg.ErrorLabel, cfg.ReviewLabel,
	}); err != nil {
		return nil, err
	}

	return m, nil
}

// Email returns the authenticated account address.
func (m *Mailbox) Email() string {
	return m.email
}

// OwnAddresses returns the account address plus configured aliases,
// all lowercased.
func (m *Mailbox) OwnAddresses() []string {
	addrs := []string{strings.ToLower(m.email)}
	for _, a := range m.cfg.OwnAliases {
		addrs = append(addrs, strings.ToLower(a))
	}
	return addrs
}

// ListUnprocessed returns unread inbox messages without the processed
// label, oldest first.
func (m *Mailbox) ListUnprocessed(ctx context.Context, max int) ([]domain.InboundEmail, error) {
	query := fmt.Sprintf("in:inbox is:unread -label:%s", m.cfg.ProcessedLabel)

	var resp *gmailapi.ListMessagesResponse
	err := m.execute(ctx, "ListMessages", func() error {
		var apiErr error
		resp, apiErr = m.service.Users.Messages.List("me").
			Q(query).
			MaxResults(int64(max)).
			Context(ctx).
			Do()
		return apiErr
	})
	if err != nil {
		return nil, apperr.ExternalError("gmail", err)
	}

	if len(resp.Messages) == 0 {
		return nil, nil
	}

	// Parallel fetch with bounded concurrency.
	const maxConcurrency = 5
	type result struct {
		index int
		email *domain.InboundEmail
		err   error
	}

	results := make(chan result, len(resp.Messages))
	semaphore := make(chan struct{}, maxConcurrency)

	for i, ref := range resp.Messages {
		go func(idx int, msgID string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			email, err := m.getMessage(ctx, msgID)
			results <- result{index: idx, email: email, err: err}
		}(i, ref.Id)
	}

	ordered := make([]*domain.InboundEmail, len(resp.Messages))
	for range resp.Messages {
		r := <-results
		if r.err != nil {
			m.log.Warn("failed to fetch message: %v", r.err)
			continue
		}
		ordered[r.index] = r.email
	}

	emails := make([]domain.InboundEmail, 0, len(ordered))
	for _, e := range ordered {
		if e != nil {
			emails = append(emails, *e)
		}
	}

	sort.Slice(emails, func(i, j int) bool {
		return emails[i].Date.Before(emails[j].Date)
	})

	return emails, nil
}

// GetThread fetches the full conversation, oldest first, capped at
// maxMessages (newest kept).
func (m *Mailbox) GetThread(ctx context.Context, threadID string, maxMessages int) (*domain.Thread, error) {
	var resp *gmailapi.Thread
	err := m.execute(ctx, "GetThread", func() error {
		var apiErr error
		resp, apiErr = m.service.Users.Threads.Get("me", threadID).
			Format("full").
			Context(ctx).
			Do()
		return apiErr
	})
	if err != nil {
		return nil, apperr.ExternalError("gmail", err)
	}

	own := m.OwnAddresses()
	thread := &domain.Thread{ID: threadID, OwnResolved: m.Email() != ""}

	for _, msg := range resp.Messages {
		email := parseMessage(msg)
		thread.Messages = append(thread.Messages, domain.ThreadMessage{
			MessageID: email.MessageID,
			FromEmail: email.FromEmail,
			Date:      email.Date,
			Body:      email.Body,
			IsOwn:     isOwnAddress(email.FromEmail, own),
		})
	}

	sort.Slice(thread.Messages, func(i, j int) bool {
		return thread.Messages[i].Date.Before(thread.Messages[j].Date)
	})
	if maxMessages > 0 && len(thread.Messages) > maxMessages {
		thread.Messages = thread.Messages[len(thread.Messages)-maxMessages:]
	}

	if n := len(resp.Messages); n > 0 {
		thread.Latest = *parseMessage(resp.Messages[n-1])
	}

	return thread, nil
}

// SendReply sends a plain-text reply inside the thread, threading it
// via In-Reply-To and References.
func (m *Mailbox) SendReply(ctx context.Context, reply *domain.OutboundReply) (string, error) {
	raw := buildRawReply(m.email, reply)

	msg := &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		ThreadId: reply.ThreadID,
	}

	var sent *gmailapi.Message
	err := m.execute(ctx, "Send", func() error {
		var apiErr error
		sent, apiErr = m.service.Users.Messages.Send("me", msg).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return "", apperr.ExternalError("gmail", err)
	}

	for _, label := range reply.Labels {
		if err := m.AddLabel(ctx, sent.Id, label); err != nil {
			m.log.Warn("failed to label sent reply with %s: %v", label, err)
		}
	}

	return sent.Id, nil
}

// AddLabel adds a label (by name) to a message.
func (m *Mailbox) AddLabel(ctx context.Context, messageID, label string) error {
	id, err := m.labelID(ctx, label)
	if err != nil {
		return err
	}
	return m.modify(ctx, messageID, &gmailapi.ModifyMessageRequest{
		AddLabelIds: []string{id},
	})
}

// RemoveLabel removes a label (by name) from a message.
func (m *Mailbox) RemoveLabel(ctx context.Context, messageID, label string) error {
	id, err := m.labelID(ctx, label)
	if err != nil {
		return err
	}
	return m.modify(ctx, messageID, &gmailapi.ModifyMessageRequest{
		RemoveLabelIds: []string{id},
	})
}

// MarkRead clears the unread flag.
func (m *Mailbox) MarkRead(ctx context.Context, messageID string) error {
	return m.modify(ctx, messageID, &gmailapi.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	})
}

// EnsureLabels creates any missing labels and returns name -> id.
func (m *Mailbox) EnsureLabels(ctx context.Context, names []string) (map[string]string, error) {
	var resp *gmailapi.ListLabelsResponse
	err := m.execute(ctx, "ListLabels", func() error {
		var apiErr error
		resp, apiErr = m.service.Users.Labels.List("me").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, apperr.ExternalError("gmail", err)
	}

	existing := make(map[string]string, len(resp.Labels))
	for _, l := range resp.Labels {
		existing[l.Name] = l.Id
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if id, ok := existing[name]; ok {
			out[name] = id
			continue
		}

		var created *gmailapi.Label
		err := m.execute(ctx, "CreateLabel", func() error {
			var apiErr error
			created, apiErr = m.service.Users.Labels.Create("me", &gmailapi.Label{
				Name:                  name,
				LabelListVisibility:   "labelShow",
				MessageListVisibility: "show",
			}).Context(ctx).Do()
			return apiErr
		})
		if err != nil {
			return nil, apperr.ExternalError("gmail", err)
		}
		out[name] = created.Id
	}

	m.mu.Lock()
	for name, id := range out {
		m.labelIDs[name] = id
	}
	m.mu.Unlock()

	return out, nil
}

// GetAttachment downloads attachment bytes.
func (m *Mailbox) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	var body *gmailapi.MessagePartBody
	err := m.execute(ctx, "GetAttachment", func() error {
		var apiErr error
		body, apiErr = m.service.Users.Messages.Attachments.Get("me", messageID, attachmentID).
			Context(ctx).
			Do()
		return apiErr
	})
	if err != nil {
		return nil, apperr.ExternalError("gmail", err)
	}

	data, err := base64.URLEncoding.DecodeString(body.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment: %w", err)
	}
	return data, nil
}

// internals

func (m *Mailbox) getProfile(ctx context.Context) (*gmailapi.Profile, error) {
	var profile *gmailapi.Profile
	err := m.execute(ctx, "GetProfile", func() error {
		var apiErr error
		profile, apiErr = m.service.Users.GetProfile("me").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, apperr.ExternalError("gmail", err)
	}
	return profile, nil
}

func (m *Mailbox) getMessage(ctx context.Context, messageID string) (*domain.InboundEmail, error) {
	var msg *gmailapi.Message
	err := m.execute(ctx, "GetMessage", func() error {
		var apiErr error
		msg, apiErr = m.service.Users.Messages.Get("me", messageID).
			Format("full").
			Context(ctx).
			Do()
		return apiErr
	})
	if err != nil {
		return nil, apperr.ExternalError("gmail", err)
	}
	return parseMessage(msg), nil
}

func (m *Mailbox) modify(ctx context.Context, messageID string, req *gmailapi.ModifyMessageRequest) error {
	err := m.execute(ctx, "Modify", func() error {
		_, apiErr := m.service.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return apperr.ExternalError("gmail", err)
	}
	return nil
}

func (m *Mailbox) labelID(ctx context.Context, name string) (string, error) {
	m.mu.RLock()
	id, ok := m.labelIDs[name]
	m.mu.RUnlock()
	if ok {
		return id, nil
	}

	ids, err := m.EnsureLabels(ctx, []string{name})
	if err != nil {
		return "", err
	}
	return ids[name], nil
}

// execute wraps an API call with circuit breaker protection.
func (m *Mailbox) execute(ctx context.Context, operation string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	_, err := m.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	metrics.Observe("gmail:"+operation, time.Since(start))
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("gmail circuit open on %s: %w", operation, err)
	}
	return err
}

// message parsing

func parseMessage(msg *gmailapi.Message) *domain.InboundEmail {
	email := &domain.InboundEmail{
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
		Snippet:   msg.Snippet,
		Labels:    msg.LabelIds,
		Date:      time.Unix(msg.InternalDate/1000, 0),
	}

	for _, label := range msg.LabelIds {
		if label == "UNREAD" {
			email.IsUnread = true
		}
	}

	if msg.Payload == nil {
		return email
	}

	for _, header := range msg.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "from":
			email.FromName, email.FromEmail = parseAddress(header.Value)
		case "to":
			email.ToEmails = parseAddressList(header.Value)
		case "cc":
			email.CcEmails = parseAddressList(header.Value)
		case "subject":
			email.Subject = decodeHeader(header.Value)
		case "date":
			if t, err := mail.ParseDate(header.Value); err == nil {
				email.Date = t
			}
		case "auto-submitted":
			if !strings.EqualFold(header.Value, "no") {
				email.AutoSubmitted = true
			}
		case "precedence":
			v := strings.ToLower(header.Value)
			if v == "bulk" || v == "junk" || v == "list" || v == "auto_reply" {
				email.AutoSubmitted = true
			}
		case "x-auto-response-suppress":
			email.AutoSubmitted = true
		case "list-id", "list-unsubscribe":
			email.AutoSubmitted = true
		}
	}

	html, text := parseBody(msg.Payload)
	if text != "" {
		email.Body = text
	} else {
		email.Body = stripHTML(html)
	}

	email.Attachments = parseAttachments(msg.Payload)

	return email
}

func parseAddress(value string) (name, address string) {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return "", strings.ToLower(strings.TrimSpace(value))
	}
	return addr.Name, strings.ToLower(addr.Address)
}

func parseAddressList(value string) []string {
	if value == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(value)
	if err != nil {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.ToLower(strings.TrimSpace(p)))
		}
		return out
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, strings.ToLower(a.Address))
	}
	return out
}

func decodeHeader(value string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func parseBody(payload *gmailapi.MessagePart) (html, text string) {
	if payload == nil {
		return "", ""
	}

	if payload.MimeType == "text/html" && payload.Body != nil {
		data, _ := base64.URLEncoding.DecodeString(payload.Body.Data)
		html = string(data)
	}
	if payload.MimeType == "text/plain" && payload.Body != nil {
		data, _ := base64.URLEncoding.DecodeString(payload.Body.Data)
		text = string(data)
	}

	for _, part := range payload.Parts {
		h, t := parseBody(part)
		if html == "" && h != "" {
			html = h
		}
		if text == "" && t != "" {
			text = t
		}
	}

	return html, text
}

func parseAttachments(payload *gmailapi.MessagePart) []domain.Attachment {
	var attachments []domain.Attachment
	if payload == nil {
		return attachments
	}

	if payload.Filename != "" && payload.Body != nil && payload.Body.AttachmentId != "" {
		attachments = append(attachments, domain.Attachment{
			ID:       payload.Body.AttachmentId,
			Filename: payload.Filename,
			MimeType: payload.MimeType,
			Size:     payload.Body.Size,
		})
	}

	for _, part := range payload.Parts {
		attachments = append(attachments, parseAttachments(part)...)
	}

	return attachments
}

// stripHTML is a crude fallback for messages without a text/plain part.
func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isOwnAddress(addr string, own []string) bool {
	addr = strings.ToLower(addr)
	for _, o := range own {
		if addr == o {
			return true
		}
	}
	return false
}

func buildRawReply(from string, reply *domain.OutboundReply) string {
	var sb strings.Builder

	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + reply.To + "\r\n")
	subject := reply.Subject
	if subject != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	sb.WriteString("Subject: " + mime.QEncoding.Encode("UTF-8", subject) + "\r\n")
	if reply.InReplyTo != "" {
		sb.WriteString("In-Reply-To: " + reply.InReplyTo + "\r\n")
		sb.WriteString("References: " + reply.InReplyTo + "\r\n")
	}
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(reply.Body)

	return sb.String()
}

// Ensure Mailbox implements out.MailboxPort
var _ out.MailboxPort = (*Mailbox)(nil)
