// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"

	"responder_server/core/domain"
)

// MailboxPort is the outbound port for the mail provider.
type MailboxPort interface {
	// ListUnprocessed returns unread inbox messages that do not yet
	// carry the processed label, oldest first, up to max.
	ListUnprocessed(ctx context.Context, max int) ([]domain.InboundEmail, error)

	// GetThread fetches the full conversation of a message.
	GetThread(ctx context.Context, threadID string, maxMessages int) (*domain.Thread, error)

	// SendReply sends a reply inside an existing thread.
	SendReply(ctx context.Context, reply *domain.OutboundReply) (messageID string, err error)

	// AddLabel and RemoveLabel manage processing state labels.
	AddLabel(ctx context.Context, messageID, label string) error
	RemoveLabel(ctx context.Context, messageID, label string) error

	// MarkRead clears the unread flag.
	MarkRead(ctx context.Context, messageID string) error

	// EnsureLabels creates any missing labels and returns name -> id.
	EnsureLabels(ctx context.Context, names []string) (map[string]string, error)

	// GetAttachment downloads attachment bytes for OCR.
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}
