package out

import (
	"context"

	"responder_server/core/domain"
)

// EventPublisherPort emits processing events to the message stream for
// downstream consumers (dashboards, alerting).
type EventPublisherPort interface {
	PublishOutcome(ctx context.Context, runID string, outcome *domain.Outcome) error
	PublishRunFinished(ctx context.Context, report *domain.RunReport) error
}
