package in

import (
	"context"

	"responder_server/core/domain"
)

// ProcessService is the inbound port driving the autoresponder.
type ProcessService interface {
	// RunOnce fetches a batch of unprocessed emails and handles each
	// one to a terminal outcome, within the run time budget.
	RunOnce(ctx context.Context) (*domain.RunReport, error)

	// ProcessEmail handles a single inbound email end to end.
	ProcessEmail(ctx context.Context, runID string, email domain.InboundEmail) domain.Outcome
}

// QuotaService exposes model availability and usage for ops endpoints.
type QuotaService interface {
	Snapshot(ctx context.Context) ([]domain.QuotaSnapshot, error)
	Availability(ctx context.Context, task string) ([]domain.ModelAvailability, error)
}
