package mongodb

import (
	"context"
	"fmt"
	"time"

	"responder_server/core/domain"
	"responder_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionRuns = "run_reports"

	// Reports expire after 90 days via the TTL index.
	runReportRetention = 90 * 24 * time.Hour
)

// RunReportAdapter implements out.ReportRepositoryPort using MongoDB.
type RunReportAdapter struct {
	collection *mongo.Collection
}

// NewRunReportAdapter creates a new MongoDB run report adapter.
func NewRunReportAdapter(db *mongo.Database) *RunReportAdapter {
	return &RunReportAdapter{collection: db.Collection(collectionRuns)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *RunReportAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "started_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// outcomeDocument flattens one processing outcome for storage. The
// error is stored as text since it does not survive serialization.
type outcomeDocument struct {
	Status     string `bson:"status"`
	ThreadID   string `bson:"thread_id"`
	MessageID  string `bson:"message_id"`
	Category   string `bson:"category,omitempty"`
	Language   string `bson:"language,omitempty"`
	ModelUsed  string `bson:"model_used,omitempty"`
	Reason     string `bson:"reason,omitempty"`
	DurationMs int64  `bson:"duration_ms"`
	Error      string `bson:"error,omitempty"`
}

// runDocument represents the MongoDB document structure.
type runDocument struct {
	RunID       string                 `bson:"run_id"`
	RunnerID    string                 `bson:"runner_id"`
	StartedAt   time.Time              `bson:"started_at"`
	FinishedAt  time.Time              `bson:"finished_at"`
	Fetched     int                    `bson:"fetched"`
	Outcomes    []outcomeDocument      `bson:"outcomes"`
	Counts      map[string]int         `bson:"counts"`
	QuotaState  []domain.QuotaSnapshot `bson:"quota_state,omitempty"`
	TimedOut    bool                   `bson:"timed_out"`
	ErrorDetail string                 `bson:"error_detail,omitempty"`
	ExpiresAt   time.Time              `bson:"expires_at"`
}

// SaveRun upserts the report keyed by run ID.
func (a *RunReportAdapter) SaveRun(ctx context.Context, report *domain.RunReport) error {
	doc := toDocument(report)

	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"run_id": report.RunID}

	if _, err := a.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save run report: %w", err)
	}
	return nil
}

// RecentRuns returns the latest reports, newest first.
func (a *RunReportAdapter) RecentRuns(ctx context.Context, limit int) ([]*domain.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list run reports: %w", err)
	}
	defer cursor.Close(ctx)

	var reports []*domain.RunReport
	for cursor.Next(ctx) {
		var doc runDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode run report: %w", err)
		}
		reports = append(reports, toReport(&doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run reports: %w", err)
	}

	return reports, nil
}

func toDocument(report *domain.RunReport) *runDocument {
	outcomes := make([]outcomeDocument, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		doc := outcomeDocument{
			Status:     string(o.Status),
			ThreadID:   o.ThreadID,
			MessageID:  o.MessageID,
			Category:   string(o.Category),
			Language:   string(o.Language),
			ModelUsed:  o.ModelUsed,
			Reason:     o.Reason,
			DurationMs: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			doc.Error = o.Err.Error()
		}
		outcomes = append(outcomes, doc)
	}

	return &runDocument{
		RunID:       report.RunID,
		RunnerID:    report.RunnerID,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		Fetched:     report.Fetched,
		Outcomes:    outcomes,
		Counts:      report.Counts,
		QuotaState:  report.QuotaState,
		TimedOut:    report.TimedOut,
		ErrorDetail: report.ErrorDetail,
		ExpiresAt:   report.FinishedAt.Add(runReportRetention),
	}
}

func toReport(doc *runDocument) *domain.RunReport {
	outcomes := make([]domain.Outcome, 0, len(doc.Outcomes))
	for _, o := range doc.Outcomes {
		out := domain.Outcome{
			Status:    domain.OutcomeStatus(o.Status),
			ThreadID:  o.ThreadID,
			MessageID: o.MessageID,
			Category:  domain.Category(o.Category),
			Language:  domain.Language(o.Language),
			ModelUsed: o.ModelUsed,
			Reason:    o.Reason,
			Duration:  time.Duration(o.DurationMs) * time.Millisecond,
		}
		if o.Error != "" {
			out.Err = fmt.Errorf("%s", o.Error)
		}
		outcomes = append(outcomes, out)
	}

	return &domain.RunReport{
		RunID:       doc.RunID,
		RunnerID:    doc.RunnerID,
		StartedAt:   doc.StartedAt,
		FinishedAt:  doc.FinishedAt,
		Fetched:     doc.Fetched,
		Outcomes:    outcomes,
		Counts:      doc.Counts,
		QuotaState:  doc.QuotaState,
		TimedOut:    doc.TimedOut,
		ErrorDetail: doc.ErrorDetail,
	}
}

var _ out.ReportRepositoryPort = (*RunReportAdapter)(nil)
