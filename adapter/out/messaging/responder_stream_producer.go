// Package messaging provides message queue adapters.
package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"responder_server/core/domain"
	"responder_server/core/port/out"

	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamOutcomes = "responder:outcomes"
	StreamRuns     = "responder:runs"

	// XAdd trims streams to this length so an unattended deployment
	// does not grow Redis without bound.
	streamMaxLen = 10000
)

// RedisProducer implements out.EventPublisherPort using Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishOutcome publishes one processing outcome.
func (p *RedisProducer) PublishOutcome(ctx context.Context, runID string, outcome *domain.Outcome) error {
	payload := map[string]any{
		"run_id":      runID,
		"status":      string(outcome.Status),
		"thread_id":   outcome.ThreadID,
		"message_id":  outcome.MessageID,
		"category":    string(outcome.Category),
		"language":    string(outcome.Language),
		"model_used":  outcome.ModelUsed,
		"reason":      outcome.Reason,
		"duration_ms": outcome.Duration.Milliseconds(),
	}
	if outcome.Err != nil {
		payload["error"] = outcome.Err.Error()
	}
	return p.publish(ctx, StreamOutcomes, payload)
}

// PublishRunFinished publishes the summary of a finished batch run.
func (p *RedisProducer) PublishRunFinished(ctx context.Context, report *domain.RunReport) error {
	payload := map[string]any{
		"run_id":      report.RunID,
		"runner_id":   report.RunnerID,
		"started_at":  report.StartedAt,
		"finished_at": report.FinishedAt,
		"fetched":     report.Fetched,
		"counts":      report.Counts,
		"timed_out":   report.TimedOut,
	}
	if report.ErrorDetail != "" {
		payload["error_detail"] = report.ErrorDetail
	}
	return p.publish(ctx, StreamRuns, payload)
}

// publish appends an event to a stream using go-redis.
func (p *RedisProducer) publish(ctx context.Context, stream string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}

// Ensure RedisProducer implements out.EventPublisherPort
var _ out.EventPublisherPort = (*RedisProducer)(nil)
