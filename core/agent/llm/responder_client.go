// Package llm talks to the Gemini models through their
// OpenAI-compatible endpoint. It owns retry with backoff, failover to
// the backup API key, circuit breaking, and the mapping of endpoint
// failures into the application error taxonomy.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"responder_server/config"
	"responder_server/core/port/out"
	"responder_server/pkg/apperr"
	"responder_server/pkg/logger"
	"responder_server/pkg/metrics"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

const (
	maxAttempts      = 3
	retryBaseDelay   = 2 * time.Second
	retryDelayFactor = 1.5
)

type Client struct {
	primary *openai.Client
	backup  *openai.Client
	breaker *gobreaker.CircuitBreaker
	cfg     *config.Config
	log     *logger.Logger
	sleep   func(time.Duration)
}

func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	c := &Client{
		primary: newEndpointClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL),
		cfg:     cfg,
		log:     log,
		sleep:   time.Sleep,
	}
	if cfg.GeminiBackupAPIKey != "" {
		c.backup = newEndpointClient(cfg.GeminiBackupAPIKey, cfg.GeminiBaseURL)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state change")
		},
	})
	return c
}

func newEndpointClient(apiKey, baseURL string) *openai.Client {
	conf := openai.DefaultConfig(apiKey)
	conf.BaseURL = baseURL
	return openai.NewClientWithConfig(conf)
}

// Complete sends one chat completion, retrying transient failures and
// failing over to the backup key when the primary key's quota is gone.
func (c *Client) Complete(ctx context.Context, req *out.CompletionRequest) (*out.CompletionResult, error) {
	delay := retryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := c.completeOnce(ctx, c.primary, req)
		if err == nil {
			return res, nil
		}
		lastErr = err

		switch {
		case apperr.IsCode(err, apperr.CodeRateLimited) && c.backup != nil:
			c.log.WithField("model", req.ModelName).Warn("primary key throttled, trying backup key")
			res, berr := c.completeOnce(ctx, c.backup, req)
			if berr == nil {
				return res, nil
			}
			lastErr = berr
		case !apperr.Retryable(err):
			return nil, err
		}

		if attempt < maxAttempts {
			c.log.WithError(lastErr).WithFields(map[string]interface{}{
				"model":   req.ModelName,
				"attempt": attempt,
			}).Warn("model call failed, retrying")
			select {
			case <-ctx.Done():
				return nil, apperr.Timeout("llm completion").WithError(ctx.Err())
			default:
			}
			c.sleep(delay)
			delay = time.Duration(float64(delay) * retryDelayFactor)
		}
	}
	return nil, lastErr
}

func (c *Client) completeOnce(ctx context.Context, cl *openai.Client, req *out.CompletionRequest) (*out.CompletionResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	apiReq := openai.ChatCompletionRequest{
		Model:       req.ModelName,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	timeout := time.Duration(c.cfg.LLMTimeoutSec) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := cl.CreateChatCompletion(callCtx, apiReq)
		if err != nil {
			return nil, ClassifyError(err, req.ModelName)
		}
		return resp, nil
	})
	metrics.Observe("llm:"+req.ModelName, time.Since(start))
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperr.NetworkError("llm", err)
		}
		return nil, err
	}

	resp := raw.(openai.ChatCompletionResponse)
	if len(resp.Choices) == 0 {
		return nil, apperr.InvalidResponse("model returned no choices")
	}

	choice := resp.Choices[0]
	finish := strings.ToUpper(string(choice.FinishReason))
	switch finish {
	case "SAFETY", "RECITATION", "BLOCKLIST", "OTHER":
		return nil, apperr.ContentBlocked(finish)
	}

	return &out.CompletionResult{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// ClassifyError maps endpoint failures to the app error taxonomy.
// Credential and argument problems are fatal, throttling is
// retryable-with-failover, everything transport-ish is retryable.
func ClassifyError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.HTTPStatusCode == 429,
			strings.Contains(msg, "rate limit"),
			strings.Contains(msg, "quota"),
			strings.Contains(msg, "resource_exhausted"):
			return apperr.RateLimited(apiErr.Message)
		case apiErr.HTTPStatusCode == 400 && strings.Contains(msg, "token"):
			return apperr.PromptTooLarge(model)
		case apiErr.HTTPStatusCode == 400,
			strings.Contains(msg, "invalid_argument"):
			return apperr.BadRequest(apiErr.Message)
		case apiErr.HTTPStatusCode == 401, apiErr.HTTPStatusCode == 403,
			strings.Contains(msg, "permission_denied"),
			strings.Contains(msg, "unauthenticated"):
			return apperr.InvalidCredential("llm", err)
		case apiErr.HTTPStatusCode >= 500:
			return apperr.NetworkError("llm", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout("llm completion")
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "econnreset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "eof"):
		return apperr.NetworkError("llm", err)
	}
	return apperr.ExternalError("llm", err)
}
