package llm

import (
	"context"
	"fmt"
	"strings"

	"responder_server/config"
	"responder_server/core/domain"
	"responder_server/core/port/out"
	"responder_server/core/service/quota"
	"responder_server/pkg/logger"
)

// Agent binds the model client to the quota limiter: every call first
// asks the limiter for an available model for the task, then books the
// real token usage back.
type Agent struct {
	llm     out.LLMPort
	limiter *quota.Limiter
	cfg     *config.Config
	log     *logger.Logger
}

func NewAgent(llm out.LLMPort, limiter *quota.Limiter, cfg *config.Config, log *logger.Logger) *Agent {
	return &Agent{llm: llm, limiter: limiter, cfg: cfg, log: log}
}

const quickCheckSystem = `Sei l'assistente della segreteria di una parrocchia italiana.
Valuta l'email ricevuta e rispondi SOLO con un oggetto JSON:
{"reply_needed": bool, "language": "it|en|es", "category": "appointment|information|sacrament|collaboration|complaint|quotation|sbattezzo|other", "dimensions": {"technical": 0.0, "pastoral": 0.0, "doctrinal": 0.0, "formal": 0.0}, "topic": "argomento principale", "confidence": 0.0, "reason": "breve motivo", "exotic": bool}
"exotic" è true solo se il contenuto è del tutto estraneo a una parrocchia (spam, truffe, temi impropri).
Le dimensioni sono valori tra 0 e 1.`

type quickCheckPayload struct {
	ReplyNeeded bool    `json:"reply_needed"`
	Language    string  `json:"language"`
	Category    string  `json:"category"`
	Dimensions  struct {
		Technical float64 `json:"technical"`
		Pastoral  float64 `json:"pastoral"`
		Doctrinal float64 `json:"doctrinal"`
		Formal    float64 `json:"formal"`
	} `json:"dimensions"`
	Topic      string  `json:"topic"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Exotic     bool    `json:"exotic"`
}

// QuickCheck asks the cheapest available model whether the email needs
// an answer and how it reads. Returns nil without error when no model
// is available or the output is unusable: the caller falls back to the
// local verdict.
func (a *Agent) QuickCheck(ctx context.Context, subject, content string) (*domain.QuickCheck, string, error) {
	prompt := fmt.Sprintf("Oggetto: %s\n\nTesto:\n%s", subject, truncate(content, 4000))
	est := quota.EstimateTokens(quickCheckSystem + prompt)

	modelKey, err := a.limiter.SelectModel(ctx, config.TaskQuickCheck, est)
	if err != nil {
		return nil, "", err
	}

	res, err := a.llm.Complete(ctx, &out.CompletionRequest{
		ModelName:    a.cfg.Models[modelKey].Name,
		SystemPrompt: quickCheckSystem,
		UserPrompt:   prompt,
		Temperature:  0.1,
		MaxTokens:    500,
		JSONMode:     true,
	})
	if err != nil {
		return nil, modelKey, err
	}
	if rerr := a.limiter.Record(ctx, modelKey, res.TotalTokens); rerr != nil {
		a.log.WithError(rerr).Warn("quota record failed")
	}

	var payload quickCheckPayload
	if err := DecodeLenient(res.Text, &payload); err != nil {
		a.log.WithError(err).WithField("model", modelKey).Warn("quick check output unusable")
		return nil, modelKey, nil
	}

	qc := &domain.QuickCheck{
		ReplyNeeded: payload.ReplyNeeded,
		Language:    domain.ParseLanguage(payload.Language),
		Category:    domain.ParseCategory(payload.Category),
		Dimensions: domain.Dimensions{
			Technical: clamp01(payload.Dimensions.Technical),
			Pastoral:  clamp01(payload.Dimensions.Pastoral),
			Doctrinal: clamp01(payload.Dimensions.Doctrinal),
			Formal:    clamp01(payload.Dimensions.Formal),
		},
		Topic:      strings.TrimSpace(payload.Topic),
		Confidence: clamp01(payload.Confidence),
		Reason:     payload.Reason,
		Exotic:     payload.Exotic,
	}
	return qc, modelKey, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
