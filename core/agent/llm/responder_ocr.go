package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"responder_server/config"
	"responder_server/core/port/out"
	"responder_server/core/service/quota"
	"responder_server/pkg/apperr"

	openai "github.com/sashabaranov/go-openai"
)

const ocrPrompt = `Trascrivi tutto il testo leggibile in questa immagine.
Riporta solo il testo, senza commenti. Se non c'è testo rispondi con una stringa vuota.`

// CompleteVision sends a prompt plus one inline image to the endpoint.
func (c *Client) CompleteVision(ctx context.Context, req *out.CompletionRequest, mimeType string, data []byte) (*out.CompletionResult, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	apiReq := openai.ChatCompletionRequest{
		Model:     req.ModelName,
		MaxTokens: req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: req.UserPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		},
	}

	resp, err := c.primary.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, ClassifyError(err, req.ModelName)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.InvalidResponse("model returned no choices")
	}
	return &out.CompletionResult{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

type visionCompleter interface {
	CompleteVision(ctx context.Context, req *out.CompletionRequest, mimeType string, data []byte) (*out.CompletionResult, error)
}

// ExtractText runs OCR over an attachment through the vision endpoint,
// booked against the quick-check quota chain.
func (a *Agent) ExtractText(ctx context.Context, mimeType string, data []byte) (string, error) {
	vc, ok := a.llm.(visionCompleter)
	if !ok {
		return "", apperr.Internal("configured model client has no vision support")
	}

	est := quota.EstimateTokens(ocrPrompt) + len(data)/2000
	modelKey, err := a.limiter.SelectModel(ctx, config.TaskQuickCheck, est)
	if err != nil {
		return "", err
	}

	res, err := vc.CompleteVision(ctx, &out.CompletionRequest{
		ModelName:  a.cfg.Models[modelKey].Name,
		UserPrompt: ocrPrompt,
		MaxTokens:  2000,
	}, mimeType, data)
	if err != nil {
		return "", err
	}
	if rerr := a.limiter.Record(ctx, modelKey, res.TotalTokens); rerr != nil {
		a.log.WithError(rerr).Warn("quota record failed")
	}
	return strings.TrimSpace(res.Text), nil
}
