package out

import "context"

// CompletionRequest is one call to a generative model.
type CompletionRequest struct {
	ModelName    string  `json:"model_name"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	UserPrompt   string  `json:"user_prompt"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	JSONMode     bool    `json:"json_mode"`
}

// CompletionResult carries the model output plus real token usage for
// quota accounting.
type CompletionResult struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
	PromptTokens int    `json:"prompt_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
}

// LLMPort is the outbound port for the generative model endpoint.
// Implementations classify failures into the apperr taxonomy so the
// caller can decide between retry, failover and hard stop.
type LLMPort interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
}

// OCRPort extracts text from an attachment image.
type OCRPort interface {
	ExtractText(ctx context.Context, mimeType string, data []byte) (string, error)
}
