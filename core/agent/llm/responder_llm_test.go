package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"responder_server/config"
	"responder_server/core/domain"
	"responder_server/core/port/out"
	"responder_server/core/service/quota"
	"responder_server/pkg/apperr"
	"responder_server/pkg/logger"

	openai "github.com/sashabaranov/go-openai"
)

func TestDecodeLenient(t *testing.T) {
	type payload struct {
		ReplyNeeded bool   `json:"reply_needed"`
		Category    string `json:"category"`
	}
	tests := []struct {
		name    string
		text    string
		want    payload
		wantErr bool
	}{
		{
			"clean json",
			`{"reply_needed": true, "category": "information"}`,
			payload{true, "information"},
			false,
		},
		{
			"fenced json",
			"```json\n{\"reply_needed\": true, \"category\": \"sacrament\"}\n```",
			payload{true, "sacrament"},
			false,
		},
		{
			"prose around braces",
			"Ecco la valutazione richiesta: {\"reply_needed\": false, \"category\": \"other\"} spero sia utile",
			payload{false, "other"},
			false,
		},
		{
			"bare keys repaired",
			`{reply_needed: true, category: "appointment"}`,
			payload{true, "appointment"},
			false,
		},
		{
			"no json at all",
			"mi dispiace, non posso valutare questa email",
			payload{},
			true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got payload
			err := DecodeLenient(tc.text, &got)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeLenient: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"http 429", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, apperr.CodeRateLimited},
		{"quota message", &openai.APIError{HTTPStatusCode: 403, Message: "quota exceeded for project"}, apperr.CodeRateLimited},
		{"resource exhausted", &openai.APIError{HTTPStatusCode: 400, Message: "RESOURCE_EXHAUSTED: try later"}, apperr.CodeRateLimited},
		{"prompt too large", &openai.APIError{HTTPStatusCode: 400, Message: "input token count exceeds limit"}, apperr.CodePromptTooLarge},
		{"invalid argument", &openai.APIError{HTTPStatusCode: 400, Message: "INVALID_ARGUMENT: bad request"}, apperr.CodeBadRequest},
		{"unauthenticated", &openai.APIError{HTTPStatusCode: 401, Message: "UNAUTHENTICATED"}, apperr.CodeInvalidCredential},
		{"permission denied", &openai.APIError{HTTPStatusCode: 403, Message: "PERMISSION_DENIED"}, apperr.CodeInvalidCredential},
		{"server error", &openai.APIError{HTTPStatusCode: 503, Message: "unavailable"}, apperr.CodeNetworkError},
		{"deadline", context.DeadlineExceeded, apperr.CodeTimeout},
		{"conn reset", errors.New("read tcp: connection reset by peer"), apperr.CodeNetworkError},
		{"unknown", errors.New("something odd"), apperr.CodeExternalError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyError(tc.err, "gemini-2.5-flash")
			if !apperr.IsCode(got, tc.code) {
				t.Errorf("code = %v, want %s", got, tc.code)
			}
		})
	}
}

func TestRetryableClassification(t *testing.T) {
	if apperr.Retryable(apperr.ContentBlocked("SAFETY")) {
		t.Error("blocked content must not be retried")
	}
	if apperr.Retryable(apperr.InvalidCredential("llm", nil)) {
		t.Error("credential failures must not be retried")
	}
	if !apperr.Retryable(apperr.NetworkError("llm", errors.New("x"))) {
		t.Error("network failures should be retryable")
	}
}

// fakeLLM scripts responses per call.
type fakeLLM struct {
	responses []*out.CompletionResult
	errs      []error
	calls     int
	lastReq   *out.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req *out.CompletionRequest) (*out.CompletionResult, error) {
	f.lastReq = req
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return &out.CompletionResult{Text: "", TotalTokens: 10}, nil
}

type nullQuotaStore struct{}

func (nullQuotaStore) LoadWindow(context.Context, string) (*domain.QuotaWindow, error) {
	return nil, nil
}
func (nullQuotaStore) SaveWindows(context.Context, []*domain.QuotaWindow, time.Duration) error {
	return nil
}
func (nullQuotaStore) AcquireDailyReset(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func newTestAgent(t *testing.T, fake *fakeLLM) *Agent {
	t.Helper()
	cfg := &config.Config{
		QuotaTimezone:      "America/Los_Angeles",
		QuotaFlushInterval: 10 * time.Second,
		QuotaWindowCap:     100,
		Models:             config.DefaultModels(),
		Strategy:           config.DefaultStrategy(),
		Temperature:        0.5,
		MaxOutputTokens:    6000,
		MaxHistory:         10,
	}
	log := logger.New(logger.Config{Level: logger.LevelError, Output: io.Discard, Service: "test"})
	limiter, err := quota.NewLimiter(cfg, nullQuotaStore{}, log)
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	return NewAgent(fake, limiter, cfg, log)
}

func TestQuickCheckParsesVerdict(t *testing.T) {
	fake := &fakeLLM{responses: []*out.CompletionResult{{
		Text:        `{"reply_needed": true, "language": "it", "category": "sacrament", "dimensions": {"technical": 0.2, "pastoral": 0.7, "doctrinal": 0.1, "formal": 0.0}, "topic": "battesimo", "confidence": 0.9, "reason": "richiesta battesimo"}`,
		TotalTokens: 120,
	}}}
	a := newTestAgent(t, fake)

	qc, modelKey, err := a.QuickCheck(context.Background(), "Battesimo", "Vorrei battezzare mio figlio")
	if err != nil {
		t.Fatalf("QuickCheck: %v", err)
	}
	if modelKey != config.ModelFlashLite {
		t.Errorf("model = %q, want quick-check chain head", modelKey)
	}
	if qc == nil || !qc.ReplyNeeded || qc.Category != domain.CategorySacrament {
		t.Errorf("verdict = %+v", qc)
	}
	if qc.Dimensions.Pastoral != 0.7 {
		t.Errorf("pastoral = %v, want 0.7", qc.Dimensions.Pastoral)
	}
	if !fake.lastReq.JSONMode {
		t.Error("quick check should request JSON mode")
	}
}

func TestQuickCheckUnusableOutputReturnsNilVerdict(t *testing.T) {
	fake := &fakeLLM{responses: []*out.CompletionResult{{
		Text: "non sono in grado di valutare", TotalTokens: 20,
	}}}
	a := newTestAgent(t, fake)

	qc, _, err := a.QuickCheck(context.Background(), "x", "y")
	if err != nil {
		t.Fatalf("QuickCheck: %v", err)
	}
	if qc != nil {
		t.Errorf("verdict = %+v, want nil for local fallback", qc)
	}
}

func TestGenerateReplyUsesGenerationChain(t *testing.T) {
	fake := &fakeLLM{responses: []*out.CompletionResult{{
		Text: "Gentile parrocchiano,\n\nle messe sono alle 9.\n\nCordiali saluti", TotalTokens: 300,
	}}}
	a := newTestAgent(t, fake)

	text, modelKey, err := a.GenerateReply(context.Background(), GenerationInput{
		Subject:  "Orari",
		Content:  "A che ora sono le messe?",
		Language: domain.LangItalian,
		Category: domain.CategoryInformation,
		Season:   "invernale",
	})
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if modelKey != config.ModelFlash25 {
		t.Errorf("model = %q, want generation chain head", modelKey)
	}
	if text == "" {
		t.Error("empty reply")
	}
	if fake.lastReq.Temperature != 0.5 || fake.lastReq.MaxTokens != 6000 {
		t.Errorf("req = %+v, want configured temperature and budget", fake.lastReq)
	}
}

func TestSummarizeExchangeFallsBackLocally(t *testing.T) {
	fake := &fakeLLM{errs: []error{apperr.NetworkError("llm", errors.New("down"))}}
	a := newTestAgent(t, fake)

	got := a.SummarizeExchange(context.Background(), "Vorrei sapere gli orari delle messe\naltra riga", "risposta")
	if got != "Vorrei sapere gli orari delle messe" {
		t.Errorf("fallback summary = %q", got)
	}
}
