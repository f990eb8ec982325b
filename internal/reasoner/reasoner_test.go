package reasoner

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/model"
)

type stubClient struct {
	response string
	err      error
}

func (s stubClient) Complete(context.Context, string) (string, error) {
	return s.response, s.err
}

func TestReasoner_FallsBackToTemplateOnLLMError(t *testing.T) {
	NewLLMStrategy(stubClient{err: errors.New("upstream unavailable")})
	r := New(BackendLLM, zap.NewNop())

	ticket := model.AdvisoryTicket{Category: model.CategoryMechanical, Pattern: "Pack-off"}
	rec := r.Recommend(context.Background(), ticket, model.VerificationResult{}, nil)
	if rec.Confidence != templateConfidence {
		t.Fatalf("expected template fallback confidence %v, got %v", templateConfidence, rec.Confidence)
	}
}

func TestReasoner_FallsBackOnUnparseableLLMResponse(t *testing.T) {
	NewLLMStrategy(stubClient{response: "not json at all"})
	r := New(BackendLLM, zap.NewNop())

	ticket := model.AdvisoryTicket{Category: model.CategoryHydraulic}
	rec := r.Recommend(context.Background(), ticket, model.VerificationResult{}, nil)
	if rec.Text == "" {
		t.Fatal("expected a non-empty fallback recommendation")
	}
}

func TestReasoner_UsesLLMWhenParseSucceeds(t *testing.T) {
	NewLLMStrategy(stubClient{response: `{"text": "reduce WOB", "confidence": 0.85, "reasoning": "signature matches prior"}`})
	r := New(BackendLLM, zap.NewNop())

	ticket := model.AdvisoryTicket{Category: model.CategoryMechanical}
	rec := r.Recommend(context.Background(), ticket, model.VerificationResult{}, nil)
	if rec.Text != "reduce WOB" {
		t.Fatalf("expected LLM recommendation text, got %q", rec.Text)
	}
}

func TestReasoner_NeverErrorsWithNoPreferredStrategy(t *testing.T) {
	r := New("", zap.NewNop())
	rec := r.Recommend(context.Background(), model.AdvisoryTicket{}, model.VerificationResult{}, nil)
	if rec.Text == "" {
		t.Fatal("expected default template recommendation")
	}
}
