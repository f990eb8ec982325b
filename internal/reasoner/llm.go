package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/model"
)

// Client is the injected collaborator for the LLM-backed strategy. The
// real implementation (an HTTP client against a hosted model) is an
// external collaborator; this package only owns the prompt construction
// and response parsing.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// llmResponse is the structured shape the LLM is asked to return.
type llmResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type llmStrategy struct {
	client Client
}

// NewLLMStrategy registers an LLM-backed strategy against client. Call
// once at startup when an LLM client is configured; if none is
// configured, simply don't call this and the reasoner falls back to
// "template" for every ticket.
func NewLLMStrategy(client Client) {
	Register(&llmStrategy{client: client})
}

func (llmStrategy) Name() string { return BackendLLM }

func (s *llmStrategy) Recommend(ctx context.Context, ticket model.AdvisoryTicket, verification model.VerificationResult, precedent []model.FleetEpisode) (model.Recommendation, error) {
	if s.client == nil {
		return model.Recommendation{}, errs.New(errs.KindReasonerFailure, "no LLM client configured")
	}

	prompt := buildPrompt(ticket, verification, precedent)
	raw, err := s.client.Complete(ctx, prompt)
	if err != nil {
		return model.Recommendation{}, errs.Wrap(errs.KindReasonerFailure, "LLM completion failed", err)
	}

	var parsed llmResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return model.Recommendation{}, errs.Wrap(errs.KindReasonerFailure, "LLM response did not parse as structured recommendation", err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return model.Recommendation{}, errs.New(errs.KindReasonerFailure, "LLM response missing recommendation text")
	}

	return model.Recommendation{
		Text:       parsed.Text,
		Confidence: clampConfidence(parsed.Confidence),
		Reasoning:  parsed.Reasoning,
	}, nil
}

// buildPrompt assembles a structured prompt with explicit sections: the
// current physics snapshot, the verification reason, the fleet precedent
// summary, and causal leads.
func buildPrompt(ticket model.AdvisoryTicket, verification model.VerificationResult, precedent []model.FleetEpisode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Physics snapshot\npattern: %s\ncategory: %s\nseverity: %s\n", ticket.Pattern, ticket.Category, ticket.Severity)
	fmt.Fprintf(&b, "mse: %.1f\nefficiency_ratio: %.2f\necd: %.3f\nflow_balance: %.1f\n",
		ticket.Metrics.MechanicalSpecificEnergy, ticket.Metrics.EfficiencyRatio, ticket.Metrics.EquivalentCirculatingDensity, ticket.Metrics.FlowBalance)

	fmt.Fprintf(&b, "\n## Verification\nstatus: %s\nreason: %s\n", verification.Status, verification.Reason)

	fmt.Fprintf(&b, "\n## Fleet precedent\n")
	if len(precedent) == 0 {
		b.WriteString("no matching precedent found\n")
	}
	for _, e := range precedent {
		fmt.Fprintf(&b, "- %s outcome=%s score=%.2f notes=%q\n", e.ID, e.Outcome, e.Score, e.ResolutionNotes)
	}

	fmt.Fprintf(&b, "\n## Causal leads\n")
	if len(ticket.CausalLeads) == 0 {
		b.WriteString("none detected\n")
	}
	for _, l := range ticket.CausalLeads {
		fmt.Fprintf(&b, "- %s lag=%ds r=%.2f direction=%s\n", l.Parameter, l.LagSeconds, l.Correlation, l.Direction)
	}

	b.WriteString("\nRespond with a JSON object: {\"text\": string, \"confidence\": number 0-1, \"reasoning\": string}.\n")
	return b.String()
}

// extractJSON trims any leading/trailing prose around a {...} block, in
// case the model didn't return bare JSON.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
