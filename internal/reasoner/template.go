package reasoner

import (
	"context"
	"fmt"
	"strings"

	"github.com/sairen/sairen-os/internal/model"
)

const templateConfidence = 0.70

// templateStrategy fills per-category format strings from the ticket.
// Always available, never fails — this is the reasoner's guaranteed
// fallback.
type templateStrategy struct {
	formats map[model.Category]string
}

func newTemplateStrategy() *templateStrategy {
	return &templateStrategy{
		formats: map[model.Category]string{
			model.CategoryWellControl: "Well control signature detected (%s). Shut in per well control procedure; monitor flow and pit volume closely.",
			model.CategoryMechanical:  "Mechanical dysfunction detected (%s). Reduce WOB 20-25%%, adjust rotary speed, and monitor torque trend.",
			model.CategoryHydraulic:   "Hydraulic anomaly detected (%s). Review mud properties and circulation rate against plan.",
			model.CategoryFormation:  "Formation-related signature detected (%s). Review offset well data and adjust mud weight as needed.",
			model.CategoryEfficiency: "Drilling efficiency below target (%s). Review parameters against the optimum curve for this formation.",
		},
	}
}

func (templateStrategy) Name() string { return BackendTemplate }

func (t *templateStrategy) Recommend(_ context.Context, ticket model.AdvisoryTicket, verification model.VerificationResult, _ []model.FleetEpisode) (model.Recommendation, error) {
	format, ok := t.formats[ticket.Category]
	if !ok {
		format = "Anomalous drilling signature detected (%s). Review current parameters against baseline."
	}
	text := fmt.Sprintf(format, ticket.Pattern)

	reasoning := verification.Reason
	if len(ticket.CausalLeads) > 0 {
		reasoning = strings.TrimSpace(reasoning + " " + causalSentence(ticket.CausalLeads))
	}

	return model.Recommendation{
		Text:       text,
		Confidence: templateConfidence,
		Reasoning:  reasoning,
	}, nil
}

func causalSentence(leads []model.CausalLead) string {
	lead := leads[0]
	return fmt.Sprintf("Causal analysis: %s leads the efficiency signal by %ds (r=%.2f).", lead.Parameter, lead.LagSeconds, lead.Correlation)
}
