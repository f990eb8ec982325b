// Package reasoner turns a verified ticket into a recommendation. It
// registers named recommendation strategies (llm, template) behind a
// common interface, grounded on the registered-scorer plugin idiom from
// the teacher's scoring contrib package, generalized here from
// "registered anomaly scorers" to "registered recommendation
// strategies". The reasoner itself never returns an error — callers
// always get at least a template recommendation.
package reasoner

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/model"
)

// Strategy produces a Recommendation for a verified ticket. Implementations
// must be safe to call repeatedly and must not block indefinitely — the
// LLM-backed strategy is expected to respect ctx's deadline.
type Strategy interface {
	Name() string
	Recommend(ctx context.Context, ticket model.AdvisoryTicket, verification model.VerificationResult, precedent []model.FleetEpisode) (model.Recommendation, error)
}

var (
	registryMu sync.Mutex
	registry   = map[string]Strategy{}
)

// Register adds a named strategy to the registry. Intended to be called
// from init() in strategy implementation files.
func Register(s Strategy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Name()] = s
}

func lookup(name string) (Strategy, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	s, ok := registry[name]
	return s, ok
}

// Reasoner resolves a preferred strategy with a guaranteed template
// fallback.
type Reasoner struct {
	preferred string
	log       *zap.Logger
}

// New builds a Reasoner preferring the named strategy (e.g. "llm") and
// falling back to "template" on any failure or parse error.
func New(preferred string, log *zap.Logger) *Reasoner {
	if _, ok := lookup(BackendTemplate); !ok {
		Register(newTemplateStrategy())
	}
	return &Reasoner{preferred: preferred, log: log}
}

const (
	BackendLLM      = "llm"
	BackendTemplate = "template"
)

// Preferred returns the configured preferred strategy name, for health
// reporting.
func (r *Reasoner) Preferred() string { return r.preferred }

// Recommend never returns an error: any preferred-strategy failure is
// logged and silently downgraded to the template strategy.
func (r *Reasoner) Recommend(ctx context.Context, ticket model.AdvisoryTicket, verification model.VerificationResult, precedent []model.FleetEpisode) model.Recommendation {
	if r.preferred != "" && r.preferred != BackendTemplate {
		if strat, ok := lookup(r.preferred); ok {
			rec, err := strat.Recommend(ctx, ticket, verification, precedent)
			if err == nil {
				return rec
			}
			if r.log != nil {
				r.log.Warn("reasoner strategy failed, downgrading to template",
					zap.String("strategy", r.preferred), zap.Error(err))
			}
		}
	}

	template, _ := lookup(BackendTemplate)
	rec, _ := template.Recommend(ctx, ticket, verification, precedent)
	return rec
}
