// Package composer maps a verified, voted ticket into a published
// Advisory. Grounded on the teacher's TimeInState/monotonic-time
// tracking in its escalation state machine, reused here for the
// critical-cooldown timer — generalized from one process-wide timer to
// one timer per advisory category.
package composer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/invariant"
	"github.com/sairen/sairen-os/internal/model"
)

// BenefitEstimator produces the category-specific expected-benefit
// heuristic string over a ticket's metrics. Pluggable so that different
// wells/campaigns can swap in tuned heuristics without touching the
// composer itself.
type BenefitEstimator interface {
	Estimate(category model.Category, m model.DrillingMetrics) string
}

// Composer assembles advisories and enforces the critical cooldown.
type Composer struct {
	mu             sync.Mutex
	well           config.Well
	cooldown       time.Duration
	lastCritical   map[model.Category]time.Time
	lastBreaches   map[model.Category]map[string]bool
	estimator      BenefitEstimator
	latest         *model.Advisory
	onPublish      func(model.Advisory)
	ledger         *invariant.Ledger
}

// WithLedger attaches an audit ledger that records every critical-
// cooldown downgrade. Optional — a nil ledger (the zero value) means
// Compose simply skips auditing.
func (c *Composer) WithLedger(l *invariant.Ledger) *Composer {
	c.ledger = l
	return c
}

// New builds a Composer. onPublish is called synchronously for every
// emitted advisory — the pipeline coordinator wires it to the persistent
// log writer and the upload-queue enqueue.
func New(well config.Well, cooldown config.Cooldown, estimator BenefitEstimator, onPublish func(model.Advisory)) *Composer {
	if estimator == nil {
		estimator = DefaultEstimator{}
	}
	return &Composer{
		well:         well,
		cooldown:     time.Duration(cooldown.CriticalSeconds) * time.Second,
		lastCritical: make(map[model.Category]time.Time),
		lastBreaches: make(map[model.Category]map[string]bool),
		estimator:    estimator,
		onPublish:    onPublish,
	}
}

// Compose assembles and publishes an advisory from a fully-processed
// ticket, applying the critical-cooldown downgrade rule.
func (c *Composer) Compose(
	ticket model.AdvisoryTicket,
	voting model.VotingResult,
	recommendation model.Recommendation,
	precedentSummary string,
) model.Advisory {
	c.mu.Lock()
	defer c.mu.Unlock()

	risk := voting.ConsensusRiskLevel
	now := ticket.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if risk == model.RiskCritical {
		last, onCooldown := c.lastCritical[ticket.Category]
		if onCooldown && now.Sub(last) < c.cooldown && !c.hasNovelBreach(ticket) {
			risk = model.RiskHigh
			if c.ledger != nil {
				c.ledger.Record(invariant.KindCriticalCooldownDowngrade, c.well.RigID, string(ticket.Category),
					string(model.RiskCritical), string(model.RiskHigh),
					map[string]interface{}{"breach_count": float64(len(ticket.Breaches))}, now)
			}
		} else {
			c.lastCritical[ticket.Category] = now
		}
		c.lastBreaches[ticket.Category] = breachSet(ticket)
	}

	advisory := model.Advisory{
		ID:               uuid.NewString(),
		Timestamp:        now,
		RigID:            c.well.RigID,
		WellID:           c.well.WellID,
		RiskLevel:        risk,
		Category:         ticket.Category,
		Recommendation:   recommendation.Text,
		ExpectedBenefit:  c.estimator.Estimate(ticket.Category, ticket.Metrics),
		PhysicsVerdict:   ticket.Metrics,
		PrecedentSummary: precedentSummary,
		SpecialistVotes:  voting.Votes,
		CausalLeads:      ticket.CausalLeads,
		Confidence:       recommendation.Confidence * voting.AggregatedConfidence,
	}

	c.latest = &advisory
	if c.onPublish != nil {
		c.onPublish(advisory)
	}
	return advisory
}

// Latest returns the most recently composed advisory, for status
// queries. Safe for concurrent readers.
func (c *Composer) Latest() (model.Advisory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return model.Advisory{}, false
	}
	return *c.latest, true
}

// hasNovelBreach allows a critical advisory through the cooldown when it
// carries a threshold breach field not present on the category's prior
// critical advisory.
func (c *Composer) hasNovelBreach(ticket model.AdvisoryTicket) bool {
	prior := c.lastBreaches[ticket.Category]
	for _, b := range ticket.Breaches {
		if !prior[b.Field] {
			return true
		}
	}
	return false
}

func breachSet(ticket model.AdvisoryTicket) map[string]bool {
	set := make(map[string]bool, len(ticket.Breaches))
	for _, b := range ticket.Breaches {
		set[b.Field] = true
	}
	return set
}
