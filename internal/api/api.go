// Package api implements the rig node's operator-facing HTTP API: a
// live snapshot, advisory acknowledgment and feedback, configuration
// and campaign read/update, and a health banner. Grounded on the
// teacher's rate-limiter API server — a bare net/http.ServeMux with
// one handler method per route and an explicit ListenAndServe that
// sets its own timeouts, rather than pulling in a router dependency
// (none appears anywhere in the reference pack).
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/baseline"
	"github.com/sairen/sairen-os/internal/composer"
	"github.com/sairen/sairen-os/internal/config"
	"github.com/sairen/sairen-os/internal/fleet/queue"
	"github.com/sairen/sairen-os/internal/model"
	"github.com/sairen/sairen-os/internal/reasoner"
	"github.com/sairen/sairen-os/internal/rigstore"
	"github.com/sairen/sairen-os/internal/telemetry"
)

// envelopeVersion is the wire shape version for the {data, meta}
// envelope, bumped only on a breaking response-shape change.
const envelopeVersion = 1

type envelope struct {
	Data interface{}  `json:"data"`
	Meta envelopeMeta `json:"meta"`
}

type envelopeMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
}

// Deps wires the already-running subsystems this API only reads from
// (or, for config/campaign and acknowledgment, narrowly writes to).
type Deps struct {
	Store        *rigstore.Store
	Composer     *composer.Composer
	Baseline     *baseline.Manager
	IngestHealth *telemetry.Health
	Reasoner     *reasoner.Reasoner
	Queue        *queue.Queue
	ConfigState  *ConfigState
	Log          *zap.Logger
}

// Server is the rig node's HTTP API.
type Server struct {
	d Deps
}

func NewServer(d Deps) *Server {
	return &Server{d: d}
}

// RegisterRoutes attaches every route to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/advisory/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("/advisory/feedback/", s.handleFeedback)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/campaign", s.handleCampaign)
	mux.HandleFunc("/health", s.handleHealth)
}

// ListenAndServe starts the API on addr with conservative timeouts —
// an operator console is low-QPS and long-poll-free, so generous
// fixed deadlines are preferable to per-route tuning.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return httpServer.ListenAndServe()
}

func (s *Server) writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Data: data,
		Meta: envelopeMeta{Timestamp: time.Now().UTC(), Version: envelopeVersion},
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeData(w, status, map[string]string{"error": msg})
}

// liveSnapshot is the consolidated /live response: latest advisory,
// latest physics verdict (carried on the advisory itself), baseline
// summary, and a shift summary derived from the locked baseline set.
type liveSnapshot struct {
	LatestAdvisory  *model.Advisory      `json:"latest_advisory,omitempty"`
	BaselineStates  []model.BaselineState `json:"baseline_states"`
	ShiftSummary    shiftSummary         `json:"shift_summary"`
	IngestDegraded  bool                 `json:"ingest_degraded"`
	LastPacketAt    time.Time            `json:"last_packet_at"`
}

// shiftSummary is a coarse rollup an operator can read at a glance —
// how many of the tracked metrics have a locked baseline yet, a proxy
// for "how settled is this shift's drilling regime".
type shiftSummary struct {
	TrackedMetrics int `json:"tracked_metrics"`
	LockedMetrics  int `json:"locked_metrics"`
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	snap := liveSnapshot{BaselineStates: s.d.Baseline.States()}
	locked := 0
	for _, st := range snap.BaselineStates {
		if st.Locked {
			locked++
		}
	}
	snap.ShiftSummary = shiftSummary{TrackedMetrics: len(snap.BaselineStates), LockedMetrics: locked}

	if adv, ok := s.d.Composer.Latest(); ok {
		snap.LatestAdvisory = &adv
	}
	if s.d.IngestHealth != nil {
		snap.IngestDegraded = s.d.IngestHealth.Degraded()
		snap.LastPacketAt = s.d.IngestHealth.LastPacketAt()
	}
	s.writeData(w, http.StatusOK, snap)
}

type acknowledgeRequest struct {
	AdvisoryID     string `json:"advisory_id"`
	AcknowledgedBy string `json:"acknowledged_by"`
	ActionTaken    string `json:"action_taken"`
	Outcome        string `json:"outcome"`
	Notes          string `json:"notes"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.AdvisoryID == "" || req.AcknowledgedBy == "" {
		s.writeError(w, http.StatusBadRequest, "advisory_id and acknowledged_by are required")
		return
	}

	adv, ok, err := s.d.Store.FindAdvisoryByID(req.AdvisoryID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "looking up advisory")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "advisory not found")
		return
	}

	adv.Acknowledgment = &model.AcknowledgmentRecord{
		Actor:       req.AcknowledgedBy,
		ActionTaken: req.ActionTaken,
		Outcome:     req.Outcome,
		Notes:       req.Notes,
		At:          time.Now().UTC(),
	}
	if err := s.d.Store.SaveAdvisory(adv); err != nil {
		s.writeError(w, http.StatusInternalServerError, "persisting acknowledgment")
		return
	}
	s.writeData(w, http.StatusOK, adv)
}

type feedbackRequest struct {
	Outcome      string `json:"outcome"`
	SubmittedBy  string `json:"submitted_by"`
	Notes        string `json:"notes"`
}

var validFeedbackOutcomes = map[string]bool{"confirmed": true, "false_positive": true, "unclear": true}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	tsRaw := strings.TrimPrefix(r.URL.Path, "/advisory/feedback/")
	if tsRaw == "" {
		s.writeError(w, http.StatusBadRequest, "missing timestamp path segment")
		return
	}
	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "timestamp must be RFC3339")
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !validFeedbackOutcomes[req.Outcome] {
		s.writeError(w, http.StatusBadRequest, "outcome must be confirmed, false_positive, or unclear")
		return
	}

	adv, ok, err := s.d.Store.FindAdvisoryByTimestamp(ts)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "looking up advisory")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "advisory not found at that timestamp")
		return
	}

	actionTaken := ""
	if adv.Acknowledgment != nil {
		actionTaken = adv.Acknowledgment.ActionTaken
	}
	adv.Acknowledgment = &model.AcknowledgmentRecord{
		Actor:       req.SubmittedBy,
		ActionTaken: actionTaken,
		Outcome:     req.Outcome,
		Notes:       req.Notes,
		At:          time.Now().UTC(),
	}
	if err := s.d.Store.SaveAdvisory(adv); err != nil {
		s.writeError(w, http.StatusInternalServerError, "persisting feedback")
		return
	}
	s.writeData(w, http.StatusOK, adv)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeData(w, http.StatusOK, s.d.ConfigState.Get())
	case http.MethodPost:
		var next config.Config
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed config document")
			return
		}
		if err := s.d.ConfigState.Update(next); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeData(w, http.StatusOK, s.d.ConfigState.Get())
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}

func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeData(w, http.StatusOK, s.d.ConfigState.Get().Campaign)
	case http.MethodPost:
		var next config.Campaign
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed campaign document")
			return
		}
		if next.Name == "" {
			s.writeError(w, http.StatusBadRequest, "campaign.name must not be empty")
			return
		}
		if err := s.d.ConfigState.UpdateCampaign(next); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeData(w, http.StatusOK, s.d.ConfigState.Get().Campaign)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}

// healthReport enumerates each subsystem's degraded state, per the
// propagation policy: ingest, baseline, reasoner, fleet, each with an
// explanation string and a last-event timestamp.
type healthReport struct {
	Subsystems map[string]subsystemHealth `json:"subsystems"`
	Healthy    bool                       `json:"healthy"`
}

type subsystemHealth struct {
	Degraded    bool      `json:"degraded"`
	Explanation string    `json:"explanation"`
	LastEvent   time.Time `json:"last_event,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	report := healthReport{Subsystems: map[string]subsystemHealth{}, Healthy: true}

	ingest := subsystemHealth{Explanation: "receiving telemetry"}
	if s.d.IngestHealth != nil {
		ingest.LastEvent = s.d.IngestHealth.LastPacketAt()
		if s.d.IngestHealth.Degraded() {
			ingest.Degraded = true
			ingest.Explanation = fmt.Sprintf("no packet since %s", ingest.LastEvent.Format(time.RFC3339))
		}
	}
	report.Subsystems["ingest"] = ingest

	baselineStates := s.d.Baseline.States()
	locked := 0
	for _, st := range baselineStates {
		if st.Locked {
			locked++
		}
	}
	report.Subsystems["baseline"] = subsystemHealth{
		Explanation: fmt.Sprintf("%d/%d tracked metrics locked", locked, len(baselineStates)),
	}

	reasonerHealth := subsystemHealth{Explanation: "template strategy active"}
	if s.d.Reasoner != nil && s.d.Reasoner.Preferred() == reasoner.BackendLLM {
		reasonerHealth.Explanation = "llm strategy preferred, template fallback available"
	}
	report.Subsystems["reasoner"] = reasonerHealth

	fleetHealth := subsystemHealth{Explanation: "upload queue nominal"}
	if s.d.Queue != nil {
		depth, capacity := s.d.Queue.Depth(), s.d.Queue.Capacity()
		fleetHealth.Explanation = fmt.Sprintf("upload queue depth %d/%d", depth, capacity)
		if capacity > 0 && depth >= capacity {
			fleetHealth.Degraded = true
			fleetHealth.Explanation += " (at capacity, oldest events being evicted)"
		}
	}
	report.Subsystems["fleet"] = fleetHealth

	for _, sub := range report.Subsystems {
		if sub.Degraded {
			report.Healthy = false
		}
	}

	// Degraded subsystems are reported in the body, not surfaced as a
	// transport-level failure — the endpoint itself answering is the
	// signal that the process is alive.
	s.writeData(w, http.StatusOK, report)
}
