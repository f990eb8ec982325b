// Package api implements the fleet hub's HTTP surface: event ingest,
// event outcome updates, library sync, rig registry, and a dashboard.
// Grounded on the same bare net/http.ServeMux idiom as the rig node's
// internal/api (in turn grounded on etalazz-vsa's rate-limiter API
// server) — no router dependency anywhere in the reference pack — with
// authentication middleware added since the hub, unlike the
// single-tenant rig node, serves many untrusted rig processes plus an
// admin console. Checkpoint publish/fetch is not an HTTP route here —
// see internal/fedrpc and internal/fleethub/federation's grpc server
// adapter for that exchange's signed-envelope gRPC+mTLS transport.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sairen/sairen-os/internal/errs"
	"github.com/sairen/sairen-os/internal/fleethub/curator"
	"github.com/sairen/sairen-os/internal/fleethub/ingest"
	"github.com/sairen/sairen-os/internal/fleethub/librarysync"
	"github.com/sairen/sairen-os/internal/fleethub/registry"
	"github.com/sairen/sairen-os/internal/fleethub/store"
	"github.com/sairen/sairen-os/internal/model"
	"github.com/sairen/sairen-os/internal/wire"
)

const envelopeVersion = 1

type envelope struct {
	Data interface{}  `json:"data"`
	Meta envelopeMeta `json:"meta"`
}

type envelopeMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
}

// Deps wires the hub's already-built subsystems into the HTTP layer.
type Deps struct {
	Store       store.Store
	Registry    *registry.Registry
	Ingester    *ingest.Ingester
	LibrarySync *librarysync.Handler
	Curator     *curator.Curator
	Log         *zap.Logger
}

// Server is the fleet hub's HTTP API.
type Server struct {
	d Deps
}

func NewServer(d Deps) *Server {
	return &Server{d: d}
}

type identityKey struct{}

func (s *Server) writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data, Meta: envelopeMeta{Timestamp: time.Now().UTC(), Version: envelopeVersion}})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeData(w, status, map[string]string{"error": msg})
}

// errorStatus maps the shared error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	var e *errs.Error
	if ok := asTaggedError(err, &e); !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case errs.KindUploadRejectAuth:
		return http.StatusUnauthorized
	case errs.KindUploadRejectDuplicate:
		return http.StatusConflict
	case errs.KindIngestionQualityReject, errs.KindConfigInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func asTaggedError(err error, target **errs.Error) bool {
	if te, ok := err.(*errs.Error); ok {
		*target = te
		return true
	}
	return false
}

// authRig requires a valid rig-scoped bearer token and returns the
// authenticated rig id.
func (s *Server) authRig(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := s.authenticate(w, r)
	if !ok {
		return "", false
	}
	if id.Role != registry.RoleRig {
		s.writeError(w, http.StatusForbidden, "rig-scoped credential required")
		return "", false
	}
	return id.RigID, true
}

// authAdmin requires a valid admin-scoped bearer token.
func (s *Server) authAdmin(w http.ResponseWriter, r *http.Request) bool {
	id, ok := s.authenticate(w, r)
	if !ok {
		return false
	}
	if id.Role != registry.RoleAdmin {
		s.writeError(w, http.StatusForbidden, "admin credential required")
		return false
	}
	return true
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (registry.Identity, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		s.writeError(w, http.StatusUnauthorized, "missing bearer token")
		return registry.Identity{}, false
	}
	token := strings.TrimPrefix(header, prefix)
	credentialID, secret, ok := strings.Cut(token, ".")
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "malformed bearer token")
		return registry.Identity{}, false
	}
	id, err := s.d.Registry.Authenticate(r.Context(), credentialID, secret)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "authentication failed")
		return registry.Identity{}, false
	}
	return id, true
}

// RegisterRoutes attaches every route to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/fleet/events", s.handleEventIngest)
	mux.HandleFunc("/fleet/events/outcome", s.handleEventOutcome)
	mux.HandleFunc("/fleet/library", s.handleLibraryPull)
	mux.HandleFunc("/fleet/rigs", s.handleRigs)
	mux.HandleFunc("/fleet/dashboard/summary", s.handleDashboardSummary)
	mux.HandleFunc("/fleet/dashboard/trends", s.handleDashboardTrends)
	mux.HandleFunc("/fleet/dashboard/outcomes", s.handleDashboardOutcomes)
	mux.HandleFunc("/health", s.handleHealth)
}

// ListenAndServe starts the hub API on addr.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return httpServer.ListenAndServe()
}

// handleEventIngest accepts a zstd-compressed event envelope upload
// under the authenticated rig's identity.
func (s *Server) handleEventIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	rigID, ok := s.authRig(w, r)
	if !ok {
		return
	}
	compressed, err := io.ReadAll(io.LimitReader(r.Body, ingest.MaxCompressedBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "reading request body")
		return
	}
	if err := s.d.Ingester.Accept(r.Context(), rigID, compressed); err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	if err := s.d.Store.TouchRigLastSeen(r.Context(), rigID, time.Now().UTC()); err != nil && s.d.Log != nil {
		s.d.Log.Warn("ingest: touching rig last-seen failed", zap.String("rig_id", rigID), zap.Error(err))
	}
	s.writeData(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type outcomeUpdateRequest struct {
	EventID string                     `json:"event_id"`
	Outcome model.AcknowledgmentRecord `json:"outcome"`
}

// handleEventOutcome lets a rig report back how an uploaded event was
// resolved, which the curator folds into episode scoring on its next
// cycle.
func (s *Server) handleEventOutcome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if _, ok := s.authRig(w, r); !ok {
		return
	}
	var req outcomeUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.EventID == "" {
		s.writeError(w, http.StatusBadRequest, "event_id is required")
		return
	}
	if req.Outcome.At.IsZero() {
		req.Outcome.At = time.Now().UTC()
	}
	if err := s.d.Store.SetEventOutcome(r.Context(), req.EventID, req.Outcome); err != nil {
		s.writeError(w, http.StatusInternalServerError, "recording event outcome")
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// handleLibraryPull serves the episode delta since the rig's last sync,
// negotiating zstd compression via Accept-Encoding as the spec's
// transport note requires.
func (s *Server) handleLibraryPull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	rigID, ok := s.authRig(w, r)
	if !ok {
		return
	}

	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}

	resp, notModified, err := s.d.LibrarySync.Pull(r.Context(), rigID, since)
	if err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	if notModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if wantsZstd(r) {
		compressed, err := wire.EncodeZstdJSON(resp)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "compressing library response")
			return
		}
		w.Header().Set("Content-Encoding", "zstd")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(compressed)
		return
	}
	s.writeData(w, http.StatusOK, resp)
}

func wantsZstd(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "zstd")
}

// handleRigs lists (admin) or registers (admin) rig identities.
func (s *Server) handleRigs(w http.ResponseWriter, r *http.Request) {
	if !s.authAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		rigs, err := s.d.Store.ListRigs(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "listing rigs")
			return
		}
		s.writeData(w, http.StatusOK, rigs)
	case http.MethodPost:
		var req struct {
			RigID  string `json:"rig_id"`
			WellID string `json:"well_id"`
			Field  string `json:"field"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if req.RigID == "" {
			s.writeError(w, http.StatusBadRequest, "rig_id is required")
			return
		}
		credentialID, secret, err := s.d.Registry.RegisterRig(r.Context(), req.RigID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "registering rig credential")
			return
		}
		now := time.Now().UTC()
		if err := s.d.Store.UpsertRig(r.Context(), model.Rig{
			RigID: req.RigID, WellID: req.WellID, Field: req.Field,
			RegisteredAt: now, LastSeen: now, Status: model.RigActive,
		}); err != nil {
			s.writeError(w, http.StatusInternalServerError, "persisting rig record")
			return
		}
		s.writeData(w, http.StatusCreated, map[string]string{
			"rig_id": req.RigID, "credential_id": credentialID, "secret": secret,
		})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}

type dashboardSummary struct {
	ActiveRigs     int `json:"active_rigs"`
	ActiveEpisodes int `json:"active_episodes"`
	PendingCuration int `json:"pending_curation"`
}

func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	if !s.authAdmin(w, r) || r.Method != http.MethodGet {
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "GET only")
		}
		return
	}
	rigs, err := s.d.Store.ListRigs(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "listing rigs")
		return
	}
	episodes, err := s.d.Store.ActiveEpisodes(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "listing active episodes")
		return
	}
	pending, err := s.d.Store.EventsNeedingCuration(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "listing pending events")
		return
	}
	s.writeData(w, http.StatusOK, dashboardSummary{
		ActiveRigs: len(rigs), ActiveEpisodes: len(episodes), PendingCuration: len(pending),
	})
}

// dashboardTrend is a per-category rollup of the fleet's active episode
// set — a coarse proxy for "what's trending across the fleet" without
// standing up a real time-series store.
type dashboardTrend struct {
	Category model.Category `json:"category"`
	Count    int            `json:"count"`
	MeanScore float64       `json:"mean_score"`
}

func (s *Server) handleDashboardTrends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	if !s.authAdmin(w, r) {
		return
	}
	episodes, err := s.d.Store.ActiveEpisodes(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "listing active episodes")
		return
	}
	byCategory := map[model.Category]*dashboardTrend{}
	for _, e := range episodes {
		t, ok := byCategory[e.Category]
		if !ok {
			t = &dashboardTrend{Category: e.Category}
			byCategory[e.Category] = t
		}
		t.Count++
		t.MeanScore += e.Score
	}
	out := make([]dashboardTrend, 0, len(byCategory))
	for _, t := range byCategory {
		if t.Count > 0 {
			t.MeanScore /= float64(t.Count)
		}
		out = append(out, *t)
	}
	s.writeData(w, http.StatusOK, out)
}

func (s *Server) handleDashboardOutcomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	if !s.authAdmin(w, r) {
		return
	}
	since := time.Now().Add(-30 * 24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			since = parsed
		}
	}
	events, err := s.d.Store.ListEvents(r.Context(), since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "listing events")
		return
	}
	s.writeData(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	_, err := s.d.Store.ListRigs(ctx)
	healthy := err == nil
	s.writeData(w, http.StatusOK, map[string]interface{}{"healthy": healthy})
}
