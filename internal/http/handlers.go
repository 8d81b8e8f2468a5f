package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/rasulAbacco/abacco-marketing-sub000/internal/core"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/locks"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/metrics"
)

// Launcher starts a background dispatch task for a campaign; implemented by
// engine.Engine.
type Launcher interface {
	Launch(campaignID string) bool
}

type Server struct {
	Store    *core.Store
	Tracker  *locks.Tracker
	Engine   Launcher
	validate *validator.Validate
}

func NewServer(store *core.Store, tracker *locks.Tracker, eng Launcher) *Server {
	return &Server{Store: store, Tracker: tracker, Engine: eng, validate: validator.New()}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(instrument)

	r.Post("/accounts", s.createAccount)
	r.Get("/accounts", s.listAccounts)
	r.Get("/accounts/locked", s.lockedAccounts)

	r.Post("/campaigns", s.createCampaign)
	r.Get("/campaigns", s.listCampaigns)
	r.Get("/campaigns/{id}", s.getCampaign)
	r.Post("/campaigns/{id}/stop", s.stopCampaign)
	r.Get("/campaigns/{id}/progress", s.campaignProgress)
	r.Post("/campaigns/{id}/followups", s.createFollowup)
	r.Post("/campaigns/{id}/send", s.sendCampaign)

	s.mountHealth(r)
	s.mountMetrics(r)
	s.mountDocs(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, core.ErrNameTaken),
		errors.Is(err, core.ErrAccountLocked),
		errors.Is(err, core.ErrScheduleConflict),
		errors.Is(err, core.ErrUnknownAccount),
		errors.Is(err, core.ErrNoSentParent):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Address       string `json:"address" validate:"required,email"`
		Provider      string `json:"provider"`
		SignatureHTML string `json:"signature_html"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if in.Provider == "" {
		in.Provider = "custom"
	}
	acct, err := s.Store.CreateAccount(r.Context(), in.Address, in.Provider, in.SignatureHTML)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := s.Store.Accounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accts})
}

func (s *Server) lockedAccounts(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Tracker.Locked(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locked_account_ids": ids})
}

type createCampaignRequest struct {
	Name           string         `json:"name" validate:"required"`
	SendType       string         `json:"send_type" validate:"required,oneof=immediate scheduled"`
	Subjects       []string       `json:"subjects" validate:"required,min=1,dive,required"`
	Bodies         []string       `json:"bodies" validate:"required,min=1,dive,required"`
	Recipients     []string       `json:"recipients" validate:"required,min=1,dive,email"`
	AccountIDs     []string       `json:"account_ids" validate:"required,min=1,dive,uuid"`
	LimitOverrides map[string]int `json:"limit_overrides"`
	ScheduledAt    *time.Time     `json:"scheduled_at"`
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var in createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		metrics.CampaignCreated.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if err := s.validate.Struct(in); err != nil {
		metrics.CampaignCreated.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// fast-path conflict check through the lock cache; the store re-checks
	// authoritatively inside the creation transaction
	if in.SendType == core.SendImmediate {
		if id, locked, err := s.Tracker.AnyLocked(r.Context(), in.AccountIDs); err == nil && locked {
			metrics.CampaignCreated.WithLabelValues("conflict").Inc()
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": core.ErrAccountLocked.Error(), "account_id": id,
			})
			return
		}
	}

	camp, err := s.Store.CreateCampaign(r.Context(), core.CreateCampaignParams{
		Name:           in.Name,
		SendType:       in.SendType,
		Subjects:       in.Subjects,
		Bodies:         in.Bodies,
		Recipients:     in.Recipients,
		AccountIDs:     in.AccountIDs,
		LimitOverrides: in.LimitOverrides,
		ScheduledAt:    in.ScheduledAt,
	})
	if err != nil {
		if errors.Is(err, core.ErrAccountLocked) || errors.Is(err, core.ErrScheduleConflict) {
			metrics.CampaignCreated.WithLabelValues("conflict").Inc()
		} else {
			metrics.CampaignCreated.WithLabelValues("error").Inc()
		}
		writeError(w, err)
		return
	}
	metrics.CampaignCreated.WithLabelValues("ok").Inc()

	if camp.Status == core.StatusSending {
		s.Tracker.Invalidate()
		s.Engine.Launch(camp.ID)
	}
	writeJSON(w, http.StatusCreated, camp)
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	camps, err := s.Store.Campaigns(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": camps})
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	camp, err := s.Store.Campaign(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := s.Store.RecipientCounts(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaign": camp,
		"stats": map[string]int{
			"total":   counts.Total(),
			"sent":    counts.Sent,
			"failed":  counts.Failed,
			"pending": counts.Pending,
		},
	})
}

func (s *Server) stopCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stopped, err := s.Store.StopCampaign(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !stopped {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "campaign_not_sending"})
		return
	}
	s.Tracker.Invalidate()
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": core.StatusStopped})
}

func (s *Server) campaignProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Store.Campaign(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	progress, err := s.Store.Progress(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": progress})
}

type createFollowupRequest struct {
	Name           string         `json:"name" validate:"required"`
	Subjects       []string       `json:"subjects" validate:"required,min=1,dive,required"`
	Bodies         []string       `json:"bodies" validate:"required,min=1,dive,required"`
	AccountIDs     []string       `json:"account_ids" validate:"omitempty,dive,uuid"`
	LimitOverrides map[string]int `json:"limit_overrides"`
}

func (s *Server) createFollowup(w http.ResponseWriter, r *http.Request) {
	parentID := chi.URLParam(r, "id")
	var in createFollowupRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(in.AccountIDs) > 0 {
		if id, locked, err := s.Tracker.AnyLocked(r.Context(), in.AccountIDs); err == nil && locked {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": core.ErrAccountLocked.Error(), "account_id": id,
			})
			return
		}
	}
	camp, err := s.Store.CreateFollowup(r.Context(), core.FollowupParams{
		ParentCampaignID: parentID,
		Name:             in.Name,
		Subjects:         in.Subjects,
		Bodies:           in.Bodies,
		AccountIDs:       in.AccountIDs,
		LimitOverrides:   in.LimitOverrides,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, camp)
}

// sendCampaign launches a drafted follow-up: draft -> sending, then hand off
// to the dispatcher.
func (s *Server) sendCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	camp, err := s.Store.Campaign(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if camp.Status != core.StatusDraft {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "campaign_not_draft"})
		return
	}

	accounts, err := s.Store.CampaignAccounts(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.AccountID
	}
	if lockedID, locked, err := s.Tracker.AnyLocked(r.Context(), ids); err == nil && locked {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": core.ErrAccountLocked.Error(), "account_id": lockedID,
		})
		return
	}

	ok, err := s.Store.TransitionCampaign(r.Context(), id, core.StatusDraft, core.StatusSending)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "campaign_not_draft"})
		return
	}
	s.Tracker.Invalidate()
	s.Engine.Launch(id)
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": core.StatusSending})
}
