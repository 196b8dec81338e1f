package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/sara-leads/internal/appointments"
	"github.com/wolfman30/sara-leads/internal/conversation"
	"github.com/wolfman30/sara-leads/internal/http/middleware"
	"github.com/wolfman30/sara-leads/internal/leads"
	"github.com/wolfman30/sara-leads/internal/messaging"
	"github.com/wolfman30/sara-leads/internal/team"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

// LeadService is the part of the engine the admin API uses.
type LeadService interface {
	Lookup(ctx context.Context, phone string) (*conversation.LeadView, error)
	CancelAppointment(ctx context.Context, appointmentID, memberID string) (*appointments.Appointment, error)
}

// AdminLeadsHandler serves lead lookups and team-initiated cancellations.
type AdminLeadsHandler struct {
	service LeadService
	logger  *logging.Logger
}

func NewAdminLeadsHandler(service LeadService, logger *logging.Logger) *AdminLeadsHandler {
	if service == nil {
		panic("handlers: lead service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminLeadsHandler{service: service, logger: logger}
}

// Routes mounts the admin endpoints on r.
func (h *AdminLeadsHandler) Routes(r chi.Router) {
	r.Get("/leads/{phone}", h.GetLead)
	r.Post("/appointments/{appointmentID}/cancel", h.CancelAppointment)
}

// GetLead returns the lead, active appointment, credit file and recent
// history for a phone number in any common format.
func (h *AdminLeadsHandler) GetLead(w http.ResponseWriter, r *http.Request) {
	phone := messaging.NormalizePhone(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "invalid phone")
		return
	}
	view, err := h.service.Lookup(r.Context(), phone)
	switch {
	case errors.Is(err, leads.ErrLeadNotFound):
		writeError(w, http.StatusNotFound, "lead not found")
		return
	case err != nil:
		h.logger.Error("admin lead lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type cancelRequest struct {
	MemberID string `json:"member_id"`
}

// CancelAppointment cancels an appointment on behalf of a team member. The
// member comes from the body or, failing that, the token's member_id claim.
func (h *AdminLeadsHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	memberID := strings.TrimSpace(req.MemberID)
	if memberID == "" {
		if claims, ok := middleware.AdminClaimsFromContext(r.Context()); ok {
			memberID = claims.MemberID
		}
	}
	if memberID == "" {
		writeError(w, http.StatusBadRequest, "member_id is required")
		return
	}

	appt, err := h.service.CancelAppointment(r.Context(), chi.URLParam(r, "appointmentID"), memberID)
	switch {
	case errors.Is(err, appointments.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	case errors.Is(err, team.ErrMemberNotFound):
		writeError(w, http.StatusUnprocessableEntity, "unknown team member")
		return
	case errors.Is(err, appointments.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "appointment already cancelled")
		return
	case err != nil:
		h.logger.Error("admin cancel failed", "error", err, "member_id", memberID)
		writeError(w, http.StatusBadGateway, "cancellation failed")
		return
	}
	h.logger.Info("appointment cancelled via admin api", "appointment_id", appt.ID, "member_id", memberID)
	writeJSON(w, http.StatusOK, appt)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
