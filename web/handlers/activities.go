package handlers

import (
	"net/http"

	"github.com/scrypster/crmindex/internal/crm"
)

// ActivityHandler serves /api/activities.
type ActivityHandler struct {
	service CRMService
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(service CRMService) *ActivityHandler {
	return &ActivityHandler{service: service}
}

// Create handles POST /api/activities.
func (h *ActivityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in crm.ActivityInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	act, err := h.service.CreateActivity(r.Context(), ownerID(r), in)
	if err != nil {
		respondDomainError(w, "failed to create activity", err)
		return
	}
	respondJSON(w, http.StatusCreated, act)
}

// Get handles GET /api/activities/{id}.
func (h *ActivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	act, err := h.service.GetActivity(r.Context(), ownerID(r), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, "failed to get activity", err)
		return
	}
	respondJSON(w, http.StatusOK, act)
}

// Update handles PATCH /api/activities/{id}. Moving an activity re-embeds
// both the old and the new parent.
func (h *ActivityHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch crm.ActivityPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	act, err := h.service.UpdateActivity(r.Context(), ownerID(r), r.PathValue("id"), patch)
	if err != nil {
		respondDomainError(w, "failed to update activity", err)
		return
	}
	respondJSON(w, http.StatusOK, act)
}

// Delete handles DELETE /api/activities/{id}.
func (h *ActivityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteActivity(r.Context(), ownerID(r), r.PathValue("id")); err != nil {
		respondDomainError(w, "failed to delete activity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
