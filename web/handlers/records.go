package handlers

import (
	"context"
	"net/http"

	"github.com/scrypster/crmindex/internal/crm"
	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

// CRMService is the write path the record and activity handlers drive.
type CRMService interface {
	CreateRecord(ctx context.Context, ownerID string, recordType types.RecordType, in crm.RecordInput) (*types.Record, error)
	GetRecord(ctx context.Context, ownerID string, ref types.RecordRef) (*types.Record, error)
	ListRecords(ctx context.Context, ownerID string, recordType types.RecordType, opts storage.ListOptions) (*storage.PaginatedResult[types.Record], error)
	UpdateRecord(ctx context.Context, ownerID string, ref types.RecordRef, patch crm.RecordPatch) (*types.Record, error)
	DeleteRecord(ctx context.Context, ownerID string, ref types.RecordRef) error

	CreateActivity(ctx context.Context, ownerID string, in crm.ActivityInput) (*types.Activity, error)
	GetActivity(ctx context.Context, ownerID, id string) (*types.Activity, error)
	UpdateActivity(ctx context.Context, ownerID, id string, patch crm.ActivityPatch) (*types.Activity, error)
	DeleteActivity(ctx context.Context, ownerID, id string) error
	ListActivities(ctx context.Context, ownerID string, ref types.RecordRef) ([]types.Activity, error)
}

// RecordHandler serves /api/{type} and /api/{type}/{id} for deals, contacts
// and leads.
type RecordHandler struct {
	service CRMService
}

// NewRecordHandler creates a new RecordHandler.
func NewRecordHandler(service CRMService) *RecordHandler {
	return &RecordHandler{service: service}
}

// List handles GET /api/{type}.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	recordType, err := types.ParseRecordType(r.PathValue("type"))
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown record type", err)
		return
	}

	opts := storage.ListOptions{
		Page:  parseInt(r.URL.Query().Get("page"), 1),
		Limit: parseInt(r.URL.Query().Get("limit"), 20),
	}
	opts.Normalize()

	result, err := h.service.ListRecords(r.Context(), ownerID(r), recordType, opts)
	if err != nil {
		respondDomainError(w, "failed to list records", err)
		return
	}
	if result.Items == nil {
		result.Items = []types.Record{}
	}
	respondJSON(w, http.StatusOK, result)
}

// Create handles POST /api/{type}.
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	recordType, err := types.ParseRecordType(r.PathValue("type"))
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown record type", err)
		return
	}

	var in crm.RecordInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rec, err := h.service.CreateRecord(r.Context(), ownerID(r), recordType, in)
	if err != nil {
		respondDomainError(w, "failed to create record", err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

// Get handles GET /api/{type}/{id}.
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref, ok := recordRef(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetRecord(r.Context(), ownerID(r), ref)
	if err != nil {
		respondDomainError(w, "failed to get record", err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// Update handles PATCH /api/{type}/{id}.
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	ref, ok := recordRef(w, r)
	if !ok {
		return
	}

	var patch crm.RecordPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rec, err := h.service.UpdateRecord(r.Context(), ownerID(r), ref, patch)
	if err != nil {
		respondDomainError(w, "failed to update record", err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /api/{type}/{id}.
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ref, ok := recordRef(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRecord(r.Context(), ownerID(r), ref); err != nil {
		respondDomainError(w, "failed to delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListActivities handles GET /api/{type}/{id}/activities.
func (h *RecordHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	ref, ok := recordRef(w, r)
	if !ok {
		return
	}
	acts, err := h.service.ListActivities(r.Context(), ownerID(r), ref)
	if err != nil {
		respondDomainError(w, "failed to list activities", err)
		return
	}
	if acts == nil {
		acts = []types.Activity{}
	}
	respondJSON(w, http.StatusOK, ActivitiesResponse{Activities: acts, Total: len(acts)})
}

func recordRef(w http.ResponseWriter, r *http.Request) (types.RecordRef, bool) {
	recordType, err := types.ParseRecordType(r.PathValue("type"))
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown record type", err)
		return types.RecordRef{}, false
	}
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "record ID is required", nil)
		return types.RecordRef{}, false
	}
	return types.RecordRef{Type: recordType, ID: id}, true
}
