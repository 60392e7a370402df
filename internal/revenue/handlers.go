package revenue

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-revshare/internal/common"
)

// Handler exposes the revenue ingestion endpoints.
type Handler struct {
	Svc *Service
}

// Ingest records a revenue event. 201 for a new event, 200 for a replay and 202 when
// the event was stored but its splits are still pending.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "REVENUE_NOT_CONFIGURED", "revenue service not configured", nil)
		return
	}
	var req IngestRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	result, err := h.Svc.Ingest(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "REVENUE_INGEST_FAILED", "failed to record revenue event", nil)
		return
	}
	status := http.StatusCreated
	switch {
	case result.Duplicate:
		status = http.StatusOK
	case result.SplitsPending:
		status = http.StatusAccepted
	}
	common.Data(w, status, result)
}

// GetEvent returns a single event with its splits.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "REVENUE_NOT_CONFIGURED", "revenue service not configured", nil)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid id", nil)
		return
	}
	ev, splits, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "revenue event not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "REVENUE_ERROR", err.Error(), nil)
		return
	}
	if splits == nil {
		splits = []Split{}
	}
	common.Data(w, http.StatusOK, map[string]any{"event": ev, "splits": splits})
}

// Resplit triggers a synchronous split repair for an event.
func (h *Handler) Resplit(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "REVENUE_NOT_CONFIGURED", "revenue service not configured", nil)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid id", nil)
		return
	}
	splits, err := h.Svc.Resplit(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "revenue event not found", nil)
			return
		}
		common.JSONError(w, http.StatusUnprocessableEntity, "RESPLIT_FAILED", err.Error(), nil)
		return
	}
	common.Data(w, http.StatusOK, splits)
}
