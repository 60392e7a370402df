package payout

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-revshare/internal/common"
)

// Handler exposes payout report endpoints.
type Handler struct {
	Svc *Service
}

// Monthly returns all creators' totals for ?month=YYYY-MM.
func (h *Handler) Monthly(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYOUT_NOT_CONFIGURED", "payout service not configured", nil)
		return
	}
	m, err := ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_MONTH", "month must be YYYY-MM", nil)
		return
	}
	report, err := h.Svc.Monthly(r.Context(), m.Year, m.Month)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, report)
}

// CreatorMonthly returns a single creator's totals for ?month=YYYY-MM.
func (h *Handler) CreatorMonthly(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYOUT_NOT_CONFIGURED", "payout service not configured", nil)
		return
	}
	m, err := ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_MONTH", "month must be YYYY-MM", nil)
		return
	}
	report, err := h.Svc.CreatorMonthly(r.Context(), chi.URLParam(r, "creatorId"), m.Year, m.Month)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, report)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidMonth):
		common.JSONError(w, http.StatusBadRequest, "INVALID_MONTH", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no payouts for creator in month", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "PAYOUT_ERROR", err.Error(), nil)
	}
}
