package audit

import (
	"net/http"
	"strings"

	"github.com/noah-isme/backend-revshare/internal/common"
)

// Handler serves the audit trail to administrators.
type Handler struct {
	Store Store
}

// List handles GET /admin/audit-logs with optional action, resourceType,
// resourceId and actor filters.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "AUDIT_UNAVAILABLE", "audit store not configured", nil)
		return
	}
	q := r.URL.Query()
	f := Filter{
		Action:       strings.TrimSpace(q.Get("action")),
		ResourceType: strings.TrimSpace(q.Get("resourceType")),
		ResourceID:   strings.TrimSpace(q.Get("resourceId")),
		Actor:        strings.TrimSpace(q.Get("actor")),
	}
	f.Limit, f.Offset = common.ParsePagination(r, 50, 200)

	rows, err := h.Store.ListAuditLogs(r.Context(), f)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to list audit logs", nil)
		return
	}
	if rows == nil {
		rows = []Entry{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows, "limit": f.Limit, "offset": f.Offset})
}
