package queue

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-revshare/internal/common"
)

// AdminHandler serves dead-letter inspection and replay plus queue stats.
type AdminHandler struct {
	Store    Store
	Queue    Enqueuer
	PageSize int
}

type dlqItem struct {
	ID             uuid.UUID `json:"id"`
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"lastError,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Payload        string    `json:"payload"`
}

type replayRequest struct {
	IDs   []uuid.UUID `json:"ids" validate:"omitempty,max=500"`
	Kind  string      `json:"kind" validate:"omitempty,max=64"`
	Limit int         `json:"limit" validate:"omitempty,min=1,max=500"`
}

type replayResult struct {
	Replayed []uuid.UUID      `json:"replayed"`
	Failed   map[string]string `json:"failed,omitempty"`
}

var errQueueUnavailable = common.NewAppError("QUEUE_UNAVAILABLE", "queue dependencies unavailable", http.StatusServiceUnavailable, nil)

// ListDLQ handles GET /admin/queue/dlq?kind=&limit=&offset=.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.WriteError(w, errQueueUnavailable)
		return
	}
	kind, ok := kindParam(w, r.URL.Query().Get("kind"), false)
	if !ok {
		return
	}
	limit, offset := common.ParsePagination(r, h.pageSize(), 200)
	ctx := r.Context()

	entries, err := h.Store.List(ctx, DLQFilter{Kind: kind, Limit: limit, Offset: offset})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	total, err := h.Store.Count(ctx, kind)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	items := make([]dlqItem, 0, len(entries))
	for _, e := range entries {
		item := dlqItem{
			ID:             e.ID,
			Kind:           e.Kind,
			IdempotencyKey: e.IdempotencyKey,
			Attempts:       e.Attempts,
			LastError:      e.LastError,
			CreatedAt:      e.CreatedAt,
		}
		if m, err := decodeMessage(string(e.Payload)); err == nil {
			item.Payload = string(m.Payload)
		}
		items = append(items, item)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "total": total, "limit": limit, "offset": offset})
}

// ReplayDLQ handles POST /admin/queue/dlq/replay with either explicit ids or
// a kind and batch limit. Replayed entries go back on the ready set with a
// fresh attempt budget.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.R == nil {
		common.WriteError(w, errQueueUnavailable)
		return
	}
	var req replayRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	kind, ok := kindParam(w, req.Kind, len(req.IDs) == 0)
	if !ok {
		return
	}
	ctx := r.Context()
	res := replayResult{Replayed: []uuid.UUID{}, Failed: map[string]string{}}

	entries, err := h.collect(ctx, req, kind, res.Failed)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	for _, e := range entries {
		if err := h.replay(ctx, e); err != nil {
			res.Failed[e.ID.String()] = err.Error()
			continue
		}
		res.Replayed = append(res.Replayed, e.ID)
	}
	common.Data(w, http.StatusOK, res)
}

// Stats handles GET /admin/queue/stats?kind=.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue.R == nil {
		common.WriteError(w, errQueueUnavailable)
		return
	}
	kind, ok := kindParam(w, r.URL.Query().Get("kind"), true)
	if !ok {
		return
	}
	depth, err := Inspect(r.Context(), h.Queue.R, h.Queue.Prefix, kind)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, depth)
}

func (h *AdminHandler) collect(ctx context.Context, req replayRequest, kind string, failed map[string]string) ([]DLQEntry, error) {
	if len(req.IDs) == 0 {
		limit := req.Limit
		if limit <= 0 {
			limit = h.pageSize()
		}
		return h.Store.List(ctx, DLQFilter{Kind: kind, Limit: limit})
	}
	entries := make([]DLQEntry, 0, len(req.IDs))
	for _, id := range req.IDs {
		e, err := h.Store.Get(ctx, id)
		switch {
		case errors.Is(err, ErrDLQEntryNotFound):
			failed[id.String()] = "not found"
		case err != nil:
			failed[id.String()] = err.Error()
		default:
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (h *AdminHandler) replay(ctx context.Context, e DLQEntry) error {
	m, err := decodeMessage(string(e.Payload))
	if err != nil {
		return err
	}
	err = h.Queue.Enqueue(ctx, Task{
		Kind:           m.Kind,
		Payload:        m.Payload,
		IdempotencyKey: m.Key,
		MaxAttempts:    m.MaxAttempts,
	})
	if err != nil {
		return err
	}
	ks := keyspace{prefix: h.Queue.Prefix}
	_ = h.Queue.R.LRem(ctx, ks.dlq(m.Kind), 1, string(e.Payload)).Err()
	return h.Store.Remove(ctx, e.ID)
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

// kindParam validates a task kind, writing a 400 when it is malformed or
// missing but required.
func kindParam(w http.ResponseWriter, raw string, required bool) (string, bool) {
	raw = strings.TrimSpace(raw)
	kind := sanitizeKind(raw)
	switch {
	case raw != "" && kind == "":
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid kind", map[string]string{"kind": raw})
		return "", false
	case required && kind == "":
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return "", false
	}
	return kind, true
}
