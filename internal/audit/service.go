package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-revshare/internal/common"
	"github.com/noah-isme/backend-revshare/internal/obs"
)

// ActorKind identifies who performed an audited action.
type ActorKind string

const (
	ActorService   ActorKind = "service"
	ActorSystem    ActorKind = "system"
	ActorAnonymous ActorKind = "anonymous"
)

// Entry is one row of the admin mutation trail.
type Entry struct {
	ID           uuid.UUID       `json:"id"`
	ActorKind    ActorKind       `json:"actorKind"`
	ActorSubject string          `json:"actorSubject,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Route        string          `json:"route,omitempty"`
	Status       int             `json:"status"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Filter narrows ListAuditLogs. Empty fields match everything.
type Filter struct {
	Action       string
	ResourceType string
	ResourceID   string
	Actor        string
	Limit        int
	Offset       int
}

// Store persists and queries audit rows.
type Store interface {
	InsertAuditLog(ctx context.Context, e Entry) error
	ListAuditLogs(ctx context.Context, f Filter) ([]Entry, error)
}

var errNoStore = errors.New("audit: store not configured")

// Service writes audit entries. SampleRate in (0,1) keeps that fraction of
// successful entries; failed requests are always written.
type Service struct {
	Store      Store
	Enabled    bool
	SampleRate float64
	Now        func() time.Time
	Sample     func() float64
}

// Record fills the generated fields of e and stores it.
func (s *Service) Record(ctx context.Context, e Entry) error {
	if s == nil || !s.Enabled {
		return nil
	}
	if s.Store == nil {
		return errNoStore
	}
	if e.Status < 400 && s.SampleRate > 0 && s.SampleRate < 1 && s.sample() >= s.SampleRate {
		return nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.ActorKind == "" {
		e.ActorKind = ActorAnonymous
	}
	if e.Action == "" {
		e.Action = strings.TrimSpace(e.Method + " " + e.Route)
	}
	if e.ResourceType == "" {
		e.ResourceType = resourceFromRoute(e.Route)
	}
	return s.Store.InsertAuditLog(ctx, e)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) sample() float64 {
	if s.Sample != nil {
		return s.Sample()
	}
	return rand.Float64()
}

// FromRequest captures the transport details of r for an entry with the
// given response status.
func FromRequest(r *http.Request, status int) Entry {
	if status == 0 {
		status = http.StatusOK
	}
	e := Entry{
		ActorKind: ActorAnonymous,
		Method:    r.Method,
		Path:      r.URL.Path,
		Route:     obs.Route(r.Context()),
		Status:    status,
		IP:        common.ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: middleware.GetReqID(r.Context()),
	}
	if caller, ok := common.CallerFrom(r.Context()); ok && caller.Subject != "" {
		e.ActorKind = ActorService
		e.ActorSubject = caller.Subject
	}
	return e
}

// resourceFromRoute turns /api/v1/admin/split-profiles into admin.split-profiles.
func resourceFromRoute(route string) string {
	route = strings.Trim(route, "/ ")
	if route == "" {
		return "unknown"
	}
	route = strings.TrimPrefix(route, "api/v1/")
	parts := strings.Split(route, "/")
	kept := parts[:0]
	for _, p := range parts {
		if strings.HasPrefix(p, "{") {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, ".")
}
