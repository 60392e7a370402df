package audit

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/noah-isme/backend-revshare/internal/db"
)

// ErrStoreUnavailable is returned when the store has no database connection.
var ErrStoreUnavailable = errors.New("audit: store unavailable")

// NewStore returns a Store backed by PostgreSQL.
func NewStore(conn db.DBTX) Store {
	return &pgStore{db: conn}
}

type pgStore struct {
	db db.DBTX
}

func (s *pgStore) InsertAuditLog(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = string(e.Metadata)
	}
	_, err := s.db.Exec(ctx, `INSERT INTO audit_logs
(id, actor_kind, actor_subject, action, resource_type, resource_id, method, path, route, status, ip, user_agent, request_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15)`,
		e.ID, string(e.ActorKind), nullable(e.ActorSubject), e.Action, e.ResourceType, nullable(e.ResourceID),
		e.Method, e.Path, nullable(e.Route), e.Status, nullable(e.IP), nullable(e.UserAgent), nullable(e.RequestID),
		metadata, e.CreatedAt)
	return err
}

func (s *pgStore) ListAuditLogs(ctx context.Context, f Filter) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	query, args := listQuery(f)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                                      Entry
			kind                                   string
			metadata                               []byte
			subject, resourceID, route, ip, ua, rq *string
		)
		if err := rows.Scan(&e.ID, &kind, &subject, &e.Action, &e.ResourceType, &resourceID,
			&e.Method, &e.Path, &route, &e.Status, &ip, &ua, &rq, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorKind = ActorKind(kind)
		if len(metadata) > 0 {
			e.Metadata = metadata
		}
		e.ActorSubject, e.ResourceID, e.Route = deref(subject), deref(resourceID), deref(route)
		e.IP, e.UserAgent, e.RequestID = deref(ip), deref(ua), deref(rq)
		out = append(out, e)
	}
	return out, rows.Err()
}

func listQuery(f Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, column+" = $"+strconv.Itoa(len(args)))
	}
	add("action", f.Action)
	add("resource_type", f.ResourceType)
	add("resource_id", f.ResourceID)
	add("actor_subject", f.Actor)

	var b strings.Builder
	b.WriteString(`SELECT id, actor_kind, actor_subject, action, resource_type, resource_id, method, path, route,
status, ip, user_agent, request_id, metadata, created_at FROM audit_logs`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, f.Limit, f.Offset)
	b.WriteString(" ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args)))
	return b.String(), args
}

func nullable(v string) *string {
	if v = strings.TrimSpace(v); v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
