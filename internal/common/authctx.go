package common

import (
	"context"
	"slices"
)

type ctxKey string

const callerKey ctxKey = "auth/caller"

// Caller identifies the authenticated service or operator behind a request.
type Caller struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the caller carries role.
func (c Caller) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// WithCaller stores the authenticated caller on the provided context.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom extracts the authenticated caller from the context if present.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

// Subject returns the caller subject, empty for anonymous requests.
func Subject(ctx context.Context) string {
	c, _ := CallerFrom(ctx)
	return c.Subject
}
