package api

import (
	"context"
	"time"
)

// QueryTimeout is the default timeout for database queries
const QueryTimeout = 10 * time.Second

type contextKey int

const (
	userKey contextKey = iota
	requestIDKey
)

// Caller is the authenticated user behind a request
type Caller struct {
	UserID string
	Scopes []string
}

// HasScope reports whether the caller's token carried scope
func (c Caller) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// WithQueryTimeout creates a context with query timeout
func WithQueryTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, QueryTimeout)
}

// WithCaller stores the authenticated caller on ctx
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, userKey, c)
}

// CallerFrom returns the caller set by the auth middleware
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(userKey).(Caller)
	return c, ok && c.UserID != ""
}

// RequestIDFrom returns the id the request logger assigned, or ""
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
