package resilience

import (
	"context"
	"encoding/json"
	"time"
)

// Actor identifies who triggered a carrier call. Both fields may be empty.
type Actor struct {
	OrganizationID string
	UserID         string
}

type actorKey struct{}

// WithActor attaches the actor recorded in audit entries.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx, if any.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}

// AuditEntry records one carrier call. Request and Response are sanitized.
type AuditEntry struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	OrganizationID string          `json:"organization_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Action         string          `json:"action"`
	Resource       string          `json:"resource"`
	ResourceID     string          `json:"resource_id"`
	Carrier        string          `json:"carrier"`
	Request        json.RawMessage `json:"request,omitempty"`
	Response       json.RawMessage `json:"response,omitempty"`
	Success        bool            `json:"success"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	DurationMs     int64           `json:"duration_ms"`
}

// AuditSink persists audit entries.
type AuditSink interface {
	WriteAudit(ctx context.Context, entry AuditEntry) error
}
