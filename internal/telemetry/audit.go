package telemetry

import (
	"context"
	"log"
	"time"
)

// Publisher delivers audit events to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter records channel and membership mutations on the audit
// exchange. Safe to call on a nil receiver; emission is best-effort and
// never blocks the request outcome.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

// AuditEvent is the audit_log envelope shape.
type AuditEvent struct {
	SchemaVersion int     `json:"schema_version"`
	EventType     string  `json:"event_type"`
	OccurredAt    string  `json:"occurred_at"`
	Service       string  `json:"service"`
	Environment   string  `json:"environment"`
	RequestID     string  `json:"request_id"`
	ActorID       *string `json:"actor_id,omitempty"`
	Action        string  `json:"action"`
	Detail        string  `json:"detail"`
}

// NewAuditEmitter constructs an AuditEmitter.
func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes one audit event. action is a dotted verb like
// "channel.create"; detail is human-readable context.
func (e *AuditEmitter) Emit(ctx context.Context, action, detail, requestID string, actorID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	log.Printf("audit emit: action=%s request_id=%s actor_id=%v detail=%q", action, requestID, actorID, detail)
	event := AuditEvent{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		ActorID:       actorID,
		Action:        action,
		Detail:        detail,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, event); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
