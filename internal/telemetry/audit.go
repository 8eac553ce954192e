package telemetry

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Audit actions emitted by the client.
const (
	ActionMessageSent    = "message_sent"
	ActionMessageEdited  = "message_edited"
	ActionMessageDeleted = "message_deleted"
	ActionChatCreated    = "chat_created"
	ActionGroupCreated   = "group_created"
	ActionChatDeleted    = "chat_deleted"
)

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id,omitempty"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level     string `json:"level"`
	Action    string `json:"action"`
	Text      string `json:"text"`
	ChatID    int    `json:"chat_id,omitempty"`
	MessageID int    `json:"message_id,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes one audit record. A nil emitter is a no-op.
func (e *AuditEmitter) Emit(ctx context.Context, userID int, level string, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	payload.Level = level
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     RequestIDFromContext(ctx),
		Payload:       payload,
	}
	if userID > 0 {
		id := strconv.Itoa(userID)
		envelope.UserID = &id
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed: action=%s err=%v", payload.Action, err)
	}
}

type requestIDKey struct{}

// WithRequestID attaches a correlation id that audits and REST calls share.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// EnsureRequestID gives one user action a correlation id. The REST calls it
// makes and the audit it emits all carry the same id.
func EnsureRequestID(ctx context.Context) context.Context {
	if RequestIDFromContext(ctx) != "" {
		return ctx
	}
	return WithRequestID(ctx, uuid.NewString())
}

func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
