package observability

import (
	"context"
	"time"
)

// Publisher delivers envelopes to the event broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt string      `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// WSPayload describes one live channel lifecycle event.
type WSPayload struct {
	ChatID     int    `json:"chat_id"`
	ConnID     string `json:"conn_id"`
	UserID     int    `json:"user_id"`
	DeviceID   string `json:"device_id,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
}

// Events publishes live channel lifecycle envelopes. A nil *Events drops them.
type Events struct {
	publisher  Publisher
	routingKey string
}

func NewEvents(publisher Publisher, routingKey string) *Events {
	return &Events{publisher: publisher, routingKey: routingKey}
}

// PublishWS counts the event and forwards it to the broker.
func (e *Events) PublishWS(ctx context.Context, name string, payload WSPayload) {
	IncWSEvent(name)
	if e == nil || e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, e.routingKey, EventEnvelope{
		EventType:  "ws_events",
		EventName:  name,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	})
	if err != nil {
		IncAMQPPublishError()
	}
}
