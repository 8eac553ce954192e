package ws

import (
	"log/slog"
	"time"

	"chat-client/internal/observability"
)

// ConnInfo identifies one live channel connection in logs and events.
type ConnInfo struct {
	ConnID      string
	ChatID      int
	UserID      int
	DeviceID    string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// LogValue groups the connection identifiers under one log key.
func (i ConnInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("chat_id", i.ChatID),
		slog.String("conn_id", i.ConnID),
		slog.String("request_id", i.RequestID),
	)
}

// Payload is the broker event body for this connection. Duration is measured
// from dial start.
func (i ConnInfo) Payload(reason string, now time.Time) observability.WSPayload {
	return observability.WSPayload{
		ChatID:     i.ChatID,
		ConnID:     i.ConnID,
		UserID:     i.UserID,
		DeviceID:   i.DeviceID,
		RequestID:  i.RequestID,
		TraceID:    i.TraceID,
		DurationMs: now.Sub(i.ConnectedAt).Milliseconds(),
		Reason:     reason,
	}
}
