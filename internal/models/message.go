package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Push frame types.
const (
	EventNewMessage     = "new_message"
	EventUpdatedMessage = "updated_message"
	EventDeletedMessage = "deleted_message"
)

var ErrMalformedEvent = errors.New("malformed event")

// Message is a chat message. ID and AuthorID never change after creation.
type Message struct {
	ID        int       `json:"id"`
	GroupID   int       `json:"group_id"`
	AuthorID  int       `json:"author_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Edited    EditFlag  `json:"edited"`
	Author    *User     `json:"author,omitempty"`
}

// UnmarshalJSON decodes the timestamp with Timestamp so that offset-less
// values from the backend are accepted.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	aux := struct {
		*plain
		Timestamp Timestamp `json:"timestamp"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Timestamp = time.Time(aux.Timestamp)
	return nil
}

// NaiveLayout is the backend's timestamp format: ISO 8601 in UTC without an
// offset, microseconds only when non-zero.
const NaiveLayout = "2006-01-02T15:04:05.999999"

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp is a point in time as sent by the backend. It accepts RFC 3339 and
// offset-less ISO 8601, which is read as UTC.
type Timestamp time.Time

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// ParseTimestamp parses raw as RFC 3339 or as offset-less ISO 8601 in UTC.
// An empty string is the zero time.
func ParseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return parsed, nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q: not RFC 3339 or ISO 8601", raw)
}

// EditFlag decodes either a boolean or the backend's edit counter.
type EditFlag bool

func (f *EditFlag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "false":
		*f = false
		return nil
	case "true":
		*f = true
		return nil
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("edited flag %s: %w", data, err)
	}
	*f = n != 0
	return nil
}

// Event is a push frame received on the live channel.
type Event struct {
	Type  string   `json:"type"`
	Data  *Message `json:"data,omitempty"`
	Error string   `json:"error,omitempty"`
}

// DecodeEvent parses a push frame and checks the fields its type requires.
// Error frames are returned with a nil error so callers can log them.
func DecodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Error != "" {
		return ev, nil
	}
	switch ev.Type {
	case EventNewMessage, EventUpdatedMessage, EventDeletedMessage:
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, ev.Type)
	}
	if ev.Data == nil || ev.Data.ID == 0 || ev.Data.GroupID == 0 {
		return Event{}, fmt.Errorf("%w: %s without message id or group_id", ErrMalformedEvent, ev.Type)
	}
	return ev, nil
}

// OutgoingMessage is the frame written to the live channel on send.
type OutgoingMessage struct {
	Content  string `json:"content"`
	AuthorID int    `json:"author_id"`
	GroupID  int    `json:"group_id"`
}
