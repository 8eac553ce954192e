package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChatKind distinguishes one-to-one chats from groups.
type ChatKind string

const (
	ChatKindDirect ChatKind = "direct"
	ChatKindGroup  ChatKind = "group"
)

// UnmarshalJSON accepts the backend's "private" spelling for direct chats.
func (k *ChatKind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("chat kind: %w", err)
	}
	switch strings.ToLower(raw) {
	case "private", "direct":
		*k = ChatKindDirect
	case "group", "":
		*k = ChatKindGroup
	default:
		return fmt.Errorf("unknown chat kind %q", raw)
	}
	return nil
}

// Chat is a conversation container visible to the session user.
type Chat struct {
	ID         int      `json:"id"`
	Name       string   `json:"name"`
	Kind       ChatKind `json:"type"`
	Background string   `json:"background,omitempty"`
}

// User is a participant as returned by the backend.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}
