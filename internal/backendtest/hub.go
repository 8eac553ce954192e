package backendtest

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-client/internal/models"
)

// peer is one push connection. gorilla connections allow a single writer.
type peer struct {
	conn        *websocket.Conn
	userID      int
	connectedAt time.Time
	writeMu     sync.Mutex
}

func (p *peer) write(payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains push rooms keyed by chat id.
type Hub struct {
	rooms map[int]map[*peer]bool
	mu    sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[int]map[*peer]bool)}
}

func (h *Hub) add(chatID int, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[*peer]bool)
	}
	h.rooms[chatID][p] = true
}

func (h *Hub) remove(chatID int, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.rooms[chatID]; ok {
		delete(peers, p)
		if len(peers) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

func (h *Hub) peers(chatID int) []*peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*peer, 0, len(h.rooms[chatID]))
	for p := range h.rooms[chatID] {
		out = append(out, p)
	}
	return out
}

// Connections reports how many clients listen on chatID.
func (h *Hub) Connections(chatID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// Broadcast sends a message event to every client in chatID.
func (h *Hub) Broadcast(chatID int, eventType string, msg models.Message) {
	h.BroadcastRaw(chatID, framePayload(eventType, msg))
}

// BroadcastRaw sends payload unchanged, malformed or not.
func (h *Hub) BroadcastRaw(chatID int, payload []byte) {
	for _, p := range h.peers(chatID) {
		if err := p.write(payload); err != nil {
			log.Printf("websocket write error: %v", err)
			p.conn.Close()
			h.remove(chatID, p)
		}
	}
}

// Drop closes every connection of chatID without a close handshake, the way
// a network failure would.
func (h *Hub) Drop(chatID int) {
	for _, p := range h.peers(chatID) {
		p.conn.Close()
		h.remove(chatID, p)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[int]map[*peer]bool)
	h.mu.Unlock()
	for _, peers := range rooms {
		for p := range peers {
			p.conn.Close()
		}
	}
}

// framePayload encodes a push frame the way the backend does. Deletions carry
// only the ids.
func framePayload(eventType string, msg models.Message) []byte {
	var data any = toMessageOut(msg)
	if eventType == models.EventDeletedMessage {
		data = map[string]int{"id": msg.ID, "group_id": msg.GroupID}
	}
	payload, _ := json.Marshal(map[string]any{"type": eventType, "data": data})
	return payload
}
