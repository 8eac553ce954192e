// Package messagelog keeps the ordered messages of the active chat and keeps
// its renderer in step with them.
//
// A Log is not safe for concurrent use; it is driven from the event loop.
package messagelog

import (
	"log/slog"

	"github.com/samber/lo"

	"chat-client/internal/models"
)

// Renderer draws the log. Every call mirrors one state change.
type Renderer interface {
	Reset()
	Append(m models.Message)
	Update(m models.Message)
	Remove(id int)
	ScrollToNewest()
}

// Log is the message collection of one chat. Apply operations are idempotent
// per message id and tolerate arriving in any order.
type Log struct {
	chatID   int
	entries  []models.Message
	deleted  map[int]struct{}
	renderer Renderer
	logger   *slog.Logger
}

func New(renderer Renderer, logger *slog.Logger) *Log {
	return &Log{
		deleted:  map[int]struct{}{},
		renderer: renderer,
		logger:   logger,
	}
}

// ChatID is the chat the log is bound to, 0 when none.
func (l *Log) ChatID() int {
	return l.chatID
}

// Reset binds the log to chatID and blanks it.
func (l *Log) Reset(chatID int) {
	l.chatID = chatID
	l.entries = nil
	l.deleted = map[int]struct{}{}
	l.renderer.Reset()
}

// Replace swaps the whole collection for a fetched history. Results for a
// chat other than the bound one are discarded.
func (l *Log) Replace(chatID int, messages []models.Message) bool {
	if chatID == 0 || chatID != l.chatID {
		l.logger.Info("discarding history for inactive chat", "chat_id", chatID, "active_chat_id", l.chatID)
		return false
	}

	live := lo.Filter(messages, func(m models.Message, _ int) bool {
		_, gone := l.deleted[m.ID]
		return !gone
	})
	l.entries = lo.UniqBy(live, func(m models.Message) int { return m.ID })

	l.renderer.Reset()
	for _, m := range l.entries {
		l.renderer.Append(m)
	}
	l.renderer.ScrollToNewest()
	return true
}

// ApplyInsert appends m unless its id is already present or was deleted.
func (l *Log) ApplyInsert(m models.Message) bool {
	if !l.accepts(m) {
		return false
	}
	if _, _, ok := l.find(m.ID); ok {
		return false
	}

	l.entries = append(l.entries, m)
	l.renderer.Append(m)
	l.renderer.ScrollToNewest()
	return true
}

// ApplyUpdate rewrites content, edited flag and timestamp of an existing
// entry. Id and author are kept.
func (l *Log) ApplyUpdate(m models.Message) bool {
	if !l.accepts(m) {
		return false
	}
	current, idx, ok := l.find(m.ID)
	if !ok {
		l.logger.Info("update for unknown message dropped", "chat_id", l.chatID, "message_id", m.ID)
		return false
	}

	current.Content = m.Content
	current.Edited = m.Edited
	if !m.Timestamp.IsZero() {
		current.Timestamp = m.Timestamp
	}
	l.entries[idx] = current
	l.renderer.Update(current)
	l.renderer.ScrollToNewest()
	return true
}

// ApplyDelete removes id. Delete is terminal: the id is remembered until the
// next Reset so late inserts or a stale history cannot bring it back.
func (l *Log) ApplyDelete(id int) bool {
	if l.chatID == 0 {
		return false
	}
	l.deleted[id] = struct{}{}

	_, idx, ok := l.find(id)
	if !ok {
		return false
	}
	l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
	l.renderer.Remove(id)
	l.renderer.ScrollToNewest()
	return true
}

// Get returns the entry for id.
func (l *Log) Get(id int) (models.Message, bool) {
	m, _, ok := l.find(id)
	return m, ok
}

// Messages returns a copy of the entries in display order.
func (l *Log) Messages() []models.Message {
	out := make([]models.Message, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	return len(l.entries)
}

func (l *Log) accepts(m models.Message) bool {
	if l.chatID == 0 || m.GroupID != l.chatID {
		return false
	}
	_, gone := l.deleted[m.ID]
	return !gone
}

func (l *Log) find(id int) (models.Message, int, bool) {
	return lo.FindIndexOf(l.entries, func(m models.Message) bool { return m.ID == id })
}
