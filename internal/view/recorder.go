// Package view renders client state: Terminal draws to a console, Recorder
// keeps what would have been drawn so it can be inspected.
package view

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"chat-client/internal/models"
)

// Entry is one rendered message.
type Entry struct {
	ID        int
	AuthorID  int
	Content   string
	Edited    bool
	Timestamp time.Time
	Mine      bool
}

// Recorder is an in-memory view. It is safe for concurrent use.
type Recorder struct {
	mu           sync.Mutex
	selfID       int
	entries      []Entry
	scrolls      int
	chats        []models.Chat
	activeID     int
	title        string
	participants []string
	alerts       []string
}

func NewRecorder(selfID int) *Recorder {
	return &Recorder{selfID: selfID}
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

func (r *Recorder) Append(m models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, r.entry(m))
}

func (r *Recorder) Update(m models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID == m.ID {
			r.entries[i] = r.entry(m)
		}
	}
}

func (r *Recorder) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = lo.Reject(r.entries, func(e Entry, _ int) bool { return e.ID == id })
}

func (r *Recorder) ScrollToNewest() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrolls++
}

func (r *Recorder) RenderChats(chats []models.Chat, activeID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append([]models.Chat(nil), chats...)
	r.activeID = activeID
}

func (r *Recorder) SetTitle(title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.title = title
}

func (r *Recorder) RenderParticipants(users []models.User, selfID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = lo.Map(users, func(u models.User, _ int) string {
		if u.ID == selfID {
			return u.Username + " (you)"
		}
		return u.Username
	})
}

func (r *Recorder) Alert(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, msg)
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

func (r *Recorder) Scrolls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scrolls
}

func (r *Recorder) Chats() ([]models.Chat, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Chat(nil), r.chats...), r.activeID
}

func (r *Recorder) Title() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.title
}

func (r *Recorder) Participants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.participants...)
}

func (r *Recorder) Alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alerts...)
}

func (r *Recorder) entry(m models.Message) Entry {
	return Entry{
		ID:        m.ID,
		AuthorID:  m.AuthorID,
		Content:   m.Content,
		Edited:    bool(m.Edited),
		Timestamp: m.Timestamp,
		Mine:      m.AuthorID == r.selfID,
	}
}
