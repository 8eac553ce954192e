// Package backendtest is an in-memory chat backend for tests: the REST routes
// and push endpoint the client talks to, served by gin on loopback.
package backendtest

import (
	"errors"
	"sort"
	"sync"
	"time"

	"chat-client/internal/models"
)

var (
	ErrUserExists      = errors.New("username already registered")
	ErrBadCredentials  = errors.New("invalid username or password")
	ErrUserNotFound    = errors.New("user not found")
	ErrChatNotFound    = errors.New("group not found")
	ErrAlreadyMember   = errors.New("user already in group")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotAuthor       = errors.New("not the message author")
)

// DefaultPrivateBackground is the background of chats created by POST /chats.
const DefaultPrivateBackground = "#E5DDD5"

type account struct {
	user     models.User
	password string
}

// Store holds users, chats and messages. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	nextID   int
	accounts map[int]account
	byName   map[string]int
	chats    map[int]models.Chat
	members  map[int]map[int]bool
	messages map[int]models.Message
}

func NewStore() *Store {
	return &Store{
		now:      func() time.Time { return time.Now().UTC() },
		accounts: make(map[int]account),
		byName:   make(map[string]int),
		chats:    make(map[int]models.Chat),
		members:  make(map[int]map[int]bool),
		messages: make(map[int]models.Message),
	}
}

func (s *Store) id() int {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateUser(username, password string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[username]; ok {
		return models.User{}, ErrUserExists
	}
	u := models.User{ID: s.id(), Username: username}
	s.accounts[u.ID] = account{user: u, password: password}
	s.byName[username] = u.ID
	return u, nil
}

func (s *Store) Authenticate(username, password string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[username]
	if !ok || s.accounts[id].password != password {
		return models.User{}, ErrBadCredentials
	}
	return s.accounts[id].user, nil
}

func (s *Store) User(id int) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return a.user, nil
}

func (s *Store) Users() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateChat stores a chat and makes memberIDs its members.
func (s *Store) CreateChat(name string, kind models.ChatKind, background string, memberIDs ...int) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range memberIDs {
		if _, ok := s.accounts[id]; !ok {
			return models.Chat{}, ErrUserNotFound
		}
	}
	chat := models.Chat{ID: s.id(), Name: name, Kind: kind, Background: background}
	s.chats[chat.ID] = chat
	s.members[chat.ID] = make(map[int]bool)
	for _, id := range memberIDs {
		s.members[chat.ID][id] = true
	}
	return chat, nil
}

func (s *Store) AddMember(chatID, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return ErrChatNotFound
	}
	if _, ok := s.accounts[userID]; !ok {
		return ErrUserNotFound
	}
	if s.members[chatID][userID] {
		return ErrAlreadyMember
	}
	s.members[chatID][userID] = true
	return nil
}

func (s *Store) IsMember(chatID, userID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[chatID][userID]
}

// ChatsFor lists the chats userID belongs to in creation order.
func (s *Store) ChatsFor(userID int) ([]models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[userID]; !ok {
		return nil, ErrUserNotFound
	}
	out := []models.Chat{}
	for id, chat := range s.chats {
		if s.members[id][userID] {
			out = append(out, chat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Members(chatID int) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.chats[chatID]; !ok {
		return nil, ErrChatNotFound
	}
	out := []models.User{}
	for id := range s.members[chatID] {
		out = append(out, s.accounts[id].user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteChat removes a chat together with its messages.
func (s *Store) DeleteChat(chatID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return ErrChatNotFound
	}
	delete(s.chats, chatID)
	delete(s.members, chatID)
	for id, m := range s.messages {
		if m.GroupID == chatID {
			delete(s.messages, id)
		}
	}
	return nil
}

func (s *Store) CreateMessage(chatID, authorID int, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return models.Message{}, ErrChatNotFound
	}
	m := models.Message{
		ID:        s.id(),
		GroupID:   chatID,
		AuthorID:  authorID,
		Content:   content,
		Timestamp: s.now(),
	}
	s.messages[m.ID] = m
	return m, nil
}

// Messages lists a chat's messages in creation order.
func (s *Store) Messages(chatID int) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Message{}
	for _, m := range s.messages {
		if m.GroupID == chatID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) EditMessage(messageID, userID int, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	if m.AuthorID != userID {
		return models.Message{}, ErrNotAuthor
	}
	m.Content = content
	m.Edited = true
	s.messages[messageID] = m
	return m, nil
}

func (s *Store) DeleteMessage(messageID, userID int) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	if m.AuthorID != userID {
		return models.Message{}, ErrNotAuthor
	}
	delete(s.messages, messageID)
	return m, nil
}
