package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/api"
	"chat-client/internal/models"
)

type ChatAPIMock struct {
	mock.Mock
}

func (m *ChatAPIMock) ListChats(ctx context.Context, userID int) ([]models.Chat, error) {
	args := m.Called(ctx, userID)
	var chats []models.Chat
	if val := args.Get(0); val != nil {
		chats = val.([]models.Chat)
	}
	return chats, args.Error(1)
}

func (m *ChatAPIMock) CreateChat(ctx context.Context, req api.CreateChatRequest) (models.Chat, error) {
	args := m.Called(ctx, req)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatAPIMock) CreateGroup(ctx context.Context, req api.CreateGroupRequest) (models.Chat, error) {
	args := m.Called(ctx, req)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatAPIMock) AddUserToGroup(ctx context.Context, groupID, userID int) error {
	args := m.Called(ctx, groupID, userID)
	return args.Error(0)
}

func (m *ChatAPIMock) DeleteChat(ctx context.Context, chatID int) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *ChatAPIMock) ListGroupUsers(ctx context.Context, chatID int) ([]models.User, error) {
	args := m.Called(ctx, chatID)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

type MessageAPIMock struct {
	mock.Mock
}

func (m *MessageAPIMock) ListMessages(ctx context.Context, chatID int) ([]models.Message, error) {
	args := m.Called(ctx, chatID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageAPIMock) EditMessage(ctx context.Context, messageID int, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageAPIMock) DeleteMessage(ctx context.Context, messageID int) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

// ChannelMock records what the directory and controller ask of the live channel.
type ChannelMock struct {
	mock.Mock
}

func (m *ChannelMock) Open(chatID int) {
	m.Called(chatID)
}

func (m *ChannelMock) Close() {
	m.Called()
}

func (m *ChannelMock) IsOpen() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *ChannelMock) Send(v any) error {
	args := m.Called(v)
	return args.Error(0)
}
