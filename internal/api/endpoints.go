package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"chat-client/internal/models"
	"chat-client/internal/session"
)

// Credentials is the login and registration payload.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int    `json:"user_id"`
}

// Session converts a login result into the identity the client stores.
func (r LoginResult) Session(username string) session.Session {
	return session.Session{UserID: r.UserID, Token: r.AccessToken, Username: username}
}

type CreateChatRequest struct {
	UserID      int    `json:"user_id" validate:"gt=0"`
	RecipientID int    `json:"recipient_id" validate:"gt=0,nefield=UserID"`
	Name        string `json:"name,omitempty"`
}

type CreateGroupRequest struct {
	Name       string `json:"name" validate:"required"`
	Background string `json:"background,omitempty"`
}

type PostMessageRequest struct {
	Content  string `json:"content" validate:"required"`
	AuthorID int    `json:"author_id" validate:"gt=0"`
	GroupID  int    `json:"group_id" validate:"gt=0"`
}

type editMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	var out LoginResult
	err := c.do(ctx, request{method: http.MethodPost, route: "/login", path: "/login", body: creds}, &out)
	if err != nil {
		return LoginResult{}, err
	}
	if out.AccessToken == "" || out.UserID == 0 {
		return LoginResult{}, fmt.Errorf("login: incomplete response")
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, creds Credentials) (models.User, error) {
	var out models.User
	err := c.do(ctx, request{method: http.MethodPost, route: "/users", path: "/users", body: creds}, &out)
	return out, err
}

func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := c.do(ctx, request{method: http.MethodGet, route: "/users", path: "/users", auth: true}, &out)
	return out, err
}

// ListChats returns the chats userID belongs to, in backend order.
func (c *Client) ListChats(ctx context.Context, userID int) ([]models.Chat, error) {
	var out []models.Chat
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/chats",
		path:   "/chats",
		query:  url.Values{"user_id": {strconv.Itoa(userID)}},
		auth:   true,
	}, &out)
	return out, err
}

func (c *Client) CreateChat(ctx context.Context, req CreateChatRequest) (models.Chat, error) {
	var out models.Chat
	err := c.do(ctx, request{method: http.MethodPost, route: "/chats", path: "/chats", body: req, auth: true}, &out)
	return out, err
}

func (c *Client) CreateGroup(ctx context.Context, req CreateGroupRequest) (models.Chat, error) {
	var out models.Chat
	err := c.do(ctx, request{method: http.MethodPost, route: "/groups", path: "/groups", body: req, auth: true}, &out)
	if err == nil && out.Kind == "" {
		out.Kind = models.ChatKindGroup
	}
	return out, err
}

func (c *Client) AddUserToGroup(ctx context.Context, groupID, userID int) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  "/groups/{id}/add_user",
		path:   fmt.Sprintf("/groups/%d/add_user", groupID),
		query:  url.Values{"user_id": {strconv.Itoa(userID)}},
		auth:   true,
	}, nil)
}

// DeleteChat removes a chat or group.
func (c *Client) DeleteChat(ctx context.Context, chatID int) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		route:  "/groups/{id}",
		path:   fmt.Sprintf("/groups/%d", chatID),
		auth:   true,
	}, nil)
}

func (c *Client) ListGroupUsers(ctx context.Context, chatID int) ([]models.User, error) {
	var out []models.User
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/groups/{id}/users",
		path:   fmt.Sprintf("/groups/%d/users", chatID),
		auth:   true,
	}, &out)
	return out, err
}

// ListMessages fetches the full history of one chat.
func (c *Client) ListMessages(ctx context.Context, chatID int) ([]models.Message, error) {
	var out []models.Message
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/messages",
		path:   "/messages",
		query:  url.Values{"group_id": {strconv.Itoa(chatID)}},
		auth:   true,
	}, &out)
	return out, err
}

func (c *Client) PostMessage(ctx context.Context, req PostMessageRequest) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, request{method: http.MethodPost, route: "/messages", path: "/messages", body: req, auth: true}, &out)
	return out, err
}

func (c *Client) EditMessage(ctx context.Context, messageID int, content string) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, request{
		method: http.MethodPut,
		route:  "/messages/{id}",
		path:   fmt.Sprintf("/messages/%d", messageID),
		body:   editMessageRequest{Content: content},
		auth:   true,
	}, &out)
	return out, err
}

func (c *Client) DeleteMessage(ctx context.Context, messageID int) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		route:  "/messages/{id}",
		path:   fmt.Sprintf("/messages/%d", messageID),
		auth:   true,
	}, nil)
}
