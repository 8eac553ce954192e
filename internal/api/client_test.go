package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
)

var testSession = session.Session{UserID: 1, Token: "tok-1"}

func setupServer(t *testing.T, register func(r *gin.Engine)) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginSuccess(t *testing.T) {
	srv := setupServer(t, func(r *gin.Engine) {
		r.POST("/login", func(c *gin.Context) {
			var body Credentials
			assert.NoError(t, c.ShouldBindJSON(&body))
			assert.Equal(t, "ann", body.Username)
			assert.Empty(t, c.GetHeader("Authorization"))
			c.JSON(http.StatusOK, gin.H{"access_token": "tok", "token_type": "bearer", "user_id": 7})
		})
	})

	res, err := New(srv.URL).Login(context.Background(), Credentials{Username: "ann", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, session.Session{UserID: 7, Token: "tok", Username: "ann"}, res.Session("ann"))
}

func TestLoginBackendDetail(t *testing.T) {
	srv := setupServer(t, func(r *gin.Engine) {
		r.POST("/login", func(c *gin.Context) {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid username or password"})
		})
	})

	_, err := New(srv.URL).Login(context.Background(), Credentials{Username: "ann", Password: "bad"})
	require.Error(t, err)
	assert.Equal(t, "Invalid username or password", Detail(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestValidationDetailList(t *testing.T) {
	srv := setupServer(t, func(r *gin.Engine) {
		r.POST("/users", func(c *gin.Context) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{{"msg": "field required"}, {"msg": "too short"}}})
		})
	})

	_, err := New(srv.URL).Register(context.Background(), Credentials{Username: "a", Password: "b"})
	assert.Equal(t, "field required; too short", Detail(err))
}

func TestErrorFieldAndStatusFallback(t *testing.T) {
	srv := setupServer(t, func(r *gin.Engine) {
		r.DELETE("/messages/:id", func(c *gin.Context) {
			c.JSON(http.StatusForbidden, gin.H{"error": "only sender may delete"})
		})
		r.DELETE("/groups/:id", func(c *gin.Context) {
			c.String(http.StatusBadGateway, "upstream")
		})
	})
	client := New(srv.URL, WithSession(testSession))

	assert.Equal(t, "only sender may delete", Detail(client.DeleteMessage(context.Background(), 3)))
	assert.Equal(t, http.StatusText(http.StatusBadGateway), Detail(client.DeleteChat(context.Background(), 3)))
}

func TestRequiresSessionBeforeNetwork(t *testing.T) {
	calls := 0
	srv := setupServer(t, func(r *gin.Engine) {
		r.GET("/chats", func(c *gin.Context) {
			calls++
			c.JSON(http.StatusOK, []models.Chat{})
		})
	})

	_, err := New(srv.URL).ListChats(context.Background(), 1)
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.ErrorIs(t, err, session.ErrNoSession)
	assert.Equal(t, 0, calls)
}

func TestInvalidPayloadNotSent(t *testing.T) {
	calls := 0
	srv := setupServer(t, func(r *gin.Engine) {
		r.POST("/chats", func(c *gin.Context) { calls++ })
	})

	_, err := New(srv.URL, WithSession(testSession)).CreateChat(context.Background(), CreateChatRequest{UserID: 1, RecipientID: 1})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 0, calls)
}

func TestListMessagesSendsHeaders(t *testing.T) {
	srv := setupServer(t, func(r *gin.Engine) {
		r.GET("/messages", func(c *gin.Context) {
			assert.Equal(t, "Bearer tok-1", c.GetHeader("Authorization"))
			assert.Equal(t, "5", c.Query("group_id"))
			assert.Equal(t, "req-77", c.GetHeader(observability.HeaderRequestID))
			assert.Equal(t, "laptop", c.GetHeader(observability.HeaderDeviceID))
			c.JSON(http.StatusOK, []gin.H{
				{"id": 1, "group_id": 5, "author_id": 1, "content": "a", "timestamp": time.Now(), "edited": 0},
				{"id": 2, "group_id": 5, "author_id": 2, "content": "b", "timestamp": time.Now(), "edited": 1},
			})
		})
	})

	client := New(srv.URL, WithSession(testSession), WithDeviceID("laptop"))
	ctx := telemetry.WithRequestID(context.Background(), "req-77")
	msgs, err := client.ListMessages(ctx, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.False(t, bool(msgs[0].Edited))
	assert.True(t, bool(msgs[1].Edited))
}

func TestChatEndpoints(t *testing.T) {
	var added []string
	srv := setupServer(t, func(r *gin.Engine) {
		r.GET("/chats", func(c *gin.Context) {
			assert.Equal(t, "1", c.Query("user_id"))
			c.JSON(http.StatusOK, []gin.H{{"id": 3, "name": "Chat with bob", "type": "private"}})
		})
		r.POST("/chats", func(c *gin.Context) {
			var body CreateChatRequest
			assert.NoError(t, c.ShouldBindJSON(&body))
			c.JSON(http.StatusOK, gin.H{"id": 4, "name": body.Name, "type": "private"})
		})
		r.POST("/groups", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"id": 9, "name": "team", "background": "#ECE5DD"})
		})
		r.POST("/groups/:id/add_user", func(c *gin.Context) {
			added = append(added, c.Param("id")+":"+c.Query("user_id"))
			c.JSON(http.StatusOK, gin.H{"message": "User added to group"})
		})
		r.GET("/groups/:id/users", func(c *gin.Context) {
			c.JSON(http.StatusOK, []gin.H{{"id": 1, "username": "ann"}, {"id": 2, "username": "bob"}})
		})
	})
	client := New(srv.URL, WithSession(testSession))
	ctx := context.Background()

	chats, err := client.ListChats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, models.ChatKindDirect, chats[0].Kind)

	chat, err := client.CreateChat(ctx, CreateChatRequest{UserID: 1, RecipientID: 2, Name: "pair"})
	require.NoError(t, err)
	assert.Equal(t, 4, chat.ID)

	group, err := client.CreateGroup(ctx, CreateGroupRequest{Name: "team", Background: "#ECE5DD"})
	require.NoError(t, err)
	assert.Equal(t, models.ChatKindGroup, group.Kind)

	require.NoError(t, client.AddUserToGroup(ctx, 9, 2))
	assert.Equal(t, []string{"9:2"}, added)

	users, err := client.ListGroupUsers(ctx, 9)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestEditMessage(t *testing.T) {
	srv := setupServer(t, func(r *gin.Engine) {
		r.PUT("/messages/:id", func(c *gin.Context) {
			var body struct {
				Content string `json:"content"`
			}
			assert.NoError(t, c.ShouldBindJSON(&body))
			c.JSON(http.StatusOK, gin.H{"id": 42, "group_id": 5, "author_id": 1, "content": body.Content, "edited": 1})
		})
	})

	msg, err := New(srv.URL, WithSession(testSession)).EditMessage(context.Background(), 42, "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", msg.Content)
	assert.True(t, bool(msg.Edited))
}

func TestTransportFailure(t *testing.T) {
	srv := setupServer(t, func(r *gin.Engine) {})
	url := srv.URL
	srv.Close()

	_, err := New(url, WithSession(testSession)).ListUsers(context.Background())
	require.Error(t, err)
	assert.Empty(t, Detail(err))
}

func TestWithSessionCopies(t *testing.T) {
	base := New("http://example.invalid")
	bound := base.WithSession(testSession)

	assert.Equal(t, session.Session{}, base.Session())
	assert.Equal(t, testSession, bound.Session())
}
