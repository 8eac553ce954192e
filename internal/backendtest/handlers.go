package backendtest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/telemetry"
)

const requestIDContextKey = "request_id"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type handler struct {
	store  *Store
	hub    *Hub
	tokens *Tokens
	audit  *telemetry.AuditEmitter
}

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// register handles POST /users.
func (h *handler) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "body", err)
		return
	}
	user, err := h.store.CreateUser(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Username already registered"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// login handles POST /login.
func (h *handler) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "body", err)
		return
	}
	user, err := h.store.Authenticate(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid username or password"})
		return
	}
	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "could not issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer", "user_id": user.ID})
}

func (h *handler) listUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Users())
}

// listChats handles GET /chats?user_id=.
func (h *handler) listChats(c *gin.Context) {
	userID, err := strconv.Atoi(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{
			{"loc": []string{"query", "user_id"}, "msg": "field required", "type": "value_error.missing"},
		}})
		return
	}
	chats, err := h.store.ChatsFor(userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
		return
	}
	c.JSON(http.StatusOK, chatResponses(chats))
}

// createChat handles POST /chats.
func (h *handler) createChat(c *gin.Context) {
	var req struct {
		UserID      int    `json:"user_id" binding:"required"`
		RecipientID int    `json:"recipient_id" binding:"required"`
		Name        string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "body", err)
		return
	}
	recipient, err := h.store.User(req.RecipientID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Chat with " + recipient.Username
	}
	chat, err := h.store.CreateChat(name, models.ChatKindDirect, DefaultPrivateBackground, req.UserID, req.RecipientID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
		return
	}
	h.emitAudit(c, "INFO", telemetry.AuditPayload{Action: telemetry.ActionChatCreated, Text: "Chat created", ChatID: chat.ID})
	c.JSON(http.StatusOK, chatResponse(chat))
}

// createGroup handles POST /groups. The caller is not added; clients call
// add_user for every member.
func (h *handler) createGroup(c *gin.Context) {
	var req struct {
		Name       string `json:"name" binding:"required"`
		Background string `json:"background"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "body", err)
		return
	}
	chat, err := h.store.CreateChat(req.Name, models.ChatKindGroup, req.Background)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "could not create group"})
		return
	}
	h.emitAudit(c, "INFO", telemetry.AuditPayload{Action: telemetry.ActionGroupCreated, Text: "Group created", ChatID: chat.ID})
	c.JSON(http.StatusOK, gin.H{"id": chat.ID, "name": chat.Name, "background": chat.Background})
}

// addUser handles POST /groups/:group_id/add_user?user_id=.
func (h *handler) addUser(c *gin.Context) {
	chatID, ok := pathID(c, "group_id")
	if !ok {
		return
	}
	userID, err := strconv.Atoi(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{
			{"loc": []string{"query", "user_id"}, "msg": "field required", "type": "value_error.missing"},
		}})
		return
	}
	switch err := h.store.AddMember(chatID, userID); {
	case errors.Is(err, ErrAlreadyMember):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "User already in group"})
	case err != nil:
		c.JSON(http.StatusNotFound, gin.H{"detail": "Group or user not found"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "User added to group"})
	}
}

func (h *handler) groupUsers(c *gin.Context) {
	chatID, ok := pathID(c, "group_id")
	if !ok {
		return
	}
	users, err := h.store.Members(chatID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Group not found"})
		return
	}
	c.JSON(http.StatusOK, users)
}

// deleteGroup handles DELETE /groups/:group_id.
func (h *handler) deleteGroup(c *gin.Context) {
	chatID, ok := pathID(c, "group_id")
	if !ok {
		return
	}
	if err := h.store.DeleteChat(chatID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Group not found"})
		return
	}
	h.emitAudit(c, "INFO", telemetry.AuditPayload{Action: telemetry.ActionChatDeleted, Text: "Group deleted", ChatID: chatID})
	c.JSON(http.StatusOK, gin.H{"message": "Group deleted"})
}

// listMessages handles GET /messages?group_id=.
func (h *handler) listMessages(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Query("group_id"))
	if err != nil {
		c.JSON(http.StatusOK, []messageOut{})
		return
	}
	c.JSON(http.StatusOK, messagesOut(h.store.Messages(chatID)))
}

// postMessage persists and broadcasts a message. The author is the caller.
func (h *handler) postMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
		GroupID int    `json:"group_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "body", err)
		return
	}
	userID := c.GetInt(userIDContextKey)
	msg, err := h.store.CreateMessage(req.GroupID, userID, req.Content)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Group not found"})
		return
	}
	h.hub.Broadcast(msg.GroupID, models.EventNewMessage, msg)
	h.emitAudit(c, "INFO", telemetry.AuditPayload{Action: telemetry.ActionMessageSent, Text: "Message sent", ChatID: msg.GroupID, MessageID: msg.ID})
	c.JSON(http.StatusOK, toMessageOut(msg))
}

// editMessage handles PUT /messages/:message_id.
func (h *handler) editMessage(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "body", err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Content cannot be empty"})
		return
	}
	msg, err := h.store.EditMessage(messageID, c.GetInt(userIDContextKey), req.Content)
	if err != nil {
		h.messageError(c, err, "edit", telemetry.ActionMessageEdited)
		return
	}
	h.hub.Broadcast(msg.GroupID, models.EventUpdatedMessage, msg)
	h.emitAudit(c, "INFO", telemetry.AuditPayload{Action: telemetry.ActionMessageEdited, Text: "Message edited", ChatID: msg.GroupID, MessageID: msg.ID})
	c.JSON(http.StatusOK, toMessageOut(msg))
}

// deleteMessage handles DELETE /messages/:message_id.
func (h *handler) deleteMessage(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	msg, err := h.store.DeleteMessage(messageID, c.GetInt(userIDContextKey))
	if err != nil {
		h.messageError(c, err, "delete", telemetry.ActionMessageDeleted)
		return
	}
	h.hub.Broadcast(msg.GroupID, models.EventDeletedMessage, models.Message{ID: msg.ID, GroupID: msg.GroupID})
	h.emitAudit(c, "INFO", telemetry.AuditPayload{Action: telemetry.ActionMessageDeleted, Text: "Message deleted", ChatID: msg.GroupID, MessageID: msg.ID})
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

func (h *handler) messageError(c *gin.Context, err error, verb, action string) {
	if errors.Is(err, ErrNotAuthor) {
		h.emitAudit(c, "ERROR", telemetry.AuditPayload{Action: action, Text: "not allowed"})
		c.JSON(http.StatusForbidden, gin.H{"detail": "You are not allowed to " + verb + " this message"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"detail": "Message not found"})
}

// push upgrades GET /ws/:group_id and relays the client's frames as new
// messages of that chat.
func (h *handler) push(c *gin.Context) {
	chatID, ok := pathID(c, "group_id")
	if !ok {
		return
	}

	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	userID, err := h.tokens.Validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
		return
	}
	if !h.store.IsMember(chatID, userID) {
		c.JSON(http.StatusForbidden, gin.H{"detail": "not authorized for group"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn, userID: userID, connectedAt: time.Now()}
	h.hub.add(chatID, p)

	go func() {
		defer func() {
			h.hub.remove(chatID, p)
			conn.Close()
		}()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame models.OutgoingMessage
			if err := json.Unmarshal(payload, &frame); err != nil || strings.TrimSpace(frame.Content) == "" {
				_ = p.write([]byte(`{"error":"Invalid message format"}`))
				continue
			}
			msg, err := h.store.CreateMessage(chatID, userID, frame.Content)
			if err != nil {
				_ = p.write([]byte(`{"error":"Group not found"}`))
				continue
			}
			h.hub.Broadcast(chatID, models.EventNewMessage, msg)
		}
	}()
}

func (h *handler) emitAudit(c *gin.Context, level string, payload telemetry.AuditPayload) {
	if h.audit == nil {
		return
	}
	ctx := telemetry.WithRequestID(c.Request.Context(), requestIDFromContext(c))
	h.audit.Emit(ctx, c.GetInt(userIDContextKey), level, payload)
}

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{
			{"loc": []string{"path", name}, "msg": "value is not a valid integer", "type": "type_error.integer"},
		}})
		return 0, false
	}
	return id, true
}

func validationError(c *gin.Context, loc string, err error) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": []gin.H{
		{"loc": []string{loc}, "msg": err.Error(), "type": "value_error"},
	}})
}

// messageOut is the backend's message shape: an offset-less UTC timestamp,
// an edit counter and a null recipient for group messages.
type messageOut struct {
	ID          int    `json:"id"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
	AuthorID    int    `json:"author_id"`
	GroupID     int    `json:"group_id"`
	RecipientID *int   `json:"recipient_id"`
	Edited      int    `json:"edited"`
}

func toMessageOut(m models.Message) messageOut {
	out := messageOut{
		ID:        m.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC().Format(models.NaiveLayout),
		AuthorID:  m.AuthorID,
		GroupID:   m.GroupID,
	}
	if m.Edited {
		out.Edited = 1
	}
	return out
}

func messagesOut(messages []models.Message) []messageOut {
	out := make([]messageOut, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageOut(m))
	}
	return out
}

func chatResponse(chat models.Chat) gin.H {
	kind := "group"
	if chat.Kind == models.ChatKindDirect {
		kind = "private"
	}
	return gin.H{"id": chat.ID, "name": chat.Name, "type": kind, "background": chat.Background}
}

func chatResponses(chats []models.Chat) []gin.H {
	out := make([]gin.H, 0, len(chats))
	for _, chat := range chats {
		out = append(out, chatResponse(chat))
	}
	return out
}
