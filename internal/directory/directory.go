// Package directory lists the user's chats and owns the active chat id.
//
// Exported methods may be called from any goroutine except the event loop:
// backend calls run on the caller's goroutine and state changes are applied on
// the loop. Active and Chats are loop-side reads.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"chat-client/internal/api"
	"chat-client/internal/eventloop"
	"chat-client/internal/models"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
)

const (
	// NoChatTitle is shown while no chat is active.
	NoChatTitle = "Select a chat"
	// GroupBackground is the background of groups created here.
	GroupBackground = "#ECE5DD"
)

var (
	ErrUnknownChat  = errors.New("chat is not in the directory")
	ErrNoActiveChat = errors.New("no active chat")
	ErrInvalidGroup = errors.New("invalid group")
)

var validate = validator.New()

// ChatAPI is the part of the backend the directory calls.
type ChatAPI interface {
	ListChats(ctx context.Context, userID int) ([]models.Chat, error)
	CreateChat(ctx context.Context, req api.CreateChatRequest) (models.Chat, error)
	CreateGroup(ctx context.Context, req api.CreateGroupRequest) (models.Chat, error)
	AddUserToGroup(ctx context.Context, groupID, userID int) error
	DeleteChat(ctx context.Context, chatID int) error
	ListGroupUsers(ctx context.Context, chatID int) ([]models.User, error)
}

// Channel is the live channel as the directory drives it.
type Channel interface {
	Open(chatID int)
	Close()
}

// MessageLog is blanked and rebound whenever the active chat changes.
type MessageLog interface {
	Reset(chatID int)
}

type Renderer interface {
	RenderChats(chats []models.Chat, activeID int)
	SetTitle(title string)
	RenderParticipants(users []models.User, selfID int)
}

type Alerter interface {
	Alert(msg string)
}

type Options struct {
	Loop    *eventloop.Loop
	API     ChatAPI
	Session session.Session
	Channel Channel
	Log     MessageLog
	View    Renderer
	Alerts  Alerter
	Audit   *telemetry.AuditEmitter
	Logger  *slog.Logger
}

// Directory is the single writer of the active chat id.
type Directory struct {
	loop    *eventloop.Loop
	api     ChatAPI
	self    session.Session
	channel Channel
	log     MessageLog
	view    Renderer
	alerts  Alerter
	audit   *telemetry.AuditEmitter
	logger  *slog.Logger

	chats  []models.Chat
	active int
}

func New(opts Options) *Directory {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		loop:    opts.Loop,
		api:     opts.API,
		self:    opts.Session,
		channel: opts.Channel,
		log:     opts.Log,
		view:    opts.View,
		alerts:  opts.Alerts,
		audit:   opts.Audit,
		logger:  logger,
	}
}

// Active returns the active chat id. Loop only.
func (d *Directory) Active() (int, bool) {
	return d.active, d.active != 0
}

// Chats returns the last fetched list. Loop only.
func (d *Directory) Chats() []models.Chat {
	return append([]models.Chat(nil), d.chats...)
}

// Refresh refetches the chat list. When nothing is active the first chat is
// selected.
func (d *Directory) Refresh(ctx context.Context) error {
	chats, err := d.api.ListChats(ctx, d.self.UserID)
	doErr := d.loop.Do(ctx, func() {
		if err != nil {
			d.logger.Error("load chats failed", "user_id", d.self.UserID, "err", err)
			d.chats = nil
			d.view.RenderChats(nil, d.active)
			d.alerts.Alert(alertText(err, "Could not load chats"))
			return
		}
		d.chats = chats
		d.view.RenderChats(d.Chats(), d.active)
		if d.active == 0 && len(chats) > 0 {
			_ = d.selectChat(chats[0].ID)
		}
	})
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}
	return doErr
}

// Select makes chatID the active chat. Selecting the active chat is a no-op.
func (d *Directory) Select(ctx context.Context, chatID int) error {
	var err error
	if doErr := d.loop.Do(ctx, func() { err = d.selectChat(chatID) }); doErr != nil {
		return doErr
	}
	return err
}

func (d *Directory) selectChat(chatID int) error {
	if chatID == d.active {
		return nil
	}
	chat, ok := lo.Find(d.chats, func(c models.Chat) bool { return c.ID == chatID })
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChat, chatID)
	}

	d.active = chatID
	d.log.Reset(chatID)
	d.channel.Open(chatID)
	d.view.RenderChats(d.Chats(), chatID)
	d.view.SetTitle(chat.Name)
	d.logger.Info("chat selected", "chat_id", chatID)
	return nil
}

// Delete removes a chat on the backend. If it was active the session is
// cleared before the list is refetched.
func (d *Directory) Delete(ctx context.Context, chatID int) error {
	ctx = telemetry.EnsureRequestID(ctx)
	if err := d.api.DeleteChat(ctx, chatID); err != nil {
		d.logger.Error("delete chat failed", "chat_id", chatID, "err", err)
		d.alerts.Alert(alertText(err, "Could not delete chat"))
		return fmt.Errorf("delete chat %d: %w", chatID, err)
	}

	err := d.loop.Do(ctx, func() {
		if d.active != chatID {
			return
		}
		d.active = 0
		d.channel.Close()
		d.log.Reset(0)
		d.view.SetTitle(NoChatTitle)
	})
	if err != nil {
		return err
	}
	d.audit.Emit(ctx, d.self.UserID, "INFO", telemetry.AuditPayload{
		Action: telemetry.ActionChatDeleted,
		Text:   "Chat deleted",
		ChatID: chatID,
	})
	return d.Refresh(ctx)
}

// CreatePrivateChat starts a one-to-one chat with recipientID and selects it.
func (d *Directory) CreatePrivateChat(ctx context.Context, recipientID int, name string) (models.Chat, error) {
	ctx = telemetry.EnsureRequestID(ctx)
	chat, err := d.api.CreateChat(ctx, api.CreateChatRequest{
		UserID:      d.self.UserID,
		RecipientID: recipientID,
		Name:        strings.TrimSpace(name),
	})
	if err != nil {
		d.logger.Error("create chat failed", "recipient_id", recipientID, "err", err)
		d.alerts.Alert(alertText(err, "Could not create chat"))
		return models.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	d.audit.Emit(ctx, d.self.UserID, "INFO", telemetry.AuditPayload{
		Action: telemetry.ActionChatCreated,
		Text:   "Chat created",
		ChatID: chat.ID,
	})
	return chat, d.refreshAndSelect(ctx, chat.ID)
}

type groupForm struct {
	Name    string `validate:"required"`
	Members []int  `validate:"min=1,dive,gt=0"`
}

// CreateGroup creates a group, adds the members and the current user to it
// and selects it.
func (d *Directory) CreateGroup(ctx context.Context, name string, memberIDs []int) (models.Chat, error) {
	ctx = telemetry.EnsureRequestID(ctx)
	form := groupForm{Name: strings.TrimSpace(name), Members: memberIDs}
	if err := validate.Struct(form); err != nil {
		msg := "Select at least one member"
		if form.Name == "" {
			msg = "Enter a group name"
		}
		d.alerts.Alert(msg)
		return models.Chat{}, fmt.Errorf("%w: %s", ErrInvalidGroup, msg)
	}

	chat, err := d.api.CreateGroup(ctx, api.CreateGroupRequest{Name: form.Name, Background: GroupBackground})
	if err != nil {
		d.logger.Error("create group failed", "name", form.Name, "err", err)
		d.alerts.Alert(alertText(err, "Could not create group"))
		return models.Chat{}, fmt.Errorf("create group: %w", err)
	}

	for _, userID := range lo.Uniq(append(append([]int(nil), memberIDs...), d.self.UserID)) {
		if err := d.api.AddUserToGroup(ctx, chat.ID, userID); err != nil {
			d.logger.Warn("add group member failed", "chat_id", chat.ID, "user_id", userID, "err", err)
		}
	}
	d.audit.Emit(ctx, d.self.UserID, "INFO", telemetry.AuditPayload{
		Action: telemetry.ActionGroupCreated,
		Text:   "Group created",
		ChatID: chat.ID,
	})
	return chat, d.refreshAndSelect(ctx, chat.ID)
}

func (d *Directory) refreshAndSelect(ctx context.Context, chatID int) error {
	if err := d.Refresh(ctx); err != nil {
		return err
	}
	return d.Select(ctx, chatID)
}

// Participants lists and renders the members of the active chat.
func (d *Directory) Participants(ctx context.Context) ([]models.User, error) {
	var chatID int
	if err := d.loop.Do(ctx, func() { chatID = d.active }); err != nil {
		return nil, err
	}
	if chatID == 0 {
		return nil, ErrNoActiveChat
	}

	users, err := d.api.ListGroupUsers(ctx, chatID)
	if err != nil {
		d.logger.Error("load participants failed", "chat_id", chatID, "err", err)
		d.alerts.Alert(alertText(err, "Could not load participants"))
		return nil, fmt.Errorf("list participants: %w", err)
	}
	if err := d.loop.Do(ctx, func() { d.view.RenderParticipants(users, d.self.UserID) }); err != nil {
		return nil, err
	}
	return users, nil
}

// alertText prefers the backend's own message over the generic one.
func alertText(err error, generic string) string {
	if detail := api.Detail(err); detail != "" {
		return detail
	}
	return generic
}
