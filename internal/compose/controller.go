// Package compose turns user actions on messages into backend calls.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chat-client/internal/api"
	"chat-client/internal/eventloop"
	"chat-client/internal/models"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
)

var (
	ErrNoTarget       = errors.New("no message selected")
	ErrUnknownMessage = errors.New("message is not in the active chat")
	ErrNotOwnMessage  = errors.New("only your own messages have actions")
)

type MessageAPI interface {
	EditMessage(ctx context.Context, messageID int, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID int) error
}

type Channel interface {
	IsOpen() bool
	Send(v any) error
}

// MessageLog is the part of the log the controller reads and short-circuits.
type MessageLog interface {
	ChatID() int
	Get(id int) (models.Message, bool)
	ApplyUpdate(m models.Message) bool
	ApplyDelete(id int) bool
}

type Alerter interface {
	Alert(msg string)
}

type Options struct {
	Loop    *eventloop.Loop
	API     MessageAPI
	Session session.Session
	Channel Channel
	Log     MessageLog
	// Active reports the active chat. It is called on the loop.
	Active func() (int, bool)
	Alerts Alerter
	Audit  *telemetry.AuditEmitter
	Logger *slog.Logger
}

// Controller handles send, edit and delete. Its exported methods must not be
// called from the event loop.
type Controller struct {
	loop    *eventloop.Loop
	api     MessageAPI
	self    session.Session
	channel Channel
	log     MessageLog
	active  func() (int, bool)
	alerts  Alerter
	audit   *telemetry.AuditEmitter
	logger  *slog.Logger

	menu int
}

func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		loop:    opts.Loop,
		api:     opts.API,
		self:    opts.Session,
		channel: opts.Channel,
		log:     opts.Log,
		active:  opts.Active,
		alerts:  opts.Alerts,
		audit:   opts.Audit,
		logger:  logger,
	}
}

// Send writes text to the active chat over the live channel. Blank text, no
// active chat or a channel that is not open make it a silent no-op. The
// message is rendered when the backend echoes it.
func (c *Controller) Send(ctx context.Context, text string) error {
	ctx = telemetry.EnsureRequestID(ctx)
	content := strings.TrimSpace(text)
	if content == "" {
		return nil
	}

	var (
		chatID  int
		sendErr error
	)
	err := c.loop.Do(ctx, func() {
		active, ok := c.active()
		if !ok || !c.channel.IsOpen() {
			return
		}
		chatID = active
		sendErr = c.channel.Send(models.OutgoingMessage{
			Content:  content,
			AuthorID: c.self.UserID,
			GroupID:  active,
		})
		if sendErr != nil {
			c.logger.Error("send message failed", "chat_id", active, "err", sendErr)
			c.alerts.Alert("Could not send message")
		}
	})
	if err != nil {
		return err
	}
	if chatID == 0 || sendErr != nil {
		return sendErr
	}
	c.audit.Emit(ctx, c.self.UserID, "INFO", telemetry.AuditPayload{
		Action: telemetry.ActionMessageSent,
		Text:   "Message sent",
		ChatID: chatID,
	})
	return nil
}

// Edit replaces the content of messageID, or of the menu target when
// messageID is 0.
func (c *Controller) Edit(ctx context.Context, messageID int, text string) error {
	ctx = telemetry.EnsureRequestID(ctx)
	content := strings.TrimSpace(text)
	if content == "" {
		return nil
	}
	messageID, chatID, err := c.target(ctx, messageID)
	if err != nil {
		return err
	}

	msg, err := c.api.EditMessage(ctx, messageID, content)
	if err != nil {
		c.fail(ctx, err, "Could not edit message", telemetry.ActionMessageEdited, chatID, messageID)
		return fmt.Errorf("edit message %d: %w", messageID, err)
	}

	err = c.loop.Do(ctx, func() {
		if msg.GroupID == c.log.ChatID() {
			c.log.ApplyUpdate(msg)
		}
		c.closeMenu(messageID)
	})
	if err != nil {
		return err
	}
	c.audit.Emit(ctx, c.self.UserID, "INFO", telemetry.AuditPayload{
		Action:    telemetry.ActionMessageEdited,
		Text:      "Message edited",
		ChatID:    msg.GroupID,
		MessageID: messageID,
	})
	return nil
}

// Delete removes messageID, or the menu target when messageID is 0.
func (c *Controller) Delete(ctx context.Context, messageID int) error {
	ctx = telemetry.EnsureRequestID(ctx)
	messageID, chatID, err := c.target(ctx, messageID)
	if err != nil {
		return err
	}

	if err := c.api.DeleteMessage(ctx, messageID); err != nil {
		c.fail(ctx, err, "Could not delete message", telemetry.ActionMessageDeleted, chatID, messageID)
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}

	err = c.loop.Do(ctx, func() {
		if chatID == c.log.ChatID() {
			c.log.ApplyDelete(messageID)
		}
		c.closeMenu(messageID)
	})
	if err != nil {
		return err
	}
	c.audit.Emit(ctx, c.self.UserID, "INFO", telemetry.AuditPayload{
		Action:    telemetry.ActionMessageDeleted,
		Text:      "Message deleted",
		ChatID:    chatID,
		MessageID: messageID,
	})
	return nil
}

// OpenMenu opens the action menu for one of the user's own messages.
func (c *Controller) OpenMenu(ctx context.Context, messageID int) error {
	var err error
	if doErr := c.loop.Do(ctx, func() {
		m, ok := c.log.Get(messageID)
		switch {
		case !ok:
			err = fmt.Errorf("%w: %d", ErrUnknownMessage, messageID)
		case m.AuthorID != c.self.UserID:
			err = fmt.Errorf("%w: %d", ErrNotOwnMessage, messageID)
		default:
			c.menu = messageID
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

func (c *Controller) CloseMenu(ctx context.Context) error {
	return c.loop.Do(ctx, func() { c.menu = 0 })
}

// MenuTarget reports the message whose menu is open. A target that has left
// the log no longer counts.
func (c *Controller) MenuTarget(ctx context.Context) (int, bool) {
	var id int
	_ = c.loop.Do(ctx, func() {
		if _, ok := c.log.Get(c.menu); ok {
			id = c.menu
		}
	})
	return id, id != 0
}

// target resolves the message an action applies to and the chat it is in.
func (c *Controller) target(ctx context.Context, messageID int) (int, int, error) {
	var chatID int
	err := c.loop.Do(ctx, func() {
		if messageID == 0 {
			if _, ok := c.log.Get(c.menu); ok {
				messageID = c.menu
			}
		}
		chatID = c.log.ChatID()
	})
	if err != nil {
		return 0, 0, err
	}
	if messageID == 0 {
		return 0, 0, ErrNoTarget
	}
	return messageID, chatID, nil
}

func (c *Controller) closeMenu(messageID int) {
	if c.menu == messageID {
		c.menu = 0
	}
}

func (c *Controller) fail(ctx context.Context, err error, generic, action string, chatID, messageID int) {
	c.logger.Error("message action failed", "action", action, "chat_id", chatID, "message_id", messageID, "err", err)
	msg := api.Detail(err)
	if msg == "" {
		msg = generic
	}
	c.alerts.Alert(msg)
	c.audit.Emit(ctx, c.self.UserID, "ERROR", telemetry.AuditPayload{
		Action:    action,
		Text:      msg,
		ChatID:    chatID,
		MessageID: messageID,
	})
}
