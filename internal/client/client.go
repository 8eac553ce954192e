// Package client wires the chat components into one live session: the
// directory picks the active chat, the live channel follows it, and the
// message log is filled by a fetch on every channel open and kept current by
// pushed frames.
package client

import (
	"context"
	"log/slog"
	"time"

	"chat-client/internal/api"
	"chat-client/internal/compose"
	"chat-client/internal/directory"
	"chat-client/internal/eventloop"
	"chat-client/internal/messagelog"
	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/telemetry"
	"chat-client/internal/ws"
)

// View is everything the session draws on.
type View interface {
	messagelog.Renderer
	directory.Renderer
	directory.Alerter
}

type Options struct {
	API            *api.Client
	WSURL          string
	DeviceID       string
	ReconnectDelay time.Duration
	Dialer         ws.Dialer
	View           View
	Events         *observability.Events
	Audit          *telemetry.AuditEmitter
	Logger         *slog.Logger
}

// Client is one user's live chat session.
type Client struct {
	loop    *eventloop.Loop
	api     *api.Client
	log     *messagelog.Log
	channel *ws.Channel
	dir     *directory.Directory
	compose *compose.Controller
	logger  *slog.Logger

	ctx   context.Context
	loads int
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	self := opts.API.Session()

	c := &Client{
		loop:   eventloop.New(),
		api:    opts.API,
		logger: logger,
		ctx:    context.Background(),
	}
	c.log = messagelog.New(opts.View, logger)
	c.channel = ws.NewChannel(c.loop, ws.Options{
		BaseURL:        opts.WSURL,
		Session:        self,
		DeviceID:       opts.DeviceID,
		ReconnectDelay: opts.ReconnectDelay,
		Dialer:         opts.Dialer,
		Events:         opts.Events,
		Logger:         logger,
	}, c.active, c)
	c.dir = directory.New(directory.Options{
		Loop:    c.loop,
		API:     opts.API,
		Session: self,
		Channel: c.channel,
		Log:     c.log,
		View:    opts.View,
		Alerts:  opts.View,
		Audit:   opts.Audit,
		Logger:  logger,
	})
	c.compose = compose.New(compose.Options{
		Loop:    c.loop,
		API:     opts.API,
		Session: self,
		Channel: c.channel,
		Log:     c.log,
		Active:  c.active,
		Alerts:  opts.View,
		Audit:   opts.Audit,
		Logger:  logger,
	})
	return c
}

// Run drives the session until ctx is cancelled. Every other method needs
// Run to be in progress.
func (c *Client) Run(ctx context.Context) error {
	c.ctx = ctx
	defer c.channel.Close()
	return c.loop.Run(ctx)
}

// Done is closed when Run returns.
func (c *Client) Done() <-chan struct{} {
	return c.loop.Done()
}

func (c *Client) active() (int, bool) {
	return c.dir.Active()
}

// ChannelOpened loads the full history of chatID. The result is dropped if
// another chat became active while it was in flight.
func (c *Client) ChannelOpened(chatID int) {
	ctx := c.ctx
	go func() {
		msgs, err := c.api.ListMessages(ctx, chatID)
		c.loop.Post(func() {
			if err != nil {
				c.logger.Warn("load messages failed", "chat_id", chatID, "err", err)
				return
			}
			if active, _ := c.active(); active != chatID {
				c.logger.Info("stale history discarded", "chat_id", chatID, "active_chat_id", active)
				return
			}
			if c.log.Replace(chatID, msgs) {
				c.loads++
			}
		})
	}()
}

// FrameReceived applies one pushed frame to the message log.
func (c *Client) FrameReceived(ev models.Event) {
	switch ev.Type {
	case models.EventNewMessage:
		c.log.ApplyInsert(*ev.Data)
	case models.EventUpdatedMessage:
		c.log.ApplyUpdate(*ev.Data)
	case models.EventDeletedMessage:
		c.log.ApplyDelete(ev.Data.ID)
	}
}

func (c *Client) Refresh(ctx context.Context) error {
	return c.dir.Refresh(ctx)
}

func (c *Client) Select(ctx context.Context, chatID int) error {
	return c.dir.Select(ctx, chatID)
}

func (c *Client) DeleteChat(ctx context.Context, chatID int) error {
	return c.dir.Delete(ctx, chatID)
}

func (c *Client) CreatePrivateChat(ctx context.Context, recipientID int, name string) (models.Chat, error) {
	return c.dir.CreatePrivateChat(ctx, recipientID, name)
}

func (c *Client) CreateGroup(ctx context.Context, name string, memberIDs []int) (models.Chat, error) {
	return c.dir.CreateGroup(ctx, name, memberIDs)
}

func (c *Client) Participants(ctx context.Context) ([]models.User, error) {
	return c.dir.Participants(ctx)
}

func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	return c.api.ListUsers(ctx)
}

func (c *Client) Send(ctx context.Context, text string) error {
	return c.compose.Send(ctx, text)
}

func (c *Client) Edit(ctx context.Context, messageID int, text string) error {
	return c.compose.Edit(ctx, messageID, text)
}

func (c *Client) DeleteMessage(ctx context.Context, messageID int) error {
	return c.compose.Delete(ctx, messageID)
}

func (c *Client) OpenMenu(ctx context.Context, messageID int) error {
	return c.compose.OpenMenu(ctx, messageID)
}

func (c *Client) CloseMenu(ctx context.Context) error {
	return c.compose.CloseMenu(ctx)
}

func (c *Client) MenuTarget(ctx context.Context) (int, bool) {
	return c.compose.MenuTarget(ctx)
}

// Snapshot is a consistent read of the session state.
type Snapshot struct {
	ActiveChat   int
	BoundChat    int
	ChannelState ws.State
	Chats        []models.Chat
	Messages     []models.Message
	// HistoryLoads counts fetched histories applied to the log.
	HistoryLoads int
}

func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.loop.Do(ctx, func() {
		s.ActiveChat, _ = c.dir.Active()
		s.BoundChat = c.channel.BoundChatID()
		s.ChannelState = c.channel.State()
		s.Chats = c.dir.Chats()
		s.Messages = c.log.Messages()
		s.HistoryLoads = c.loads
	})
	return s, err
}
