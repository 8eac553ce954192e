// Package ws is the live channel: one push connection bound to the active chat.
//
// Channel methods must be called from the event loop. Dials, reads and the
// reconnect timer run elsewhere and post their results back, tagged with the
// connection generation so results of a superseded connection are ignored.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-client/internal/eventloop"
	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/session"
)

var ErrNotOpen = errors.New("live channel is not open")

const DefaultReconnectDelay = 2 * time.Second

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handler receives channel notifications on the event loop.
type Handler interface {
	// ChannelOpened fires once per successful connection.
	ChannelOpened(chatID int)
	// FrameReceived gets message frames whose group_id is the bound chat.
	FrameReceived(ev models.Event)
}

// ActiveChat reports the chat the session currently displays.
type ActiveChat func() (int, bool)

type Options struct {
	BaseURL        string
	Session        session.Session
	DeviceID       string
	ReconnectDelay time.Duration
	// WriteTimeout bounds each frame and ping write.
	WriteTimeout time.Duration
	// PongTimeout is how long the connection may stay silent. Pings go out
	// twice per timeout.
	PongTimeout time.Duration
	Dialer      Dialer
	Events      *observability.Events
	Logger      *slog.Logger
}

// Channel is the single live connection of a client session.
type Channel struct {
	loop    *eventloop.Loop
	opts    Options
	active  ActiveChat
	handler Handler

	state      State
	chatID     int
	generation uint64
	conn       Conn
	writer     *writer
	info       ConnInfo
	cancelDial context.CancelFunc
	reconnect  *eventloop.Timer
}

func NewChannel(loop *eventloop.Loop, opts Options, active ActiveChat, handler Handler) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = DefaultPongTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = NewGorillaDialer(10 * time.Second)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Channel{
		loop:    loop,
		opts:    opts,
		active:  active,
		handler: handler,
	}
}

func (c *Channel) State() State {
	return c.state
}

func (c *Channel) IsOpen() bool {
	return c.state == StateOpen
}

// BoundChatID is the chat the channel serves, 0 when closed.
func (c *Channel) BoundChatID() int {
	return c.chatID
}

// Open binds the channel to chatID. Any previous connection is closed first,
// so at most one connection is ever live.
func (c *Channel) Open(chatID int) {
	c.teardown("superseded")
	c.generation++
	gen := c.generation
	c.chatID = chatID
	c.state = StateConnecting

	requestID := observability.NewRequestID()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.opts.Session.Token)
	observability.ApplyClientHeaders(header, requestID, c.opts.DeviceID)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	ctx, span := otel.Tracer("chat-client/ws").Start(ctx, "ws.dial",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("chat.id", chatID)),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagationHeader(header))
	target := channelURL(c.opts.BaseURL, chatID, c.opts.Session.Token)

	go func() {
		defer span.End()
		conn, err := c.opts.Dialer.Dial(ctx, target, header)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dial failed")
		}
		info := ConnInfo{
			ConnID:      newConnID(),
			ChatID:      chatID,
			UserID:      c.opts.Session.UserID,
			DeviceID:    c.opts.DeviceID,
			RequestID:   requestID,
			TraceID:     span.SpanContext().TraceID().String(),
			ConnectedAt: time.Now(),
		}
		if !c.loop.Post(func() { c.dialed(gen, info, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

// Close tears the channel down on purpose. No reconnect follows.
func (c *Channel) Close() {
	c.teardown("closed")
	c.generation++
	c.chatID = 0
	c.state = StateIdle
}

// Send queues one frame for the open connection. It never blocks; a failed
// write drops the connection and triggers a reconnect.
func (c *Channel) Send(v any) error {
	if c.state != StateOpen || c.writer == nil {
		return ErrNotOpen
	}
	return c.writer.enqueue(v)
}

func (c *Channel) dialed(gen uint64, info ConnInfo, conn Conn, err error) {
	if gen != c.generation {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}

	if err != nil {
		c.state = StateClosed
		c.opts.Logger.Warn("live channel dial failed", "conn", info, "err", err)
		c.publish("ws_error", info, err.Error())
		c.scheduleReconnect(gen, info.ChatID)
		return
	}

	c.conn = conn
	c.info = info
	c.state = StateOpen
	c.writer = newWriter(conn, c.opts.WriteTimeout, c.opts.PongTimeout)
	keepReading(conn, c.opts.PongTimeout)
	go c.writer.run(func(err error) {
		c.loop.Post(func() { c.dropped(gen, err) })
	})
	observability.IncWSActive()
	c.publish("ws_connect", info, "")
	c.opts.Logger.Info("live channel open", "conn", info)

	go c.readLoop(gen, conn)
	c.handler.ChannelOpened(info.ChatID)
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.loop.Post(func() { c.dropped(gen, err) })
			return
		}
		if !c.loop.Post(func() { c.receive(gen, payload) }) {
			conn.Close()
			return
		}
	}
}

func (c *Channel) receive(gen uint64, payload []byte) {
	if gen != c.generation {
		observability.IncFrame("stale", observability.FrameDropped)
		return
	}

	ev, err := models.DecodeEvent(payload)
	if err != nil {
		observability.IncFrame("", observability.FrameMalformed)
		c.opts.Logger.Warn("malformed frame dropped", "conn", c.info, "err", err)
		return
	}
	if ev.Error != "" {
		observability.IncFrame("error", observability.FrameDropped)
		c.opts.Logger.Warn("backend error frame", "chat_id", c.chatID, "error", ev.Error)
		return
	}
	if ev.Data.GroupID != c.chatID {
		observability.IncFrame(ev.Type, observability.FrameDropped)
		c.opts.Logger.Debug("frame for another chat dropped", "chat_id", c.chatID, "frame_chat_id", ev.Data.GroupID)
		return
	}

	observability.IncFrame(ev.Type, observability.FrameApplied)
	c.handler.FrameReceived(ev)
}

func (c *Channel) dropped(gen uint64, err error) {
	if gen != c.generation || c.conn == nil {
		return
	}

	info := c.info
	c.closeConn("")
	c.state = StateClosed
	c.publish("ws_disconnect", info, err.Error())
	c.opts.Logger.Warn("live channel closed unexpectedly, reconnecting",
		"conn", info, "delay", c.opts.ReconnectDelay, "err", err)
	c.scheduleReconnect(gen, info.ChatID)
}

// scheduleReconnect arms the single reconnect timer. The target chat is
// re-validated when the timer fires, not now.
func (c *Channel) scheduleReconnect(gen uint64, chatID int) {
	c.reconnect.Stop()
	observability.IncWSEvent("reconnect_scheduled")
	c.reconnect = c.loop.AfterFunc(c.opts.ReconnectDelay, func() {
		c.reconnect = nil
		active, ok := c.active()
		if gen != c.generation || !ok || active != chatID {
			observability.IncWSEvent("reconnect_skipped")
			c.opts.Logger.Info("stale reconnect skipped", "chat_id", chatID, "active_chat_id", active)
			return
		}
		c.Open(chatID)
	})
}

func (c *Channel) teardown(reason string) {
	c.reconnect.Stop()
	c.reconnect = nil
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.conn != nil {
		info := c.info
		c.closeConn(reason)
		c.publish("ws_disconnect", info, reason)
	}
}

func (c *Channel) closeConn(reason string) {
	if c.conn == nil {
		return
	}
	c.writer.close()
	c.writer = nil
	if err := c.conn.Close(); err != nil && reason != "" {
		c.opts.Logger.Debug("close live channel", "conn", c.info, "err", err)
	}
	c.conn = nil
	c.info = ConnInfo{}
	observability.DecWSActive()
}

func (c *Channel) publish(name string, info ConnInfo, reason string) {
	go c.opts.Events.PublishWS(context.Background(), name, info.Payload(reason, time.Now()))
}
