package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/eventloop"
	"chat-client/internal/models"
	"chat-client/internal/session"
)

type fakeConn struct {
	frames  chan []byte
	dropped chan struct{}
	closed  chan struct{}
	stall   chan struct{}

	dropOnce  sync.Once
	closeOnce sync.Once

	failWrites atomic.Bool
	answerPing atomic.Bool
	pings      atomic.Int32

	mu           sync.Mutex
	written      []any
	readDeadline time.Time
	onPong       func(string) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan []byte, 16),
		dropped: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// ReadMessage honours the read deadline, re-checking it while blocked.
func (c *fakeConn) ReadMessage() (int, []byte, error) {
	tick := time.NewTicker(2 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case p := <-c.frames:
			return 1, p, nil
		case <-c.dropped:
			return 0, nil, io.ErrUnexpectedEOF
		case <-c.closed:
			return 0, nil, errors.New("use of closed connection")
		case <-tick.C:
			c.mu.Lock()
			deadline := c.readDeadline
			c.mu.Unlock()
			if !deadline.IsZero() && time.Now().After(deadline) {
				return 0, nil, errors.New("i/o timeout")
			}
		}
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	if c.stall != nil {
		select {
		case <-c.stall:
		case <-c.closed:
			return errors.New("use of closed connection")
		}
	}
	if c.failWrites.Load() {
		return errors.New("broken pipe")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v)
	return nil
}

func (c *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.pings.Add(1)
	if c.answerPing.Load() {
		c.mu.Lock()
		onPong := c.onPong
		c.mu.Unlock()
		if onPong != nil {
			return onPong("")
		}
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPong = h
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(frame string) {
	c.frames <- []byte(frame)
}

func (c *fakeConn) drop() {
	c.dropOnce.Do(func() { close(c.dropped) })
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writes() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.written...)
}

type fakeDialer struct {
	fail atomic.Int32
	// setup adjusts each new connection before it is returned.
	setup func(*fakeConn)

	mu      sync.Mutex
	urls    []string
	headers []http.Header
	ctxs    []context.Context
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctxs = append(d.ctxs, ctx)
	d.urls = append(d.urls, url)
	d.headers = append(d.headers, header.Clone())
	if d.fail.Load() > 0 {
		d.fail.Add(-1)
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	if d.setup != nil {
		d.setup(conn)
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) url(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urls[i]
}

func (d *fakeDialer) ctx(i int) context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctxs[i]
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type recordingHandler struct {
	mu     sync.Mutex
	opened []int
	frames []models.Event
}

func (h *recordingHandler) ChannelOpened(chatID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, chatID)
}

func (h *recordingHandler) FrameReceived(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, ev)
}

func (h *recordingHandler) openedChats() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.opened...)
}

func (h *recordingHandler) frameIDs() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]int, 0, len(h.frames))
	for _, ev := range h.frames {
		ids = append(ids, ev.Data.ID)
	}
	return ids
}

type harness struct {
	t       *testing.T
	loop    *eventloop.Loop
	dialer  *fakeDialer
	handler *recordingHandler
	channel *Channel
	active  int
}

func newHarness(t *testing.T, delay time.Duration, configure ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		loop:    eventloop.New(),
		dialer:  &fakeDialer{},
		handler: &recordingHandler{},
	}
	opts := Options{
		BaseURL:        "ws://backend",
		Session:        session.Session{UserID: 7, Token: "tok"},
		DeviceID:       "device-1",
		ReconnectDelay: delay,
		Dialer:         h.dialer,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range configure {
		fn(&opts)
	}
	active := func() (int, bool) { return h.active, h.active != 0 }
	h.channel = NewChannel(h.loop, opts, active, h.handler)

	ctx, cancel := context.WithCancel(context.Background())
	go h.loop.Run(ctx)
	t.Cleanup(cancel)
	return h
}

// on runs fn on the event loop and waits for it.
func (h *harness) on(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Do(context.Background(), fn))
}

func (h *harness) open(chatID int) {
	h.on(func() {
		h.active = chatID
		h.channel.Open(chatID)
	})
}

func (h *harness) state() State {
	var s State
	_ = h.loop.Do(context.Background(), func() { s = h.channel.State() })
	return s
}

func frame(kind string, id, chatID int) string {
	return fmt.Sprintf(`{"type":%q,"data":{"id":%d,"group_id":%d,"author_id":1,"content":"m%d"}}`, kind, id, chatID, id)
}

func TestChannelDialsBoundChat(t *testing.T) {
	h := newHarness(t, time.Second)
	h.open(3)

	require.Eventually(t, func() bool { return len(h.handler.openedChats()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{3}, h.handler.openedChats())
	assert.Equal(t, StateOpen, h.state())

	h.dialer.mu.Lock()
	defer h.dialer.mu.Unlock()
	assert.Equal(t, "ws://backend/ws/3?token=tok", h.dialer.urls[0])
	assert.Equal(t, "Bearer tok", h.dialer.headers[0].Get("Authorization"))
	assert.Equal(t, "device-1", h.dialer.headers[0].Get("X-Device-Id"))
	assert.NotEmpty(t, h.dialer.headers[0].Get("X-Request-Id"))
}

func TestChannelFiltersFrames(t *testing.T) {
	h := newHarness(t, time.Second)
	h.open(1)
	require.Eventually(t, func() bool { return h.state() == StateOpen }, time.Second, 5*time.Millisecond)

	conn := h.dialer.conn(0)
	conn.push(frame(models.EventNewMessage, 10, 1))
	conn.push(frame(models.EventNewMessage, 11, 2))
	conn.push(`not json`)
	conn.push(`{"type":"typing","data":{"id":1,"group_id":1}}`)
	conn.push(`{"type":"new_message"}`)
	conn.push(`{"error":"Invalid message format"}`)
	conn.push(frame(models.EventDeletedMessage, 10, 1))

	require.Eventually(t, func() bool { return len(h.handler.frameIDs()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{10, 10}, h.handler.frameIDs())
	assert.Equal(t, StateOpen, h.state())
}

func TestChannelOpenSupersedesPrevious(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.open(1)
	require.Eventually(t, func() bool { return h.state() == StateOpen }, time.Second, 5*time.Millisecond)
	first := h.dialer.conn(0)

	h.open(2)
	assert.True(t, first.isClosed())
	require.Eventually(t, func() bool { return len(h.handler.openedChats()) == 2 }, time.Second, 5*time.Millisecond)

	second := h.dialer.conn(1)
	second.push(frame(models.EventNewMessage, 5, 1))
	second.push(frame(models.EventNewMessage, 6, 2))
	require.Eventually(t, func() bool { return len(h.handler.frameIDs()) == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []int{6}, h.handler.frameIDs())
	assert.Equal(t, 2, h.dialer.dials(), "closing the superseded connection must not reconnect")

	var bound int
	h.on(func() { bound = h.channel.BoundChatID() })
	assert.Equal(t, 2, bound)
}

func TestChannelReconnectsAfterDrop(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.open(4)
	require.Eventually(t, func() bool { return h.state() == StateOpen }, time.Second, 5*time.Millisecond)

	h.dialer.conn(0).drop()

	require.Eventually(t, func() bool { return len(h.handler.openedChats()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{4, 4}, h.handler.openedChats())
	assert.Equal(t, 2, h.dialer.dials())
	assert.Equal(t, "ws://backend/ws/4?token=tok", h.dialer.url(1))
}

func TestChannelStaleReconnectSkipped(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond)
	h.open(1)
	require.Eventually(t, func() bool { return h.state() == StateOpen }, time.Second, 5*time.Millisecond)

	h.dialer.conn(0).drop()
	require.Eventually(t, func() bool { return h.state() == StateClosed }, time.Second, 5*time.Millisecond)
	h.on(func() { h.active = 2 })

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.dials())
	assert.Equal(t, []int{1}, h.handler.openedChats())
}

func TestChannelCloseCancelsReconnect(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond)
	h.dialer.fail.Store(1)
	h.open(1)
	require.Eventually(t, func() bool { return h.state() == StateClosed }, time.Second, 5*time.Millisecond)

	h.on(func() { h.channel.Close() })

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.dials())
	assert.Equal(t, StateIdle, h.state())
}

func TestChannelRetriesFailedDial(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.dialer.fail.Store(2)
	h.open(9)

	require.Eventually(t, func() bool { return h.state() == StateOpen }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, h.dialer.dials())
	assert.Equal(t, []int{9}, h.handler.openedChats())
}

func TestChannelSendRequiresOpen(t *testing.T) {
	h := newHarness(t, time.Second)

	var err error
	h.on(func() { err = h.channel.Send(models.OutgoingMessage{Content: "hi"}) })
	require.ErrorIs(t, err, ErrNotOpen)

	h.open(1)
	require.Eventually(t, func() bool { return h.state() == StateOpen }, time.Second, 5*time.Millisecond)

	out := models.OutgoingMessage{Content: "hello", AuthorID: 7, GroupID: 1}
	h.on(func() { err = h.channel.Send(out) })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.dialer.conn(0).writes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{out}, h.dialer.conn(0).writes())

	h.on(func() { h.channel.Close() })
	h.on(func() { err = h.channel.Send(out) })
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestChannelSendDoesNotBlockOnStalledPeer(t *testing.T) {
	h := newHarness(t, time.Second)
	h.dialer.setup = func(c *fakeConn) { c.stall = make(chan struct{}) }
	h.open(1)
	require.Eventually(t, func() bool { return h.state() == StateOpen }, time.Second, 5*time.Millisecond)

	var errs []error
	h.on(func() {
		for i := 0; i < sendQueueSize+2; i++ {
			errs = append(errs, h.channel.Send(models.OutgoingMessage{Content: "hi", AuthorID: 7, GroupID: 1}))
		}
	})

	require.NoError(t, errs[0])
	assert.ErrorIs(t, errs[len(errs)-1], ErrSendQueueFull)
	assert.Equal(t, StateOpen, h.state())

	h.on(func() { h.channel.Close() })
	assert.True(t, h.dialer.conn(0).isClosed())
}

func TestChannelWriteFailureReconnects(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.open(2)
	require.Eventually(t, func() bool { return h.state() == StateOpen }, time.Second, 5*time.Millisecond)
	h.dialer.conn(0).failWrites.Store(true)

	var err error
	h.on(func() { err = h.channel.Send(models.OutgoingMessage{Content: "hi", AuthorID: 7, GroupID: 2}) })
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.handler.openedChats()) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.dialer.conn(0).isClosed())
	assert.Equal(t, []int{2, 2}, h.handler.openedChats())
}

func TestChannelSilentConnectionReconnects(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond, func(o *Options) { o.PongTimeout = 60 * time.Millisecond })
	h.open(5)
	require.Eventually(t, func() bool { return h.state() == StateOpen }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return h.dialer.dials() >= 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.dialer.conn(0).isClosed())
	assert.Positive(t, h.dialer.conn(0).pings.Load())
	assert.Equal(t, "ws://backend/ws/5?token=tok", h.dialer.url(1))
}

func TestChannelPongsKeepConnectionAlive(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond, func(o *Options) { o.PongTimeout = 60 * time.Millisecond })
	h.dialer.setup = func(c *fakeConn) { c.answerPing.Store(true) }
	h.open(5)
	require.Eventually(t, func() bool { return h.state() == StateOpen }, time.Second, 5*time.Millisecond)

	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, 1, h.dialer.dials())
	assert.GreaterOrEqual(t, h.dialer.conn(0).pings.Load(), int32(3))
	assert.Equal(t, StateOpen, h.state())
}

func TestChannelReleasesDialContextOnceOpen(t *testing.T) {
	h := newHarness(t, time.Second)
	h.open(1)
	require.Eventually(t, func() bool { return h.state() == StateOpen }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, h.dialer.ctx(0).Err(), context.Canceled)
	assert.False(t, h.dialer.conn(0).isClosed())
}
