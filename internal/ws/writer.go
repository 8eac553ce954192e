package ws

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPongTimeout  = 60 * time.Second
	sendQueueSize       = 32
)

var ErrSendQueueFull = errors.New("live channel send queue is full")

// writer owns every write on one connection: queued frames and keepalive
// pings. It stops on the first failure and reports it once.
type writer struct {
	conn         Conn
	frames       chan any
	stop         chan struct{}
	stopOnce     sync.Once
	writeTimeout time.Duration
	pingPeriod   time.Duration
}

func newWriter(conn Conn, writeTimeout, pongTimeout time.Duration) *writer {
	return &writer{
		conn:         conn,
		frames:       make(chan any, sendQueueSize),
		stop:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingPeriod:   pongTimeout / 2,
	}
}

// enqueue never blocks.
func (w *writer) enqueue(v any) error {
	select {
	case <-w.stop:
		return ErrNotOpen
	default:
	}
	select {
	case w.frames <- v:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (w *writer) close() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *writer) run(failed func(error)) {
	ticker := time.NewTicker(w.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case v := <-w.frames:
			_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
			if err := w.conn.WriteJSON(v); err != nil {
				failed(fmt.Errorf("write frame: %w", err))
				return
			}
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout)); err != nil {
				failed(fmt.Errorf("write ping: %w", err))
				return
			}
		}
	}
}

// keepReading arms the read deadline and extends it on every pong, so a
// silent half-open connection fails the read loop.
func keepReading(conn Conn, pongTimeout time.Duration) {
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
}
