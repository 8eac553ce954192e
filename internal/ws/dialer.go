package ws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the part of a websocket connection the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// GorillaDialer dials with gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer
}

// NewGorillaDialer returns a dialer with a bounded handshake.
func NewGorillaDialer(handshakeTimeout time.Duration) GorillaDialer {
	return GorillaDialer{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}}
}

func (d GorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}
