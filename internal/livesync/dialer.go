package livesync

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// gorillaConn adapts *websocket.Conn to the Conn interface.
type gorillaConn struct {
	conn *websocket.Conn
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	_, raw, err := c.conn.ReadMessage()
	return raw, err
}

func (c *gorillaConn) WriteJSON(v any) error { return c.conn.WriteJSON(v) }

func (c *gorillaConn) Close() error { return c.conn.Close() }

// WebsocketDialer returns a Dialer backed by gorilla/websocket. The
// session token travels in the handshake Authorization header.
func WebsocketDialer() Dialer {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	return func(ctx context.Context, url, token string) (Conn, error) {
		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return &gorillaConn{conn: conn}, nil
	}
}
