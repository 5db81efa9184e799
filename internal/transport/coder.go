package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/JacobWarners/New-Chaos-Web/internal/bridge"
)

type CoderDialer struct {
	opts Options
}

func NewCoderDialer(opts Options) *CoderDialer {
	return &CoderDialer{opts: opts.withDefaults()}
}

func (d *CoderDialer) Dial(ctx context.Context, path string) (bridge.Conn, error) {
	target, err := ResolveURL(d.opts.Server, path)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	conn.SetReadLimit(d.opts.ReadLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	return &coderConn{conn: conn, opts: d.opts, ctx: connCtx, cancel: cancel}, nil
}

type coderConn struct {
	conn      *websocket.Conn
	opts      Options
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *coderConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, bridge.ErrChannelClosed
		}
		return nil, err
	}
	return data, nil
}

func (c *coderConn) WriteMessage(data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *coderConn) Close() error {
	c.closeOnce.Do(func() {
		// The close handshake waits for the peer; the loop must not.
		go func() {
			_ = c.conn.Close(websocket.StatusNormalClosure, "")
			c.cancel()
		}()
	})
	return nil
}
