package echoserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JacobWarners/New-Chaos-Web/pkg/realtime"
)

const (
	outboundBufferSize = 64
	writeWait          = 10 * time.Second
)

// client serializes writes to one terminal connection. Every frame goes
// through send and is written by WriteLoop; a nil frame asks the loop to send
// a normal close and stop.
type client struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
	close sync.Once
}

func newClient(id string, conn *websocket.Conn) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, outboundBufferSize),
		done: make(chan struct{}),
	}
}

// Queue blocks until the frame is accepted or the client is closed.
func (c *client) Queue(msg realtime.Message) bool {
	data, err := realtime.Encode(msg)
	if err != nil {
		return false
	}
	return c.enqueue(data)
}

// Finish sends a normal close once the frames queued so far are written.
func (c *client) Finish() {
	c.enqueue(nil)
}

func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *client) WriteLoop() {
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if data == nil {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (c *client) Close() {
	c.close.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) Done() <-chan struct{} {
	return c.done
}
