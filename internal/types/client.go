// internal/types/client.go
package types

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes in the private range sent to rejected clients.
const (
	CloseDuplicateClientID = 4001
	CloseSlowConsumer      = 4002
	CloseServerFull        = 4003
)

const closeWait = time.Second

type Client struct {
	Conn  *websocket.Conn
	Send  chan []byte
	Inbox chan []byte

	mu sync.RWMutex
	id string

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, sendSize, inboxSize int) *Client {
	return &Client{
		Conn:  conn,
		Send:  make(chan []byte, sendSize),
		Inbox: make(chan []byte, inboxSize),
		done:  make(chan struct{}),
	}
}

// ID is the client id bound by a successful connect, or "".
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Client) SetID(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

// Enqueue queues an outbound frame without blocking. It reports false when
// the client is closed or its queue is full.
func (c *Client) Enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close sends a close frame with the given code and reason and tears down
// the connection. Safe to call more than once and from any goroutine.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.Conn == nil {
			return
		}
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		_ = c.Conn.Close()
	})
}

func (c *Client) RemoteAddr() string {
	if c.Conn == nil {
		return "local"
	}
	return c.Conn.RemoteAddr().String()
}
