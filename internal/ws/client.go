// Package ws implements the real-time boundary. This file wraps a single
// WebSocket connection so that concurrent writers are serialized (gorilla
// permits at most one writer at a time) and double-closes are harmless.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClientClosed is returned by Send after the connection has been closed.
var ErrClientClosed = errors.New("ws: client closed")

// socket is the subset of *websocket.Conn the client needs. Narrowed to an
// interface so registry tests can substitute an in-memory fake.
type socket interface {
	WriteJSON(v any) error
	Close() error
}

// Client is one live WebSocket connection registered with the Registry.
// All writes go through Send, which serializes access to the underlying
// socket. Safe for concurrent use.
type Client struct {
	ID          string
	ConnectedAt time.Time

	mu     sync.Mutex
	sock   socket
	closed bool
}

// NewClient wraps an accepted WebSocket connection.
func NewClient(sock socket) *Client {
	return &Client{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now().UTC(),
		sock:        sock,
	}
}

// Send writes one frame to the connection. Thread-safe.
func (c *Client) Send(evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.sock.WriteJSON(evt)
}

// Close closes the underlying connection. Subsequent Sends fail with
// ErrClientClosed. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.sock.Close()
}
