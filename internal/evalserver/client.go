package evalserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/claude-eval-harness/internal/evalprotocol"
)

// Client represents one connected host process
type Client struct {
	ID          string
	ConnectedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex // protects conn writes

	// events carries messages read from this connection. Closed when the
	// connection drops; a closed channel is the disconnect signal.
	events chan evalprotocol.EnvelopeRaw
}

// Events returns the channel of messages received from this host process
func (c *Client) Events() <-chan evalprotocol.EnvelopeRaw {
	return c.events
}

// WriteMessage sends a frame to the host connection (thread-safe)
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// writeControl sends a control frame with a deadline (thread-safe)
func (c *Client) writeControl(messageType int, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(deadline)
	err := c.conn.WriteMessage(messageType, nil)
	c.conn.SetWriteDeadline(time.Time{})
	return err
}

// Close tears down the underlying connection. The read loop handles
// unregistration and closes the event channel.
func (c *Client) Close() error {
	return c.conn.Close()
}
