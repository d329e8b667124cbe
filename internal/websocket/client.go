package websocket

import (
	"time"

	"github.com/apex/log"
	gorillaws "github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client is one subscriber connection.
type Client struct {
	hub       *Hub
	conn      *gorillaws.Conn
	projectID uint
	send      chan *Message
}

// NewClient creates a client for the events of projectID.
func NewClient(hub *Hub, conn *gorillaws.Conn, projectID uint) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		projectID: projectID,
		send:      make(chan *Message, 64),
	}
}

// ReadPump drains the connection so control frames are processed, and
// unregisters the client once the peer goes away. Subscribers never send
// anything meaningful.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if gorillaws.IsUnexpectedCloseError(err, gorillaws.CloseGoingAway, gorillaws.CloseNormalClosure) {
				log.WithError(err).WithField("project", c.projectID).Warn("websocket closed unexpectedly")
			}
			return
		}
	}
}

// WritePump writes queued events and keepalive pings until the hub closes
// the queue or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(gorillaws.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
