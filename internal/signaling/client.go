package signaling

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong before the connection counts
	// as dead.
	pongWait = 60 * time.Second

	// Ping cadence; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 64 KB fits any SDP we relay; candidates are far smaller.
	maxMessageSize = 64 * 1024

	// Outbound frames queued per member before it counts as slow.
	sendQueueSize = 32
)

// Client is one subscribed connection. All state except the pumps is
// owned by the hub goroutine.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	matchID string
	userID  string

	send    chan []byte
	cleanup func()

	// closed guards send; hub goroutine only. See Hub.closeClient.
	closed bool
}

// readPump forwards inbound frames to the hub. It is the sole reader of
// the connection and drives teardown: when the read side dies, the
// client unregisters and the one-shot cleanup runs.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		if c.cleanup != nil {
			c.cleanup()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.hub.relay <- frame{client: c, data: data}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump is the sole writer of the connection. It drains the send
// queue and keeps the connection alive with pings; a closed send queue
// means the hub dropped us.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
