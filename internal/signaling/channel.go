package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrChannelClosed = errors.New("signaling: channel closed")

// Channel is the participant side of a session room: it dials the hub,
// decodes inbound frames to signals and serializes outbound sends.
//
// Delivery is in order per sender but otherwise best-effort; once the
// hub drops a peer, anything in flight is gone. Closing is idempotent.
// The Incoming channel closes when the connection dies, however that
// happens.
type Channel struct {
	conn *websocket.Conn
	log  *slog.Logger

	incoming chan Signal
	outgoing chan []byte
	done     chan struct{}

	closeOnce sync.Once
}

// Dial connects to the hub endpoint for a match. The access token rides
// in the query string; browsers cannot set headers on websocket
// upgrades, and the bundled client keeps to the same lane.
func Dial(ctx context.Context, rawURL, token string) (*Channel, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("signaling: invalid channel url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("signaling: dial %s: %s: %w", u.Host, resp.Status, err)
		}
		return nil, fmt.Errorf("signaling: dial %s: %w", u.Host, err)
	}

	c := &Channel{
		conn:     conn,
		log:      slog.Default(),
		incoming: make(chan Signal, sendQueueSize),
		outgoing: make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Send queues a signal for the room. The hub stamps the sender, so the
// From field may be left empty.
func (c *Channel) Send(s Signal) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

// Incoming delivers decoded signals, own echoes included; it closes when
// the connection is gone.
func (c *Channel) Incoming() <-chan Signal {
	return c.incoming
}

// Close tears the connection down. Safe to call any number of times,
// from any goroutine.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Channel) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		sig, err := Decode(data)
		if err != nil {
			// A frame we cannot decode is a peer/relay bug; drop it
			// loudly and keep the channel alive.
			c.log.Warn("signaling discard frame", slog.String("error", err.Error()))
			continue
		}
		select {
		case c.incoming <- sig:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
