package signaling

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"
)

// Hub owns every active room. Rooms are keyed by match id and hold at
// most the two participants of that match, keyed by user id; membership
// is authorized by the HTTP layer before a connection reaches Subscribe.
//
// A single goroutine (Run) touches all hub state. Clients talk to it via
// the register/unregister/relay channels, never directly.
//
// Relay semantics are deliberately minimal: no buffering, no replay. A
// frame is re-stamped with the authenticated sender and broadcast to the
// whole room, sender included; receivers drop their own echoes. Members
// that cannot keep up are disconnected rather than queued.
type Hub struct {
	log *slog.Logger

	rooms map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client
	relay      chan frame

	// done releases any pump blocked on the channels above once Run has
	// returned.
	done chan struct{}
}

type frame struct {
	client *Client
	data   []byte
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log,
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		relay:      make(chan frame),
		done:       make(chan struct{}),
	}
}

// Subscribe adopts an upgraded connection into the room for matchID.
// cleanup runs exactly once, after the connection is torn down.
func (h *Hub) Subscribe(conn *websocket.Conn, matchID, userID string, cleanup func()) {
	c := &Client{
		hub:     h,
		conn:    conn,
		matchID: matchID,
		userID:  userID,
		send:    make(chan []byte, sendQueueSize),
		cleanup: cleanup,
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		if cleanup != nil {
			cleanup()
		}
		return
	}
	go c.writePump()
	go c.readPump()
}

// Run processes hub events until ctx is cancelled, then closes every
// member connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, room := range h.rooms {
				for _, m := range room {
					h.closeClient(m)
				}
			}
			h.rooms = make(map[string]map[string]*Client)
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case f := <-h.relay:
			h.broadcast(f)
		}
	}
}

func (h *Hub) add(c *Client) {
	room := h.rooms[c.matchID]
	if room == nil {
		room = make(map[string]*Client)
		h.rooms[c.matchID] = room
	}

	replaced := false
	if old, ok := room[c.userID]; ok {
		// Fresh socket for the same participant wins; the stale one is
		// usually a half-dead connection from before a network change.
		h.closeClient(old)
		replaced = true
	}
	room[c.userID] = c

	peers := make([]string, 0, 1)
	for id := range room {
		if id != c.userID {
			peers = append(peers, id)
		}
	}
	h.deliver(c, Presence{Peers: peers})

	if !replaced {
		if joined, err := Encode(Join{base{From: c.userID}}); err == nil {
			for id, m := range room {
				if id != c.userID {
					h.send(m, joined)
				}
			}
		}
	}

	h.log.Debug("signaling subscribe",
		slog.String("match_id", c.matchID),
		slog.String("user_id", c.userID),
		slog.Bool("replaced", replaced),
	)
}

func (h *Hub) remove(c *Client) {
	h.closeClient(c)

	room, ok := h.rooms[c.matchID]
	if !ok || room[c.userID] != c {
		// Already replaced by a fresh socket; the room entry is not ours
		// to touch.
		return
	}
	delete(room, c.userID)

	if len(room) == 0 {
		delete(h.rooms, c.matchID)
	} else if left, err := Encode(Leave{base{From: c.userID}}); err == nil {
		for _, m := range room {
			h.send(m, left)
		}
	}

	h.log.Debug("signaling unsubscribe",
		slog.String("match_id", c.matchID),
		slog.String("user_id", c.userID),
	)
}

// broadcast re-stamps the frame with the authenticated sender and fans
// it out to the whole room. Frames with kinds outside the closed signal
// set are dropped here so peers never see them.
func (h *Hub) broadcast(f frame) {
	var env Envelope
	if err := json.Unmarshal(f.data, &env); err != nil {
		h.log.Warn("signaling drop malformed frame",
			slog.String("match_id", f.client.matchID),
			slog.String("user_id", f.client.userID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !env.Kind.Valid() {
		h.log.Warn("signaling drop unknown kind",
			slog.String("match_id", f.client.matchID),
			slog.String("user_id", f.client.userID),
			slog.String("kind", string(env.Kind)),
		)
		return
	}
	env.From = f.client.userID
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	for _, m := range h.rooms[f.client.matchID] {
		h.send(m, data)
	}
}

func (h *Hub) deliver(c *Client, s Signal) {
	data, err := Encode(s)
	if err != nil {
		return
	}
	h.send(c, data)
}

// send enqueues without blocking the hub loop; a member whose queue is
// full is cut loose and will re-subscribe if it still cares. The member
// stays in the room until its unregister arrives, so peers still get the
// leave notice through the normal path.
func (h *Hub) send(c *Client, data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.Warn("signaling drop slow consumer",
			slog.String("match_id", c.matchID),
			slog.String("user_id", c.userID),
		)
		h.closeClient(c)
	}
}

// closeClient is the only place that closes a send queue. The closed
// flag is read and written by the hub goroutine exclusively.
func (h *Hub) closeClient(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
