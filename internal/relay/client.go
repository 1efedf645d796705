package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Camsync/internal/signaling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP with many candidates

	sendBuffer = 256
)

// Client is one WebSocket connection to the relay. Room membership fields are
// owned by the hub goroutine.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string

	roomID string
	role   signaling.Role

	// send is drained by WritePump; the hub closes it on unregister.
	send chan *signaling.Envelope
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan *signaling.Envelope, sendBuffer),
	}
}

// ID is the member id used for registry claims.
func (c *Client) ID() string {
	return c.id
}

// ReadPump pumps envelopes from the connection to the hub. There is at most
// one reader per connection.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("read failed", "member", c.id, "error", err)
			}
			return
		}

		msg := &inbound{client: c}
		var env signaling.Envelope
		if err := json.Unmarshal(data, &env); err == nil && env.Event != "" {
			msg.env = &env
		}

		select {
		case c.hub.inbound <- msg:
		case <-c.hub.done:
			return
		}
	}
}

// WritePump pumps envelopes from the hub to the connection and keeps it alive
// with pings. There is at most one writer per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.hub.log.Debug("write failed", "member", c.id, "error", err)
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
