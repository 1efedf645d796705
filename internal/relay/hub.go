// Package relay is the reference signaling relay: it admits two members per
// room, one per role, and forwards negotiation messages between them without
// looking inside the payloads.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Camsync/internal/signaling"
)

// inbound is one message read from a client. env is nil when the message
// could not be parsed.
type inbound struct {
	client *Client
	env    *signaling.Envelope
}

// Trace describes one routing decision taken by the hub.
type Trace struct {
	Room  string
	Event string
	From  signaling.Role
	To    signaling.Role
}

// Option configures a Hub.
type Option func(*Hub)

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// WithRegistry replaces the in-memory role registry.
func WithRegistry(r Registry) Option {
	return func(h *Hub) {
		if r != nil {
			h.registry = r
		}
	}
}

// WithTracer calls fn, on the hub goroutine, for every routed event.
func WithTracer(fn func(Trace)) Option {
	return func(h *Hub) { h.trace = fn }
}

// Hub is the single goroutine that owns all rooms and clients.
type Hub struct {
	rooms   map[string]*Room
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan *inbound

	registry        Registry
	registryTimeout time.Duration
	log             *slog.Logger
	trace           func(Trace)

	done     chan struct{}
	stopOnce sync.Once
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms:           make(map[string]*Room),
		clients:         make(map[*Client]struct{}),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		inbound:         make(chan *inbound),
		registry:        NewMemoryRegistry(),
		registryTimeout: 2 * time.Second,
		log:             slog.Default(),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "relay")
	return h
}

// Attach registers conn with the hub and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn) *Client {
	c := newClient(h, conn)
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return nil
	}

	go c.WritePump()
	go c.ReadPump()
	return c
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run processes registrations and messages until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.leave(c)
				close(c.send)
			}
			h.clients = nil
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			activeConnections.Inc()
			connectionsTotal.Inc()
			h.log.Debug("client registered", "member", c.id, "remote", c.conn.RemoteAddr())

		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			h.leave(c)
			delete(h.clients, c)
			close(c.send)
			activeConnections.Dec()
			h.log.Debug("client unregistered", "member", c.id)

		case msg := <-h.inbound:
			h.handle(msg)
		}
	}
}

func (h *Hub) handle(msg *inbound) {
	c := msg.client
	if _, ok := h.clients[c]; !ok {
		return
	}
	if msg.env == nil {
		h.reject(c, signaling.CodeBadRequest, "malformed message")
		return
	}

	switch msg.env.Event {
	case signaling.EventJoinRoom:
		h.join(c, msg.env)

	case signaling.EventLeaveRoom:
		if c.roomID == "" {
			h.reject(c, signaling.CodeNotInRoom, "not in a room")
			return
		}
		h.leave(c)

	case signaling.EventOffer, signaling.EventAnswer, signaling.EventICECandidate:
		h.forward(c, msg.env)

	default:
		h.log.Debug("unknown event", "event", msg.env.Event, "member", c.id)
		h.reject(c, signaling.CodeBadRequest, "unknown event "+msg.env.Event)
	}
}

func (h *Hub) join(c *Client, env *signaling.Envelope) {
	var p signaling.JoinRoomPayload
	if err := env.Decode(&p); err != nil || p.RoomID == "" {
		h.reject(c, signaling.CodeBadRequest, "joinRoom needs a roomId")
		return
	}
	if !p.Role.Valid() {
		h.reject(c, signaling.CodeInvalidRole, "unknown role "+string(p.Role))
		return
	}

	if c.roomID != "" {
		// A repeated join for the same membership is acknowledged again.
		if c.roomID == p.RoomID && (p.Role == c.role || p.Role == signaling.RoleAuto) {
			h.deliver(c, envelope(signaling.EventJoined, signaling.JoinedPayload{RoomID: c.roomID, Role: c.role}))
			return
		}
		h.reject(c, signaling.CodeBadRequest, "already in room "+c.roomID)
		return
	}

	room, exists := h.rooms[p.RoomID]
	if !exists {
		room = newRoom(p.RoomID)
	}
	if room.Full() {
		h.reject(c, signaling.CodeRoomFull, "room already has two members")
		return
	}

	role := p.Role
	if role == signaling.RoleAuto {
		role = room.freeRole()
	} else if room.Members[role] != nil {
		h.reject(c, signaling.CodeRoleConflict, string(role)+" is already taken")
		return
	}

	ok, err := h.claim(room.ID, role, c)
	if err == nil && !ok && p.Role == signaling.RoleAuto && room.Members[role.Peer()] == nil {
		role = role.Peer()
		ok, err = h.claim(room.ID, role, c)
	}
	if err != nil {
		h.log.Error("role registry unavailable", "room", room.ID, "error", err)
		h.reject(c, signaling.CodeUnavailable, "role registry unavailable")
		return
	}
	if !ok {
		h.reject(c, signaling.CodeRoleConflict, string(role)+" is already taken")
		return
	}

	if !exists {
		h.rooms[room.ID] = room
		activeRooms.Inc()
	}
	room.Members[role] = c
	c.roomID, c.role = room.ID, role
	joinsTotal.WithLabelValues(string(role)).Inc()

	h.log.Info("member joined", "room", room.ID, "role", role, "requested", p.Role)
	h.emit(Trace{Room: room.ID, Event: signaling.EventJoinRoom, From: role})
	h.deliver(c, envelope(signaling.EventJoined, signaling.JoinedPayload{RoomID: room.ID, Role: role}))

	if room.Full() {
		ready := envelope(signaling.EventReady, signaling.ReadyPayload{RoomID: room.ID})
		for _, m := range room.Members {
			h.deliver(m, ready)
		}
		roomsReadyTotal.Inc()
		h.log.Info("room ready", "room", room.ID)
		h.emit(Trace{Room: room.ID, Event: signaling.EventReady})
	}
}

// leave removes c from its room and tells the remaining member.
func (h *Hub) leave(c *Client) {
	if c.roomID == "" {
		return
	}
	room, ok := h.rooms[c.roomID]
	roomID, role := c.roomID, c.role
	c.roomID, c.role = "", ""
	if !ok {
		return
	}

	delete(room.Members, role)
	h.release(roomID, role, c)
	h.log.Info("member left", "room", roomID, "role", role)
	h.emit(Trace{Room: roomID, Event: signaling.EventLeaveRoom, From: role})

	if other := room.Members[role.Peer()]; other != nil {
		h.deliver(other, envelope(signaling.EventPeerLeft, signaling.PeerLeftPayload{Role: role}))
		h.emit(Trace{Room: roomID, Event: signaling.EventPeerLeft, From: role, To: other.role})
	}
	if room.Empty() {
		delete(h.rooms, roomID)
		activeRooms.Dec()
		h.log.Debug("room deleted", "room", roomID)
	}
}

// forward relays env verbatim to the other member of c's room.
func (h *Hub) forward(c *Client, env *signaling.Envelope) {
	if c.roomID == "" {
		h.reject(c, signaling.CodeNotInRoom, "join a room first")
		return
	}
	room, ok := h.rooms[c.roomID]
	if !ok {
		h.reject(c, signaling.CodeNotInRoom, "room not found")
		return
	}

	target := room.Other(c)
	if target == nil {
		h.log.Debug("no peer to forward to", "room", room.ID, "event", env.Event)
		return
	}

	h.deliver(target, env)
	messagesForwardedTotal.WithLabelValues(env.Event).Inc()
	h.emit(Trace{Room: room.ID, Event: env.Event, From: c.role, To: target.role})
}

func (h *Hub) claim(roomID string, role signaling.Role, c *Client) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.registryTimeout)
	defer cancel()
	return h.registry.Claim(ctx, roomID, role, c.id)
}

func (h *Hub) release(roomID string, role signaling.Role, c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), h.registryTimeout)
	defer cancel()
	if err := h.registry.Release(ctx, roomID, role, c.id); err != nil {
		h.log.Warn("release role claim", "room", roomID, "role", role, "error", err)
	}
}

func (h *Hub) reject(c *Client, code, msg string) {
	errorsTotal.WithLabelValues(code).Inc()
	h.deliver(c, envelope(signaling.EventError, signaling.ErrorPayload{Code: code, Error: msg}))
}

// deliver queues env for c without blocking the hub. A member whose buffer is
// full loses the message.
func (h *Hub) deliver(c *Client, env *signaling.Envelope) {
	select {
	case c.send <- env:
	default:
		h.log.Warn("send buffer full, dropping message", "member", c.id, "event", env.Event)
	}
}

func (h *Hub) emit(t Trace) {
	if h.trace != nil {
		h.trace(t)
	}
}

func envelope(event string, payload any) *signaling.Envelope {
	env, err := signaling.NewEnvelope(event, payload)
	if err != nil {
		// Payloads are plain structs; marshalling cannot fail.
		panic(err)
	}
	return env
}
