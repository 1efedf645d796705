// Package session coordinates one participant's membership in a room: it
// joins over the signaling channel, drives the negotiation engine from relay
// events and releases every resource exactly once when the session ends.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Camsync/internal/media"
	"github.com/BioHazard786/Camsync/internal/negotiation"
	"github.com/BioHazard786/Camsync/internal/signaling"
)

const (
	defaultJoinTimeout    = 15 * time.Second
	defaultRejoinAttempts = 5
	defaultRejoinInterval = time.Second
)

// Channel is the signaling connection owned by one session.
type Channel interface {
	Connect(ctx context.Context) error
	Send(event string, payload any) error
	On(event string, h signaling.Handler) (off func())
	Connected() bool
	Disconnect()
}

// Options wires a Coordinator to its collaborators.
type Options struct {
	Channel Channel
	Source  media.Source
	Sink    Sink
	Factory negotiation.Factory
	Logger  *slog.Logger

	Audio bool
	// Capture overrides the role defaults where its fields are non-zero.
	Capture     media.Constraints
	JoinTimeout time.Duration

	// RejoinAttempts and RejoinInterval bound the retries of a joinRoom that
	// the relay refuses with role_conflict after a reconnect, typically
	// because it has not yet dropped our previous socket.
	RejoinAttempts int
	RejoinInterval time.Duration

	// OnEvent receives a snapshot after every visible change. It may be
	// called from any goroutine.
	OnEvent func(Event)
}

// Event is a status snapshot for the user interface.
type Event struct {
	State   State
	Engine  negotiation.State
	Role    signaling.Role
	Message string
	Err     error
}

// Info summarises a session.
type Info struct {
	RoomID      string
	Role        signaling.Role
	State       State
	Engine      negotiation.State
	Started     time.Time
	ConnectedAt time.Time
	Err         error
}

// Coordinator runs a single connect attempt. Create a new one to reconnect.
type Coordinator struct {
	opts   Options
	log    *slog.Logger
	engine *negotiation.Engine
	life   *Lifecycle

	ctx    context.Context
	cancel context.CancelFunc

	// sendMu holds local candidates back until both descriptors of the
	// round have crossed the relay, so the peer sees offer, answer, candidates.
	sendMu    sync.Mutex
	exchanged bool
	outbox    []webrtc.ICECandidateInit

	mu          sync.Mutex
	state       State
	roomID      string
	requested   signaling.Role
	role        signaling.Role
	stream      media.Stream
	offs        []func()
	admitted    chan error
	rejoining   bool
	rejoinTries int
	started     time.Time
	connectedAt time.Time
	err         error
}

func New(opts Options) *Coordinator {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}
	if opts.RejoinAttempts <= 0 {
		opts.RejoinAttempts = defaultRejoinAttempts
	}
	if opts.RejoinInterval <= 0 {
		opts.RejoinInterval = defaultRejoinInterval
	}

	c := &Coordinator{
		opts:     opts,
		log:      opts.Logger.With("component", "session"),
		admitted: make(chan error, 1),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.life = NewLifecycle(c.log)
	c.engine = negotiation.New(opts.Factory,
		negotiation.WithLogger(opts.Logger),
		negotiation.WithHooks(negotiation.Hooks{
			LocalCandidate: c.sendCandidate,
			RemoteTrack:    c.onRemoteTrack,
			StateChange:    c.onEngineState,
			Error:          c.onEngineError,
		}),
	)

	c.life.Add("stop local media", c.stopMedia)
	c.life.Add("close negotiation engine", c.engine.Close)
	c.life.Add("disconnect signaling channel", c.disconnect)
	return c
}

// Connect acquires the local stream, connects the channel and joins roomID as
// role. With RoleAuto the stream is acquired on admission instead. It returns
// once the relay has admitted us; the peer may arrive later.
func (c *Coordinator) Connect(ctx context.Context, roomID string, role signaling.Role) error {
	if roomID == "" {
		return NewError("connect", ErrInvalidRoom)
	}
	if !role.Valid() {
		return NewError("connect", ErrInvalidRole)
	}

	c.mu.Lock()
	if c.state != NotJoined {
		c.mu.Unlock()
		return NewError("connect", ErrAlreadyConnected)
	}
	c.state = Joining
	c.roomID, c.requested = roomID, role
	c.started = time.Now()
	c.log = c.log.With("room", roomID)
	c.mu.Unlock()

	c.engine.AwaitMedia()

	// The facing mode follows the role, so with auto the camera is opened
	// once the relay has assigned one.
	if role != signaling.RoleAuto {
		if err := c.acquire(ctx, role); err != nil {
			return c.abort(err)
		}
	}

	c.subscribe()

	c.emit("Connecting to relay", nil)
	if err := c.opts.Channel.Connect(ctx); err != nil {
		return c.abort(NewError("connect relay", err))
	}
	if err := c.opts.Channel.Send(signaling.EventJoinRoom, signaling.JoinRoomPayload{RoomID: roomID, Role: role}); err != nil {
		return c.abort(NewError("join room", err))
	}
	c.log.Debug("join requested", "role", role)

	timer := time.NewTimer(c.opts.JoinTimeout)
	defer timer.Stop()

	select {
	case err := <-c.admitted:
		if err != nil {
			return c.abort(err)
		}
		return nil
	case <-ctx.Done():
		return c.abort(NewError("join room", ctx.Err()))
	case <-timer.C:
		return c.abort(NewError("join room", ErrJoinTimeout))
	case <-c.life.Done():
		if err := c.Err(); err != nil {
			return err
		}
		return NewError("join room", signaling.ErrChannelDisconnected)
	}
}

// Leave tells the relay we are gone and releases everything. Safe to call
// more than once and from any state.
func (c *Coordinator) Leave() error {
	c.mu.Lock()
	state, roomID := c.state, c.roomID
	c.mu.Unlock()

	if state == WaitingForPeer || state == Ready || state == PeerLeft {
		if err := c.opts.Channel.Send(signaling.EventLeaveRoom, signaling.LeaveRoomPayload{RoomID: roomID}); err != nil {
			c.log.Debug("leave not sent", "error", err)
		}
	}
	c.log.Info("leaving room")
	return c.shutdown()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) EngineState() negotiation.State {
	return c.engine.State()
}

// IsConnected reports a live media session: room ready, peer connection
// connected and the relay reachable.
func (c *Coordinator) IsConnected() bool {
	return c.State() == Ready &&
		c.engine.State() == negotiation.Connected &&
		c.opts.Channel.Connected()
}

// Done is closed after teardown.
func (c *Coordinator) Done() <-chan struct{} {
	return c.life.Done()
}

// Err returns the failure that ended the session, if any.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Coordinator) Info() Info {
	c.mu.Lock()
	info := Info{
		RoomID:      c.roomID,
		Role:        c.role,
		State:       c.state,
		Started:     c.started,
		ConnectedAt: c.connectedAt,
		Err:         c.err,
	}
	if info.Role == "" {
		info.Role = c.requested
	}
	c.mu.Unlock()

	info.Engine = c.engine.State()
	return info
}

func (c *Coordinator) constraints(role signaling.Role) media.Constraints {
	cons := media.ConstraintsForRole(role, c.opts.Audio)
	if c.opts.Capture.Width > 0 {
		cons.Width = c.opts.Capture.Width
	}
	if c.opts.Capture.Height > 0 {
		cons.Height = c.opts.Capture.Height
	}
	if c.opts.Capture.FrameRate > 0 {
		cons.FrameRate = c.opts.Capture.FrameRate
	}
	return cons
}

func (c *Coordinator) subscribe() {
	handlers := map[string]signaling.Handler{
		signaling.EventJoined:         c.handleJoined,
		signaling.EventError:          c.handleError,
		signaling.EventReady:          c.handleReady,
		signaling.EventOffer:          c.handleOffer,
		signaling.EventAnswer:         c.handleAnswer,
		signaling.EventICECandidate:   c.handleCandidate,
		signaling.EventPeerLeft:       c.handlePeerLeft,
		signaling.EventConnectionLost: c.handleConnectionLost,
		signaling.EventReconnected:    c.handleReconnected,
		signaling.EventDisconnected:   c.handleDisconnected,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for event, h := range handlers {
		c.offs = append(c.offs, c.opts.Channel.On(event, h))
	}
}

// admit moves a joining session to WaitingForPeer and starts the engine for
// the assigned role. The relay sends joined before ready, and handlers run in
// order, so the engine is live before any peer traffic is dispatched.
func (c *Coordinator) admit(role signaling.Role) {
	c.mu.Lock()
	if c.state != Joining {
		c.mu.Unlock()
		return
	}
	c.state = WaitingForPeer
	c.role = role
	stream := c.stream
	c.mu.Unlock()

	c.log.Info("joined room", "role", role)

	err := c.startRole(role, stream)
	if err == nil {
		c.emit("Waiting for the other device", nil)
	}

	select {
	case c.admitted <- err:
	default:
	}
}

// startRole opens the camera if Connect deferred it, then starts the engine.
func (c *Coordinator) startRole(role signaling.Role, stream media.Stream) error {
	if stream == nil {
		if err := c.acquire(c.ctx, role); err != nil {
			return err
		}
		c.mu.Lock()
		stream = c.stream
		c.mu.Unlock()
	}
	if err := c.startEngine(role, stream); err != nil {
		return NewError("start negotiation", err)
	}
	return nil
}

func (c *Coordinator) handleJoined(raw json.RawMessage) {
	p, ok := decode[signaling.JoinedPayload](c, signaling.EventJoined, raw)
	if !ok {
		return
	}
	if p.Role != signaling.RoleLaptop && p.Role != signaling.RoleMobile {
		c.reject(WrapError("join room", ErrInvalidRole, "relay assigned "+string(p.Role)))
		return
	}

	c.mu.Lock()
	rejoined := c.rejoining
	c.rejoining, c.rejoinTries = false, 0
	c.mu.Unlock()
	if rejoined {
		c.log.Info("rejoined room", "role", p.Role)
		c.emit("Waiting for the other device", nil)
		return
	}
	c.admit(p.Role)
}

func (c *Coordinator) handleError(raw json.RawMessage) {
	p, ok := decode[signaling.ErrorPayload](c, signaling.EventError, raw)
	if !ok {
		return
	}
	err := relayError(p)

	if c.State() == Joining {
		c.reject(err)
		return
	}

	c.mu.Lock()
	rejoining := c.rejoining
	c.mu.Unlock()
	if rejoining && joinRefusal(p.Code) {
		c.retryRejoin(p.Code, err)
		return
	}
	c.log.Warn("relay error", "code", p.Code, "error", p.Error)
	c.emit("", err)
}

// retryRejoin resends joinRoom after a role_conflict, a bounded number of
// times. Any other refusal, or running out of attempts, ends the session.
func (c *Coordinator) retryRejoin(code string, err error) {
	c.mu.Lock()
	retry := code == signaling.CodeRoleConflict && c.rejoinTries < c.opts.RejoinAttempts
	if retry {
		c.rejoinTries++
	}
	attempt, roomID, role := c.rejoinTries, c.roomID, c.role
	c.mu.Unlock()

	if !retry {
		c.fail(err)
		return
	}

	c.log.Warn("rejoin refused, retrying", "code", code, "attempt", attempt, "max", c.opts.RejoinAttempts)
	c.emit("Room still held by the previous connection, retrying", nil)
	time.AfterFunc(c.opts.RejoinInterval, func() {
		if c.ctx.Err() != nil {
			return
		}
		c.send(signaling.EventJoinRoom, signaling.JoinRoomPayload{RoomID: roomID, Role: role})
	})
}

func joinRefusal(code string) bool {
	switch code {
	case signaling.CodeRoleConflict, signaling.CodeRoomFull, signaling.CodeInvalidRole, signaling.CodeUnavailable:
		return true
	}
	return false
}

// reject fails a pending join.
func (c *Coordinator) reject(err error) {
	select {
	case c.admitted <- err:
	default:
	}
}

func (c *Coordinator) handleReady(raw json.RawMessage) {
	c.mu.Lock()
	implicit := c.state == Joining && c.requested != signaling.RoleAuto
	requested := c.requested
	c.mu.Unlock()

	// Relays without a joined acknowledgement admit us implicitly.
	if implicit {
		c.admit(requested)
	}

	c.mu.Lock()
	if c.state != WaitingForPeer && c.state != PeerLeft {
		c.mu.Unlock()
		return
	}
	c.state = Ready
	role, stream, roomID := c.role, c.stream, c.roomID
	c.mu.Unlock()

	c.log.Info("room ready")
	c.emit("Other device joined", nil)

	if c.engine.State() == negotiation.Closed {
		if err := c.startEngine(role, stream); err != nil {
			return
		}
	}
	if role != signaling.RoleLaptop {
		return
	}

	offer, err := c.engine.CreateOffer(c.ctx)
	if err != nil {
		c.negotiationError("create offer", err)
		return
	}
	c.send(signaling.EventOffer, signaling.OfferPayload{RoomID: roomID, Offer: offer})
}

func (c *Coordinator) handleOffer(raw json.RawMessage) {
	p, ok := decode[signaling.OfferPayload](c, signaling.EventOffer, raw)
	if !ok || !c.sameRoom(p.RoomID) {
		return
	}

	answer, err := c.engine.AcceptOffer(c.ctx, p.Offer)
	if err != nil {
		c.negotiationError("accept offer", err)
		return
	}
	c.send(signaling.EventAnswer, signaling.AnswerPayload{RoomID: c.room(), Answer: answer})
	c.releaseCandidates()
}

func (c *Coordinator) handleAnswer(raw json.RawMessage) {
	p, ok := decode[signaling.AnswerPayload](c, signaling.EventAnswer, raw)
	if !ok || !c.sameRoom(p.RoomID) {
		return
	}
	if err := c.engine.AcceptAnswer(c.ctx, p.Answer); err != nil {
		c.negotiationError("accept answer", err)
		return
	}
	c.releaseCandidates()
}

func (c *Coordinator) handleCandidate(raw json.RawMessage) {
	p, ok := decode[signaling.CandidatePayload](c, signaling.EventICECandidate, raw)
	if !ok || !c.sameRoom(p.RoomID) {
		return
	}
	if err := c.engine.AddRemoteCandidate(p.Candidate); err != nil {
		c.log.Debug("remote candidate not applied", "error", err)
	}
}

func (c *Coordinator) handlePeerLeft(raw json.RawMessage) {
	p, _ := decode[signaling.PeerLeftPayload](c, signaling.EventPeerLeft, raw)

	c.mu.Lock()
	if c.state != Ready && c.state != WaitingForPeer {
		c.mu.Unlock()
		return
	}
	c.state = PeerLeft
	c.mu.Unlock()

	c.log.Info("peer left", "peer", p.Role)
	c.opts.Sink.ClearRemote()
	if err := c.engine.Close(); err != nil {
		c.log.Warn("closing peer connection", "error", err)
	}
	c.emit("Other device left, waiting for it to return", nil)
}

func (c *Coordinator) handleConnectionLost(json.RawMessage) {
	c.emit("Relay connection lost, reconnecting", nil)
}

// handleReconnected re-joins after the relay connection came back. The relay
// dropped our old membership, so negotiation starts over.
func (c *Coordinator) handleReconnected(json.RawMessage) {
	c.mu.Lock()
	state := c.state
	if state == NotJoined || state == Closed {
		c.mu.Unlock()
		return
	}
	role := c.role
	if state == Joining {
		role = c.requested
	} else {
		c.state = WaitingForPeer
		c.rejoining, c.rejoinTries = true, 0
	}
	roomID, stream := c.roomID, c.stream
	c.mu.Unlock()

	if state != Joining {
		c.opts.Sink.ClearRemote()
		if err := c.startEngine(role, stream); err != nil {
			c.fail(NewError("start negotiation", err))
			return
		}
	}
	c.send(signaling.EventJoinRoom, signaling.JoinRoomPayload{RoomID: roomID, Role: role})
	c.emit("Reconnected to relay", nil)
}

func (c *Coordinator) handleDisconnected(json.RawMessage) {
	c.fail(NewError("signaling", signaling.ErrChannelDisconnected))
}

// acquire opens the local stream for role and hands it to the sink.
func (c *Coordinator) acquire(ctx context.Context, role signaling.Role) error {
	c.emit("Opening camera", nil)
	stream, err := c.opts.Source.Acquire(ctx, c.constraints(role))
	if err != nil {
		return NewError("acquire media", err)
	}
	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
	c.opts.Sink.AttachLocal(stream)
	return nil
}

// startEngine begins a new round with an empty candidate outbox.
func (c *Coordinator) startEngine(role signaling.Role, stream media.Stream) error {
	c.sendMu.Lock()
	c.exchanged = false
	c.outbox = nil
	c.sendMu.Unlock()

	return c.engine.Start(engineRole(role), stream.Tracks())
}

// releaseCandidates sends the held candidates and lets later ones through.
func (c *Coordinator) releaseCandidates() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.exchanged = true
	roomID := c.room()
	for _, cand := range c.outbox {
		c.send(signaling.EventICECandidate, signaling.CandidatePayload{RoomID: roomID, Candidate: cand})
	}
	c.outbox = nil
}

func (c *Coordinator) sendCandidate(cand webrtc.ICECandidateInit) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.exchanged {
		c.outbox = append(c.outbox, cand)
		return
	}
	c.send(signaling.EventICECandidate, signaling.CandidatePayload{RoomID: c.room(), Candidate: cand})
}

func (c *Coordinator) onRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	c.opts.Sink.AttachRemote(track, receiver)
}

func (c *Coordinator) onEngineState(s negotiation.State) {
	if s == negotiation.Connected {
		c.mu.Lock()
		c.connectedAt = time.Now()
		c.mu.Unlock()
		c.log.Info("peer connection established")
		c.emit("Connected", nil)
		return
	}
	c.emit("", nil)
}

// onEngineError ends the session: a failed round is not retried.
func (c *Coordinator) onEngineError(err error) {
	c.fail(err)
}

func (c *Coordinator) negotiationError(op string, err error) {
	switch {
	case errors.Is(err, negotiation.ErrStaleRound):
		c.log.Debug("discarding stale result", "op", op)
	case errors.Is(err, negotiation.ErrDescriptorRejected), errors.Is(err, negotiation.ErrTransportFailed):
		// Already reported through the engine error hook.
	default:
		c.log.Warn("negotiation step refused", "op", op, "error", err)
	}
}

func (c *Coordinator) send(event string, payload any) {
	if err := c.opts.Channel.Send(event, payload); err != nil {
		c.log.Warn("send failed", "event", event, "error", err)
	}
}

func (c *Coordinator) abort(err error) error {
	c.fail(err)
	return err
}

func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	c.log.Error("session failed", "error", err)
	_ = c.shutdown()
	c.emit(Status(err), err)
}

func (c *Coordinator) shutdown() error {
	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()

	c.cancel()
	err := c.life.Teardown()
	c.emit("Session closed", nil)
	return err
}

func (c *Coordinator) stopMedia() error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Stop()
}

func (c *Coordinator) disconnect() error {
	c.mu.Lock()
	offs := c.offs
	c.offs = nil
	c.mu.Unlock()

	for _, off := range offs {
		off()
	}
	c.opts.Channel.Disconnect()
	return nil
}

func (c *Coordinator) emit(msg string, err error) {
	if c.opts.OnEvent == nil {
		return
	}
	c.mu.Lock()
	ev := Event{State: c.state, Role: c.role, Message: msg, Err: err}
	c.mu.Unlock()

	ev.Engine = c.engine.State()
	c.opts.OnEvent(ev)
}

func (c *Coordinator) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Coordinator) sameRoom(roomID string) bool {
	return roomID == "" || roomID == c.room()
}

func engineRole(role signaling.Role) negotiation.Role {
	if role == signaling.RoleLaptop {
		return negotiation.Initiator
	}
	return negotiation.Responder
}

func decode[T any](c *Coordinator, event string, raw json.RawMessage) (T, bool) {
	var v T
	if len(raw) == 0 {
		return v, true
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		c.log.Warn("malformed payload", "event", event, "error", err)
		return v, false
	}
	return v, true
}
