// Package negotiation drives the offer/answer/candidate exchange against a
// single peer connection handle.
package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Hooks observe the engine. All of them are optional and are called without
// any engine lock held.
type Hooks struct {
	LocalCandidate func(webrtc.ICECandidateInit)
	RemoteTrack    func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	StateChange    func(State)
	Error          func(error)
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// Engine owns exactly one peer connection at a time. Each Start begins a new
// round; results of asynchronous steps from an older round are discarded.
type Engine struct {
	factory Factory
	hooks   Hooks
	log     *slog.Logger

	// applyMu serialises candidate application with the queue replay.
	applyMu sync.Mutex

	// mu guards the fields below and is never held across a peer connection call.
	mu          sync.Mutex
	state       State
	role        Role
	round       uint64
	pc          PeerConnection
	senders     []*webrtc.RTPSender
	localSet    bool
	remoteSet   bool
	remoteReady bool
	pending     candidateQueue
}

// New returns an idle engine creating peer connections with factory.
func New(factory Factory, opts ...Option) *Engine {
	e := &Engine{
		factory: factory,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "negotiation")
	return e
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Round() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

func (e *Engine) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// AwaitMedia releases any live handle and marks the engine as waiting for the
// local stream.
func (e *Engine) AwaitMedia() {
	if err := e.Close(); err != nil {
		e.log.Warn("closing peer connection", "error", err)
	}

	e.mu.Lock()
	changed := e.state != AwaitingLocalMedia
	e.state = AwaitingLocalMedia
	e.mu.Unlock()

	if changed {
		e.notify(AwaitingLocalMedia)
	}
}

// Start closes any previous handle, creates a new peer connection, binds this
// round's handlers and attaches tracks.
func (e *Engine) Start(role Role, tracks []webrtc.TrackLocal) error {
	if role != Initiator && role != Responder {
		return &Error{Op: "start", Round: e.Round(), Err: ErrWrongRole}
	}
	if err := e.Close(); err != nil {
		e.log.Warn("closing previous peer connection", "error", err)
	}

	pc, err := e.factory()

	e.mu.Lock()
	e.round++
	round := e.round
	e.role = role
	if err != nil {
		e.state = Failed
		e.mu.Unlock()

		err = &Error{Op: "create peer connection", Round: round, Err: err}
		e.log.Error("negotiation failed", "error", err)
		e.notify(Failed)
		e.report(err)
		return err
	}
	e.pc = pc
	e.state = AwaitingPeer
	e.mu.Unlock()

	e.bind(pc, round)

	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			err = &Error{Op: "add track", Round: round, Err: err}
			e.fail(round, err)
			return err
		}
		e.mu.Lock()
		if e.round == round {
			e.senders = append(e.senders, sender)
		}
		e.mu.Unlock()
	}

	e.log.Debug("peer connection ready", "role", role, "round", round, "tracks", len(tracks))
	e.notify(AwaitingPeer)
	return nil
}

// CreateOffer produces and applies the local offer. Initiator only, once per round.
func (e *Engine) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	const op = "create offer"
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	pc, round, err := e.begin(op, Initiator, Offering)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := pc.CreateOffer(nil)
	if err := e.settle(ctx, op, round, err); err != nil {
		return webrtc.SessionDescription{}, err
	}

	err = pc.SetLocalDescription(offer)
	if err := e.settle(ctx, "set local offer", round, err); err != nil {
		return webrtc.SessionDescription{}, err
	}
	e.markLocal(round)

	return localOr(pc, offer), nil
}

// AcceptOffer applies the remote offer and returns the applied answer.
// Responder only. Queued candidates are replayed once the answer is in place.
func (e *Engine) AcceptOffer(ctx context.Context, remote webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	const op = "accept offer"
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, &Error{Op: op, Round: e.Round(),
			Err: fmt.Errorf("%w: expected offer, got %s", ErrDescriptorRejected, remote.Type)}
	}

	pc, round, err := e.begin(op, Responder, Answering)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	e.mu.Lock()
	e.remoteSet = true
	e.mu.Unlock()

	err = pc.SetRemoteDescription(remote)
	if err := e.settle(ctx, "set remote offer", round, err); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := pc.CreateAnswer(nil)
	if err := e.settle(ctx, "create answer", round, err); err != nil {
		return webrtc.SessionDescription{}, err
	}

	err = pc.SetLocalDescription(answer)
	if err := e.settle(ctx, "set local answer", round, err); err != nil {
		return webrtc.SessionDescription{}, err
	}
	e.markLocal(round)
	e.flush(pc, round)

	return localOr(pc, answer), nil
}

// AcceptAnswer applies the remote answer to the outstanding offer. Initiator only.
func (e *Engine) AcceptAnswer(ctx context.Context, remote webrtc.SessionDescription) error {
	const op = "accept answer"
	if err := ctx.Err(); err != nil {
		return err
	}
	if remote.Type != webrtc.SDPTypeAnswer {
		return &Error{Op: op, Round: e.Round(),
			Err: fmt.Errorf("%w: expected answer, got %s", ErrDescriptorRejected, remote.Type)}
	}

	var err error
	e.mu.Lock()
	pc, round := e.pc, e.round
	switch {
	case pc == nil || e.state.terminal():
		err = ErrNotStarted
	case e.role != Initiator:
		err = ErrWrongRole
	case e.state != Offering || !e.localSet || e.remoteSet:
		err = ErrUnexpectedAnswer
	default:
		e.remoteSet = true
	}
	e.mu.Unlock()
	if err != nil {
		return &Error{Op: op, Round: round, Err: err}
	}

	err = pc.SetRemoteDescription(remote)
	if err := e.settle(ctx, "set remote answer", round, err); err != nil {
		return err
	}
	e.flush(pc, round)
	return nil
}

// AddRemoteCandidate applies c, or queues it while the remote description is
// not yet in place. A rejected candidate is logged and dropped; the engine
// state does not change.
func (e *Engine) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	if e.pc == nil || e.state.terminal() {
		round := e.round
		e.mu.Unlock()
		return &Error{Op: "add candidate", Round: round, Err: ErrNotStarted}
	}
	if !e.remoteReady {
		e.pending.push(c)
		n, round := e.pending.len(), e.round
		e.mu.Unlock()
		e.log.Debug("queued remote candidate", "queued", n, "round", round)
		return nil
	}
	pc, round := e.pc, e.round
	e.mu.Unlock()

	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	return e.apply(pc, round, c)
}

// Close detaches the handlers and tracks of the current round and closes the
// peer connection. Calling it again is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	pc, senders := e.pc, e.senders
	if pc == nil {
		changed := e.state != Idle && e.state != Closed
		if changed {
			e.state = Closed
		}
		e.mu.Unlock()
		if changed {
			e.notify(Closed)
		}
		return nil
	}

	e.round++
	round := e.round
	e.pc, e.senders = nil, nil
	e.localSet, e.remoteSet, e.remoteReady = false, false, false
	e.pending.reset()
	e.state = Closed
	e.mu.Unlock()

	unbind(pc)
	for _, s := range senders {
		if err := pc.RemoveTrack(s); err != nil {
			e.log.Debug("remove track", "error", err)
		}
	}
	err := pc.Close()

	e.log.Debug("peer connection closed", "round", round)
	e.notify(Closed)

	if err != nil {
		return &Error{Op: "close", Round: round, Err: err}
	}
	return nil
}

// begin checks that the current round may move from AwaitingPeer to next.
func (e *Engine) begin(op string, role Role, next State) (PeerConnection, uint64, error) {
	e.mu.Lock()
	pc, round := e.pc, e.round

	var err error
	switch {
	case pc == nil || e.state.terminal():
		err = ErrNotStarted
	case e.role != role:
		err = ErrWrongRole
	case e.state != AwaitingPeer:
		err = ErrRoundInProgress
	default:
		e.state = next
	}
	e.mu.Unlock()

	if err != nil {
		return nil, round, &Error{Op: op, Round: round, Err: err}
	}
	e.notify(next)
	return pc, round, nil
}

// settle decides what to do with the outcome of one asynchronous step.
func (e *Engine) settle(ctx context.Context, op string, round uint64, err error) error {
	if !e.current(round) {
		return &Error{Op: op, Round: round, Err: ErrStaleRound}
	}
	if err != nil {
		err = &Error{Op: op, Round: round, Err: fmt.Errorf("%w: %w", ErrDescriptorRejected, err)}
		e.fail(round, err)
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = &Error{Op: op, Round: round, Err: ctxErr}
		e.fail(round, err)
		return err
	}
	return nil
}

func (e *Engine) current(round uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round == round && e.pc != nil
}

func (e *Engine) markLocal(round uint64) {
	e.mu.Lock()
	if e.round == round {
		e.localSet = true
	}
	e.mu.Unlock()
}

// flush replays queued candidates in arrival order. Candidates arriving while
// it runs are queued behind the others and replayed by the same loop.
func (e *Engine) flush(pc PeerConnection, round uint64) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	replayed := 0
	for {
		e.mu.Lock()
		if e.round != round {
			e.mu.Unlock()
			return
		}
		c, ok := e.pending.pop()
		if !ok {
			e.remoteReady = true
			e.mu.Unlock()
			break
		}
		e.mu.Unlock()

		_ = e.apply(pc, round, c)
		replayed++
	}

	if replayed > 0 {
		e.log.Debug("replayed queued candidates", "count", replayed, "round", round)
	}
}

func (e *Engine) apply(pc PeerConnection, round uint64, c webrtc.ICECandidateInit) error {
	if !e.current(round) {
		return &Error{Op: "add candidate", Round: round, Err: ErrStaleRound}
	}
	if err := pc.AddICECandidate(c); err != nil {
		err = &Error{Op: "add candidate", Round: round, Err: fmt.Errorf("%w: %w", ErrCandidateRejected, err)}
		e.log.Warn("dropping remote candidate", "error", err)
		return err
	}
	return nil
}

func (e *Engine) transition(round uint64, next State) {
	e.mu.Lock()
	if e.round != round || e.state.terminal() || e.state == next {
		e.mu.Unlock()
		return
	}
	e.state = next
	e.mu.Unlock()

	e.notify(next)
}

func (e *Engine) fail(round uint64, err error) {
	e.mu.Lock()
	if e.round != round || e.state.terminal() {
		e.mu.Unlock()
		return
	}
	e.state = Failed
	e.mu.Unlock()

	e.log.Error("negotiation failed", "error", err, "round", round)
	e.notify(Failed)
	e.report(err)
}

func (e *Engine) notify(s State) {
	if e.hooks.StateChange != nil {
		e.hooks.StateChange(s)
	}
}

func (e *Engine) report(err error) {
	if e.hooks.Error != nil {
		e.hooks.Error(err)
	}
}

// bind installs this round's handlers. Each one ignores events once the round is over.
func (e *Engine) bind(pc PeerConnection, round uint64) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || !e.current(round) {
			return
		}
		if e.hooks.LocalCandidate != nil {
			e.hooks.LocalCandidate(c.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if !e.current(round) {
			return
		}
		e.log.Debug("remote track", "kind", track.Kind(), "round", round)
		if e.hooks.RemoteTrack != nil {
			e.hooks.RemoteTrack(track, receiver)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			e.transition(round, Connected)
		case webrtc.PeerConnectionStateFailed:
			e.fail(round, &Error{Op: "transport", Round: round, Err: ErrTransportFailed})
		}
	})
}

func unbind(pc PeerConnection) {
	pc.OnICECandidate(func(*webrtc.ICECandidate) {})
	pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})
	pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) {})
}

func localOr(pc PeerConnection, fallback webrtc.SessionDescription) webrtc.SessionDescription {
	if local := pc.LocalDescription(); local != nil {
		return *local
	}
	return fallback
}
