package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/Camsync/internal/media"
	"github.com/BioHazard786/Camsync/internal/negotiation/negotiationtest"
	"github.com/BioHazard786/Camsync/internal/session"
	"github.com/BioHazard786/Camsync/internal/signaling"
)

// scriptedChannel stands in for the relay connection. Deliveries run one at a
// time on a single goroutine, like the real client's dispatcher, and reply
// decides what the relay answers to each sent event.
type scriptedChannel struct {
	mu        sync.Mutex
	handlers  map[string]map[int]signaling.Handler
	next      int
	sent      []string
	connected bool
	reply     func(ch *scriptedChannel, event string, payload any)

	queue     chan func()
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func newScriptedChannel(reply func(ch *scriptedChannel, event string, payload any)) *scriptedChannel {
	return &scriptedChannel{
		handlers: make(map[string]map[int]signaling.Handler),
		reply:    reply,
		queue:    make(chan func(), 64),
		done:     make(chan struct{}),
	}
}

func (ch *scriptedChannel) Connect(context.Context) error {
	ch.mu.Lock()
	ch.connected = true
	ch.mu.Unlock()
	ch.startOnce.Do(func() { go ch.dispatch() })
	return nil
}

func (ch *scriptedChannel) dispatch() {
	for {
		select {
		case fn := <-ch.queue:
			fn()
		case <-ch.done:
			return
		}
	}
}

func (ch *scriptedChannel) Send(event string, payload any) error {
	ch.mu.Lock()
	if !ch.connected {
		ch.mu.Unlock()
		return signaling.ErrChannelDisconnected
	}
	ch.sent = append(ch.sent, event)
	reply := ch.reply
	ch.mu.Unlock()

	if reply != nil {
		reply(ch, event, payload)
	}
	return nil
}

func (ch *scriptedChannel) On(event string, h signaling.Handler) func() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.handlers[event] == nil {
		ch.handlers[event] = make(map[int]signaling.Handler)
	}
	id := ch.next
	ch.next++
	ch.handlers[event][id] = h
	return func() {
		ch.mu.Lock()
		delete(ch.handlers[event], id)
		ch.mu.Unlock()
	}
}

func (ch *scriptedChannel) Connected() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.connected
}

func (ch *scriptedChannel) Disconnect() {
	ch.mu.Lock()
	ch.connected = false
	ch.mu.Unlock()
	ch.stopOnce.Do(func() { close(ch.done) })
}

// deliver queues event for the subscribed handlers.
func (ch *scriptedChannel) deliver(event string, payload any) {
	raw, _ := json.Marshal(payload)
	ch.queue <- func() {
		ch.mu.Lock()
		hs := make([]signaling.Handler, 0, len(ch.handlers[event]))
		for _, h := range ch.handlers[event] {
			hs = append(hs, h)
		}
		ch.mu.Unlock()
		for _, h := range hs {
			h(raw)
		}
	}
}

func (ch *scriptedChannel) count(event string) int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	n := 0
	for _, e := range ch.sent {
		if e == event {
			n++
		}
	}
	return n
}

func (ch *scriptedChannel) stopped() bool {
	select {
	case <-ch.done:
		return true
	default:
		return false
	}
}

// joinReplies answers the nth joinRoom (counting from 1) with joined, or with
// role_conflict when conflict(n) is true.
func joinReplies(conflict func(n int) bool) func(*scriptedChannel, string, any) {
	return func(ch *scriptedChannel, event string, payload any) {
		if event != signaling.EventJoinRoom {
			return
		}
		p := payload.(signaling.JoinRoomPayload)
		if conflict(ch.count(signaling.EventJoinRoom)) {
			ch.deliver(signaling.EventError, signaling.ErrorPayload{
				Code:  signaling.CodeRoleConflict,
				Error: "role laptop is already taken",
			})
			return
		}
		ch.deliver(signaling.EventJoined, signaling.JoinedPayload{RoomID: p.RoomID, Role: p.Role})
	}
}

type scriptedSession struct {
	*session.Coordinator
	channel *scriptedChannel
	sink    *recordingSink
	pcs     *negotiationtest.Factory
}

func newScriptedSession(t *testing.T, ch *scriptedChannel, attempts int) *scriptedSession {
	t.Helper()

	s := &scriptedSession{channel: ch, sink: &recordingSink{}, pcs: &negotiationtest.Factory{}}
	s.Coordinator = session.New(session.Options{
		Channel:        ch,
		Source:         &media.SyntheticSource{},
		Sink:           s.sink,
		Factory:        factoryOf(s.pcs),
		Logger:         slog.Default(),
		JoinTimeout:    time.Second,
		RejoinAttempts: attempts,
		RejoinInterval: 20 * time.Millisecond,
	})
	t.Cleanup(func() { _ = s.Leave() })

	if err := s.Connect(context.Background(), "exam-42", signaling.RoleLaptop); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

func TestSession_ReconnectRejoins(t *testing.T) {
	ch := newScriptedChannel(joinReplies(func(int) bool { return false }))
	s := newScriptedSession(t, ch, 3)

	if n := len(s.pcs.Created()); n != 1 {
		t.Fatalf("created %d peer connections before reconnect, want 1", n)
	}

	ch.deliver(signaling.EventReconnected, struct{}{})

	eventually(t, "engine restart and rejoin", func() bool {
		return len(s.pcs.Created()) == 2 && ch.count(signaling.EventJoinRoom) == 2
	})
	if s.pcs.Created()[0].Closed() != 1 {
		t.Fatal("peer connection from before the reconnect was not closed")
	}
	if _, cleared := s.sink.snapshot(); cleared == 0 {
		t.Fatal("remote view not cleared on reconnect")
	}
	if st := s.State(); st != session.WaitingForPeer {
		t.Fatalf("state=%s, want waiting-for-peer", st)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Err()=%v after rejoin", err)
	}
}

func TestSession_RejoinRetriesOnConflict(t *testing.T) {
	// Second join is refused while the relay still holds the old socket.
	ch := newScriptedChannel(joinReplies(func(n int) bool { return n == 2 }))
	s := newScriptedSession(t, ch, 3)

	ch.deliver(signaling.EventReconnected, struct{}{})

	eventually(t, "joinRoom resent after conflict", func() bool {
		return ch.count(signaling.EventJoinRoom) == 3
	})
	time.Sleep(100 * time.Millisecond)

	if n := ch.count(signaling.EventJoinRoom); n != 3 {
		t.Fatalf("joinRoom sent %d times, want 3", n)
	}
	if st := s.State(); st != session.WaitingForPeer {
		t.Fatalf("state=%s, want waiting-for-peer", st)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Err()=%v after successful retry", err)
	}
	if ch.stopped() {
		t.Fatal("channel closed after successful retry")
	}
}

func TestSession_RejoinGivesUp(t *testing.T) {
	ch := newScriptedChannel(joinReplies(func(n int) bool { return n > 1 }))
	s := newScriptedSession(t, ch, 2)

	ch.deliver(signaling.EventReconnected, struct{}{})

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session still open after rejoin attempts ran out")
	}
	if !errors.Is(s.Err(), session.ErrRoleConflict) {
		t.Fatalf("Err()=%v, want ErrRoleConflict", s.Err())
	}
	if st := s.State(); st != session.Closed {
		t.Fatalf("state=%s, want closed", st)
	}
	// The initial join, the rejoin, and two retries.
	if n := ch.count(signaling.EventJoinRoom); n != 4 {
		t.Fatalf("joinRoom sent %d times, want 4", n)
	}
	if local, _ := s.sink.snapshot(); local == nil || local.Live() {
		t.Fatal("camera not released after giving up")
	}
	if !ch.stopped() {
		t.Fatal("channel not disconnected after giving up")
	}
}

func TestSession_RejoinRefusedEndsSession(t *testing.T) {
	ch := newScriptedChannel(nil)
	ch.reply = func(ch *scriptedChannel, event string, payload any) {
		if event != signaling.EventJoinRoom {
			return
		}
		if ch.count(signaling.EventJoinRoom) > 1 {
			ch.deliver(signaling.EventError, signaling.ErrorPayload{Code: signaling.CodeRoomFull, Error: "room is full"})
			return
		}
		p := payload.(signaling.JoinRoomPayload)
		ch.deliver(signaling.EventJoined, signaling.JoinedPayload{RoomID: p.RoomID, Role: p.Role})
	}
	s := newScriptedSession(t, ch, 3)

	ch.deliver(signaling.EventReconnected, struct{}{})

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session still open after the relay refused the rejoin")
	}
	if !errors.Is(s.Err(), session.ErrRoomFull) {
		t.Fatalf("Err()=%v, want ErrRoomFull", s.Err())
	}
	if n := ch.count(signaling.EventJoinRoom); n != 2 {
		t.Fatalf("joinRoom sent %d times, want 2", n)
	}
}
