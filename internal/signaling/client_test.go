package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoServer echoes every envelope back and lets tests drop live connections.
type echoServer struct {
	*httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
	seen  []string
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()

	s := &echoServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.mu.Lock()
			s.seen = append(s.seen, env.Event)
			s.mu.Unlock()
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *echoServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *echoServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c := NewClient(url, WithReconnect(3, 20*time.Millisecond), WithResolver(nil))
	t.Cleanup(c.Disconnect)
	return c
}

func waitFor(t *testing.T, ch <-chan json.RawMessage, what string) json.RawMessage {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func TestClient_SendAndReceive(t *testing.T) {
	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())

	got := make(chan json.RawMessage, 1)
	c.On(EventOffer, func(p json.RawMessage) { got <- p })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Connected() {
		t.Fatal("Connected() = false after Connect")
	}

	if err := c.Send(EventOffer, OfferPayload{RoomID: "exam-42"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var offer OfferPayload
	if err := json.Unmarshal(waitFor(t, got, "offer echo"), &offer); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if offer.RoomID != "exam-42" {
		t.Fatalf("roomId=%q, want exam-42", offer.RoomID)
	}
}

func TestClient_AliasEventsAreCanonical(t *testing.T) {
	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())

	got := make(chan json.RawMessage, 2)
	c.On(EventReady, func(p json.RawMessage) { got <- p })
	c.On(EventParticipantLeft, func(p json.RawMessage) { got <- p })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = c.Send(EventRoomReady, ReadyPayload{RoomID: "r"})
	_ = c.Send(EventPeerLeft, PeerLeftPayload{Role: RoleMobile})

	waitFor(t, got, "roomReady delivered as ready")
	waitFor(t, got, "peerDisconnected delivered to participantLeft subscriber")
}

func TestClient_OffUnsubscribes(t *testing.T) {
	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())

	first := make(chan json.RawMessage, 4)
	second := make(chan json.RawMessage, 4)
	off := c.On(EventAnswer, func(p json.RawMessage) { first <- p })
	c.On(EventAnswer, func(p json.RawMessage) { second <- p })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	off()
	off()
	if n := c.handlers.count(EventAnswer); n != 1 {
		t.Fatalf("handler count=%d, want 1", n)
	}

	_ = c.Send(EventAnswer, AnswerPayload{RoomID: "r"})
	waitFor(t, second, "answer")

	select {
	case <-first:
		t.Fatal("unsubscribed handler was called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())

	lost := make(chan json.RawMessage, 1)
	back := make(chan json.RawMessage, 1)
	echoes := make(chan json.RawMessage, 1)
	c.On(EventConnectionLost, func(p json.RawMessage) { lost <- p })
	c.On(EventReconnected, func(p json.RawMessage) { back <- p })
	c.On(EventICECandidate, func(p json.RawMessage) { echoes <- p })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	srv.dropAll()
	waitFor(t, lost, "connectionLost")
	waitFor(t, back, "reconnected")

	if err := c.Send(EventICECandidate, CandidatePayload{RoomID: "r"}); err != nil {
		t.Fatalf("Send after reconnect: %v", err)
	}
	waitFor(t, echoes, "candidate echo on new connection")

	if n := srv.connCount(); n != 1 {
		t.Fatalf("server sees %d connections, want 1", n)
	}
}

func TestClient_GivesUpAfterBoundedAttempts(t *testing.T) {
	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())

	gone := make(chan json.RawMessage, 1)
	c.On(EventDisconnected, func(p json.RawMessage) { gone <- p })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	srv.dropAll()
	srv.Close()

	waitFor(t, gone, "disconnected")
	if err := c.Send(EventLeaveRoom, LeaveRoomPayload{RoomID: "r"}); !errors.Is(err, ErrChannelDisconnected) {
		t.Fatalf("Send after give-up err=%v, want ErrChannelDisconnected", err)
	}
	if c.Connected() {
		t.Fatal("Connected() = true after give-up")
	}
}

func TestClient_ConnectUnavailable(t *testing.T) {
	srv := newEchoServer(t)
	url := srv.wsURL()
	srv.Close()

	c := newTestClient(t, url)
	start := time.Now()
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("Connect err=%v, want ErrChannelUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("gave up after %v, expected two fixed waits", elapsed)
	}
}

func TestClient_DisconnectIdempotent(t *testing.T) {
	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.Disconnect()
	c.Disconnect()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done() not closed after Disconnect")
	}
	if err := c.Send(EventJoinRoom, JoinRoomPayload{}); !errors.Is(err, ErrChannelDisconnected) {
		t.Fatalf("Send err=%v, want ErrChannelDisconnected", err)
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"laptop", RoleLaptop, true},
		{"phone", RoleMobile, true},
		{"auto", RoleAuto, true},
		{"", "", false},
		{"tablet", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRole(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseRole(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
	if RoleLaptop.Peer() != RoleMobile || RoleMobile.Peer() != RoleLaptop {
		t.Error("Peer() is not complementary")
	}
}

func TestClient_DisconnectFlushesQueued(t *testing.T) {
	srv := newEchoServer(t)
	c := newTestClient(t, srv.wsURL())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := c.Send(EventICECandidate, CandidatePayload{RoomID: "exam-42"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := c.Send(EventLeaveRoom, LeaveRoomPayload{RoomID: "exam-42"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.Disconnect()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		srv.mu.Lock()
		seen := append([]string(nil), srv.seen...)
		srv.mu.Unlock()
		if n := len(seen); n > 0 && seen[n-1] == EventLeaveRoom {
			if n != 21 {
				t.Fatalf("relay saw %d messages, want 21", n)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("leaveRoom queued before Disconnect never reached the relay")
}
