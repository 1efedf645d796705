package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Camsync/internal/signaling"
)

type testRelay struct {
	*httptest.Server
	hub *Hub

	mu     sync.Mutex
	traces []Trace
}

func newTestRelay(t *testing.T, opts ...Option) *testRelay {
	t.Helper()

	tr := &testRelay{}
	opts = append(opts, WithTracer(func(tc Trace) {
		tr.mu.Lock()
		tr.traces = append(tr.traces, tc)
		tr.mu.Unlock()
	}))
	tr.hub = NewHub(opts...)

	ctx, cancel := context.WithCancel(context.Background())
	go tr.hub.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	tr.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		tr.hub.Attach(conn)
	}))

	t.Cleanup(func() {
		tr.Server.Close()
		cancel()
		<-tr.hub.Done()
	})
	return tr
}

func (tr *testRelay) events() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]string, len(tr.traces))
	for i, tc := range tr.traces {
		out[i] = tc.Event
	}
	return out
}

type member struct {
	t    *testing.T
	conn *websocket.Conn
}

func (tr *testRelay) dial(t *testing.T) *member {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tr.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &member{t: t, conn: conn}
}

func (m *member) send(event string, payload any) {
	m.t.Helper()
	env, err := signaling.NewEnvelope(event, payload)
	if err != nil {
		m.t.Fatalf("envelope: %v", err)
	}
	if err := m.conn.WriteJSON(env); err != nil {
		m.t.Fatalf("write %s: %v", event, err)
	}
}

func (m *member) next(timeout time.Duration) (*signaling.Envelope, error) {
	m.conn.SetReadDeadline(time.Now().Add(timeout))
	var env signaling.Envelope
	if err := m.conn.ReadJSON(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (m *member) expect(event string) *signaling.Envelope {
	m.t.Helper()
	env, err := m.next(2 * time.Second)
	if err != nil {
		m.t.Fatalf("waiting for %s: %v", event, err)
	}
	if env.Event != event {
		m.t.Fatalf("got %s (%s), want %s", env.Event, env.Payload, event)
	}
	return env
}

func (m *member) expectError(code string) {
	m.t.Helper()
	var p signaling.ErrorPayload
	if err := m.expect(signaling.EventError).Decode(&p); err != nil {
		m.t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != code {
		m.t.Fatalf("error code=%q (%s), want %q", p.Code, p.Error, code)
	}
}

// expectQuiet fails if anything arrives within a short window. The read
// deadline poisons the connection, so call it last.
func (m *member) expectQuiet() {
	m.t.Helper()
	if env, err := m.next(100 * time.Millisecond); err == nil {
		m.t.Fatalf("unexpected %s (%s)", env.Event, env.Payload)
	}
}

func (m *member) join(room string, role signaling.Role) signaling.Role {
	m.t.Helper()
	m.send(signaling.EventJoinRoom, signaling.JoinRoomPayload{RoomID: room, Role: role})
	var p signaling.JoinedPayload
	if err := m.expect(signaling.EventJoined).Decode(&p); err != nil {
		m.t.Fatalf("decode joined: %v", err)
	}
	if p.RoomID != room {
		m.t.Fatalf("joined room %q, want %q", p.RoomID, room)
	}
	return p.Role
}

func TestHub_JoinBothRolesReady(t *testing.T) {
	tr := newTestRelay(t)

	// A lone member is admitted but never told the room is ready.
	solo := tr.dial(t)
	if got := solo.join("exam-41", signaling.RoleLaptop); got != signaling.RoleLaptop {
		t.Fatalf("assigned %s, want laptop", got)
	}
	solo.expectQuiet()

	a, b := tr.dial(t), tr.dial(t)
	a.join("exam-42", signaling.RoleLaptop)
	b.join("exam-42", signaling.RoleMobile)

	a.expect(signaling.EventReady)
	b.expect(signaling.EventReady)
	a.expectQuiet()

	want := []string{signaling.EventJoinRoom, signaling.EventJoinRoom, signaling.EventJoinRoom, signaling.EventReady}
	if got := tr.events(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("trace=%v, want %v", got, want)
	}
}

func TestHub_RoleConflict(t *testing.T) {
	tr := newTestRelay(t)
	a, c, b := tr.dial(t), tr.dial(t), tr.dial(t)

	a.join("exam-42", signaling.RoleLaptop)

	c.send(signaling.EventJoinRoom, signaling.JoinRoomPayload{RoomID: "exam-42", Role: signaling.RoleLaptop})
	c.expectError(signaling.CodeRoleConflict)

	// The first laptop is untouched and still pairs with a phone.
	b.join("exam-42", signaling.RoleMobile)
	a.expect(signaling.EventReady)
	b.expect(signaling.EventReady)
}

func TestHub_RoomFull(t *testing.T) {
	tr := newTestRelay(t)
	a, b, c := tr.dial(t), tr.dial(t), tr.dial(t)

	a.join("r", signaling.RoleLaptop)
	b.join("r", signaling.RoleMobile)

	c.send(signaling.EventJoinRoom, signaling.JoinRoomPayload{RoomID: "r", Role: signaling.RoleAuto})
	c.expectError(signaling.CodeRoomFull)
}

func TestHub_AutoRoleArbitration(t *testing.T) {
	tr := newTestRelay(t)
	a, b := tr.dial(t), tr.dial(t)

	if got := a.join("r", signaling.RoleAuto); got != signaling.RoleLaptop {
		t.Fatalf("first auto joiner got %s, want laptop", got)
	}
	if got := b.join("r", signaling.RoleAuto); got != signaling.RoleMobile {
		t.Fatalf("second auto joiner got %s, want mobile", got)
	}
	a.expect(signaling.EventReady)
}

func TestHub_InvalidJoin(t *testing.T) {
	tr := newTestRelay(t)
	a := tr.dial(t)

	a.send(signaling.EventJoinRoom, signaling.JoinRoomPayload{RoomID: "", Role: signaling.RoleLaptop})
	a.expectError(signaling.CodeBadRequest)

	a.send(signaling.EventJoinRoom, map[string]string{"roomId": "r", "role": "tablet"})
	a.expectError(signaling.CodeInvalidRole)

	a.send(signaling.EventOffer, signaling.OfferPayload{RoomID: "r"})
	a.expectError(signaling.CodeNotInRoom)

	if err := a.conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	a.expectError(signaling.CodeBadRequest)
}

func TestHub_ForwardsVerbatim(t *testing.T) {
	tr := newTestRelay(t)
	a, b := tr.dial(t), tr.dial(t)

	a.join("r", signaling.RoleLaptop)
	b.join("r", signaling.RoleMobile)
	a.expect(signaling.EventReady)
	b.expect(signaling.EventReady)

	raw := json.RawMessage(`{"roomId":"r","offer":{"type":"offer","sdp":"v=0\r\nopaque"},"extra":[1,2,3]}`)
	if err := a.conn.WriteJSON(signaling.Envelope{Event: signaling.EventOffer, Payload: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := b.expect(signaling.EventOffer)
	var want, have any
	json.Unmarshal(raw, &want)
	json.Unmarshal(got.Payload, &have)
	if !jsonEqual(want, have) {
		t.Fatalf("payload changed in transit:\n got %s\nwant %s", got.Payload, raw)
	}

	b.send(signaling.EventICECandidate, signaling.CandidatePayload{RoomID: "r"})
	a.expect(signaling.EventICECandidate)
}

func TestHub_PeerDisconnected(t *testing.T) {
	tr := newTestRelay(t)
	a, b := tr.dial(t), tr.dial(t)

	a.join("r", signaling.RoleLaptop)
	b.join("r", signaling.RoleMobile)
	a.expect(signaling.EventReady)

	b.conn.Close()

	var p signaling.PeerLeftPayload
	if err := a.expect(signaling.EventPeerLeft).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Role != signaling.RoleMobile {
		t.Fatalf("peer role=%s, want mobile", p.Role)
	}

	// The freed role can be taken again and the room becomes ready once more.
	b = tr.dial(t)
	b.join("r", signaling.RoleMobile)
	a.expect(signaling.EventReady)
}

func TestHub_LeaveRoom(t *testing.T) {
	tr := newTestRelay(t)
	a, b := tr.dial(t), tr.dial(t)

	a.join("r", signaling.RoleLaptop)
	b.join("r", signaling.RoleMobile)
	a.expect(signaling.EventReady)
	b.expect(signaling.EventReady)

	a.send(signaling.EventLeaveRoom, signaling.LeaveRoomPayload{RoomID: "r"})
	b.expect(signaling.EventPeerLeft)

	a.send(signaling.EventLeaveRoom, signaling.LeaveRoomPayload{RoomID: "r"})
	a.expectError(signaling.CodeNotInRoom)

	events := tr.events()
	if events[len(events)-1] != signaling.EventPeerLeft {
		t.Fatalf("trace=%v", events)
	}
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()

	ok, _ := r.Claim(ctx, "r", signaling.RoleLaptop, "m1")
	if !ok {
		t.Fatal("first claim refused")
	}
	if ok, _ := r.Claim(ctx, "r", signaling.RoleLaptop, "m1"); !ok {
		t.Fatal("repeated claim by the holder refused")
	}
	if ok, _ := r.Claim(ctx, "r", signaling.RoleLaptop, "m2"); ok {
		t.Fatal("second member claimed a taken role")
	}

	// Releasing on behalf of a non-holder does nothing.
	_ = r.Release(ctx, "r", signaling.RoleLaptop, "m2")
	if ok, _ := r.Claim(ctx, "r", signaling.RoleLaptop, "m2"); ok {
		t.Fatal("release by non-holder freed the role")
	}

	_ = r.Release(ctx, "r", signaling.RoleLaptop, "m1")
	if r.Rooms() != 0 {
		t.Fatalf("rooms=%d after last release", r.Rooms())
	}
	if ok, _ := r.Claim(ctx, "r", signaling.RoleLaptop, "m2"); !ok {
		t.Fatal("claim after release refused")
	}
}

func jsonEqual(a, b any) bool {
	x, _ := json.Marshal(a)
	y, _ := json.Marshal(b)
	return string(x) == string(y)
}
