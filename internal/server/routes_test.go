package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Camsync/internal/relay"
	"github.com/BioHazard786/Camsync/internal/signaling"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	hub := relay.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(hub, nil))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "camsync_relay_active_connections") {
		t.Fatal("relay gauges missing from /metrics")
	}
}

func TestServeWs(t *testing.T) {
	srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	env, _ := signaling.NewEnvelope(signaling.EventJoinRoom, signaling.JoinRoomPayload{RoomID: "r", Role: signaling.RoleMobile})
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got signaling.Envelope
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Event != signaling.EventJoined {
		t.Fatalf("event=%s, want joined", got.Event)
	}
}
