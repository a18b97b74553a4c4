package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"riftline/server/internal/hub"
	"riftline/server/internal/net/proto"
	"riftline/server/logging"
)

func startTestServer(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	h := hub.New(hub.DefaultConfig(), nil, nil, nil)
	srv := httptest.NewServer(NewMux(h, nil, logging.NewMetrics()))
	t.Cleanup(srv.Close)
	return h, srv
}

func joinOverHTTP(t *testing.T, srv *httptest.Server) proto.JoinResponse {
	t.Helper()
	resp, err := http.Post(srv.URL+"/join", "application/json", nil)
	if err != nil {
		t.Fatalf("join request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join returned status %d", resp.StatusCode)
	}
	var join proto.JoinResponse
	if err := json.NewDecoder(resp.Body).Decode(&join); err != nil {
		t.Fatalf("join response did not decode: %v", err)
	}
	return join
}

func dialWS(t *testing.T, srv *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?id=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestReconnectReplacesTransportWithoutKillingSession(t *testing.T) {
	h, srv := startTestServer(t)
	join := joinOverHTTP(t, srv)

	first := dialWS(t, srv, join.ClientID)
	second := dialWS(t, srv, join.ClientID)

	// Subscribing the second connection closes the first one; its read loop
	// must exit without tearing down the session it no longer owns.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("expected the replaced connection to be closed")
	}
	time.Sleep(300 * time.Millisecond)

	if _, ok := h.SnapshotFor(join.ClientID); !ok {
		t.Fatalf("session for %s was torn down by the replaced connection's read loop", join.ClientID)
	}

	// The surviving connection still serves the session end to end.
	hb := proto.ClientMessage{Ver: proto.Version, Type: proto.TypeHeartbeat, ClientSent: time.Now().UnixMilli()}
	if err := second.WriteJSON(hb); err != nil {
		t.Fatalf("heartbeat over the new connection failed: %v", err)
	}
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	var echo proto.HeartbeatMessage
	if err := second.ReadJSON(&echo); err != nil {
		t.Fatalf("heartbeat echo never arrived: %v", err)
	}
	if echo.Type != proto.TypeHeartbeat || echo.ClientSent != hb.ClientSent {
		t.Fatalf("heartbeat echo mangled: %+v", echo)
	}
}

func TestDisconnectTearsDownSessionWhenConnIsCurrent(t *testing.T) {
	h, srv := startTestServer(t)
	join := joinOverHTTP(t, srv)

	conn := dialWS(t, srv, join.ClientID)
	conn.Close()

	// The read loop notices the close and tears the session down because its
	// connection is still the current subscriber.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := h.SnapshotFor(join.ClientID); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session survived its own connection closing")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
