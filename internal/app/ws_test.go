package app

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"idealab/internal/protocol"
)

func dialWS(t *testing.T, srv string, userID, userName string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv, "http://", "ws://", 1) + "/ws?userId=" + userID + "&userName=" + userName
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	raw, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func TestWebSocketUpgradeRequiresUserID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without userId, got %d", resp.StatusCode)
	}
}

func TestRelayForwardsToRoomPeersOnly(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialWS(t, srv.URL, "u-alice", "Alice")
	bob := dialWS(t, srv.URL, "u-bob", "Bob")
	sendEnvelope(t, alice, protocol.Envelope{Event: protocol.EventJoinRoom, Room: "room-1", Origin: "u-alice"})
	sendEnvelope(t, bob, protocol.Envelope{Event: protocol.EventJoinRoom, Room: "room-1", Origin: "u-bob"})

	// Joins are processed asynchronously by the hub loop.
	time.Sleep(50 * time.Millisecond)

	payload, err := protocol.MarshalPayload(protocol.TextChangePayload{ID: "n1", Text: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	sendEnvelope(t, alice, protocol.Envelope{
		Event: protocol.EventTextChange, Room: "room-1", Origin: "u-alice", Seq: 1, Payload: payload,
	})

	env := readEnvelope(t, bob)
	if env.Event != protocol.EventTextChange || env.Origin != "u-alice" {
		t.Fatalf("unexpected envelope at bob: %+v", env)
	}

	// The sender must not receive its own message back.
	_ = alice.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := alice.ReadMessage(); err == nil {
		t.Fatal("sender received its own message")
	}
}

func TestDisconnectIsAnnouncedToTheRoom(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialWS(t, srv.URL, "u-alice", "Alice")
	bob := dialWS(t, srv.URL, "u-bob", "Bob")
	sendEnvelope(t, alice, protocol.Envelope{Event: protocol.EventJoinRoom, Room: "room-1", Origin: "u-alice"})
	sendEnvelope(t, bob, protocol.Envelope{Event: protocol.EventJoinRoom, Room: "room-1", Origin: "u-bob"})
	time.Sleep(50 * time.Millisecond)

	alice.Close()

	env := readEnvelope(t, bob)
	if env.Event != protocol.EventUserDisconnected || env.Room != "room-1" {
		t.Fatalf("expected a user-disconnected notice, got %+v", env)
	}
}
