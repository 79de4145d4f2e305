package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"idealab/internal/identity"
	"idealab/internal/protocol"
)

// relayStub accepts one websocket at a time, records every envelope it reads
// and lets tests push envelopes back down the socket.
type relayStub struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received []protocol.Envelope
	queries  []string
}

func (s *relayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.queries = append(s.queries, r.URL.RawQuery)
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, env)
		s.mu.Unlock()
	}
}

func (s *relayStub) envelopes() []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Envelope, len(s.received))
	copy(out, s.received)
	return out
}

func (s *relayStub) push(t *testing.T, env protocol.Envelope) {
	t.Helper()
	raw, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		t.Fatal("no connection to push to")
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestChannel(t *testing.T) (*WS, *relayStub) {
	t.Helper()
	stub := &relayStub{}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	me := identity.Identity{ID: "u-1", Name: "Swift Fox", Color: "#FF5733"}
	ws, err := Dial(srv.URL, me)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws, stub
}

func TestDialSendsIdentityInHandshake(t *testing.T) {
	_, stub := newTestChannel(t)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.queries) != 1 {
		t.Fatalf("expected one handshake, got %d", len(stub.queries))
	}
	for _, want := range []string{"userId=u-1", "userColor=%23FF5733"} {
		if !strings.Contains(stub.queries[0], want) {
			t.Fatalf("handshake query missing %q: %s", want, stub.queries[0])
		}
	}
}

func TestEmitTagsOriginAndIncrementsSequence(t *testing.T) {
	ws, stub := newTestChannel(t)

	ws.Emit("text-change", "room-1", protocol.TextChangePayload{ID: "n1", Text: "a"})
	ws.Emit("text-change", "room-1", protocol.TextChangePayload{ID: "n1", Text: "b"})
	waitFor(t, func() bool { return len(stub.envelopes()) == 2 })

	envs := stub.envelopes()
	for _, env := range envs {
		if env.Origin != "u-1" || env.Room != "room-1" {
			t.Fatalf("envelope not attributed: %+v", env)
		}
	}
	if envs[0].Seq >= envs[1].Seq {
		t.Fatalf("sequence must increase: %d then %d", envs[0].Seq, envs[1].Seq)
	}
}

func TestJoinRoomEmitsJoinEvent(t *testing.T) {
	ws, stub := newTestChannel(t)

	ws.JoinRoom("room-7")
	waitFor(t, func() bool { return len(stub.envelopes()) == 1 })

	env := stub.envelopes()[0]
	if env.Event != protocol.EventJoinRoom || env.Room != "room-7" {
		t.Fatalf("unexpected join envelope: %+v", env)
	}
}

func TestInboundEnvelopesReachTheHandler(t *testing.T) {
	ws, stub := newTestChannel(t)

	got := make(chan protocol.Envelope, 1)
	ws.On("node-create", func(env protocol.Envelope) { got <- env })

	stub.push(t, protocol.Envelope{Event: "node-create", Room: "room-1", Origin: "peer", Seq: 3})

	select {
	case env := <-got:
		if env.Origin != "peer" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestEmitAfterCloseIsSwallowed(t *testing.T) {
	ws, stub := newTestChannel(t)

	ws.Close()
	ws.Emit("text-change", "room-1", protocol.TextChangePayload{ID: "n1", Text: "late"})

	time.Sleep(50 * time.Millisecond)
	if got := stub.envelopes(); len(got) != 0 {
		t.Fatalf("emit after close must be dropped, got %v", got)
	}
}
