package relay

import (
	"encoding/json"
	"testing"

	"idealab/internal/protocol"
)

func testConn(userID string) *Conn {
	return &Conn{
		send:     make(chan []byte, 8),
		userID:   userID,
		userName: userID,
		rooms:    make(map[string]struct{}),
	}
}

func drain(c *Conn) [][]byte {
	var out [][]byte
	for {
		select {
		case raw := <-c.send:
			out = append(out, raw)
		default:
			return out
		}
	}
}

func TestFanOutSkipsSenderAndOrigin(t *testing.T) {
	h := NewHub(nil)
	sender := testConn("u-sender")
	sameUser := testConn("u-sender") // second tab of the same user
	peer := testConn("u-peer")
	for _, c := range []*Conn{sender, sameUser, peer} {
		h.joinRoom(c, "room-1")
	}

	h.fanOut(outbound{room: "room-1", sender: sender, origin: "u-sender", raw: []byte("msg")})

	if got := drain(sender); len(got) != 0 {
		t.Fatalf("sender must not receive its own message, got %d", len(got))
	}
	if got := drain(sameUser); len(got) != 0 {
		t.Fatalf("origin-tagged conns must be skipped, got %d", len(got))
	}
	if got := drain(peer); len(got) != 1 {
		t.Fatalf("peer expected exactly one message, got %d", len(got))
	}
}

func TestFanOutIsRoomScoped(t *testing.T) {
	h := NewHub(nil)
	inRoom := testConn("u-1")
	elsewhere := testConn("u-2")
	h.joinRoom(inRoom, "room-1")
	h.joinRoom(elsewhere, "room-2")

	h.fanOut(outbound{room: "room-1", sender: nil, raw: []byte("msg")})

	if got := drain(inRoom); len(got) != 1 {
		t.Fatalf("room member expected one message, got %d", len(got))
	}
	if got := drain(elsewhere); len(got) != 0 {
		t.Fatalf("other rooms must hear nothing, got %d", len(got))
	}
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	c := testConn("u-1")
	h.joinRoom(c, "room-1")
	h.joinRoom(c, "room-1")

	if got := len(h.rooms["room-1"]); got != 1 {
		t.Fatalf("expected one membership after double join, got %d", got)
	}
	h.fanOut(outbound{room: "room-1", sender: nil, raw: []byte("msg")})
	if got := drain(c); len(got) != 1 {
		t.Fatalf("double join must not double delivery, got %d", len(got))
	}
}

func TestDropConnAnnouncesDepartureToJoinedRoomsOnly(t *testing.T) {
	h := NewHub(nil)
	leaver := testConn("u-leaver")
	roommate := testConn("u-roommate")
	stranger := testConn("u-stranger")
	h.joinRoom(leaver, "room-1")
	h.joinRoom(roommate, "room-1")
	h.joinRoom(stranger, "room-2")

	h.dropConn(leaver)

	got := drain(roommate)
	if len(got) != 1 {
		t.Fatalf("roommate expected one departure notice, got %d", len(got))
	}
	env, err := protocol.Decode(got[0])
	if err != nil {
		t.Fatalf("decode departure: %v", err)
	}
	if env.Event != protocol.EventUserDisconnected || env.Room != "room-1" {
		t.Fatalf("unexpected departure envelope: %+v", env)
	}
	var p protocol.UserDisconnectedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.UserID != "u-leaver" {
		t.Fatalf("expected departure of u-leaver, got %q", p.UserID)
	}
	if got := drain(stranger); len(got) != 0 {
		t.Fatalf("other rooms must not hear the departure, got %d", len(got))
	}
	if _, member := h.rooms["room-1"][leaver]; member {
		t.Fatal("dropped conn still a member")
	}
}

func TestDropConnIsIdempotentAndClosesSend(t *testing.T) {
	h := NewHub(nil)
	c := testConn("u-1")
	h.joinRoom(c, "room-1")

	h.dropConn(c)
	h.dropConn(c) // must not double-close or re-announce

	if _, open := <-c.send; open {
		t.Fatal("send channel should be closed after drop")
	}
	if len(h.rooms) != 0 {
		t.Fatalf("empty rooms should be deleted, got %d", len(h.rooms))
	}
}

func TestSlowMemberIsDroppedNotWaitedOn(t *testing.T) {
	h := NewHub(nil)
	slow := &Conn{send: make(chan []byte), userID: "u-slow", userName: "u-slow", rooms: make(map[string]struct{})}
	h.joinRoom(slow, "room-1")

	// Unbuffered send with no reader: delivery must drop the member instead
	// of blocking the room.
	h.fanOut(outbound{room: "room-1", sender: nil, raw: []byte("msg")})

	if !slow.closed {
		t.Fatal("expected the stalled member to be dropped")
	}
}

type fakeBridge struct {
	published []struct {
		room string
		raw  []byte
	}
}

func (f *fakeBridge) Publish(room string, raw []byte) {
	f.published = append(f.published, struct {
		room string
		raw  []byte
	}{room, raw})
}

func (f *fakeBridge) Close() error { return nil }

func TestDepartureIsReplicatedToBridge(t *testing.T) {
	bridge := &fakeBridge{}
	h := NewHub(bridge)
	c := testConn("u-1")
	h.joinRoom(c, "room-1")

	h.dropConn(c)

	if len(bridge.published) != 1 || bridge.published[0].room != "room-1" {
		t.Fatalf("departure must be published to the bridge, got %+v", bridge.published)
	}
}
