// Package relay fans events out to every websocket in a room except the
// sender. It keeps room membership in memory only: a restart loses all
// membership and clients are expected to rejoin.
package relay

import (
	"log"

	"idealab/internal/protocol"
)

type joinRequest struct {
	conn *Conn
	room string
}

type outbound struct {
	room   string
	sender *Conn
	origin string
	raw    []byte
}

// Hub owns the membership tables. All mutation happens on the Run goroutine,
// so no locks are needed.
type Hub struct {
	rooms map[string]map[*Conn]struct{}

	register   chan *Conn
	unregister chan *Conn
	join       chan joinRequest
	forward    chan outbound
	bridged    chan outbound
	done       chan struct{}

	bridge Bridge
}

// Bridge replicates forwarded events to other relay instances. Nil means
// single-instance operation.
type Bridge interface {
	Publish(room string, raw []byte)
	Close() error
}

func NewHub(bridge Bridge) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Conn]struct{}),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		join:       make(chan joinRequest),
		forward:    make(chan outbound, 64),
		bridged:    make(chan outbound, 64),
		done:       make(chan struct{}),
		bridge:     bridge,
	}
}

// Run processes membership changes and fan-out until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case conn := <-h.register:
			log.Printf("relay: %s (%s) connected", conn.userName, conn.userID)
		case conn := <-h.unregister:
			h.dropConn(conn)
		case req := <-h.join:
			h.joinRoom(req.conn, req.room)
		case msg := <-h.forward:
			h.fanOut(msg)
			if h.bridge != nil {
				h.bridge.Publish(msg.room, msg.raw)
			}
		case msg := <-h.bridged:
			// Already published by the origin instance; deliver locally only.
			h.fanOut(msg)
		}
	}
}

// Close stops the run loop. Existing connections notice on their next read.
func (h *Hub) Close() {
	close(h.done)
	if h.bridge != nil {
		_ = h.bridge.Close()
	}
}

// ForwardFromBridge delivers a message published by another relay instance
// to this instance's local members of the room.
func (h *Hub) ForwardFromBridge(room, origin string, raw []byte) {
	select {
	case h.bridged <- outbound{room: room, origin: origin, raw: raw}:
	case <-h.done:
	}
}

// joinRoom is idempotent: joining a room twice is a no-op.
func (h *Hub) joinRoom(conn *Conn, room string) {
	if room == "" {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
	}
	if _, member := members[conn]; member {
		return
	}
	members[conn] = struct{}{}
	conn.rooms[room] = struct{}{}
	log.Printf("relay: %s joined room %s (%d members)", conn.userName, room, len(members))
}

// fanOut forwards the raw message verbatim to every other member of the
// room. Delivery is fire-and-forget: a member whose send buffer is full is
// dropped rather than allowed to stall the room.
func (h *Hub) fanOut(msg outbound) {
	for member := range h.rooms[msg.room] {
		if member == msg.sender {
			continue
		}
		if msg.origin != "" && member.userID == msg.origin {
			continue
		}
		select {
		case member.send <- msg.raw:
		default:
			h.dropConn(member)
		}
	}
}

// dropConn removes the connection from every room it joined and announces
// the departure to the remaining members of those rooms only. Presence is
// room-scoped: other rooms never hear about it.
func (h *Hub) dropConn(conn *Conn) {
	if conn.closed {
		return
	}
	conn.closed = true
	for room := range conn.rooms {
		members := h.rooms[room]
		delete(members, conn)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
		h.announceDeparture(room, conn)
	}
	close(conn.send)
	log.Printf("relay: %s (%s) disconnected", conn.userName, conn.userID)
}

func (h *Hub) announceDeparture(room string, conn *Conn) {
	payload, err := protocol.MarshalPayload(protocol.UserDisconnectedPayload{UserID: conn.userID})
	if err != nil {
		return
	}
	raw, err := protocol.Encode(protocol.Envelope{
		Event:   protocol.EventUserDisconnected,
		Room:    room,
		Origin:  conn.userID,
		Payload: payload,
	})
	if err != nil {
		return
	}
	msg := outbound{room: room, sender: conn, raw: raw}
	h.fanOut(msg)
	if h.bridge != nil {
		h.bridge.Publish(room, raw)
	}
}
