package relay

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"idealab/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is one participant's websocket as the relay sees it.
type Conn struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	userID   string
	userName string
	rooms    map[string]struct{}
	closed   bool
}

// ServeWS upgrades the request and runs the connection until it drops. The
// participant identity rides in the handshake query, the way the original
// client passes it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	userName := r.URL.Query().Get("userName")
	if userName == "" {
		userName = "Guest"
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: upgrade failed: %v", err)
		return
	}

	conn := &Conn{
		hub:      h,
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		userID:   userID,
		userName: userName,
		rooms:    make(map[string]struct{}),
	}
	h.register <- conn
	go conn.writePump()
	go conn.readPump()
}

// readPump decodes envelopes only far enough to route them. Payloads are
// forwarded verbatim with no shape validation.
func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.ws.Close()
	}()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			log.Printf("relay: dropping malformed message from %s: %v", c.userID, err)
			continue
		}
		if env.Event == protocol.EventJoinRoom {
			c.hub.join <- joinRequest{conn: c, room: env.Room}
			continue
		}
		c.hub.forward <- outbound{room: env.Room, sender: c, origin: env.Origin, raw: raw}
	}
}

func (c *Conn) writePump() {
	defer c.ws.Close()
	for raw := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
	_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
}
