// Package transport is the client side of the relay link: a persistent
// websocket that emits fire-and-forget events and dispatches inbound ones to
// registered handlers.
package transport

import (
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"idealab/internal/identity"
	"idealab/internal/protocol"
)

// Handler receives one inbound envelope. At most one handler per event; a
// later On replaces the earlier one.
type Handler func(env protocol.Envelope)

// WS is a websocket channel bound to one participant identity. It reconnects
// with exponential backoff and rejoins its rooms, but gives no delivery
// guarantee for anything emitted while the link was down.
type WS struct {
	me        identity.Identity
	serverURL string
	seq       atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]Handler
	rooms    map[string]struct{}
	closed   bool
}

// Dial connects to the relay at serverURL (http or https base). The identity
// rides in the handshake query so the relay can attribute the socket.
func Dial(serverURL string, me identity.Identity) (*WS, error) {
	ws := &WS{
		me:        me,
		serverURL: serverURL,
		handlers:  make(map[string]Handler),
		rooms:     make(map[string]struct{}),
	}
	conn, err := ws.dial()
	if err != nil {
		return nil, err
	}
	ws.conn = conn
	go ws.readLoop(conn)
	return ws, nil
}

func (w *WS) dial() (*websocket.Conn, error) {
	base, err := url.Parse(w.serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	wsURL := *base
	switch base.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ws"
	query := url.Values{}
	query.Set("userId", w.me.ID)
	query.Set("userName", w.me.Name)
	query.Set("userColor", w.me.Color)
	wsURL.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return conn, nil
}

// ID is the participant id used for cursor attribution and echo suppression.
func (w *WS) ID() string {
	return w.me.ID
}

// On registers the handler for an event name.
func (w *WS) On(event string, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[event] = handler
}

// Emit sends one event. Fire and forget: failures are logged and swallowed,
// state may silently diverge until the next snapshot load reconciles it.
func (w *WS) Emit(event, room string, payload any) {
	raw, err := protocol.MarshalPayload(payload)
	if err != nil {
		log.Printf("transport: dropping %s: %v", event, err)
		return
	}
	env := protocol.Envelope{
		Event:   event,
		Room:    room,
		Origin:  w.me.ID,
		Seq:     w.seq.Add(1),
		Payload: raw,
	}
	encoded, err := protocol.Encode(env)
	if err != nil {
		log.Printf("transport: dropping %s: %v", event, err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil || w.closed {
		return
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
		log.Printf("transport: emit %s failed: %v", event, err)
	}
}

// JoinRoom subscribes to a room's fan-out and remembers it for rejoin after
// a reconnect.
func (w *WS) JoinRoom(room string) {
	w.mu.Lock()
	w.rooms[room] = struct{}{}
	w.mu.Unlock()
	w.Emit(protocol.EventJoinRoom, room, nil)
}

func (w *WS) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

func (w *WS) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			log.Printf("transport: connection lost: %v", err)
			w.reconnect()
			return
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			log.Printf("transport: dropping inbound message: %v", err)
			continue
		}
		w.mu.Lock()
		handler := w.handlers[env.Event]
		w.mu.Unlock()
		if handler != nil {
			handler(env)
		}
	}
}

// reconnect dials until it succeeds, then rejoins every room this channel
// had joined. Events emitted while the link was down are simply gone.
func (w *WS) reconnect() {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = 0 // keep trying until Close

	err := backoff.Retry(func() error {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return backoff.Permanent(fmt.Errorf("channel closed"))
		}
		w.mu.Unlock()

		conn, err := w.dial()
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.conn = conn
		rooms := make([]string, 0, len(w.rooms))
		for room := range w.rooms {
			rooms = append(rooms, room)
		}
		w.mu.Unlock()

		go w.readLoop(conn)
		for _, room := range rooms {
			w.Emit(protocol.EventJoinRoom, room, nil)
		}
		log.Printf("transport: reconnected, rejoined %d room(s)", len(rooms))
		return nil
	}, policy)
	if err != nil {
		log.Printf("transport: reconnect abandoned: %v", err)
	}
}
