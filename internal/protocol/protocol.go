// Package protocol defines the relay event vocabulary and the envelope every
// event travels in. The envelope tags each message with the originating
// participant id and a per-channel sequence number so receivers can drop
// their own echoes deterministically instead of trusting the relay's
// sender-exclusion alone.
package protocol

import (
	"encoding/json"
	"fmt"

	"idealab/internal/board"
)

// Event names. The payload column of the wire contract lives in the typed
// structs below.
const (
	EventJoinRoom         = "join-room"
	EventNodeDrag         = "node-drag"
	EventNodeCreate       = "node-create"
	EventTextChange       = "text-change"
	EventEdgeCreate       = "edge-create"
	EventNodesDelete      = "nodes-delete"
	EventEdgesDelete      = "edges-delete"
	EventCursorMove       = "cursor-move"
	EventBoardUpdate      = "board-update"
	EventUserDisconnected = "user-disconnected"
)

// Envelope wraps every relayed event. Room routes the message, Origin and
// Seq identify and order it per sender. The relay forwards Payload verbatim.
type Envelope struct {
	Event   string          `json:"event"`
	Room    string          `json:"room"`
	Origin  string          `json:"origin"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type NodePayload struct {
	Node board.Node `json:"node"`
}

type TextChangePayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type EdgePayload struct {
	Edge board.Edge `json:"edge"`
}

type DeletePayload struct {
	IDs []string `json:"ids"`
}

type CursorPayload struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	UserID    string  `json:"userId"`
	UserName  string  `json:"userName"`
	UserColor string  `json:"userColor"`
}

// BoardUpdatePayload is the full-state override used by undo/redo. Whoever
// receives it replaces nodes and edges wholesale.
type BoardUpdatePayload struct {
	Nodes []board.Node `json:"nodes"`
	Edges []board.Edge `json:"edges"`
}

type UserDisconnectedPayload struct {
	UserID string `json:"userId"`
}

// Encode marshals an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Event, err)
	}
	return raw, nil
}

// Decode unmarshals an envelope received from the wire.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event name")
	}
	return env, nil
}

// MarshalPayload is a small helper for building envelopes from typed payloads.
func MarshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}
