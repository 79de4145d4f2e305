// Package engine is the client-side heart of the whiteboard: the local view
// of one board, the translation of local gestures and remote events into
// that view, the undo/redo history, and the debounced persistence flush.
//
// Local mutations have three non-transactional effects: the view changes
// synchronously, a narrow delta is emitted to peers (fire and forget), and a
// full-snapshot save is scheduled. Remote events only ever touch the view:
// they are never re-emitted, never checkpointed and never trigger a save.
package engine

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"idealab/internal/board"
	"idealab/internal/identity"
	"idealab/internal/protocol"
	"idealab/internal/transport"
)

const defaultFlushDebounce = 500 * time.Millisecond

// Channel is the slice of the transport the engine needs.
type Channel interface {
	ID() string
	Emit(event, room string, payload any)
	On(event string, handler transport.Handler)
	JoinRoom(room string)
}

// BoardAPI is the persistence surface the engine flushes to and loads from.
type BoardAPI interface {
	Load(ctx context.Context, roomID string) (board.Board, error)
	Save(ctx context.Context, b board.Board, seq uint64) error
}

// Cursor is another participant's last known pointer position.
type Cursor struct {
	X     float64
	Y     float64
	ID    string
	Name  string
	Color string
}

// Engine owns the local view of one room. All state is guarded by one mutex,
// so every mutation is atomic; the only blocking work (HTTP saves) happens
// outside the lock.
type Engine struct {
	room string
	me   identity.Identity
	ch   Channel
	api  BoardAPI

	mu          sync.Mutex
	nodes       map[string]board.Node
	edges       map[string]board.Edge
	connections map[string]string // endpoint tuple -> edge id
	viewport    board.Viewport
	cursors     map[string]Cursor
	history     *History
	// liveAhead marks that the view has moved past the checkpoint at the
	// history cursor (creates and text edits aren't checkpointed, and
	// deletes checkpoint the state before removal). The first undo then
	// reverts to that checkpoint instead of stepping behind it.
	liveAhead bool

	// Flush state: a single re-armed debounce timer, at most one save in
	// flight, and a dirty flag so a save finishing against stale state is
	// followed by another with the newer one. saveSeq orders writes so the
	// store can refuse a slow old save that completes after a newer one.
	debounce time.Duration
	timer    *time.Timer
	dirty    bool
	inFlight bool
	saveSeq  uint64
	closed   bool
}

func New(room string, me identity.Identity, ch Channel, api BoardAPI) *Engine {
	e := &Engine{
		room:        room,
		me:          me,
		ch:          ch,
		api:         api,
		nodes:       make(map[string]board.Node),
		edges:       make(map[string]board.Edge),
		connections: make(map[string]string),
		viewport:    board.DefaultViewport(),
		cursors:     make(map[string]Cursor),
		debounce:    defaultFlushDebounce,
	}
	e.history = NewHistory(e.snapshotLocked())
	return e
}

// Bind joins the room and wires remote events into the engine. Call once.
func (e *Engine) Bind() {
	for _, event := range []string{
		protocol.EventNodeDrag,
		protocol.EventNodeCreate,
		protocol.EventTextChange,
		protocol.EventEdgeCreate,
		protocol.EventNodesDelete,
		protocol.EventEdgesDelete,
		protocol.EventCursorMove,
		protocol.EventBoardUpdate,
		protocol.EventUserDisconnected,
	} {
		e.ch.On(event, e.ApplyRemote)
	}
	e.ch.JoinRoom(e.room)
}

// LoadInitial fetches the saved board once and makes it the local view and
// the base of history. On failure the board stays empty: logged, not
// retried, another client's flush will eventually fill the store.
func (e *Engine) LoadInitial(ctx context.Context) {
	loaded, err := e.api.Load(ctx, e.room)
	if err != nil {
		log.Printf("engine: initial load of %s failed, starting empty: %v", e.room, err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes = make(map[string]board.Node, len(loaded.Nodes))
	for _, n := range loaded.Nodes {
		e.nodes[n.ID] = n
	}
	e.edges = make(map[string]board.Edge, len(loaded.Edges))
	e.connections = make(map[string]string, len(loaded.Edges))
	for _, edge := range loaded.Edges {
		e.edges[edge.ID] = edge
		e.connections[edge.ConnectionKey()] = edge.ID
	}
	e.viewport = loaded.Viewport
	e.history = NewHistory(e.snapshotLocked())
	e.liveAhead = false
}

// CreateNode adds a node to the view and announces it. A duplicate id
// overwrites the previous node, last write wins.
func (e *Engine) CreateNode(n board.Node) {
	e.mu.Lock()
	e.nodes[n.ID] = n.Clone()
	e.liveAhead = true
	e.mu.Unlock()

	e.ch.Emit(protocol.EventNodeCreate, e.room, protocol.NodePayload{Node: n})
	e.flushSoon()
}

// EditText updates a node's text. The local view reflects the edit
// synchronously; peers get it whenever the wire delivers it.
func (e *Engine) EditText(id, text string) {
	e.mu.Lock()
	if n, ok := e.nodes[id]; ok {
		updated := n.Clone()
		updated.Text = text
		e.nodes[id] = updated
		e.liveAhead = true
	}
	e.mu.Unlock()

	e.ch.Emit(protocol.EventTextChange, e.room, protocol.TextChangePayload{ID: id, Text: text})
	e.flushSoon()
}

// Connect adds an edge unless one already joins the same endpoint tuple.
// Connecting is a checkpointed mutation: it lands in history.
func (e *Engine) Connect(edge board.Edge) {
	e.mu.Lock()
	key := edge.ConnectionKey()
	if _, exists := e.connections[key]; exists {
		e.mu.Unlock()
		return
	}
	e.edges[edge.ID] = edge
	e.connections[key] = edge.ID
	e.history.Take(e.snapshotLocked())
	e.liveAhead = false
	e.mu.Unlock()

	e.ch.Emit(protocol.EventEdgeCreate, e.room, protocol.EdgePayload{Edge: edge})
	e.flushSoon()
}

// DeleteNodes removes nodes by id. The checkpoint is taken before removal so
// undo restores them. Edges pointing at deleted nodes are left dangling.
func (e *Engine) DeleteNodes(ids []string) {
	e.mu.Lock()
	e.history.Take(e.snapshotLocked())
	for _, id := range ids {
		delete(e.nodes, id)
	}
	e.liveAhead = true
	e.mu.Unlock()

	e.ch.Emit(protocol.EventNodesDelete, e.room, protocol.DeletePayload{IDs: ids})
	e.flushSoon()
}

// DeleteEdges removes edges by id, checkpointing first like DeleteNodes.
func (e *Engine) DeleteEdges(ids []string) {
	e.mu.Lock()
	e.history.Take(e.snapshotLocked())
	for _, id := range ids {
		if edge, ok := e.edges[id]; ok {
			delete(e.connections, edge.ConnectionKey())
			delete(e.edges, id)
		}
	}
	e.liveAhead = true
	e.mu.Unlock()

	e.ch.Emit(protocol.EventEdgesDelete, e.room, protocol.DeletePayload{IDs: ids})
	e.flushSoon()
}

// MoveNode is the live drag update: position changes stream to peers but are
// neither checkpointed nor persisted until the drag ends.
func (e *Engine) MoveNode(n board.Node) {
	e.mu.Lock()
	e.nodes[n.ID] = n.Clone()
	e.liveAhead = true
	e.mu.Unlock()

	e.ch.Emit(protocol.EventNodeDrag, e.room, protocol.NodePayload{Node: n})
}

// EndMove schedules the save that a finished drag deserves.
func (e *Engine) EndMove() {
	e.flushSoon()
}

// SetViewport records the local pan/zoom. Viewports are per-client on the
// wire but last-writer-wins in the store.
func (e *Engine) SetViewport(v board.Viewport) {
	e.mu.Lock()
	e.viewport = v
	e.mu.Unlock()
	e.flushSoon()
}

// MoveCursor streams this participant's pointer to the room. Ephemeral:
// never stored, never persisted.
func (e *Engine) MoveCursor(x, y float64) {
	e.ch.Emit(protocol.EventCursorMove, e.room, protocol.CursorPayload{
		X:         x,
		Y:         y,
		UserID:    e.ch.ID(),
		UserName:  e.me.Name,
		UserColor: e.me.Color,
	})
}

// Undo makes the previous checkpoint the whole local view. If the view has
// uncheckpointed changes the first undo reverts to the checkpoint at the
// cursor; otherwise the cursor steps back. The result is broadcast as a
// full-board update and flushed, so peers' edits made since the checkpoint
// are overwritten too: last writer wins at snapshot granularity. Returns
// false when there is nothing to undo.
func (e *Engine) Undo() bool {
	e.mu.Lock()
	var snap Snapshot
	if e.liveAhead {
		snap = e.history.Current()
	} else {
		var ok bool
		snap, ok = e.history.Undo()
		if !ok {
			e.mu.Unlock()
			return false
		}
	}
	e.restoreLocked(snap)
	payload := e.boardUpdateLocked()
	e.mu.Unlock()

	e.ch.Emit(protocol.EventBoardUpdate, e.room, payload)
	e.flushSoon()
	return true
}

// Redo is Undo's mirror: forward step, full-view replacement, broadcast,
// flush. Returns false at the tail of history.
func (e *Engine) Redo() bool {
	e.mu.Lock()
	snap, ok := e.history.Redo()
	if !ok {
		e.mu.Unlock()
		return false
	}
	e.restoreLocked(snap)
	payload := e.boardUpdateLocked()
	e.mu.Unlock()

	e.ch.Emit(protocol.EventBoardUpdate, e.room, payload)
	e.flushSoon()
	return true
}

// ApplyRemote folds one relayed event into the local view. Self-originated
// envelopes (echoes) are dropped by origin id. Remote changes are never
// re-emitted, never checkpointed and never trigger a flush, otherwise N
// clients would all re-save the same state.
func (e *Engine) ApplyRemote(env protocol.Envelope) {
	if env.Origin == e.ch.ID() {
		return
	}
	if env.Room != "" && env.Room != e.room {
		return
	}

	switch env.Event {
	case protocol.EventNodeCreate, protocol.EventNodeDrag:
		var p protocol.NodePayload
		if !decodePayload(env, &p) {
			return
		}
		e.mu.Lock()
		e.nodes[p.Node.ID] = p.Node.Clone()
		e.mu.Unlock()

	case protocol.EventTextChange:
		var p protocol.TextChangePayload
		if !decodePayload(env, &p) {
			return
		}
		e.mu.Lock()
		if n, ok := e.nodes[p.ID]; ok {
			updated := n.Clone()
			updated.Text = p.Text
			e.nodes[p.ID] = updated
		}
		e.mu.Unlock()

	case protocol.EventEdgeCreate:
		var p protocol.EdgePayload
		if !decodePayload(env, &p) {
			return
		}
		e.mu.Lock()
		key := p.Edge.ConnectionKey()
		if _, exists := e.connections[key]; !exists {
			e.edges[p.Edge.ID] = p.Edge
			e.connections[key] = p.Edge.ID
		}
		e.mu.Unlock()

	case protocol.EventNodesDelete:
		var p protocol.DeletePayload
		if !decodePayload(env, &p) {
			return
		}
		e.mu.Lock()
		for _, id := range p.IDs {
			delete(e.nodes, id)
		}
		e.mu.Unlock()

	case protocol.EventEdgesDelete:
		var p protocol.DeletePayload
		if !decodePayload(env, &p) {
			return
		}
		e.mu.Lock()
		for _, id := range p.IDs {
			if edge, ok := e.edges[id]; ok {
				delete(e.connections, edge.ConnectionKey())
				delete(e.edges, id)
			}
		}
		e.mu.Unlock()

	case protocol.EventCursorMove:
		var p protocol.CursorPayload
		if !decodePayload(env, &p) {
			return
		}
		if p.UserID == "" {
			return
		}
		e.mu.Lock()
		e.cursors[p.UserID] = Cursor{X: p.X, Y: p.Y, ID: p.UserID, Name: p.UserName, Color: p.UserColor}
		e.mu.Unlock()

	case protocol.EventBoardUpdate:
		var p protocol.BoardUpdatePayload
		if !decodePayload(env, &p) {
			return
		}
		e.mu.Lock()
		e.replaceLocked(p.Nodes, p.Edges)
		e.mu.Unlock()

	case protocol.EventUserDisconnected:
		var p protocol.UserDisconnectedPayload
		if !decodePayload(env, &p) {
			return
		}
		e.mu.Lock()
		delete(e.cursors, p.UserID)
		e.mu.Unlock()
	}
}

// Close stops future flushes. A final synchronous FlushNow is the caller's
// choice.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
	}
}

// Nodes returns a copy of the current node set.
func (e *Engine) Nodes() []board.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]board.Node, 0, len(e.nodes))
	for _, n := range e.nodes {
		out = append(out, n)
	}
	return out
}

// Edges returns a copy of the current edge set.
func (e *Engine) Edges() []board.Edge {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]board.Edge, 0, len(e.edges))
	for _, edge := range e.edges {
		out = append(out, edge)
	}
	return out
}

// Cursors returns the last known pointer of every other participant.
func (e *Engine) Cursors() map[string]Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Cursor, len(e.cursors))
	for id, c := range e.cursors {
		out[id] = c
	}
	return out
}

// Viewport returns the current local viewport.
func (e *Engine) Viewport() board.Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewport
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{nodes: e.nodes, edges: e.edges}.clone()
}

func (e *Engine) restoreLocked(snap Snapshot) {
	restored := snap.clone()
	e.liveAhead = false
	e.nodes = restored.nodes
	e.edges = restored.edges
	e.connections = make(map[string]string, len(e.edges))
	for id, edge := range e.edges {
		e.connections[edge.ConnectionKey()] = id
	}
}

func (e *Engine) replaceLocked(nodes []board.Node, edges []board.Edge) {
	e.nodes = make(map[string]board.Node, len(nodes))
	for _, n := range nodes {
		e.nodes[n.ID] = n
	}
	e.edges = make(map[string]board.Edge, len(edges))
	e.connections = make(map[string]string, len(edges))
	for _, edge := range edges {
		e.edges[edge.ID] = edge
		e.connections[edge.ConnectionKey()] = edge.ID
	}
}

func (e *Engine) boardUpdateLocked() protocol.BoardUpdatePayload {
	payload := protocol.BoardUpdatePayload{
		Nodes: make([]board.Node, 0, len(e.nodes)),
		Edges: make([]board.Edge, 0, len(e.edges)),
	}
	for _, n := range e.nodes {
		payload.Nodes = append(payload.Nodes, n)
	}
	for _, edge := range e.edges {
		payload.Edges = append(payload.Edges, edge)
	}
	return payload
}

func decodePayload(env protocol.Envelope, target any) bool {
	if err := json.Unmarshal(env.Payload, target); err != nil {
		log.Printf("engine: dropping %s with bad payload: %v", env.Event, err)
		return false
	}
	return true
}
