package engine

import "idealab/internal/board"

// Snapshot is one point in local history: the nodes and edges as they were
// at a checkpoint. Entities are treated as immutable values throughout the
// engine, so a snapshot is a shallow map copy that shares entity storage
// with every other snapshot instead of deep-copying the whole board.
type Snapshot struct {
	nodes map[string]board.Node
	edges map[string]board.Edge
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		nodes: make(map[string]board.Node, len(s.nodes)),
		edges: make(map[string]board.Edge, len(s.edges)),
	}
	for id, n := range s.nodes {
		out.nodes[id] = n
	}
	for id, e := range s.edges {
		out.edges[id] = e
	}
	return out
}

// History is a linear undo stack of snapshots with a cursor. It always holds
// at least one snapshot (the initial state) and the cursor is always a valid
// position. Pure state machine: no I/O, no failure modes.
type History struct {
	stack []Snapshot
	index int
}

func NewHistory(initial Snapshot) *History {
	return &History{stack: []Snapshot{initial}}
}

// Take records a new checkpoint. Any redo states beyond the cursor are
// discarded first: once a new branch is taken the old future is gone.
func (h *History) Take(snap Snapshot) {
	h.stack = append(h.stack[:h.index+1], snap)
	h.index = len(h.stack) - 1
}

// Undo steps the cursor back and returns the snapshot there. The second
// return is false when there is nothing to undo, and the history is left
// untouched.
func (h *History) Undo() (Snapshot, bool) {
	if h.index == 0 {
		return Snapshot{}, false
	}
	h.index--
	return h.stack[h.index], true
}

// Redo steps the cursor forward and returns the snapshot there, or reports
// false at the tail.
func (h *History) Redo() (Snapshot, bool) {
	if h.index >= len(h.stack)-1 {
		return Snapshot{}, false
	}
	h.index++
	return h.stack[h.index], true
}

// Current returns the snapshot at the cursor without moving it.
func (h *History) Current() Snapshot {
	return h.stack[h.index]
}

func (h *History) Len() int {
	return len(h.stack)
}

func (h *History) Index() int {
	return h.index
}
