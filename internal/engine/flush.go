package engine

import (
	"context"
	"log"
	"time"

	"idealab/internal/board"
)

const saveTimeout = 10 * time.Second

// flushSoon schedules a full-snapshot save. Bursts coalesce: every call
// re-arms the single pending timer rather than stacking saves.
func (e *Engine) flushSoon() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.dirty = true
	if e.timer == nil {
		e.timer = time.AfterFunc(e.debounce, e.flush)
	} else {
		e.timer.Reset(e.debounce)
	}
}

// FlushNow saves synchronously, bypassing the debounce. Used on shutdown so
// the last local state isn't lost to a pending timer.
func (e *Engine) FlushNow() {
	e.mu.Lock()
	e.dirty = true
	e.mu.Unlock()
	e.flush()
}

// flush runs at most one save at a time. If the view went dirty again while
// a save was in flight, another save follows with a higher sequence, so a
// slow older write can never be the one the store keeps: the store rejects
// writes whose sequence is lower than the last applied one.
func (e *Engine) flush() {
	e.mu.Lock()
	if e.inFlight || !e.dirty || e.closed {
		e.mu.Unlock()
		return
	}
	e.dirty = false
	e.inFlight = true
	e.saveSeq++
	seq := e.saveSeq
	snapshot := e.boardLocked()
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	err := e.api.Save(ctx, snapshot, seq)
	cancel()
	if err != nil {
		// Logged and dropped: the store stays stale until the next flush,
		// by this client or any other.
		log.Printf("engine: save of %s (seq %d) failed: %v", e.room, seq, err)
	}

	e.mu.Lock()
	e.inFlight = false
	rerun := e.dirty && !e.closed
	e.mu.Unlock()
	if rerun {
		e.flush()
	}
}

func (e *Engine) boardLocked() board.Board {
	update := e.boardUpdateLocked()
	return board.Board{
		RoomID:   e.room,
		Nodes:    update.Nodes,
		Edges:    update.Edges,
		Viewport: e.viewport,
	}
}
