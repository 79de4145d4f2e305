package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"idealab/internal/board"
)

// ErrStaleWrite is returned when a save carries a sequence number older than
// the one already stored. The slow writer lost; its state is discarded.
var ErrStaleWrite = errors.New("stale board write")

// ErrDuplicateEmail is returned when registering an email that already has
// an account.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrNotFound is returned when a looked-up user does not exist.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetBoard returns the saved board for a room, or the empty default when the
// room has never been saved. It never reports "not found".
func (s *PostgresStore) GetBoard(ctx context.Context, roomID string) (board.Board, error) {
	const query = `SELECT nodes, edges, viewport FROM boards WHERE room_id = $1`
	var rawNodes, rawEdges, rawViewport []byte
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(&rawNodes, &rawEdges, &rawViewport)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Board{
			RoomID:   roomID,
			Nodes:    []board.Node{},
			Edges:    []board.Edge{},
			Viewport: board.DefaultViewport(),
		}, nil
	}
	if err != nil {
		return board.Board{}, fmt.Errorf("load board %s: %w", roomID, err)
	}

	result := board.Board{RoomID: roomID, Viewport: board.DefaultViewport()}
	if err := json.Unmarshal(rawNodes, &result.Nodes); err != nil {
		return board.Board{}, fmt.Errorf("decode nodes for %s: %w", roomID, err)
	}
	if err := json.Unmarshal(rawEdges, &result.Edges); err != nil {
		return board.Board{}, fmt.Errorf("decode edges for %s: %w", roomID, err)
	}
	if err := json.Unmarshal(rawViewport, &result.Viewport); err != nil {
		return board.Board{}, fmt.Errorf("decode viewport for %s: %w", roomID, err)
	}
	if result.Nodes == nil {
		result.Nodes = []board.Node{}
	}
	if result.Edges == nil {
		result.Edges = []board.Edge{}
	}
	return result, nil
}

// SaveBoard replaces the whole document for a room. The save sequence guards
// against a slow older write landing after a newer one: writes with a lower
// sequence than the stored row are rejected with ErrStaleWrite. A sequence
// of zero always applies (callers that don't track sequences keep plain
// last-write-wins).
func (s *PostgresStore) SaveBoard(ctx context.Context, b board.Board, seq uint64) error {
	rawNodes, err := json.Marshal(b.Nodes)
	if err != nil {
		return fmt.Errorf("encode nodes: %w", err)
	}
	rawEdges, err := json.Marshal(b.Edges)
	if err != nil {
		return fmt.Errorf("encode edges: %w", err)
	}
	rawViewport, err := json.Marshal(b.Viewport)
	if err != nil {
		return fmt.Errorf("encode viewport: %w", err)
	}

	const upsert = `
		INSERT INTO boards (room_id, nodes, edges, viewport, save_seq, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (room_id) DO UPDATE
			SET nodes = EXCLUDED.nodes,
				edges = EXCLUDED.edges,
				viewport = EXCLUDED.viewport,
				save_seq = EXCLUDED.save_seq,
				updated_at = NOW()
			WHERE EXCLUDED.save_seq = 0 OR EXCLUDED.save_seq >= boards.save_seq
	`
	result, err := s.db.ExecContext(ctx, upsert, b.RoomID, rawNodes, rawEdges, rawViewport, int64(seq))
	if err != nil {
		return fmt.Errorf("save board %s: %w", b.RoomID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save board %s: %w", b.RoomID, err)
	}
	if affected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	const insert = `
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, insert, user.ID, user.Name, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateEmail
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `SELECT id, name, email, password_hash, created_at FROM users WHERE email = $1`
	var user User
	err := s.db.QueryRowContext(ctx, query, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("load user by email: %w", err)
	}
	return user, nil
}
