// Package boardapi is the client for the board persistence endpoints:
// GET /boards/{roomId} and POST /boards.
package boardapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"idealab/internal/board"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Load fetches the board for a room. A never-saved room comes back as the
// empty default, not an error.
func (c *Client) Load(ctx context.Context, roomID string) (board.Board, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/boards/"+roomID, nil)
	if err != nil {
		return board.Board{}, fmt.Errorf("build load request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return board.Board{}, fmt.Errorf("load board %s: %w", roomID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return board.Board{}, fmt.Errorf("load board %s: unexpected status %d", roomID, resp.StatusCode)
	}

	var result board.Board
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return board.Board{}, fmt.Errorf("decode board %s: %w", roomID, err)
	}
	result.RoomID = roomID
	if result.Nodes == nil {
		result.Nodes = []board.Node{}
	}
	if result.Edges == nil {
		result.Edges = []board.Edge{}
	}
	return result, nil
}

type saveRequest struct {
	board.Board
	Seq uint64 `json:"seq,omitempty"`
}

// ErrStale reports that the store already holds a newer save for the room.
type ErrStale struct {
	RoomID string
}

func (e *ErrStale) Error() string {
	return fmt.Sprintf("board %s: save superseded by a newer write", e.RoomID)
}

// Save replaces the room's whole document. seq is the client's write
// sequence; the store refuses writes older than what it already holds.
func (c *Client) Save(ctx context.Context, b board.Board, seq uint64) error {
	body, err := json.Marshal(saveRequest{Board: b, Seq: seq})
	if err != nil {
		return fmt.Errorf("encode board %s: %w", b.RoomID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/boards", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("save board %s: %w", b.RoomID, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		return &ErrStale{RoomID: b.RoomID}
	default:
		return fmt.Errorf("save board %s: unexpected status %d", b.RoomID, resp.StatusCode)
	}
}
