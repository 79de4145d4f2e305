package app

import (
	"context"

	"idealab/internal/account"
	"idealab/internal/board"
)

// boardStore is the slice of the persistence layer the HTTP surface needs.
type boardStore interface {
	GetBoard(ctx context.Context, roomID string) (board.Board, error)
	SaveBoard(ctx context.Context, b board.Board, seq uint64) error
	Ping(ctx context.Context) error
}

// Service mediates between HTTP handlers and the board store plus accounts.
// The server holds no board state of its own: reads and writes pass straight
// through to the store, whole document at a time.
type Service struct {
	store    boardStore
	accounts *account.Service
}

func New(store boardStore, accounts *account.Service) *Service {
	return &Service{store: store, accounts: accounts}
}

func (s *Service) LoadBoard(ctx context.Context, roomID string) (board.Board, error) {
	return s.store.GetBoard(ctx, roomID)
}

func (s *Service) SaveBoard(ctx context.Context, b board.Board, seq uint64) error {
	return s.store.SaveBoard(ctx, b, seq)
}

func (s *Service) Register(ctx context.Context, name, email, password string) (account.Session, error) {
	return s.accounts.Register(ctx, name, email, password)
}

func (s *Service) Login(ctx context.Context, email, password string) (account.Session, error) {
	return s.accounts.Login(ctx, email, password)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
