// Package account provides name/email/password registration and login. It
// sits outside the collaboration core: a token proves who you are, but room
// access is not gated on it.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"idealab/internal/auth"
	"idealab/internal/store"
)

// UserStore is the slice of the persistence layer accounts need.
type UserStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
}

type Service struct {
	store       UserStore
	tokenSecret []byte
	tokenTTL    time.Duration
}

func NewService(userStore UserStore, tokenSecret string, tokenTTL time.Duration) *Service {
	return &Service{
		store:       userStore,
		tokenSecret: []byte(tokenSecret),
		tokenTTL:    tokenTTL,
	}
}

// Session is what a successful register or login hands back to the client.
type Session struct {
	Token  string
	UserID string
	Name   string
	Email  string
}

func (s *Service) Register(ctx context.Context, name, email, password string) (Session, error) {
	if name == "" || email == "" || password == "" {
		return Session{}, errors.New("name, email and password are required")
	}
	if len(password) < 8 {
		return Session{}, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return Session{}, errors.New("user already exists")
		}
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	return s.session(user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	if email == "" || password == "" {
		return Session{}, errors.New("email and password are required")
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		// Same answer whether the account is missing or the password is
		// wrong, so logins don't leak which emails exist.
		return Session{}, errors.New("invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, errors.New("invalid email or password")
	}
	return s.session(user)
}

func (s *Service) session(user store.User) (Session, error) {
	token, err := auth.IssueToken(s.tokenSecret, auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Exp:  time.Now().Add(s.tokenTTL).Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, UserID: user.ID, Name: user.Name, Email: user.Email}, nil
}
