package store

import "time"

// User is a registered account. Auth is glue around the collaboration core:
// boards themselves are open to anyone who knows the room id.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
