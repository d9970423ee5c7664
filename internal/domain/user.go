package domain

import "time"

// User owns projects and chunks. The APIKey is the opaque bearer
// credential agents and IDE callers present instead of a session.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	APIKey       string
	CreatedAt    time.Time
}
