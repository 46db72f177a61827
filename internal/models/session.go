package models

import "time"

// Session is issued by the auth endpoint and kept in the KV store.
type Session struct {
	SessionID string    `json:"sessionId"`
	Subject   string    `json:"subject"`
	Email     string    `json:"email,omitempty"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// User is a row of the users table.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
