package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"pickofgods/internal/models"
)

// ErrPasswordMismatch is returned when a stored hash does not match.
var ErrPasswordMismatch = errors.New("password mismatch")

// Users looks up and registers accounts keyed by email.
type Users struct {
	db *sql.DB
}

func NewUsers(db *sql.DB) *Users {
	return &Users{db: db}
}

// Resolve returns the user for email, creating it on first sight. When the
// account has a password hash, password must match it.
func (u *Users) Resolve(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("email is required")
	}

	user, err := u.byEmail(ctx, email)
	switch {
	case err == nil:
		if user.PasswordHash != "" && user.PasswordHash != hashPassword(password) {
			return nil, ErrPasswordMismatch
		}
		return user, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	hash := ""
	if password != "" {
		hash = hashPassword(password)
	}
	now := time.Now().UTC()
	res, err := u.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)`,
		email, hash, now,
	)
	if err != nil {
		// a concurrent first login may have inserted the row already
		if existing, lookupErr := u.byEmail(ctx, email); lookupErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &models.User{ID: id, Email: email, PasswordHash: hash, CreatedAt: now}, nil
}

func (u *Users) byEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := u.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &user, nil
}

func hashPassword(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
