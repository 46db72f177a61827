package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"pickofgods/internal/apperr"
	"pickofgods/internal/kv"
	"pickofgods/internal/models"
	"pickofgods/internal/storage"
)

const sessionKeyPrefix = "session:"

// UserResolver maps an email to a stable account.
type UserResolver interface {
	Resolve(ctx context.Context, email, password string) (*models.User, error)
}

// Service issues, validates, and revokes sessions kept in the KV store.
type Service struct {
	store          kv.Store
	users          UserResolver
	sessionTTL     time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
	now            func() time.Time
}

// NewService constructs an auth service. users may be nil, in which case
// every session gets a fresh random subject.
func NewService(store kv.Store, users UserResolver, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		store:          store,
		users:          users,
		sessionTTL:     ttl,
		cookieName:     "auth_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
		now:            time.Now,
	}
}

// CreateSession registers (or recognizes) email and stores a new session.
func (s *Service) CreateSession(ctx context.Context, email, password string) (*models.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email required", apperr.ErrInvalidRequest)
	}

	subject := uuid.NewString()
	if s.users != nil {
		user, err := s.users.Resolve(ctx, email, password)
		if err != nil {
			if errors.Is(err, storage.ErrPasswordMismatch) {
				return nil, fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)
			}
			return nil, fmt.Errorf("%w: resolve user: %w", apperr.ErrPersistence, err)
		}
		subject = strconv.FormatInt(user.ID, 10)
	}

	now := s.now().UTC()
	session := &models.Session{
		SessionID: uuid.NewString(),
		Subject:   subject,
		Email:     email,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := s.store.Put(ctx, sessionKeyPrefix+session.SessionID, data, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("%w: store session: %w", apperr.ErrPersistence, err)
	}
	return session, nil
}

// ValidateSession returns the live session for id.
func (s *Service) ValidateSession(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, apperr.ErrUnauthorized
	}
	raw, err := s.store.Get(ctx, sessionKeyPrefix+id)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, apperr.ErrSessionInvalid
		}
		return nil, fmt.Errorf("%w: lookup session: %w", apperr.ErrPersistence, err)
	}
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("%w: decode session: %v", apperr.ErrSessionInvalid, err)
	}
	if session.Expired(s.now().UTC()) {
		_ = s.store.Delete(ctx, sessionKeyPrefix+id)
		return nil, apperr.ErrSessionInvalid
	}
	return &session, nil
}

// RevokeSession deletes a single session.
func (s *Service) RevokeSession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.store.Delete(ctx, sessionKeyPrefix+id); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// AuthCookieName returns the cookie name storing session ids.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// SessionTTL reports the configured session lifetime.
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}
