package store

import (
	"context"
	"time"

	"examtrack/pkg/domain"
)

// AccountStore persists identity accounts.
type AccountStore interface {
	SaveAccount(ctx context.Context, a domain.Account) error
	HasEmail(ctx context.Context, email string) (bool, error)
	GetByEmail(ctx context.Context, email string) (domain.Account, bool, error)
	GetByID(ctx context.Context, id string) (domain.Account, bool, error)
}

// SessionStore issues and validates session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user up to a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}

// ResetTokenStore keeps single-use password reset tokens.
type ResetTokenStore interface {
	NewToken(ctx context.Context, userID string, ttl time.Duration) (string, error)
	// Consume returns the owner of token and invalidates it.
	Consume(ctx context.Context, token string) (string, error)
}
