// Package notify schedules exam reminders and delivers them when due.
package notify

import (
	"context"
	"time"

	"examtrack/pkg/identity"
)

// Category tags every request this package registers.
const Category = "exam_reminder"

// localScope owns requests registered without a signed-in user.
const localScope = "local"

// AuthorizationStatus mirrors a user's notification permission.
type AuthorizationStatus int

const (
	AuthNotDetermined AuthorizationStatus = iota
	AuthDenied
	AuthAuthorized
)

func (s AuthorizationStatus) String() string {
	switch s {
	case AuthDenied:
		return "denied"
	case AuthAuthorized:
		return "authorized"
	default:
		return "not_determined"
	}
}

// Request is one pending notification.
type Request struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Category string    `json:"category"`
	RecordID string    `json:"recordId"`
	FireAt   time.Time `json:"fireAt"`
}

// Registrar registers, cancels and enumerates pending notifications for the
// user on ctx.
type Registrar interface {
	AuthorizationStatus(ctx context.Context) (AuthorizationStatus, error)
	// RequestAuthorization grants permission unless it was already decided.
	RequestAuthorization(ctx context.Context) (bool, error)
	Add(ctx context.Context, req Request) error
	// Remove ignores ids that are not pending.
	Remove(ctx context.Context, ids ...string) error
	Pending(ctx context.Context) ([]Request, error)
}

// Due is a request whose fire time has passed, with the scope it belongs to.
type Due struct {
	Scope   string  `json:"scope"`
	Request Request `json:"request"`
}

// Source yields due requests for delivery.
type Source interface {
	// ClaimDue removes and returns up to limit requests due at or before now.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Due, error)
}

func scopeFromContext(ctx context.Context) string {
	if uid, err := identity.CurrentUserID(ctx); err == nil {
		return uid
	}
	return localScope
}
