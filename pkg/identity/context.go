package identity

import (
	"context"
	"strings"
)

type userCtxKey struct{}

// User is the signed-in principal carried on a request context.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// UserResolver yields the current user id. Implementations return ErrNoUser when absent.
type UserResolver interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// WithUser attaches the authenticated user to ctx.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// WithUserID attaches a user id without an email.
func WithUserID(ctx context.Context, uid string) context.Context {
	return WithUser(ctx, User{ID: uid})
}

// UserFromContext returns the user attached by WithUser.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userCtxKey{}).(User)
	if !ok || strings.TrimSpace(u.ID) == "" {
		return User{}, false
	}
	return u, true
}

// ContextResolver resolves the user from the request context.
type ContextResolver struct{}

// CurrentUserID implements UserResolver.
func (ContextResolver) CurrentUserID(ctx context.Context) (string, error) {
	u, ok := UserFromContext(ctx)
	if !ok {
		return "", ErrNoUser
	}
	return u.ID, nil
}

// CurrentUserID is a shorthand for ContextResolver{}.CurrentUserID.
func CurrentUserID(ctx context.Context) (string, error) {
	return ContextResolver{}.CurrentUserID(ctx)
}
