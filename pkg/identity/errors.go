package identity

import "errors"

var (
	// ErrInvalidCredentials is shown to end users and must not enable account enumeration.
	ErrInvalidCredentials = errors.New("Incorrect email address or password")

	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrEmailAlreadyExists       = errors.New("email already exists")
	ErrInvalidEmail             = errors.New("invalid email address")
	ErrEmailRequired            = errors.New("email required")

	ErrInvalidResetToken = errors.New("password reset link is invalid or expired")
	ErrInvalidSession    = errors.New("invalid or expired session")

	// ErrNoUser is returned by CurrentUserID when no user is signed in.
	ErrNoUser = errors.New("no signed-in user")
)
