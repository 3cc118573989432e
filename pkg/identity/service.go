// Package identity signs users in and out and resets passwords.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"examtrack/pkg/auth"
	"examtrack/pkg/domain"
	"examtrack/pkg/store"
)

// Config wires the identity service.
type Config struct {
	Accounts    store.AccountStore
	Sessions    store.SessionStore
	ResetTokens store.ResetTokenStore
	Mailer      Mailer
	ResetTTL    time.Duration
	// ResetURL is the client page that receives the reset token as ?token=.
	ResetURL string
}

// Session is the result of a successful sign-in.
type Session struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// Service implements the identity operations.
type Service struct {
	accounts    store.AccountStore
	sessions    store.SessionStore
	resetTokens store.ResetTokenStore
	mailer      Mailer
	resetTTL    time.Duration
	resetURL    string
	now         func() time.Time
}

// New validates cfg and builds a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Accounts == nil {
		return nil, errors.New("identity: account store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("identity: session store required")
	}
	if cfg.ResetTokens == nil {
		cfg.ResetTokens = store.NewMemoryResetTokenStore()
	}
	if cfg.Mailer == nil {
		cfg.Mailer = LogMailer{}
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	return &Service{
		accounts:    cfg.Accounts,
		sessions:    cfg.Sessions,
		resetTokens: cfg.ResetTokens,
		mailer:      cfg.Mailer,
		resetTTL:    cfg.ResetTTL,
		resetURL:    cfg.ResetURL,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// SignUp registers a new account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrEmailAndPasswordRequired
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return Session{}, ErrInvalidEmail
	}
	if err := auth.ValidatePassword(password); err != nil {
		return Session{}, err
	}
	exists, err := s.accounts.HasEmail(ctx, email)
	if err != nil {
		return Session{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return Session{}, ErrEmailAlreadyExists
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	acct := domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.SaveAccount(ctx, acct); err != nil {
		return Session{}, fmt.Errorf("save account: %w", err)
	}
	return s.issueSession(acct)
}

// SignIn validates credentials and issues a session token.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrEmailAndPasswordRequired
	}
	acct, ok, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return Session{}, fmt.Errorf("fetch account: %w", err)
	}
	if !ok || !auth.CheckPassword(password, acct.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	return s.issueSession(acct)
}

// SignOut revokes token. Unknown or expired tokens are ignored.
func (s *Service) SignOut(_ context.Context, token string) error {
	return s.sessions.DeleteSession(token)
}

// Verify resolves a session token to its user.
func (s *Service) Verify(ctx context.Context, token string) (User, error) {
	uid, ok, err := s.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return User{}, ErrInvalidSession
	}
	acct, found, err := s.accounts.GetByID(ctx, uid)
	if err != nil {
		return User{}, fmt.Errorf("fetch account: %w", err)
	}
	if !found {
		return User{}, ErrInvalidSession
	}
	return User{ID: acct.ID, Email: acct.Email}, nil
}

// SendPasswordReset mails a reset link. Unknown emails succeed silently.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}
	acct, ok, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		slog.InfoContext(ctx, "password reset for unknown email ignored")
		return nil
	}
	token, err := s.resetTokens.NewToken(ctx, acct.ID, s.resetTTL)
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}
	if err := s.mailer.SendPasswordReset(ctx, acct.Email, resetLink(s.resetURL, token)); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	return nil
}

// ConfirmPasswordReset sets a new password and revokes existing sessions.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidResetToken
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	uid, err := s.resetTokens.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrInvalidResetToken) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("consume reset token: %w", err)
	}
	acct, ok, err := s.accounts.GetByID(ctx, uid)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	if !ok {
		return ErrInvalidResetToken
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	acct.PasswordHash = hash
	acct.UpdatedAt = now
	if err := s.accounts.SaveAccount(ctx, acct); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	if revoker, ok := s.sessions.(store.UserSessionRevoker); ok {
		if err := revoker.RevokeUserSessions(acct.ID, now); err != nil {
			slog.WarnContext(ctx, "revoke sessions after reset failed", "user_id", acct.ID, "err", err)
		}
	}
	return nil
}

func (s *Service) issueSession(acct domain.Account) (Session, error) {
	token, err := s.sessions.NewSession(acct.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue session: %w", err)
	}
	return Session{User: User{ID: acct.ID, Email: acct.Email}, Token: token}, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
