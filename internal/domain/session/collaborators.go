package session

import (
	"context"
	"time"

	"catalyzed-crm/internal/platform/errors"
)

// Authenticator performs the credential exchange. The returned user carries
// role, permissions and tenant context.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (User, error)
	Register(ctx context.Context, reg Registration) (User, error)
}

// TwoFactorVerifier confirms two-factor changes for the current user.
type TwoFactorVerifier interface {
	EnableTwoFactor(ctx context.Context, user User, code string) error
	DisableTwoFactor(ctx context.Context, user User, secret string) error
}

// IdentityUpdater receives profile changes made through UpdateUser, so the
// next exchange sees the same identity.
type IdentityUpdater interface {
	UpdateIdentity(ctx context.Context, user User) error
}

type PasswordResetter interface {
	ResetPassword(ctx context.Context, email string) error
}

// Clock returns the current time.
type Clock func() time.Time

// Logger is the subset of the platform logger used by the session store.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// unavailable is used when no verifier or resetter was configured.
type unavailable struct{}

func (unavailable) EnableTwoFactor(context.Context, User, string) error {
	return errors.New(errors.KindExchange, "session.2fa", "two-factor verification unavailable")
}

func (unavailable) DisableTwoFactor(context.Context, User, string) error {
	return errors.New(errors.KindExchange, "session.2fa", "two-factor verification unavailable")
}

func (unavailable) ResetPassword(context.Context, string) error {
	return errors.New(errors.KindExchange, "session.reset", "password reset unavailable")
}
