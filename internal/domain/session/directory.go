package session

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"catalyzed-crm/internal/platform/errors"
)

// Permissions granted to self-registered client accounts.
var DefaultClientPermissions = []string{"view_projects", "manage_tasks", "view_reports"}

var (
	ErrInvalidCredentials = errors.New(errors.KindExchange, "session.directory", "invalid credentials")
	ErrAccountExists      = errors.New(errors.KindExchange, "session.directory", "account already exists")
	ErrInvalidCode        = errors.New(errors.KindExchange, "session.directory", "invalid verification code")
)

var twoFactorCode = regexp.MustCompile(`^[0-9]{6}$`)

// Account is a directory entry. SecretHash is a bcrypt hash.
type Account struct {
	User       User
	SecretHash string
}

// DirectoryAuthenticator verifies credentials against an in-process account
// directory seeded from configuration. It also serves two-factor checks,
// identity updates and password reset requests.
type DirectoryAuthenticator struct {
	mu       sync.RWMutex
	accounts map[string]*Account // by lower-cased email
	byID     map[string]*Account
	latency  time.Duration
	logger   Logger
}

// NewDirectory indexes accounts by lower-cased email and by ID.
func NewDirectory(accounts []Account, latency time.Duration, logger Logger) (*DirectoryAuthenticator, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	d := &DirectoryAuthenticator{
		accounts: make(map[string]*Account, len(accounts)),
		byID:     make(map[string]*Account, len(accounts)),
		latency:  latency,
		logger:   logger,
	}
	for i := range accounts {
		acc := accounts[i]
		key := normalizeEmail(acc.User.Email)
		if key == "" {
			return nil, errors.New(errors.KindConfig, "session.directory", "account email is required")
		}
		if _, dup := d.accounts[key]; dup {
			return nil, errors.New(errors.KindConfig, "session.directory", "duplicate account "+key)
		}
		if acc.User.ID == "" {
			acc.User.ID = uuid.NewString()
		}
		if _, dup := d.byID[acc.User.ID]; dup {
			return nil, errors.New(errors.KindConfig, "session.directory", "duplicate account id "+acc.User.ID)
		}
		if acc.User.Role == "" {
			acc.User.Role = RoleClient
		}
		acc.User = acc.User.Clone()
		d.accounts[key] = &acc
		d.byID[acc.User.ID] = &acc
	}
	return d, nil
}

// HashSecret returns the bcrypt hash stored in account configuration.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (d *DirectoryAuthenticator) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	if err := d.wait(ctx); err != nil {
		return User{}, err
	}
	d.mu.RLock()
	acc, found := d.accounts[normalizeEmail(creds.Identifier)]
	d.mu.RUnlock()
	if !found {
		return User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.SecretHash), []byte(creds.Secret)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return d.snapshot(acc), nil
}

func (d *DirectoryAuthenticator) Register(ctx context.Context, reg Registration) (User, error) {
	if err := d.wait(ctx); err != nil {
		return User{}, err
	}
	hash, err := HashSecret(reg.Secret)
	if err != nil {
		return User{}, errors.Wrap(errors.KindExchange, "session.directory", "hash secret", err)
	}
	company := strings.TrimSpace(reg.CompanyName)
	if company == "" {
		company = DefaultCompanyName
	}

	key := normalizeEmail(reg.Email)
	acc := &Account{
		User: User{
			ID:          uuid.NewString(),
			Name:        strings.TrimSpace(reg.Name),
			Email:       strings.TrimSpace(reg.Email),
			Role:        RoleClient,
			Permissions: append([]string(nil), DefaultClientPermissions...),
			Client: &Client{
				ID:   uuid.NewString(),
				Name: company,
			},
			Preferences: &UserPreferences{Theme: "light", Currency: "INR", Timezone: "Asia/Kolkata"},
		},
		SecretHash: hash,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.accounts[key]; exists {
		return User{}, ErrAccountExists
	}
	d.accounts[key] = acc
	d.byID[acc.User.ID] = acc
	d.logger.Info("[Session] registered %s for %s", acc.User.Email, company)
	return acc.User.Clone(), nil
}

// EnableTwoFactor accepts any six digit code.
func (d *DirectoryAuthenticator) EnableTwoFactor(ctx context.Context, user User, code string) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	if !twoFactorCode.MatchString(strings.TrimSpace(code)) {
		return ErrInvalidCode
	}
	return d.setTwoFactor(user, true)
}

// DisableTwoFactor requires the account secret.
func (d *DirectoryAuthenticator) DisableTwoFactor(ctx context.Context, user User, secret string) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	d.mu.RLock()
	acc, found := d.lookupLocked(user)
	var hash string
	if found {
		hash = acc.SecretHash
	}
	d.mu.RUnlock()
	if !found || bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
		return ErrInvalidCredentials
	}
	return d.setTwoFactor(user, false)
}

// UpdateIdentity stores profile changes made through the session. The account
// is found by ID, so an email change re-keys it; an address that belongs to
// another account is rejected.
func (d *DirectoryAuthenticator) UpdateIdentity(ctx context.Context, user User) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	newKey := normalizeEmail(user.Email)
	if newKey == "" {
		return errors.New(errors.KindValidation, "session.directory", "email is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	acc, found := d.byID[user.ID]
	if !found {
		return ErrInvalidCredentials
	}
	oldKey := normalizeEmail(acc.User.Email)
	if newKey != oldKey {
		if _, taken := d.accounts[newKey]; taken {
			return ErrAccountExists
		}
		delete(d.accounts, oldKey)
		d.accounts[newKey] = acc
		d.logger.Info("[Session] account %s changed email", acc.User.ID)
	}

	acc.User.Name = user.Name
	acc.User.Email = strings.TrimSpace(user.Email)
	acc.User.Avatar = user.Avatar
	acc.User.Preferences = nil
	if user.Preferences != nil {
		prefs := *user.Preferences
		acc.User.Preferences = &prefs
	}
	return nil
}

// ResetPassword reports success for unknown addresses too, so callers cannot
// probe which accounts exist.
func (d *DirectoryAuthenticator) ResetPassword(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return errors.New(errors.KindValidation, "session.directory", "email is required")
	}
	if err := d.wait(ctx); err != nil {
		return err
	}
	d.mu.RLock()
	_, found := d.accounts[normalizeEmail(email)]
	d.mu.RUnlock()
	if found {
		d.logger.Info("[Session] password reset requested for %s", email)
	} else {
		d.logger.Debug("[Session] password reset requested for unknown address")
	}
	return nil
}

func (d *DirectoryAuthenticator) setTwoFactor(user User, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	acc, found := d.lookupLocked(user)
	if !found {
		return ErrInvalidCredentials
	}
	acc.User.TwoFactorEnabled = enabled
	return nil
}

// lookupLocked prefers the stable ID and falls back to the email address.
func (d *DirectoryAuthenticator) lookupLocked(user User) (*Account, bool) {
	if user.ID != "" {
		if acc, ok := d.byID[user.ID]; ok {
			return acc, true
		}
	}
	acc, ok := d.accounts[normalizeEmail(user.Email)]
	return acc, ok
}

func (d *DirectoryAuthenticator) snapshot(acc *Account) User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return acc.User.Clone()
}

// wait simulates the network round trip of a remote directory.
func (d *DirectoryAuthenticator) wait(ctx context.Context) error {
	if d.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(errors.KindExchange, "session.directory", "request cancelled", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
