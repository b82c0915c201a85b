package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"

	"catalyzed-crm/internal/domain/kv"
	"catalyzed-crm/internal/domain/notify"
	"catalyzed-crm/internal/platform/errors"
)

// DefaultDuration is the lifetime of a freshly established session.
const DefaultDuration = 8 * time.Hour

const source = "session"

// Notification texts shown to the end user.
const (
	msgRegistered      = "Registration successful! Welcome to Get Catalyzed CRM!"
	msgLoginFailed     = "Login failed. Please try again."
	msgRegisterFailed  = "Registration failed. Please try again."
	msgLoggedOut       = "Logged out successfully"
	msgExpired         = "Session expired. Please log in again."
	msgTwoFactorOn     = "Two-factor authentication enabled successfully!"
	msgTwoFactorOnErr  = "Failed to enable two-factor authentication"
	msgTwoFactorOff    = "Two-factor authentication disabled"
	msgTwoFactorOffErr = "Failed to disable two-factor authentication"
	msgResetSent       = "Password reset email sent! Check your inbox."
	msgResetFailed     = "Failed to send password reset email"
)

var codec = sonic.ConfigStd

// Options wires the store collaborators. Authenticator is required.
type Options struct {
	KV            kv.Store
	Notifier      notify.Notifier
	Authenticator Authenticator
	TwoFactor     TwoFactorVerifier
	Resetter      PasswordResetter
	// Identities defaults to the Authenticator when it implements
	// IdentityUpdater; otherwise profile changes stay local.
	Identities    IdentityUpdater
	Tokens        *TokenIssuer
	Clock         Clock
	Duration      time.Duration
	Logger        Logger
}

// Store owns the authentication lifecycle and the single expiry watcher.
//
// Operations are safe for concurrent use, but the store does not serialise
// exchanges: two overlapping Login calls both run and the last one to finish
// determines the session.
type Store struct {
	kv            kv.Store
	notifier      notify.Notifier
	authenticator Authenticator
	twoFactor     TwoFactorVerifier
	resetter      PasswordResetter
	identities    IdentityUpdater
	tokens        *TokenIssuer
	clock         Clock
	duration      time.Duration
	logger        Logger

	mu         sync.Mutex
	state      State
	token      string
	timer      *time.Timer
	generation uint64
	closed     bool
	pending    atomic.Int32

	subMu       sync.RWMutex
	subscribers map[int]func(State)
	nextSub     int
}

// New builds a store in the Unknown phase. Call Rehydrate to resolve it.
func New(opts Options) (*Store, error) {
	if opts.Authenticator == nil {
		return nil, errors.New(errors.KindConfig, "session.new", "authenticator is required")
	}
	s := &Store{
		kv:            opts.KV,
		notifier:      opts.Notifier,
		authenticator: opts.Authenticator,
		twoFactor:     opts.TwoFactor,
		resetter:      opts.Resetter,
		identities:    opts.Identities,
		tokens:        opts.Tokens,
		clock:         opts.Clock,
		duration:      opts.Duration,
		logger:        opts.Logger,
		state:         State{Phase: PhaseUnknown, IsLoading: true, Permissions: []string{}},
		subscribers:   make(map[int]func(State)),
	}
	if s.kv == nil {
		s.kv = kv.NewMemory()
	}
	if s.notifier == nil {
		s.notifier = notify.Discard
	}
	if s.twoFactor == nil {
		if v, ok := opts.Authenticator.(TwoFactorVerifier); ok {
			s.twoFactor = v
		} else {
			s.twoFactor = unavailable{}
		}
	}
	if s.resetter == nil {
		if r, ok := opts.Authenticator.(PasswordResetter); ok {
			s.resetter = r
		} else {
			s.resetter = unavailable{}
		}
	}
	if s.identities == nil {
		if u, ok := opts.Authenticator.(IdentityUpdater); ok {
			s.identities = u
		}
	}
	if s.tokens == nil {
		s.tokens = NewTokenIssuer("", "")
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.duration <= 0 {
		s.duration = DefaultDuration
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	return s, nil
}

// Rehydrate restores a persisted session. A stale record is cleared; any read
// or parse failure resolves to Anonymous.
func (s *Store) Rehydrate(ctx context.Context) State {
	var token, userRaw, expiryRaw string
	var hasToken, hasUser, hasExpiry bool
	err := kv.Guard("session.rehydrate", func() error {
		var err error
		if token, hasToken, err = s.kv.Get(ctx, kv.KeyAuthToken); err != nil {
			return err
		}
		if userRaw, hasUser, err = s.kv.Get(ctx, kv.KeyUserData); err != nil {
			return err
		}
		expiryRaw, hasExpiry, err = s.kv.Get(ctx, kv.KeySessionExpiry)
		return err
	})
	if err != nil {
		s.logger.Warn("[Session] restore failed, continuing anonymous: %v", err)
		return s.becomeAnonymous()
	}
	if !hasToken || token == "" || !hasUser || userRaw == "" {
		s.logger.Debug("[Session] no stored session")
		return s.becomeAnonymous()
	}

	var user User
	if err := codec.UnmarshalFromString(userRaw, &user); err != nil || !user.identified() {
		if err == nil {
			err = errors.New(errors.KindStorage, "session.rehydrate", "identity has no id or email")
		}
		s.logger.Warn("[Session] stored identity unreadable, clearing: %v", err)
		s.mu.Lock()
		s.clearStorageLocked(ctx)
		s.mu.Unlock()
		return s.becomeAnonymous()
	}

	var expiry time.Time
	if hasExpiry {
		expiry, err = time.Parse(time.RFC3339Nano, expiryRaw)
	}
	if !hasExpiry || err != nil || !expiry.After(s.clock()) {
		s.logger.Info("[Session] stored session expired, clearing")
		s.mu.Lock()
		s.clearStorageLocked(ctx)
		s.mu.Unlock()
		return s.becomeAnonymous()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.State()
	}
	expired := s.setAuthenticatedLocked(user, token, expiry)
	s.mu.Unlock()

	if expired {
		s.notify(notify.SeverityError, msgExpired)
		return s.commit()
	}
	s.logger.Info("[Session] restored session for %s until %s", user.Email, expiry.Format(time.RFC3339))
	return s.commit()
}

// Login exchanges credentials for a session.
func (s *Store) Login(ctx context.Context, creds Credentials) Result {
	const op = "session.login"
	if strings.TrimSpace(creds.Identifier) == "" || creds.Secret == "" {
		return failed(errors.New(errors.KindValidation, op, "identifier and secret are required"))
	}

	s.setLoading(true)
	user, err := s.authenticator.Authenticate(ctx, creds)
	if err != nil {
		return s.exchangeFailed(op, msgLoginFailed, err)
	}
	if err := s.establish(ctx, op, user); err != nil {
		return s.exchangeFailed(op, msgLoginFailed, err)
	}
	s.notify(notify.SeveritySuccess, "Welcome back, "+user.Name+"!")
	return ok()
}

// Register creates an account and a new tenant context, then signs in.
func (s *Store) Register(ctx context.Context, reg Registration) Result {
	const op = "session.register"
	switch {
	case strings.TrimSpace(reg.Name) == "", strings.TrimSpace(reg.Email) == "", reg.Secret == "":
		return failed(errors.New(errors.KindValidation, op, "name, email and secret are required"))
	case !reg.AcceptTerms:
		return failed(errors.New(errors.KindValidation, op, "terms must be accepted"))
	}
	if strings.TrimSpace(reg.CompanyName) == "" {
		reg.CompanyName = DefaultCompanyName
	}

	s.setLoading(true)
	user, err := s.authenticator.Register(ctx, reg)
	if err != nil {
		return s.exchangeFailed(op, msgRegisterFailed, err)
	}
	if err := s.establish(ctx, op, user); err != nil {
		return s.exchangeFailed(op, msgRegisterFailed, err)
	}
	s.notify(notify.SeveritySuccess, msgRegistered)
	return ok()
}

// Logout clears the session. It is safe to call in any phase and always
// confirms with one notification.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	s.resetLocked(ctx)
	s.mu.Unlock()

	s.logger.Info("[Session] logged out")
	s.commit()
	s.notify(notify.SeveritySuccess, msgLoggedOut)
}

// UpdateUser merges patch into the identity and re-persists it. When an
// IdentityUpdater is wired it must accept the change first. The expiry and its
// watcher are left alone.
func (s *Store) UpdateUser(ctx context.Context, patch UserPatch) (State, error) {
	const op = "session.update"
	s.mu.Lock()
	if s.state.Phase != PhaseAuthenticated || s.state.User == nil {
		s.mu.Unlock()
		s.logger.Warn("[Session] update ignored: %v", ErrNotAuthenticated)
		return s.State(), ErrNotAuthenticated
	}
	current := s.state.User.Clone()
	s.mu.Unlock()

	if s.identities != nil {
		if err := s.identities.UpdateIdentity(ctx, patch.apply(current.Clone())); err != nil {
			s.logger.Warn("[Session] identity update rejected: %v", err)
			return s.State(), errors.Wrap(errors.KindExchange, op, "identity update rejected", err)
		}
	}

	s.mu.Lock()
	if s.state.Phase != PhaseAuthenticated || s.state.User == nil || s.state.User.ID != current.ID {
		s.mu.Unlock()
		return s.State(), errors.New(errors.KindDomain, op, "session changed during update")
	}
	user := patch.apply(s.state.User.Clone())
	s.state.User = &user
	s.state.Client = user.Client
	s.persistUserLocked(ctx, user)
	s.mu.Unlock()

	return s.commit(), nil
}

// SetSessionExpiry moves the expiry of the current session and reschedules
// the watcher. An expiry that is not in the future ends the session now.
func (s *Store) SetSessionExpiry(ctx context.Context, expiry time.Time) error {
	s.mu.Lock()
	if s.state.Phase != PhaseAuthenticated {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	t := expiry
	s.state.SessionExpiry = &t
	s.persistExpiryLocked(ctx, t)
	expired := s.scheduleLocked(ctx, t)
	s.mu.Unlock()

	s.commit()
	if expired {
		s.notify(notify.SeverityError, msgExpired)
	}
	return nil
}

func (s *Store) EnableTwoFactor(ctx context.Context, code string) Result {
	return s.toggleTwoFactor(ctx, "session.2fa.enable", code, true)
}

func (s *Store) DisableTwoFactor(ctx context.Context, secret string) Result {
	return s.toggleTwoFactor(ctx, "session.2fa.disable", secret, false)
}

func (s *Store) toggleTwoFactor(ctx context.Context, op, input string, enable bool) Result {
	okMsg, errMsg := msgTwoFactorOff, msgTwoFactorOffErr
	if enable {
		okMsg, errMsg = msgTwoFactorOn, msgTwoFactorOnErr
	}
	if strings.TrimSpace(input) == "" {
		return failed(errors.New(errors.KindValidation, op, "verification input is required"))
	}

	s.mu.Lock()
	if s.state.Phase != PhaseAuthenticated || s.state.User == nil {
		s.mu.Unlock()
		s.notify(notify.SeverityError, errMsg)
		return failed(ErrNotAuthenticated)
	}
	user := s.state.User.Clone()
	s.mu.Unlock()

	var err error
	if enable {
		err = s.twoFactor.EnableTwoFactor(ctx, user, input)
	} else {
		err = s.twoFactor.DisableTwoFactor(ctx, user, input)
	}
	if err != nil {
		s.logger.Warn("[Session] %s failed: %v", op, err)
		s.notify(notify.SeverityError, errMsg)
		return failed(errors.Wrap(errors.KindExchange, op, "verification failed", err))
	}

	s.mu.Lock()
	if s.state.Phase != PhaseAuthenticated || s.state.User == nil || s.state.User.ID != user.ID {
		s.mu.Unlock()
		s.notify(notify.SeverityError, errMsg)
		return failed(errors.New(errors.KindDomain, op, "session changed during verification"))
	}
	updated := s.state.User.Clone()
	updated.TwoFactorEnabled = enable
	s.state.User = &updated
	s.state.TwoFactorEnabled = enable
	s.persistUserLocked(ctx, updated)
	s.mu.Unlock()

	s.commit()
	s.notify(notify.SeveritySuccess, okMsg)
	return ok()
}

// ResetPassword requests a reset email. The session is not touched.
func (s *Store) ResetPassword(ctx context.Context, email string) Result {
	const op = "session.reset"
	if strings.TrimSpace(email) == "" {
		return failed(errors.New(errors.KindValidation, op, "email is required"))
	}
	if err := s.resetter.ResetPassword(ctx, email); err != nil {
		s.logger.Warn("[Session] password reset failed: %v", err)
		s.notify(notify.SeverityError, msgResetFailed)
		return failed(errors.Wrap(errors.KindExchange, op, "password reset failed", err))
	}
	s.notify(notify.SeveritySuccess, msgResetSent)
	return ok()
}

// State returns a copy of the current session.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Phase
}

// Token returns the signed token of the current session, or "".
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Tokens exposes the issuer so transports can verify bearer tokens.
func (s *Store) Tokens() *TokenIssuer {
	return s.tokens
}

func (s *Store) HasPermission(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.state.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

func (s *Store) HasRole(role Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Role == role
}

func (s *Store) IsAdmin() bool      { return s.HasRole(RoleAdmin) }
func (s *Store) IsClient() bool     { return s.HasRole(RoleClient) }
func (s *Store) IsTeamMember() bool { return s.HasRole(RoleTeamMember) }

// PendingTimers reports how many expiry timers are scheduled. It is never
// more than one.
func (s *Store) PendingTimers() int {
	return int(s.pending.Load())
}

// Subscribe registers fn to receive every state change. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

// Close cancels the expiry watcher. A timer that already fired is ignored.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancelTimerLocked()
	s.mu.Unlock()
}

func (s *Store) establish(ctx context.Context, op string, user User) error {
	now := s.clock()
	expiry := now.Add(s.duration)
	user = user.Clone()
	user.Permissions = uniquePermissions(user.Permissions)

	token, err := s.tokens.Issue(user, now, expiry)
	if err != nil {
		return errors.Wrap(errors.KindExchange, op, "token issue failed", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New(errors.KindDomain, op, "session store closed")
	}
	err = kv.Guard(op, func() error {
		if err := s.kv.Set(ctx, kv.KeyAuthToken, token); err != nil {
			return err
		}
		raw, err := codec.MarshalToString(user)
		if err != nil {
			return err
		}
		if err := s.kv.Set(ctx, kv.KeyUserData, raw); err != nil {
			return err
		}
		return s.kv.Set(ctx, kv.KeySessionExpiry, expiry.UTC().Format(time.RFC3339Nano))
	})
	if err != nil {
		s.logger.Error("[Session] persist failed, session kept in memory: %v", err)
	}
	expired := s.setAuthenticatedLocked(user, token, expiry)
	s.mu.Unlock()

	s.logger.Info("[Session] %s signed in as %s", user.Email, user.Role)
	s.commit()
	if expired {
		s.notify(notify.SeverityError, msgExpired)
	}
	return nil
}

// setAuthenticatedLocked must be called with s.mu held. It reports whether the
// expiry had already passed, in which case the session was reset again.
func (s *Store) setAuthenticatedLocked(user User, token string, expiry time.Time) bool {
	u := user.Clone()
	t := expiry
	s.state = State{
		User:             &u,
		IsAuthenticated:  true,
		Permissions:      append([]string{}, u.Permissions...),
		Role:             u.Role,
		Client:           u.Client,
		TwoFactorEnabled: u.TwoFactorEnabled,
		SessionExpiry:    &t,
		Phase:            PhaseAuthenticated,
	}
	s.token = token
	return s.scheduleLocked(context.Background(), expiry)
}

// scheduleLocked replaces any pending timer with one for expiry. When expiry
// has already passed the session is reset immediately and true is returned.
func (s *Store) scheduleLocked(ctx context.Context, expiry time.Time) bool {
	s.cancelTimerLocked()
	d := expiry.Sub(s.clock())
	if d <= 0 {
		s.logger.Info("[Session] expiry already passed, signing out")
		s.resetLocked(ctx)
		return true
	}
	gen := s.generation
	s.pending.Add(1)
	s.timer = time.AfterFunc(d, func() {
		s.pending.Add(-1)
		s.expire(gen)
	})
	s.logger.Debug("[Session] expiry watcher scheduled in %s", d)
	return false
}

func (s *Store) cancelTimerLocked() {
	if s.timer != nil && s.timer.Stop() {
		s.pending.Add(-1)
	}
	s.timer = nil
	s.generation++
}

func (s *Store) expire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.generation || s.state.Phase != PhaseAuthenticated {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.resetLocked(context.Background())
	s.mu.Unlock()

	s.logger.Info("[Session] session expired")
	s.commit()
	s.notify(notify.SeverityError, msgExpired)
}

// resetLocked clears storage and returns to Anonymous.
func (s *Store) resetLocked(ctx context.Context) {
	s.cancelTimerLocked()
	s.clearStorageLocked(ctx)
	s.state = anonymousState()
	s.token = ""
}

func (s *Store) clearStorageLocked(ctx context.Context) {
	err := kv.Guard("session.clear", func() error {
		return s.kv.Remove(ctx, kv.KeyAuthToken, kv.KeyUserData, kv.KeySessionExpiry)
	})
	if err != nil {
		s.logger.Error("[Session] clearing stored session failed: %v", err)
	}
}

func (s *Store) persistUserLocked(ctx context.Context, user User) {
	err := kv.Guard("session.persist_user", func() error {
		raw, err := codec.MarshalToString(user)
		if err != nil {
			return err
		}
		return s.kv.Set(ctx, kv.KeyUserData, raw)
	})
	if err != nil {
		s.logger.Error("[Session] persist identity failed: %v", err)
	}
}

func (s *Store) persistExpiryLocked(ctx context.Context, expiry time.Time) {
	err := kv.Guard("session.persist_expiry", func() error {
		return s.kv.Set(ctx, kv.KeySessionExpiry, expiry.UTC().Format(time.RFC3339Nano))
	})
	if err != nil {
		s.logger.Error("[Session] persist expiry failed: %v", err)
	}
}

func (s *Store) becomeAnonymous() State {
	s.mu.Lock()
	if s.state.Phase != PhaseAuthenticated {
		s.state = anonymousState()
	}
	s.mu.Unlock()
	return s.commit()
}

func (s *Store) setLoading(loading bool) {
	s.mu.Lock()
	s.state.IsLoading = loading
	s.mu.Unlock()
	s.commit()
}

func (s *Store) exchangeFailed(op, message string, err error) Result {
	s.setLoading(false)
	s.logger.Warn("[Session] %s failed: %v", op, err)
	s.notify(notify.SeverityError, message)
	return failed(errors.Wrap(errors.KindExchange, op, "exchange failed", err))
}

// commit publishes the current state to subscribers and returns it.
func (s *Store) commit() State {
	snapshot := s.State()

	s.subMu.RLock()
	subs := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	return snapshot
}

func (s *Store) notify(severity notify.Severity, message string) {
	s.notifier.Notify(notify.Notification{
		Severity: severity,
		Message:  message,
		Source:   source,
		At:       s.clock(),
	})
}
