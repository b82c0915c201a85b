package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"catalyzed-crm/internal/domain/kv"
	"catalyzed-crm/internal/domain/notify"
	platformerrors "catalyzed-crm/internal/platform/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAuthenticator maps the admin address to an ADMIN identity and every
// other address to a CLIENT identity. Identifiers starting with "fail" are
// rejected.
type fakeAuthenticator struct {
	calls       atomic.Int32
	lastCompany string
	mu          sync.Mutex
	twoFactor   error
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, creds Credentials) (User, error) {
	f.calls.Add(1)
	if len(creds.Identifier) >= 4 && creds.Identifier[:4] == "fail" {
		return User{}, errors.New("directory unreachable")
	}
	if creds.Identifier == "admin@catalyzed.com" {
		return User{
			ID:          "1",
			Name:        "Admin User",
			Email:       creds.Identifier,
			Role:        RoleAdmin,
			Permissions: []string{"create_users", "manage_billing", "view_reports", "manage_settings", "view_reports"},
		}, nil
	}
	return User{
		ID:          "2",
		Name:        "Jane Doe",
		Email:       creds.Identifier,
		Role:        RoleClient,
		Permissions: []string{"view_projects", "manage_tasks", "view_reports"},
		Client:      &Client{ID: "c1", Name: "Acme Corp"},
	}, nil
}

func (f *fakeAuthenticator) Register(_ context.Context, reg Registration) (User, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastCompany = reg.CompanyName
	f.mu.Unlock()
	return User{
		ID:          "3",
		Name:        reg.Name,
		Email:       reg.Email,
		Role:        RoleClient,
		Permissions: DefaultClientPermissions,
		Client:      &Client{ID: "c2", Name: reg.CompanyName},
	}, nil
}

func (f *fakeAuthenticator) EnableTwoFactor(context.Context, User, string) error  { return f.twoFactor }
func (f *fakeAuthenticator) DisableTwoFactor(context.Context, User, string) error { return f.twoFactor }
func (f *fakeAuthenticator) ResetPassword(_ context.Context, email string) error {
	if email == "down@co.com" {
		return errors.New("mail relay down")
	}
	return nil
}

// brokenStore panics on every access.
type brokenStore struct{ kv.Store }

func (brokenStore) Get(context.Context, string) (string, bool, error) { panic("storage corrupted") }

type fixture struct {
	store    *Store
	kv       kv.Store
	auth     *fakeAuthenticator
	recorder *notify.Recorder
}

func newFixture(t *testing.T, mutate ...func(*Options)) fixture {
	t.Helper()
	f := fixture{
		kv:       kv.NewMemory(),
		auth:     &fakeAuthenticator{},
		recorder: notify.NewRecorder(),
	}
	opts := Options{
		KV:            f.kv,
		Notifier:      f.recorder,
		Authenticator: f.auth,
		Tokens:        NewTokenIssuer("test-secret", "catalyzed-crm"),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	store, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	f.store = store
	return f
}

func (f fixture) stored(t *testing.T, key string) (string, bool) {
	t.Helper()
	value, ok, err := f.kv.Get(context.Background(), key)
	require.NoError(t, err)
	return value, ok
}

func TestNewRequiresAuthenticator(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindConfig))
}

func TestInitialPhaseUnknown(t *testing.T) {
	f := newFixture(t)
	st := f.store.State()
	assert.Equal(t, PhaseUnknown, st.Phase)
	assert.True(t, st.IsLoading)
	assert.False(t, st.IsAuthenticated)
}

func TestLoginAdmin(t *testing.T) {
	f := newFixture(t)
	before := time.Now()

	res := f.store.Login(context.Background(), Credentials{Identifier: "admin@catalyzed.com", Secret: "x"})
	require.True(t, res.Success, "%v", res.Err)

	st := f.store.State()
	assert.True(t, st.IsAuthenticated)
	assert.False(t, st.IsLoading)
	assert.Equal(t, PhaseAuthenticated, st.Phase)
	assert.Equal(t, RoleAdmin, st.Role)
	assert.Nil(t, st.Client)
	require.NotNil(t, st.SessionExpiry)
	assert.WithinDuration(t, before.Add(8*time.Hour), *st.SessionExpiry, 2*time.Second)
	assert.Equal(t, []string{"create_users", "manage_billing", "view_reports", "manage_settings"}, st.Permissions)
	assert.True(t, f.store.IsAdmin())
	assert.Equal(t, 1, f.store.PendingTimers())

	assert.Equal(t, []string{"Welcome back, Admin User!"}, f.recorder.Messages(notify.SeveritySuccess))

	token, ok := f.stored(t, kv.KeyAuthToken)
	require.True(t, ok)
	assert.Equal(t, f.store.Token(), token)
	claims, err := f.store.Tokens().Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "1", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, ok = f.stored(t, kv.KeyUserData)
	assert.True(t, ok)
	expiryRaw, ok := f.stored(t, kv.KeySessionExpiry)
	require.True(t, ok)
	parsed, err := time.Parse(time.RFC3339Nano, expiryRaw)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(*st.SessionExpiry))
}

func TestLoginClient(t *testing.T) {
	f := newFixture(t)

	res := f.store.Login(context.Background(), Credentials{Identifier: "jane@co.com", Secret: "x"})
	require.True(t, res.Success)

	st := f.store.State()
	assert.Equal(t, RoleClient, st.Role)
	require.NotNil(t, st.Client)
	assert.Equal(t, "Acme Corp", st.Client.Name)
	assert.True(t, f.store.IsClient())
	assert.False(t, f.store.IsAdmin())
	assert.False(t, f.store.IsTeamMember())
	assert.True(t, f.store.HasPermission("manage_tasks"))
	assert.False(t, f.store.HasPermission("manage_billing"))
	assert.True(t, f.store.HasRole(RoleClient))
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t)
	for _, creds := range []Credentials{{}, {Identifier: "a@b.c"}, {Identifier: "  ", Secret: "x"}} {
		res := f.store.Login(context.Background(), creds)
		assert.False(t, res.Success)
		assert.True(t, platformerrors.IsKind(res.Err, platformerrors.KindValidation))
	}
	assert.Zero(t, f.auth.calls.Load(), "no exchange on invalid input")
	assert.Zero(t, f.recorder.Len())
}

func TestLoginFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.store.Rehydrate(context.Background())
	before := f.store.State()

	res := f.store.Login(context.Background(), Credentials{Identifier: "fail@co.com", Secret: "x"})
	assert.False(t, res.Success)
	assert.True(t, platformerrors.IsKind(res.Err, platformerrors.KindExchange))

	assert.Equal(t, before, f.store.State())
	assert.Equal(t, []string{"Login failed. Please try again."}, f.recorder.Messages(notify.SeverityError))
	_, ok := f.stored(t, kv.KeyAuthToken)
	assert.False(t, ok)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	res := f.store.Register(context.Background(), Registration{
		Name: "Sam", Email: "sam@new.co", Secret: "pw", AcceptTerms: true,
	})
	require.True(t, res.Success)
	assert.Equal(t, DefaultCompanyName, f.auth.lastCompany)

	st := f.store.State()
	require.NotNil(t, st.Client)
	assert.Equal(t, "New Company", st.Client.Name)
	assert.Equal(t, []string{"Registration successful! Welcome to Get Catalyzed CRM!"}, f.recorder.Messages(notify.SeveritySuccess))
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	cases := []Registration{
		{Email: "a@b.c", Secret: "x", AcceptTerms: true},
		{Name: "A", Secret: "x", AcceptTerms: true},
		{Name: "A", Email: "a@b.c", AcceptTerms: true},
		{Name: "A", Email: "a@b.c", Secret: "x"},
	}
	for _, reg := range cases {
		res := f.store.Register(context.Background(), reg)
		assert.True(t, platformerrors.IsKind(res.Err, platformerrors.KindValidation), "%+v", reg)
	}
	assert.Zero(t, f.auth.calls.Load())
}

// Scenario: the watcher signs the user out without an explicit logout call.
func TestExpiryWatcherForcesLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.store.Login(ctx, Credentials{Identifier: "jane@co.com", Secret: "x"}).Success)

	require.NoError(t, f.store.SetSessionExpiry(ctx, time.Now().Add(50*time.Millisecond)))
	assert.Equal(t, 1, f.store.PendingTimers())

	time.Sleep(100 * time.Millisecond)
	assert.Eventually(t, func() bool { return f.store.Phase() == PhaseAnonymous }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"Session expired. Please log in again."}, f.recorder.Messages(notify.SeverityError))
	assert.NotContains(t, f.recorder.Messages(""), "Logged out successfully")
	assert.Zero(t, f.store.PendingTimers())
	_, ok := f.stored(t, kv.KeyAuthToken)
	assert.False(t, ok)
}

func TestShortSessionDurationExpires(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Duration = 30 * time.Millisecond })
	require.True(t, f.store.Login(context.Background(), Credentials{Identifier: "jane@co.com", Secret: "x"}).Success)

	assert.Eventually(t, func() bool { return !f.store.State().IsAuthenticated }, time.Second, 5*time.Millisecond)
}

func TestSetSessionExpiryInPastExpiresImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.store.Login(ctx, Credentials{Identifier: "jane@co.com", Secret: "x"}).Success)

	require.NoError(t, f.store.SetSessionExpiry(ctx, time.Now().Add(-time.Second)))
	assert.Equal(t, PhaseAnonymous, f.store.Phase())
	assert.Equal(t, []string{"Session expired. Please log in again."}, f.recorder.Messages(notify.SeverityError))

	assert.ErrorIs(t, f.store.SetSessionExpiry(ctx, time.Now().Add(time.Hour)), ErrNotAuthenticated)
}

func TestRescheduleCancelsPreviousTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.store.Login(ctx, Credentials{Identifier: "jane@co.com", Secret: "x"}).Success)

	require.NoError(t, f.store.SetSessionExpiry(ctx, time.Now().Add(30*time.Millisecond)))
	require.NoError(t, f.store.SetSessionExpiry(ctx, time.Now().Add(time.Hour)))
	assert.Equal(t, 1, f.store.PendingTimers())

	time.Sleep(80 * time.Millisecond)
	assert.True(t, f.store.State().IsAuthenticated)
	assert.Empty(t, f.recorder.Messages(notify.SeverityError))
}

func TestSingleTimerAcrossOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.store.Login(ctx, Credentials{Identifier: "jane@co.com", Secret: "x"}).Success)
	expiry := *f.store.State().SessionExpiry

	_, err := f.store.UpdateUser(ctx, UserPatch{Name: String("Jane Q")})
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.PendingTimers())
	assert.Equal(t, expiry, *f.store.State().SessionExpiry)

	require.True(t, f.store.Login(ctx, Credentials{Identifier: "admin@catalyzed.com", Secret: "x"}).Success)
	assert.Equal(t, 1, f.store.PendingTimers())
}

func TestRehydrateRestoresSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.store.Login(ctx, Credentials{Identifier: "jane@co.com", Secret: "x"}).Success)
	want := f.store.State()

	other, err := New(Options{KV: f.kv, Authenticator: f.auth})
	require.NoError(t, err)
	defer other.Close()

	st := other.Rehydrate(ctx)
	assert.Equal(t, PhaseAuthenticated, st.Phase)
	assert.Equal(t, want.User, st.User)
	assert.True(t, want.SessionExpiry.Equal(*st.SessionExpiry))
	assert.Equal(t, f.store.Token(), other.Token())
	assert.Equal(t, 1, other.PendingTimers())
}

func TestRehydrateExpiredClearsRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.kv.Set(ctx, kv.KeyAuthToken, "stale-token"))
	require.NoError(t, f.kv.Set(ctx, kv.KeyUserData, `{"id":"1","name":"Old","email":"old@co.com","role":"CLIENT"}`))
	require.NoError(t, f.kv.Set(ctx, kv.KeySessionExpiry, time.Now().UTC().Format(time.RFC3339Nano)))

	st := f.store.Rehydrate(ctx)
	assert.Equal(t, PhaseAnonymous, st.Phase)
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.IsLoading)

	keys, err := f.kv.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Zero(t, f.store.PendingTimers())
}

func TestRehydrateMissingExpiryClearsRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.kv.Set(ctx, kv.KeyAuthToken, "token"))
	require.NoError(t, f.kv.Set(ctx, kv.KeyUserData, `{"id":"1"}`))

	assert.Equal(t, PhaseAnonymous, f.store.Rehydrate(ctx).Phase)
	_, ok := f.stored(t, kv.KeyAuthToken)
	assert.False(t, ok)
}

func TestRehydrateFailuresResolveAnonymous(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	require.NoError(t, f.kv.Set(ctx, kv.KeyAuthToken, "token"))
	require.NoError(t, f.kv.Set(ctx, kv.KeyUserData, "{broken"))
	require.NoError(t, f.kv.Set(ctx, kv.KeySessionExpiry, time.Now().Add(time.Hour).Format(time.RFC3339Nano)))
	assert.Equal(t, PhaseAnonymous, f.store.Rehydrate(ctx).Phase)

	broken := newFixture(t, func(o *Options) { o.KV = brokenStore{Store: kv.NewMemory()} })
	assert.Equal(t, PhaseAnonymous, broken.store.Rehydrate(ctx).Phase)

	empty := newFixture(t)
	assert.Equal(t, PhaseAnonymous, empty.store.Rehydrate(ctx).Phase)

	for _, raw := range []string{"null", "{}", `{"id":"","email":"x@co.com"}`, `{"id":"7","email":"  "}`} {
		t.Run(raw, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.kv.Set(ctx, kv.KeyAuthToken, "token"))
			require.NoError(t, f.kv.Set(ctx, kv.KeyUserData, raw))
			require.NoError(t, f.kv.Set(ctx, kv.KeySessionExpiry, time.Now().Add(time.Hour).Format(time.RFC3339Nano)))

			st := f.store.Rehydrate(ctx)
			assert.Equal(t, PhaseAnonymous, st.Phase)
			assert.False(t, st.IsAuthenticated)
			assert.Nil(t, st.User)
			assert.Zero(t, f.store.PendingTimers())

			keys, err := f.kv.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestLogoutIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Rehydrate(ctx)

	f.store.Logout(ctx)
	f.store.Logout(ctx)

	assert.Equal(t, []string{"Logged out successfully", "Logged out successfully"}, f.recorder.Messages(""))
	assert.Equal(t, PhaseAnonymous, f.store.Phase())
}

func TestLogoutClearsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.store.Login(ctx, Credentials{Identifier: "admin@catalyzed.com", Secret: "x"}).Success)

	f.store.Logout(ctx)

	st := f.store.State()
	assert.False(t, st.IsAuthenticated)
	assert.Nil(t, st.User)
	assert.Empty(t, st.Permissions)
	assert.Empty(t, f.store.Token())
	assert.Zero(t, f.store.PendingTimers())
	keys, _ := f.kv.Keys(ctx)
	assert.Empty(t, keys)
}

func TestUpdateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.UpdateUser(ctx, UserPatch{Name: String("Nobody")})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.True(t, f.store.Login(ctx, Credentials{Identifier: "jane@co.com", Secret: "x"}).Success)
	st, err := f.store.UpdateUser(ctx, UserPatch{
		Avatar:      String("https://cdn.example/jane.png"),
		Preferences: &UserPreferences{Theme: "dark"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", st.User.Name)
	assert.Equal(t, "https://cdn.example/jane.png", st.User.Avatar)

	raw, ok := f.stored(t, kv.KeyUserData)
	require.True(t, ok)
	assert.Contains(t, raw, `"avatar":"https://cdn.example/jane.png"`)
	assert.Contains(t, raw, `"theme":"dark"`)
}

func TestTwoFactorToggle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.store.EnableTwoFactor(ctx, "123456")
	assert.ErrorIs(t, res.Err, ErrNotAuthenticated)

	require.True(t, f.store.Login(ctx, Credentials{Identifier: "jane@co.com", Secret: "x"}).Success)
	f.recorder.Reset()

	res = f.store.EnableTwoFactor(ctx, "")
	assert.True(t, platformerrors.IsKind(res.Err, platformerrors.KindValidation))

	res = f.store.EnableTwoFactor(ctx, "123456")
	require.True(t, res.Success)
	st := f.store.State()
	assert.True(t, st.TwoFactorEnabled)
	assert.True(t, st.User.TwoFactorEnabled)
	raw, _ := f.stored(t, kv.KeyUserData)
	assert.Contains(t, raw, `"twoFactorEnabled":true`)

	f.auth.twoFactor = errors.New("bad code")
	res = f.store.DisableTwoFactor(ctx, "secret")
	assert.False(t, res.Success)
	assert.True(t, f.store.State().TwoFactorEnabled)

	f.auth.twoFactor = nil
	require.True(t, f.store.DisableTwoFactor(ctx, "secret").Success)
	assert.False(t, f.store.State().TwoFactorEnabled)

	assert.Equal(t, []string{
		"Two-factor authentication enabled successfully!",
		"Failed to disable two-factor authentication",
		"Two-factor authentication disabled",
	}, f.recorder.Messages(""))
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.True(t, platformerrors.IsKind(f.store.ResetPassword(ctx, " ").Err, platformerrors.KindValidation))
	assert.True(t, f.store.ResetPassword(ctx, "jane@co.com").Success)
	assert.False(t, f.store.ResetPassword(ctx, "down@co.com").Success)

	assert.Equal(t, []string{"Password reset email sent! Check your inbox."}, f.recorder.Messages(notify.SeveritySuccess))
	assert.Equal(t, []string{"Failed to send password reset email"}, f.recorder.Messages(notify.SeverityError))
	assert.Equal(t, PhaseUnknown, f.store.Phase())
}

func TestCloseCancelsWatcher(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Duration = 30 * time.Millisecond })
	require.True(t, f.store.Login(context.Background(), Credentials{Identifier: "jane@co.com", Secret: "x"}).Success)

	f.store.Close()
	f.store.Close()
	assert.Zero(t, f.store.PendingTimers())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, f.store.State().IsAuthenticated)
	assert.Empty(t, f.recorder.Messages(notify.SeverityError))
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var phases []Phase
	var mu sync.Mutex
	unsubscribe := f.store.Subscribe(func(st State) {
		mu.Lock()
		phases = append(phases, st.Phase)
		mu.Unlock()
	})
	f.store.Rehydrate(ctx)
	require.True(t, f.store.Login(ctx, Credentials{Identifier: "jane@co.com", Secret: "x"}).Success)
	unsubscribe()
	f.store.Logout(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, phases)
	assert.Equal(t, PhaseAnonymous, phases[0])
	assert.Equal(t, PhaseAuthenticated, phases[len(phases)-1])
}

func TestStateIsACopy(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.store.Login(context.Background(), Credentials{Identifier: "jane@co.com", Secret: "x"}).Success)

	st := f.store.State()
	st.Permissions[0] = "tampered"
	st.User.Client.Name = "tampered"

	fresh := f.store.State()
	assert.Equal(t, "view_projects", fresh.Permissions[0])
	assert.Equal(t, "Acme Corp", fresh.Client.Name)
}

func TestConcurrentLoginsLastWriterWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"admin@catalyzed.com", "jane@co.com"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			f.store.Login(ctx, Credentials{Identifier: id, Secret: "x"})
		}(id)
	}
	wg.Wait()

	st := f.store.State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, 1, f.store.PendingTimers())
	raw, _ := f.stored(t, kv.KeyUserData)
	assert.Contains(t, raw, st.User.Email)
}
