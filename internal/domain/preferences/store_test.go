package preferences

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalyzed-crm/internal/domain/kv"
	"catalyzed-crm/internal/domain/notify"
)

// failingStore rejects writes and optionally panics on reads.
type failingStore struct {
	kv.Store
	panicOnGet bool
}

func (f failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.panicOnGet {
		panic("driver bug")
	}
	return "", false, errors.New("unavailable")
}

func (f failingStore) Set(context.Context, string, string) error {
	return errors.New("quota exceeded")
}

type harness struct {
	store        *Store
	kv           kv.Store
	recorder     *notify.Recorder
	presentation *MemoryPresentation
}

func newHarness(t *testing.T) harness {
	t.Helper()
	h := harness{
		kv:           kv.NewMemory(),
		recorder:     notify.NewRecorder(),
		presentation: NewMemoryPresentation(),
	}
	h.store = New(Options{KV: h.kv, Notifier: h.recorder, Presentation: h.presentation})
	t.Cleanup(h.store.Close)
	return h
}

func persisted(t *testing.T, store kv.Store) Preferences {
	t.Helper()
	raw, ok, err := store.Get(context.Background(), kv.KeyPreferences)
	require.NoError(t, err)
	require.True(t, ok, "preferences were not persisted")
	p, rejected, err := Decode(raw)
	require.NoError(t, err)
	require.Empty(t, rejected)
	return p
}

func TestStoreAppliesInitialPresentation(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "light", h.presentation.Attribute(AttrTheme))
	assert.Equal(t, []string{"light"}, h.presentation.Classes())
	assert.True(t, h.store.ObserverActive())
}

func TestStorePersistsEveryMutation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.store.SetCurrency(ctx, CurrencyUSD)
	assert.Equal(t, CurrencyUSD, persisted(t, h.kv).Currency)

	h.store.UpdateWhiteLabel(ctx, WhiteLabelPatch{Domain: String("crm.acme.io")})
	got := persisted(t, h.kv)
	assert.Equal(t, CurrencyUSD, got.Currency)
	assert.Equal(t, "crm.acme.io", got.WhiteLabel.Domain)
	assert.Equal(t, h.store.Snapshot(), got)
}

func TestStoreRoundTripThroughRehydrate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.SetTheme(ctx, ThemeDark)
	h.store.SetLanguage(ctx, "hi")
	h.store.ToggleSidebar(ctx)
	h.store.UpdateAIConfig(ctx, AIConfigPatch{Enabled: Bool(true), APIKey: String("vault://ai")})

	presentation := NewMemoryPresentation()
	fresh := New(Options{KV: h.kv, Presentation: presentation})
	defer fresh.Close()
	restored := fresh.Rehydrate(ctx)

	assert.Equal(t, h.store.Snapshot(), restored)
	assert.Equal(t, "dark", presentation.Attribute(AttrTheme))
	assert.True(t, presentation.HasClass("dark"))
	assert.False(t, presentation.HasClass("light"))
}

func TestStoreRehydratePartialRecord(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Set(ctx, kv.KeyPreferences, `{"currency":"GBP","sidebar":{"collapsed":true}}`))

	s := New(Options{KV: store})
	defer s.Close()
	p := s.Rehydrate(ctx)

	want := Defaults()
	want.Currency = CurrencyGBP
	want.Sidebar.Collapsed = true
	assert.Equal(t, want, p)
}

func TestStoreRehydrateCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Set(ctx, kv.KeyPreferences, "{{{"))

	s := New(Options{KV: store})
	defer s.Close()
	assert.Equal(t, Defaults(), s.Rehydrate(ctx))
}

func TestStoreRehydrateStorageFailures(t *testing.T) {
	for _, panicOnGet := range []bool{false, true} {
		s := New(Options{KV: failingStore{Store: kv.NewMemory(), panicOnGet: panicOnGet}})
		assert.Equal(t, Defaults(), s.Rehydrate(context.Background()))
		s.Close()
	}
}

func TestStoreFailedPersistStillAdvances(t *testing.T) {
	s := New(Options{KV: failingStore{Store: kv.NewMemory()}})
	defer s.Close()

	p := s.SetTheme(context.Background(), ThemeDark)
	assert.Equal(t, ThemeDark, p.Theme)
	assert.Equal(t, ThemeDark, s.Snapshot().Theme)
}

// Scenario: two successive accessibility updates accumulate.
func TestStoreAccessibilityUpdatesAccumulate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	before := h.store.Snapshot()

	h.store.UpdateAccessibility(ctx, AccessibilityPatch{HighContrast: Bool(true)})
	after := h.store.UpdateAccessibility(ctx, AccessibilityPatch{DyslexiaFont: Bool(true)})

	assert.True(t, after.Accessibility.HighContrast)
	assert.True(t, after.Accessibility.DyslexiaFont)
	assert.Equal(t, before.Accessibility.ScreenReader, after.Accessibility.ScreenReader)
	assert.Equal(t, before.Accessibility.KeyboardNavigation, after.Accessibility.KeyboardNavigation)

	after.Accessibility = before.Accessibility
	assert.Equal(t, before, after, "fields outside accessibility must not change")

	assert.True(t, h.presentation.HasClass(ClassHighContrast))
	assert.True(t, h.presentation.HasClass(ClassDyslexiaFont))

	h.store.UpdateAccessibility(ctx, AccessibilityPatch{HighContrast: Bool(false)})
	h.store.UpdateAccessibility(ctx, AccessibilityPatch{HighContrast: Bool(false)})
	assert.False(t, h.presentation.HasClass(ClassHighContrast))
	assert.True(t, h.presentation.HasClass(ClassDyslexiaFont))
}

func TestStoreThemeAppliedOncePerChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	initial := h.presentation.ThemeWrites()

	h.store.SetTheme(ctx, ThemeDark)
	h.store.SetTheme(ctx, ThemeDark)
	h.store.SetCurrency(ctx, CurrencyEUR)

	assert.Equal(t, initial+1, h.presentation.ThemeWrites())
	assert.Equal(t, []string{"dark"}, h.presentation.Classes())
}

func TestStoreBudgetObserver(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	gen := h.store.ObserverGeneration()

	assert.False(t, h.store.Observe("dashboard", 900*time.Millisecond))
	assert.True(t, h.store.Observe("dashboard", 1500*time.Millisecond))
	assert.Equal(t, []string{"Performance alert: dashboard took 1500ms"}, h.recorder.Messages(notify.SeverityWarning))
	last, ok := h.recorder.Last()
	require.True(t, ok)
	assert.False(t, last.At.IsZero(), "alerts carry their timestamp")
	assert.Equal(t, BudgetStatus{Active: true, BudgetMS: 1000, Alerts: 1, Generation: gen}, h.store.BudgetStatus())

	h.store.UpdatePerformance(ctx, PerformancePatch{Current: Int64(12)})
	assert.Equal(t, gen, h.store.ObserverGeneration(), "measurement updates keep the observer")

	h.store.UpdatePerformance(ctx, PerformancePatch{Budget: Int64(2000)})
	assert.Equal(t, gen+1, h.store.ObserverGeneration())
	assert.False(t, h.store.Observe("dashboard", 1500*time.Millisecond))

	h.store.UpdatePerformance(ctx, PerformancePatch{Alerts: Bool(false)})
	assert.False(t, h.store.ObserverActive())
	assert.Equal(t, BudgetStatus{Generation: gen + 1}, h.store.BudgetStatus())
	assert.False(t, h.store.Observe("dashboard", 5*time.Second))
	assert.Equal(t, 1, h.recorder.Len())

	h.store.UpdatePerformance(ctx, PerformancePatch{Alerts: Bool(true)})
	assert.Equal(t, gen+2, h.store.ObserverGeneration())
	assert.True(t, h.store.Observe("reports", 3*time.Second))
}

func TestBudgetObserverClosedIgnoresEntries(t *testing.T) {
	recorder := notify.NewRecorder()
	o := newBudgetObserver(Performance{Budget: 10, Alerts: true}, recorder)
	assert.True(t, o.Observe("a", time.Second))
	o.close()
	assert.False(t, o.Observe("a", time.Second))
	assert.Equal(t, int64(1), o.Alerts())
	assert.Equal(t, 10*time.Millisecond, o.Budget())

	var nilObserver *BudgetObserver
	assert.False(t, nilObserver.Observe("a", time.Hour))
}

func TestStoreResetPersistsDefaults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.SetTheme(ctx, ThemeDark)
	h.store.UpdateNotifications(ctx, NotificationsPatch{Slack: Bool(true)})

	assert.Equal(t, Defaults(), h.store.Reset(ctx))
	assert.Equal(t, Defaults(), persisted(t, h.kv))
	assert.Equal(t, "light", h.presentation.Attribute(AttrTheme))
}

func TestStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var (
		mu   sync.Mutex
		seen []Preferences
	)
	unsubscribe := h.store.Subscribe(func(p Preferences) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})

	h.store.SetSidebarPinned(ctx, false)
	unsubscribe()
	h.store.SetSidebarPinned(ctx, true)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.False(t, seen[0].Sidebar.Pinned)
}

func TestStoreConcurrentDispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.store.ToggleSidebar(ctx)
		}()
	}
	wg.Wait()

	assert.False(t, h.store.Snapshot().Sidebar.Collapsed)
	assert.Equal(t, h.store.Snapshot(), persisted(t, h.kv))
}
