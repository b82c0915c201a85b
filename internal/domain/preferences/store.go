package preferences

import (
	"context"
	"sync"
	"time"

	"catalyzed-crm/internal/domain/kv"
	"catalyzed-crm/internal/domain/notify"
)

// Logger is the subset of the platform logger used by the store.
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

// Options wires the store collaborators. Nil fields get in-memory defaults.
type Options struct {
	KV           kv.Store
	Notifier     notify.Notifier
	Presentation Presentation
	Logger       Logger
}

// Store owns the user preferences. Every committed change is persisted in
// full, applied to the presentation and announced to subscribers.
type Store struct {
	mu           sync.Mutex
	prefs        Preferences
	kv           kv.Store
	notifier     notify.Notifier
	presentation Presentation
	logger       Logger

	observer    *BudgetObserver
	observerGen int

	subMu       sync.RWMutex
	subscribers map[int]func(Preferences)
	nextSub     int
}

// New builds a store holding the defaults. Call Rehydrate to load the
// persisted record.
func New(opts Options) *Store {
	s := &Store{
		prefs:        Defaults(),
		kv:           opts.KV,
		notifier:     opts.Notifier,
		presentation: opts.Presentation,
		logger:       opts.Logger,
		subscribers:  make(map[int]func(Preferences)),
	}
	if s.kv == nil {
		s.kv = kv.NewMemory()
	}
	if s.notifier == nil {
		s.notifier = notify.Discard
	}
	if s.presentation == nil {
		s.presentation = NewMemoryPresentation()
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}

	s.applyTheme(s.prefs.Theme)
	s.applyAccessibility(s.prefs.Accessibility)
	s.resetObserver(s.prefs.Performance)
	return s
}

// Rehydrate loads the persisted record and merges it over the defaults. It
// never fails: a missing, unreadable or corrupt record leaves the defaults in
// place and is only logged.
func (s *Store) Rehydrate(ctx context.Context) Preferences {
	var (
		raw   string
		found bool
	)
	err := kv.Guard("preferences.rehydrate", func() error {
		var err error
		raw, found, err = s.kv.Get(ctx, kv.KeyPreferences)
		return err
	})
	if err != nil {
		s.logger.Warn("[Preferences] load failed, using defaults: %v", err)
		return s.Snapshot()
	}
	if !found {
		s.logger.Debug("[Preferences] no persisted settings")
		return s.Snapshot()
	}

	loaded, rejected, err := Decode(raw)
	if err != nil {
		s.logger.Warn("[Preferences] persisted settings unreadable, using defaults: %v", err)
		return s.Snapshot()
	}
	if len(rejected) > 0 {
		s.logger.Warn("[Preferences] ignored invalid fields %v", rejected)
	}

	s.mu.Lock()
	prev := s.prefs
	s.prefs = loaded
	s.applyEffects(prev, loaded)
	s.mu.Unlock()

	s.logger.Info("[Preferences] settings restored")
	s.publish(loaded)
	return loaded
}

// Dispatch reduces cmd into the current record and commits the result.
func (s *Store) Dispatch(ctx context.Context, cmd Command) Preferences {
	s.mu.Lock()
	prev := s.prefs
	next := Reduce(prev, cmd)
	s.prefs = next
	s.persist(ctx, next)
	s.applyEffects(prev, next)
	s.mu.Unlock()

	s.publish(next)
	return next
}

func (s *Store) SetTheme(ctx context.Context, theme Theme) Preferences {
	return s.Dispatch(ctx, SetTheme{Theme: theme})
}

func (s *Store) SetCurrency(ctx context.Context, currency Currency) Preferences {
	return s.Dispatch(ctx, SetCurrency{Currency: currency})
}

func (s *Store) SetLanguage(ctx context.Context, language string) Preferences {
	return s.Dispatch(ctx, SetLanguage{Language: language})
}

func (s *Store) SetTimezone(ctx context.Context, timezone string) Preferences {
	return s.Dispatch(ctx, SetTimezone{Timezone: timezone})
}

func (s *Store) UpdateNotifications(ctx context.Context, patch NotificationsPatch) Preferences {
	return s.Dispatch(ctx, UpdateNotifications{Patch: patch})
}

func (s *Store) UpdatePerformance(ctx context.Context, patch PerformancePatch) Preferences {
	return s.Dispatch(ctx, UpdatePerformance{Patch: patch})
}

func (s *Store) UpdateAIConfig(ctx context.Context, patch AIConfigPatch) Preferences {
	return s.Dispatch(ctx, UpdateAIConfig{Patch: patch})
}

func (s *Store) UpdateGamification(ctx context.Context, patch GamificationPatch) Preferences {
	return s.Dispatch(ctx, UpdateGamification{Patch: patch})
}

func (s *Store) UpdateWhiteLabel(ctx context.Context, patch WhiteLabelPatch) Preferences {
	return s.Dispatch(ctx, UpdateWhiteLabel{Patch: patch})
}

func (s *Store) UpdateAccessibility(ctx context.Context, patch AccessibilityPatch) Preferences {
	return s.Dispatch(ctx, UpdateAccessibility{Patch: patch})
}

func (s *Store) ToggleSidebar(ctx context.Context) Preferences {
	return s.Dispatch(ctx, ToggleSidebar{})
}

func (s *Store) SetSidebarPinned(ctx context.Context, pinned bool) Preferences {
	return s.Dispatch(ctx, SetSidebarPinned{Pinned: pinned})
}

// Reset restores the defaults and persists them.
func (s *Store) Reset(ctx context.Context) Preferences {
	return s.Dispatch(ctx, ResetDefaults{})
}

// Snapshot returns a copy of the current record.
func (s *Store) Snapshot() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Observe feeds a measured duration to the active budget observer. It reports
// whether an alert was raised.
func (s *Store) Observe(name string, d time.Duration) bool {
	s.mu.Lock()
	observer := s.observer
	s.mu.Unlock()
	return observer.Observe(name, d)
}

// ObserverGeneration counts how many budget observers have been created.
func (s *Store) ObserverGeneration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observerGen
}

// ObserverActive reports whether performance alerts are currently being raised.
func (s *Store) ObserverActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observer != nil
}

// BudgetStatus describes the active budget observer.
type BudgetStatus struct {
	Active     bool  `json:"active"`
	BudgetMS   int64 `json:"budgetMs"`
	Alerts     int64 `json:"alerts"`
	Generation int   `json:"generation"`
}

// BudgetStatus reports the current observer. Alerts counts warnings raised
// since the observer was last recreated.
func (s *Store) BudgetStatus() BudgetStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := BudgetStatus{Generation: s.observerGen}
	if s.observer != nil {
		st.Active = true
		st.BudgetMS = s.observer.Budget().Milliseconds()
		st.Alerts = s.observer.Alerts()
	}
	return st
}

// Subscribe registers fn to receive every committed record. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(Preferences)) func() {
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

// Close tears down the budget observer.
func (s *Store) Close() {
	s.mu.Lock()
	if s.observer != nil {
		s.observer.close()
		s.observer = nil
	}
	s.mu.Unlock()
}

func (s *Store) persist(ctx context.Context, p Preferences) {
	err := kv.Guard("preferences.persist", func() error {
		raw, err := Encode(p)
		if err != nil {
			return err
		}
		return s.kv.Set(ctx, kv.KeyPreferences, raw)
	})
	if err != nil {
		s.logger.Error("[Preferences] persist failed, keeping in-memory change: %v", err)
	}
}

// applyEffects must be called with s.mu held.
func (s *Store) applyEffects(prev, next Preferences) {
	if prev.Theme != next.Theme {
		s.applyTheme(next.Theme)
	}
	if prev.Accessibility != next.Accessibility {
		s.applyAccessibility(next.Accessibility)
	}
	if prev.Performance.Budget != next.Performance.Budget || prev.Performance.Alerts != next.Performance.Alerts {
		s.resetObserver(next.Performance)
	}
}

func (s *Store) applyTheme(theme Theme) {
	s.presentation.SetAttribute(AttrTheme, string(theme))
	s.presentation.SetThemeClass(string(theme))
}

func (s *Store) applyAccessibility(a Accessibility) {
	toggleClass(s.presentation, ClassHighContrast, a.HighContrast)
	toggleClass(s.presentation, ClassDyslexiaFont, a.DyslexiaFont)
}

func (s *Store) resetObserver(p Performance) {
	if s.observer != nil {
		s.observer.close()
		s.observer = nil
	}
	if !p.Alerts {
		s.logger.Debug("[Preferences] performance alerts disabled")
		return
	}
	s.observer = newBudgetObserver(p, s.notifier)
	s.observerGen++
	s.logger.Debug("[Preferences] performance budget %dms", p.Budget)
}

func (s *Store) publish(p Preferences) {
	s.subMu.RLock()
	subs := make([]func(Preferences), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range subs {
		fn(p)
	}
}

func toggleClass(p Presentation, class string, on bool) {
	if on {
		p.AddClass(class)
	} else {
		p.RemoveClass(class)
	}
}
