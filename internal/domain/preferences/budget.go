package preferences

import (
	"fmt"
	"sync/atomic"
	"time"

	"catalyzed-crm/internal/domain/notify"
)

// BudgetObserver raises a warning for every measured entry slower than the
// budget. It is replaced, not mutated, when the performance settings change.
type BudgetObserver struct {
	budget   time.Duration
	notifier notify.Notifier
	now      func() time.Time
	closed   atomic.Bool
	alerts   atomic.Int64
}

func newBudgetObserver(p Performance, notifier notify.Notifier) *BudgetObserver {
	return &BudgetObserver{
		budget:   time.Duration(p.Budget) * time.Millisecond,
		notifier: notifier,
		now:      time.Now,
	}
}

// Observe reports whether the entry exceeded the budget and, if so, emits one
// warning notification. A closed observer ignores every entry.
func (o *BudgetObserver) Observe(name string, d time.Duration) bool {
	if o == nil || o.closed.Load() || d <= o.budget {
		return false
	}
	o.alerts.Add(1)
	o.notifier.Notify(notify.Notification{
		Severity: notify.SeverityWarning,
		Message:  fmt.Sprintf("Performance alert: %s took %dms", name, d.Round(time.Millisecond).Milliseconds()),
		Source:   "preferences",
		At:       o.now(),
	})
	return true
}

func (o *BudgetObserver) Budget() time.Duration {
	return o.budget
}

// Alerts counts warnings raised by this observer.
func (o *BudgetObserver) Alerts() int64 {
	return o.alerts.Load()
}

func (o *BudgetObserver) close() {
	o.closed.Store(true)
}
