package notify

import (
	"sync"
	"time"
)

// Severity classifies a notification for the consumer.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Notification is a fire-and-forget message for the end user.
type Notification struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Source   string    `json:"source,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier delivers notifications. Implementations must not block the caller.
type Notifier interface {
	Notify(n Notification)
}

// Logger is the subset of the platform logger used by this package.
type Logger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(Notification) {})

// Multi fans a notification out to every non-nil notifier in order.
func Multi(notifiers ...Notifier) Notifier {
	targets := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			targets = append(targets, n)
		}
	}
	return NotifierFunc(func(n Notification) {
		for _, target := range targets {
			target.Notify(n)
		}
	})
}

// LogNotifier writes notifications to the logger at a level matching the severity.
type LogNotifier struct {
	Logger Logger
}

func (l LogNotifier) Notify(n Notification) {
	if l.Logger == nil {
		return
	}
	switch n.Severity {
	case SeverityError:
		l.Logger.Error("[Notify] %s: %s (%s)", n.Severity, n.Message, n.Source)
	case SeverityWarning:
		l.Logger.Warn("[Notify] %s: %s (%s)", n.Severity, n.Message, n.Source)
	default:
		l.Logger.Info("[Notify] %s: %s (%s)", n.Severity, n.Message, n.Source)
	}
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Last returns the most recent notification, if any.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

// Messages lists recorded messages for a severity, or all of them when severity is empty.
func (r *Recorder) Messages(severity Severity) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.items {
		if severity == "" || n.Severity == severity {
			out = append(out, n.Message)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}
