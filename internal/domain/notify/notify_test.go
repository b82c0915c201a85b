package notify

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type bufferLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *bufferLogger) record(level, format string, args ...any) {
	l.mu.Lock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *bufferLogger) Info(format string, args ...any)  { l.record("INFO", format, args...) }
func (l *bufferLogger) Warn(format string, args ...any)  { l.record("WARN", format, args...) }
func (l *bufferLogger) Error(format string, args ...any) { l.record("ERROR", format, args...) }

func (l *bufferLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	_, ok := r.Last()
	assert.False(t, ok)

	r.Notify(Notification{Severity: SeveritySuccess, Message: "saved"})
	r.Notify(Notification{Severity: SeverityError, Message: "failed"})

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"failed"}, r.Messages(SeverityError))
	assert.Equal(t, []string{"saved", "failed"}, r.Messages(""))

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, "failed", last.Message)

	r.Reset()
	assert.Zero(t, r.Len())
}

func TestMultiSkipsNil(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	Multi(a, nil, b).Notify(Notification{Severity: SeverityInfo, Message: "hello"})
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())
}

func TestLogNotifierLevels(t *testing.T) {
	logger := &bufferLogger{}
	n := LogNotifier{Logger: logger}
	n.Notify(Notification{Severity: SeverityError, Message: "boom", Source: "session"})
	n.Notify(Notification{Severity: SeverityWarning, Message: "slow", Source: "preferences"})
	n.Notify(Notification{Severity: SeveritySuccess, Message: "ok", Source: "session"})

	lines := logger.snapshot()
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "ERROR [Notify] error: boom")
	assert.Contains(t, lines[1], "WARN [Notify] warning: slow")
	assert.Contains(t, lines[2], "INFO [Notify] success: ok")

	LogNotifier{}.Notify(Notification{Message: "ignored"})
}

func TestBusNotifierDeliversBySeverity(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBusNotifier(8, nil)
	defer bus.Close()

	errorsSeen := NewRecorder()
	everything := NewRecorder()
	require.NoError(t, bus.Subscribe(Topic(SeverityError), errorsSeen.Notify))
	require.NoError(t, bus.Subscribe(TopicAll, everything.Notify))
	assert.True(t, bus.HasSubscribers(TopicAll))

	bus.Notify(Notification{Severity: SeverityError, Message: "Session expired. Please log in again."})
	bus.Notify(Notification{Severity: SeverityInfo, Message: "hello"})

	assert.Eventually(t, func() bool { return everything.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Session expired. Please log in again."}, errorsSeen.Messages(""))

	last, _ := everything.Last()
	assert.False(t, last.At.IsZero())
}

func TestBusNotifierCloseDrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBusNotifier(16, nil)
	seen := NewRecorder()
	require.NoError(t, bus.Subscribe(TopicAll, seen.Notify))

	for i := 0; i < 10; i++ {
		bus.Notify(Notification{Severity: SeverityInfo, Message: fmt.Sprintf("m%d", i)})
	}
	bus.Close()
	bus.Close()

	assert.Equal(t, 10, seen.Len())

	bus.Notify(Notification{Severity: SeverityInfo, Message: "after close"})
	assert.Equal(t, 10, seen.Len())
}

func TestBusNotifierDropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := &bufferLogger{}
	bus := NewBusNotifier(1, logger)
	release := make(chan struct{})
	require.NoError(t, bus.Subscribe(TopicAll, func(Notification) { <-release }))

	for i := 0; i < 20; i++ {
		bus.Notify(Notification{Severity: SeverityInfo, Message: "burst"})
	}
	assert.Positive(t, bus.Dropped())
	close(release)
	bus.Close()
	assert.NotEmpty(t, logger.snapshot())
}

func TestBusNotifierRecoversSubscriberPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := &bufferLogger{}
	bus := NewBusNotifier(4, logger)
	require.NoError(t, bus.Subscribe(Topic(SeverityWarning), func(Notification) { panic("bad subscriber") }))

	bus.Notify(Notification{Severity: SeverityWarning, Message: "slow"})
	bus.Close()

	lines := logger.snapshot()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "subscriber panic")
}
