package ws

import (
	"sort"
	"sync"
	"time"

	"catalyzed-crm/internal/domain/notify"
	"catalyzed-crm/internal/platform/logging"
)

// StreamInfo describes one open notification stream.
type StreamInfo struct {
	ID         string    `json:"id"`
	Label      string    `json:"label,omitempty"`
	LastActive time.Time `json:"lastActive"`
	Dropped    int64     `json:"dropped"`
}

// Hub tracks the active notification streams and fans notifications out to them.
type Hub struct {
	logger   *logging.Logger
	sessions sync.Map // map[string]*Session

	mu  sync.Mutex
	bus *notify.BusNotifier
}

// NewHub builds a fresh session hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
	}
}

// Attach subscribes the hub to every notification published on bus.
func (h *Hub) Attach(bus *notify.BusNotifier) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bus != nil {
		return nil
	}
	if err := bus.Subscribe(notify.TopicAll, h.Broadcast); err != nil {
		return err
	}
	h.bus = bus
	return nil
}

// Detach stops receiving notifications from the bus.
func (h *Hub) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bus == nil {
		return
	}
	if err := h.bus.Unsubscribe(notify.TopicAll, h.Broadcast); err != nil && h.logger != nil {
		h.logger.Warn("[WebSocket] detach from bus failed: %v", err)
	}
	h.bus = nil
}

// Broadcast queues n on every registered session.
func (h *Hub) Broadcast(n notify.Notification) {
	h.sessions.Range(func(_, value any) bool {
		if session, ok := value.(*Session); ok {
			if !session.Enqueue(n) && h.logger != nil {
				h.logger.Debug("[WebSocket] dropped notification for %s", session.ID())
			}
		}
		return true
	})
}

// Register adds a new session to the hub.
func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.sessions.Store(session.ID(), session)
}

// Unregister removes the session from the hub.
func (h *Hub) Unregister(id string) {
	if id == "" {
		return
	}
	h.sessions.Delete(id)
}

// CloseAll terminates all active sessions.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close(reason)
		}
		h.sessions.Delete(key)
		return true
	})
}

// Count exposes the number of active streams.
func (h *Hub) Count() int {
	count := 0
	h.sessions.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Streams lists the open streams, most recently active first.
func (h *Hub) Streams() []StreamInfo {
	streams := []StreamInfo{}
	h.sessions.Range(func(_, value any) bool {
		if session, ok := value.(*Session); ok {
			streams = append(streams, session.Info())
		}
		return true
	})
	sort.Slice(streams, func(i, j int) bool {
		return streams[i].LastActive.After(streams[j].LastActive)
	})
	return streams
}
