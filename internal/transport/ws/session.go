package ws

import (
	"context"
	"sync"
	"sync/atomic"

	"catalyzed-crm/internal/domain/notify"
	"catalyzed-crm/internal/platform/logging"
)

const sendBuffer = 32

// Session streams notifications to one websocket client.
type Session struct {
	id     string
	conn   *Connection
	logger *logging.Logger
	send   chan notify.Notification

	ctx    context.Context
	cancel context.CancelCauseFunc

	closed  atomic.Bool
	dropped atomic.Int64
	wg      sync.WaitGroup
}

// NewSession constructs a managed websocket session.
func NewSession(parent context.Context, conn *Connection, logger *logging.Logger) *Session {
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:     conn.ID(),
		conn:   conn,
		logger: logger,
		send:   make(chan notify.Notification, sendBuffer),
		ctx:    sessionCtx,
		cancel: cancel,
	}
}

func (s *Session) ID() string {
	return s.id
}

// Info snapshots the stream for health reporting.
func (s *Session) Info() StreamInfo {
	return StreamInfo{
		ID:         s.id,
		Label:      s.conn.Label(),
		LastActive: s.conn.LastActive(),
		Dropped:    s.dropped.Load(),
	}
}

// Enqueue queues n for delivery. A slow client loses notifications rather
// than stalling the hub.
func (s *Session) Enqueue(n notify.Notification) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.send <- n:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Run pumps queued notifications to the client until the client goes away or
// the session is closed, then invokes onDone.
func (s *Session) Run(onDone func(error)) {
	s.wg.Add(1)
	go s.writeLoop()

	var runErr error
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if !s.closed.Load() {
				runErr = err
			}
			break
		}
	}

	s.Close(runErr)
	s.wg.Wait()
	if onDone != nil {
		onDone(runErr)
	}
}

func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case n := <-s.send:
			if err := s.conn.WriteJSON(n); err != nil {
				s.Close(err)
				return
			}
		}
	}
}

// Close terminates the session. Only the first call has an effect.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel(reason)
	if err := s.conn.Close(); err != nil && s.logger != nil {
		s.logger.Warn("[WebSocket] session %s close failed: %v", s.id, err)
	}
}
