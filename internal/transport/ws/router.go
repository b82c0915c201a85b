package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"catalyzed-crm/internal/platform/logging"
	"catalyzed-crm/internal/platform/observability"
)

// Router upgrades HTTP requests to notification streams.
type Router struct {
	hub    *Hub
	logger *logging.Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	upgrader := &websocket.Upgrader{
		HandshakeTimeout: timeout,
		CheckOrigin:      opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
	}
}

// Handle upgrades the HTTP connection and starts streaming notifications.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()

	_, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "upgrade")
	socket, err := r.upgrader.Upgrade(w, req.WithContext(handshakeCtx), nil)
	spanEnd(err)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("[WebSocket] handshake failed: %v", err)
		}
		return
	}

	label := req.URL.Query().Get("client-id")
	conn := NewConnection(uuid.NewString(), label, socket)
	session := NewSession(context.Background(), conn, r.logger)
	r.hub.Register(session)
	if r.logger != nil {
		r.logger.Info("[WebSocket] stream %s opened for %q", session.ID(), label)
	}

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if r.logger != nil {
			if runErr != nil && !websocket.IsCloseError(runErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Warn("[WebSocket] stream %s ended: %v", session.ID(), runErr)
			} else {
				r.logger.Info("[WebSocket] stream %s closed", session.ID())
			}
		}
	})
}
