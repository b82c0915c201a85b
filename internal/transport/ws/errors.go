package ws

import "catalyzed-crm/internal/platform/errors"

var (
	ErrHandshakeTimeout = errors.New(errors.KindTransport, "ws.handshake", "websocket handshake timed out")
	// ErrSessionShutdown is the close reason when the server ends a stream.
	ErrSessionShutdown = errors.New(errors.KindTransport, "ws.close", "server closed the stream")
)
