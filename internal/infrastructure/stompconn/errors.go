package stompconn

import "errors"

// Domain-specific errors for STOMP transport operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnsupportedScheme is returned for broker URLs with an unknown scheme.
	ErrUnsupportedScheme = errors.New("stompconn: unsupported broker url scheme")

	// ErrDialFailed is returned when the transport cannot be opened.
	ErrDialFailed = errors.New("stompconn: dial failed")

	// ErrHandshakeFailed is returned when the CONNECT/CONNECTED exchange fails.
	ErrHandshakeFailed = errors.New("stompconn: handshake failed")

	// ErrSessionClosed is returned by session operations after Disconnect.
	ErrSessionClosed = errors.New("stompconn: session closed")
)
