package stompclient

import "errors"

// Domain-specific errors for the STOMP façade.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is reported when a session operation is attempted without a session.
	ErrNotConnected = errors.New("stompclient: not connected")

	// ErrInvalidConfig is returned by New and Configure for unusable configuration.
	ErrInvalidConfig = errors.New("stompclient: invalid configuration")

	// ErrHookFailed wraps a pre-connect hook failure. The attempt is aborted
	// and the next attempt runs the hook again.
	ErrHookFailed = errors.New("stompclient: pre-connect hook failed")

	// ErrConnectFailed wraps a failed handshake or transport dial.
	ErrConnectFailed = errors.New("stompclient: connect failed")

	// ErrConnectionLost is reported when an established session drops.
	ErrConnectionLost = errors.New("stompclient: connection lost")

	// ErrProtocol is reported for error frames received from the broker.
	ErrProtocol = errors.New("stompclient: protocol error")
)
