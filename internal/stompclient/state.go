package stompclient

// ConnectionState is the lifecycle state of a Client.
type ConnectionState int

// Lifecycle states. The zero value is Inactive.
const (
	// Inactive means no connection exists and none is being attempted.
	Inactive ConnectionState = iota

	// Connecting covers the pre-connect hook, the handshake and the
	// reconnect delay window after a drop.
	Connecting

	// Connected means a session is established and all subscriptions are bound.
	Connected

	// Disconnecting means Deactivate is tearing the session down.
	Disconnecting
)

// String returns the upper-case state name.
func (s ConnectionState) String() string {
	switch s {
	case Inactive:
		return "INACTIVE"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Disconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}
