package stompclient

import (
	"context"
	"io"
	"time"
)

// Headers are STOMP frame headers.
type Headers map[string]string

// Clone returns an independent copy. A nil receiver yields an empty map.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Message is a MESSAGE frame delivered to a subscription.
type Message struct {
	// Destination the broker delivered the message from.
	Destination string

	// SubscriptionID is the underlying broker subscription id. It is only
	// meaningful for the session that delivered the message.
	SubscriptionID string

	// Headers are the frame headers as received.
	Headers Headers

	// Body is the raw frame body.
	Body []byte
}

// MessageHandler is the callback signature for subscription listeners.
//
// Returns:
//   - error: Logged but does not affect delivery to other listeners
type MessageHandler func(msg Message) error

// TransportFactory opens the byte stream a STOMP session runs over.
// It takes precedence over ConnectParams.BrokerURL when set.
type TransportFactory func(ctx context.Context) (io.ReadWriteCloser, error)

// ConnectParams is the per-attempt snapshot handed to the protocol client.
type ConnectParams struct {
	BrokerURL         string
	Transport         TransportFactory
	Versions          []string
	Headers           Headers
	HeartbeatIncoming time.Duration
	HeartbeatOutgoing time.Duration
	Debug             bool
}

// SessionEvents are the callbacks a protocol client reports session loss through.
//
// They are bound to the session returned by the Connect call they were passed
// to. Implementations must not invoke them synchronously from inside Publish,
// Subscribe or Unsubscribe.
type SessionEvents struct {
	// OnDisconnect reports that the transport closed. err may be nil.
	OnDisconnect func(err error)

	// OnError reports an error frame or transport failure.
	OnError func(err error)
}

// ProtocolClient establishes STOMP sessions.
type ProtocolClient interface {
	// Connect dials the broker and completes the handshake. Cancelling ctx
	// aborts an attempt still in progress.
	Connect(ctx context.Context, params ConnectParams, events SessionEvents) (Session, error)
}

// Session is one established STOMP connection.
type Session interface {
	// ServerHeaders returns the CONNECTED frame headers.
	ServerHeaders() Headers

	// Publish sends a SEND frame.
	Publish(destination string, headers Headers, body []byte) error

	// Subscribe sends a SUBSCRIBE frame and returns the subscription id.
	// onMessage receives every MESSAGE frame for that id.
	Subscribe(destination string, headers Headers, onMessage func(Message)) (string, error)

	// Unsubscribe sends an UNSUBSCRIBE frame for id.
	Unsubscribe(id string) error

	// Disconnect closes the session gracefully and returns once the
	// transport is closed.
	Disconnect(headers Headers) error
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
