package stompclient

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BeforeConnectHook runs before every connection attempt, reconnects included.
// It may block; ctx is cancelled when the Client is deactivated, after which
// the hook's result is ignored. A non-nil error aborts that attempt only.
type BeforeConnectHook func(ctx context.Context) error

// Config is the immutable configuration of a Client.
//
// A Config is captured when an attempt starts. Replacing it with Configure
// affects the next attempt, never one already in flight.
type Config struct {
	// BrokerURL is the broker address, e.g. "ws://localhost:15674/ws" or
	// "tcp://localhost:61613". Ignored when Transport is set.
	BrokerURL string

	// Transport opens the underlying byte stream. Takes precedence over BrokerURL.
	Transport TransportFactory

	// Versions are the STOMP versions to offer, in preference order.
	// Default: 1.2, 1.1, 1.0
	Versions []string

	// ConnectHeaders are sent verbatim on the CONNECT frame
	// (typically login, passcode and host).
	ConnectHeaders Headers

	// DisconnectHeaders are sent verbatim on the DISCONNECT frame.
	DisconnectHeaders Headers

	// HeartbeatIncoming is the expected server heartbeat interval. 0 disables.
	HeartbeatIncoming time.Duration

	// HeartbeatOutgoing is the client heartbeat interval. 0 disables.
	HeartbeatOutgoing time.Duration

	// ReconnectDelay is the wait before an automatic reconnect. 0 disables
	// automatic reconnection.
	ReconnectDelay time.Duration

	// Debug enables raw frame logging in the protocol client.
	Debug bool

	// BeforeConnect is an optional hook run before each attempt.
	BeforeConnect BeforeConnectHook
}

// DefaultVersions is the version list offered when Config.Versions is empty.
var DefaultVersions = []string{"1.2", "1.1", "1.0"}

// Validate reports configuration that can never produce a connection.
func (c Config) Validate() error {
	var errs []string

	if c.Transport == nil && strings.TrimSpace(c.BrokerURL) == "" {
		errs = append(errs, "broker url or transport factory is required")
	}
	if c.HeartbeatIncoming < 0 || c.HeartbeatOutgoing < 0 {
		errs = append(errs, "heartbeat intervals must not be negative")
	}
	if c.ReconnectDelay < 0 {
		errs = append(errs, "reconnect delay must not be negative")
	}
	for _, v := range c.Versions {
		switch v {
		case "1.0", "1.1", "1.2":
		default:
			errs = append(errs, fmt.Sprintf("unsupported STOMP version %q", v))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// clone copies every reference field so callers cannot mutate a captured Config.
func (c Config) clone() Config {
	out := c
	out.ConnectHeaders = c.ConnectHeaders.Clone()
	out.DisconnectHeaders = c.DisconnectHeaders.Clone()
	if len(c.Versions) > 0 {
		out.Versions = append([]string(nil), c.Versions...)
	}
	return out
}

// connectParams builds the protocol client's view of this configuration.
func (c Config) connectParams() ConnectParams {
	versions := c.Versions
	if len(versions) == 0 {
		versions = DefaultVersions
	}
	return ConnectParams{
		BrokerURL:         c.BrokerURL,
		Transport:         c.Transport,
		Versions:          append([]string(nil), versions...),
		Headers:           c.ConnectHeaders.Clone(),
		HeartbeatIncoming: c.HeartbeatIncoming,
		HeartbeatOutgoing: c.HeartbeatOutgoing,
		Debug:             c.Debug,
	}
}
