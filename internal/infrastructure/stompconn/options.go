package stompconn

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3"

	"github.com/nerrad567/stomplink/internal/stompclient"
)

// Connection constants.
const (
	// defaultDialTimeout bounds the transport dial when ctx has no deadline.
	defaultDialTimeout = 10 * time.Second

	// defaultDisconnectTimeout bounds the wait for the DISCONNECT receipt.
	defaultDisconnectTimeout = 5 * time.Second

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// websocketSubprotocols are offered on every websocket dial.
var websocketSubprotocols = []string{"v10.stomp", "v11.stomp", "v12.stomp"}

// endpoint is a parsed broker URL.
type endpoint struct {
	scheme string // tcp, tls or ws
	addr   string // host:port for tcp/tls
	url    string // full URL for ws
	host   string // hostname, used for TLS server name
}

// parseBrokerURL splits a broker URL into the transport to dial.
//
// Bare host:port is treated as tcp. ws and wss are kept whole for the
// websocket dialer; ssl and tls both mean TCP wrapped in TLS.
func parseBrokerURL(raw string) (endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return endpoint{}, fmt.Errorf("%w: empty broker url", ErrUnsupportedScheme)
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("%w: %w", ErrUnsupportedScheme, err)
	}
	if u.Host == "" {
		return endpoint{}, fmt.Errorf("%w: missing host in %q", ErrUnsupportedScheme, raw)
	}

	switch strings.ToLower(u.Scheme) {
	case "tcp", "stomp":
		return endpoint{scheme: "tcp", addr: u.Host, host: u.Hostname()}, nil
	case "ssl", "tls", "stomp+ssl":
		return endpoint{scheme: "tls", addr: u.Host, host: u.Hostname()}, nil
	case "ws", "wss":
		return endpoint{scheme: "ws", url: u.String(), host: u.Hostname()}, nil
	default:
		return endpoint{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// buildConnOpts maps stompclient connect parameters onto go-stomp options.
//
// This configures:
//   - Accepted versions in the given order
//   - Heart-beats (0 disables either direction)
//   - Login/passcode and host from the connect headers
//   - Every other connect header verbatim
func buildConnOpts(params stompclient.ConnectParams) ([]func(*stomp.Conn) error, error) {
	versions, err := toVersions(params.Versions)
	if err != nil {
		return nil, err
	}

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.AcceptVersion(versions...),
		stomp.ConnOpt.HeartBeat(params.HeartbeatOutgoing, params.HeartbeatIncoming),
	}

	headers := params.Headers.Clone()
	login, hasLogin := headers["login"]
	passcode, hasPasscode := headers["passcode"]
	if hasLogin || hasPasscode {
		opts = append(opts, stomp.ConnOpt.Login(login, passcode))
	}
	delete(headers, "login")
	delete(headers, "passcode")

	if host, ok := headers["host"]; ok {
		opts = append(opts, stomp.ConnOpt.Host(host))
		delete(headers, "host")
	}

	// Negotiated by go-stomp itself.
	delete(headers, "accept-version")
	delete(headers, "heart-beat")

	for k, v := range headers {
		opts = append(opts, stomp.ConnOpt.Header(k, v))
	}
	return opts, nil
}

// toVersions converts version strings to go-stomp versions.
func toVersions(in []string) ([]stomp.Version, error) {
	if len(in) == 0 {
		in = stompclient.DefaultVersions
	}
	out := make([]stomp.Version, 0, len(in))
	for _, v := range in {
		switch v {
		case "1.0":
			out = append(out, stomp.V10)
		case "1.1":
			out = append(out, stomp.V11)
		case "1.2":
			out = append(out, stomp.V12)
		default:
			return nil, fmt.Errorf("%w: unsupported STOMP version %q", ErrHandshakeFailed, v)
		}
	}
	return out, nil
}

// ackMode maps the SUBSCRIBE ack header onto a go-stomp ack mode.
func ackMode(value string) stomp.AckMode {
	switch value {
	case "client":
		return stomp.AckClient
	case "client-individual":
		return stomp.AckClientIndividual
	default:
		return stomp.AckAuto
	}
}
