package stompconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/stomplink/internal/stompclient"
)

// Client opens go-stomp sessions. It implements stompclient.ProtocolClient.
//
// A Client holds no connection state of its own; every Connect call
// produces an independent session.
type Client struct {
	wsDialer          *websocket.Dialer
	disconnectTimeout time.Duration

	// logger for debug and transport logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// New creates a protocol client with default dial settings.
func New() *Client {
	return &Client{
		wsDialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: defaultDialTimeout,
			Subprotocols:     websocketSubprotocols,
			TLSClientConfig:  &tls.Config{MinVersion: tlsMinVersion},
		},
		disconnectTimeout: defaultDisconnectTimeout,
	}
}

// SetLogger sets a logger for debug and transport logging.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Connect dials the broker and performs the STOMP handshake.
//
// It performs the following steps:
//  1. Opens the transport (params.Transport, else the broker URL)
//  2. Wraps it to detect transport loss and, in debug mode, log raw bytes
//  3. Runs the CONNECT/CONNECTED exchange, aborting if ctx ends
//
// Parameters:
//   - ctx: Cancels the dial and the handshake
//   - params: Per-attempt connection parameters
//   - events: Callbacks for loss of the returned session
//
// Returns:
//   - stompclient.Session: The established session
//   - error: ErrDialFailed, ErrHandshakeFailed or ErrUnsupportedScheme
func (c *Client) Connect(ctx context.Context, params stompclient.ConnectParams, events stompclient.SessionEvents) (stompclient.Session, error) {
	opts, err := buildConnOpts(params)
	if err != nil {
		return nil, err
	}

	rwc, err := c.open(ctx, params)
	if err != nil {
		return nil, err
	}

	s := &session{
		events:            events,
		logger:            c.getLogger,
		subs:              make(map[string]*stomp.Subscription),
		disconnectTimeout: c.disconnectTimeout,
	}
	transport := &watchedConn{
		rwc:    rwc,
		debug:  params.Debug,
		logger: c.getLogger,
		onLost: func(err error) { s.report(err, false) },
	}
	s.transport = transport

	// go-stomp's handshake takes no context; closing the transport unblocks it.
	stop := context.AfterFunc(ctx, func() {
		_ = transport.Close() //nolint:errcheck // Unblocks the handshake
	})
	conn, err := stomp.Connect(transport, opts...)
	if !stop() {
		if err == nil {
			_ = conn.MustDisconnect() //nolint:errcheck // Abandoned session
		}
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, ctx.Err())
	}
	if err != nil {
		_ = transport.Close() //nolint:errcheck // Best effort
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	s.conn = conn
	s.headers = stompclient.Headers{
		"version": string(conn.Version()),
		"session": conn.Session(),
		"server":  conn.Server(),
	}
	s.established.Store(true)

	// A failure between the handshake and this point would otherwise be lost.
	if err := transport.failure(); err != nil {
		s.report(err, false)
	}

	if logger := c.getLogger(); logger != nil {
		logger.Debug("STOMP session established",
			"version", s.headers["version"],
			"server", s.headers["server"],
			"session", s.headers["session"],
		)
	}
	return s, nil
}

// open dials the transport for one attempt.
func (c *Client) open(ctx context.Context, params stompclient.ConnectParams) (io.ReadWriteCloser, error) {
	if params.Transport != nil {
		rwc, err := params.Transport(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDialFailed, err)
		}
		return rwc, nil
	}

	ep, err := parseBrokerURL(params.BrokerURL)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	switch ep.scheme {
	case "ws":
		ws, resp, err := c.wsDialer.DialContext(ctx, ep.url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close() //nolint:errcheck // Handshake response body is unused
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, ep.url, err)
		}
		return newWSConn(ws), nil

	case "tls":
		d := &tls.Dialer{Config: &tls.Config{MinVersion: tlsMinVersion, ServerName: ep.host}}
		conn, err := d.DialContext(ctx, "tcp", ep.addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, ep.addr, err)
		}
		return conn, nil

	default:
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", ep.addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, ep.addr, err)
		}
		return conn, nil
	}
}
