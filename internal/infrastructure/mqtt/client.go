package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/stomplink/internal/infrastructure/config"
)

// Client is the MQTT side of the bridge.
//
// It owns one auto-reconnecting paho connection, keeps the route
// subscriptions so they are restored after every reconnect, advertises the
// bridge on Topics.Status (with a Last Will for crashes) and reports broker
// connectivity to watchers.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	routes   map[string]route
	routesMu sync.RWMutex

	conn   connState
	connMu sync.RWMutex

	watchers  map[int]ConnectionWatcher
	nextWatch int
	watchMu   sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ConnectionWatcher is told about every loss and restore of the broker
// connection. err is the loss reason and is nil on restore.
type ConnectionWatcher func(connected bool, err error)

// Status is a snapshot of the broker connection.
type Status struct {
	Connected bool
	Since     time.Time // last connect or loss
	Losses    uint64
	LastError string
}

type connState struct {
	connected bool
	since     time.Time
	losses    uint64
	lastErr   error
}

// Connect establishes the broker connection.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Registers the Last Will on stomplink/{client_id}/status
//  3. Hooks connect and loss handlers that restore routes and notify watchers
//  4. Connects with a timeout
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed if the broker is not reachable in time
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:      cfg,
		routes:   make(map[string]route),
		watchers: make(map[int]ConnectionWatcher),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleLoss(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "client_id", cfg.Broker.ClientID)
		}
	})

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), defaultConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; record the state here so
	// IsConnected is true on return. The handler then sees no transition.
	c.transition(true, nil)
	return c, nil
}

// await waits for a paho token, treating a timeout as an error.
func await(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout after %v", timeout)
	}
	return token.Error()
}

// handleConnect runs on paho's goroutine after every (re)connect.
func (c *Client) handleConnect() {
	restored := c.transition(true, nil)

	c.restoreRoutes()
	c.client.Publish(Topics{}.Status(c.cfg.Broker.ClientID), byte(c.cfg.QoS), true, buildOnlinePayload(c.cfg.Broker.ClientID))

	if !restored {
		return
	}
	if logger := c.getLogger(); logger != nil {
		logger.Info("MQTT connected",
			"client_id", c.cfg.Broker.ClientID,
			"routes", c.routeCount(),
		)
	}
	c.notify(true, nil)
}

// handleLoss runs when paho reports the connection lost. Paho keeps
// reconnecting on its own.
func (c *Client) handleLoss(err error) {
	if err == nil {
		err = pahomqtt.ErrNotConnected
	}
	if !c.transition(false, err) {
		return
	}
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost",
			"client_id", c.cfg.Broker.ClientID,
			"error", err,
		)
	}
	c.notify(false, err)
}

// transition records a connection change and reports whether the state
// actually changed.
func (c *Client) transition(connected bool, err error) bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn.connected == connected {
		return false
	}
	c.conn.connected = connected
	c.conn.since = time.Now().UTC()
	if !connected {
		c.conn.losses++
		c.conn.lastErr = err
	}
	return true
}

func (c *Client) notify(connected bool, err error) {
	c.watchMu.Lock()
	targets := make([]ConnectionWatcher, 0, len(c.watchers))
	for _, w := range c.watchers {
		targets = append(targets, w)
	}
	c.watchMu.Unlock()

	for _, w := range targets {
		w(connected, err)
	}
}

// WatchConnection registers fn for connection losses and restores. The
// initial connect made by Connect is not reported.
//
// Returns:
//   - stop: Removes the watcher; safe to call more than once
func (c *Client) WatchConnection(fn ConnectionWatcher) (stop func()) {
	c.watchMu.Lock()
	if c.watchers == nil {
		c.watchers = make(map[int]ConnectionWatcher)
	}
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = fn
	c.watchMu.Unlock()

	return func() {
		c.watchMu.Lock()
		delete(c.watchers, id)
		c.watchMu.Unlock()
	}
}

// Close publishes the graceful offline status and disconnects. Watchers
// are not notified.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.Status(c.cfg.Broker.ClientID), byte(c.cfg.QoS), true, buildOfflinePayload(c.cfg.Broker.ClientID))
		if err := await(token, defaultPublishTimeout); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT offline status not delivered", "error", err)
			}
		}
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.conn.connected = false
	c.connMu.Unlock()
	return nil
}

// HealthCheck reports whether the bus can carry relays right now. While
// the broker is unreachable the error wraps ErrBusDown and the last loss
// reason, which is what the STOMP pre-connect hook reports.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if c.IsConnected() {
		return nil
	}

	c.connMu.RLock()
	lastErr := c.conn.lastErr
	c.connMu.RUnlock()
	if lastErr != nil {
		return fmt.Errorf("%w: %w", ErrBusDown, lastErr)
	}
	return ErrBusDown
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn.connected && c.client != nil && c.client.IsConnected()
}

// Status returns a snapshot of the broker connection.
func (c *Client) Status() Status {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	s := Status{
		Connected: c.conn.connected,
		Since:     c.conn.since,
		Losses:    c.conn.losses,
	}
	if c.conn.lastErr != nil {
		s.LastError = c.conn.lastErr.Error()
	}
	return s
}

// SetLogger sets a logger for connection changes and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
