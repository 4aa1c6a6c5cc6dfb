package stompclient

import (
	"context"
	"fmt"
	"sync"
)

// Client is a connection-lifecycle-aware STOMP façade.
//
// It composes the activation controller, the subscription registry and the
// publish queue over a single ProtocolClient. Application code only ever
// talks to a Client; it never sees individual sessions.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Every call into the current session is serialised by the wire lock,
//     so a reconnect's resubscribe and flush never interleave with
//     Publish or Subscribe.
type Client struct {
	wire sync.Mutex

	registry *registry
	queue    *publishQueue
	ctl      *controller

	states  *stream[ConnectionState]
	headers *stream[Headers]
	errs    *stream[error]

	// logger for lifecycle and handler logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Stats is a point-in-time snapshot of a Client.
type Stats struct {
	State         ConnectionState
	Subscriptions int
	Queued        int
	Dropped       uint64
	Connects      uint64
	Reconnects    uint64
}

// New creates an inactive Client. Nothing is dialled until Activate.
//
// Parameters:
//   - proto: Protocol client used for every connection attempt
//   - cfg: Initial configuration
//
// Returns:
//   - *Client: Inactive client ready for Subscribe, Publish and Activate
//   - error: ErrInvalidConfig if proto is nil or cfg fails validation
func New(proto ProtocolClient, cfg Config) (*Client, error) {
	if proto == nil {
		return nil, fmt.Errorf("%w: protocol client is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		queue:   newPublishQueue(),
		states:  newReplayStream(Inactive),
		headers: newEmptyReplayStream[Headers](),
		errs:    newStream[error](),
	}
	c.registry = newRegistry(c.getLogger)
	c.ctl = &controller{
		proto:    proto,
		wire:     &c.wire,
		registry: c.registry,
		queue:    c.queue,
		states:   c.states,
		headers:  c.headers,
		errs:     c.errs,
		logger:   c.getLogger,
		state:    Inactive,
		cfg:      cfg.clone(),
	}
	return c, nil
}

// Configure replaces the configuration wholesale. The new configuration is
// used from the next connection attempt on; an attempt already past its
// pre-connect hook keeps the configuration it started with.
//
// Calling Configure from inside a BeforeConnect hook affects the attempt
// that hook belongs to.
func (c *Client) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.ctl.configure(cfg)
	return nil
}

// Activate starts connecting in the background. It returns immediately.
//
// Calling Activate while connecting or connected does nothing. Calling it
// while a Deactivate is in progress activates again once that finishes.
func (c *Client) Activate() {
	c.ctl.activate()
}

// Deactivate disconnects and stops any reconnection. Queued publishes are
// discarded; logical subscriptions are kept for a later Activate.
//
// Parameters:
//   - ctx: Bounds how long the caller waits; the teardown completes regardless
//
// Returns:
//   - error: Non-nil only if ctx ended before the Client reached INACTIVE
func (c *Client) Deactivate(ctx context.Context) error {
	return c.ctl.deactivate(ctx)
}

// Publish sends a message, or queues it until the next connect when no
// session is available. It never blocks beyond a single forwarded send.
func (c *Client) Publish(destination string, headers Headers, body []byte) {
	c.wire.Lock()
	defer c.wire.Unlock()

	session, _, live := c.ctl.liveSession()
	if !live {
		c.queue.push(destination, headers, body)
		return
	}

	if err := session.Publish(destination, headers.Clone(), body); err != nil {
		c.queue.push(destination, headers, body)
		if logger := c.getLogger(); logger != nil {
			logger.Debug("STOMP publish failed, queued for next connect",
				"destination", destination,
				"error", err,
			)
		}
	}
}

// Subscribe creates a logical subscription. It always succeeds; the
// subscription is attached to the broker now if connected, and on every
// subsequent connect.
//
// Identical arguments yield independent subscriptions.
//
// Example:
//
//	sub := client.Subscribe("/queue/orders", stompclient.Headers{"ack": "auto"})
//	stop := sub.Listen(func(msg stompclient.Message) error {
//	    return process(msg.Body)
//	})
//	defer stop()
func (c *Client) Subscribe(destination string, headers Headers) *Subscription {
	c.wire.Lock()
	defer c.wire.Unlock()

	sub := c.registry.add(c, destination, headers)

	session, gen, live := c.ctl.liveSession()
	if !live {
		return sub
	}
	if err := c.registry.subscribe(session, gen, sub); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("STOMP subscribe failed, will retry on next connect",
				"destination", destination,
				"error", err,
			)
		}
	}
	return sub
}

// Unsubscribe cancels a logical subscription. If it is bound to the current
// session the broker subscription is torn down best-effort; a failure is
// logged, never returned. Unsubscribing twice is a no-op.
func (c *Client) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	c.wire.Lock()
	defer c.wire.Unlock()

	b, _ := c.registry.remove(sub)
	if b == nil {
		return
	}

	session, gen, live := c.ctl.liveSession()
	if !live || gen != b.generation {
		return
	}
	if err := session.Unsubscribe(b.id); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("STOMP unsubscribe failed",
				"destination", sub.destination,
				"subscription_id", b.id,
				"error", err,
			)
		}
	}
}

// WatchState registers fn for connection state changes. fn receives the
// current state synchronously before WatchState returns, then every later
// transition. It never receives a state older than one it already saw.
//
// Returns:
//   - stop: Unregisters fn; safe to call more than once
func (c *Client) WatchState(fn func(ConnectionState)) (stop func()) {
	return c.states.watch(guard(c, "state", fn))
}

// WatchServerHeaders registers fn for the CONNECTED headers of each session.
// After the first connect, fn receives the most recent headers immediately.
func (c *Client) WatchServerHeaders(fn func(Headers)) (stop func()) {
	wrapped := guard(c, "server headers", fn)
	return c.headers.watch(func(h Headers) {
		wrapped(h.Clone())
	})
}

// WatchErrors registers fn for transport, protocol and hook errors. Errors
// raised before registration are not replayed.
func (c *Client) WatchErrors(fn func(error)) (stop func()) {
	return c.errs.watch(guard(c, "error", fn))
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return c.ctl.current()
}

// Connected reports whether the Client currently holds a session.
func (c *Client) Connected() bool {
	return c.State() == Connected
}

// ServerHeaders returns the headers of the most recent handshake and whether
// any handshake has completed yet.
func (c *Client) ServerHeaders() (Headers, bool) {
	h, ok := c.headers.current()
	if !ok {
		return nil, false
	}
	return h.Clone(), true
}

// WaitForState blocks until the Client reaches state or ctx is done.
func (c *Client) WaitForState(ctx context.Context, state ConnectionState) error {
	reached := make(chan struct{})
	var once sync.Once
	stop := c.states.watch(func(s ConnectionState) {
		if s == state {
			once.Do(func() { close(reached) })
		}
	})
	defer stop()

	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", state, ctx.Err())
	}
}

// Stats returns a snapshot of the Client's counters.
func (c *Client) Stats() Stats {
	connects, reconnects := c.ctl.counters()
	return Stats{
		State:         c.State(),
		Subscriptions: c.registry.count(),
		Queued:        c.queue.size(),
		Dropped:       c.registry.droppedCount(),
		Connects:      connects,
		Reconnects:    reconnects,
	}
}

// SetLogger sets a logger for lifecycle and handler logging.
// If not set, the Client logs nothing.
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

// guard wraps an observer with panic recovery.
func guard[T any](c *Client, kind string, fn func(T)) func(T) {
	return func(v T) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("STOMP observer panic recovered",
						"observer", kind,
						"panic", r,
					)
				}
			}
		}()
		fn(v)
	}
}
