package stompclient

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// controller owns the connection state machine and the current session.
//
// Lock order: Client.wire, then controller.mu, then registry/queue locks.
// controller.mu is never held while calling the protocol client, a hook or
// an observer.
type controller struct {
	proto    ProtocolClient
	wire     *sync.Mutex
	registry *registry
	queue    *publishQueue
	states   *stream[ConnectionState]
	headers  *stream[Headers]
	errs     *stream[error]
	logger   func() Logger

	mu     sync.Mutex
	state  ConnectionState
	cfg    Config
	closed chan struct{} // closed when the current deactivation finishes

	// generation identifies the current attempt. Every new attempt, every
	// scheduled reconnect and every deactivation bumps it; results and
	// callbacks carrying an older generation are ignored.
	generation uint64

	cancelAttempt context.CancelFunc
	attemptDone   chan struct{}
	timer         *time.Timer

	session    Session
	sessionGen uint64

	// lostGen records a loss reported for an attempt that has not reached
	// Connected yet. established checks it before promoting the session.
	lostGen uint64
	lostErr error

	connects   uint64
	reconnects uint64
}

// activate starts connecting. It is a no-op while Connecting or Connected;
// while Disconnecting it waits for the deactivation to finish first.
func (ct *controller) activate() {
	ct.mu.Lock()
	switch ct.state {
	case Connecting, Connected:
		ct.mu.Unlock()
		return
	case Disconnecting:
		closed := ct.closed
		ct.mu.Unlock()
		go func() {
			<-closed
			ct.activate()
		}()
		return
	}

	ct.state = Connecting
	notify := ct.states.set(Connecting)
	start := ct.prepareAttemptLocked()
	ct.mu.Unlock()

	if logger := ct.logger(); logger != nil {
		logger.Info("STOMP activating")
	}
	notify()
	start()
}

// prepareAttemptLocked registers a new attempt and returns the function
// that launches it. Callers hold ct.mu with state == Connecting.
func (ct *controller) prepareAttemptLocked() (start func()) {
	ct.generation++
	gen := ct.generation

	if ct.cancelAttempt != nil {
		ct.cancelAttempt()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ct.cancelAttempt = cancel
	ct.attemptDone = done

	return func() {
		go ct.attempt(ctx, gen, done)
	}
}

// attempt runs one hook + connect sequence. Observers are notified only
// after done is closed so an observer may call Deactivate.
func (ct *controller) attempt(ctx context.Context, gen uint64, done chan struct{}) {
	notify := ct.runAttempt(ctx, gen)
	close(done)
	notify()
}

// runAttempt runs the pre-connect hook, then the handshake, and returns the
// pending observer notifications.
func (ct *controller) runAttempt(ctx context.Context, gen uint64) (notify func()) {
	ct.mu.Lock()
	hook := ct.cfg.BeforeConnect
	ct.mu.Unlock()

	if hook != nil {
		if err := runHook(ctx, hook); err != nil {
			return ct.attemptFailed(gen, fmt.Errorf("%w: %w", ErrHookFailed, err))
		}
	}

	// The hook may have replaced the configuration; capture it only now.
	ct.mu.Lock()
	if !ct.currentLocked(gen) {
		ct.mu.Unlock()
		return noop
	}
	params := ct.cfg.connectParams()
	ct.mu.Unlock()

	events := SessionEvents{
		OnDisconnect: func(err error) {
			if err == nil {
				err = ErrConnectionLost
			} else {
				err = fmt.Errorf("%w: %w", ErrConnectionLost, err)
			}
			ct.sessionLost(gen, err)
		},
		OnError: func(err error) {
			ct.sessionLost(gen, fmt.Errorf("%w: %w", ErrProtocol, err))
		},
	}

	session, err := ct.proto.Connect(ctx, params, events)
	if err != nil {
		return ct.attemptFailed(gen, fmt.Errorf("%w: %w", ErrConnectFailed, err))
	}
	return ct.established(gen, session)
}

func noop() {}

// runHook waits for hook or for ctx, whichever finishes first. A hook that
// ignores ctx keeps running in the background; its result is discarded.
func runHook(ctx context.Context, hook BeforeConnectHook) error {
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("panic: %v", r)
			}
		}()
		result <- hook(ctx)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// currentLocked reports whether gen is still the live attempt.
func (ct *controller) currentLocked(gen uint64) bool {
	return ct.generation == gen && ct.state == Connecting
}

// established completes a successful handshake: resubscribe, flush, then
// publish the new headers and the Connected state, all under the wire lock
// so no external publish can slip in between.
func (ct *controller) established(gen uint64, session Session) (notify func()) {
	ct.wire.Lock()

	ct.mu.Lock()
	live := ct.currentLocked(gen)
	var lost error
	if live && ct.lostGen == gen {
		lost = ct.lostErr
		ct.lostErr = nil
	}
	disconnectHeaders := ct.cfg.DisconnectHeaders.Clone()
	ct.mu.Unlock()
	if !live {
		ct.wire.Unlock()
		ct.closeStale(session, disconnectHeaders)
		return noop
	}
	if lost != nil {
		ct.wire.Unlock()
		ct.closeStale(session, disconnectHeaders)
		return ct.attemptFailed(gen, lost)
	}

	if err := ct.registry.attach(session, gen); err != nil {
		ct.registry.detach()
		ct.wire.Unlock()
		ct.closeStale(session, disconnectHeaders)
		return ct.attemptFailed(gen, fmt.Errorf("%w: %w", ErrConnectFailed, err))
	}
	sent, flushErr := ct.queue.flush(session)

	ct.mu.Lock()
	if !ct.currentLocked(gen) {
		ct.mu.Unlock()
		ct.registry.detach()
		ct.wire.Unlock()
		ct.closeStale(session, disconnectHeaders)
		return noop
	}
	ct.state = Connected
	ct.session = session
	ct.sessionGen = gen
	ct.connects++
	if ct.cancelAttempt != nil {
		ct.cancelAttempt()
		ct.cancelAttempt = nil
	}
	serverHeaders := session.ServerHeaders().Clone()
	notifyHeaders := ct.headers.set(serverHeaders)
	notifyState := ct.states.set(Connected)
	ct.mu.Unlock()

	ct.wire.Unlock()

	if logger := ct.logger(); logger != nil {
		logger.Info("STOMP connected",
			"server", serverHeaders["server"],
			"version", serverHeaders["version"],
			"subscriptions", ct.registry.count(),
			"flushed", sent,
		)
		if flushErr != nil {
			logger.Warn("STOMP queue flush interrupted",
				"remaining", ct.queue.size(),
				"error", flushErr,
			)
		}
	}

	return func() {
		notifyHeaders()
		notifyState()
	}
}

// closeStale disconnects a session that will never be promoted to
// Connected: its attempt was abandoned, or it failed before setup finished.
func (ct *controller) closeStale(session Session, headers Headers) {
	if err := session.Disconnect(headers); err != nil {
		if logger := ct.logger(); logger != nil {
			logger.Debug("STOMP disconnect of discarded session failed", "error", err)
		}
	}
}

// attemptFailed handles a hook or handshake failure for attempt gen.
// Failures of abandoned attempts are dropped silently.
func (ct *controller) attemptFailed(gen uint64, err error) (notify func()) {
	ct.mu.Lock()
	if !ct.currentLocked(gen) {
		ct.mu.Unlock()
		return noop
	}
	delay := ct.cfg.ReconnectDelay
	notifyState := noop
	if delay > 0 {
		ct.scheduleReconnectLocked(delay)
	} else {
		ct.state = Inactive
		notifyState = ct.states.set(Inactive)
	}
	notifyErr := ct.errs.set(err)
	ct.mu.Unlock()

	if logger := ct.logger(); logger != nil {
		logger.Warn("STOMP connection attempt failed",
			"error", err,
			"retry_in", delay,
		)
	}
	return func() {
		notifyErr()
		notifyState()
	}
}

// sessionLost handles the disconnect or error callback of session gen.
// Callbacks for sessions that are no longer current are ignored.
func (ct *controller) sessionLost(gen uint64, err error) {
	ct.wire.Lock()

	ct.mu.Lock()
	if ct.currentLocked(gen) {
		// The handshake has not been promoted yet; established fails it.
		if ct.lostGen != gen {
			ct.lostGen = gen
			ct.lostErr = err
		}
		ct.mu.Unlock()
		ct.wire.Unlock()
		return
	}
	if ct.state != Connected || ct.sessionGen != gen {
		ct.mu.Unlock()
		ct.wire.Unlock()
		return
	}
	ct.session = nil
	delay := ct.cfg.ReconnectDelay
	if delay > 0 {
		ct.state = Connecting
		ct.scheduleReconnectLocked(delay)
	} else {
		ct.state = Inactive
	}
	notify := ct.states.set(ct.state)
	ct.mu.Unlock()

	ct.registry.detach()
	ct.wire.Unlock()

	if logger := ct.logger(); logger != nil {
		logger.Warn("STOMP connection lost",
			"error", err,
			"reconnect_in", delay,
		)
	}
	ct.errs.emit(err)
	notify()
}

// scheduleReconnectLocked arms the reconnect timer.
// Callers hold ct.mu with state == Connecting.
func (ct *controller) scheduleReconnectLocked(delay time.Duration) {
	ct.generation++
	gen := ct.generation
	ct.reconnects++
	if ct.timer != nil {
		ct.timer.Stop()
	}
	ct.timer = time.AfterFunc(delay, func() {
		ct.reconnect(gen)
	})
}

// reconnect fires when the reconnect timer for gen expires.
func (ct *controller) reconnect(gen uint64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if !ct.currentLocked(gen) {
		return
	}
	ct.timer = nil
	ct.prepareAttemptLocked()()
}

// deactivate starts tearing down and waits until the Client is Inactive or
// ctx is done. The teardown itself always runs to completion.
func (ct *controller) deactivate(ctx context.Context) error {
	ct.mu.Lock()
	switch ct.state {
	case Inactive:
		ct.mu.Unlock()
		ct.dropQueued()
		return nil
	case Disconnecting:
		closed := ct.closed
		ct.mu.Unlock()
		return waitClosed(ctx, closed)
	}

	closed := make(chan struct{})
	ct.closed = closed
	ct.state = Disconnecting
	ct.generation++
	if ct.timer != nil {
		ct.timer.Stop()
		ct.timer = nil
	}
	cancel := ct.cancelAttempt
	ct.cancelAttempt = nil
	attemptDone := ct.attemptDone
	session := ct.session
	ct.session = nil
	disconnectHeaders := ct.cfg.DisconnectHeaders.Clone()
	notify := ct.states.set(Disconnecting)
	ct.mu.Unlock()

	if logger := ct.logger(); logger != nil {
		logger.Info("STOMP deactivating")
	}
	notify()

	if cancel != nil {
		cancel()
	}
	go ct.teardown(session, disconnectHeaders, attemptDone, closed)

	return waitClosed(ctx, closed)
}

// teardown waits for any in-flight attempt to settle, then closes the
// session and moves to Inactive.
func (ct *controller) teardown(session Session, headers Headers, attemptDone <-chan struct{}, closed chan struct{}) {
	if attemptDone != nil {
		<-attemptDone
	}

	ct.wire.Lock()
	ct.registry.detach()
	ct.wire.Unlock()

	if session != nil {
		if err := session.Disconnect(headers); err != nil {
			if logger := ct.logger(); logger != nil {
				logger.Warn("STOMP disconnect failed", "error", err)
			}
		}
	}
	ct.dropQueued()

	ct.mu.Lock()
	ct.state = Inactive
	notify := ct.states.set(Inactive)
	ct.mu.Unlock()

	if logger := ct.logger(); logger != nil {
		logger.Info("STOMP deactivated")
	}
	// Observers see INACTIVE before Deactivate callers are released.
	notify()
	close(closed)
}

func (ct *controller) dropQueued() {
	if dropped := ct.queue.discard(); dropped > 0 {
		if logger := ct.logger(); logger != nil {
			logger.Warn("STOMP discarded queued publishes on deactivate", "count", dropped)
		}
	}
}

func waitClosed(ctx context.Context, closed <-chan struct{}) error {
	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for deactivation: %w", ctx.Err())
	}
}

// configure replaces the configuration used by subsequent attempts.
func (ct *controller) configure(cfg Config) {
	ct.mu.Lock()
	ct.cfg = cfg.clone()
	ct.mu.Unlock()
}

// liveSession returns the current session while Connected.
// Callers hold the wire lock.
func (ct *controller) liveSession() (Session, uint64, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.state != Connected || ct.session == nil {
		return nil, 0, false
	}
	return ct.session, ct.sessionGen, true
}

// current returns the current state.
func (ct *controller) current() ConnectionState {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.state
}

// counters returns the number of successful handshakes and scheduled reconnects.
func (ct *controller) counters() (connects, reconnects uint64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.connects, ct.reconnects
}

