package stompclient

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Subscription is a logical subscription. It outlives any number of
// reconnects and is bound to a fresh broker subscription on every connect.
//
// Two Subscriptions with identical destination and headers are independent:
// each is registered with the broker separately and receives its own copy
// of every matching message.
type Subscription struct {
	client      *Client
	destination string
	headers     Headers
	seq         uint64

	mu        sync.Mutex
	binding   *binding
	listeners []listener
	nextID    uint64
	cancelled bool
}

// binding ties a Subscription to one broker subscription id in one session.
type binding struct {
	generation uint64
	id         string
}

type listener struct {
	id      uint64
	handler MessageHandler
}

// Destination returns the subscribed destination.
func (s *Subscription) Destination() string {
	return s.destination
}

// Headers returns a copy of the SUBSCRIBE headers.
func (s *Subscription) Headers() Headers {
	return s.headers.Clone()
}

// ID returns the broker subscription id of the current binding, or "" while unbound.
func (s *Subscription) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binding == nil {
		return ""
	}
	return s.binding.id
}

// Bound reports whether the subscription is attached to the current session.
func (s *Subscription) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding != nil
}

// Cancelled reports whether Unsubscribe has been called.
func (s *Subscription) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Listen adds a handler for messages on this subscription. Handlers run on
// the protocol client's delivery goroutine, in registration order, and
// should not block for extended periods.
//
// Returns:
//   - stop: Removes the handler; safe to call more than once
func (s *Subscription) Listen(handler MessageHandler) (stop func()) {
	if handler == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listener{id: id, handler: handler})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Unsubscribe cancels the subscription. See Client.Unsubscribe.
func (s *Subscription) Unsubscribe() {
	if s.client != nil {
		s.client.Unsubscribe(s)
	}
}

// deliver hands msg to every listener, recovering handler panics.
func (s *Subscription) deliver(msg Message, logger Logger) {
	s.mu.Lock()
	targets := make([]MessageHandler, len(s.listeners))
	for i, l := range s.listeners {
		targets[i] = l.handler
	}
	s.mu.Unlock()

	for _, handler := range targets {
		s.invoke(handler, msg, logger)
	}
}

func (s *Subscription) invoke(handler MessageHandler, msg Message, logger Logger) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("STOMP message handler panic recovered",
				"destination", s.destination,
				"panic", r,
			)
		}
	}()

	if err := handler(msg); err != nil && logger != nil {
		logger.Warn("STOMP message handler returned error",
			"destination", s.destination,
			"error", err,
		)
	}
}

// registry holds logical subscriptions and routes incoming messages to them.
//
// Calls that reach the session (attach, subscribe, unsubscribe) are made by
// the Client while it holds its wire lock. The registry's own lock only
// guards bookkeeping, so route can run concurrently from the delivery goroutine.
type registry struct {
	mu      sync.Mutex
	nextSeq uint64
	subs    []*Subscription
	bound   map[binding]*Subscription
	dropped atomic.Uint64
	logger  func() Logger
}

func newRegistry(logger func() Logger) *registry {
	return &registry{
		bound:  make(map[binding]*Subscription),
		logger: logger,
	}
}

// add creates and tracks a logical subscription.
func (r *registry) add(client *Client, destination string, headers Headers) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	sub := &Subscription{
		client:      client,
		destination: destination,
		headers:     headers.Clone(),
		seq:         r.nextSeq,
	}
	r.subs = append(r.subs, sub)
	return sub
}

// remove stops tracking sub and returns its binding, if any.
func (r *registry) remove(sub *Subscription) (*binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	for i, s := range r.subs {
		if s == sub {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			found = true
			break
		}
	}

	sub.mu.Lock()
	b := sub.binding
	sub.binding = nil
	sub.cancelled = true
	sub.mu.Unlock()

	if b != nil {
		delete(r.bound, *b)
	}
	return b, found
}

// subscribe issues the underlying subscribe for one logical subscription
// and binds the returned id.
func (r *registry) subscribe(session Session, generation uint64, sub *Subscription) error {
	id, err := session.Subscribe(sub.destination, sub.headers.Clone(), r.router(generation))
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", sub.destination, err)
	}

	r.mu.Lock()
	sub.mu.Lock()
	cancelled := sub.cancelled
	if !cancelled {
		b := binding{generation: generation, id: id}
		sub.binding = &b
		r.bound[b] = sub
	}
	sub.mu.Unlock()
	r.mu.Unlock()

	if cancelled {
		// Cancelled while the SUBSCRIBE was in flight.
		_ = session.Unsubscribe(id) //nolint:errcheck // Best effort
	}
	return nil
}

// attach re-issues an underlying subscribe for every live logical
// subscription, in creation order. It stops at the first failure; the
// caller detaches and abandons the session.
func (r *registry) attach(session Session, generation uint64) error {
	for _, sub := range r.snapshot() {
		if err := r.subscribe(session, generation, sub); err != nil {
			return fmt.Errorf("resubscribing: %w", err)
		}
	}
	return nil
}

// detach clears every binding. Logical subscriptions are kept.
func (r *registry) detach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		sub.mu.Lock()
		sub.binding = nil
		sub.mu.Unlock()
	}
	r.bound = make(map[binding]*Subscription)
}

// router returns the onMessage callback for one session.
func (r *registry) router(generation uint64) func(Message) {
	return func(msg Message) {
		r.route(generation, msg.SubscriptionID, msg)
	}
}

// route forwards msg to the logical subscription currently bound to id in
// the given session. Messages for unknown or stale ids are counted and dropped.
func (r *registry) route(generation uint64, id string, msg Message) {
	r.mu.Lock()
	sub, ok := r.bound[binding{generation: generation, id: id}]
	r.mu.Unlock()

	if !ok {
		r.dropped.Add(1)
		if logger := r.logger(); logger != nil {
			logger.Debug("STOMP message dropped for unbound subscription",
				"subscription_id", id,
				"destination", msg.Destination,
			)
		}
		return
	}
	sub.deliver(msg, r.logger())
}

// snapshot returns the live subscriptions in creation order.
func (r *registry) snapshot() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Subscription(nil), r.subs...)
}

// count returns the number of live logical subscriptions.
func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// droppedCount returns how many messages could not be routed.
func (r *registry) droppedCount() uint64 {
	return r.dropped.Load()
}
