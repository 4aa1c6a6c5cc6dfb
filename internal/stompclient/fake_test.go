package stompclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeProto is an in-memory ProtocolClient.
type fakeProto struct {
	mu          sync.Mutex
	calls       int
	params      []ConnectParams
	failures    []error
	gate        chan struct{}
	stubborn    bool
	entered     chan struct{}
	serverHdrs  Headers
	sessions    []*fakeSession
	publishFail func(body string) error
	// lossDuringConnect is the number of upcoming sessions whose transport
	// reports a loss before Connect returns.
	lossDuringConnect int
	subscribeFail     func(session int, destination string) error
}

func newFakeProto() *fakeProto {
	return &fakeProto{
		entered:    make(chan struct{}, 16),
		serverHdrs: Headers{"server": "fake/1.0", "version": "1.2", "session": "s"},
	}
}

// failNext makes the next Connect calls fail with errs, in order.
func (p *fakeProto) failNext(errs ...error) {
	p.mu.Lock()
	p.failures = append(p.failures, errs...)
	p.mu.Unlock()
}

// holdStubborn makes Connect block until release, ignoring ctx.
func (p *fakeProto) holdStubborn() {
	p.mu.Lock()
	p.gate = make(chan struct{})
	p.stubborn = true
	p.mu.Unlock()
}

// hold makes Connect block until release is called or ctx is cancelled.
func (p *fakeProto) hold() {
	p.mu.Lock()
	p.gate = make(chan struct{})
	p.mu.Unlock()
}

func (p *fakeProto) release() {
	p.mu.Lock()
	gate := p.gate
	p.gate = nil
	p.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// loseDuringConnect makes the next n sessions report a transport loss
// before Connect hands them back.
func (p *fakeProto) loseDuringConnect(n int) {
	p.mu.Lock()
	p.lossDuringConnect = n
	p.mu.Unlock()
}

func (p *fakeProto) setSubscribeFail(fn func(session int, destination string) error) {
	p.mu.Lock()
	p.subscribeFail = fn
	p.mu.Unlock()
}

func (p *fakeProto) setPublishFail(fn func(body string) error) {
	p.mu.Lock()
	p.publishFail = fn
	p.mu.Unlock()
}

func (p *fakeProto) Connect(ctx context.Context, params ConnectParams, events SessionEvents) (Session, error) {
	p.mu.Lock()
	p.calls++
	p.params = append(p.params, params)
	var failure error
	if len(p.failures) > 0 {
		failure = p.failures[0]
		p.failures = p.failures[1:]
	}
	gate := p.gate
	stubborn := p.stubborn
	p.mu.Unlock()

	select {
	case p.entered <- struct{}{}:
	default:
	}

	if gate != nil && stubborn {
		<-gate
	} else if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}

	p.mu.Lock()
	s := &fakeSession{
		proto:   p,
		index:   len(p.sessions) + 1,
		events:  events,
		headers: p.serverHdrs.Clone(),
		subs:    make(map[string]fakeSub),
	}
	p.sessions = append(p.sessions, s)
	lose := p.lossDuringConnect > 0
	if lose {
		p.lossDuringConnect--
	}
	p.mu.Unlock()

	if lose {
		s.mu.Lock()
		s.disconnected = true
		s.mu.Unlock()
		events.OnDisconnect(errors.New("connection reset during handshake"))
	}
	return s, nil
}

func (p *fakeProto) connectCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProto) session(n int) *fakeSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 1 || n > len(p.sessions) {
		return nil
	}
	return p.sessions[n-1]
}

func (p *fakeProto) sessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *fakeProto) lastParams() ConnectParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params[len(p.params)-1]
}

type fakeSub struct {
	destination string
	onMessage   func(Message)
}

// fakeSession records every call made on it.
type fakeSession struct {
	proto   *fakeProto
	index   int
	events  SessionEvents
	headers Headers

	mu           sync.Mutex
	nextID       int
	subs         map[string]fakeSub
	ops          []string
	published    []string
	unsubscribed []string
	disconnected bool
	discHeaders  Headers
	unsubFail    error
}

func (s *fakeSession) ServerHeaders() Headers {
	return s.headers
}

func (s *fakeSession) Publish(destination string, _ Headers, body []byte) error {
	s.proto.mu.Lock()
	fail := s.proto.publishFail
	s.proto.mu.Unlock()
	if fail != nil {
		if err := fail(string(body)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected {
		return ErrNotConnected
	}
	s.ops = append(s.ops, "publish "+destination+" "+string(body))
	s.published = append(s.published, string(body))
	return nil
}

func (s *fakeSession) Subscribe(destination string, _ Headers, onMessage func(Message)) (string, error) {
	s.proto.mu.Lock()
	fail := s.proto.subscribeFail
	s.proto.mu.Unlock()
	if fail != nil {
		if err := fail(s.index, destination); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected {
		return "", ErrNotConnected
	}
	s.nextID++
	id := fmt.Sprintf("s%d-sub-%d", s.index, s.nextID)
	s.subs[id] = fakeSub{destination: destination, onMessage: onMessage}
	s.ops = append(s.ops, "subscribe "+destination)
	return id, nil
}

func (s *fakeSession) Unsubscribe(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubFail != nil {
		return s.unsubFail
	}
	delete(s.subs, id)
	s.unsubscribed = append(s.unsubscribed, id)
	s.ops = append(s.ops, "unsubscribe "+id)
	return nil
}

func (s *fakeSession) Disconnect(headers Headers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
	s.discHeaders = headers.Clone()
	s.ops = append(s.ops, "disconnect")
	return nil
}

// deliver hands a MESSAGE to every subscription on destination.
func (s *fakeSession) deliver(destination, body string) {
	s.mu.Lock()
	var targets []func(Message)
	var ids []string
	for id, sub := range s.subs {
		if sub.destination == destination {
			targets = append(targets, sub.onMessage)
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for i, fn := range targets {
		fn(Message{
			Destination:    destination,
			SubscriptionID: ids[i],
			Body:           []byte(body),
		})
	}
}

// deliverID hands a MESSAGE for a specific subscription id, known or not.
func (s *fakeSession) deliverID(id, destination, body string) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	s.mu.Unlock()
	msg := Message{Destination: destination, SubscriptionID: id, Body: []byte(body)}
	if ok {
		sub.onMessage(msg)
		return
	}
	// Simulate a late frame for a stale id: route through any handler.
	s.mu.Lock()
	var route func(Message)
	for _, sub := range s.subs {
		route = sub.onMessage
		break
	}
	s.mu.Unlock()
	if route != nil {
		route(msg)
	}
}

// drop simulates the transport closing.
func (s *fakeSession) drop() {
	s.events.OnDisconnect(errors.New("connection reset by peer"))
}

// fail simulates an ERROR frame.
func (s *fakeSession) fail() {
	s.events.OnError(errors.New("ERROR frame: access refused"))
}

func (s *fakeSession) opsSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *fakeSession) publishedSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.published...)
}

func (s *fakeSession) subIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	return ids
}

func (s *fakeSession) isDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// recordingLogger captures log messages.
type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	l.messages = append(l.messages, level+": "+msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("DEBUG", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }

func (l *recordingLogger) contains(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m == entry {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// newTestClient builds a Client over a fake protocol client and registers
// a cleanup that deactivates it.
func newTestClient(t *testing.T, cfg Config) (*Client, *fakeProto) {
	t.Helper()
	proto := newFakeProto()
	if cfg.BrokerURL == "" && cfg.Transport == nil {
		cfg.BrokerURL = "tcp://broker.test:61613"
	}
	client, err := New(proto, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		proto.release()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Deactivate(ctx); err != nil {
			t.Errorf("Deactivate() error = %v", err)
		}
	})
	return client, proto
}

// waitState blocks until client reaches state.
func waitState(t *testing.T, client *Client, state ConnectionState) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.WaitForState(ctx, state); err != nil {
		t.Fatalf("WaitForState(%s) error = %v (state %s)", state, err, client.State())
	}
}
