package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/stomplink/internal/infrastructure/influxdb"
	"github.com/nerrad567/stomplink/internal/infrastructure/mqtt"
	"github.com/nerrad567/stomplink/internal/journal"
	"github.com/nerrad567/stomplink/internal/stompclient"
)

var errBusDown = errors.New("bus down")

// fakeProto hands out in-memory STOMP sessions.
type fakeProto struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (p *fakeProto) Connect(_ context.Context, _ stompclient.ConnectParams, events stompclient.SessionEvents) (stompclient.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSession{
		events: events,
		subs:   make(map[string]fakeSub),
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *fakeProto) session(n int) *fakeSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 1 || n > len(p.sessions) {
		return nil
	}
	return p.sessions[n-1]
}

type fakeSub struct {
	destination string
	headers     stompclient.Headers
	onMessage   func(stompclient.Message)
}

type sentFrame struct {
	destination string
	headers     stompclient.Headers
	body        string
}

type fakeSession struct {
	events stompclient.SessionEvents

	mu           sync.Mutex
	nextID       int
	subs         map[string]fakeSub
	sent         []sentFrame
	disconnected bool
}

func (s *fakeSession) ServerHeaders() stompclient.Headers {
	return stompclient.Headers{"server": "fake-broker/1.0", "version": "1.2"}
}

func (s *fakeSession) Publish(destination string, headers stompclient.Headers, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected {
		return stompclient.ErrNotConnected
	}
	s.sent = append(s.sent, sentFrame{destination: destination, headers: headers.Clone(), body: string(body)})
	return nil
}

func (s *fakeSession) Subscribe(destination string, headers stompclient.Headers, onMessage func(stompclient.Message)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("sub-%d", s.nextID)
	s.subs[id] = fakeSub{destination: destination, headers: headers.Clone(), onMessage: onMessage}
	return id, nil
}

func (s *fakeSession) Unsubscribe(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	return nil
}

func (s *fakeSession) Disconnect(_ stompclient.Headers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
	return nil
}

func (s *fakeSession) subscriptions() []fakeSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fakeSub, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

func (s *fakeSession) frames() []sentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentFrame(nil), s.sent...)
}

func (s *fakeSession) isDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// deliver hands a MESSAGE to every subscription on destination.
func (s *fakeSession) deliver(destination, body string) {
	s.mu.Lock()
	var targets []func(stompclient.Message)
	var ids []string
	for id, sub := range s.subs {
		if sub.destination == destination {
			targets = append(targets, sub.onMessage)
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for i, fn := range targets {
		fn(stompclient.Message{Destination: destination, SubscriptionID: ids[i], Body: []byte(body)})
	}
}

type busMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeBus is an in-memory MQTT client.
type fakeBus struct {
	mu           sync.Mutex
	published    []busMessage
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	failTopic    string
	failSub      string
	watchers     map[int]mqtt.ConnectionWatcher
	nextWatch    int
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		handlers: make(map[string]mqtt.MessageHandler),
		watchers: make(map[int]mqtt.ConnectionWatcher),
	}
}

func (b *fakeBus) WatchConnection(fn mqtt.ConnectionWatcher) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextWatch
	b.nextWatch++
	b.watchers[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}
}

// setConnected reports a broker loss or restore to every watcher.
func (b *fakeBus) setConnected(connected bool, err error) {
	b.mu.Lock()
	targets := make([]mqtt.ConnectionWatcher, 0, len(b.watchers))
	for _, w := range b.watchers {
		targets = append(targets, w)
	}
	b.mu.Unlock()
	for _, w := range targets {
		w(connected, err)
	}
}

func (b *fakeBus) watcherCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

func (b *fakeBus) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic == b.failTopic {
		return errBusDown
	}
	b.published = append(b.published, busMessage{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic == b.failSub {
		return errBusDown
	}
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	b.unsubscribed = append(b.unsubscribed, topic)
	return nil
}

// deliver invokes the handler subscribed on topic with a live message.
func (b *fakeBus) deliver(topic string, payload []byte) error {
	return b.deliverMessage(mqtt.Message{Topic: topic, Payload: payload})
}

// deliverRetained invokes the handler with the broker's retained copy.
func (b *fakeBus) deliverRetained(topic string, payload []byte) error {
	return b.deliverMessage(mqtt.Message{Topic: topic, Payload: payload, Retained: true})
}

func (b *fakeBus) deliverMessage(msg mqtt.Message) error {
	b.mu.Lock()
	handler, ok := b.handlers[msg.Topic]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler for %s", msg.Topic)
	}
	return handler(msg)
}

func (b *fakeBus) subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

func (b *fakeBus) messages(topic string) []busMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []busMessage
	for _, m := range b.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeJournal struct {
	mu       sync.Mutex
	events   []journal.Event
	messages []journal.Message
}

func (j *fakeJournal) RecordEvent(_ context.Context, event *journal.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, *event)
	return nil
}

func (j *fakeJournal) RecordMessage(_ context.Context, msg *journal.Message) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.messages = append(j.messages, *msg)
	return nil
}

func (j *fakeJournal) eventStates() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.events))
	for _, e := range j.events {
		out = append(out, e.State)
	}
	return out
}

func (j *fakeJournal) recorded() []journal.Message {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Message(nil), j.messages...)
}

type relayPoint struct {
	direction   string
	destination string
	size        int
	ok          bool
}

type fakeMetrics struct {
	mu     sync.Mutex
	states []string
	stats  []influxdb.LinkStats
	relays []relayPoint
	bus    []bool
}

func (m *fakeMetrics) WriteBusState(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bus = append(m.bus, connected)
}

func (m *fakeMetrics) busStates() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.bus...)
}

func (m *fakeMetrics) WriteLinkState(state string, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}

func (m *fakeMetrics) WriteLinkStats(stats influxdb.LinkStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = append(m.stats, stats)
}

func (m *fakeMetrics) WriteRelay(direction, destination string, size int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relays = append(m.relays, relayPoint{direction: direction, destination: destination, size: size, ok: ok})
}

func (m *fakeMetrics) relayPoints() []relayPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]relayPoint(nil), m.relays...)
}

func (b *fakeBus) setFailTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failTopic = topic
}
