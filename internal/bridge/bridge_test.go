package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/stomplink/internal/infrastructure/config"
	"github.com/nerrad567/stomplink/internal/infrastructure/mqtt"
	"github.com/nerrad567/stomplink/internal/journal"
	"github.com/nerrad567/stomplink/internal/stompclient"
)

const testBridgeID = "bridge-test"

type harness struct {
	proto   *fakeProto
	client  *stompclient.Client
	bus     *fakeBus
	journal *fakeJournal
	metrics *fakeMetrics
	bridge  *Bridge
}

func testBridgeConfig() config.BridgeConfig {
	return config.BridgeConfig{
		ID:   testBridgeID,
		Name: "Test Bridge",
		Inbound: []config.InboundRoute{
			{
				Destination: "/topic/orders",
				Headers:     map[string]string{"ack": "auto"},
				Topic:       "site/orders",
				QoS:         1,
				Retained:    true,
			},
		},
		Outbound: []config.OutboundRoute{
			{
				Topic:       "site/commands",
				QoS:         1,
				Destination: "/queue/commands",
				Headers:     map[string]string{"persistent": "true"},
			},
		},
	}
}

// newHarness builds a bridge over a real stompclient.Client and in-memory fakes.
func newHarness(t *testing.T, cfg config.BridgeConfig) *harness {
	t.Helper()

	proto := &fakeProto{}
	client, err := stompclient.New(proto, stompclient.Config{
		BrokerURL:      "tcp://broker.test:61613",
		ReconnectDelay: time.Hour,
	})
	if err != nil {
		t.Fatalf("stompclient.New() error = %v", err)
	}

	h := &harness{
		proto:   proto,
		client:  client,
		bus:     newFakeBus(),
		journal: &fakeJournal{},
		metrics: &fakeMetrics{},
	}
	h.bridge, err = New(Options{
		Config:  cfg,
		Link:    client,
		Bus:     h.bus,
		Journal: h.journal,
		Metrics: h.metrics,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.bridge.Stop(ctx) //nolint:errcheck // cleanup
	})
	return h
}

// start starts the bridge and waits for the link to connect.
func (h *harness) start(t *testing.T) *fakeSession {
	t.Helper()
	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitState(t, stompclient.Connected)
	return h.proto.session(1)
}

func (h *harness) waitState(t *testing.T, state stompclient.ConnectionState) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.client.WaitForState(ctx, state); err != nil {
		t.Fatalf("WaitForState(%s) error = %v", state, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func decodeStatus(t *testing.T, payload []byte) LinkStatus {
	t.Helper()
	var status LinkStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	return status
}

// ============================================================
// Construction
// ============================================================

func TestNew_Validation(t *testing.T) {
	client, err := stompclient.New(&fakeProto{}, stompclient.Config{BrokerURL: "tcp://broker.test:61613"})
	if err != nil {
		t.Fatalf("stompclient.New() error = %v", err)
	}

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "valid", opts: Options{Link: client, Bus: newFakeBus()}},
		{name: "missing link", opts: Options{Bus: newFakeBus()}, wantErr: true},
		{name: "missing bus", opts: Options{Link: client}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrMissingDependency) {
				t.Errorf("New() error = %v, want ErrMissingDependency", err)
			}
		})
	}
}

// ============================================================
// Start / Stop
// ============================================================

func TestStart_WiresRoutes(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	session := h.start(t)

	subs := session.subscriptions()
	if len(subs) != 1 {
		t.Fatalf("STOMP subscriptions = %d, want 1", len(subs))
	}
	if subs[0].destination != "/topic/orders" {
		t.Errorf("destination = %q, want /topic/orders", subs[0].destination)
	}
	if subs[0].headers["ack"] != "auto" {
		t.Errorf("ack header = %q, want auto", subs[0].headers["ack"])
	}

	for _, topic := range []string{"site/commands", mqtt.Topics{}.Control(testBridgeID)} {
		if !h.bus.subscribed(topic) {
			t.Errorf("MQTT topic %q not subscribed", topic)
		}
	}
}

func TestStart_SubscribeFailureDoesNotActivate(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	h.bus.failSub = "site/commands"

	if err := h.bridge.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want error")
	}
	if got := h.client.State(); got != stompclient.Inactive {
		t.Errorf("State() = %s, want INACTIVE", got)
	}
}

func TestStop(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	session := h.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.bridge.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := h.bridge.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	if got := h.client.State(); got != stompclient.Inactive {
		t.Errorf("State() = %s, want INACTIVE", got)
	}
	if !session.isDisconnected() {
		t.Error("STOMP session not disconnected")
	}
	if h.bus.subscribed("site/commands") || h.bus.subscribed(mqtt.Topics{}.Control(testBridgeID)) {
		t.Error("MQTT topics still subscribed after Stop")
	}
	if got := h.client.Stats().Subscriptions; got != 0 {
		t.Errorf("Subscriptions = %d, want 0", got)
	}
	if got := h.bus.watcherCount(); got != 0 {
		t.Errorf("bus watchers = %d after Stop, want 0", got)
	}

	msgs := h.bus.messages(mqtt.Topics{}.Link(testBridgeID))
	if len(msgs) == 0 {
		t.Fatal("no link status published")
	}
	if last := decodeStatus(t, msgs[len(msgs)-1].payload); last.State != "INACTIVE" {
		t.Errorf("last link state = %s, want INACTIVE", last.State)
	}
}

// ============================================================
// Relaying
// ============================================================

func TestInboundRelay(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	session := h.start(t)

	session.deliver("/topic/orders", `{"order":42}`)

	msgs := h.bus.messages("site/orders")
	if len(msgs) != 1 {
		t.Fatalf("MQTT messages = %d, want 1", len(msgs))
	}
	if string(msgs[0].payload) != `{"order":42}` {
		t.Errorf("payload = %s", msgs[0].payload)
	}
	if msgs[0].qos != 1 || !msgs[0].retained {
		t.Errorf("qos/retained = %d/%v, want 1/true", msgs[0].qos, msgs[0].retained)
	}

	recorded := h.journal.recorded()
	if len(recorded) != 1 {
		t.Fatalf("journal messages = %d, want 1", len(recorded))
	}
	got := recorded[0]
	if got.Direction != journal.Inbound || got.Status != journal.StatusRelayed {
		t.Errorf("journal entry = %s/%s, want inbound/relayed", got.Direction, got.Status)
	}
	if got.Topic != "site/orders" || got.Destination != "/topic/orders" || got.Size != 12 {
		t.Errorf("journal entry = %+v", got)
	}

	points := h.metrics.relayPoints()
	if len(points) != 1 || !points[0].ok || points[0].direction != "inbound" {
		t.Errorf("relay metrics = %+v", points)
	}
}

func TestInboundRelay_PublishFailure(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	session := h.start(t)
	h.bus.setFailTopic("site/orders")

	session.deliver("/topic/orders", "lost")

	recorded := h.journal.recorded()
	if len(recorded) != 1 {
		t.Fatalf("journal messages = %d, want 1", len(recorded))
	}
	if recorded[0].Status != journal.StatusFailed {
		t.Errorf("Status = %s, want failed", recorded[0].Status)
	}
	if recorded[0].Error == "" {
		t.Error("Error is empty")
	}
	if points := h.metrics.relayPoints(); len(points) != 1 || points[0].ok {
		t.Errorf("relay metrics = %+v, want one failed point", points)
	}
}

func TestOutboundRelay(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	session := h.start(t)

	if err := h.bus.deliver("site/commands", []byte("reboot")); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	frames := session.frames()
	if len(frames) != 1 {
		t.Fatalf("STOMP frames = %d, want 1", len(frames))
	}
	f := frames[0]
	if f.destination != "/queue/commands" || f.body != "reboot" {
		t.Errorf("frame = %+v", f)
	}
	if f.headers["persistent"] != "true" {
		t.Errorf("persistent header = %q, want true", f.headers["persistent"])
	}
	if f.headers[HeaderMQTTTopic] != "site/commands" {
		t.Errorf("%s = %q, want site/commands", HeaderMQTTTopic, f.headers[HeaderMQTTTopic])
	}

	recorded := h.journal.recorded()
	if len(recorded) != 1 || recorded[0].Direction != journal.Outbound {
		t.Errorf("journal messages = %+v, want one outbound", recorded)
	}
}

func TestOutboundRelay_RetainedCopyFlagged(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	session := h.start(t)

	if err := h.bus.deliver("site/commands", []byte("live")); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	if err := h.bus.deliverRetained("site/commands", []byte("replayed")); err != nil {
		t.Fatalf("deliverRetained() error = %v", err)
	}

	frames := session.frames()
	if len(frames) != 2 {
		t.Fatalf("STOMP frames = %d, want 2", len(frames))
	}
	if _, ok := frames[0].headers[HeaderMQTTRetained]; ok {
		t.Errorf("live frame carries %s", HeaderMQTTRetained)
	}
	if frames[1].headers[HeaderMQTTRetained] != "true" {
		t.Errorf("%s = %q on retained frame, want true", HeaderMQTTRetained, frames[1].headers[HeaderMQTTRetained])
	}
}

func TestOutboundRelay_QueuedWhileDeactivated(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	h.start(t)

	if err := h.bus.deliver(mqtt.Topics{}.Control(testBridgeID), []byte("deactivate")); err != nil {
		t.Fatalf("control deactivate error = %v", err)
	}
	h.waitState(t, stompclient.Inactive)

	if err := h.bus.deliver("site/commands", []byte("later")); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	if got := h.client.Stats().Queued; got != 1 {
		t.Fatalf("Queued = %d, want 1", got)
	}

	if err := h.bus.deliver(mqtt.Topics{}.Control(testBridgeID), []byte(`{"command":"activate"}`)); err != nil {
		t.Fatalf("control activate error = %v", err)
	}
	h.waitState(t, stompclient.Connected)

	second := h.proto.session(2)
	if second == nil {
		t.Fatal("no second session")
	}
	frames := second.frames()
	if len(frames) != 1 || frames[0].body != "later" {
		t.Errorf("flushed frames = %+v, want [later]", frames)
	}
	if subs := second.subscriptions(); len(subs) != 1 {
		t.Errorf("resubscribed = %d, want 1", len(subs))
	}
}

// ============================================================
// Link reporting
// ============================================================

func TestLinkStatusPublished(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	h.start(t)

	topic := mqtt.Topics{}.Link(testBridgeID)
	waitFor(t, "CONNECTED status", func() bool {
		msgs := h.bus.messages(topic)
		return len(msgs) > 0 && decodeStatus(t, msgs[len(msgs)-1].payload).Connected
	})

	msgs := h.bus.messages(topic)
	var states []string
	for _, m := range msgs {
		if !m.retained {
			t.Errorf("link status not retained")
		}
		states = append(states, decodeStatus(t, m.payload).State)
	}
	want := []string{"INACTIVE", "CONNECTING", "CONNECTED"}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
		}
	}

	last := decodeStatus(t, msgs[len(msgs)-1].payload)
	if last.BridgeID != testBridgeID {
		t.Errorf("BridgeID = %q, want %q", last.BridgeID, testBridgeID)
	}
	if last.ServerHeaders["server"] != "fake-broker/1.0" {
		t.Errorf("server header = %q", last.ServerHeaders["server"])
	}

	waitFor(t, "CONNECTED journal event", func() bool {
		events := h.journal.eventStates()
		return len(events) == 3 && events[2] == "CONNECTED"
	})
}

func TestLinkErrorsPublished(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	session := h.start(t)

	session.events.OnError(errors.New("broker said no"))
	h.waitState(t, stompclient.Connecting)

	msgs := h.bus.messages(mqtt.Topics{}.Errors(testBridgeID))
	if len(msgs) != 1 {
		t.Fatalf("error messages = %d, want 1", len(msgs))
	}
	var linkErr LinkError
	if err := json.Unmarshal(msgs[0].payload, &linkErr); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if linkErr.Error != "broker said no" {
		t.Errorf("Error = %q, want broker said no", linkErr.Error)
	}

	found := false
	for _, state := range h.journal.eventStates() {
		if state == EventError {
			found = true
		}
	}
	if !found {
		t.Error("no ERROR event journaled")
	}
}

func TestBusLossAndRestore(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	h.start(t)

	topic := mqtt.Topics{}.Link(testBridgeID)
	waitFor(t, "CONNECTED status", func() bool {
		msgs := h.bus.messages(topic)
		return len(msgs) > 0 && decodeStatus(t, msgs[len(msgs)-1].payload).Connected
	})
	before := len(h.bus.messages(topic))

	h.bus.setConnected(false, errors.New("broker gone"))
	h.bus.setConnected(true, nil)

	msgs := h.bus.messages(topic)
	if len(msgs) != before+1 {
		t.Fatalf("link status messages = %d, want %d", len(msgs), before+1)
	}
	last := msgs[len(msgs)-1]
	if !last.retained || decodeStatus(t, last.payload).State != "CONNECTED" {
		t.Errorf("republished status = %s (retained %v), want retained CONNECTED",
			decodeStatus(t, last.payload).State, last.retained)
	}

	if got := h.metrics.busStates(); len(got) != 2 || got[0] || !got[1] {
		t.Errorf("bus metric states = %v, want [false true]", got)
	}
	var busEvents []string
	for _, state := range h.journal.eventStates() {
		if state == EventBusDown || state == EventBusUp {
			busEvents = append(busEvents, state)
		}
	}
	if len(busEvents) != 2 || busEvents[0] != EventBusDown || busEvents[1] != EventBusUp {
		t.Errorf("bus journal events = %v, want [BUS_DOWN BUS_UP]", busEvents)
	}
}

func TestReportStats(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	h.start(t)

	h.bridge.reportStats()

	msgs := h.bus.messages(mqtt.Topics{}.Stats(testBridgeID))
	if len(msgs) != 1 {
		t.Fatalf("stats messages = %d, want 1", len(msgs))
	}
	var stats LinkStats
	if err := json.Unmarshal(msgs[0].payload, &stats); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if stats.State != "CONNECTED" || stats.Subscriptions != 1 || stats.Connects != 1 {
		t.Errorf("stats = %+v", stats)
	}

	h.metrics.mu.Lock()
	defer h.metrics.mu.Unlock()
	if len(h.metrics.stats) != 1 || h.metrics.stats[0].Subscriptions != 1 {
		t.Errorf("metric stats = %+v", h.metrics.stats)
	}
}

func TestStatsLoop(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.StatsInterval = 1
	h := newHarness(t, cfg)
	h.start(t)

	waitFor(t, "stats publish", func() bool {
		return len(h.bus.messages(mqtt.Topics{}.Stats(testBridgeID))) > 0
	})
}

// ============================================================
// Control
// ============================================================

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr error
	}{
		{name: "bare activate", payload: "activate", want: CommandActivate},
		{name: "bare deactivate with whitespace", payload: " Deactivate\n", want: CommandDeactivate},
		{name: "json", payload: `{"command":"deactivate"}`, want: CommandDeactivate},
		{name: "unknown", payload: "restart", wantErr: ErrUnknownCommand},
		{name: "empty", payload: "", wantErr: ErrUnknownCommand},
		{name: "bad json", payload: `{"command":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand([]byte(tt.payload))
			if tt.want == "" {
				if err == nil {
					t.Fatalf("parseCommand() = %q, want error", got)
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("parseCommand() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCommand() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestControl_UnknownCommand(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	h.start(t)

	err := h.bus.deliver(mqtt.Topics{}.Control(testBridgeID), []byte("explode"))
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("deliver() error = %v, want ErrUnknownCommand", err)
	}
	if got := h.client.State(); got != stompclient.Connected {
		t.Errorf("State() = %s, want CONNECTED", got)
	}
}

func TestControl_RetainedCommandIgnored(t *testing.T) {
	h := newHarness(t, testBridgeConfig())
	h.start(t)

	if err := h.bus.deliverRetained(mqtt.Topics{}.Control(testBridgeID), []byte("deactivate")); err != nil {
		t.Fatalf("deliverRetained() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if got := h.client.State(); got != stompclient.Connected {
		t.Errorf("State() = %s, want CONNECTED", got)
	}
}
