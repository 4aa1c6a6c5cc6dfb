package stompconn

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/server"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/stomplink/internal/stompclient"
)

// startBroker runs an in-process go-stomp server and returns its address.
func startBroker(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	go func() {
		_ = server.Serve(l) //nolint:errcheck // Returns when the listener closes
	}()
	t.Cleanup(func() { _ = l.Close() })
	return l.Addr().String()
}

// startWebsocketBroker fronts the in-process broker with a websocket endpoint.
func startWebsocketBroker(t *testing.T) (wsURL string, subprotocol <-chan string) {
	t.Helper()
	addr := startBroker(t)
	negotiated := make(chan string, 4)

	upgrader := websocket.Upgrader{Subprotocols: []string{"v12.stomp"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		negotiated <- ws.Subprotocol()

		tcp, err := net.Dial("tcp", addr)
		if err != nil {
			_ = ws.Close()
			return
		}
		wc := newWSConn(ws)
		go func() {
			_, _ = io.Copy(tcp, wc) //nolint:errcheck // Ends when either side closes
			_ = tcp.Close()
		}()
		_, _ = io.Copy(wc, tcp) //nolint:errcheck // Ends when either side closes
		_ = wc.Close()
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", negotiated
}

// eventRecorder captures session events.
type eventRecorder struct {
	disconnects chan error
	errs        chan error
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		disconnects: make(chan error, 4),
		errs:        make(chan error, 4),
	}
}

func (r *eventRecorder) events() stompclient.SessionEvents {
	return stompclient.SessionEvents{
		OnDisconnect: func(err error) { r.disconnects <- err },
		OnError:      func(err error) { r.errs <- err },
	}
}

type debugLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *debugLogger) Debug(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := msg
	for i := 1; i < len(args); i += 2 {
		if s, ok := args[i].(string); ok {
			line += " " + s
		}
	}
	l.lines = append(l.lines, line)
}

func (l *debugLogger) Warn(msg string, _ ...any) { l.Debug(msg) }

func (l *debugLogger) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// roundTrip subscribes, publishes one message and waits for it.
func roundTrip(t *testing.T, sess stompclient.Session, destination string) stompclient.Message {
	t.Helper()
	received := make(chan stompclient.Message, 1)
	id, err := sess.Subscribe(destination, nil, func(m stompclient.Message) {
		select {
		case received <- m:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := sess.Publish(destination, stompclient.Headers{"content-type": "text/plain"}, []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg.SubscriptionID != id {
			t.Errorf("SubscriptionID = %q, want %q", msg.SubscriptionID, id)
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for MESSAGE")
		return stompclient.Message{}
	}
}

// =============================================================================
// Option Mapping Tests
// =============================================================================

func TestParseBrokerURL(t *testing.T) {
	tests := []struct {
		raw     string
		scheme  string
		addr    string
		wantErr bool
	}{
		{raw: "tcp://localhost:61613", scheme: "tcp", addr: "localhost:61613"},
		{raw: "localhost:61613", scheme: "tcp", addr: "localhost:61613"},
		{raw: "ssl://broker:61614", scheme: "tls", addr: "broker:61614"},
		{raw: "tls://broker:61614", scheme: "tls", addr: "broker:61614"},
		{raw: "ws://localhost:15674/ws", scheme: "ws"},
		{raw: "wss://broker/ws", scheme: "ws"},
		{raw: "amqp://broker:5672", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "tcp://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ep, err := parseBrokerURL(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedScheme) {
					t.Fatalf("parseBrokerURL() error = %v, want ErrUnsupportedScheme", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseBrokerURL() error = %v", err)
			}
			if ep.scheme != tt.scheme {
				t.Errorf("scheme = %q, want %q", ep.scheme, tt.scheme)
			}
			if tt.addr != "" && ep.addr != tt.addr {
				t.Errorf("addr = %q, want %q", ep.addr, tt.addr)
			}
			if ep.scheme == "ws" && ep.url != tt.raw {
				t.Errorf("url = %q, want %q", ep.url, tt.raw)
			}
		})
	}
}

func TestToVersions(t *testing.T) {
	got, err := toVersions(nil)
	if err != nil {
		t.Fatalf("toVersions() error = %v", err)
	}
	want := []stomp.Version{stomp.V12, stomp.V11, stomp.V10}
	if len(got) != len(want) {
		t.Fatalf("toVersions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("toVersions()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if _, err := toVersions([]string{"2.0"}); !errors.Is(err, ErrHandshakeFailed) {
		t.Errorf("toVersions(2.0) error = %v, want ErrHandshakeFailed", err)
	}
}

func TestAckMode(t *testing.T) {
	tests := map[string]stomp.AckMode{
		"":                  stomp.AckAuto,
		"auto":              stomp.AckAuto,
		"client":            stomp.AckClient,
		"client-individual": stomp.AckClientIndividual,
	}
	for in, want := range tests {
		if got := ackMode(in); got != want {
			t.Errorf("ackMode(%q) = %v, want %v", in, got, want)
		}
	}
}

// =============================================================================
// Transport Tests
// =============================================================================

type bufferConn struct {
	bytes.Buffer
	closed bool
}

func (b *bufferConn) Close() error {
	b.closed = true
	return nil
}

func TestWatchedConnDebugLogging(t *testing.T) {
	logger := &debugLogger{}
	raw := &bufferConn{}
	raw.WriteString("CONNECTED\nversion:1.2\n\n\x00")

	wc := &watchedConn{rwc: raw, debug: true, logger: func() Logger { return logger }}

	buf := make([]byte, 64)
	if _, err := wc.Read(buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if _, err := wc.Write([]byte("SEND\ndestination:/q\n\nhi\x00")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out := logger.joined()
	if !strings.Contains(out, "STOMP <<< CONNECTED") {
		t.Errorf("debug log missing inbound frame:\n%s", out)
	}
	if !strings.Contains(out, "STOMP >>> SEND") {
		t.Errorf("debug log missing outbound frame:\n%s", out)
	}
}

func TestWatchedConnReportsLossOnce(t *testing.T) {
	raw := &bufferConn{}
	var calls int
	wc := &watchedConn{
		rwc:    raw,
		logger: func() Logger { return nil },
		onLost: func(error) { calls++ },
	}

	buf := make([]byte, 8)
	_, _ = wc.Read(buf)
	_, _ = wc.Read(buf)

	if calls != 1 {
		t.Errorf("onLost calls = %d, want 1", calls)
	}
	if !errors.Is(wc.failure(), io.EOF) {
		t.Errorf("failure() = %v, want EOF", wc.failure())
	}
}

func TestWatchedConnSilentWhenClosing(t *testing.T) {
	raw := &bufferConn{}
	var calls int
	wc := &watchedConn{
		rwc:    raw,
		logger: func() Logger { return nil },
		onLost: func(error) { calls++ },
	}

	_ = wc.Close()
	_, _ = wc.Read(make([]byte, 8))

	if calls != 0 {
		t.Errorf("onLost calls = %d after Close, want 0", calls)
	}
	if !raw.closed {
		t.Error("underlying transport not closed")
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnectTCP(t *testing.T) {
	addr := startBroker(t)
	rec := newEventRecorder()

	sess, err := New().Connect(testContext(t), stompclient.ConnectParams{
		BrokerURL: "tcp://" + addr,
		Versions:  []string{"1.2", "1.1"},
		Headers:   stompclient.Headers{"login": "guest", "passcode": "guest"},
	}, rec.events())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if got := sess.ServerHeaders()["version"]; got != "1.2" {
		t.Errorf("ServerHeaders()[version] = %q, want 1.2", got)
	}

	msg := roundTrip(t, sess, "/queue/tcp-test")
	if string(msg.Body) != "hello" {
		t.Errorf("Body = %q, want hello", msg.Body)
	}
	if msg.Destination != "/queue/tcp-test" {
		t.Errorf("Destination = %q, want /queue/tcp-test", msg.Destination)
	}

	if err := sess.Disconnect(stompclient.Headers{"receipt-note": "ignored"}); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
	if err := sess.Disconnect(nil); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}

	select {
	case err := <-rec.disconnects:
		t.Errorf("OnDisconnect(%v) after a graceful Disconnect", err)
	case <-time.After(100 * time.Millisecond):
	}

	if err := sess.Publish("/queue/tcp-test", nil, []byte("late")); !errors.Is(err, stompclient.ErrNotConnected) {
		t.Errorf("Publish() after Disconnect error = %v, want ErrNotConnected", err)
	}
}

func TestConnectWebsocket(t *testing.T) {
	wsURL, negotiated := startWebsocketBroker(t)

	sess, err := New().Connect(testContext(t), stompclient.ConnectParams{
		BrokerURL: wsURL,
	}, newEventRecorder().events())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Disconnect(nil) //nolint:errcheck // Test cleanup

	select {
	case proto := <-negotiated:
		if proto != "v12.stomp" {
			t.Errorf("subprotocol = %q, want v12.stomp", proto)
		}
	case <-time.After(time.Second):
		t.Fatal("websocket upgrade not observed")
	}

	msg := roundTrip(t, sess, "/queue/ws-test")
	if string(msg.Body) != "hello" {
		t.Errorf("Body = %q, want hello", msg.Body)
	}
}

func TestConnectDetectsTransportLoss(t *testing.T) {
	addr := startBroker(t)
	rec := newEventRecorder()

	var raw net.Conn
	sess, err := New().Connect(testContext(t), stompclient.ConnectParams{
		Transport: func(ctx context.Context) (io.ReadWriteCloser, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", addr)
			raw = conn
			return conn, err
		},
	}, rec.events())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	_ = raw.Close()

	select {
	case <-rec.disconnects:
	case <-time.After(3 * time.Second):
		t.Fatal("OnDisconnect not reported after transport loss")
	}
	_ = sess.Disconnect(nil)
}

func TestConnectHonoursContext(t *testing.T) {
	client, broker := net.Pipe()
	go func() {
		_, _ = io.Copy(io.Discard, broker) //nolint:errcheck // Silent broker
	}()
	defer broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New().Connect(ctx, stompclient.ConnectParams{
		Transport: func(context.Context) (io.ReadWriteCloser, error) { return client, nil },
	}, newEventRecorder().events())

	if !errors.Is(err, ErrHandshakeFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect() error = %v, want ErrHandshakeFailed wrapping DeadlineExceeded", err)
	}
}

func TestConnectDialFailures(t *testing.T) {
	tests := []struct {
		name   string
		params stompclient.ConnectParams
		want   error
	}{
		{
			name:   "unsupported scheme",
			params: stompclient.ConnectParams{BrokerURL: "amqp://localhost:5672"},
			want:   ErrUnsupportedScheme,
		},
		{
			name:   "refused",
			params: stompclient.ConnectParams{BrokerURL: "tcp://127.0.0.1:1"},
			want:   ErrDialFailed,
		},
		{
			name: "transport factory error",
			params: stompclient.ConnectParams{
				Transport: func(context.Context) (io.ReadWriteCloser, error) {
					return nil, errors.New("no route")
				},
			},
			want: ErrDialFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Connect(testContext(t), tt.params, newEventRecorder().events())
			if !errors.Is(err, tt.want) {
				t.Errorf("Connect() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// =============================================================================
// Façade Integration
// =============================================================================

func TestFacadeOverInProcessBroker(t *testing.T) {
	addr := startBroker(t)

	client, err := stompclient.New(New(), stompclient.Config{
		BrokerURL:      "tcp://" + addr,
		ReconnectDelay: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("stompclient.New() error = %v", err)
	}

	received := make(chan string, 4)
	sub := client.Subscribe("/queue/facade", nil)
	sub.Listen(func(msg stompclient.Message) error {
		received <- string(msg.Body)
		return nil
	})
	client.Publish("/queue/facade", nil, []byte("queued before connect"))

	client.Activate()
	ctx := testContext(t)
	if err := client.WaitForState(ctx, stompclient.Connected); err != nil {
		t.Fatalf("WaitForState() error = %v", err)
	}

	select {
	case body := <-received:
		if body != "queued before connect" {
			t.Errorf("received %q", body)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("queued message not delivered")
	}

	if err := client.Deactivate(ctx); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if client.State() != stompclient.Inactive {
		t.Errorf("State() = %s, want INACTIVE", client.State())
	}
}
