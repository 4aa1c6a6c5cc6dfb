package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/stomplink/internal/infrastructure/config"
	"github.com/nerrad567/stomplink/internal/infrastructure/influxdb"
	"github.com/nerrad567/stomplink/internal/infrastructure/mqtt"
	"github.com/nerrad567/stomplink/internal/journal"
	"github.com/nerrad567/stomplink/internal/stompclient"
)

const (
	// controlQoS is the QoS of the control topic subscription.
	controlQoS = 1

	// statusQoS is the QoS of link status and error publishes.
	statusQoS = 1

	// controlDeactivateTimeout bounds a deactivate requested over MQTT.
	controlDeactivateTimeout = 30 * time.Second
)

// Link is the STOMP side of the bridge. *stompclient.Client satisfies it.
type Link interface {
	Activate()
	Deactivate(ctx context.Context) error
	Publish(destination string, headers stompclient.Headers, body []byte)
	Subscribe(destination string, headers stompclient.Headers) *stompclient.Subscription
	WatchState(fn func(stompclient.ConnectionState)) (stop func())
	WatchErrors(fn func(error)) (stop func())
	ServerHeaders() (stompclient.Headers, bool)
	Stats() stompclient.Stats
}

// Bus is the MQTT side of the bridge. *mqtt.Client satisfies it.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	WatchConnection(fn mqtt.ConnectionWatcher) (stop func())
}

// Journal records link events and relayed messages. *journal.SQLiteRepository satisfies it.
type Journal interface {
	RecordEvent(ctx context.Context, event *journal.Event) error
	RecordMessage(ctx context.Context, msg *journal.Message) error
}

// Metrics receives link metrics, tagged with the bridge id by the
// implementation. *influxdb.Client satisfies it.
type Metrics interface {
	WriteLinkState(state string, connected bool)
	WriteLinkStats(stats influxdb.LinkStats)
	WriteRelay(direction, destination string, size int, ok bool)
	WriteBusState(connected bool)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds the collaborators of a Bridge.
type Options struct {
	// Config is the bridge section of config.yaml.
	Config config.BridgeConfig

	// Link is the STOMP client. Required.
	Link Link

	// Bus is the MQTT client. Required.
	Bus Bus

	// Journal is optional; nil disables journaling.
	Journal Journal

	// Metrics is optional; nil disables InfluxDB metrics.
	Metrics Metrics

	// Logger is optional.
	Logger Logger
}

// Bridge relays between the STOMP link and the MQTT bus.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg     config.BridgeConfig
	link    Link
	bus     Bus
	journal Journal
	metrics Metrics
	logger  Logger

	// Resources released by Stop.
	stops     []func()
	busTopics []string
	subs      []*stompclient.Subscription
	stopping  bool
	mu        sync.Mutex

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a bridge. Call Start to subscribe routes and activate the link.
func New(opts Options) (*Bridge, error) {
	if opts.Link == nil {
		return nil, fmt.Errorf("%w: link", ErrMissingDependency)
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("%w: bus", ErrMissingDependency)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		cfg:       opts.Config,
		link:      opts.Link,
		bus:       opts.Bus,
		journal:   opts.Journal,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		ctx:       ctx,
		ctxCancel: cancel,
	}, nil
}

// Start wires the routes and activates the link.
//
// It performs the following steps:
//  1. Watches MQTT connectivity, link state and errors (the current link
//     state is reported at once)
//  2. Subscribes every inbound route on the link, before it is active
//  3. Subscribes every outbound route and the control topic on the bus
//  4. Starts the statistics loop
//  5. Activates the link
//
// Returns:
//   - error: If an MQTT subscription fails; the link is not activated then
func (b *Bridge) Start(ctx context.Context) error {
	var err error
	b.startOnce.Do(func() {
		err = b.start(ctx)
	})
	return err
}

func (b *Bridge) start(_ context.Context) error {
	b.addStop(b.bus.WatchConnection(b.handleBus))
	b.addStop(b.link.WatchState(b.handleState))
	b.addStop(b.link.WatchErrors(b.handleLinkError))

	for _, route := range b.cfg.Inbound {
		sub := b.link.Subscribe(route.Destination, stompclient.Headers(route.Headers))
		b.addStop(sub.Listen(b.inboundHandler(route)))
		b.mu.Lock()
		b.subs = append(b.subs, sub)
		b.mu.Unlock()
		b.logInfo("inbound route registered", "destination", route.Destination, "topic", route.Topic)
	}

	for _, route := range b.cfg.Outbound {
		if err := b.subscribeBus(route.Topic, byte(route.QoS), b.outboundHandler(route)); err != nil { //nolint:gosec // QoS validated by config
			return fmt.Errorf("subscribing outbound route %s: %w", route.Topic, err)
		}
		b.logInfo("outbound route registered", "topic", route.Topic, "destination", route.Destination)
	}

	if err := b.subscribeBus(mqtt.Topics{}.Control(b.cfg.ID), controlQoS, b.handleControl); err != nil {
		return fmt.Errorf("subscribing control topic: %w", err)
	}

	if interval := time.Duration(b.cfg.StatsInterval) * time.Second; interval > 0 {
		b.wg.Add(1)
		go b.statsLoop(interval)
	}

	b.link.Activate()
	b.logInfo("bridge started",
		"bridge_id", b.cfg.ID,
		"inbound", len(b.cfg.Inbound),
		"outbound", len(b.cfg.Outbound))
	return nil
}

// Stop deactivates the link and releases every route.
// The final INACTIVE state is still reported before watchers are removed.
func (b *Bridge) Stop(ctx context.Context) error {
	var err error
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopping = true
		topics := b.busTopics
		b.busTopics = nil
		b.mu.Unlock()
		for _, topic := range topics {
			if uerr := b.bus.Unsubscribe(topic); uerr != nil {
				b.logWarn("MQTT unsubscribe failed", "topic", topic, "error", uerr)
			}
		}

		if derr := b.link.Deactivate(ctx); derr != nil {
			err = fmt.Errorf("deactivating link: %w", derr)
		}

		b.ctxCancel()
		b.wg.Wait()

		b.mu.Lock()
		stops, subs := b.stops, b.subs
		b.stops, b.subs = nil, nil
		b.mu.Unlock()
		for _, stop := range stops {
			stop()
		}
		for _, sub := range subs {
			sub.Unsubscribe()
		}

		b.logInfo("bridge stopped", "bridge_id", b.cfg.ID)
	})
	return err
}

func (b *Bridge) subscribeBus(topic string, qos byte, handler mqtt.MessageHandler) error {
	if err := b.bus.Subscribe(topic, qos, handler); err != nil {
		return err
	}
	b.mu.Lock()
	b.busTopics = append(b.busTopics, topic)
	b.mu.Unlock()
	return nil
}

func (b *Bridge) addStop(stop func()) {
	b.mu.Lock()
	b.stops = append(b.stops, stop)
	b.mu.Unlock()
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}

func (b *Bridge) logError(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Error(msg, args...)
	}
}
