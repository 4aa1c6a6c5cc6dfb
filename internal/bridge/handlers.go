package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/stomplink/internal/infrastructure/config"
	"github.com/nerrad567/stomplink/internal/infrastructure/influxdb"
	"github.com/nerrad567/stomplink/internal/infrastructure/mqtt"
	"github.com/nerrad567/stomplink/internal/journal"
	"github.com/nerrad567/stomplink/internal/stompclient"
)

// Control commands accepted on stomplink/{id}/control.
const (
	CommandActivate   = "activate"
	CommandDeactivate = "deactivate"
)

// Headers added to outbound STOMP frames.
const (
	// HeaderMQTTTopic carries the source MQTT topic.
	HeaderMQTTTopic = "x-mqtt-topic"

	// HeaderMQTTRetained is "true" when the message is the broker's retained
	// copy, replayed because the route was (re)subscribed.
	HeaderMQTTRetained = "x-mqtt-retained"
)

// Journal event states recorded besides the link states.
const (
	EventError   = "ERROR"
	EventBusDown = "BUS_DOWN"
	EventBusUp   = "BUS_UP"
)

// LinkStatus is the retained payload published on every state transition.
type LinkStatus struct {
	BridgeID      string            `json:"bridge_id"`
	State         string            `json:"state"`
	Connected     bool              `json:"connected"`
	ServerHeaders map[string]string `json:"server_headers,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// LinkError is the payload published for each STOMP error.
type LinkError struct {
	BridgeID  string    `json:"bridge_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// LinkStats is the payload published every stats interval.
type LinkStats struct {
	BridgeID      string    `json:"bridge_id"`
	State         string    `json:"state"`
	Subscriptions int       `json:"subscriptions"`
	Queued        int       `json:"queued"`
	Dropped       uint64    `json:"dropped"`
	Connects      uint64    `json:"connects"`
	Reconnects    uint64    `json:"reconnects"`
	Timestamp     time.Time `json:"timestamp"`
}

// controlCommand is the JSON form of a control payload. A bare
// "activate" or "deactivate" string is accepted too.
type controlCommand struct {
	Command string `json:"command"`
}

// inboundHandler relays STOMP messages of one route onto MQTT.
func (b *Bridge) inboundHandler(route config.InboundRoute) stompclient.MessageHandler {
	return func(msg stompclient.Message) error {
		err := b.bus.Publish(route.Topic, msg.Body, byte(route.QoS), route.Retained) //nolint:gosec // QoS validated by config
		b.recordRelay(journal.Inbound, msg.Destination, route.Topic, len(msg.Body), err)
		if err != nil {
			return fmt.Errorf("relaying %s to %s: %w", msg.Destination, route.Topic, err)
		}
		return nil
	}
}

// outboundHandler relays MQTT messages of one route to STOMP. The link
// queues the frame while disconnected, so the relay is recorded as done.
func (b *Bridge) outboundHandler(route config.OutboundRoute) mqtt.MessageHandler {
	return func(msg mqtt.Message) error {
		headers := stompclient.Headers(route.Headers).Clone()
		headers[HeaderMQTTTopic] = msg.Topic
		if msg.Retained {
			headers[HeaderMQTTRetained] = "true"
		}
		b.link.Publish(route.Destination, headers, msg.Payload)
		b.recordRelay(journal.Outbound, route.Destination, msg.Topic, len(msg.Payload), nil)
		return nil
	}
}

// recordRelay journals a relayed message and writes its metric.
func (b *Bridge) recordRelay(dir journal.Direction, destination, topic string, size int, relayErr error) {
	ok := relayErr == nil
	if b.metrics != nil {
		b.metrics.WriteRelay(string(dir), destination, size, ok)
	}
	if b.journal == nil {
		return
	}

	entry := &journal.Message{
		BridgeID:    b.cfg.ID,
		Direction:   dir,
		Destination: destination,
		Topic:       topic,
		Size:        size,
		Status:      journal.StatusRelayed,
	}
	if !ok {
		entry.Status = journal.StatusFailed
		entry.Error = relayErr.Error()
	}
	if err := b.journal.RecordMessage(b.ctx, entry); err != nil {
		b.logWarn("journal message failed", "destination", destination, "error", err)
	}
}

// handleState reports a link state transition.
func (b *Bridge) handleState(state stompclient.ConnectionState) {
	status := b.publishLinkStatus(state)

	if b.metrics != nil {
		b.metrics.WriteLinkState(status.State, status.Connected)
	}

	detail := ""
	if server := status.ServerHeaders["server"]; server != "" {
		detail = "server " + server
	}
	b.recordEvent(status.State, detail)

	b.logInfo("STOMP link state", "bridge_id", b.cfg.ID, "state", status.State)
}

// publishLinkStatus publishes the retained link status for state.
func (b *Bridge) publishLinkStatus(state stompclient.ConnectionState) LinkStatus {
	connected := state == stompclient.Connected
	status := LinkStatus{
		BridgeID:  b.cfg.ID,
		State:     state.String(),
		Connected: connected,
		Timestamp: time.Now().UTC(),
	}
	if connected {
		if headers, ok := b.link.ServerHeaders(); ok {
			status.ServerHeaders = headers
		}
	}

	b.publishJSON(mqtt.Topics{}.Link(b.cfg.ID), status, true)
	return status
}

// handleBus reports MQTT broker connectivity. Status publishes made while
// the bus was down are lost, so the current link status is republished
// once it returns.
func (b *Bridge) handleBus(connected bool, err error) {
	if b.metrics != nil {
		b.metrics.WriteBusState(connected)
	}

	if !connected {
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		b.logWarn("MQTT bus lost, inbound relays fail until it returns", "bridge_id", b.cfg.ID, "error", err)
		b.recordEvent(EventBusDown, detail)
		return
	}

	b.logInfo("MQTT bus restored", "bridge_id", b.cfg.ID)
	b.recordEvent(EventBusUp, "")
	b.publishLinkStatus(b.link.Stats().State)
}

// handleLinkError reports a transport, protocol or hook error.
func (b *Bridge) handleLinkError(err error) {
	b.logWarn("STOMP link error", "bridge_id", b.cfg.ID, "error", err)
	b.publishJSON(mqtt.Topics{}.Errors(b.cfg.ID), LinkError{
		BridgeID:  b.cfg.ID,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}, false)
	b.recordEvent(EventError, err.Error())
}

func (b *Bridge) recordEvent(state, detail string) {
	if b.journal == nil {
		return
	}
	err := b.journal.RecordEvent(b.ctx, &journal.Event{
		BridgeID: b.cfg.ID,
		State:    state,
		Detail:   detail,
	})
	if err != nil {
		b.logWarn("journal event failed", "state", state, "error", err)
	}
}

// handleControl applies a command received on the control topic. A
// retained command is replayed on every resubscribe, so it is never applied.
func (b *Bridge) handleControl(msg mqtt.Message) error {
	if msg.Retained {
		b.logWarn("ignoring retained control message", "topic", msg.Topic)
		return nil
	}

	cmd, err := parseCommand(msg.Payload)
	if err != nil {
		b.logWarn("ignoring control message", "error", err)
		return err
	}

	switch cmd {
	case CommandActivate:
		b.logInfo("control: activating STOMP link", "bridge_id", b.cfg.ID)
		b.link.Activate()
	case CommandDeactivate:
		b.logInfo("control: deactivating STOMP link", "bridge_id", b.cfg.ID)
		// Deactivate waits for teardown; keep the MQTT handler goroutine free.
		b.goTracked(func() {
			ctx, cancel := context.WithTimeout(context.Background(), controlDeactivateTimeout)
			defer cancel()
			if derr := b.link.Deactivate(ctx); derr != nil {
				b.logError("control: deactivate failed", "error", derr)
			}
		})
	}
	return nil
}

// goTracked runs fn on a goroutine Stop waits for. It does nothing once
// Stop has begun.
func (b *Bridge) goTracked(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

func parseCommand(payload []byte) (string, error) {
	raw := strings.TrimSpace(string(payload))
	cmd := raw
	if strings.HasPrefix(raw, "{") {
		var c controlCommand
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return "", fmt.Errorf("parsing control payload: %w", err)
		}
		cmd = c.Command
	}

	cmd = strings.ToLower(strings.TrimSpace(cmd))
	switch cmd {
	case CommandActivate, CommandDeactivate:
		return cmd, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

// statsLoop publishes link statistics until Stop.
func (b *Bridge) statsLoop(interval time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.reportStats()
		}
	}
}

// reportStats publishes one statistics snapshot.
func (b *Bridge) reportStats() {
	s := b.link.Stats()
	if b.metrics != nil {
		b.metrics.WriteLinkStats(influxdb.LinkStats{
			Subscriptions: s.Subscriptions,
			Queued:        s.Queued,
			Dropped:       s.Dropped,
			Connects:      s.Connects,
			Reconnects:    s.Reconnects,
		})
	}
	b.publishJSON(mqtt.Topics{}.Stats(b.cfg.ID), LinkStats{
		BridgeID:      b.cfg.ID,
		State:         s.State.String(),
		Subscriptions: s.Subscriptions,
		Queued:        s.Queued,
		Dropped:       s.Dropped,
		Connects:      s.Connects,
		Reconnects:    s.Reconnects,
		Timestamp:     time.Now().UTC(),
	}, false)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("marshalling payload", "topic", topic, "error", err)
		return
	}
	if err := b.bus.Publish(topic, payload, statusQoS, retained); err != nil {
		b.logWarn("MQTT publish failed", "topic", topic, "error", err)
	}
}
