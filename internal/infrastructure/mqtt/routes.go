package mqtt

import (
	"fmt"
	"sort"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is one MQTT message delivered to a route handler.
type Message struct {
	Topic   string
	Payload []byte

	// Retained is set when the broker replays its retained copy, which
	// happens on every (re)subscribe.
	Retained bool

	// Duplicate is set on QoS 1/2 redeliveries.
	Duplicate bool
}

// MessageHandler handles the messages of one route. Handlers run on paho's
// delivery goroutine and should return quickly; a returned error is logged.
type MessageHandler func(msg Message) error

type route struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Subscribe routes messages matching a topic filter to handler.
//
// Each filter has at most one handler. Routes are kept by the client and
// re-subscribed after every reconnect, so callers subscribe once.
//
// Parameters:
//   - topic: Topic filter, wildcards allowed (e.g. "site/+/commands")
//   - qos: Maximum QoS for delivered messages (0, 1, or 2)
//   - handler: Callback for each message
//
// Returns:
//   - error: ErrDuplicateRoute, ErrBusDown or ErrSubscribeFailed among others
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic filter", ErrInvalidTopic)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if c.hasRoute(topic) {
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, topic)
	}
	if !c.IsConnected() {
		return ErrBusDown
	}

	c.routesMu.Lock()
	if _, exists := c.routes[topic]; exists {
		c.routesMu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, topic)
	}
	c.routes[topic] = route{topic: topic, qos: qos, handler: handler}
	c.routesMu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), defaultPublishTimeout); err != nil {
		c.dropRoute(topic)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Unsubscribe removes a route. The route is forgotten even when the broker
// cannot be reached, so it is not restored on the next reconnect.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic filter", ErrInvalidTopic)
	}

	c.dropRoute(topic)
	if !c.IsConnected() {
		return ErrBusDown
	}

	if err := await(c.client.Unsubscribe(topic), defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}
	return nil
}

// Routes returns the routed topic filters in sorted order.
func (c *Client) Routes() []string {
	snapshot := c.routeSnapshot()
	topics := make([]string, len(snapshot))
	for i, r := range snapshot {
		topics[i] = r.topic
	}
	return topics
}

// restoreRoutes re-subscribes every route after a reconnect. Clean sessions
// drop broker-side subscriptions, so this runs on every connect.
func (c *Client) restoreRoutes() {
	for _, r := range c.routeSnapshot() {
		if err := await(c.client.Subscribe(r.topic, r.qos, c.wrapHandler(r.handler)), defaultPublishTimeout); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT route restore failed",
					"topic", r.topic,
					"error", err,
				)
			}
		}
	}
}

func (c *Client) routeSnapshot() []route {
	c.routesMu.RLock()
	out := make([]route, 0, len(c.routes))
	for _, r := range c.routes {
		out = append(out, r)
	}
	c.routesMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].topic < out[j].topic })
	return out
}

func (c *Client) routeCount() int {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()
	return len(c.routes)
}

func (c *Client) hasRoute(topic string) bool {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()
	_, ok := c.routes[topic]
	return ok
}

func (c *Client) dropRoute(topic string) {
	c.routesMu.Lock()
	delete(c.routes, topic)
	c.routesMu.Unlock()
}

// wrapHandler adapts a route handler to paho with panic recovery.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, m pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT route handler panic recovered",
						"topic", m.Topic(),
						"panic", r,
					)
				}
			}
		}()

		msg := Message{
			Topic:     m.Topic(),
			Payload:   m.Payload(),
			Retained:  m.Retained(),
			Duplicate: m.Duplicate(),
		}
		if err := handler(msg); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT route handler failed",
					"topic", msg.Topic,
					"retained", msg.Retained,
					"error", err,
				)
			}
		}
	}
}
