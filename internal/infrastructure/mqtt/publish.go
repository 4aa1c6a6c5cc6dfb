package mqtt

import (
	"fmt"
	"strings"
)

// maxPayloadSize is the largest body relayed onto the bus (1MB), in line
// with common broker limits.
const maxPayloadSize = 1 << 20

// Publish sends one message and waits for the broker acknowledgment.
//
// It carries both inbound relays (topic from the route) and the bridge's
// own status topics. Status topics are published retained so late
// subscribers see the current link state; relays are retained only when
// the route asks for it.
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrPayloadTooLarge, ErrBusDown
//     or ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrBusDown
	}

	if err := await(c.client.Publish(topic, qos, retained, payload), defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// validatePublishTopic rejects empty topics and wildcards, which brokers
// only accept in subscription filters.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
