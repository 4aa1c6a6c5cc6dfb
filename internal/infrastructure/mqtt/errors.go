package mqtt

import "errors"

// Errors reported by the bridge's MQTT side. Check with errors.Is().
var (
	// ErrBusDown is returned while the broker connection is lost. Paho keeps
	// reconnecting in the background; HealthCheck wraps the loss reason.
	ErrBusDown = errors.New("mqtt: bus not connected")

	// ErrConnectionFailed is returned when the broker cannot be reached at startup.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	// ErrPublishFailed is returned when the broker does not acknowledge a publish.
	ErrPublishFailed = errors.New("mqtt: publish not acknowledged")

	// ErrPayloadTooLarge is returned for bodies above the relay limit.
	ErrPayloadTooLarge = errors.New("mqtt: payload exceeds relay limit")

	// ErrSubscribeFailed is returned when a route subscription is refused or times out.
	ErrSubscribeFailed = errors.New("mqtt: route subscription failed")

	// ErrUnsubscribeFailed is returned when removing a route subscription fails.
	ErrUnsubscribeFailed = errors.New("mqtt: route unsubscribe failed")

	// ErrDuplicateRoute is returned when a topic filter already has a handler.
	ErrDuplicateRoute = errors.New("mqtt: topic filter already routed")

	// ErrInvalidQoS is returned for QoS levels other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for empty topics, and for wildcards in a
	// publish topic.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
