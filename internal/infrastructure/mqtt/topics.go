package mqtt

import "fmt"

// TopicPrefix is the base of every topic stomplink owns.
//
// Bridged traffic uses whatever topics the routes name; only the bridge's
// own status and control topics live under this prefix:
//
//	stomplink/{bridge_id}/{status|link|stats|errors|control}
const TopicPrefix = "stomplink"

// Topics provides builders for stomplink MQTT topics.
//
//	topics := mqtt.Topics{}
//	linkTopic := topics.Link("stomplink-01")
//	// Returns: "stomplink/stomplink-01/link"
type Topics struct{}

// Status returns the process presence topic, also used as the LWT topic.
//
// Example: stomplink/stomplink-01/status
func (Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, clientID)
}

// Link returns the retained STOMP link state topic.
//
// Example: stomplink/stomplink-01/link
func (Topics) Link(bridgeID string) string {
	return fmt.Sprintf("%s/%s/link", TopicPrefix, bridgeID)
}

// Stats returns the periodic link statistics topic.
//
// Example: stomplink/stomplink-01/stats
func (Topics) Stats(bridgeID string) string {
	return fmt.Sprintf("%s/%s/stats", TopicPrefix, bridgeID)
}

// Errors returns the topic STOMP errors are reported on.
//
// Example: stomplink/stomplink-01/errors
func (Topics) Errors(bridgeID string) string {
	return fmt.Sprintf("%s/%s/errors", TopicPrefix, bridgeID)
}

// Control returns the topic the bridge accepts link commands on.
//
// Example: stomplink/stomplink-01/control
func (Topics) Control(bridgeID string) string {
	return fmt.Sprintf("%s/%s/control", TopicPrefix, bridgeID)
}

// AllLinks returns a pattern matching every bridge's link state.
//
// Pattern: stomplink/+/link
func (Topics) AllLinks() string {
	return fmt.Sprintf("%s/+/link", TopicPrefix)
}

// AllTopics returns a pattern matching all stomplink topics.
//
// Pattern: stomplink/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
