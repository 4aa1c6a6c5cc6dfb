// Package bridge relays messages between a STOMP broker and the MQTT bus.
//
// The STOMP side goes through a stompclient.Client, so the bridge inherits its
// lifecycle guarantees:
//   - Inbound routes (STOMP destination → MQTT topic) are subscribed before
//     the link is activated and survive every reconnect.
//   - Outbound routes (MQTT topic → STOMP destination) publish through the
//     client and are queued while the link is down.
//
// Besides relaying, the bridge reports on the link:
//   - Every state transition is published retained to stomplink/{id}/link,
//     recorded in the journal and written to InfluxDB.
//   - STOMP errors are published to stomplink/{id}/errors.
//   - Link statistics are published and written every stats interval.
//   - "activate" and "deactivate" on stomplink/{id}/control drive the link.
//
// Journal and metrics sinks are optional.
package bridge
