package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	measurementLinkState = "stomp_link"
	measurementLinkStats = "stomp_link_stats"
	measurementRelay     = "stomp_relay"
	measurementBusState  = "mqtt_bus"
)

// LinkStats is a snapshot of the STOMP link counters.
type LinkStats struct {
	Subscriptions int
	Queued        int
	Dropped       uint64
	Connects      uint64
	Reconnects    uint64
}

// WriteLinkState records a STOMP link state transition.
//
// Parameters:
//   - state: New link state (e.g. "CONNECTED")
//   - connected: Whether the link can carry traffic in this state
func (c *Client) WriteLinkState(state string, connected bool) {
	c.write(measurementLinkState, nil, map[string]interface{}{
		"state":     state,
		"connected": connected,
	})
}

// WriteLinkStats records the periodic link counters.
//
// Example:
//
//	client.WriteLinkStats(influxdb.LinkStats{Queued: 3, Connects: 1})
func (c *Client) WriteLinkStats(stats LinkStats) {
	c.write(measurementLinkStats, nil, map[string]interface{}{
		"subscriptions": stats.Subscriptions,
		"queued":        stats.Queued,
		"dropped":       int64(stats.Dropped),    //nolint:gosec // Counter never nears int64 range
		"connects":      int64(stats.Connects),   //nolint:gosec // Counter never nears int64 range
		"reconnects":    int64(stats.Reconnects), //nolint:gosec // Counter never nears int64 range
	})
}

// WriteRelay records one relayed message.
//
// Parameters:
//   - direction: "inbound" (STOMP to MQTT) or "outbound" (MQTT to STOMP)
//   - destination: STOMP destination of the route
//   - size: Body size in bytes
//   - ok: Whether the relay succeeded
func (c *Client) WriteRelay(direction, destination string, size int, ok bool) {
	c.write(measurementRelay,
		map[string]string{
			"direction":   direction,
			"destination": destination,
		},
		map[string]interface{}{
			"bytes": size,
			"ok":    ok,
		},
	)
}

// WriteBusState records an MQTT broker loss or restore, along with the
// running count of failed metric batches.
func (c *Client) WriteBusState(connected bool) {
	c.write(measurementBusState, nil, map[string]interface{}{
		"connected":     connected,
		"metric_errors": int64(c.WriteErrors()), //nolint:gosec // Counter never nears int64 range
	})
}

// write queues one point. The bridge_id tag is added by the client options.
func (c *Client) write(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
