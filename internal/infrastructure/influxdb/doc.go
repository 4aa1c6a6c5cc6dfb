// Package influxdb records STOMP link metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched metric writing and health monitoring.
//
// # Measurements
//
//   - stomp_link: one point per link state transition
//   - stomp_link_stats: periodic queue, subscription and reconnect counters
//   - stomp_relay: one point per relayed message
//   - mqtt_bus: one point per MQTT broker loss or restore
//
// All points carry the bridge_id default tag given to Connect.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Bridge.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics off
//	}
//	defer client.Close()
//
//	client.WriteLinkState("CONNECTED", true)
//
// # Error Handling
//
// Writes are non-blocking. Failed batches are counted (WriteErrors) and
// logged through SetLogger. Connection and health check errors are
// returned directly.
package influxdb
