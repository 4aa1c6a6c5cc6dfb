package influxdb

import "errors"

// Errors reported by the metrics client. Check with errors.Is():
//
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // Run without metrics
//	}
var (
	// ErrDisabled is returned by Connect when metrics are off in config.
	ErrDisabled = errors.New("influxdb: metrics disabled in configuration")

	// ErrConnectionFailed is returned when the server cannot be reached at startup.
	ErrConnectionFailed = errors.New("influxdb: metrics server unreachable")

	// ErrUnhealthy is returned when the server answers but reports itself unhealthy.
	ErrUnhealthy = errors.New("influxdb: metrics server unhealthy")

	// ErrClosed is returned by HealthCheck after Close. Writes after Close
	// are dropped silently.
	ErrClosed = errors.New("influxdb: metrics client closed")
)
