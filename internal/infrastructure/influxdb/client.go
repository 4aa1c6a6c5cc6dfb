package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/stomplink/internal/infrastructure/config"
)

// Default timeouts and batching for the metrics client.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// millisecondsPerSecond converts seconds to milliseconds for the InfluxDB API.
	millisecondsPerSecond = 1000

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	// tagBridgeID is added to every point written by this client.
	tagBridgeID = "bridge_id"
)

// Client writes STOMP link and MQTT bus metrics for one bridge.
//
// Writes are batched and non-blocking. Every point carries the bridge id
// as a default tag. Batch failures are counted and logged rather than
// returned, so a metrics outage never slows the relay path.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig
	bridgeID string

	closed bool
	mu     sync.RWMutex

	writeErrors atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

// Connect creates the metrics client for a bridge and verifies the server.
//
// Parameters:
//   - cfg: InfluxDB configuration from config.yaml
//   - bridgeID: Value of the bridge_id tag on every point
//
// Returns:
//   - *Client: Client ready for writes
//   - error: ErrDisabled, ErrConnectionFailed or ErrUnhealthy
func Connect(cfg config.InfluxDBConfig, bridgeID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- values validated above to be positive
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushInterval) * millisecondsPerSecond).
		AddDefaultTag(tagBridgeID, bridgeID)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, err
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:      cfg,
		bridgeID: bridgeID,
	}
	go c.drainWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// ping checks reachability and health, mapping each failure to its sentinel.
func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

// drainWriteErrors counts and logs batch failures until the write API closes.
func (c *Client) drainWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		failures := c.writeErrors.Add(1)
		if logger := c.getLogger(); logger != nil {
			logger.Warn("InfluxDB batch write failed",
				"bridge_id", c.bridgeID,
				"failures", failures,
				"error", err,
			)
		}
	}
}

// WriteErrors returns the number of failed batch writes so far.
func (c *Client) WriteErrors() uint64 {
	return c.writeErrors.Load()
}

// Close flushes pending points and closes the client. Later calls are no-ops.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrClosed
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	return ping(checkCtx, c.client)
}

// IsConnected reports whether the client is open for writes.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil && !c.closed
}

// SetLogger sets a logger for batch write failures.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Flush sends buffered points now. It is a no-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
