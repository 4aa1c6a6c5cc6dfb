// stomplink - STOMP to MQTT bridge
//
// stomplink keeps a supervised connection to a STOMP broker and relays
// messages between it and the local MQTT bus:
//   - Subscriptions survive reconnects and are restored automatically
//   - Outbound messages are queued while the broker is unreachable
//   - Link state, errors and statistics are published on MQTT
//   - Link events and relayed messages are journaled to SQLite
//   - Metrics are written to InfluxDB when enabled
//   - An optional JWT-protected HTTP API reports and controls the link
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/stomplink/migrations"

	"github.com/nerrad567/stomplink/internal/api"
	"github.com/nerrad567/stomplink/internal/audit"
	"github.com/nerrad567/stomplink/internal/bridge"
	"github.com/nerrad567/stomplink/internal/infrastructure/config"
	"github.com/nerrad567/stomplink/internal/infrastructure/database"
	"github.com/nerrad567/stomplink/internal/infrastructure/influxdb"
	"github.com/nerrad567/stomplink/internal/infrastructure/logging"
	"github.com/nerrad567/stomplink/internal/infrastructure/mqtt"
	"github.com/nerrad567/stomplink/internal/infrastructure/stompconn"
	"github.com/nerrad567/stomplink/internal/journal"
	"github.com/nerrad567/stomplink/internal/stompclient"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds the graceful STOMP disconnect on exit.
const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to config.yaml
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting stomplink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	journalRepo := journal.NewSQLiteRepository(db.DB)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB is optional; a nil client disables bridge metrics.
	var metrics bridge.Metrics
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Bridge.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetLogger(log.Component("influxdb"))
		metrics = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	link, err := newLink(cfg, mqttClient, log)
	if err != nil {
		return fmt.Errorf("creating STOMP client: %w", err)
	}

	br, err := bridge.New(bridge.Options{
		Config:  cfg.Bridge,
		Link:    link,
		Bus:     mqttClient,
		Journal: journalRepo,
		Metrics: metrics,
		Logger:  log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := br.Start(ctx); err != nil {
		stopBridge(br, log)
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer stopBridge(br, log)

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Link:     link,
			Journal:  journalRepo,
			Audit:    audit.NewSQLiteRepository(db.DB),
			BridgeID: cfg.Bridge.ID,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"broker_url", cfg.STOMP.BrokerURL,
		"bridge_id", cfg.Bridge.ID,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server (if enabled)
	// 2. Bridge (STOMP disconnect)
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	return nil
}

// getConfigPath returns the default for the --config flag.
// Uses STOMPLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("STOMPLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthChecker is anything that can verify its connection.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The STOMP link is supervised by the bridge; its state is published
	// on MQTT instead of gating startup.
	return nil
}

// newLink builds the supervised STOMP client over the go-stomp protocol client.
func newLink(cfg *config.Config, bus healthChecker, log *logging.Logger) (*stompclient.Client, error) {
	proto := stompconn.New()
	proto.SetLogger(log.Component("stompconn"))

	var client *stompclient.Client
	base := stompClientConfig(cfg)
	base.BeforeConnect = beforeConnect(cfg.STOMP, base, bus, func(next stompclient.Config) error {
		return client.Configure(next)
	})

	client, err := stompclient.New(proto, base)
	if err != nil {
		return nil, err
	}
	client.SetLogger(log.Component("stomp"))
	return client, nil
}

// stompClientConfig maps the stomp section of config.yaml onto a client Config.
func stompClientConfig(cfg *config.Config) stompclient.Config {
	return stompclient.Config{
		BrokerURL:         cfg.STOMP.BrokerURL,
		Versions:          cfg.STOMP.Versions,
		ConnectHeaders:    stompclient.Headers(cfg.STOMP.ConnectHeaders()),
		DisconnectHeaders: stompclient.Headers(cfg.STOMP.DisconnectHeaders),
		HeartbeatIncoming: cfg.GetHeartbeatIncoming(),
		HeartbeatOutgoing: cfg.GetHeartbeatOutgoing(),
		ReconnectDelay:    cfg.GetReconnectDelay(),
		Debug:             cfg.STOMP.Debug,
	}
}

// beforeConnect returns the hook run before every STOMP connection attempt.
//
// The attempt is held back while the MQTT bus is unhealthy, since inbound
// messages would have nowhere to go. When a credentials file is configured
// it is re-read and the resulting CONNECT headers are applied to this
// attempt through configure.
func beforeConnect(stomp config.STOMPConfig, base stompclient.Config, bus healthChecker, configure func(stompclient.Config) error) stompclient.BeforeConnectHook {
	var hook stompclient.BeforeConnectHook
	hook = func(ctx context.Context) error {
		if err := bus.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt not ready: %w", err)
		}
		if stomp.CredentialsFile == "" {
			return nil
		}

		creds, err := config.LoadCredentials(stomp.CredentialsFile)
		if err != nil {
			return err
		}
		// Hooks of abandoned attempts may still be running; each call works
		// on its own copy and never configures once cancelled.
		attempt := stomp
		attempt.Login = creds.Login
		attempt.Passcode = creds.Passcode
		if err := ctx.Err(); err != nil {
			return err
		}

		next := base
		next.ConnectHeaders = stompclient.Headers(attempt.ConnectHeaders())
		next.BeforeConnect = hook
		return configure(next)
	}
	return hook
}

// stopBridge stops the bridge with a bounded disconnect.
func stopBridge(br *bridge.Bridge, log *logging.Logger) {
	log.Info("stopping bridge")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := br.Stop(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("STOMP disconnect did not complete in time", "timeout", shutdownTimeout)
			return
		}
		log.Error("error stopping bridge", "error", err)
	}
}
