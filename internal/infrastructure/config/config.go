package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// minJWTSecretLength is the shortest accepted HS256 signing secret.
const minJWTSecretLength = 32

// Config is the root configuration structure for stomplink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	STOMP     STOMPConfig     `yaml:"stomp"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Security  SecurityConfig  `yaml:"security"`
}

// BridgeConfig contains the bridge identity and its routes.
type BridgeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// StatsInterval is how often link statistics are written (in seconds).
	// 0 disables periodic statistics.
	// Default: 30
	StatsInterval int `yaml:"stats_interval"`

	// Inbound routes carry STOMP messages onto the MQTT bus.
	Inbound []InboundRoute `yaml:"inbound"`

	// Outbound routes carry MQTT messages to the STOMP broker.
	Outbound []OutboundRoute `yaml:"outbound"`
}

// InboundRoute maps a STOMP destination to an MQTT topic.
type InboundRoute struct {
	Destination string            `yaml:"destination"`
	Headers     map[string]string `yaml:"headers"`
	Topic       string            `yaml:"topic"`
	QoS         int               `yaml:"qos"`
	Retained    bool              `yaml:"retained"`
}

// OutboundRoute maps an MQTT topic filter to a STOMP destination.
type OutboundRoute struct {
	Topic       string            `yaml:"topic"`
	QoS         int               `yaml:"qos"`
	Destination string            `yaml:"destination"`
	Headers     map[string]string `yaml:"headers"`
}

// STOMPConfig contains STOMP broker connection settings.
type STOMPConfig struct {
	// BrokerURL is tcp://, ssl:// or ws(s):// followed by the broker address.
	BrokerURL string `yaml:"broker_url"`

	// Versions offered in preference order. Empty means 1.2, 1.1, 1.0.
	Versions []string `yaml:"versions"`

	Login    string `yaml:"login"`
	Passcode string `yaml:"passcode"`

	// VirtualHost is sent as the CONNECT host header when set.
	VirtualHost string `yaml:"virtual_host"`

	// ExtraHeaders are additional CONNECT headers sent verbatim.
	ExtraHeaders map[string]string `yaml:"connect_headers"`

	// DisconnectHeaders are sent on DISCONNECT where the client supports it.
	DisconnectHeaders map[string]string `yaml:"disconnect_headers"`

	// Heart-beat intervals (in milliseconds). 0 disables.
	// Default: 10000
	HeartbeatIncoming int `yaml:"heartbeat_incoming"`
	HeartbeatOutgoing int `yaml:"heartbeat_outgoing"`

	// ReconnectDelay is the wait before reconnecting (in milliseconds).
	// 0 disables automatic reconnection.
	// Default: 5000
	ReconnectDelay int `yaml:"reconnect_delay"`

	// Debug logs raw frames at debug level.
	Debug bool `yaml:"debug"`

	// CredentialsFile, when set, is re-read before every connection attempt
	// and its login/passcode replace the ones above.
	CredentialsFile string `yaml:"credentials_file"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// APIConfig contains the status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (in seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// An empty AllowedOrigins list allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the link event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"` // seconds
	PongTimeout    int `yaml:"pong_timeout"`  // seconds
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// AccessTokenTTL is the lifetime of tokens issued by "stomplink token" (in minutes).
	// Default: 1440
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: STOMPLINK_SECTION_KEY
// For example: STOMPLINK_STOMP_BROKER_URL, STOMPLINK_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:            "stomplink-01",
			Name:          "stomplink",
			StatsInterval: 30,
		},
		STOMP: STOMPConfig{
			BrokerURL:         "tcp://localhost:61613",
			HeartbeatIncoming: 10000,
			HeartbeatOutgoing: 10000,
			ReconnectDelay:    5000,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "stomplink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/stomplink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  120,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 1440,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: STOMPLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// STOMP
	if v := os.Getenv("STOMPLINK_STOMP_BROKER_URL"); v != "" {
		cfg.STOMP.BrokerURL = v
	}
	if v := os.Getenv("STOMPLINK_STOMP_LOGIN"); v != "" {
		cfg.STOMP.Login = v
	}
	if v := os.Getenv("STOMPLINK_STOMP_PASSCODE"); v != "" {
		cfg.STOMP.Passcode = v
	}
	if v := os.Getenv("STOMPLINK_STOMP_CREDENTIALS_FILE"); v != "" {
		cfg.STOMP.CredentialsFile = v
	}

	// Database
	if v := os.Getenv("STOMPLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("STOMPLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("STOMPLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("STOMPLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("STOMPLINK_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("STOMPLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("STOMPLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security
	if v := os.Getenv("STOMPLINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.StatsInterval < 0 {
		errs = append(errs, "bridge.stats_interval must not be negative")
	}
	for i, r := range c.Bridge.Inbound {
		if r.Destination == "" || r.Topic == "" {
			errs = append(errs, fmt.Sprintf("bridge.inbound[%d] needs destination and topic", i))
		}
		if r.QoS < 0 || r.QoS > 2 {
			errs = append(errs, fmt.Sprintf("bridge.inbound[%d].qos must be 0, 1, or 2", i))
		}
	}
	for i, r := range c.Bridge.Outbound {
		if r.Topic == "" || r.Destination == "" {
			errs = append(errs, fmt.Sprintf("bridge.outbound[%d] needs topic and destination", i))
		}
		if r.QoS < 0 || r.QoS > 2 {
			errs = append(errs, fmt.Sprintf("bridge.outbound[%d].qos must be 0, 1, or 2", i))
		}
	}

	// STOMP validation
	if strings.TrimSpace(c.STOMP.BrokerURL) == "" {
		errs = append(errs, "stomp.broker_url is required")
	}
	if c.STOMP.HeartbeatIncoming < 0 || c.STOMP.HeartbeatOutgoing < 0 {
		errs = append(errs, "stomp heart-beat intervals must not be negative")
	}
	if c.STOMP.ReconnectDelay < 0 {
		errs = append(errs, "stomp.reconnect_delay must not be negative")
	}
	for _, v := range c.STOMP.Versions {
		if v != "1.0" && v != "1.1" && v != "1.2" {
			errs = append(errs, fmt.Sprintf("stomp.versions: unsupported version %q", v))
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, fmt.Sprintf("security.jwt.secret must be at least %d characters when the api is enabled", minJWTSecretLength))
		}
		if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0 {
			errs = append(errs, "websocket ping_interval and pong_timeout must be positive")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReconnectDelay returns the STOMP reconnect delay as a Duration.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.STOMP.ReconnectDelay) * time.Millisecond
}

// GetHeartbeatIncoming returns the expected server heart-beat interval as a Duration.
func (c *Config) GetHeartbeatIncoming() time.Duration {
	return time.Duration(c.STOMP.HeartbeatIncoming) * time.Millisecond
}

// GetHeartbeatOutgoing returns the client heart-beat interval as a Duration.
func (c *Config) GetHeartbeatOutgoing() time.Duration {
	return time.Duration(c.STOMP.HeartbeatOutgoing) * time.Millisecond
}

// GetStatsInterval returns the statistics interval as a Duration.
func (c *Config) GetStatsInterval() time.Duration {
	return time.Duration(c.Bridge.StatsInterval) * time.Second
}

// GetAccessTokenTTL returns the API token lifetime as a Duration.
func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// ConnectHeaders returns the CONNECT headers: the configured extras plus
// login, passcode and host when set.
func (s STOMPConfig) ConnectHeaders() map[string]string {
	out := make(map[string]string, len(s.ExtraHeaders)+3)
	for k, v := range s.ExtraHeaders {
		out[k] = v
	}
	if s.Login != "" {
		out["login"] = s.Login
	}
	if s.Passcode != "" {
		out["passcode"] = s.Passcode
	}
	if s.VirtualHost != "" {
		out["host"] = s.VirtualHost
	}
	return out
}
