package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-link/internal/devicebus"
)

// Transport kinds.
const (
	TransportMQTT   = "mqtt"
	TransportNATS   = "nats"
	TransportMemory = "memory"
)

// Config is the root configuration structure for Gray Logic Link.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Transport TransportConfig `yaml:"transport"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	NATS      NATSConfig      `yaml:"nats"`
	Engine    EngineConfig    `yaml:"engine"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies this link instance.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// TransportConfig selects the device broker and bounds connection attempts.
type TransportConfig struct {
	// Kind is "mqtt", "nats" or "memory".
	Kind string `yaml:"kind"`

	// ConnectRetries is the total number of connection attempts at startup.
	ConnectRetries int `yaml:"connect_retries"`

	// RetryDelay is the wait between attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Backoff doubles RetryDelay after each failure, up to MaxRetryDelay.
	Backoff       bool          `yaml:"backoff"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`

	// Required makes a failed connection fatal. When false the process keeps
	// serving HTTP in degraded mode (commands fail as undelivered).
	Required bool `yaml:"required"`
}

// RetryPolicy converts the transport settings into a devicebus policy.
func (t TransportConfig) RetryPolicy() devicebus.RetryPolicy {
	return devicebus.RetryPolicy{
		Attempts: t.ConnectRetries,
		Delay:    t.RetryDelay,
		Backoff:  t.Backoff,
		MaxDelay: t.MaxRetryDelay,
	}
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// NATSConfig contains NATS connection settings, used when transport.kind is "nats".
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	Name           string        `yaml:"name"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// EngineConfig tunes the correlation engine.
type EngineConfig struct {
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	MaxCommandAge     time.Duration `yaml:"max_command_age"`
	EvictionInterval  time.Duration `yaml:"eviction_interval"`
	ResolvedRetention time.Duration `yaml:"resolved_retention"`

	// LoopBuffer is the per-topic-family inbound queue length.
	LoopBuffer int `yaml:"loop_buffer"`

	// MonitorCommands also subscribes to command topics for diagnostics.
	MonitorCommands bool `yaml:"monitor_commands"`
}

// CatalogConfig points at the device catalog file.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout int           `yaml:"busy_timeout"`
	History     HistoryConfig `yaml:"history"`
}

// HistoryConfig controls the status history audit trail.
type HistoryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// SimulatorConfig shapes the simulated devices run by the memory transport
// and cmd/devicesim.
type SimulatorConfig struct {
	Acknowledge bool          `yaml:"acknowledge"`
	Delay       time.Duration `yaml:"delay"`
	DropRate    float64       `yaml:"drop_rate"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLINK_SECTION_KEY
// For example: GRAYLINK_MQTT_HOST, GRAYLINK_TRANSPORT_KIND
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
		Site: SiteConfig{
			ID:   "link-001",
			Name: "Gray Logic Link",
		},
		Transport: TransportConfig{
			Kind:           TransportMQTT,
			ConnectRetries: 5,
			RetryDelay:     2 * time.Second,
			Backoff:        true,
			MaxRetryDelay:  30 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			Name:           "graylink",
			ConnectTimeout: 5 * time.Second,
		},
		Engine: EngineConfig{
			CommandTimeout:    30 * time.Second,
			MaxCommandAge:     time.Hour,
			EvictionInterval:  time.Minute,
			ResolvedRetention: 30 * time.Second,
			LoopBuffer:        256,
		},
		Catalog: CatalogConfig{
			Path: "configs/devices.yaml",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylink.db",
			WALMode:     true,
			BusyTimeout: 5,
			History: HistoryConfig{
				Retention:     30 * 24 * time.Hour,
				PruneInterval: time.Hour,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
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
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Transport
	if v := os.Getenv("GRAYLINK_TRANSPORT_KIND"); v != "" {
		cfg.Transport.Kind = v
	}

	// MQTT
	if v := os.Getenv("GRAYLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLINK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// NATS
	if v := os.Getenv("GRAYLINK_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("GRAYLINK_NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}

	// Engine
	if v := os.Getenv("GRAYLINK_ENGINE_COMMAND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.CommandTimeout = d
		}
	}

	// Catalog and database
	if v := os.Getenv("GRAYLINK_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("GRAYLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("GRAYLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("GRAYLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Transport validation
	switch c.Transport.Kind {
	case TransportMQTT:
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required for the mqtt transport")
		}
	case TransportNATS:
		if c.NATS.URL == "" {
			errs = append(errs, "nats.url is required for the nats transport")
		}
	case TransportMemory:
	default:
		errs = append(errs, fmt.Sprintf("transport.kind must be mqtt, nats or memory, got %q", c.Transport.Kind))
	}
	if c.Transport.ConnectRetries < 1 {
		errs = append(errs, "transport.connect_retries must be at least 1")
	}
	if c.Transport.RetryDelay < 0 {
		errs = append(errs, "transport.retry_delay must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Engine validation
	if c.Engine.CommandTimeout <= 0 {
		errs = append(errs, "engine.command_timeout must be positive")
	}
	if c.Engine.MaxCommandAge < c.Engine.CommandTimeout {
		errs = append(errs, "engine.max_command_age must be at least engine.command_timeout")
	}
	if c.Engine.EvictionInterval <= 0 {
		errs = append(errs, "engine.eviction_interval must be positive")
	}
	if c.Engine.LoopBuffer < 1 {
		errs = append(errs, "engine.loop_buffer must be at least 1")
	}

	// Database validation
	if c.Database.History.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.history is enabled")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.Simulator.DropRate < 0 || c.Simulator.DropRate > 1 {
		errs = append(errs, "simulator.drop_rate must be between 0 and 1")
	}
	if c.Simulator.Delay < 0 {
		errs = append(errs, "simulator.delay must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
