package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-link"
transport:
  kind: nats
  connect_retries: 3
  retry_delay: 500ms
nats:
  url: "nats://broker:4222"
engine:
  command_timeout: 5s
  max_command_age: 10m
catalog:
  path: "/etc/graylink/devices.yaml"
database:
  path: "/tmp/test.db"
  history:
    enabled: true
    retention: 72h
api:
  port: 9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-link" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-link")
	}
	if cfg.Transport.Kind != TransportNATS || cfg.NATS.URL != "nats://broker:4222" {
		t.Errorf("transport = %+v nats = %+v", cfg.Transport, cfg.NATS)
	}
	if cfg.Transport.RetryDelay != 500*time.Millisecond {
		t.Errorf("Transport.RetryDelay = %v, want 500ms", cfg.Transport.RetryDelay)
	}
	if cfg.Engine.CommandTimeout != 5*time.Second || cfg.Engine.MaxCommandAge != 10*time.Minute {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	// Unset keys keep their defaults.
	if cfg.Engine.EvictionInterval != time.Minute {
		t.Errorf("Engine.EvictionInterval = %v, want default 1m", cfg.Engine.EvictionInterval)
	}
	if !cfg.Database.History.Enabled || cfg.Database.History.Retention != 72*time.Hour {
		t.Errorf("Database.History = %+v", cfg.Database.History)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
transport:
  kind: carrier-pigeon
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	// Every problem is reported, not just the first.
	if !strings.Contains(err.Error(), "site.id") || !strings.Contains(err.Error(), "transport.kind") {
		t.Errorf("Load() error = %v, want site.id and transport.kind", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"memory transport", func(c *Config) { c.Transport.Kind = TransportMemory }, false},
		{"missing site ID", func(c *Config) { c.Site.ID = "" }, true},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "amqp" }, true},
		{"nats without url", func(c *Config) { c.Transport.Kind = TransportNATS; c.NATS.URL = "" }, true},
		{"mqtt without host", func(c *Config) { c.MQTT.Broker.Host = "" }, true},
		{"zero retries", func(c *Config) { c.Transport.ConnectRetries = 0 }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"zero command timeout", func(c *Config) { c.Engine.CommandTimeout = 0 }, true},
		{"max age below timeout", func(c *Config) { c.Engine.MaxCommandAge = time.Second }, true},
		{"zero loop buffer", func(c *Config) { c.Engine.LoopBuffer = 0 }, true},
		{"history without path", func(c *Config) { c.Database.History.Enabled = true; c.Database.Path = "" }, true},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"drop rate above one", func(c *Config) { c.Simulator.DropRate = 1.5 }, true},
		{"negative simulator delay", func(c *Config) { c.Simulator.Delay = -time.Second }, true},
		{"influx missing bucket", func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.URL = "http://influx:8086"; c.InfluxDB.Org = "home" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestTransportConfig_RetryPolicy(t *testing.T) {
	tc := TransportConfig{ConnectRetries: 4, RetryDelay: time.Second, Backoff: true, MaxRetryDelay: 8 * time.Second}
	p := tc.RetryPolicy()

	if p.Attempts != 4 || p.Delay != time.Second || !p.Backoff || p.MaxDelay != 8*time.Second {
		t.Errorf("RetryPolicy() = %+v", p)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLINK_TRANSPORT_KIND", "nats")
	t.Setenv("GRAYLINK_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLINK_MQTT_PORT", "8883")
	t.Setenv("GRAYLINK_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLINK_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLINK_NATS_URL", "nats://10.0.0.2:4222")
	t.Setenv("GRAYLINK_ENGINE_COMMAND_TIMEOUT", "7s")
	t.Setenv("GRAYLINK_CATALOG_PATH", "/custom/devices.yaml")
	t.Setenv("GRAYLINK_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLINK_API_HOST", "192.168.1.1")
	t.Setenv("GRAYLINK_API_PORT", "not-a-port")
	t.Setenv("GRAYLINK_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLINK_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Transport.Kind != "nats" {
		t.Errorf("Transport.Kind = %q, want nats", cfg.Transport.Kind)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.NATS.URL != "nats://10.0.0.2:4222" {
		t.Errorf("NATS.URL = %q", cfg.NATS.URL)
	}
	if cfg.Engine.CommandTimeout != 7*time.Second {
		t.Errorf("Engine.CommandTimeout = %v, want 7s", cfg.Engine.CommandTimeout)
	}
	if cfg.Catalog.Path != "/custom/devices.yaml" || cfg.Database.Path != "/custom/path.db" {
		t.Errorf("paths = %q %q", cfg.Catalog.Path, cfg.Database.Path)
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default kept for unparsable value", cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig().Validate() error = %v", err)
	}
	if cfg.Transport.Kind != TransportMQTT {
		t.Errorf("defaultConfig Transport.Kind = %q, want mqtt", cfg.Transport.Kind)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Engine.CommandTimeout != 30*time.Second || cfg.Engine.MaxCommandAge != time.Hour {
		t.Errorf("defaultConfig Engine = %+v", cfg.Engine)
	}
}
