package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure shared by the module process
// and the development host. Each binary reads the sections it needs.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Logging  LoggingConfig  `yaml:"logging"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	DevHost  DevHostConfig  `yaml:"devhost"`
}

// InstanceConfig identifies the module instance a process serves or drives.
type InstanceConfig struct {
	// ID is the host-assigned instance identifier. It scopes the MQTT topics.
	ID string `yaml:"id"`

	// Label is the user-facing instance name used in variable references,
	// e.g. $(label:variable).
	Label string `yaml:"label"`
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
// InitialDelay and MaxDelay are in seconds. MaxAttempts bounds the initial
// connection retry; 0 means retry until the process is stopped.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RuntimeConfig tunes the instance runtime.
type RuntimeConfig struct {
	// SerializeAll routes every host call through the lifecycle queue instead
	// of only init, destroy and updateConfig.
	SerializeAll bool `yaml:"serialize_all"`

	// WorkerPoolSize bounds concurrently handled calls. Calls beyond it are
	// answered with a BUSY error.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// CallTimeout bounds how long an outbound call waits for its response (seconds).
	CallTimeout int `yaml:"call_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// DevHostConfig contains settings only the development host reads.
type DevHostConfig struct {
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MODKIT_SECTION_KEY
// For example: MODKIT_INSTANCE_ID, MODKIT_MQTT_HOST
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

// Default returns the built-in configuration with environment overrides
// applied. Binaries fall back to it when no config file is present.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Instance: InstanceConfig{
			ID:    "instance-001",
			Label: "counter",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "modkit",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Runtime: RuntimeConfig{
			SerializeAll:   false,
			WorkerPoolSize: 64,
			CallTimeout:    30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9464,
			Path:    "/metrics",
		},
		DevHost: DevHostConfig{
			API: APIConfig{
				Host: "127.0.0.1",
				Port: 8090,
				Timeouts: APITimeoutConfig{
					Read:  30,
					Write: 30,
					Idle:  60,
				},
			},
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
			Database: DatabaseConfig{
				Path:        "./data/devhost.db",
				WALMode:     true,
				BusyTimeout: 5,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MODKIT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Instance
	if v := os.Getenv("MODKIT_INSTANCE_ID"); v != "" {
		cfg.Instance.ID = v
	}
	if v := os.Getenv("MODKIT_INSTANCE_LABEL"); v != "" {
		cfg.Instance.Label = v
	}

	// MQTT
	if v := os.Getenv("MODKIT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MODKIT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MODKIT_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("MODKIT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MODKIT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Logging
	if v := os.Getenv("MODKIT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Runtime
	if v := os.Getenv("MODKIT_RUNTIME_SERIALIZE_ALL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Runtime.SerializeAll = b
		}
	}

	// DevHost
	if v := os.Getenv("MODKIT_DATABASE_PATH"); v != "" {
		cfg.DevHost.Database.Path = v
	}
	if v := os.Getenv("MODKIT_INFLUXDB_TOKEN"); v != "" {
		cfg.DevHost.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
// All problems are reported together rather than failing on the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Instance.ID == "" {
		errs = append(errs, "instance.id is required")
	} else if strings.ContainsAny(c.Instance.ID, "/+#") {
		errs = append(errs, "instance.id must not contain MQTT topic characters (/ + #)")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.Runtime.WorkerPoolSize < 1 {
		errs = append(errs, "runtime.worker_pool_size must be at least 1")
	}
	if c.Runtime.CallTimeout < 0 {
		errs = append(errs, "runtime.call_timeout must not be negative")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}

	if c.DevHost.API.Port < 1 || c.DevHost.API.Port > 65535 {
		errs = append(errs, "devhost.api.port must be between 1 and 65535")
	}
	if c.DevHost.Database.Path == "" {
		errs = append(errs, "devhost.database.path is required")
	}
	if c.DevHost.InfluxDB.Enabled && c.DevHost.InfluxDB.URL == "" {
		errs = append(errs, "devhost.influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetCallTimeout returns the outbound call timeout as a Duration.
// Zero means calls wait until their context is cancelled.
func (c *Config) GetCallTimeout() time.Duration {
	return time.Duration(c.Runtime.CallTimeout) * time.Second
}

// GetReadTimeout returns the devhost API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.DevHost.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the devhost API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.DevHost.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the devhost API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.DevHost.API.Timeouts.Idle) * time.Second
}
