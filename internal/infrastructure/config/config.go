package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default Sonoff discovery and polling values.
const (
	// DefaultRefreshRate is the poll interval in seconds used when
	// sonoff.refresh_rate is absent or zero.
	DefaultRefreshRate = 15

	// DefaultServiceType is the mDNS service type advertised by eWeLink LAN devices.
	DefaultServiceType = "_ewelink._tcp"

	// DefaultDomain is the mDNS browse domain.
	DefaultDomain = "local."

	// DefaultRequestTimeout is the device RPC timeout in seconds.
	DefaultRequestTimeout = 10

	// DefaultRescanInterval is how often the mDNS query is restarted, in seconds.
	DefaultRescanInterval = 300

	// DefaultUnreachableAfter is the number of consecutive poll failures
	// before a device is reported unreachable.
	DefaultUnreachableAfter = 3
)

// Config is the root configuration structure for the Sonoff bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Sonoff   SonoffConfig   `yaml:"sonoff"`
}

// BridgeConfig identifies this bridge instance on MQTT and in logs.
type BridgeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
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

// SonoffConfig contains device discovery and polling settings.
type SonoffConfig struct {
	// RefreshRate is the state poll interval in seconds.
	// Zero (or absent) means DefaultRefreshRate.
	RefreshRate int `yaml:"refresh_rate"`

	// ServiceType is the mDNS service type to browse for.
	// Default: "_ewelink._tcp"
	ServiceType string `yaml:"service_type"`

	// Domain is the mDNS browse domain.
	// Default: "local."
	Domain string `yaml:"domain"`

	// RequestTimeout bounds each device RPC round trip, in seconds.
	// Default: 10
	RequestTimeout int `yaml:"request_timeout"`

	// PollOnStart issues one info request as soon as a controller starts,
	// instead of waiting a full refresh interval.
	// Default: true
	PollOnStart bool `yaml:"poll_on_start"`

	// TeardownOnDisappear stops a device's poll loop when its mDNS
	// service goes away. When false the controller keeps polling and
	// relies on poll failures to mark the device unreachable.
	// Default: false
	TeardownOnDisappear bool `yaml:"teardown_on_disappear"`

	// RescanInterval is how often the mDNS query is restarted, in seconds.
	// Default: 300
	RescanInterval int `yaml:"rescan_interval"`

	// UnreachableAfter is how many consecutive poll failures mark a device
	// unreachable.
	// Default: 3
	UnreachableAfter int `yaml:"unreachable_after"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SONOFFBRIDGE_SECTION_KEY
// For example: SONOFFBRIDGE_DATABASE_PATH, SONOFFBRIDGE_SONOFF_REFRESH_RATE
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
			ID:   "sonoff-bridge",
			Name: "Sonoff LAN Bridge",
		},
		Database: DatabaseConfig{
			Path:        "./data/sonoffbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sonoff-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8081,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Sonoff: SonoffConfig{
			RefreshRate:      DefaultRefreshRate,
			ServiceType:      DefaultServiceType,
			Domain:           DefaultDomain,
			RequestTimeout:   DefaultRequestTimeout,
			PollOnStart:      true,
			RescanInterval:   DefaultRescanInterval,
			UnreachableAfter: DefaultUnreachableAfter,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SONOFFBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SONOFFBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SONOFFBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SONOFFBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SONOFFBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SONOFFBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SONOFFBRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("SONOFFBRIDGE_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("SONOFFBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("SONOFFBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Sonoff
	if v := os.Getenv("SONOFFBRIDGE_SONOFF_REFRESH_RATE"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil {
			cfg.Sonoff.RefreshRate = rate
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Sonoff.RefreshRate < 0 {
		errs = append(errs, "sonoff.refresh_rate must not be negative")
	}
	if c.Sonoff.RequestTimeout < 0 {
		errs = append(errs, "sonoff.request_timeout must not be negative")
	}
	if c.Sonoff.RescanInterval < 0 {
		errs = append(errs, "sonoff.rescan_interval must not be negative")
	}
	if c.Sonoff.UnreachableAfter < 0 {
		errs = append(errs, "sonoff.unreachable_after must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRefreshInterval returns the device poll interval.
// A zero refresh rate falls back to DefaultRefreshRate seconds.
func (c *Config) GetRefreshInterval() time.Duration {
	rate := c.Sonoff.RefreshRate
	if rate <= 0 {
		rate = DefaultRefreshRate
	}
	return time.Duration(rate) * time.Second
}

// GetRequestTimeout returns the device RPC timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	timeout := c.Sonoff.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return time.Duration(timeout) * time.Second
}

// GetRescanInterval returns how often the mDNS query is restarted.
func (c *Config) GetRescanInterval() time.Duration {
	interval := c.Sonoff.RescanInterval
	if interval <= 0 {
		interval = DefaultRescanInterval
	}
	return time.Duration(interval) * time.Second
}

// GetUnreachableAfter returns the failure threshold for reachability.
func (c *Config) GetUnreachableAfter() int {
	if c.Sonoff.UnreachableAfter <= 0 {
		return DefaultUnreachableAfter
	}
	return c.Sonoff.UnreachableAfter
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
