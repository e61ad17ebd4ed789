package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for TVBridge Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Devices   []DeviceConfig  `yaml:"devices"`
	Poller    PollerConfig    `yaml:"poller"`
	Backoff   BackoffConfig   `yaml:"backoff"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	ADB       ADBConfig       `yaml:"adb"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig describes one statically configured Android TV endpoint.
// Configured entries take precedence over discovery observations for the
// same address (name and enabled flag always come from configuration).
type DeviceConfig struct {
	// Address is the network endpoint of the device's debug port,
	// in host:port form (e.g. "10.0.0.5:5555").
	Address string `yaml:"address"`

	// Name is the human-readable display name. Defaults to the address.
	Name string `yaml:"name"`

	// Enabled controls whether a session is maintained for this device.
	// A disabled device keeps its record but has no connection or poller.
	Enabled bool `yaml:"enabled"`

	// PollInterval overrides the global default poll interval for this
	// device. Zero means use poller.default_interval.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// PollerConfig contains poll scheduling settings shared by all devices.
type PollerConfig struct {
	// DefaultInterval is the poll interval used by devices that do not
	// set their own. Default: 10s.
	DefaultInterval time.Duration `yaml:"default_interval"`

	// CommandTimeout is the per-command execution budget. A command that
	// exceeds it counts as a command failure. Default: 5s.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// FailureThreshold is the number of consecutive command failures
	// after which the connection is assumed dead and the session forces
	// a reconnect. Default: 3.
	FailureThreshold int `yaml:"failure_threshold"`
}

// BackoffConfig contains reconnect backoff settings.
type BackoffConfig struct {
	// BaseDelay is the delay after the first connection failure.
	// Default: 2s.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the exponential backoff. Default: 2m.
	MaxDelay time.Duration `yaml:"max_delay"`
}

// DiscoveryConfig contains mDNS discovery settings.
type DiscoveryConfig struct {
	// Enabled turns on mDNS browsing for debug-enabled devices.
	Enabled bool `yaml:"enabled"`

	// Service is the DNS-SD service type to browse.
	// Default: "_adb-tls-connect._tcp".
	Service string `yaml:"service"`

	// Domain is the mDNS domain. Default: "local.".
	Domain string `yaml:"domain"`

	// AutoRegister adds devices seen by discovery but absent from the
	// devices list. When false, unconfigured observations are ignored.
	AutoRegister bool `yaml:"auto_register"`
}

// ADBConfig contains settings for the ADB server connection and lifecycle.
type ADBConfig struct {
	// ServerAddress is the host:port of the ADB server's smart socket.
	// Default: "127.0.0.1:5037".
	ServerAddress string `yaml:"server_address"`

	// Managed indicates whether TVBridge should start and supervise the
	// ADB server itself. If false, an externally running server is expected.
	Managed bool `yaml:"managed"`

	// Binary is the path to the adb executable (managed mode only).
	// Default: "/usr/bin/adb".
	Binary string `yaml:"binary"`

	// ConnectTimeout is the maximum time to wait when dialling the server
	// or asking it to connect to a device. Default: 10s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
// Environment variables follow the pattern: TVBRIDGE_SECTION_KEY
// For example: TVBRIDGE_DATABASE_PATH, TVBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Poller: PollerConfig{
			DefaultInterval:  10 * time.Second,
			CommandTimeout:   5 * time.Second,
			FailureThreshold: 3,
		},
		Backoff: BackoffConfig{
			BaseDelay: 2 * time.Second,
			MaxDelay:  2 * time.Minute,
		},
		Discovery: DiscoveryConfig{
			Enabled: false,
			Service: "_adb-tls-connect._tcp",
			Domain:  "local.",
		},
		ADB: ADBConfig{
			ServerAddress:  "127.0.0.1:5037",
			Binary:         "/usr/bin/adb",
			ConnectTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/tvbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tvbridge-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
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
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TVBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("TVBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TVBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TVBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TVBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// ADB
	if v := os.Getenv("TVBRIDGE_ADB_SERVER"); v != "" {
		cfg.ADB.ServerAddress = v
	}
	if v := os.Getenv("TVBRIDGE_ADB_BINARY"); v != "" {
		cfg.ADB.Binary = v
	}

	// API
	if v := os.Getenv("TVBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("TVBRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
}

// Validate checks the configuration for errors.
//
// A configuration with zero devices and discovery disabled is valid: the
// registry simply starts empty. Malformed device addresses are rejected
// here, once, at startup.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Address == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].address is required", i))
			continue
		}
		if _, _, err := net.SplitHostPort(d.Address); err != nil {
			errs = append(errs, fmt.Sprintf("devices[%d].address %q is not host:port", i, d.Address))
		}
		if seen[d.Address] {
			errs = append(errs, fmt.Sprintf("devices[%d].address %q is duplicated", i, d.Address))
		}
		seen[d.Address] = true
		if d.PollInterval < 0 {
			errs = append(errs, fmt.Sprintf("devices[%d].poll_interval must not be negative", i))
		}
	}

	// Poller validation
	if c.Poller.DefaultInterval <= 0 {
		errs = append(errs, "poller.default_interval must be positive")
	}
	if c.Poller.CommandTimeout <= 0 {
		errs = append(errs, "poller.command_timeout must be positive")
	}
	if c.Poller.FailureThreshold < 1 {
		errs = append(errs, "poller.failure_threshold must be at least 1")
	}

	// Backoff validation
	if c.Backoff.BaseDelay <= 0 {
		errs = append(errs, "backoff.base_delay must be positive")
	}
	if c.Backoff.MaxDelay < c.Backoff.BaseDelay {
		errs = append(errs, "backoff.max_delay must be at least backoff.base_delay")
	}

	// ADB validation
	if c.ADB.ServerAddress == "" {
		errs = append(errs, "adb.server_address is required")
	} else if _, _, err := net.SplitHostPort(c.ADB.ServerAddress); err != nil {
		errs = append(errs, fmt.Sprintf("adb.server_address %q is not host:port", c.ADB.ServerAddress))
	}
	if c.ADB.Managed && c.ADB.Binary == "" {
		errs = append(errs, "adb.binary is required when adb.managed is true")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
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
