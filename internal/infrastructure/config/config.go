package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Channel limits of the IPX800 V3 relay board.
const (
	minChannel = 1
	maxChannel = 8
)

// Config is the root configuration structure for the IPX800 bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	State      StateConfig      `yaml:"state"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Database   DatabaseConfig   `yaml:"database"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Security   SecurityConfig   `yaml:"security"`
}

// DeviceConfig describes the relay controller and how it is polled.
type DeviceConfig struct {
	// ID names the device in MQTT topics and telemetry tags.
	ID string `yaml:"id"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout bounds every request to the device.
	Timeout time.Duration `yaml:"timeout"`

	// PollInterval is the status.xml refresh period. 0 polls once at startup only.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ChannelNames overrides the display name of individual channels (1..8).
	ChannelNames map[int]string `yaml:"channel_names"`
}

// DispatcherConfig controls the outbound command queue.
type DispatcherConfig struct {
	// Delay is the pause between the end of one command and the next dequeue.
	Delay time.Duration `yaml:"delay"`

	// CommandTimeout bounds a single command send.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// StateConfig controls state reconciliation.
type StateConfig struct {
	// OptimisticTTL is how long an unconfirmed local write shadows the
	// confirmed state. 0 keeps optimistic values until a poll or webhook.
	OptimisticTTL time.Duration `yaml:"optimistic_ttl"`
}

// WebhookConfig contains inbound webhook settings.
type WebhookConfig struct {
	// Secret, when set, must be presented by the device as ?token=<secret>
	// or in the X-IPX800-Token header.
	Secret string `yaml:"secret"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	Broker    MQTTBrokerConfig     `yaml:"broker"`
	Auth      MQTTAuthConfig       `yaml:"auth"`
	QoS       int                  `yaml:"qos"`
	Reconnect MQTTReconnectConfig  `yaml:"reconnect"`
	Embedded  EmbeddedBrokerConfig `yaml:"embedded"`

	// HealthInterval is the bridge health publish period in seconds.
	HealthInterval int `yaml:"health_interval"`
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

// EmbeddedBrokerConfig runs an in-process MQTT broker for single-box installs.
type EmbeddedBrokerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// APIConfig contains HTTP API server settings.
// The webhook endpoint is served by the same listener.
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

// APITimeoutConfig contains HTTP timeout settings in seconds.
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
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// DatabaseConfig contains SQLite settings for the audit trail.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays prunes history rows older than this. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// DiscoveryConfig controls mDNS advertisement of the bridge API.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains settings for API bearer tokens.
// An empty secret leaves the control API open.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	TokenTTL int    `yaml:"token_ttl"` // minutes
}

// Option mutates a configuration after file and environment values are
// applied and before validation. The CLI uses it for flag overrides.
type Option func(*Config)

// Load reads configuration from a YAML file and applies overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values (skipped when path is empty)
//  3. Environment variables (IPX800_SECTION_KEY)
//  4. Options, in order
//
// The result is validated before it is returned.
func Load(path string, opts ...Option) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:           "ipx800",
			Port:         80,
			Timeout:      5 * time.Second,
			PollInterval: 30 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			Delay:          200 * time.Millisecond,
			CommandTimeout: 5 * time.Second,
		},
		State: StateConfig{
			OptimisticTTL: 30 * time.Second,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8123,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ipx800-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Embedded: EmbeddedBrokerConfig{
				Address: ":1883",
			},
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Path:          "./data/ipx800.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
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
		Discovery: DiscoveryConfig{
			Instance: "ipx800-bridge",
			Service:  "_ipx800-bridge._tcp",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: IPX800_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("IPX800_DEVICE_HOST"); v != "" {
		cfg.Device.Host = v
	}
	if v := envInt("IPX800_DEVICE_PORT"); v != 0 {
		cfg.Device.Port = v
	}
	if v := os.Getenv("IPX800_DEVICE_USERNAME"); v != "" {
		cfg.Device.Username = v
	}
	if v := os.Getenv("IPX800_DEVICE_PASSWORD"); v != "" {
		cfg.Device.Password = v
	}

	// API and webhook
	if v := os.Getenv("IPX800_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := envInt("IPX800_API_PORT"); v != 0 {
		cfg.API.Port = v
	}
	if v := os.Getenv("IPX800_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}

	// MQTT
	if v := os.Getenv("IPX800_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("IPX800_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("IPX800_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Storage
	if v := os.Getenv("IPX800_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("IPX800_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("IPX800_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("IPX800_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// envInt returns the integer value of an environment variable, or 0 when it
// is unset or not a number.
func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

// Validate checks the configuration for errors.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	// Device
	if c.Device.Host == "" {
		errs = append(errs, "device.host is required (use --host or IPX800_DEVICE_HOST)")
	}
	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	} else if strings.ContainsAny(c.Device.ID, "/#+ ") {
		errs = append(errs, "device.id must not contain '/', '#', '+' or spaces")
	}
	if !validPort(c.Device.Port) {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	if c.Device.Timeout <= 0 {
		errs = append(errs, "device.timeout must be positive")
	}
	if c.Device.PollInterval < 0 {
		errs = append(errs, "device.poll_interval must not be negative")
	}
	for ch := range c.Device.ChannelNames {
		if ch < minChannel || ch > maxChannel {
			errs = append(errs, fmt.Sprintf("device.channel_names: channel %d out of range 1-8", ch))
		}
	}

	// Dispatcher and state
	if c.Dispatcher.Delay < 0 {
		errs = append(errs, "dispatcher.delay must not be negative")
	}
	if c.Dispatcher.CommandTimeout <= 0 {
		errs = append(errs, "dispatcher.command_timeout must be positive")
	}
	if c.State.OptimisticTTL < 0 {
		errs = append(errs, "state.optimistic_ttl must not be negative")
	}

	// API
	if !validPort(c.API.Port) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// Storage
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	// An empty secret leaves the control API open; a short one is refused.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// DeviceAddress returns the device host:port.
func (c *Config) DeviceAddress() string {
	return fmt.Sprintf("%s:%d", c.Device.Host, c.Device.Port)
}

// ListenAddress returns the API listen host:port.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
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

// ChannelName returns the configured display name for a channel, falling
// back to "IPX800 Light <n>".
func (c *Config) ChannelName(ch int) string {
	if name, ok := c.Device.ChannelNames[ch]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("IPX800 Light %d", ch)
}
