package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the tiles gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	BLE       BLEConfig       `yaml:"ble"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Tiles     TilesConfig     `yaml:"tiles"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GatewayConfig identifies this gateway instance.
type GatewayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BLEConfig contains radio settings: which adapter to drive, how tiles are
// recognised and how often the neighbourhood is swept.
type BLEConfig struct {
	Adapter    string `yaml:"adapter"`
	NamePrefix string `yaml:"name_prefix"`

	// GATT profile of a tile. Short 16-bit forms ("2220") are accepted.
	ServiceUUID           string `yaml:"service_uuid"`
	ReceiveCharacteristic string `yaml:"receive_characteristic"`
	SendCharacteristic    string `yaml:"send_characteristic"`

	ScanInterval   int  `yaml:"scan_interval"`   // seconds between sweeps
	ScanDuration   int  `yaml:"scan_duration"`   // seconds per sweep
	ConnectTimeout int  `yaml:"connect_timeout"` // seconds
	AutoConnect    bool `yaml:"auto_connect"`
	LocateDuration int  `yaml:"locate_duration"` // seconds the locate LED stays on
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`

	// User is the account segment of every tiles topic.
	User string `yaml:"user"`

	QoS            int                 `yaml:"qos"`
	ConnectTimeout int                 `yaml:"connect_timeout"` // seconds
	KeepAlive      int                 `yaml:"keep_alive"`      // seconds
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`

	// ConnectOnStart dials the broker at startup using the credentials above.
	ConnectOnStart bool `yaml:"connect_on_start"`
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
	MaxDelay int `yaml:"max_delay"`
}

// TilesConfig contains application context and event-mapping behaviour.
type TilesConfig struct {
	// ApplicationID seeds the active application when none is stored yet.
	ApplicationID string `yaml:"application_id"`

	// SplitEvents maps "a,b,c" to {name: tileID, properties: [a b c]}
	// when no explicit mapping exists.
	SplitEvents bool `yaml:"split_events"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	JWT      JWTConfig        `yaml:"jwt"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// JWTConfig contains bearer token settings. An empty secret leaves the API open.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: TILES_SECTION_KEY
// For example: TILES_MQTT_HOST, TILES_BLE_ADAPTER
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
		Gateway: GatewayConfig{
			ID:   "tiles-gw-001",
			Name: "Tiles Gateway",
		},
		BLE: BLEConfig{
			Adapter:               "hci0",
			NamePrefix:            "Tile",
			ServiceUUID:           "2220",
			ReceiveCharacteristic: "2221",
			SendCharacteristic:    "2222",
			ScanInterval:          10,
			ScanDuration:          5,
			ConnectTimeout:        10,
			AutoConnect:           true,
			LocateDuration:        3,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tiles-gateway",
			},
			QoS:            1,
			ConnectTimeout: 10,
			Reconnect: MQTTReconnectConfig{
				MaxDelay: 60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/tiles.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TILES_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// BLE
	if v := os.Getenv("TILES_BLE_ADAPTER"); v != "" {
		cfg.BLE.Adapter = v
	}

	// MQTT
	if v := os.Getenv("TILES_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TILES_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("TILES_MQTT_USER"); v != "" {
		cfg.MQTT.User = v
	}
	if v := os.Getenv("TILES_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TILES_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Tiles
	if v := os.Getenv("TILES_APPLICATION_ID"); v != "" {
		cfg.Tiles.ApplicationID = v
	}

	// Database
	if v := os.Getenv("TILES_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("TILES_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("TILES_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("TILES_JWT_SECRET"); v != "" {
		cfg.API.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	// BLE validation
	if c.BLE.ServiceUUID == "" || c.BLE.ReceiveCharacteristic == "" || c.BLE.SendCharacteristic == "" {
		errs = append(errs, "ble.service_uuid, ble.receive_characteristic and ble.send_characteristic are required")
	}
	if c.BLE.ScanInterval <= 0 {
		errs = append(errs, "ble.scan_interval must be positive")
	}
	if c.BLE.ScanDuration <= 0 {
		errs = append(errs, "ble.scan_duration must be positive")
	}
	if c.BLE.ConnectTimeout <= 0 {
		errs = append(errs, "ble.connect_timeout must be positive")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.connect_timeout must be positive")
	}
	if c.MQTT.ConnectOnStart && c.MQTT.User == "" {
		errs = append(errs, "mqtt.user is required when mqtt.connect_on_start is set")
	}
	if strings.ContainsAny(c.MQTT.User, "/+#") {
		errs = append(errs, "mqtt.user must not contain topic separators or wildcards")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	const minJWTSecretLength = 32
	if c.API.JWT.Secret != "" && len(c.API.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "api.jwt.secret must be at least 32 characters")
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

// ScanIntervalDuration returns the time between discovery sweeps.
func (b BLEConfig) ScanIntervalDuration() time.Duration {
	return time.Duration(b.ScanInterval) * time.Second
}

// ScanDurationValue returns how long each discovery sweep listens.
func (b BLEConfig) ScanDurationValue() time.Duration {
	return time.Duration(b.ScanDuration) * time.Second
}

// ConnectTimeoutDuration bounds a single radio connect attempt.
func (b BLEConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(b.ConnectTimeout) * time.Second
}

// LocateDurationValue is how long the locate LED stays lit.
func (b BLEConfig) LocateDurationValue() time.Duration {
	return time.Duration(b.LocateDuration) * time.Second
}

// ConnectTimeoutDuration bounds the broker connection-establish timer.
func (m MQTTConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(m.ConnectTimeout) * time.Second
}
