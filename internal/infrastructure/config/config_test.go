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
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
gateway:
  id: "gw-test"
ble:
  adapter: "hci1"
  name_prefix: "TileX"
mqtt:
  broker:
    host: "broker.local"
    port: 8883
    tls: true
  user: "alice"
  qos: 1
tiles:
  application_id: "app-1"
database:
  path: "/tmp/tiles-test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.ID != "gw-test" {
		t.Errorf("Gateway.ID = %q, want %q", cfg.Gateway.ID, "gw-test")
	}
	if cfg.BLE.Adapter != "hci1" {
		t.Errorf("BLE.Adapter = %q, want %q", cfg.BLE.Adapter, "hci1")
	}
	if cfg.BLE.NamePrefix != "TileX" {
		t.Errorf("BLE.NamePrefix = %q, want %q", cfg.BLE.NamePrefix, "TileX")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if !cfg.MQTT.Broker.TLS {
		t.Error("MQTT.Broker.TLS = false, want true")
	}
	if cfg.MQTT.User != "alice" {
		t.Errorf("MQTT.User = %q, want %q", cfg.MQTT.User, "alice")
	}
	if cfg.Tiles.ApplicationID != "app-1" {
		t.Errorf("Tiles.ApplicationID = %q, want %q", cfg.Tiles.ApplicationID, "app-1")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "gateway:\n  id: gw\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BLE.ServiceUUID != "2220" {
		t.Errorf("BLE.ServiceUUID = %q, want %q", cfg.BLE.ServiceUUID, "2220")
	}
	if got := cfg.BLE.ScanIntervalDuration(); got != 10*time.Second {
		t.Errorf("ScanIntervalDuration() = %v, want 10s", got)
	}
	if got := cfg.MQTT.ConnectTimeoutDuration(); got != 10*time.Second {
		t.Errorf("MQTT.ConnectTimeoutDuration() = %v, want 10s", got)
	}
	if got := cfg.BLE.LocateDurationValue(); got != 3*time.Second {
		t.Errorf("LocateDurationValue() = %v, want 3s", got)
	}
	if !cfg.BLE.AutoConnect {
		t.Error("BLE.AutoConnect = false, want true")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, "gateway:\n  id: \"\"\n"))
	if err == nil {
		t.Error("Load() expected validation error for empty gateway.id, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TILES_MQTT_HOST", "env-broker")
	t.Setenv("TILES_MQTT_PORT", "1884")
	t.Setenv("TILES_MQTT_USER", "bob")
	t.Setenv("TILES_BLE_ADAPTER", "hci2")
	t.Setenv("TILES_APPLICATION_ID", "env-app")

	cfg, err := Load(writeConfig(t, "mqtt:\n  broker:\n    host: file-broker\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "env-broker" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "env-broker")
	}
	if cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker.Port = %d, want 1884", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.User != "bob" {
		t.Errorf("MQTT.User = %q, want %q", cfg.MQTT.User, "bob")
	}
	if cfg.BLE.Adapter != "hci2" {
		t.Errorf("BLE.Adapter = %q, want %q", cfg.BLE.Adapter, "hci2")
	}
	if cfg.Tiles.ApplicationID != "env-app" {
		t.Errorf("Tiles.ApplicationID = %q, want %q", cfg.Tiles.ApplicationID, "env-app")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "missing gateway id",
			mutate:  func(c *Config) { c.Gateway.ID = "" },
			wantErr: "gateway.id",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "zero scan interval",
			mutate:  func(c *Config) { c.BLE.ScanInterval = 0 },
			wantErr: "ble.scan_interval",
		},
		{
			name:    "missing characteristic",
			mutate:  func(c *Config) { c.BLE.SendCharacteristic = "" },
			wantErr: "ble.service_uuid",
		},
		{
			name:    "user with wildcard",
			mutate:  func(c *Config) { c.MQTT.User = "a/#" },
			wantErr: "mqtt.user",
		},
		{
			name: "connect on start without user",
			mutate: func(c *Config) {
				c.MQTT.ConnectOnStart = true
				c.MQTT.User = ""
			},
			wantErr: "mqtt.user is required",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.API.JWT.Secret = "short" },
			wantErr: "api.jwt.secret",
		},
		{
			name:    "invalid api port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name: "api port ignored when disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
}
