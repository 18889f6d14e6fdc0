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
device:
  id: "garage"
  host: "192.168.1.50"
  port: 8080
  timeout: 7s
  poll_interval: 1m
  channel_names:
    1: "Porch"
dispatcher:
  delay: 250ms
state:
  optimistic_ttl: 0s
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
  qos: 1
api:
  port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ID != "garage" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "garage")
	}
	if got := cfg.DeviceAddress(); got != "192.168.1.50:8080" {
		t.Errorf("DeviceAddress() = %q, want %q", got, "192.168.1.50:8080")
	}
	if cfg.Device.Timeout != 7*time.Second {
		t.Errorf("Device.Timeout = %v, want 7s", cfg.Device.Timeout)
	}
	if cfg.Device.PollInterval != time.Minute {
		t.Errorf("Device.PollInterval = %v, want 1m", cfg.Device.PollInterval)
	}
	if cfg.Dispatcher.Delay != 250*time.Millisecond {
		t.Errorf("Dispatcher.Delay = %v, want 250ms", cfg.Dispatcher.Delay)
	}
	if cfg.State.OptimisticTTL != 0 {
		t.Errorf("State.OptimisticTTL = %v, want 0", cfg.State.OptimisticTTL)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if got := cfg.ChannelName(1); got != "Porch" {
		t.Errorf("ChannelName(1) = %q, want %q", got, "Porch")
	}
	if got := cfg.ChannelName(2); got != "IPX800 Light 2" {
		t.Errorf("ChannelName(2) = %q, want %q", got, "IPX800 Light 2")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", func(c *Config) { c.Device.Host = "ipx800.local" })
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Port != 80 {
		t.Errorf("Device.Port = %d, want 80", cfg.Device.Port)
	}
	if cfg.Dispatcher.Delay != 200*time.Millisecond {
		t.Errorf("Dispatcher.Delay = %v, want 200ms", cfg.Dispatcher.Delay)
	}
	if cfg.Device.Timeout != 5*time.Second {
		t.Errorf("Device.Timeout = %v, want 5s", cfg.Device.Timeout)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled should default to false")
	}
	if cfg.Webhook.Secret != "" {
		t.Error("Webhook.Secret should default to empty")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
device:
  host: "from-file"
`)
	t.Setenv("IPX800_DEVICE_HOST", "from-env")
	t.Setenv("IPX800_DEVICE_PORT", "8081")
	t.Setenv("IPX800_API_PORT", "9100")
	t.Setenv("IPX800_WEBHOOK_SECRET", "s3cret")
	t.Setenv("IPX800_MQTT_PASSWORD", "mqtt-pass")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Host != "from-env" {
		t.Errorf("Device.Host = %q, want %q", cfg.Device.Host, "from-env")
	}
	if cfg.Device.Port != 8081 {
		t.Errorf("Device.Port = %d, want 8081", cfg.Device.Port)
	}
	if cfg.API.Port != 9100 {
		t.Errorf("API.Port = %d, want 9100", cfg.API.Port)
	}
	if cfg.Webhook.Secret != "s3cret" {
		t.Errorf("Webhook.Secret = %q, want %q", cfg.Webhook.Secret, "s3cret")
	}
	if cfg.MQTT.Auth.Password != "mqtt-pass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "mqtt-pass")
	}
}

func TestLoad_OptionsOverrideEnv(t *testing.T) {
	t.Setenv("IPX800_DEVICE_HOST", "from-env")

	cfg, err := Load("", func(c *Config) { c.Device.Host = "from-flag" })
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.Host != "from-flag" {
		t.Errorf("Device.Host = %q, want %q", cfg.Device.Host, "from-flag")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.Device.Host = "" },
			wantErr: "device.host is required",
		},
		{
			name:    "device port out of range",
			mutate:  func(c *Config) { c.Device.Port = 70000 },
			wantErr: "device.port",
		},
		{
			name:    "device id with wildcard",
			mutate:  func(c *Config) { c.Device.ID = "a/b" },
			wantErr: "device.id must not contain",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Device.Timeout = 0 },
			wantErr: "device.timeout",
		},
		{
			name:    "channel name out of range",
			mutate:  func(c *Config) { c.Device.ChannelNames = map[int]string{9: "x"} },
			wantErr: "channel 9 out of range",
		},
		{
			name:    "negative delay",
			mutate:  func(c *Config) { c.Dispatcher.Delay = -time.Second },
			wantErr: "dispatcher.delay",
		},
		{
			name:    "bad qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "influx incomplete",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "security.jwt.secret",
		},
		{
			name:    "tls without files",
			mutate:  func(c *Config) { c.API.TLS.Enabled = true },
			wantErr: "api.tls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Device.Host = "192.168.1.50"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Device.Host = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"device.host", "api.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestTimeoutHelpers(t *testing.T) {
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
