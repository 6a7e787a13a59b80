package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "fwalpaca.db", cfg.Database.Path)
	require.Len(t, cfg.Wheels, 1)
	assert.True(t, cfg.Wheels[0].Simulate)
	assert.Equal(t, "ascii", cfg.Wheels[0].Dialect)
	assert.Equal(t, 7, cfg.Wheels[0].Positions)
	assert.Equal(t, 500, cfg.Wheels[0].SettleDelayMs)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 11111
  location: Microscope room
serial:
  backend: tarm
mqtt:
  enabled: true
  host: broker.local
wheels:
  - number: 0
    port: /dev/ttyACM0
  - number: 1
    name: Excitation
    port: /dev/ttyUSB0
    dialect: binary
    settle_delay_ms: 800
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 11111, cfg.Server.Port)
	assert.Equal(t, "Microscope room", cfg.Server.Location)
	assert.Equal(t, "0.0.0.0", cfg.Server.DiscoveryAddr)
	assert.Equal(t, "tarm", cfg.Serial.Backend)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)

	require.Len(t, cfg.Wheels, 2)
	assert.Equal(t, WheelConfig{Number: 0, Name: "Filter Wheel 0", Port: "/dev/ttyACM0", Dialect: "ascii", Positions: 7, SettleDelayMs: 500}, cfg.Wheels[0])
	assert.Equal(t, "binary", cfg.Wheels[1].Dialect)
	assert.Equal(t, 800, cfg.Wheels[1].SettleDelayMs)
	assert.False(t, cfg.Wheels[1].Simulate)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FWALPACA_DATABASE_PATH", "/var/lib/fwalpaca.db")
	t.Setenv("FWALPACA_MQTT_ENABLED", "true")
	t.Setenv("FWALPACA_MQTT_HOST", "mqtt.example")
	t.Setenv("FWALPACA_MQTT_PASSWORD", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/fwalpaca.db", cfg.Database.Path)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "mqtt.example", cfg.MQTT.Host)
	assert.Equal(t, "secret", cfg.MQTT.Password)
}

func TestInvalidEnvOverride(t *testing.T) {
	t.Setenv("FWALPACA_MQTT_ENABLED", "maybe")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		message string
	}{
		{"Malformed YAML", "server: [", "parsing config file"},
		{"Bad server port", "server:\n  port: 0", "server.port"},
		{"Unknown backend", "serial:\n  backend: usb", "serial.backend"},
		{"Duplicate wheel", "wheels:\n  - number: 1\n  - number: 1", "used twice"},
		{"Unknown dialect", "wheels:\n  - number: 1\n    dialect: morse", "unknown dialect"},
		{"MQTT without topic", "mqtt:\n  enabled: true\n  topic_root: ''", "mqtt.topic_root"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
