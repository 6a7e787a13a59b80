// Package config loads the bootstrap configuration of the server from a YAML
// file. Settings edited at runtime through the setup pages live in the
// database; values here only seed them on first start.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"fwalpaca/pkg/arduino"
	"fwalpaca/pkg/serialport"

	"gopkg.in/yaml.v3"
)

const envPrefix = "FWALPACA_"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Serial   SerialConfig   `yaml:"serial"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Wheels   []WheelConfig  `yaml:"wheels"`
}

type ServerConfig struct {
	Name          string `yaml:"name"`
	Location      string `yaml:"location"`
	Port          int    `yaml:"port"`
	DiscoveryAddr string `yaml:"discovery_addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type SerialConfig struct {
	Backend string `yaml:"backend"`
}

type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	TopicRoot string `yaml:"topic_root"`
}

// WheelConfig declares one filter wheel device. Simulated wheels are driven
// by an emulated controller instead of a serial port.
type WheelConfig struct {
	Number        int    `yaml:"number"`
	Name          string `yaml:"name"`
	Port          string `yaml:"port"`
	Dialect       string `yaml:"dialect"`
	Positions     int    `yaml:"positions"`
	SettleDelayMs int    `yaml:"settle_delay_ms"`
	Simulate      bool   `yaml:"simulate"`
}

// Default returns the configuration used when no file is given: one
// simulated wheel.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:          "Filter Wheel Alpaca Server",
			Port:          8090,
			DiscoveryAddr: "0.0.0.0",
		},
		Database: DatabaseConfig{
			Path: "fwalpaca.db",
		},
		Serial: SerialConfig{
			Backend: serialport.BackendBugst,
		},
		MQTT: MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			ClientID:  "fwalpaca",
			TopicRoot: "fwalpaca",
		},
		Wheels: []WheelConfig{
			{
				Number:   0,
				Name:     "Simulated Filter Wheel",
				Port:     "SIM0",
				Simulate: true,
			},
		},
	}
}

// Load reads the configuration at path on top of the defaults, then applies
// environment overrides. An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Wheels {
		cfg.Wheels[i].applyDefaults()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (w *WheelConfig) applyDefaults() {
	if w.Name == "" {
		w.Name = fmt.Sprintf("Filter Wheel %d", w.Number)
	}
	if w.Dialect == "" {
		w.Dialect = arduino.DialectASCII.Name
	}
	if w.Positions == 0 {
		w.Positions = 7
	}
	if w.SettleDelayMs == 0 {
		w.SettleDelayMs = 500
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(envPrefix + "DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(envPrefix + "LOCATION"); v != "" {
		cfg.Server.Location = v
	}
	if v := os.Getenv(envPrefix + "SERIAL_BACKEND"); v != "" {
		cfg.Serial.Backend = v
	}

	if v := os.Getenv(envPrefix + "MQTT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sMQTT_ENABLED %q", envPrefix, v)
		}
		cfg.MQTT.Enabled = enabled
	}
	if v := os.Getenv(envPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv(envPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if _, err := serialport.NewBackend(c.Serial.Backend); err != nil {
		errs = append(errs, fmt.Errorf("serial.backend: %w", err))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			errs = append(errs, errors.New("mqtt.host is required when mqtt is enabled"))
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			errs = append(errs, fmt.Errorf("mqtt.port must be between 1 and 65535, got %d", c.MQTT.Port))
		}
		if c.MQTT.TopicRoot == "" {
			errs = append(errs, errors.New("mqtt.topic_root is required when mqtt is enabled"))
		}
	}

	numbers := make(map[int]bool)
	for _, w := range c.Wheels {
		if w.Number < 0 {
			errs = append(errs, fmt.Errorf("wheel number %d is negative", w.Number))
		}
		if numbers[w.Number] {
			errs = append(errs, fmt.Errorf("wheel number %d is used twice", w.Number))
		}
		numbers[w.Number] = true

		if _, err := arduino.ParseDialect(w.Dialect); err != nil {
			errs = append(errs, fmt.Errorf("wheel %d: %w", w.Number, err))
		}
		if w.Positions < 2 {
			errs = append(errs, fmt.Errorf("wheel %d: at least 2 positions are required", w.Number))
		}
	}

	return errors.Join(errs...)
}
