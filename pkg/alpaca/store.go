package alpaca

import (
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket    = "alpaca"
	configKey = "server_config"
)

var ErrConfigNotFound = errors.New("config not found")

// MQTTConfig configures the telemetry broker connection.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	TopicRoot string `json:"topic_root"`
}

// Config is the server configuration edited through the setup page.
type Config struct {
	Location string     `json:"location"`
	MQTT     MQTTConfig `json:"mqtt"`
}

func (c Config) Validate() error {
	if !c.MQTT.Enabled {
		return nil
	}
	if c.MQTT.Host == "" {
		return fmt.Errorf("MQTT host cannot be empty")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return fmt.Errorf("invalid MQTT port: %d", c.MQTT.Port)
	}
	if c.MQTT.TopicRoot == "" {
		return fmt.Errorf("MQTT topic root cannot be empty")
	}
	return nil
}

type Store struct {
	db *bolt.DB
}

// NewStore creates a store and saves defaults when no configuration has been
// stored yet.
func NewStore(db *bolt.DB, defaults Config) (*Store, error) {
	st := Store{db: db}

	if err := st.setDefaults(defaults); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) setDefaults(defaults Config) error {
	_, err := s.GetConfig()
	if !errors.Is(err, ErrConfigNotFound) {
		return err
	}

	log.Infof("Setting default server config")
	return s.SetConfig(defaults)
}

// SetConfig saves the server configuration as a json string in the database.
func (s *Store) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put([]byte(configKey), value)
	})
}

// GetConfig retrieves the server configuration from the database.
func (s *Store) GetConfig() (Config, error) {
	var cfg Config

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return ErrConfigNotFound
		}

		value := b.Get([]byte(configKey))
		if value == nil {
			return ErrConfigNotFound
		}

		return json.Unmarshal(value, &cfg)
	})

	return cfg, err
}
