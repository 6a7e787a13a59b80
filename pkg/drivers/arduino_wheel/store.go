package arduino_wheel

import (
	"encoding/json"
	"errors"
	"fmt"

	"fwalpaca/pkg/arduino"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket             = "alpaca"
	configKeyFmt       = "wheel_config_%d"
	defaultPositions   = 7
	defaultSettleDelay = 500
	maxPositions       = 16
)

var errConfigNotFound = errors.New("config not found")

// Config is the configuration of one filter wheel, edited through its setup
// page. Labels and FocusOffsets are indexed by position.
type Config struct {
	Name          string   `json:"name"`
	UniqueID      string   `json:"unique_id"`
	Port          string   `json:"port"`
	Dialect       string   `json:"dialect"`
	Positions     int      `json:"positions"`
	SettleDelayMs int      `json:"settle_delay_ms"`
	Labels        []string `json:"labels"`
	FocusOffsets  []int    `json:"focus_offsets"`
}

// DefaultConfig returns the configuration of the wheel shipped with the
// controller.
func DefaultConfig() Config {
	return Config{
		Name:          "Arduino Filter Wheel",
		Dialect:       arduino.DialectASCII.Name,
		Positions:     defaultPositions,
		SettleDelayMs: defaultSettleDelay,
	}
}

func (c Config) Validate() error {
	if _, err := arduino.ParseDialect(c.Dialect); err != nil {
		return err
	}
	if c.Positions < 2 || c.Positions > maxPositions {
		return fmt.Errorf("number of positions must be between 2 and %d", maxPositions)
	}
	if c.SettleDelayMs < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}
	if len(c.Labels) > c.Positions {
		return fmt.Errorf("%d labels for %d positions", len(c.Labels), c.Positions)
	}
	if len(c.FocusOffsets) > c.Positions {
		return fmt.Errorf("%d focus offsets for %d positions", len(c.FocusOffsets), c.Positions)
	}
	return nil
}

// labelMap returns the configured labels for arduino.WithLabels.
func (c Config) labelMap() map[int]string {
	labels := make(map[int]string, len(c.Labels))
	for pos, label := range c.Labels {
		if label != "" {
			labels[pos] = label
		}
	}
	return labels
}

// focusOffsets returns one offset per position.
func (c Config) focusOffsets() []int {
	offsets := make([]int, c.Positions)
	copy(offsets, c.FocusOffsets)
	return offsets
}

type store struct {
	db  *bolt.DB
	key []byte
}

// NewStore creates a new store instance and sets default values if they are not already set.
func NewStore(db *bolt.DB, number int, defaults Config) (*store, error) {
	st := store{db: db, key: fmt.Appendf(nil, configKeyFmt, number)}

	if err := st.setDefaults(defaults); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *store) setDefaults(defaults Config) error {
	_, err := s.GetConfig()
	if !errors.Is(err, errConfigNotFound) {
		return err
	}

	if defaults.UniqueID == "" {
		defaults.UniqueID = uuid.NewString()
	}
	log.Infof("Setting default filter wheel config for %s", s.key)
	return s.SetConfig(defaults)
}

// SetConfig saves the wheel configuration as a json string in the database.
func (s *store) SetConfig(cfg Config) error {
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
		return b.Put(s.key, value)
	})
}

// GetConfig retrieves the wheel configuration from the database.
func (s *store) GetConfig() (Config, error) {
	var cfg Config

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return errConfigNotFound
		}

		value := b.Get(s.key)
		if value == nil {
			return errConfigNotFound
		}

		return json.Unmarshal(value, &cfg)
	})

	return cfg, err
}
