// ABOUTME: YAML configuration for mesh sync nodes and the hub
// ABOUTME: Loads a config file over built-in defaults and validates it
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration
type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Sync        SyncConfig        `yaml:"sync"`
	Radio       RadioConfig       `yaml:"radio"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Stats       StatsConfig       `yaml:"stats"`
	Log         LogConfig         `yaml:"log"`
}

// NodeConfig identifies the node
type NodeConfig struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"` // "authority" or "client"
}

// SyncConfig holds protocol parameters. Every node in a mesh must agree on
// slots, interval and manufacturer id.
type SyncConfig struct {
	SlotsPerBurst  int    `yaml:"slots_per_burst"`
	HistoryDepth   int    `yaml:"history_depth"`
	SlotInterval   string `yaml:"slot_interval"`
	ManufacturerID uint16 `yaml:"manufacturer_id"`
	TrackEstimates bool   `yaml:"track_estimates"`
	QualityMaxAge  string `yaml:"quality_max_age"`
}

// RadioConfig selects the radio hub
type RadioConfig struct {
	HubAddr  string `yaml:"hub_addr"` // host:port, empty = discover
	Discover bool   `yaml:"discover"`
}

// PersistenceConfig locates the correction database
type PersistenceConfig struct {
	Path string `yaml:"path"` // empty disables persistence
}

// StatsConfig selects burst statistics sinks
type StatsConfig struct {
	CSVPath      string `yaml:"csv_path"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

// LogConfig holds logging options
type LogConfig struct {
	File  string `yaml:"file"`
	Debug bool   `yaml:"debug"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Role: "client",
		},
		Sync: SyncConfig{
			SlotsPerBurst:  20,
			HistoryDepth:   4,
			SlotInterval:   "100ms",
			ManufacturerID: 0x1234,
			QualityMaxAge:  "5m",
		},
		Radio: RadioConfig{
			Discover: true,
		},
		Stats: StatsConfig{
			RedisChannel: "meshsync:bursts",
		},
		Log: LogConfig{
			File: "meshsync.log",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults
// when allowMissing is set.
func Load(path string, allowMissing bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config read: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Sync.SlotsPerBurst < 2 || c.Sync.SlotsPerBurst > 254 {
		return fmt.Errorf("config: slots_per_burst must be in [2, 254], got %d", c.Sync.SlotsPerBurst)
	}
	if c.Sync.HistoryDepth < 1 {
		return fmt.Errorf("config: history_depth must be positive, got %d", c.Sync.HistoryDepth)
	}
	if _, err := parseDuration(c.Sync.SlotInterval); err != nil {
		return fmt.Errorf("config: slot_interval: %w", err)
	}
	if _, err := parseDuration(c.Sync.QualityMaxAge); err != nil {
		return fmt.Errorf("config: quality_max_age: %w", err)
	}
	switch c.Node.Role {
	case "authority", "client":
	default:
		return fmt.Errorf("config: unknown role %q", c.Node.Role)
	}
	return nil
}

// Interval returns the inter-slot delay
func (s SyncConfig) Interval() time.Duration {
	d, err := parseDuration(s.SlotInterval)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// MaxAge returns how long a correction stays good without a new round
func (s SyncConfig) MaxAge() time.Duration {
	d, err := parseDuration(s.QualityMaxAge)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}
