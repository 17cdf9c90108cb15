// ABOUTME: Tests for configuration loading
// ABOUTME: Tests defaults, overrides and validation failures
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Sync.SlotsPerBurst != 20 || cfg.Sync.HistoryDepth != 4 {
		t.Errorf("unexpected burst defaults: %+v", cfg.Sync)
	}
	if cfg.Sync.Interval() != 100*time.Millisecond {
		t.Errorf("expected 100ms, got %v", cfg.Sync.Interval())
	}
	if cfg.Sync.ManufacturerID != 0x1234 {
		t.Errorf("expected 0x1234, got %#x", cfg.Sync.ManufacturerID)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
node:
  name: kitchen
  role: authority
sync:
  slots_per_burst: 10
  slot_interval: 50ms
radio:
  hub_addr: 10.0.0.2:8930
`)

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if cfg.Node.Name != "kitchen" || cfg.Node.Role != "authority" {
		t.Errorf("unexpected node config: %+v", cfg.Node)
	}
	if cfg.Sync.SlotsPerBurst != 10 || cfg.Sync.Interval() != 50*time.Millisecond {
		t.Errorf("unexpected sync config: %+v", cfg.Sync)
	}
	// Untouched fields keep their defaults
	if cfg.Sync.HistoryDepth != 4 {
		t.Errorf("expected default history depth, got %d", cfg.Sync.HistoryDepth)
	}
	if cfg.Radio.HubAddr != "10.0.0.2:8930" {
		t.Errorf("unexpected hub addr %q", cfg.Radio.HubAddr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	if _, err := Load(path, false); err == nil {
		t.Error("expected error for missing file")
	}

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("expected defaults, got %v", err)
	}
	if cfg.Sync.SlotsPerBurst != 20 {
		t.Errorf("expected defaults, got %+v", cfg.Sync)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"too few slots", func(c *Config) { c.Sync.SlotsPerBurst = 1 }},
		{"too many slots", func(c *Config) { c.Sync.SlotsPerBurst = 255 }},
		{"no history", func(c *Config) { c.Sync.HistoryDepth = 0 }},
		{"bad interval", func(c *Config) { c.Sync.SlotInterval = "fast" }},
		{"zero interval", func(c *Config) { c.Sync.SlotInterval = "0s" }},
		{"bad role", func(c *Config) { c.Node.Role = "master" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "sync: [unclosed")
	if _, err := Load(path, false); err == nil {
		t.Error("expected yaml error")
	}
}
