// internal/config/config.go
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all subsystem configuration. Values come from
// ~/.reelhist/config.yaml layered over the defaults below.
type Config struct {
	HomeDir     string `yaml:"-"`
	ReelhistDir string `yaml:"-"`
	LogDir      string `yaml:"-"`

	// StoragePath is the sqlite database file; empty plus InMemory
	// selects the in-memory backend.
	StoragePath string `yaml:"storage_path"`
	InMemory    bool   `yaml:"in_memory"`

	MaxHistorySize     int  `yaml:"max_history_size"`
	MaxCheckpoints     int  `yaml:"max_checkpoints"`
	MaxUndoDepth       int  `yaml:"max_undo_depth"`
	CompressionEnabled bool `yaml:"compression_enabled"`
	CompressionLevel   int  `yaml:"compression_level"`

	AutoSaveInterval    time.Duration `yaml:"auto_save_interval"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	ChangeCheckInterval time.Duration `yaml:"change_check_interval"`
	IdleThreshold       time.Duration `yaml:"idle_threshold"`
	IdleSweepInterval   time.Duration `yaml:"idle_sweep_interval"`
	RecoveryStaleAfter  time.Duration `yaml:"recovery_stale_after"`
	UnsavedWindow       time.Duration `yaml:"unsaved_window"`
	MaxUnsavedAge       time.Duration `yaml:"max_unsaved_age"`

	SafeNavigationPatterns []string `yaml:"safe_navigation_patterns"`
	AutoSaveOnConfirm      bool     `yaml:"auto_save_on_confirm"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		MaxHistorySize:      100,
		MaxCheckpoints:      50,
		MaxUndoDepth:        50,
		CompressionEnabled:  true,
		CompressionLevel:    3,
		AutoSaveInterval:    2 * time.Minute,
		PollInterval:        2 * time.Second,
		ChangeCheckInterval: 5 * time.Second,
		IdleThreshold:       30 * time.Minute,
		IdleSweepInterval:   5 * time.Minute,
		RecoveryStaleAfter:  24 * time.Hour,
		UnsavedWindow:       5 * time.Minute,
		MaxUnsavedAge:       30 * time.Minute,
		AutoSaveOnConfirm:   true,
	}
}

// Load creates a Config with resolved paths, applying any overrides
// found in the config file
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	reelhistDir := filepath.Join(home, ".reelhist")
	logDir := filepath.Join(reelhistDir, "logs")

	// Ensure directories exist
	for _, dir := range []string{reelhistDir, logDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	cfg := Defaults()
	cfg.HomeDir = home
	cfg.ReelhistDir = reelhistDir
	cfg.LogDir = logDir
	cfg.StoragePath = filepath.Join(reelhistDir, "history.db")

	configPath := filepath.Join(reelhistDir, "config.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Save writes the current configuration back to the config file
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.ReelhistDir, "config.yaml"), data, 0644)
}
