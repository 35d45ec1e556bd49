package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.MaxHistorySize != 100 {
		t.Errorf("Expected max history 100, got %d", cfg.MaxHistorySize)
	}
	if cfg.MaxCheckpoints != 50 {
		t.Errorf("Expected max checkpoints 50, got %d", cfg.MaxCheckpoints)
	}
	if !cfg.CompressionEnabled || cfg.CompressionLevel != 3 {
		t.Error("Expected compression enabled at level 3")
	}
	if cfg.RecoveryStaleAfter != 24*time.Hour {
		t.Errorf("Expected 24h staleness cutoff, got %v", cfg.RecoveryStaleAfter)
	}
	if !cfg.AutoSaveOnConfirm {
		t.Error("Expected auto-save on confirm enabled")
	}
}

func TestLoadCreatesDirectories(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for _, dir := range []string{cfg.ReelhistDir, cfg.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("Expected directory %s to exist", dir)
		}
	}
	if cfg.StoragePath != filepath.Join(cfg.ReelhistDir, "history.db") {
		t.Errorf("Unexpected storage path %s", cfg.StoragePath)
	}
	// No config file: defaults apply
	if cfg.MaxHistorySize != 100 {
		t.Errorf("Expected default max history, got %d", cfg.MaxHistorySize)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	reelhistDir := filepath.Join(home, ".reelhist")
	if err := os.MkdirAll(reelhistDir, 0755); err != nil {
		t.Fatal(err)
	}
	override := []byte("max_history_size: 25\nin_memory: true\nsafe_navigation_patterns:\n  - /projects/\n")
	if err := os.WriteFile(filepath.Join(reelhistDir, "config.yaml"), override, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MaxHistorySize != 25 {
		t.Errorf("Expected overridden max history 25, got %d", cfg.MaxHistorySize)
	}
	if !cfg.InMemory {
		t.Error("Expected in-memory override applied")
	}
	if len(cfg.SafeNavigationPatterns) != 1 || cfg.SafeNavigationPatterns[0] != "/projects/" {
		t.Errorf("Unexpected safe patterns %v", cfg.SafeNavigationPatterns)
	}
	// Untouched keys keep their defaults
	if cfg.MaxCheckpoints != 50 {
		t.Errorf("Expected default max checkpoints, got %d", cfg.MaxCheckpoints)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	reelhistDir := filepath.Join(home, ".reelhist")
	if err := os.MkdirAll(reelhistDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(reelhistDir, "config.yaml"), []byte("{not yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Error("Expected error for malformed config file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg.MaxHistorySize = 42

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.MaxHistorySize != 42 {
		t.Errorf("Expected saved max history 42, got %d", loaded.MaxHistorySize)
	}
}
