package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.ListenPort != defaultPort {
		t.Errorf("Expected default port %d, got %d", defaultPort, cfg.ListenPort)
	}
	if cfg.VolumesPath != filepath.Join(dir, "volumes") {
		t.Errorf("Unexpected volumes path %q", cfg.VolumesPath)
	}
	if cfg.MaxConnectionsPerIP != 0 {
		t.Errorf("Per-IP bound must default to disabled, got %d", cfg.MaxConnectionsPerIP)
	}

	if _, err := os.Stat(filepath.Join(dir, defaultConfigName)); err != nil {
		t.Errorf("Expected default config file written: %v", err)
	}
}

func TestLoadConfigReadsExisting(t *testing.T) {
	dir := t.TempDir()

	existing := Config{
		ListenPort:          9000,
		APIKey:              "secret",
		PanelURL:            "https://panel.example.com",
		MaxConnectionsPerIP: 10,
	}
	data, _ := json.Marshal(existing)
	if err := os.WriteFile(filepath.Join(dir, defaultConfigName), data, 0644); err != nil {
		t.Fatalf("Could not seed config: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.ListenPort != 9000 || cfg.APIKey != "secret" {
		t.Errorf("Expected existing values preserved, got %+v", cfg)
	}
	if cfg.MaxConnectionsPerIP != 10 {
		t.Errorf("Expected per-IP bound 10, got %d", cfg.MaxConnectionsPerIP)
	}
	if cfg.DatabasePath == "" {
		t.Errorf("Expected database path defaulted for sparse config")
	}
}
