package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultConfigName   = "config.json"
	defaultVolumesDir   = "volumes"
	defaultDatabaseFile = "krypton.db"
	defaultPort         = 8080
)

type Config struct {
	ListenPort   int    `json:"listen_port"`
	APIKey       string `json:"api_key"`
	PanelURL     string `json:"panel_url"`
	VolumesPath  string `json:"volumes_path"`
	DatabasePath string `json:"database_path"`
	LogJSON      bool   `json:"log_json"`

	// MaxConnectionsPerIP bounds concurrent console sockets per
	// source address. 0 disables the bound.
	MaxConnectionsPerIP int `json:"max_connections_per_ip"`
}

func LoadConfig(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, defaultConfigName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return createDefaultConfig(configPath, configDir)
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", configPath, err)
	}

	if cfg.ListenPort == 0 {
		cfg.ListenPort = defaultPort
	}
	if cfg.VolumesPath == "" {
		cfg.VolumesPath = filepath.Join(configDir, defaultVolumesDir)
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(configDir, defaultDatabaseFile)
	}

	return &cfg, nil
}

func createDefaultConfig(configPath, configDir string) (*Config, error) {
	cfg := Config{
		ListenPort:   defaultPort,
		PanelURL:     "http://localhost:3000",
		VolumesPath:  filepath.Join(configDir, defaultVolumesDir),
		DatabasePath: filepath.Join(configDir, defaultDatabaseFile),
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return nil, err
	}

	return &cfg, nil
}
