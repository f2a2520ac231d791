package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all coral-server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr  string `json:"listen_addr"`
	BaseURL     string `json:"base_url"`
	LogLevel    string `json:"log_level"`
	AppsPath    string `json:"apps_path"`
	ArchivePath string `json:"archive_path"`
	ArchiveOn   bool   `json:"archive"`
	StatsSpec   string `json:"stats_schedule"`
	StatsOn     bool   `json:"stats"`
	Panel       bool   `json:"panel"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:  ":3001",
		LogLevel:    "info",
		ArchivePath: filepath.Join(coralDir(), "archive.db"),
		StatsSpec:   "@every 1m",
		StatsOn:     true,
		Panel:       true,
	}
}

func coralDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coral"
	}
	return filepath.Join(home, ".coral")
}

func settingsPath() string {
	return filepath.Join(coralDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CORAL_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CORAL_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("CORAL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CORAL_APPS_PATH"); v != "" {
		cfg.AppsPath = v
	}
	if v := os.Getenv("CORAL_ARCHIVE_PATH"); v != "" {
		cfg.ArchivePath = v
	}
	if v := os.Getenv("CORAL_ARCHIVE"); v != "" {
		cfg.ArchiveOn = v == "true" || v == "1"
	}
	if v := os.Getenv("CORAL_STATS_SCHEDULE"); v != "" {
		cfg.StatsSpec = v
	}
	if v := os.Getenv("CORAL_STATS"); v != "" {
		cfg.StatsOn = v == "true" || v == "1"
	}
	if v := os.Getenv("CORAL_PANEL"); v != "" {
		cfg.Panel = v == "true" || v == "1"
	}

	// Derive base_url from listen_addr if empty.
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}

	return cfg
}
