package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds all operond server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`
	MCP        bool   `json:"mcp"`
	Scheduler  bool   `json:"scheduler"`

	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:      ":4200",
		DBPath:          filepath.Join(operonDir(), "operon.db"),
		LogLevel:        "info",
		Scheduler:       true,
		ShutdownTimeout: 10 * time.Second,
	}
}

func operonDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".operon"
	}
	return filepath.Join(home, ".operon")
}

func settingsPath() string {
	return filepath.Join(operonDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("OPERON_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("OPERON_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("OPERON_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OPERON_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}
	if v := os.Getenv("OPERON_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}
	if v := os.Getenv("OPERON_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}

	return cfg
}
