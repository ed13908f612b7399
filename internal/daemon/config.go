// Package daemon manages the engine's lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all engine configuration.
type Config struct {
	Node       NodeConfig       `toml:"node"`
	API        APIConfig        `toml:"api"`
	Store      StoreConfig      `toml:"store"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Redundancy RedundancyConfig `toml:"redundancy"`
	Logging    LoggingConfig    `toml:"logging"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID string `toml:"id"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// StoreConfig selects the shared lock store. An empty RedisAddr keeps the
// engine on the in-process store — fine for a single node, but locking
// policies across multiple processes need Redis.
type StoreConfig struct {
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
}

// SchedulerConfig bounds scheduling work per request.
type SchedulerConfig struct {
	MaxLimit              int `toml:"max_limit"`
	LockProbeMargin       int `toml:"lock_probe_margin"`
	DefaultTimeoutSeconds int `toml:"default_timeout_seconds"`
}

// RedundancyConfig controls the redundancy engine.
type RedundancyConfig struct {
	UpdateExpirationDays int `toml:"update_expiration_days"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    5000,
			Metrics: true,
		},
		Scheduler: SchedulerConfig{
			MaxLimit:              100,
			LockProbeMargin:       20,
			DefaultTimeoutSeconds: 3600,
		},
		Redundancy: RedundancyConfig{
			UpdateExpirationDays: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(engineHome(), "pybossa.log"),
		},
	}
}

// LoadConfig reads config from <home>/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(engineHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to <home>/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(engineHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// engineHome returns the engine data directory.
func engineHome() string {
	if env := os.Getenv("PYBOSSA_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pybossa")
}

// Home is exported for use by other packages.
func Home() string {
	return engineHome()
}
