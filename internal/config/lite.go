// Package config provides configuration management for the PRECISE-HBR servers.
// This file contains the lightweight configuration for the standalone MCP binary.
package config

import (
	"os"
	"path/filepath"
)

// LiteConfig is a simplified configuration for standalone operation.
// It is read from environment variables only.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the operator's engine profile

	// Engine profile
	ConfigFile string // Optional: explicit config.yaml path

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".precise-hbr")

	return &LiteConfig{
		DataDir:   dataDir,
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("PRECISE_HBR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PRECISE_HBR_CONFIG"); v != "" {
		cfg.ConfigFile = v
	}

	// Logging
	if v := os.Getenv("PRECISE_HBR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PRECISE_HBR_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// ProfilePath returns the engine profile to load: the explicit file when set, otherwise
// config.yaml in the data directory if it exists, otherwise "" for the shipped defaults.
func (c *LiteConfig) ProfilePath() string {
	if c.ConfigFile != "" {
		return c.ConfigFile
	}
	candidate := filepath.Join(c.DataDir, "config.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}
