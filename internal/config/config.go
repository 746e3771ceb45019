package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/precise-hbr-server/internal/domain"
)

//go:embed default_engine.yaml
var defaultEngineProfile []byte

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config
}

// NewManager creates a new configuration manager. An empty configFile searches the default
// locations; a missing file there is not an error.
func NewManager(configFile string) (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(configFile); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig(configFile string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	// Engine profile shipped with the binary
	if err := v.ReadConfig(bytes.NewReader(defaultEngineProfile)); err != nil {
		return fmt.Errorf("error reading default engine profile: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/precise-hbr/")
	}

	v.SetEnvPrefix("PRECISE_HBR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Merge the operator's file over the shipped profile
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 1<<20)

	// Result memo defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.ttl", "5m")

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	// MCP defaults
	v.SetDefault("mcp.server_name", "precise-hbr-mcp-server")
	v.SetDefault("mcp.server_version", "v0.1.0")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetEngineConfig returns the clinical engine configuration
func (m *Manager) GetEngineConfig() *domain.EngineConfig {
	return &m.config.Engine
}

// ConfigFileUsed returns the merged config file path, or "" when only defaults are in effect.
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Dump renders the effective configuration as YAML.
func (m *Manager) Dump() ([]byte, error) {
	out, err := yaml.Marshal(m.v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	return out, nil
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body size: %d", config.Server.MaxBodyBytes)
	}

	// Validate memo and throttling
	if config.Cache.Enabled && config.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max_entries must be positive when the cache is enabled")
	}
	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit requires positive requests_per_second and burst")
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return ValidateEngine(&config.Engine)
}

// DefaultEngineConfig returns the shipped engine profile without any operator overrides.
func DefaultEngineConfig() (domain.EngineConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultEngineProfile)); err != nil {
		return domain.EngineConfig{}, fmt.Errorf("error reading default engine profile: %w", err)
	}
	var cfg domain.EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return domain.EngineConfig{}, fmt.Errorf("error unmarshaling engine profile: %w", err)
	}
	return cfg, nil
}
