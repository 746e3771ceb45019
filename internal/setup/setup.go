// Package setup provides setup and configuration utilities for the PRECISE-HBR MCP server.
package setup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/precise-hbr-server/internal/config"
	"github.com/precise-hbr-server/internal/service"
)

// ServerName is the key used for this server in the Claude Desktop configuration.
const ServerName = "precise-hbr"

const binaryName = "mcp-server"

// ClaudeDesktopConfig represents the Claude Desktop configuration file structure.
type ClaudeDesktopConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// MCPServerConfig represents a single MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// SetupOptions contains options for the setup process.
type SetupOptions struct {
	BinaryPath       string // Path to the server binary
	DataDir          string // Data directory holding the operator's config.yaml
	ConfigFile       string // Explicit engine profile, overrides DataDir lookup
	ClaudeConfigPath string // Claude Desktop config file; empty selects the OS default
	AutoConfirm      bool   // Skip confirmation prompts
}

// GetClaudeDesktopConfigPath returns the path to Claude Desktop's config file.
func GetClaudeDesktopConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		// Try XDG config first, then fallback
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

func (o SetupOptions) claudeConfigPath() (string, error) {
	if o.ClaudeConfigPath != "" {
		return o.ClaudeConfigPath, nil
	}
	return GetClaudeDesktopConfigPath()
}

// LoadClaudeDesktopConfig loads the existing Claude Desktop configuration. A missing file
// yields an empty configuration.
func LoadClaudeDesktopConfig(configPath string) (*ClaudeDesktopConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ClaudeDesktopConfig{MCPServers: make(map[string]MCPServerConfig)}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ClaudeDesktopConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]MCPServerConfig)
	}

	return &cfg, nil
}

// SaveClaudeDesktopConfig saves the configuration to the Claude Desktop config file.
func SaveClaudeDesktopConfig(configPath string, cfg *ClaudeDesktopConfig) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigureClaudeDesktop adds or updates the PRECISE-HBR server entry, keeping any other
// servers already configured.
func ConfigureClaudeDesktop(opts SetupOptions) error {
	configPath, err := opts.claudeConfigPath()
	if err != nil {
		return err
	}

	cfg, err := LoadClaudeDesktopConfig(configPath)
	if err != nil {
		return err
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		binaryPath, err = findBinary()
		if err != nil {
			return fmt.Errorf("could not find server binary: %w", err)
		}
	}

	serverConfig := MCPServerConfig{
		Command: binaryPath,
		Env:     make(map[string]string),
	}
	if opts.DataDir != "" {
		serverConfig.Env["PRECISE_HBR_DATA_DIR"] = opts.DataDir
	}
	if opts.ConfigFile != "" {
		serverConfig.Env["PRECISE_HBR_CONFIG"] = opts.ConfigFile
	}

	cfg.MCPServers[ServerName] = serverConfig
	return SaveClaudeDesktopConfig(configPath, cfg)
}

// findBinary attempts to find the server binary in common locations.
func findBinary() (string, error) {
	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"./" + binaryName,
		"./build/" + binaryName,
		filepath.Join(home, ".local", "bin", binaryName),
		"/usr/local/bin/" + binaryName,
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if absPath, err := filepath.Abs(loc); err == nil {
				return absPath, nil
			}
			return loc, nil
		}
	}

	return "", fmt.Errorf("binary '%s' not found in common locations", binaryName)
}

// Status represents the current setup status.
type Status struct {
	ClaudeDesktopConfigured bool
	ClaudeDesktopPath       string
	ServerPath              string
	DataDir                 string
	ProfilePath             string
	ProfileError            error
	Issues                  []string
}

// GetStatus checks the current setup status. Settings recorded in the Claude Desktop entry
// win over lite.
func GetStatus(lite *config.LiteConfig, claudeConfigPath string) *Status {
	status := &Status{Issues: []string{}}
	effective := *lite

	if claudeConfigPath == "" {
		path, err := GetClaudeDesktopConfigPath()
		if err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("Could not determine Claude Desktop config path: %v", err))
		}
		claudeConfigPath = path
	}

	if claudeConfigPath != "" {
		status.ClaudeDesktopPath = claudeConfigPath
		cfg, err := LoadClaudeDesktopConfig(claudeConfigPath)
		if err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("Could not load Claude Desktop config: %v", err))
		} else if entry, ok := cfg.MCPServers[ServerName]; ok {
			status.ClaudeDesktopConfigured = true
			status.ServerPath = entry.Command
			if _, err := os.Stat(entry.Command); os.IsNotExist(err) {
				status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found at: %s", entry.Command))
			}
			if dir := entry.Env["PRECISE_HBR_DATA_DIR"]; dir != "" {
				effective.DataDir = dir
			}
			if file := entry.Env["PRECISE_HBR_CONFIG"]; file != "" {
				effective.ConfigFile = file
			}
		}
	}

	status.DataDir = effective.DataDir
	status.ProfilePath = effective.ProfilePath()
	if status.ProfileError = ValidateProfile(status.ProfilePath); status.ProfileError != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("Engine profile is invalid: %v", status.ProfileError))
	}

	return status
}

// ValidateProfile loads the engine profile at path (the shipped defaults when empty),
// validates it and builds an engine from it.
func ValidateProfile(path string) error {
	manager, err := config.NewManager(path)
	if err != nil {
		return err
	}
	if err := manager.Validate(); err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if _, err := service.NewEngine(*manager.GetEngineConfig(), logger); err != nil {
		return err
	}
	return nil
}

// DumpProfile renders the effective configuration for the profile at path as YAML.
func DumpProfile(path string) ([]byte, error) {
	manager, err := config.NewManager(path)
	if err != nil {
		return nil, err
	}
	return manager.Dump()
}
