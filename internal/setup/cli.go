package setup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/precise-hbr-server/internal/config"
)

// CLI provides command-line interface for setup operations.
type CLI struct {
	config *config.LiteConfig
	reader *bufio.Reader
	out    io.Writer

	claudeConfigPath string
}

// NewCLI creates a new setup CLI instance.
func NewCLI(cfg *config.LiteConfig, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		config: cfg,
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run executes the setup command based on the provided arguments.
func (c *CLI) Run(args []string) error {
	if len(args) == 0 {
		return c.showHelp()
	}

	switch args[0] {
	case "claude-desktop":
		return c.setupClaudeDesktop(args[1:])
	case "status":
		return c.showStatus()
	case "validate":
		return c.validate()
	case "config":
		return c.dumpConfig()
	case "help", "--help", "-h":
		return c.showHelp()
	default:
		c.printf("Unknown command: %s\n\n", args[0])
		return c.showHelp()
	}
}

func (c *CLI) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) println(args ...interface{}) {
	fmt.Fprintln(c.out, args...)
}

// showHelp displays usage information.
func (c *CLI) showHelp() error {
	c.println(`
PRECISE-HBR MCP Server Setup

Usage:
  mcp-server setup <command> [options]

Commands:
  claude-desktop  Configure Claude Desktop integration
  status          Show current setup status
  validate        Validate the engine profile
  config          Print the effective configuration as YAML

Examples:
  # Configure Claude Desktop with auto-detection
  mcp-server setup claude-desktop

  # Configure with a specific binary and engine profile
  mcp-server setup claude-desktop --binary /path/to/mcp-server --config /etc/precise-hbr/config.yaml

  # Check the profile before restarting the server
  PRECISE_HBR_CONFIG=./config.yaml mcp-server setup validate`)
	return nil
}

// setupClaudeDesktop configures Claude Desktop integration.
func (c *CLI) setupClaudeDesktop(args []string) error {
	opts := SetupOptions{ClaudeConfigPath: c.claudeConfigPath}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--binary", "-b":
			if i+1 < len(args) {
				opts.BinaryPath = args[i+1]
				i++
			}
		case "--data-dir", "-d":
			if i+1 < len(args) {
				opts.DataDir = args[i+1]
				i++
			}
		case "--config", "-c":
			if i+1 < len(args) {
				opts.ConfigFile = args[i+1]
				i++
			}
		case "--auto", "-y":
			opts.AutoConfirm = true
		}
	}

	if opts.BinaryPath == "" {
		if execPath, err := os.Executable(); err == nil {
			opts.BinaryPath = execPath
		}
	}

	if opts.ConfigFile != "" {
		if err := ValidateProfile(opts.ConfigFile); err != nil {
			return fmt.Errorf("engine profile %s is invalid: %w", opts.ConfigFile, err)
		}
	}

	configPath, _ := opts.claudeConfigPath()
	c.println("Claude Desktop Configuration")
	c.println("============================")
	c.printf("Config file: %s\n", configPath)
	c.printf("Server binary: %s\n", opts.BinaryPath)
	if opts.DataDir != "" {
		c.printf("Data directory: %s\n", opts.DataDir)
	}
	if opts.ConfigFile != "" {
		c.printf("Engine profile: %s\n", opts.ConfigFile)
	}
	c.println()

	if !opts.AutoConfirm {
		c.printf("Proceed with configuration? [Y/n]: ")
		response, _ := c.reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "" && response != "y" && response != "yes" {
			c.println("Configuration cancelled.")
			return nil
		}
	}

	if err := ConfigureClaudeDesktop(opts); err != nil {
		return fmt.Errorf("failed to configure Claude Desktop: %w", err)
	}

	c.println()
	c.println("✓ Claude Desktop configured successfully!")
	c.println()
	c.println("Next steps:")
	c.println("  1. Restart Claude Desktop to load the new configuration")
	c.println("  2. Ask Claude: \"What MCP tools do you have available?\"")
	c.println("  3. Try: \"Calculate the PRECISE-HBR score for a 72 year old with Hb 11.2 g/dL\"")
	c.println()

	return nil
}

// showStatus displays the current setup status.
func (c *CLI) showStatus() error {
	status := GetStatus(c.config, c.claudeConfigPath)

	c.println("PRECISE-HBR MCP Server Status")
	c.println("=============================")
	c.println()

	c.println("Claude Desktop:")
	c.printf("  Config path: %s\n", status.ClaudeDesktopPath)
	if status.ClaudeDesktopConfigured {
		c.println("  Status: ✓ Configured")
		c.printf("  Binary: %s\n", status.ServerPath)
	} else {
		c.println("  Status: ✗ Not configured")
	}
	c.println()

	c.println("Engine profile:")
	c.printf("  Data directory: %s\n", status.DataDir)
	if status.ProfilePath == "" {
		c.println("  Profile: shipped defaults")
	} else {
		c.printf("  Profile: %s\n", status.ProfilePath)
	}
	if status.ProfileError == nil {
		c.println("  Status: ✓ Valid")
	} else {
		c.println("  Status: ✗ Invalid")
	}
	c.println()

	if len(status.Issues) > 0 {
		c.println("Issues:")
		for _, issue := range status.Issues {
			c.printf("  ⚠ %s\n", issue)
		}
		c.println()
	}

	return nil
}

// validate checks the engine profile the server would load.
func (c *CLI) validate() error {
	path := c.config.ProfilePath()
	if path == "" {
		c.println("Validating shipped engine profile...")
	} else {
		c.printf("Validating %s...\n", path)
	}
	c.println()

	if err := ValidateProfile(path); err != nil {
		c.println("✗ Configuration has issues:")
		c.printf("  - %v\n", err)
		return err
	}

	c.println("✓ Configuration is valid!")
	return nil
}

// dumpConfig prints the effective configuration.
func (c *CLI) dumpConfig() error {
	out, err := DumpProfile(c.config.ProfilePath())
	if err != nil {
		return err
	}
	_, err = c.out.Write(out)
	return err
}
