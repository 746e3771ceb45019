// Package main provides the stdio entry point for the PRECISE-HBR MCP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/precise-hbr-server/internal/config"
	"github.com/precise-hbr-server/internal/mcp"
	"github.com/precise-hbr-server/internal/service"
	"github.com/precise-hbr-server/internal/setup"
)

func main() {
	lite := config.LoadLiteConfig()

	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cli := setup.NewCLI(lite, os.Stdin, os.Stdout)
		if err := cli.Run(os.Args[2:]); err != nil {
			os.Exit(1)
		}
		return
	}

	logger := mcp.NewLogger(lite.LogLevel, lite.LogFormat)

	if err := lite.EnsureDataDir(); err != nil {
		logger.WithError(err).Fatal("Failed to create data directory")
	}

	configManager, err := config.NewManager(lite.ProfilePath())
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configManager.Validate(); err != nil {
		logger.WithError(err).Fatal("Configuration validation failed")
	}

	cfg := configManager.GetConfig()
	engine, err := service.NewEngine(cfg.Engine, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build risk engine")
	}

	server, err := mcp.NewServer(engine, cfg.Engine, mcp.WithLogger(logger), mcp.WithImplementation(cfg.MCP))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}

	logger.WithFields(logrus.Fields{
		"data_dir":    lite.DataDir,
		"config_file": configManager.ConfigFileUsed(),
	}).Info("Starting PRECISE-HBR MCP server on stdio")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("MCP server failed")
	}

	logger.Info("PRECISE-HBR MCP server stopped")
}
