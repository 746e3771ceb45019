package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/precise-hbr-server/internal/api"
	"github.com/precise-hbr-server/internal/config"
	"github.com/precise-hbr-server/internal/service"
)

func main() {
	configFile := flag.String("config", "", "path to config.yaml (defaults to ./config.yaml, ./config/, /etc/precise-hbr/)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	configManager, err := config.NewManager(*configFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		logger.WithError(err).Fatal("Configuration validation failed")
	}

	cfg := configManager.GetConfig()
	configureLogger(logger, cfg.Logging.Level, cfg.Logging.Format)

	engine, err := service.NewEngine(cfg.Engine, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build risk engine")
	}

	server, err := api.NewServer(configManager, engine, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create HTTP server")
	}

	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"config_file": configManager.ConfigFileUsed(),
	}).Info("Starting PRECISE-HBR server")

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
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

func configureLogger(logger *logrus.Logger, level, format string) {
	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
}
