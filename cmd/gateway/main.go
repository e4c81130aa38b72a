// Command gateway runs the overgate API gateway: it loads the YAML
// configuration, assembles the request pipeline, and serves gateway
// traffic plus operational endpoints until shut down.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/overgate-io/overgate/internal/config"
	"github.com/overgate-io/overgate/internal/observability"
)

type cliFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func parseFlags() *cliFlags {
	flags := &cliFlags{}

	flag.StringVar(&flags.configPath, "config",
		getEnvOrDefault("GATEWAY_CONFIG_PATH", "config.yaml"),
		"Path to the gateway configuration file")
	flag.StringVar(&flags.logLevel, "log-level",
		getEnvOrDefault("GATEWAY_LOG_LEVEL", ""),
		"Log level override (debug, info, warn, error)")
	flag.StringVar(&flags.logFormat, "log-format",
		getEnvOrDefault("GATEWAY_LOG_FORMAT", ""),
		"Log format override (json or console)")
	flag.Parse()

	return flags
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// initLogger builds the process logger from file config, with CLI/env
// overrides taking precedence.
func initLogger(cfg config.LogConfig, flags *cliFlags) (observability.Logger, error) {
	logCfg := observability.LogConfig{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	}
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		logCfg.Format = flags.logFormat
	}

	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	observability.SetGlobalLogger(logger)
	return logger, nil
}

func main() {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Log, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	app, err := newApplication(cfg, flags.configPath, logger)
	if err != nil {
		logger.Fatal("failed to initialize gateway", observability.Error(err))
	}

	if err := app.Run(); err != nil {
		logger.Fatal("gateway exited with error", observability.Error(err))
	}
}
