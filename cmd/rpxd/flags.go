package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath  string
	Verbosity   int
	LogFormat   string
	AuthSecret  string
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("RPX_CONFIG", ""),
		"Path to configuration file, empty for built-in defaults (env: RPX_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("RPX_CONFIG", ""),
		"Path to configuration file, empty for built-in defaults (env: RPX_CONFIG)")

	flag.IntVar(&cfg.Verbosity, "verbosity",
		getEnvInt("RPX_VERBOSITY", -1),
		"Log verbosity 0-6, -1 to use the config value (env: RPX_VERBOSITY)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("RPX_LOG_FORMAT", ""),
		"Log format: text, json; empty to use the config value (env: RPX_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	// the token secret never goes on the command line
	cfg.AuthSecret = os.Getenv("RPX_AUTH_SECRET")

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.Verbosity < -1 || cfg.Verbosity > 6 {
		return fmt.Errorf("invalid verbosity: %d", cfg.Verbosity)
	}

	if cfg.LogFormat != "" && cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - WRAN telemetry fan-out daemon

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with custom config
  %s --config=/etc/rpx/rpxd.json

  # Run with trace logging
  %s --verbosity=1 --log-format=text

  # Run with environment variables
  export RPX_CONFIG=/etc/rpx/rpxd.json
  export RPX_AUTH_SECRET=change-me
  %s

  # Validate configuration only
  %s --config=/etc/rpx/rpxd.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
