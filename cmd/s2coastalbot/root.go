package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"S2CoastalBot/internal/config"
	"S2CoastalBot/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "s2coastalbot",
	Short:         "Post Sentinel-2 coastal imagery to social networks",
	Long:          "Picks a recent, cloud free Sentinel-2 acquisition over a coastal tile and publishes a processed preview with a caption.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration (default $S2COASTALBOT_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

// loadRuntime reads the configuration and builds the logger every
// config-driven command uses.
func loadRuntime() (config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, closer, err := logging.NewWithConfig(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, logger, closer, nil
}

// standaloneLogger is used by commands that work without a config file.
func standaloneLogger() *slog.Logger {
	level := logLevel
	if level == "" {
		level = "info"
	}
	return logging.New(level)
}
