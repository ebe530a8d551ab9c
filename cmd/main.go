package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jujo1/solarsynkv3/internal/bridge"
	"github.com/jujo1/solarsynkv3/internal/config"
	"github.com/jujo1/solarsynkv3/internal/logging"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "solarsynk",
	Short: "SolarSynkV3 - Sync Sunsynk inverter data with Home Assistant",
	Long: `A single-shot bridge that polls the Sunsynk cloud API, republishes
inverter telemetry as Home Assistant sensor entities, and pushes back any
settings change staged in Home Assistant. Invoke it once per refresh cycle
from an external scheduler.`,
	RunE: runBridge,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "options file (default is /data/options.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runBridge executes one bridge pass
func runBridge(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	orchestrator := bridge.New(cfg, logger)
	return orchestrator.Run(context.Background())
}

// setup loads the configuration and initializes logging for a command
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.Initialize(level)

	if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
		logger.WithError(err).Warn("Failed to set up file logging")
	}

	return cfg, logger, nil
}
