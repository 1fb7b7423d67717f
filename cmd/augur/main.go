package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/augur/internal/app"
	"github.com/newthinker/augur/internal/config"
	"github.com/newthinker/augur/internal/logger"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "augur",
	Short: "augur - prediction-driven strategy backtesting",
	Long: `augur replays a model's daily buy predictions against historical prices,
simulating entries, exits and costs under strategy rules, and reports how the
strategy would have performed.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config, or falls back to defaults.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Defaults()
	}

	if debug {
		cfg.Log.Development = true
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setup loads config, builds the logger and wires the app.
func setup() (*app.App, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Options{Development: cfg.Log.Development, Level: cfg.Log.Level})
	if err != nil {
		return nil, nil, err
	}
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
	}

	a, err := app.New(cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, fmt.Errorf("starting augur: %w", err)
	}
	return a, log, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
