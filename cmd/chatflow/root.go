package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/chatflow/internal/cli"
	"github.com/aretw0/chatflow/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatflow",
	Short: "Chatflow runs visual conversation flows for chat channels",
	Long: `Chatflow executes flows designed in a visual editor against inbound chat
messages, keeping one conversation session per chat.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the configuration file (default chatflow.yaml when present)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Override the log format (text, json)")
}

// loadConfig reads the configuration and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Log.Format = format
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := cli.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openRuntime builds the engine described by the configuration.
// The caller closes it.
func openRuntime(cmd *cobra.Command) (*cli.Runtime, *config.Config, *slog.Logger, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	rt, err := cli.NewRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return rt, cfg, logger, nil
}

func closeRuntime(rt *cli.Runtime) {
	if err := rt.Close(context.Background()); err != nil {
		slog.Warn("Failed to release resources", "err", err)
	}
}
