package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jweiland-net/bynder2/internal/config"
	"github.com/jweiland-net/bynder2/internal/logger"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bynder2",
	Short: "Synchronize Bynder asset libraries into the local file index",
	Long: `bynder2 mirrors the assets of one or more Bynder libraries into a local
file index and exposes every library as a flat, read-only folder.

Example usage:
  bynder2 sync                       # synchronize every configured storage
  bynder2 sync --storage 2           # synchronize storage 2 only
  bynder2 serve --sync-interval 1h   # serve the gateway, sync hourly
  bynder2 auth url --storage 2       # start the OAuth2 flow of storage 2`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded

		if err := logger.Init(cfg.LoggerConfig()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Shutdown()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default searches ./config.yaml and the user config dir)")
}
