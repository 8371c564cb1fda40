package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hypernova-labs/dgi-service/internal/config"
	"github.com/hypernova-labs/dgi-service/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "dgi",
	Short: "Electronic invoicing service for Panama's DGI",
	Long: `dgi receives invoice requests, builds the DGI FE payload, submits it
through the PAC gateway, and manages artifacts and customer notification.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// loadConfig loads .env, the environment config, and initializes logging.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	return cfg, nil
}
