package main

import (
	"github.com/spf13/cobra"

	"github.com/hypernova-labs/dgi-service/internal/db"
	"github.com/hypernova-labs/dgi-service/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		conn, err := db.Connect(cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		if err := db.Migrate(conn, cfg.DatabaseDSN); err != nil {
			return err
		}
		log := logger.WithComponent("migrate")
		log.Info().Msg("migrations completed")
		return nil
	},
}
