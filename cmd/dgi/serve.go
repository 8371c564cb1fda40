package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hypernova-labs/dgi-service/internal/db"
	"github.com/hypernova-labs/dgi-service/internal/email"
	"github.com/hypernova-labs/dgi-service/internal/invoicesvc"
	"github.com/hypernova-labs/dgi-service/internal/logger"
	"github.com/hypernova-labs/dgi-service/internal/pac"
	"github.com/hypernova-labs/dgi-service/internal/server"
	"github.com/hypernova-labs/dgi-service/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the invoicing API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.WithComponent("serve")

		conn, err := db.ConnectAndMigrate(cfg.DatabaseDSN)
		if err != nil {
			return err
		}

		var store storage.ObjectStore
		switch cfg.StorageBackend {
		case "gcs":
			gcsStore, serr := storage.NewGCSStore(cmd.Context(), cfg.GCSBucket)
			if serr != nil {
				return serr
			}
			defer gcsStore.Close()
			store = gcsStore
		default:
			store = storage.NewLocalStore(cfg.LocalStorageDir, cfg.PublicBaseURL)
		}

		mailer := email.NewResendService(cfg.ResendAPIKey, cfg.EmailFrom)
		client := pac.NewClient(cfg.PACBaseURL, cfg.PACSuccessCodes, time.Duration(cfg.PACTimeoutSecs)*time.Second)
		svc := invoicesvc.New(conn, client, store, mailer)

		srv := server.New(cfg, conn, svc, store)

		go func() {
			log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("server error")
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info().Msg("server stopped gracefully")
		return nil
	},
}
