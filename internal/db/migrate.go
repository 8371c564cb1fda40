package db

import (
	"errors"
	"fmt"
	"os"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	// Blank imports register the postgres driver and file source for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hypernova-labs/dgi-service/internal/logger"
	"github.com/hypernova-labs/dgi-service/internal/models"
)

// Connect opens the postgres connection with a small retry loop, since the
// database may still be starting when the service boots.
func Connect(dsn string) (*gorm.DB, error) {
	dsn = NormalizeDSN(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("empty database DSN")
	}
	logLevel := gormlogger.Silent
	if os.Getenv("DB_DEBUG") == "1" {
		logLevel = gormlogger.Info
	}
	cfg := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logLevel),
		TranslateError: true,
	}
	var db *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err == nil {
			return db, nil
		}
		time.Sleep(time.Duration(i+1) * 500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect database: %w", err)
}

// ConnectAndMigrate connects and then brings the schema up to date. When
// MIGRATIONS_DIR is set, SQL migrations are applied with golang-migrate;
// otherwise gorm AutoMigrate covers the same schema (used in development).
func ConnectAndMigrate(dsn string) (*gorm.DB, error) {
	db, err := Connect(dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, dsn); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB, dsn string) error {
	log := logger.WithComponent("db")
	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		m, err := migrate.New("file://"+dir, NormalizeDSN(dsn))
		if err != nil {
			return fmt.Errorf("init migrations: %w", err)
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		log.Info().Str("dir", dir).Msg("sql migrations applied")
		return nil
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	log.Info().Msg("schema auto-migrated")
	return nil
}
