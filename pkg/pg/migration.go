package pg

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending goose migration found in dir.
func Migrate(cfg Config, dir string) error {
	return withMigrator(cfg, func(db *sql.DB) error {
		if err := goose.Up(db, dir); err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
		version, err := goose.GetDBVersion(db)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		logger.Info("migrations applied", "version", version, "database", cfg.Database)
		return nil
	})
}

// MigrationStatus logs applied and pending migrations without changing the
// schema.
func MigrationStatus(cfg Config, dir string) error {
	return withMigrator(cfg, func(db *sql.DB) error {
		if err := goose.Status(db, dir); err != nil {
			return fmt.Errorf("goose status: %w", err)
		}
		return nil
	})
}

func withMigrator(cfg Config, fn func(db *sql.DB) error) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetLogger(logger.GetLogger())

	db, err := sql.Open("postgres", dsn(cfg))
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()
	return fn(db)
}
