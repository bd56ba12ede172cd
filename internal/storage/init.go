package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

func migrationDir(driver string) string {
	if driver == DriverSQLite {
		return "migrations/sqlite"
	}
	return "migrations/postgres"
}

func runMigrations(db *sql.DB, driver string, log zerolog.Logger) error {
	const op = "storage.migrations"

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(driver); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err := goose.Up(db, migrationDir(driver))
	if err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			log.Info().Msg("no migrations to apply")
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info().Str("driver", driver).Msg("database migrations applied")
	return nil
}
