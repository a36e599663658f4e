package db

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// DefaultMigrationsPath is used when MIGRATIONS_PATH is not set.
const DefaultMigrationsPath = "internal/db/migrations"

// Migrate applies all pending up migrations from migrationsPath to the
// database at databaseURL.
func Migrate(databaseURL, migrationsPath string) error {
	if migrationsPath == "" {
		migrationsPath = DefaultMigrationsPath
	}
	abs, err := filepath.Abs(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	m, err := migrate.New("file://"+filepath.ToSlash(abs), databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn("[DB][Migrate] Failed to close migrator", "source_err", srcErr, "db_err", dbErr)
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("[DB][Migrate] Schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logger.Info("[DB][Migrate] Schema migrated", "version", version, "dirty", dirty)
	return nil
}
