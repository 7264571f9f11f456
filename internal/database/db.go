// Package database provides the archive database: connection setup,
// migrations, the batched writer used by the sync engine and the
// read-only query surface used by renderers.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/tgarchive/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// NewDB opens the archive at dbPath, bringing its schema up to date. Archives
// written by older releases are migrated in place.
func NewDB(dbPath string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", dataSourceName(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", dbPath, err)
	}

	// One connection: the writer transaction and the readers share it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	version, err := migrateSchema(db.DB, archiveFile(dbPath))
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close archive after migration error", "path", dbPath, "error", closeErr)
		}
		return nil, err
	}

	slog.Info("Archive database ready", "path", dbPath, "schema_version", version)
	return db, nil
}

// CloseDB lets SQLite refresh its statistics and closes the pool.
func CloseDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if _, err := db.Exec("PRAGMA optimize"); err != nil {
		slog.Debug("PRAGMA optimize failed on close", "error", err)
	}
	if err := db.Close(); err != nil {
		slog.Error("Failed to close archive database", "error", err)
	}
}

// migrateSchema applies the embedded migrations and returns the resulting
// schema version.
func migrateSchema(db *sql.DB, file string) (uint, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{DatabaseName: file})
	if err != nil {
		return 0, fmt.Errorf("failed to prepare migrations for %s: %w", file, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare migrations for %s: %w", file, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to migrate %s: %w", file, err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version of %s: %w", file, err)
	}
	if dirty {
		return version, fmt.Errorf("schema of %s is dirty at version %d", file, version)
	}
	return version, nil
}

// RunMaintenance refreshes planner statistics and compacts the file.
func RunMaintenance(ctx context.Context, db *sqlx.DB) error {
	start := time.Now()
	if _, err := db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to optimize database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	slog.InfoContext(ctx, "Database maintenance finished", "duration", time.Since(start))
	return nil
}

// archiveFile strips the "file:" scheme and query of a DSN, leaving the
// file name the migration driver records.
func archiveFile(dsn string) string {
	name, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if decoded, err := url.PathUnescape(name); err == nil {
		return decoded
	}
	return name
}

// dataSourceName adds the connection pragmas unless the caller passed its own query.
func dataSourceName(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
