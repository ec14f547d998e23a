package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
)

// newMigrator reads goose-annotated SQL files from migrationsDir. A Postgres
// advisory lock keeps API replicas from migrating concurrently.
func newMigrator(db *sql.DB, migrationsDir string) (*goose.Provider, error) {
	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return nil, fmt.Errorf("create migration locker: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(migrationsDir),
		goose.WithSessionLocker(locker),
	)
	if err != nil {
		return nil, fmt.Errorf("load migrations from %s: %w", migrationsDir, err)
	}
	return provider, nil
}

// ApplyMigrations runs every pending migration and returns the file names it
// applied, oldest first.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	provider, err := newMigrator(db, migrationsDir)
	if err != nil {
		return nil, err
	}
	results, err := provider.Up(ctx)
	applied := migrationNames(results)
	if err != nil {
		return applied, fmt.Errorf("apply migrations: %w", err)
	}
	return applied, nil
}

// RollbackMigrations undoes every applied migration, newest first.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	provider, err := newMigrator(db, migrationsDir)
	if err != nil {
		return nil, err
	}
	results, err := provider.DownTo(ctx, 0)
	rolledBack := migrationNames(results)
	if err != nil {
		return rolledBack, fmt.Errorf("rollback migrations: %w", err)
	}
	return rolledBack, nil
}

func migrationNames(results []*goose.MigrationResult) []string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		names = append(names, filepath.Base(r.Source.Path))
	}
	return names
}
