package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

type migration struct {
	version string
	script  string
}

func loadMigrations(dir string) ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		b, err := fs.ReadFile(migrationFS, dir+"/"+name)
		if err != nil {
			return nil, err
		}
		out = append(out, migration{version: strings.TrimSuffix(name, ".sql"), script: string(b)})
	}
	return out, nil
}

// MigratePostgres applies pending schema migrations to a Postgres database.
func MigratePostgres(ctx context.Context, db *pgxpool.Pool) error {
	logger := zap.L().With(zap.String("component", "Migrations"))

	migrations, err := loadMigrations("migrations/postgres")
	if err != nil {
		return err
	}

	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	for _, m := range migrations {
		var applied bool
		err := db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", m.version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		if applied {
			continue
		}

		tx, err := db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		if _, err := tx.Exec(ctx, m.script); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%w: migration %s: %v", ErrDatabaseError, m.version, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		logger.Info("Applied migration", zap.String("version", m.version))
	}
	return nil
}

// MigrateSQL applies pending schema migrations to a SQLite or libSQL database.
func MigrateSQL(ctx context.Context, db *sql.DB) error {
	logger := zap.L().With(zap.String("component", "Migrations"))

	migrations, err := loadMigrations("migrations/sqlite")
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	)`); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	for _, m := range migrations {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		if count > 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, m.script); err != nil {
			return fmt.Errorf("%w: migration %s: %v", ErrDatabaseError, m.version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		logger.Info("Applied migration", zap.String("version", m.version))
	}
	return nil
}
