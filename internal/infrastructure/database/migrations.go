package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// MigrationsFS is set by the migrations package to embed migration files.
// This compiles the SQL into the binary so deployments need no loose files.
//
// Usage:
//
//	//go:embed *.sql
//	var migrationsFS embed.FS
//
//	func init() {
//	    database.MigrationsFS = migrationsFS
//	}
var MigrationsFS embed.FS

// Migration represents a single database migration.
type Migration struct {
	// Version is extracted from the filename prefix.
	// Format: YYYYMMDD_HHMMSS (e.g. 20260830_120000)
	Version string

	// Name is the human-readable migration name.
	Name string

	// UpSQL contains the SQL to apply this migration.
	UpSQL string

	// DownSQL contains the SQL to roll this migration back.
	DownSQL string
}

// MigrationRecord represents a row in the schema_migrations table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies all pending migrations to the database, oldest first.
//
// Each migration runs in its own transaction: if migration N fails it is
// rolled back, earlier migrations stay committed, and later ones are not
// attempted. Re-running Migrate after fixing the issue continues from N.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// appliedVersions returns the set of already-applied migration versions.
func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// applyMigration runs one migration inside a transaction and records it.
func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is a no-op after commit

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return fmt.Errorf("executing up SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version) VALUES (?)", m.Version,
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit()
}

// loadMigrations reads all *.up.sql files (and matching *.down.sql) from
// MigrationsFS and returns them sorted by version.
//
// Filename format: <version>_<name>.up.sql, e.g.
// 20260830_120000_initial_schema.up.sql
func loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(MigrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		base := strings.TrimSuffix(name, ".up.sql")
		version, migName, ok := splitMigrationName(base)
		if !ok {
			return nil, fmt.Errorf("malformed migration filename: %s", name)
		}

		upSQL, err := fs.ReadFile(MigrationsFS, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		// Down migration is optional.
		var downSQL []byte
		if data, err := fs.ReadFile(MigrationsFS, base+".down.sql"); err == nil {
			downSQL = data
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    migName,
			UpSQL:   string(upSQL),
			DownSQL: string(downSQL),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// splitMigrationName splits "20260830_120000_initial_schema" into the
// version "20260830_120000" and the name "initial_schema".
func splitMigrationName(base string) (version, name string, ok bool) {
	parts := strings.SplitN(base, "_", 3)
	if len(parts) < 3 {
		return "", "", false
	}
	return parts[0] + "_" + parts[1], parts[2], true
}
