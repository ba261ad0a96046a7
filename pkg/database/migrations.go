package database

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// runMigrations applies pending migrations using golang-migrate with
// migration files embedded into the binary, so production deployments
// need no external files.
func runMigrations(ctx context.Context, db *stdsql.DB, cfg Config) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("failed to check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary may be built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver. m.Close() would also close the
	// shared *sql.DB passed via postgres.WithInstance().
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	// Partial and GIN indexes not expressible in the portable migration
	// files are created here.
	if err := createCustomIndexes(ctx, db); err != nil {
		return fmt.Errorf("failed to create custom indexes: %w", err)
	}

	return nil
}

// createCustomIndexes creates the claim-scan partial index and the tag GIN
// indexes. All statements are idempotent.
func createCustomIndexes(ctx context.Context, db *stdsql.DB) error {
	stmts := []string{
		// Claim scans only ever look at unclaimed rows of one stage.
		`CREATE INDEX IF NOT EXISTS idx_harvest_queue_claimable
		 ON harvest_queue (stage, priority DESC, created_at)
		 WHERE claim_owner IS NULL`,
		// The reaper scans claimed rows by claim age.
		`CREATE INDEX IF NOT EXISTS idx_harvest_queue_claimed
		 ON harvest_queue (claim_at)
		 WHERE claim_owner IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_events_tags_gin
		 ON events USING gin(tags)`,
		`CREATE INDEX IF NOT EXISTS idx_events_persona_tags_gin
		 ON events USING gin(persona_tags)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("index creation failed (%s...): %w", strings.Fields(stmt)[5], err)
		}
	}
	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			return true, nil
		}
	}
	return false, nil
}
