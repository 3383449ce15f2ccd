package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
	Filename    string
}

// Migrator applies NNN_description.sql files in version order, one
// transaction per migration, tracked in schema_version.
type Migrator struct {
	db  *sql.DB
	dir string
}

// NewMigrator creates a migration runner reading from dir.
func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

func (m *Migrator) ensureSchemaVersionTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW(),
			description TEXT
		);
	`
	_, err := m.db.ExecContext(ctx, query)
	return err
}

func (m *Migrator) getCurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

func (m *Migrator) loadMigrations() ([]Migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if strings.HasSuffix(entry.Name(), "_down.sql") {
			continue
		}

		// Keep reads inside the migrations directory.
		cleanPath := filepath.Clean(filepath.Join(m.dir, entry.Name()))
		if !strings.HasPrefix(cleanPath, filepath.Clean(m.dir)) {
			return nil, fmt.Errorf("invalid migration file path: %s", entry.Name())
		}
		content, err := os.ReadFile(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		filename := entry.Name()
		var version int
		var description string
		if _, err := fmt.Sscanf(filename, "%d_%s", &version, &description); err != nil {
			return nil, fmt.Errorf("invalid migration filename format: %s (expected: NNN_description.sql)", filename)
		}
		description = strings.TrimSuffix(description, ".sql")
		description = strings.ReplaceAll(description, "_", " ")

		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
			Filename:    filename,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// Migrate runs all pending migrations
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureSchemaVersionTable(ctx); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return err
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return err
	}
	if len(migrations) == 0 {
		fmt.Println("No migrations found")
		return nil
	}

	var pending []Migration
	for _, migration := range migrations {
		if migration.Version > currentVersion {
			pending = append(pending, migration)
		}
	}
	if len(pending) == 0 {
		fmt.Printf("Database is up to date (version %d)\n", currentVersion)
		return nil
	}

	fmt.Printf("Current schema version: %d\n", currentVersion)
	fmt.Printf("Found %d pending migration(s)\n", len(pending))

	for _, migration := range pending {
		if err := m.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	finalVersion, _ := m.getCurrentVersion(ctx)
	fmt.Printf("Migration complete. Current version: %d\n", finalVersion)

	return nil
}

func (m *Migrator) applyMigration(ctx context.Context, migration Migration) error {
	fmt.Printf("Applying migration %d: %s\n", migration.Version, migration.Description)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // commit overrides on success

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING",
		migration.Version,
		migration.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	fmt.Printf("Migration %d applied\n", migration.Version)

	return nil
}

// Status prints applied and pending migrations.
func (m *Migrator) Status(ctx context.Context) error {
	if err := m.ensureSchemaVersionTable(ctx); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return err
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return err
	}

	fmt.Printf("Current schema version: %d\n", currentVersion)
	fmt.Printf("Available migrations: %d\n", len(migrations))
	fmt.Println("\nVERSION | STATUS  | DESCRIPTION")
	fmt.Println("--------|---------|-----------------------------------")

	for _, migration := range migrations {
		status := "pending"
		if migration.Version <= currentVersion {
			status = "applied"
		}
		fmt.Printf("%-7d | %-7s | %s\n", migration.Version, status, migration.Description)
	}

	return nil
}
