package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationsTable keeps pagegen's schema version apart from other tools sharing the database.
const migrationsTable = "pagegen_schema_migrations"

// MigrationResult reports the schema version before and after Migrate.
type MigrationResult struct {
	From    uint
	To      uint
	Applied bool
}

// Migrate brings the catalog and pipeline schema up to the newest embedded version.
// A dirty schema, left by a migration that failed halfway, is reported instead of retried.
func Migrate(db *sql.DB) (MigrationResult, error) {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return MigrationResult{}, fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return MigrationResult{}, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("failed to create migrator: %w", err)
	}

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{}, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return MigrationResult{From: from}, fmt.Errorf("schema version %d is dirty, fix it by hand and force the version", from)
	}

	res := MigrationResult{From: from, To: from}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return res, nil
		}
		return res, fmt.Errorf("migration failed: %w", err)
	}

	to, _, err := m.Version()
	if err != nil {
		return res, fmt.Errorf("read schema version: %w", err)
	}
	res.To, res.Applied = to, true
	return res, nil
}

// embeddedVersions lists the migration file stems, checking each up has a down.
func embeddedVersions() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	var order []string
	for _, e := range entries {
		name := path.Base(e.Name())
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			stem := strings.TrimSuffix(name, ".up.sql")
			ups[stem] = true
			order = append(order, stem)
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	for stem := range ups {
		if !downs[stem] {
			return nil, fmt.Errorf("migration %s has no down file", stem)
		}
	}
	for stem := range downs {
		if !ups[stem] {
			return nil, fmt.Errorf("migration %s has no up file", stem)
		}
	}
	return order, nil
}
