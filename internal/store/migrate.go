package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite3/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// migrateUp applies the embedded migrations for the store's dialect.
// SQLite migrates through the already-open handle so in-memory databases keep
// their schema; Postgres migrates through the DSN.
func migrateUp(db *sql.DB, dialect Dialect, dsn string) error {
	sourceDriver, err := iofs.New(migrationFS, "migrations/"+dialect.migrationDir())
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	var m *migrate.Migrate
	switch dialect {
	case DialectSQLite:
		driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		if err != nil {
			return fmt.Errorf("migrate sqlite3 driver: %w", err)
		}
		// Closing m would close db as well, so the instance is left to the GC.
		m, err = migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	case DialectPostgres:
		m, err = migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		defer func() { _, _ = m.Close() }()
	default:
		return fmt.Errorf("unsupported dialect %q", dialect)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
