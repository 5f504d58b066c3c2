package postgres

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// runMigrations applies every pending schema migration using golang-migrate
// against embedded SQL files. Migrations ship inside the binary via
// go:embed so a deploy never depends on a separate migrations directory
// being present on disk.
func runMigrations(db *sql.DB, database string) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("storage: create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("storage: open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, database, driver)
	if err != nil {
		return fmt.Errorf("storage: create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("storage: apply migrations: %w", err)
	}

	// Close only the migration source driver — the database driver wraps
	// the same *sql.DB the Store keeps using, and golang-migrate's Close()
	// would close it out from under us.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("storage: close migration source: %w", err)
	}
	return nil
}
