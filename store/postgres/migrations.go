package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/xraph/courier"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsTable records the applied schema version.
const MigrationsTable = "courier_migrations"

// Migrate applies the embedded migrations that have not run yet. It is
// safe to call on every start.
func (s *Store) Migrate(ctx context.Context) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: open migrations: %w", courier.ErrMigrationFailed, err)
	}

	// The driver owns db and closes it with the migrator.
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{
		MigrationsTable: MigrationsTable,
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("%w: open driver: %w", courier.ErrMigrationFailed, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("%w: create migrator: %w", courier.ErrMigrationFailed, err)
	}
	defer m.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	err = m.Up()
	switch {
	case err == nil:
	case errors.Is(err, migrate.ErrNoChange):
		return nil
	default:
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("%w: dirty schema version %d", courier.ErrMigrationFailed, dirty.Version)
		}
		return fmt.Errorf("%w: %w", courier.ErrMigrationFailed, err)
	}

	version, _, _ := m.Version()
	s.logger.Info("applied migrations", slog.Uint64("version", uint64(version)))
	return nil
}
