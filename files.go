package tenantauth

import (
	"context"
	"embed"
	"io/fs"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// Migrations returns the embedded migrations ready for a bun migrator
func Migrations() (*migrate.Migrations, error) {
	sub, err := fs.Sub(migrationsFS, "data/sql/migrations")
	if err != nil {
		return nil, err
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(sub); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to discover migrations")
	}
	return migrations, nil
}

// Migrate applies every pending embedded migration
func Migrate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	migrations, err := Migrations()
	if err != nil {
		return nil, err
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to init migrations")
	}

	if err := migrator.Lock(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConflict, "failed to lock migrations")
	}
	defer migrator.Unlock(ctx)

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return group, errors.Wrap(err, errors.CategoryInternal, "failed to apply migrations")
	}
	return group, nil
}
