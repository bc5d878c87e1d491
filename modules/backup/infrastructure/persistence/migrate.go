package persistence

import (
	"context"
	"embed"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the backup module's own migrations (the audit log table).
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *logrus.Entry) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "failed to open embedded migrations")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return errors.Wrap(err, "failed to create migration provider")
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}
	for _, res := range results {
		logger.WithField("version", res.Source.Version).Infof("applied %s in %s", res.Source.Path, res.Duration)
	}
	if len(results) == 0 {
		logger.Info("backup migrations are up to date")
	}
	return nil
}
