package persistence

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
)

// mapPgError turns integrity violations (SQLSTATE class 23) into
// *backup.ConstraintError and returns every other error unchanged.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	if !strings.HasPrefix(pgErr.Code, "23") {
		return err
	}
	return backup.NewConstraintError(pgErr.ConstraintName, err)
}
