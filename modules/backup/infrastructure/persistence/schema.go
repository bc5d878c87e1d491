package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
)

var globalSchema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS auth_groups (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS auth_permissions (
		id BIGSERIAL PRIMARY KEY,
		app_label TEXT NOT NULL,
		codename TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		UNIQUE (app_label, codename)
	)`,
	`CREATE TABLE IF NOT EXISTS auth_group_permissions (
		group_id BIGINT NOT NULL REFERENCES auth_groups (id) ON DELETE CASCADE,
		permission_id BIGINT NOT NULL REFERENCES auth_permissions (id) ON DELETE CASCADE,
		PRIMARY KEY (group_id, permission_id)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS user_groups (
		user_id BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		group_id BIGINT NOT NULL REFERENCES auth_groups (id) ON DELETE CASCADE,
		PRIMARY KEY (user_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tenant_users (
		tenant_id BIGINT NOT NULL REFERENCES tenants (id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		PRIMARY KEY (tenant_id, user_id)
	)`,
}

func columnType(k catalog.Kind) string {
	switch k {
	case catalog.KindInt:
		return "BIGINT"
	case catalog.KindDecimal:
		// unconstrained so imported values keep every digit
		return "NUMERIC"
	case catalog.KindBool:
		return "BOOLEAN"
	case catalog.KindDate:
		return "DATE"
	case catalog.KindDateTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// SchemaStatements renders the DDL for the global tables and one table per
// catalog entity. Foreign keys are composite with tenant_id so rows can only
// reference rows of their own tenant; owns edges cascade, references restrict.
func SchemaStatements(c *catalog.Catalog) []string {
	out := append([]string{}, globalSchema...)
	for _, e := range c.Entities() {
		out = append(out, entityTable(e))
		if e.HasNaturalKey() {
			cols := make([]string, 0, len(e.NaturalKey)+1)
			cols = append(cols, "tenant_id")
			for _, col := range e.NaturalKey {
				cols = append(cols, pgx.Identifier{col}.Sanitize())
			}
			out = append(out, fmt.Sprintf(
				"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
				pgx.Identifier{e.Key + "_natural_key"}.Sanitize(),
				pgx.Identifier{e.Key}.Sanitize(),
				strings.Join(cols, ", "),
			))
		}
	}
	return out
}

func entityTable(e *catalog.Entity) string {
	table := pgx.Identifier{e.Key}.Sanitize()
	lines := []string{
		"id BIGSERIAL PRIMARY KEY",
		"tenant_id BIGINT NOT NULL REFERENCES tenants (id) ON DELETE CASCADE",
	}
	for _, col := range e.Columns {
		lines = append(lines, fmt.Sprintf("%s %s", pgx.Identifier{col.Name}.Sanitize(), columnType(col.Kind)))
	}
	for _, fk := range e.ForeignKeys {
		col := pgx.Identifier{fk.Column}.Sanitize()
		def := col + " BIGINT"
		if !fk.Optional {
			def += " NOT NULL"
		}
		lines = append(lines, def)

		if catalog.IsStructural(fk.Target) {
			lines = append(lines, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (id) ON DELETE SET NULL", col, pgx.Identifier{fk.Target}.Sanitize()))
			continue
		}
		onDelete := ""
		if fk.Edge == catalog.Owns {
			onDelete = " ON DELETE CASCADE"
		}
		lines = append(lines, fmt.Sprintf(
			"CONSTRAINT %s FOREIGN KEY (tenant_id, %s) REFERENCES %s (tenant_id, id)%s",
			pgx.Identifier{e.Key + "_" + fk.Column + "_fkey"}.Sanitize(),
			col,
			pgx.Identifier{fk.Target}.Sanitize(),
			onDelete,
		))
	}
	lines = append(lines, "UNIQUE (tenant_id, id)")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", table, strings.Join(lines, ",\n\t"))
}

// Bootstrap creates the tenant data schema for c. Installations that already
// own these tables only need Migrate.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool, c *catalog.Catalog) error {
	for _, stmt := range SchemaStatements(c) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "bootstrap schema: %s", firstLine(stmt))
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
