package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
	"github.com/iota-uz/workshop/pkg/composables"
)

// PgRepository stores tenant data in one table per catalog entity, each with
// a tenant_id column. The pool is taken from the context.
type PgRepository struct {
	catalog *catalog.Catalog
}

var _ backup.Repository = (*PgRepository)(nil)

func NewPgRepository(c *catalog.Catalog) *PgRepository {
	return &PgRepository{catalog: c}
}

// InTx also takes a transaction-scoped advisory lock on the tenant so that
// two imports into the same tenant queue up instead of interleaving.
func (r *PgRepository) InTx(ctx context.Context, tenantID int64, fn func(ctx context.Context) error) error {
	ctx = composables.WithTenantID(ctx, tenantID)
	return composables.InTx(ctx, func(txCtx context.Context) error {
		tx, err := composables.UseTx(txCtx)
		if err != nil {
			return errors.Wrap(err, "failed to get transaction")
		}
		if _, err := tx.Exec(txCtx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, fmt.Sprintf("backup:tenant:%d", tenantID)); err != nil {
			return errors.Wrap(err, "failed to lock tenant")
		}
		return fn(txCtx)
	})
}

func (r *PgRepository) InReadTx(ctx context.Context, tenantID int64, fn func(ctx context.Context) error) error {
	return composables.InReadOnlyTx(composables.WithTenantID(ctx, tenantID), fn)
}

func (r *PgRepository) InSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return composables.InSavepoint(ctx, fn)
}

func (r *PgRepository) GetTenant(ctx context.Context, tenantID int64) (*backup.Tenant, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	rows, err := tx.Query(ctx, `SELECT * FROM tenants WHERE id = $1`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query tenant")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "failed to query tenant")
		}
		return nil, fmt.Errorf("%w: %d", backup.ErrTenantNotFound, tenantID)
	}
	values, err := rows.Values()
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan tenant")
	}

	t := &backup.Tenant{ID: tenantID, Fields: snapshot.Row{}}
	for i, fd := range rows.FieldDescriptions() {
		v, err := plainValue(values[i])
		if err != nil {
			return nil, errors.Wrapf(err, "tenant column %s", fd.Name)
		}
		switch fd.Name {
		case "id":
		case "name":
			t.Name, _ = v.(string)
		default:
			t.Fields[fd.Name] = v
		}
	}
	return t, rows.Err()
}

func (r *PgRepository) ListGroups(ctx context.Context) ([]snapshot.Group, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	rows, err := tx.Query(ctx, `
		SELECT
			g.id,
			g.name,
			COALESCE(
				array_agg(p.app_label || '.' || p.codename ORDER BY p.app_label, p.codename)
					FILTER (WHERE p.id IS NOT NULL),
				'{}'
			)
		FROM auth_groups g
		LEFT JOIN auth_group_permissions gp ON gp.group_id = g.id
		LEFT JOIN auth_permissions p ON p.id = gp.permission_id
		GROUP BY g.id, g.name
		ORDER BY g.id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query groups")
	}
	defer rows.Close()

	var out []snapshot.Group
	for rows.Next() {
		var g snapshot.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Permissions); err != nil {
			return nil, errors.Wrap(err, "failed to scan group")
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating groups")
	}
	return out, nil
}

func (r *PgRepository) ListUsers(ctx context.Context, tenantID int64) ([]snapshot.User, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	rows, err := tx.Query(ctx, `
		SELECT
			u.id,
			u.username,
			u.email,
			u.first_name,
			u.last_name,
			u.is_active,
			COALESCE(array_agg(g.name ORDER BY g.name) FILTER (WHERE g.id IS NOT NULL), '{}')
		FROM users u
		JOIN tenant_users tu ON tu.user_id = u.id AND tu.tenant_id = $1
		LEFT JOIN user_groups ug ON ug.user_id = u.id
		LEFT JOIN auth_groups g ON g.id = ug.group_id
		GROUP BY u.id
		ORDER BY u.id
	`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query users")
	}
	defer rows.Close()

	var out []snapshot.User
	for rows.Next() {
		var u snapshot.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.Groups); err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating users")
	}
	return out, nil
}

func (r *PgRepository) ListRows(ctx context.Context, e *catalog.Entity, tenantID int64) ([]snapshot.Row, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	fields := append([]string{snapshot.IDField}, e.Fields()...)
	selects := make([]string, len(fields))
	for i, name := range fields {
		selects[i] = selectExpr(e, name)
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE tenant_id = $1 ORDER BY id",
		strings.Join(selects, ", "),
		pgx.Identifier{e.Key}.Sanitize(),
	)
	rows, err := tx.Query(ctx, query, tenantID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", e.Key)
	}
	defer rows.Close()

	var out []snapshot.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", e.Key)
		}
		row := make(snapshot.Row, len(fields))
		for i, name := range fields {
			v, err := columnValue(e, name, values[i])
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s", e.Key, name)
			}
			row[name] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", e.Key)
	}
	return out, nil
}

func (r *PgRepository) UpsertGroup(ctx context.Context, name string) (int64, bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to get transaction")
	}
	return upsertReturningID(ctx, tx,
		`INSERT INTO auth_groups (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING id`,
		`SELECT id FROM auth_groups WHERE name = $1`,
		name,
	)
}

func (r *PgRepository) GrantPermissions(ctx context.Context, groupID int64, permissions []string) ([]string, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	var missing []string
	for _, key := range permissions {
		appLabel, codename, ok := strings.Cut(key, ".")
		if !ok {
			missing = append(missing, key)
			continue
		}
		var permissionID int64
		err := tx.QueryRow(ctx,
			`SELECT id FROM auth_permissions WHERE app_label = $1 AND codename = $2`,
			appLabel, codename,
		).Scan(&permissionID)
		if errors.Is(err, pgx.ErrNoRows) {
			missing = append(missing, key)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to look up permission %s", key)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO auth_group_permissions (group_id, permission_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, groupID, permissionID); err != nil {
			return nil, errors.Wrapf(mapPgError(err), "failed to grant %s", key)
		}
	}
	return missing, nil
}

func (r *PgRepository) UpsertUser(ctx context.Context, u snapshot.User) (int64, bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to get transaction")
	}
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO users (username, email, first_name, last_name, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO NOTHING
		RETURNING id
	`, u.Username, u.Email, u.FirstName, u.LastName, u.IsActive).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, errors.Wrap(mapPgError(err), "failed to insert user")
	}
	if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE username = $1`, u.Username).Scan(&id); err != nil {
		return 0, false, errors.Wrap(err, "failed to find user")
	}
	return id, false, nil
}

func (r *PgRepository) AddUserGroups(ctx context.Context, userID int64, groupIDs []int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	for _, gid := range groupIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_groups (user_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			userID, gid,
		); err != nil {
			return errors.Wrap(mapPgError(err), "failed to add user group")
		}
	}
	return nil
}

func (r *PgRepository) AddMembership(ctx context.Context, tenantID, userID int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO tenant_users (tenant_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		tenantID, userID,
	); err != nil {
		return errors.Wrap(mapPgError(err), "failed to add tenant membership")
	}
	return nil
}

func (r *PgRepository) FindByNaturalKey(ctx context.Context, e *catalog.Entity, tenantID int64, row snapshot.Row) (int64, bool, error) {
	if !e.HasNaturalKey() {
		return 0, false, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to get transaction")
	}

	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}
	for _, col := range e.NaturalKey {
		v := row[col]
		if v == nil {
			return 0, false, nil
		}
		args = append(args, bindValue(v))
		conds = append(conds, fmt.Sprintf("%s = %s", pgx.Identifier{col}.Sanitize(), placeholder(e, col, len(args))))
	}
	query := fmt.Sprintf(
		"SELECT id FROM %s WHERE %s ORDER BY id LIMIT 1",
		pgx.Identifier{e.Key}.Sanitize(),
		strings.Join(conds, " AND "),
	)
	var id int64
	err = tx.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "failed to look up %s by natural key", e.Key)
	}
	return id, true, nil
}

func (r *PgRepository) Insert(ctx context.Context, e *catalog.Entity, tenantID int64, row snapshot.Row) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get transaction")
	}

	fields := e.Fields()
	cols := make([]string, 0, len(fields)+1)
	vals := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	cols = append(cols, "tenant_id")
	vals = append(vals, "$1")
	args = append(args, tenantID)
	for _, name := range fields {
		args = append(args, bindValue(row[name]))
		cols = append(cols, pgx.Identifier{name}.Sanitize())
		vals = append(vals, placeholder(e, name, len(args)))
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		pgx.Identifier{e.Key}.Sanitize(),
		strings.Join(cols, ", "),
		strings.Join(vals, ", "),
	)
	var id int64
	if err := tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, mapPgError(err)
	}
	return id, nil
}

func (r *PgRepository) RecomputeTotal(ctx context.Context, parent *catalog.Entity, t catalog.Total, tenantID int64, ids []int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	query := fmt.Sprintf(`
		UPDATE %[1]s p
		SET %[2]s = COALESCE((
			SELECT SUM(c.%[4]s)
			FROM %[3]s c
			WHERE c.tenant_id = p.tenant_id AND c.%[5]s = p.id
		), 0)
		WHERE p.tenant_id = $1 AND p.id = ANY($2)
	`,
		pgx.Identifier{parent.Key}.Sanitize(),
		pgx.Identifier{t.Column}.Sanitize(),
		pgx.Identifier{t.Child}.Sanitize(),
		pgx.Identifier{t.ChildColumn}.Sanitize(),
		pgx.Identifier{t.ChildFK}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, query, tenantID, ids); err != nil {
		return errors.Wrapf(mapPgError(err), "failed to recompute %s.%s", parent.Key, t.Column)
	}
	return nil
}

func (r *PgRepository) NullReferences(ctx context.Context, e *catalog.Entity, column string, tenantID int64) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get transaction")
	}
	col := pgx.Identifier{column}.Sanitize()
	tag, err := tx.Exec(ctx, fmt.Sprintf(
		"UPDATE %s SET %s = NULL WHERE tenant_id = $1 AND %s IS NOT NULL",
		pgx.Identifier{e.Key}.Sanitize(), col, col,
	), tenantID)
	if err != nil {
		return 0, mapPgError(err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) DeleteAll(ctx context.Context, e *catalog.Entity, tenantID int64) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get transaction")
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1", pgx.Identifier{e.Key}.Sanitize()), tenantID)
	if err != nil {
		return 0, mapPgError(err)
	}
	return tag.RowsAffected(), nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsertReturningID(ctx context.Context, tx queryRower, insert, lookup string, args ...any) (int64, bool, error) {
	var id int64
	err := tx.QueryRow(ctx, insert, args...).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, mapPgError(err)
	}
	if err := tx.QueryRow(ctx, lookup, args...).Scan(&id); err != nil {
		return 0, false, err
	}
	return id, false, nil
}

func isDecimal(e *catalog.Entity, name string) bool {
	c, ok := e.Column(name)
	return ok && c.Kind == catalog.KindDecimal
}

// Decimals travel as text in both directions so no digit goes through a float.
func selectExpr(e *catalog.Entity, name string) string {
	col := pgx.Identifier{name}.Sanitize()
	if isDecimal(e, name) {
		return col + "::text AS " + col
	}
	return col
}

func placeholder(e *catalog.Entity, name string, n int) string {
	if isDecimal(e, name) {
		return fmt.Sprintf("$%d::text::numeric", n)
	}
	return fmt.Sprintf("$%d", n)
}

func bindValue(v any) any {
	switch t := v.(type) {
	case decimal.Decimal:
		return t.String()
	default:
		return v
	}
}

func columnValue(e *catalog.Entity, name string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if isDecimal(e, name) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected numeric text, got %T", v)
		}
		return decimal.NewFromString(s)
	}
	return plainValue(v)
}

// plainValue narrows driver values to the types snapshot rows carry.
func plainValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, int64, decimal.Decimal:
		return v, nil
	case int32:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case time.Time:
		return t.UTC(), nil
	case pgtype.Numeric:
		if !t.Valid {
			return nil, nil
		}
		dv, err := t.Value()
		if err != nil {
			return nil, err
		}
		s, ok := dv.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected numeric value %T", dv)
		}
		return decimal.NewFromString(s)
	case [16]byte:
		return uuid.UUID(t).String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}
