//go:build integration

package persistence

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
	"github.com/iota-uz/workshop/modules/backup/services"
	"github.com/iota-uz/workshop/pkg/composables"
	"github.com/iota-uz/workshop/pkg/eventbus"
)

func setupPool(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("BACKUP_TEST_DSN")
	if dsn == "" {
		t.Skip("BACKUP_TEST_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	schema := "backup_it_" + uuid.NewString()[:8]
	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(admin.Close)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return composables.WithPool(ctx, pool), pool
}

func TestPgRepository_Integration_RoundTrip(t *testing.T) {
	ctx, pool := setupPool(t)
	log := logrus.New()
	log.SetOutput(io.Discard)
	logger := logrus.NewEntry(log)

	c := catalog.Workshop()
	require.NoError(t, Bootstrap(ctx, pool, c))
	require.NoError(t, Migrate(ctx, pool, logger))
	_, err := pool.Exec(ctx, `INSERT INTO tenants (id, name) VALUES (1, 'Taller Norte'), (2, 'Taller Sur')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO auth_permissions (app_label, codename) VALUES ('taller', 'view_cita')`)
	require.NoError(t, err)

	bus := eventbus.NewEventPublisher(log)
	audit := services.NewAuditHandler(NewPgAuditRepository(), logger)
	bus.Subscribe(audit.OnImported)
	svc := services.NewBackupService(NewPgRepository(c), c, bus, logger)

	doc := &snapshot.Document{
		Metadata: snapshot.Metadata{Version: snapshot.Version, TenantID: 9, TenantName: "Origen"},
		Groups:   []snapshot.Group{{ID: 1, Name: "recepcion", Permissions: []string{"taller.view_cita", "taller.nope"}}},
		Users:    []snapshot.User{{ID: 5, Username: "ana", IsActive: true, Groups: []string{"recepcion"}}},
	}
	doc.SetRows("clientes", []snapshot.Row{{"id": 11, "ruc": "20123456789", "nombre": "Transportes Lima"}})
	doc.SetRows("vehiculos", []snapshot.Row{{"id": 12, "placa": "ABC-123", "cliente_id": 11}})
	doc.SetRows("empleados", []snapshot.Row{{"id": 13, "numero_documento": "4567", "usuario_id": 5, "sueldo": "2500.00"}})
	doc.SetRows("ordenes_trabajo", []snapshot.Row{{"id": 20, "vehiculo_id": 12, "responsable_id": 13}})
	doc.SetRows("detalles_orden", []snapshot.Row{
		{"id": 21, "orden_id": 20, "subtotal": "60.125"},
		{"id": 22, "orden_id": 20, "subtotal": "45.50"},
	})
	doc.SetRows("citas", []snapshot.Row{{"id": 30, "empleado_id": 13, "vehiculo_id": 12}})

	summary, err := svc.Import(ctx, 1, doc, services.ImportOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1, "unknown permission is recorded")
	assert.Equal(t, 2, summary.Counts["detalles_orden"])

	exported, err := svc.Export(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Taller Norte", exported.Metadata.TenantName)
	assert.Equal(t, "105.625", exported.Rows("ordenes_trabajo")[0]["total"])
	assert.Equal(t, "60.125", exported.Rows("detalles_orden")[0]["subtotal"])
	assert.Equal(t, []string{"taller.view_cita"}, exported.Groups[0].Permissions)
	require.Len(t, exported.Users, 1)
	assert.Equal(t, []string{"recepcion"}, exported.Users[0].Groups)

	data, err := snapshot.Compress(exported)
	require.NoError(t, err)
	_, err = svc.ImportBytes(ctx, 2, data, services.ImportOptions{Replace: true})
	require.NoError(t, err)
	_, err = svc.ImportBytes(ctx, 2, data, services.ImportOptions{Replace: true})
	require.NoError(t, err, "replace over existing data clears references first")

	var orders, lines, members, audits int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM ordenes_trabajo WHERE tenant_id = 2`).Scan(&orders))
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM detalles_orden WHERE tenant_id = 2`).Scan(&lines))
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM tenant_users WHERE tenant_id = 2`).Scan(&members))
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM backup_audit_logs`).Scan(&audits))
	assert.Equal(t, 1, orders)
	assert.Equal(t, 2, lines)
	assert.Equal(t, 1, members)
	assert.Equal(t, 3, audits)

	var total string
	require.NoError(t, pool.QueryRow(ctx, `SELECT total::text FROM ordenes_trabajo WHERE tenant_id = 2`).Scan(&total))
	assert.True(t, decimal.RequireFromString("105.625").Equal(decimal.RequireFromString(total)))
}

func TestPgRepository_Integration_FailedImportRollsBack(t *testing.T) {
	ctx, pool := setupPool(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	c := catalog.Workshop()
	require.NoError(t, Bootstrap(ctx, pool, c))
	_, err := pool.Exec(ctx, `INSERT INTO tenants (id, name) VALUES (1, 'Taller Norte')`)
	require.NoError(t, err)

	svc := services.NewBackupService(NewPgRepository(c), c, eventbus.NewEventPublisher(log), logrus.NewEntry(log))
	doc := &snapshot.Document{Metadata: snapshot.Metadata{Version: snapshot.Version, TenantID: 1}}
	doc.SetRows("clientes", []snapshot.Row{{"id": 1, "ruc": "1", "nombre": "Uno"}})
	doc.SetRows("vehiculos", []snapshot.Row{{"id": 2, "placa": "P-1", "cliente_id": 1}})

	_, err = pool.Exec(ctx, `ALTER TABLE vehiculos ADD CONSTRAINT vehiculos_placa_len CHECK (length(placa) > 5)`)
	require.NoError(t, err)

	summary, err := svc.Import(ctx, 1, doc, services.ImportOptions{})
	require.NoError(t, err, "check violations only skip the row")
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "vehiculos_placa_len")

	_, err = pool.Exec(ctx, `DROP TABLE citas`)
	require.NoError(t, err)
	_, err = svc.Import(ctx, 1, doc, services.ImportOptions{Replace: true})
	require.ErrorIs(t, err, backup.ErrImportAborted)

	var clients int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM clientes WHERE tenant_id = 1`).Scan(&clients))
	assert.Equal(t, 1, clients, "replace rolled back")
}
