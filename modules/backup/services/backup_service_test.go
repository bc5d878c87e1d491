package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
)

func TestBackupService_ImportIntoEmptyTenant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	summary, err := env.svc.Import(ctx, 1, workshopSnapshot(), ImportOptions{})
	require.NoError(t, err)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, backup.ModeMerge, summary.Mode)
	assert.NotEmpty(t, summary.RunID)

	for _, e := range env.catalog.Entities() {
		want := len(workshopSnapshot().Rows(e.Key))
		assert.Equal(t, want, summary.Counts[e.Key], e.Key)
		assert.Equal(t, want, env.store.Count(e.Key, 1), e.Key)
	}
	assert.Equal(t, 1, summary.Counts[catalog.Groups])
	assert.Equal(t, 1, summary.Counts[catalog.Users])
	assert.True(t, env.store.IsMember(1, "jperez"))

	order, tenantID, ok := env.store.Get("ordenes_trabajo", 1)
	require.True(t, ok)
	assert.Equal(t, int64(1), tenantID)
	assert.True(t, decimal.RequireFromString("105.25").Equal(order["total"].(decimal.Decimal)), "order total is recomputed from its lines")

	invoice, _, ok := env.store.Get("facturas", 1)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("25").Equal(invoice["total"].(decimal.Decimal)))

	purchase, _, ok := env.store.Get("compras", 1)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("125").Equal(purchase["total"].(decimal.Decimal)))

	model, _, ok := env.store.Get("modelos", 1)
	require.True(t, ok)
	assert.Equal(t, "auto", model["tipo"], "placeholder takes the column default")
}

func TestBackupService_RoundTripPreservesCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Import(ctx, 1, workshopSnapshot(), ImportOptions{})
	require.NoError(t, err)

	exported, err := env.svc.Export(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, workshopSnapshot().Counts(), exported.Counts())
	assert.Equal(t, "Taller Norte", exported.Metadata.TenantName)
	assert.Equal(t, snapshot.Version, exported.Metadata.Version)
	assert.Equal(t, "Lima", exported.Tenant["ciudad"])

	data, err := env.svc.ExportBytes(ctx, 1, true)
	require.NoError(t, err)
	require.True(t, snapshot.IsGzip(data))

	summary, err := env.svc.ImportBytes(ctx, 2, data, ImportOptions{Replace: true})
	require.NoError(t, err)
	assert.Empty(t, summary.Errors)
	for _, e := range env.catalog.Entities() {
		assert.Equal(t, env.store.Count(e.Key, 1), env.store.Count(e.Key, 2), e.Key)
	}
	assert.Equal(t, 1, env.store.UserCount(), "existing users are reused")
	assert.True(t, env.store.IsMember(2, "jperez"))
}

func TestBackupService_ExportKeepsDecimalsExact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Import(ctx, 1, workshopSnapshot(), ImportOptions{})
	require.NoError(t, err)
	doc, err := env.svc.Export(ctx, 1)
	require.NoError(t, err)

	labour := findRow(doc.Rows("detalles_orden"), "descripcion", "Mano de obra")
	require.NotNil(t, labour)
	assert.Equal(t, "40.125", labour["precio_unitario"])
	assert.Equal(t, "2.00", labour["cantidad"])
	assert.Equal(t, "80.25", labour["subtotal"])

	filter := findRow(doc.Rows("detalles_orden"), "descripcion", "Cambio de filtro")
	require.NotNil(t, filter)
	assert.Equal(t, "25.00", filter["precio_unitario"])

	assert.Equal(t, "2350.50", doc.Rows("nominas")[0]["neto"])
	assert.Equal(t, "105.25", doc.Rows("ordenes_trabajo")[0]["total"])
	assert.Equal(t, "2023-03-01", doc.Rows("empleados")[0]["fecha_ingreso"])
	assert.Equal(t, "2024-05-02T08:30:00Z", doc.Rows("ordenes_trabajo")[0]["fecha_ingreso"])
}

func TestBackupService_ForeignKeysStayInsideTenant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Import(ctx, 1, workshopSnapshot(), ImportOptions{})
	require.NoError(t, err)
	_, err = env.svc.Import(ctx, 2, workshopSnapshot(), ImportOptions{})
	require.NoError(t, err)

	doc, err := env.svc.Export(ctx, 2)
	require.NoError(t, err)

	ids := make(map[string]map[int64]bool)
	for _, s := range doc.Sections() {
		ids[s.Key] = make(map[int64]bool)
		for _, r := range s.Rows {
			id, ok := snapshot.RowID(r)
			require.True(t, ok)
			ids[s.Key][id] = true
		}
	}
	ids[catalog.Users] = make(map[int64]bool)
	for _, u := range doc.Users {
		ids[catalog.Users][u.ID] = true
	}

	for _, e := range env.catalog.Entities() {
		for _, r := range doc.Rows(e.Key) {
			for _, fk := range e.ForeignKeys {
				ref, ok := r[fk.Column].(int64)
				if !ok {
					require.True(t, fk.Optional, "%s.%s is mandatory", e.Key, fk.Column)
					continue
				}
				assert.True(t, ids[fk.Target][ref], "%s.%s=%d not found in tenant 2 %s", e.Key, fk.Column, ref, fk.Target)
			}
		}
	}
}

func TestBackupService_MergeIsIdempotentForNaturalKeys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Import(ctx, 1, workshopSnapshot(), ImportOptions{})
	require.NoError(t, err)
	second, err := env.svc.Import(ctx, 1, workshopSnapshot(), ImportOptions{})
	require.NoError(t, err)
	assert.Empty(t, second.Errors)

	for _, e := range env.catalog.Entities() {
		n := len(workshopSnapshot().Rows(e.Key))
		if e.HasNaturalKey() {
			assert.Equal(t, n, env.store.Count(e.Key, 1), "%s is reused", e.Key)
			assert.Zero(t, second.Created[e.Key], e.Key)
		} else {
			assert.Equal(t, 2*n, env.store.Count(e.Key, 1), "%s is created again", e.Key)
			assert.Equal(t, n, second.Created[e.Key], e.Key)
		}
	}
	assert.Equal(t, 1, env.store.GroupCount())
	assert.Equal(t, 1, env.store.UserCount())
}

func TestBackupService_ReplaceWipesTenantFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Import(ctx, 1, workshopSnapshot(), ImportOptions{})
	require.NoError(t, err)
	_, err = env.svc.Import(ctx, 2, workshopSnapshot(), ImportOptions{Replace: true})
	require.NoError(t, err)

	summary, err := env.svc.Import(ctx, 2, workshopSnapshot(), ImportOptions{Replace: true})
	require.NoError(t, err)
	assert.Equal(t, backup.ModeReplace, summary.Mode)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, int64(1), summary.Deleted["ordenes_trabajo"])
	assert.Equal(t, int64(2), summary.Deleted["detalles_orden"])
	assert.Equal(t, int64(1), summary.Deleted["empleados"])

	for _, e := range env.catalog.Entities() {
		n := len(workshopSnapshot().Rows(e.Key))
		assert.Equal(t, n, env.store.Count(e.Key, 2), e.Key)
		assert.Equal(t, n, env.store.Count(e.Key, 1), "tenant 1 is untouched: %s", e.Key)
	}
	assert.Equal(t, 1, env.store.UserCount())
	assert.True(t, env.store.IsMember(2, "jperez"), "memberships survive replace")
}

func TestBackupService_DeletionRetriesOnceAfterResidualReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Import(ctx, 2, workshopSnapshot(), ImportOptions{})
	require.NoError(t, err)

	attempts := 0
	env.store.Hooks.OnDelete = func(entity string, _ int64) error {
		if entity != "empleados" {
			return nil
		}
		attempts++
		if attempts == 1 {
			return backup.NewConstraintError("citas_empleado_id_fkey", errors.New("still referenced"))
		}
		return nil
	}

	summary, err := env.svc.Import(ctx, 2, workshopSnapshot(), ImportOptions{Replace: true})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(1), summary.Deleted["empleados"])
	assert.Equal(t, 1, env.store.Count("empleados", 2))
}

func TestBackupService_SecondDeletionFailureAbortsReplace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Import(ctx, 2, workshopSnapshot(), ImportOptions{})
	require.NoError(t, err)

	env.store.Hooks.OnDelete = func(entity string, _ int64) error {
		if entity == "empleados" {
			return backup.NewConstraintError("citas_empleado_id_fkey", errors.New("still referenced"))
		}
		return nil
	}

	_, err = env.svc.Import(ctx, 2, workshopSnapshot(), ImportOptions{Replace: true})
	require.Error(t, err)
	require.ErrorIs(t, err, backup.ErrImportAborted)
	require.ErrorIs(t, err, backup.ErrDeletionFailed)

	var abort *backup.TransactionAbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, "deletion", abort.Stage)
	assert.Equal(t, backup.ModeReplace, abort.Mode)

	var del *backup.DeletionError
	require.ErrorAs(t, err, &del)
	assert.Equal(t, "empleados", del.Entity)

	for _, e := range env.catalog.Entities() {
		assert.Equal(t, len(workshopSnapshot().Rows(e.Key)), env.store.Count(e.Key, 2), "rolled back: %s", e.Key)
	}
}

func TestBackupService_StructuralFailureRollsBackEverything(t *testing.T) {
	env := newTestEnv(t)
	env.store.Hooks.OnUpsertUser = func(snapshot.User) error {
		return errors.New("directory unavailable")
	}

	_, err := env.svc.Import(context.Background(), 1, workshopSnapshot(), ImportOptions{})
	require.ErrorIs(t, err, backup.ErrImportAborted)
	var abort *backup.TransactionAbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, catalog.Users, abort.Stage)
	assert.Contains(t, err.Error(), "directory unavailable")

	assert.Zero(t, env.store.GroupCount(), "groups created before the failure are rolled back")
	assert.Zero(t, env.store.UserCount())
}

func TestBackupService_InfrastructureErrorAbortsImport(t *testing.T) {
	env := newTestEnv(t)
	env.store.Hooks.OnInsert = func(entity string, _ snapshot.Row) error {
		if entity == "vehiculos" {
			return errors.New("connection reset")
		}
		return nil
	}

	_, err := env.svc.Import(context.Background(), 1, workshopSnapshot(), ImportOptions{})
	var abort *backup.TransactionAbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, "vehiculos", abort.Stage)
	assert.NotEmpty(t, abort.RunID)
	assert.Zero(t, env.store.Count("marcas", 1))
	assert.Zero(t, env.store.Count("clientes", 1))
}

func TestBackupService_ConstraintViolationSkipsRow(t *testing.T) {
	env := newTestEnv(t)
	env.store.Hooks.OnInsert = func(entity string, _ snapshot.Row) error {
		if entity == "citas" {
			return backup.NewConstraintError("citas_fecha_check", errors.New("appointment in the past"))
		}
		return nil
	}

	summary, err := env.svc.Import(context.Background(), 1, workshopSnapshot(), ImportOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "citas[28]")
	assert.Contains(t, summary.Errors[0], "citas_fecha_check")
	assert.Zero(t, env.store.Count("citas", 1))
	assert.Equal(t, 1, env.store.Count("ordenes_trabajo", 1))
}

func TestBackupService_BadValueSkipsRowAndNullsOptionalReferences(t *testing.T) {
	env := newTestEnv(t)
	doc := workshopSnapshot()
	doc.Rows("cargos")[0]["sueldo_base"] = "mil ochocientos"

	summary, err := env.svc.Import(context.Background(), 1, doc, ImportOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "cargos[4]")
	assert.Zero(t, env.store.Count("cargos", 1))

	employee, _, ok := env.store.Get("empleados", 1)
	require.True(t, ok)
	assert.Nil(t, employee["cargo_id"])
	assert.NotNil(t, employee["area_id"])
}

func TestBackupService_PermissionUnknownToInstallationIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	doc := workshopSnapshot()
	doc.Groups[0].Permissions = append([]string{}, "taller.view_ordentrabajo", "contabilidad.delete_asiento")

	summary, err := env.svc.Import(context.Background(), 1, doc, ImportOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "contabilidad.delete_asiento")
}

// Scenario A: export lengths follow the stored rows.
func TestScenario_ExportLengths(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Import(ctx, 1, orderSnapshot(), ImportOptions{})
	require.NoError(t, err)

	doc, err := env.svc.Export(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, doc.Rows("clientes"), 1)
	assert.Len(t, doc.Rows("vehiculos"), 1)
	assert.Len(t, doc.Rows("ordenes_trabajo"), 1)
	assert.Len(t, doc.Rows("detalles_orden"), 2)
	assert.Empty(t, doc.Rows("facturas"))
}

// Scenario B: replace import into an empty tenant.
func TestScenario_ReplaceIntoEmptyTenant(t *testing.T) {
	env := newTestEnv(t)
	summary, err := env.svc.Import(context.Background(), 2, orderSnapshot(), ImportOptions{Replace: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"clientes":        1,
		"vehiculos":       1,
		"ordenes_trabajo": 1,
		"detalles_orden":  2,
	}, summary.Counts)
	assert.Empty(t, summary.Errors)
}

// Scenario C: unsupported version writes nothing.
func TestScenario_VersionMismatch(t *testing.T) {
	env := newTestEnv(t)
	doc := orderSnapshot()
	doc.Metadata.Version = "2.0"

	_, err := env.svc.Import(context.Background(), 2, doc, ImportOptions{Replace: true})
	require.ErrorIs(t, err, snapshot.ErrVersionMismatch)
	var ve *snapshot.VersionError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "2.0", ve.Got)
	assert.Zero(t, env.store.Count("clientes", 2))
}

// Scenario D: a missing mandatory target skips the dependent rows only.
func TestScenario_MissingVehicle(t *testing.T) {
	env := newTestEnv(t)
	doc := orderSnapshot()
	doc.SetRows("vehiculos", []snapshot.Row{})

	summary, err := env.svc.Import(context.Background(), 2, doc, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["clientes"])
	assert.Zero(t, summary.Counts["ordenes_trabajo"])
	require.Len(t, summary.Errors, 3)
	assert.Contains(t, summary.Errors[0], "ordenes_trabajo[20]")
	assert.Contains(t, summary.Errors[0], "vehiculos 12")
	assert.Contains(t, summary.Errors[1], "detalles_orden[21]")
	assert.Equal(t, 1, env.store.Count("clientes", 2))
}

func TestBackupService_ImportBytesRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.ImportBytes(context.Background(), 1, []byte("{not json"), ImportOptions{})
	require.ErrorIs(t, err, snapshot.ErrFormat)

	_, err = env.svc.Import(context.Background(), 1, nil, ImportOptions{})
	require.ErrorIs(t, err, snapshot.ErrFormat)
}

func TestBackupService_ExportUnknownTenant(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Export(context.Background(), 99)
	require.ErrorIs(t, err, backup.ErrTenantNotFound)
}

func TestBackupService_ExportFailsFastMidCatalog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Import(ctx, 1, workshopSnapshot(), ImportOptions{})
	require.NoError(t, err)

	logs := logtest.NewLocal(env.logger.Logger)
	published := 0
	env.bus.Subscribe(func(_ context.Context, _ *backup.ExportedEvent) error {
		published++
		return nil
	})

	cause := errors.New("disk read failed")
	var listed []string
	env.store.Hooks.OnList = func(entity string, _ int64) error {
		listed = append(listed, entity)
		if entity == "ordenes_trabajo" {
			return cause
		}
		return nil
	}

	doc, err := env.svc.Export(ctx, 1)
	require.ErrorIs(t, err, cause)
	assert.Nil(t, doc)
	assert.Contains(t, err.Error(), "ordenes_trabajo")
	assert.Contains(t, listed, "clientes")
	assert.NotContains(t, listed, "facturas", "export stops at the first failing section")

	listed = nil
	data, err := env.svc.ExportBytes(ctx, 1, true)
	require.ErrorIs(t, err, cause)
	assert.Nil(t, data)
	assert.Zero(t, published)

	var failures int
	for _, entry := range logs.AllEntries() {
		if entry.Message != "tenant export failed" {
			continue
		}
		failures++
		assert.Equal(t, int64(1), entry.Data["tenant_id"])
		assert.NotEmpty(t, entry.Data["run_id"])
	}
	assert.Equal(t, 2, failures)
}

func TestBackupService_OutOfRangeReferenceSkipsRow(t *testing.T) {
	env := newTestEnv(t)
	doc := workshopSnapshot()
	doc.SetRows("vehiculos", append(doc.Rows("vehiculos"), snapshot.Row{
		"id": 14, "placa": "XYZ-999", "cliente_id": json.Number("18446744073709551627"),
	}))

	summary, err := env.svc.Import(context.Background(), 1, doc, ImportOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "vehiculos[14]")
	assert.Contains(t, summary.Errors[0], "cliente_id")
	assert.Equal(t, 1, env.store.Count("vehiculos", 1))
}

func TestBackupService_RepeatedSourceIDSkipsLaterRow(t *testing.T) {
	env := newTestEnv(t)
	doc := workshopSnapshot()
	doc.SetRows("clientes", append(doc.Rows("clientes"), snapshot.Row{
		"id": 11, "ruc": "20999999999", "nombre": "Transportes Callao",
	}))

	summary, err := env.svc.Import(context.Background(), 1, doc, ImportOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "clientes[11]")
	assert.Contains(t, summary.Errors[0], "source id repeated")
	assert.Equal(t, 1, env.store.Count("clientes", 1))
	assert.Equal(t, 1, summary.Counts["clientes"])

	vehicle, _, ok := env.store.Get("vehiculos", 1)
	require.True(t, ok)
	client, _, ok := env.store.Get("clientes", vehicle["cliente_id"].(int64))
	require.True(t, ok)
	assert.Equal(t, "20123456789", client["ruc"])
}

func TestBackupService_CancelledContextAbortsImport(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.svc.Import(ctx, 1, workshopSnapshot(), ImportOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, env.store.Count("marcas", 1))
}

func TestBackupService_PlanReplace(t *testing.T) {
	env := newTestEnv(t)
	plan := env.svc.PlanReplace()
	assert.Equal(t, "nominas", plan.Deletes[0])
	assert.Equal(t, "marcas", plan.Deletes[len(plan.Deletes)-1])
}
