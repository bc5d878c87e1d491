package backup_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]backup.Mode{"": backup.ModeMerge, "MERGE": backup.ModeMerge, " replace ": backup.ModeReplace} {
		got, err := backup.ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := backup.ParseMode("append")
	require.ErrorIs(t, err, backup.ErrInvalidMode)

	assert.Equal(t, backup.ModeReplace, backup.ModeFor(true))
	assert.Equal(t, backup.ModeMerge, backup.ModeFor(false))
}

func TestSummary_Describe(t *testing.T) {
	t.Parallel()

	s := backup.NewSummary("run-1", 4, backup.ModeReplace)
	s.Record("vehiculos", true)
	s.Record("clientes", false)
	s.Record("vehiculos", true)
	s.AddError(&backup.RowIntegrityError{Entity: "pagos", OldID: 3, Err: errors.New("duplicate")})

	assert.Equal(t, 3, s.TotalRows())
	assert.Equal(t, map[string]int{"vehiculos": 2}, s.Created)
	assert.Equal(t, "replace import into tenant 4: 3 rows (clientes=1, vehiculos=2), 1 errors", s.Describe())
	assert.Equal(t, []string{"pagos[3]: duplicate"}, s.Errors)

	ev := &backup.ImportedEvent{Summary: s, SourceTenantID: 9}
	assert.Equal(t, "replace import into tenant 4: 3 rows (clientes=1, vehiculos=2), 1 errors from tenant 9 snapshot", ev.Description())
}

func TestExportedEvent_Description(t *testing.T) {
	t.Parallel()

	ev := &backup.ExportedEvent{TenantID: 2, TenantName: "Taller Sur", Counts: map[string]int{"clientes": 1, "ordenes_trabajo": 2}}
	assert.Equal(t, "export of tenant 2 (Taller Sur): 3 rows (clientes=1, ordenes_trabajo=2)", ev.Description())
}

func TestErrorTaxonomy_Unwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("duplicate key value violates unique constraint")
	constraint := backup.NewConstraintError("vehiculos_placa_key", cause)
	require.ErrorIs(t, constraint, backup.ErrConstraintViolation)
	require.ErrorIs(t, constraint, cause)

	row := &backup.RowIntegrityError{Entity: "vehiculos", OldID: 6, Err: constraint}
	require.ErrorIs(t, row, backup.ErrConstraintViolation)

	dep := &backup.DependencyResolutionError{Entity: "ordenes_trabajo", OldID: 7, Field: "vehiculo_id", Target: "vehiculos", Ref: 6}
	require.ErrorIs(t, dep, backup.ErrUnresolvedDependency)
	assert.Contains(t, dep.Error(), "ordenes_trabajo[7]")

	abort := &backup.TransactionAbortError{TenantID: 1, RunID: "r", Mode: backup.ModeMerge, Stage: "users", Err: &snapshot.VersionError{Got: "2"}}
	require.ErrorIs(t, abort, backup.ErrImportAborted)
	require.ErrorIs(t, abort, snapshot.ErrVersionMismatch)

	del := &backup.DeletionError{Entity: "empleados", Err: constraint}
	require.ErrorIs(t, del, backup.ErrDeletionFailed)
	require.ErrorIs(t, del, backup.ErrConstraintViolation)
}
