package xlsx_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
	"github.com/iota-uz/workshop/modules/backup/infrastructure/xlsx"
)

func TestWorkbook(t *testing.T) {
	doc := &snapshot.Document{
		Metadata: snapshot.Metadata{Version: snapshot.Version, TenantID: 1, TenantName: "Taller Norte"},
		Tenant:   snapshot.Row{},
	}
	doc.SetRows("clientes", []snapshot.Row{
		{"id": 11, "ruc": "20123456789", "nombre": "Transportes Lima"},
		{"id": 12, "ruc": "20987654321", "nombre": "Agrícola Sur"},
	})
	doc.SetRows("desconocido", []snapshot.Row{{"id": 1}})

	data, err := xlsx.Workbook(doc, catalog.Workshop())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{xlsx.SummarySheet, "clientes"}, f.GetSheetList())

	summary, err := f.GetRows(xlsx.SummarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant_name", "Taller Norte"}, summary[2])
	assert.Contains(t, summary, []string{"clientes", "2"})
	assert.Contains(t, summary, []string{"vehiculos", "0"})

	rows, err := f.GetRows("clientes")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, "11", rows[1][0])
	assert.Contains(t, rows[2], "Agrícola Sur")
}
