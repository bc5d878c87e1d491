package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
)

func TestIDRemapper(t *testing.T) {
	m := NewIDRemapper()
	require.NoError(t, m.Put("clientes", 11, 501))
	require.NoError(t, m.Put("vehiculos", 11, 777))

	id, ok := m.Resolve("clientes", 11)
	require.True(t, ok)
	assert.Equal(t, int64(501), id)

	id, ok = m.Resolve("vehiculos", 11)
	require.True(t, ok)
	assert.Equal(t, int64(777), id)

	_, ok = m.Resolve("clientes", 12)
	assert.False(t, ok)
	assert.Equal(t, 2, m.Len())
}

func TestIDRemapper_RejectsSecondWrite(t *testing.T) {
	m := NewIDRemapper()
	require.NoError(t, m.Put("clientes", 11, 501))

	err := m.Put("clientes", 11, 502)
	require.ErrorIs(t, err, backup.ErrDuplicateMapping)
	assert.Contains(t, err.Error(), "clientes[11]")

	id, _ := m.Resolve("clientes", 11)
	assert.Equal(t, int64(501), id, "first mapping wins")
}
