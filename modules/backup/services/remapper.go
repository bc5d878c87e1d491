package services

import (
	"github.com/go-faster/errors"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
)

type remapKey struct {
	entity string
	oldID  int64
}

// IDRemapper maps source-local ids to the ids assigned by one import run.
// Each (entity, old id) pair can be written once.
type IDRemapper struct {
	ids map[remapKey]int64
}

func NewIDRemapper() *IDRemapper {
	return &IDRemapper{ids: make(map[remapKey]int64)}
}

func (m *IDRemapper) Put(entity string, oldID, newID int64) error {
	k := remapKey{entity: entity, oldID: oldID}
	if prev, ok := m.ids[k]; ok {
		return errors.Wrapf(backup.ErrDuplicateMapping, "%s[%d] already maps to %d", entity, oldID, prev)
	}
	m.ids[k] = newID
	return nil
}

func (m *IDRemapper) Resolve(entity string, oldID int64) (int64, bool) {
	id, ok := m.ids[remapKey{entity: entity, oldID: oldID}]
	return id, ok
}

func (m *IDRemapper) Len() int {
	return len(m.ids)
}
