package memstore

import (
	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
)

// AddTenant registers a tenant. Outside of tests tenants come from the host application.
func (s *Store) AddTenant(id int64, name string, fields snapshot.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.tenants[id] = &backup.Tenant{ID: id, Name: name, Fields: copyRow(fields)}
}

// RegisterPermissions declares the permission keys (app_label.codename) this installation knows.
func (s *Store) RegisterPermissions(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.state.permissions[k] = true
	}
}

// Count returns the number of rows of entity owned by the tenant.
func (s *Store) Count(entity string, tenantID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.tables[entity]
	if !ok {
		return 0
	}
	n := 0
	for _, r := range t.rows {
		if r.tenantID == tenantID {
			n++
		}
	}
	return n
}

// Get returns a copy of a stored row and the tenant owning it.
func (s *Store) Get(entity string, id int64) (snapshot.Row, int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.tables[entity]
	if !ok {
		return nil, 0, false
	}
	r, ok := t.rows[id]
	if !ok {
		return nil, 0, false
	}
	return copyRow(r.fields), r.tenantID, true
}

func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.users)
}

func (s *Store) GroupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.groups)
}

// IsMember reports whether the user with username belongs to the tenant.
func (s *Store) IsMember(tenantID int64, username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.state.users {
		if u.Username == username {
			return s.state.members[tenantID][id]
		}
	}
	return false
}
