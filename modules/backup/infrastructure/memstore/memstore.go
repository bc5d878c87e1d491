// Package memstore is a transactional in-memory backup.Repository. It
// enforces the same integrity rules as the Postgres schema: tenant-scoped
// natural keys, existing foreign key targets, cascading owns edges and
// restricted references.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
)

var (
	ErrNotInTx    = errors.New("memstore: operation requires a transaction")
	ErrReadOnlyTx = errors.New("memstore: write in read-only transaction")
)

// Hooks let tests inject failures. A non-nil error from a hook is returned
// by the corresponding operation before any state changes.
type Hooks struct {
	OnInsert     func(entity string, row snapshot.Row) error
	OnDelete     func(entity string, tenantID int64) error
	OnUpsertUser func(u snapshot.User) error
	OnList       func(entity string, tenantID int64) error
}

type txKey struct{}

type txState struct {
	readOnly bool
}

type record struct {
	tenantID int64
	fields   snapshot.Row
}

type table struct {
	nextID int64
	rows   map[int64]*record
}

type group struct {
	name  string
	perms map[string]bool
}

type user struct {
	snapshot.User
	groups map[int64]bool
}

type state struct {
	tenants     map[int64]*backup.Tenant
	tables      map[string]*table
	groups      map[int64]*group
	nextGroupID int64
	permissions map[string]bool
	users       map[int64]*user
	nextUserID  int64
	members     map[int64]map[int64]bool
}

type Store struct {
	mu      sync.Mutex
	catalog *catalog.Catalog
	state   *state
	Hooks   Hooks
}

var _ backup.Repository = (*Store)(nil)

func New(c *catalog.Catalog) *Store {
	st := &state{
		tenants:     make(map[int64]*backup.Tenant),
		tables:      make(map[string]*table),
		groups:      make(map[int64]*group),
		permissions: make(map[string]bool),
		users:       make(map[int64]*user),
		members:     make(map[int64]map[int64]bool),
	}
	for _, e := range c.Entities() {
		st.tables[e.Key] = &table{rows: make(map[int64]*record)}
	}
	return &Store{catalog: c, state: st}
}

func (s *state) clone() *state {
	out := &state{
		tenants:     make(map[int64]*backup.Tenant, len(s.tenants)),
		tables:      make(map[string]*table, len(s.tables)),
		groups:      make(map[int64]*group, len(s.groups)),
		nextGroupID: s.nextGroupID,
		permissions: make(map[string]bool, len(s.permissions)),
		users:       make(map[int64]*user, len(s.users)),
		nextUserID:  s.nextUserID,
		members:     make(map[int64]map[int64]bool, len(s.members)),
	}
	for id, t := range s.tenants {
		cp := *t
		out.tenants[id] = &cp
	}
	for key, t := range s.tables {
		ct := &table{nextID: t.nextID, rows: make(map[int64]*record, len(t.rows))}
		for id, r := range t.rows {
			ct.rows[id] = &record{tenantID: r.tenantID, fields: copyRow(r.fields)}
		}
		out.tables[key] = ct
	}
	for id, g := range s.groups {
		out.groups[id] = &group{name: g.name, perms: copySet(g.perms)}
	}
	for k, v := range s.permissions {
		out.permissions[k] = v
	}
	for id, u := range s.users {
		cu := &user{User: u.User, groups: copySet(u.groups)}
		cu.Groups = slices.Clone(u.Groups)
		out.users[id] = cu
	}
	for tenantID, m := range s.members {
		out.members[tenantID] = copySet(m)
	}
	return out
}

func copySet[K comparable](in map[K]bool) map[K]bool {
	out := make(map[K]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyRow(in snapshot.Row) snapshot.Row {
	out := make(snapshot.Row, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func currentTx(ctx context.Context) (*txState, bool) {
	tx, ok := ctx.Value(txKey{}).(*txState)
	return tx, ok
}

func writable(ctx context.Context) error {
	if tx, ok := currentTx(ctx); ok && tx.readOnly {
		return ErrReadOnlyTx
	}
	return nil
}

// InTx serializes transactions and restores the pre-call state when fn
// fails or ctx is done by the time fn returns.
func (s *Store) InTx(ctx context.Context, _ int64, fn func(ctx context.Context) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) InReadTx(ctx context.Context, _ int64, fn func(ctx context.Context) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.state.clone()
	err := fn(context.WithValue(ctx, txKey{}, &txState{readOnly: readOnly}))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.state = saved
		return err
	}
	return nil
}

func (s *Store) InSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := currentTx(ctx); !ok {
		return ErrNotInTx
	}
	saved := s.state.clone()
	if err := fn(ctx); err != nil {
		s.state = saved
		return err
	}
	return nil
}

func (s *Store) GetTenant(_ context.Context, tenantID int64) (*backup.Tenant, error) {
	t, ok := s.state.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", backup.ErrTenantNotFound, tenantID)
	}
	cp := *t
	cp.Fields = copyRow(t.Fields)
	return &cp, nil
}

func (s *Store) ListGroups(_ context.Context) ([]snapshot.Group, error) {
	out := make([]snapshot.Group, 0, len(s.state.groups))
	for _, id := range sortedKeys(s.state.groups) {
		g := s.state.groups[id]
		perms := make([]string, 0, len(g.perms))
		for p := range g.perms {
			perms = append(perms, p)
		}
		sort.Strings(perms)
		out = append(out, snapshot.Group{ID: id, Name: g.name, Permissions: perms})
	}
	return out, nil
}

func (s *Store) ListUsers(_ context.Context, tenantID int64) ([]snapshot.User, error) {
	members := s.state.members[tenantID]
	out := make([]snapshot.User, 0, len(members))
	for _, id := range sortedKeys(s.state.users) {
		if !members[id] {
			continue
		}
		u := s.state.users[id]
		su := u.User
		su.ID = id
		su.Groups = s.groupNames(u.groups)
		out = append(out, su)
	}
	return out, nil
}

func (s *Store) groupNames(ids map[int64]bool) []string {
	names := make([]string, 0, len(ids))
	for id := range ids {
		if g, ok := s.state.groups[id]; ok {
			names = append(names, g.name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Store) ListRows(_ context.Context, e *catalog.Entity, tenantID int64) ([]snapshot.Row, error) {
	t, err := s.table(e)
	if err != nil {
		return nil, err
	}
	if s.Hooks.OnList != nil {
		if err := s.Hooks.OnList(e.Key, tenantID); err != nil {
			return nil, err
		}
	}
	var out []snapshot.Row
	for _, id := range sortedKeys(t.rows) {
		r := t.rows[id]
		if r.tenantID != tenantID {
			continue
		}
		row := copyRow(r.fields)
		row[snapshot.IDField] = id
		out = append(out, row)
	}
	return out, nil
}

func (s *Store) UpsertGroup(ctx context.Context, name string) (int64, bool, error) {
	for _, id := range sortedKeys(s.state.groups) {
		if s.state.groups[id].name == name {
			return id, false, nil
		}
	}
	if err := writable(ctx); err != nil {
		return 0, false, err
	}
	s.state.nextGroupID++
	id := s.state.nextGroupID
	s.state.groups[id] = &group{name: name, perms: make(map[string]bool)}
	return id, true, nil
}

func (s *Store) GrantPermissions(ctx context.Context, groupID int64, permissions []string) ([]string, error) {
	if err := writable(ctx); err != nil {
		return nil, err
	}
	g, ok := s.state.groups[groupID]
	if !ok {
		return nil, backup.NewConstraintError("auth_group_permissions_group_id_fkey", fmt.Errorf("group %d does not exist", groupID))
	}
	var missing []string
	for _, p := range permissions {
		if !s.state.permissions[p] {
			missing = append(missing, p)
			continue
		}
		g.perms[p] = true
	}
	return missing, nil
}

func (s *Store) UpsertUser(ctx context.Context, u snapshot.User) (int64, bool, error) {
	if s.Hooks.OnUpsertUser != nil {
		if err := s.Hooks.OnUpsertUser(u); err != nil {
			return 0, false, err
		}
	}
	for _, id := range sortedKeys(s.state.users) {
		if s.state.users[id].Username == u.Username {
			return id, false, nil
		}
	}
	if err := writable(ctx); err != nil {
		return 0, false, err
	}
	s.state.nextUserID++
	id := s.state.nextUserID
	stored := u
	stored.ID = id
	stored.Groups = nil
	s.state.users[id] = &user{User: stored, groups: make(map[int64]bool)}
	return id, true, nil
}

func (s *Store) AddUserGroups(ctx context.Context, userID int64, groupIDs []int64) error {
	if err := writable(ctx); err != nil {
		return err
	}
	u, ok := s.state.users[userID]
	if !ok {
		return backup.NewConstraintError("user_groups_user_id_fkey", fmt.Errorf("user %d does not exist", userID))
	}
	for _, gid := range groupIDs {
		if _, ok := s.state.groups[gid]; !ok {
			return backup.NewConstraintError("user_groups_group_id_fkey", fmt.Errorf("group %d does not exist", gid))
		}
		u.groups[gid] = true
	}
	return nil
}

func (s *Store) AddMembership(ctx context.Context, tenantID, userID int64) error {
	if err := writable(ctx); err != nil {
		return err
	}
	if _, ok := s.state.users[userID]; !ok {
		return backup.NewConstraintError("tenant_users_user_id_fkey", fmt.Errorf("user %d does not exist", userID))
	}
	m, ok := s.state.members[tenantID]
	if !ok {
		m = make(map[int64]bool)
		s.state.members[tenantID] = m
	}
	m[userID] = true
	return nil
}

func (s *Store) FindByNaturalKey(_ context.Context, e *catalog.Entity, tenantID int64, row snapshot.Row) (int64, bool, error) {
	t, err := s.table(e)
	if err != nil {
		return 0, false, err
	}
	if !e.HasNaturalKey() {
		return 0, false, nil
	}
	for _, id := range sortedKeys(t.rows) {
		r := t.rows[id]
		if r.tenantID == tenantID && sameNaturalKey(e, r.fields, row) {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func sameNaturalKey(e *catalog.Entity, a, b snapshot.Row) bool {
	for _, col := range e.NaturalKey {
		if a[col] == nil || b[col] == nil || !valuesEqual(a[col], b[col]) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case decimal.Decimal:
		y, ok := b.(decimal.Decimal)
		return ok && x.Equal(y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	return a == b
}

func (s *Store) Insert(ctx context.Context, e *catalog.Entity, tenantID int64, row snapshot.Row) (int64, error) {
	if err := writable(ctx); err != nil {
		return 0, err
	}
	t, err := s.table(e)
	if err != nil {
		return 0, err
	}
	if s.Hooks.OnInsert != nil {
		if err := s.Hooks.OnInsert(e.Key, row); err != nil {
			return 0, err
		}
	}
	for _, fk := range e.ForeignKeys {
		ref := row[fk.Column]
		if ref == nil {
			if !fk.Optional {
				return 0, backup.NewConstraintError(e.Key+"_"+fk.Column+"_not_null", fmt.Errorf("null value in column %q", fk.Column))
			}
			continue
		}
		id, ok := ref.(int64)
		if !ok || !s.exists(fk.Target, tenantID, id) {
			return 0, backup.NewConstraintError(e.Key+"_"+fk.Column+"_fkey", fmt.Errorf("key (%s)=(%v) is not present in %s", fk.Column, ref, fk.Target))
		}
	}
	if e.HasNaturalKey() {
		for _, r := range t.rows {
			if r.tenantID == tenantID && sameNaturalKey(e, r.fields, row) {
				return 0, backup.NewConstraintError(e.Key+"_natural_key", fmt.Errorf("duplicate natural key %v", naturalKeyValues(e, row)))
			}
		}
	}

	fields := make(snapshot.Row, len(e.Columns)+len(e.ForeignKeys))
	for _, name := range e.Fields() {
		fields[name] = row[name]
	}
	t.nextID++
	t.rows[t.nextID] = &record{tenantID: tenantID, fields: fields}
	return t.nextID, nil
}

func naturalKeyValues(e *catalog.Entity, row snapshot.Row) []any {
	out := make([]any, len(e.NaturalKey))
	for i, col := range e.NaturalKey {
		out[i] = row[col]
	}
	return out
}

func (s *Store) exists(target string, tenantID, id int64) bool {
	if target == catalog.Users {
		_, ok := s.state.users[id]
		return ok
	}
	t, ok := s.state.tables[target]
	if !ok {
		return false
	}
	r, ok := t.rows[id]
	return ok && r.tenantID == tenantID
}

func (s *Store) RecomputeTotal(ctx context.Context, parent *catalog.Entity, total catalog.Total, tenantID int64, ids []int64) error {
	if err := writable(ctx); err != nil {
		return err
	}
	pt, err := s.table(parent)
	if err != nil {
		return err
	}
	ct, ok := s.state.tables[total.Child]
	if !ok {
		return fmt.Errorf("memstore: unknown entity %q", total.Child)
	}
	for _, id := range ids {
		p, ok := pt.rows[id]
		if !ok || p.tenantID != tenantID {
			continue
		}
		sum := decimal.Zero
		for _, c := range ct.rows {
			if c.tenantID != tenantID || c.fields[total.ChildFK] != id {
				continue
			}
			if v, ok := c.fields[total.ChildColumn].(decimal.Decimal); ok {
				sum = sum.Add(v)
			}
		}
		p.fields[total.Column] = sum
	}
	return nil
}

func (s *Store) NullReferences(ctx context.Context, e *catalog.Entity, column string, tenantID int64) (int64, error) {
	if err := writable(ctx); err != nil {
		return 0, err
	}
	t, err := s.table(e)
	if err != nil {
		return 0, err
	}
	fk, ok := e.ForeignKey(column)
	if !ok {
		return 0, fmt.Errorf("memstore: %s has no foreign key %q", e.Key, column)
	}
	var n int64
	for _, r := range t.rows {
		if r.tenantID != tenantID || r.fields[column] == nil {
			continue
		}
		if !fk.Optional {
			return 0, backup.NewConstraintError(e.Key+"_"+column+"_not_null", fmt.Errorf("null value in column %q", column))
		}
		r.fields[column] = nil
		n++
	}
	return n, nil
}

// DeleteAll removes every row of e in the tenant together with rows that
// own-reference them, and fails without changes while any other row still
// references one of them.
func (s *Store) DeleteAll(ctx context.Context, e *catalog.Entity, tenantID int64) (int64, error) {
	if err := writable(ctx); err != nil {
		return 0, err
	}
	if s.Hooks.OnDelete != nil {
		if err := s.Hooks.OnDelete(e.Key, tenantID); err != nil {
			return 0, err
		}
	}
	doomed := make(map[string]map[int64]bool)
	s.collect(e.Key, tenantID, nil, doomed)

	for _, ref := range s.allReferences() {
		t := s.state.tables[ref.Entity.Key]
		for id, r := range t.rows {
			if r.tenantID != tenantID || doomed[ref.Entity.Key][id] {
				continue
			}
			target, ok := r.fields[ref.ForeignKey.Column].(int64)
			if ok && doomed[ref.ForeignKey.Target][target] {
				return 0, backup.NewConstraintError(
					ref.Entity.Key+"_"+ref.ForeignKey.Column+"_fkey",
					fmt.Errorf("%s %d is still referenced from %s %d", ref.ForeignKey.Target, target, ref.Entity.Key, id),
				)
			}
		}
	}

	var n int64
	for key, ids := range doomed {
		for id := range ids {
			delete(s.state.tables[key].rows, id)
		}
		if key == e.Key {
			n = int64(len(ids))
		}
	}
	return n, nil
}

// collect marks rows of key (restricted to only, when non-nil) and, through
// owns edges, their dependents.
func (s *Store) collect(key string, tenantID int64, only map[int64]bool, doomed map[string]map[int64]bool) {
	t := s.state.tables[key]
	marked := make(map[int64]bool)
	for id, r := range t.rows {
		if r.tenantID != tenantID || doomed[key][id] {
			continue
		}
		if only != nil && !only[id] {
			continue
		}
		marked[id] = true
	}
	if len(marked) == 0 {
		return
	}
	if doomed[key] == nil {
		doomed[key] = make(map[int64]bool)
	}
	for id := range marked {
		doomed[key][id] = true
	}
	for _, ref := range s.catalog.References(key) {
		if ref.ForeignKey.Edge != catalog.Owns {
			continue
		}
		children := make(map[int64]bool)
		for id, r := range s.state.tables[ref.Entity.Key].rows {
			if target, ok := r.fields[ref.ForeignKey.Column].(int64); ok && r.tenantID == tenantID && marked[target] {
				children[id] = true
			}
		}
		if len(children) > 0 {
			s.collect(ref.Entity.Key, tenantID, children, doomed)
		}
	}
}

func (s *Store) allReferences() []catalog.Reference {
	var out []catalog.Reference
	for _, e := range s.catalog.Entities() {
		for _, fk := range e.ForeignKeys {
			if fk.Edge == catalog.References {
				out = append(out, catalog.Reference{Entity: e, ForeignKey: fk})
			}
		}
	}
	return out
}

func (s *Store) table(e *catalog.Entity) (*table, error) {
	t, ok := s.state.tables[e.Key]
	if !ok {
		return nil, fmt.Errorf("memstore: unknown entity %q", e.Key)
	}
	return t, nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
