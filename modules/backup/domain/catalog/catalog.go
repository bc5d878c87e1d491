// Package catalog describes the tenant-scoped entity types a backup carries
// and the order in which they can be created and destroyed.
package catalog

import (
	"fmt"
	"slices"
)

// Kind is the scalar type of a column as it appears in a snapshot.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindDecimal
	KindBool
	KindDate
	KindDateTime
	// KindFile holds a URL to stored media; bytes never travel in a snapshot.
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindDecimal:
		return "decimal"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// EdgeKind tells the deletion planner how a reference behaves when its target goes away.
type EdgeKind int

const (
	// Owns: the referring row belongs to the target and is removed with it.
	Owns EdgeKind = iota + 1
	// References: the referring row merely points at the target; the pointer
	// must be cleared before the target can be deleted.
	References
)

func (e EdgeKind) String() string {
	switch e {
	case Owns:
		return "owns"
	case References:
		return "references"
	default:
		return fmt.Sprintf("edge(%d)", int(e))
	}
}

// Global entity keys. They are not tenant scoped and never appear in the ordered catalog.
const (
	Users  = "users"
	Groups = "groups"
)

type Column struct {
	Name string
	Kind Kind
	// Scale is the number of fractional digits of a decimal column.
	Scale int32
	// Default replaces absent values. nil means NULL.
	Default any
}

type ForeignKey struct {
	Column   string
	Target   string
	Optional bool
	Edge     EdgeKind
}

// Total declares a parent column that is the sum of a child column.
type Total struct {
	Column      string
	Child       string
	ChildColumn string
	ChildFK     string
}

type Entity struct {
	// Key is the snapshot array key and the table name.
	Key         string
	Columns     []Column
	ForeignKeys []ForeignKey
	// NaturalKey lists the columns that identify a row independent of its id.
	// Entities without one are always created fresh on import.
	NaturalKey []string
	Totals     []Total
}

func (e *Entity) Column(name string) (Column, bool) {
	for _, c := range e.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (e *Entity) ForeignKey(column string) (ForeignKey, bool) {
	for _, fk := range e.ForeignKeys {
		if fk.Column == column {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

func (e *Entity) HasNaturalKey() bool {
	return len(e.NaturalKey) > 0
}

// Fields returns every persisted field name: scalar columns first, then foreign keys.
func (e *Entity) Fields() []string {
	out := make([]string, 0, len(e.Columns)+len(e.ForeignKeys))
	for _, c := range e.Columns {
		out = append(out, c.Name)
	}
	for _, fk := range e.ForeignKeys {
		out = append(out, fk.Column)
	}
	return out
}

// Reference is an incoming edge: Entity.ForeignKey points at some target.
type Reference struct {
	Entity     *Entity
	ForeignKey ForeignKey
}

// Catalog is an ordered set of entities in which every foreign key target
// precedes its referrer. The order is fixed; call Validate in tests.
type Catalog struct {
	entities []*Entity
	byKey    map[string]*Entity
}

func New(entities ...*Entity) *Catalog {
	c := &Catalog{
		entities: entities,
		byKey:    make(map[string]*Entity, len(entities)),
	}
	for _, e := range entities {
		c.byKey[e.Key] = e
	}
	return c
}

// Entities returns entities in creation order.
func (c *Catalog) Entities() []*Entity {
	return slices.Clone(c.entities)
}

// Reverse returns entities in deletion order.
func (c *Catalog) Reverse() []*Entity {
	out := slices.Clone(c.entities)
	slices.Reverse(out)
	return out
}

// Order returns entity keys in creation order.
func (c *Catalog) Order() []string {
	out := make([]string, len(c.entities))
	for i, e := range c.entities {
		out[i] = e.Key
	}
	return out
}

func (c *Catalog) Lookup(key string) (*Entity, bool) {
	e, ok := c.byKey[key]
	return e, ok
}

// References returns every foreign key that targets key, in catalog order.
func (c *Catalog) References(key string) []Reference {
	var out []Reference
	for _, e := range c.entities {
		for _, fk := range e.ForeignKeys {
			if fk.Target == key {
				out = append(out, Reference{Entity: e, ForeignKey: fk})
			}
		}
	}
	return out
}

// IsReferenced reports whether any entity holds a foreign key to key.
func (c *Catalog) IsReferenced(key string) bool {
	return len(c.References(key)) > 0
}

// ReferencedTypes returns the set of entity keys some other entity points at.
func (c *Catalog) ReferencedTypes() map[string]bool {
	out := make(map[string]bool)
	for _, e := range c.entities {
		for _, fk := range e.ForeignKeys {
			out[fk.Target] = true
		}
	}
	return out
}

// IsStructural reports whether key names global data every tenant import depends on.
func IsStructural(key string) bool {
	return key == Users || key == Groups
}
