package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that the catalog is a usable creation order: keys are
// unique, every foreign key targets a known entity that precedes its referrer,
// natural keys and totals name real columns, and the reference graph has no cycle.
func (c *Catalog) Validate() error {
	var errs []error
	position := make(map[string]int, len(c.entities))
	for i, e := range c.entities {
		if _, dup := position[e.Key]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate entity key", e.Key))
			continue
		}
		position[e.Key] = i
	}

	for i, e := range c.entities {
		seen := make(map[string]bool)
		for _, name := range e.Fields() {
			if seen[name] {
				errs = append(errs, fmt.Errorf("%s.%s: duplicate field", e.Key, name))
			}
			seen[name] = true
		}
		for _, fk := range e.ForeignKeys {
			if fk.Edge != Owns && fk.Edge != References {
				errs = append(errs, fmt.Errorf("%s.%s: unknown edge kind %s", e.Key, fk.Column, fk.Edge))
			}
			if IsStructural(fk.Target) {
				continue
			}
			pos, ok := position[fk.Target]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("%s.%s: unknown target %q", e.Key, fk.Column, fk.Target))
			case pos >= i:
				errs = append(errs, fmt.Errorf("%s.%s: target %q does not precede referrer", e.Key, fk.Column, fk.Target))
			}
		}
		for _, name := range e.NaturalKey {
			if !seen[name] {
				errs = append(errs, fmt.Errorf("%s: natural key column %q not declared", e.Key, name))
			}
		}
		for _, t := range e.Totals {
			errs = append(errs, c.validateTotal(e, t)...)
		}
	}

	if cycle := c.findCycle(); cycle != nil {
		errs = append(errs, fmt.Errorf("reference cycle: %s", strings.Join(cycle, " -> ")))
	}
	return errors.Join(errs...)
}

func (c *Catalog) validateTotal(parent *Entity, t Total) []error {
	var errs []error
	if col, ok := parent.Column(t.Column); !ok || col.Kind != KindDecimal {
		errs = append(errs, fmt.Errorf("%s: total column %q must be a decimal column", parent.Key, t.Column))
	}
	child, ok := c.Lookup(t.Child)
	if !ok {
		return append(errs, fmt.Errorf("%s: total child %q unknown", parent.Key, t.Child))
	}
	if col, ok := child.Column(t.ChildColumn); !ok || col.Kind != KindDecimal {
		errs = append(errs, fmt.Errorf("%s: total source %s.%s must be a decimal column", parent.Key, t.Child, t.ChildColumn))
	}
	if fk, ok := child.ForeignKey(t.ChildFK); !ok || fk.Target != parent.Key {
		errs = append(errs, fmt.Errorf("%s: total link %s.%s must reference %s", parent.Key, t.Child, t.ChildFK, parent.Key))
	}
	return errs
}

// findCycle runs a depth-first search over referrer -> target edges and
// returns the first cycle found, or nil.
func (c *Catalog) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(c.entities))
	var stack []string
	var cycle []string

	var visit func(key string) bool
	visit = func(key string) bool {
		color[key] = grey
		stack = append(stack, key)
		e, ok := c.byKey[key]
		if ok {
			for _, fk := range e.ForeignKeys {
				if _, known := c.byKey[fk.Target]; !known {
					continue
				}
				switch color[fk.Target] {
				case grey:
					start := 0
					for i, k := range stack {
						if k == fk.Target {
							start = i
						}
					}
					cycle = append(append([]string{}, stack[start:]...), fk.Target)
					return true
				case white:
					if visit(fk.Target) {
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[key] = black
		return false
	}

	for _, e := range c.entities {
		if color[e.Key] == white && visit(e.Key) {
			return cycle
		}
	}
	return nil
}
