package services

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
)

// NullStep clears one optional cross-reference column tenant-wide.
type NullStep struct {
	Entity string `json:"entity"`
	Column string `json:"column"`
	Target string `json:"target"`
}

// DeletionPlan is what a replace import removes before importing: first every
// null step, then every entity in Deletes order. Retained data is never touched.
type DeletionPlan struct {
	Nulls    []NullStep `json:"nulls"`
	Deletes  []string   `json:"deletes"`
	Retained []string   `json:"retained"`
}

// Plan derives the deletion plan from the catalog graph: optional references
// are nulled, owned and referencing rows go before the rows they point at.
func Plan(c *catalog.Catalog) DeletionPlan {
	plan := DeletionPlan{
		Nulls:    []NullStep{},
		Retained: []string{catalog.Users, catalog.Groups, "tenant_users"},
	}
	for _, e := range c.Entities() {
		for _, fk := range e.ForeignKeys {
			if fk.Optional && fk.Edge == catalog.References && !catalog.IsStructural(fk.Target) {
				plan.Nulls = append(plan.Nulls, NullStep{Entity: e.Key, Column: fk.Column, Target: fk.Target})
			}
		}
	}
	for _, e := range c.Reverse() {
		plan.Deletes = append(plan.Deletes, e.Key)
	}
	return plan
}

// DeletionPlanner wipes a tenant's catalog data ahead of a replace import.
// It runs inside the import transaction.
type DeletionPlanner struct {
	repo    backup.Repository
	catalog *catalog.Catalog
	plan    DeletionPlan
	logger  *logrus.Entry
}

func NewDeletionPlanner(repo backup.Repository, c *catalog.Catalog, logger *logrus.Entry) *DeletionPlanner {
	return &DeletionPlanner{
		repo:    repo,
		catalog: c,
		plan:    Plan(c),
		logger:  logger,
	}
}

func (p *DeletionPlanner) Plan() DeletionPlan {
	return p.plan
}

// Execute applies the plan and returns the rows deleted per entity. An entity
// that still has referencing rows gets its inbound references nulled again and
// one more attempt; a second failure is returned as a *backup.DeletionError.
func (p *DeletionPlanner) Execute(ctx context.Context, tenantID int64) (map[string]int64, error) {
	logger := p.logger.WithField("tenant_id", tenantID)
	for _, step := range p.plan.Nulls {
		if err := p.null(ctx, step, tenantID, logger); err != nil {
			return nil, err
		}
	}

	deleted := make(map[string]int64, len(p.plan.Deletes))
	for _, key := range p.plan.Deletes {
		e, ok := p.catalog.Lookup(key)
		if !ok {
			return nil, errors.Errorf("deletion plan names unknown entity %q", key)
		}
		n, err := p.deleteAll(ctx, e, tenantID)
		if err != nil {
			if !errors.Is(err, backup.ErrConstraintViolation) {
				return nil, errors.Wrapf(err, "delete %s", key)
			}
			logger.WithError(err).WithField("entity", key).Warn("residual references, nulling again and retrying")
			recordDeleteRetry(key)
			if err := p.renull(ctx, key, tenantID, logger); err != nil {
				return nil, err
			}
			n, err = p.deleteAll(ctx, e, tenantID)
			if err != nil {
				return nil, &backup.DeletionError{Entity: key, Err: err}
			}
		}
		deleted[key] = n
		recordDeleted(key, n)
	}
	return deleted, nil
}

func (p *DeletionPlanner) null(ctx context.Context, step NullStep, tenantID int64, logger *logrus.Entry) error {
	e, ok := p.catalog.Lookup(step.Entity)
	if !ok {
		return errors.Errorf("deletion plan names unknown entity %q", step.Entity)
	}
	n, err := p.repo.NullReferences(ctx, e, step.Column, tenantID)
	if err != nil {
		return errors.Wrapf(err, "null %s.%s", step.Entity, step.Column)
	}
	if n > 0 {
		logger.WithField("entity", step.Entity).Debugf("nulled %d references in %s", n, step.Column)
	}
	return nil
}

func (p *DeletionPlanner) renull(ctx context.Context, target string, tenantID int64, logger *logrus.Entry) error {
	for _, step := range p.plan.Nulls {
		if step.Target != target {
			continue
		}
		if err := p.null(ctx, step, tenantID, logger); err != nil {
			return err
		}
	}
	return nil
}

func (p *DeletionPlanner) deleteAll(ctx context.Context, e *catalog.Entity, tenantID int64) (int64, error) {
	var n int64
	err := p.repo.InSavepoint(ctx, func(spCtx context.Context) error {
		deleted, err := p.repo.DeleteAll(spCtx, e, tenantID)
		if err != nil {
			return err
		}
		n = deleted
		return nil
	})
	return n, err
}
