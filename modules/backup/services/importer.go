package services

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
	"github.com/iota-uz/workshop/pkg/composables"
)

// stageError tags a fatal import error with the step it escaped from.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return e.stage + ": " + e.err.Error()
}

func (e *stageError) Unwrap() error {
	return e.err
}

func atStage(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

// Importer replays a snapshot into a tenant. It must run inside a
// transaction opened by the caller; every error it returns is fatal and
// the caller is expected to roll back.
//
// Row-level problems (bad values, unresolved mandatory references,
// constraint violations) are recorded in the summary and the row is skipped.
// Failures while creating users or groups abort the import.
type Importer struct {
	repo       backup.Repository
	catalog    *catalog.Catalog
	planner    *DeletionPlanner
	referenced map[string]bool
	logger     *logrus.Entry
}

func NewImporter(repo backup.Repository, c *catalog.Catalog, planner *DeletionPlanner, logger *logrus.Entry) *Importer {
	return &Importer{
		repo:       repo,
		catalog:    c,
		planner:    planner,
		referenced: c.ReferencedTypes(),
		logger:     logger,
	}
}

func (im *Importer) Import(ctx context.Context, tenantID int64, doc *snapshot.Document, mode backup.Mode) (*backup.Summary, error) {
	if err := snapshot.CheckVersion(doc); err != nil {
		return nil, err
	}
	runID, _ := composables.UseRunID(ctx)
	summary := backup.NewSummary(runID, tenantID, mode)
	logger := im.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"run_id":    runID,
		"mode":      mode,
	})

	if mode == backup.ModeReplace {
		deleted, err := im.planner.Execute(ctx, tenantID)
		if err != nil {
			return nil, atStage("deletion", err)
		}
		summary.Deleted = deleted
	}

	remap := NewIDRemapper()
	groupIDs, err := im.importGroups(ctx, doc.Groups, remap, summary)
	if err != nil {
		return nil, atStage(catalog.Groups, err)
	}
	if err := im.importUsers(ctx, tenantID, doc.Users, groupIDs, remap, summary); err != nil {
		return nil, atStage(catalog.Users, err)
	}

	created := make(map[string][]int64)
	for _, e := range im.catalog.Entities() {
		rows := doc.Rows(e.Key)
		if len(rows) == 0 {
			continue
		}
		ids, err := im.importEntity(ctx, tenantID, e, rows, remap, summary)
		if err != nil {
			return nil, atStage(e.Key, err)
		}
		created[e.Key] = ids
		logger.WithField("entity", e.Key).Debugf("imported %d of %d rows", summary.Counts[e.Key], len(rows))
	}

	if err := im.recomputeTotals(ctx, tenantID, created); err != nil {
		return nil, atStage("totals", err)
	}
	return summary, nil
}

// importGroups merges groups by name and returns the new ids keyed by name.
func (im *Importer) importGroups(ctx context.Context, groups []snapshot.Group, remap *IDRemapper, summary *backup.Summary) (map[string]int64, error) {
	byName := make(map[string]int64, len(groups))
	for _, g := range groups {
		id, created, err := im.repo.UpsertGroup(ctx, g.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "upsert group %q", g.Name)
		}
		missing, err := im.repo.GrantPermissions(ctx, id, g.Permissions)
		if err != nil {
			return nil, errors.Wrapf(err, "grant permissions to group %q", g.Name)
		}
		for _, p := range missing {
			summary.AddError(fmt.Errorf("%s[%d]: permission %q does not exist", catalog.Groups, g.ID, p))
		}
		if g.ID != 0 {
			if err := remap.Put(catalog.Groups, g.ID, id); err != nil {
				return nil, err
			}
		}
		byName[g.Name] = id
		summary.Record(catalog.Groups, created)
	}
	return byName, nil
}

func (im *Importer) importUsers(ctx context.Context, tenantID int64, users []snapshot.User, groupIDs map[string]int64, remap *IDRemapper, summary *backup.Summary) error {
	for _, u := range users {
		id, created, err := im.repo.UpsertUser(ctx, u)
		if err != nil {
			return errors.Wrapf(err, "upsert user %q", u.Username)
		}
		if err := im.repo.AddMembership(ctx, tenantID, id); err != nil {
			return errors.Wrapf(err, "add user %q to tenant", u.Username)
		}

		ids := make([]int64, 0, len(u.Groups))
		for _, name := range u.Groups {
			gid, ok := groupIDs[name]
			if !ok {
				summary.AddError(fmt.Errorf("%s[%d]: group %q is not part of the snapshot", catalog.Users, u.ID, name))
				continue
			}
			ids = append(ids, gid)
		}
		if len(ids) > 0 {
			if err := im.repo.AddUserGroups(ctx, id, ids); err != nil {
				return errors.Wrapf(err, "add groups to user %q", u.Username)
			}
		}
		if u.ID != 0 {
			if err := remap.Put(catalog.Users, u.ID, id); err != nil {
				return err
			}
		}
		summary.Record(catalog.Users, created)
	}
	return nil
}

// importEntity imports the rows of one entity and returns the ids it created.
func (im *Importer) importEntity(
	ctx context.Context,
	tenantID int64,
	e *catalog.Entity,
	rows []snapshot.Row,
	remap *IDRemapper,
	summary *backup.Summary,
) ([]int64, error) {
	var created []int64
	for _, raw := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		oldID, hasID := snapshot.RowID(raw)
		remapped := hasID && im.referenced[e.Key]
		if remapped {
			if _, seen := remap.Resolve(e.Key, oldID); seen {
				im.skip(summary, e.Key, &backup.RowIntegrityError{
					Entity: e.Key,
					OldID:  oldID,
					Err:    errors.Wrap(backup.ErrDuplicateMapping, "source id repeated in snapshot"),
				})
				continue
			}
		}

		row, err := snapshot.Normalize(e, raw)
		if err != nil {
			im.skip(summary, e.Key, &backup.RowIntegrityError{Entity: e.Key, OldID: oldID, Err: err})
			continue
		}
		if err := resolveReferences(e, oldID, row, remap); err != nil {
			var dep *backup.DependencyResolutionError
			if errors.As(err, &dep) && catalog.IsStructural(dep.Target) {
				return nil, err
			}
			im.skip(summary, e.Key, err)
			continue
		}

		id, isNew, err := im.persist(ctx, e, tenantID, row)
		if err != nil {
			if errors.Is(err, backup.ErrConstraintViolation) {
				im.skip(summary, e.Key, &backup.RowIntegrityError{Entity: e.Key, OldID: oldID, Err: err})
				continue
			}
			return nil, errors.Wrapf(err, "persist %s[%d]", e.Key, oldID)
		}

		if remapped {
			if err := remap.Put(e.Key, oldID, id); err != nil {
				return nil, err
			}
		}
		if isNew {
			created = append(created, id)
			recordRow(e.Key, rowCreated)
		} else {
			recordRow(e.Key, rowReused)
		}
		summary.Record(e.Key, isNew)
	}
	return created, nil
}

func (im *Importer) skip(summary *backup.Summary, entity string, err error) {
	summary.AddError(err)
	recordRow(entity, rowSkipped)
}

// persist reuses the row matching e's natural key, if any, or inserts a new
// one. A failed insert is rolled back to a savepoint so the surrounding
// transaction stays usable.
func (im *Importer) persist(ctx context.Context, e *catalog.Entity, tenantID int64, row snapshot.Row) (int64, bool, error) {
	var (
		id      int64
		created bool
	)
	err := im.repo.InSavepoint(ctx, func(spCtx context.Context) error {
		if e.HasNaturalKey() {
			existing, found, err := im.repo.FindByNaturalKey(spCtx, e, tenantID, row)
			if err != nil {
				return err
			}
			if found {
				id = existing
				return nil
			}
		}
		newID, err := im.repo.Insert(spCtx, e, tenantID, row)
		if err != nil {
			return err
		}
		id, created = newID, true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

// resolveReferences rewrites row's foreign keys from source ids to ids of
// this import. Unresolved optional references become null.
func resolveReferences(e *catalog.Entity, oldID int64, row snapshot.Row, remap *IDRemapper) error {
	for _, fk := range e.ForeignKeys {
		ref, ok := row[fk.Column].(int64)
		if !ok {
			if !fk.Optional {
				return &backup.DependencyResolutionError{Entity: e.Key, OldID: oldID, Field: fk.Column, Target: fk.Target}
			}
			continue
		}
		if id, found := remap.Resolve(fk.Target, ref); found {
			row[fk.Column] = id
			continue
		}
		if fk.Optional {
			row[fk.Column] = nil
			continue
		}
		return &backup.DependencyResolutionError{Entity: e.Key, OldID: oldID, Field: fk.Column, Target: fk.Target, Ref: ref}
	}
	return nil
}

func (im *Importer) recomputeTotals(ctx context.Context, tenantID int64, created map[string][]int64) error {
	for _, e := range im.catalog.Entities() {
		ids := created[e.Key]
		if len(e.Totals) == 0 || len(ids) == 0 {
			continue
		}
		for _, t := range e.Totals {
			if err := im.repo.RecomputeTotal(ctx, e, t, tenantID, ids); err != nil {
				return errors.Wrapf(err, "recompute %s.%s", e.Key, t.Column)
			}
		}
	}
	return nil
}
