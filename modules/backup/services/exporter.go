package services

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
	"github.com/iota-uz/workshop/pkg/composables"
)

// Exporter serializes one tenant into a snapshot document inside a
// read-only, repeatable-read transaction. It never returns a partial document.
type Exporter struct {
	repo    backup.Repository
	catalog *catalog.Catalog
	logger  *logrus.Entry
	now     func() time.Time
}

func NewExporter(repo backup.Repository, c *catalog.Catalog, logger *logrus.Entry) *Exporter {
	return &Exporter{
		repo:    repo,
		catalog: c,
		logger:  logger,
		now:     time.Now,
	}
}

func (ex *Exporter) Export(ctx context.Context, tenantID int64) (*snapshot.Document, error) {
	var doc *snapshot.Document
	err := ex.repo.InReadTx(ctx, tenantID, func(txCtx context.Context) error {
		d, err := ex.build(txCtx, tenantID)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		runID, _ := composables.UseRunID(ctx)
		ex.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"run_id":    runID,
		}).Error("tenant export failed")
		return nil, errors.Wrapf(err, "export tenant %d", tenantID)
	}
	return doc, nil
}

func (ex *Exporter) build(ctx context.Context, tenantID int64) (*snapshot.Document, error) {
	tenant, err := ex.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	groups, err := ex.repo.ListGroups(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list groups")
	}
	users, err := ex.repo.ListUsers(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}

	doc := &snapshot.Document{
		Metadata: snapshot.Metadata{
			Version:    snapshot.Version,
			TenantID:   tenant.ID,
			TenantName: tenant.Name,
			ExportedAt: ex.now().UTC(),
		},
		Tenant: snapshot.Portable(tenant.Fields),
		Groups: groups,
		Users:  users,
	}
	for _, e := range ex.catalog.Entities() {
		rows, err := ex.exportEntity(ctx, e, tenantID)
		if err != nil {
			return nil, err
		}
		doc.SetRows(e.Key, rows)
	}
	return doc, nil
}

func (ex *Exporter) exportEntity(ctx context.Context, e *catalog.Entity, tenantID int64) ([]snapshot.Row, error) {
	stored, err := ex.repo.ListRows(ctx, e, tenantID)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", e.Key)
	}
	out := make([]snapshot.Row, 0, len(stored))
	for _, row := range stored {
		id, ok := snapshot.RowID(row)
		if !ok {
			return nil, errors.Errorf("%s: stored row without id", e.Key)
		}
		sr, err := snapshot.Serialize(e, id, row)
		if err != nil {
			return nil, errors.Wrapf(err, "serialize %s[%d]", e.Key, id)
		}
		out = append(out, sr)
	}
	return out, nil
}
