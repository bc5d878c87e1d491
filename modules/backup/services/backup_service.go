package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
	"github.com/iota-uz/workshop/pkg/composables"
	"github.com/iota-uz/workshop/pkg/eventbus"
)

var tracer = otel.Tracer("workshop-backup")

type ImportOptions struct {
	Replace bool
}

// BackupService is the entry point of the backup engine. Each Import runs in
// a single transaction: either the whole snapshot lands or nothing does.
type BackupService struct {
	repo      backup.Repository
	exporter  *Exporter
	importer  *Importer
	planner   *DeletionPlanner
	publisher eventbus.EventBus
	logger    *logrus.Entry
	now       func() time.Time
}

func NewBackupService(repo backup.Repository, c *catalog.Catalog, publisher eventbus.EventBus, logger *logrus.Entry) *BackupService {
	planner := NewDeletionPlanner(repo, c, logger)
	return &BackupService{
		repo:      repo,
		exporter:  NewExporter(repo, c, logger),
		importer:  NewImporter(repo, c, planner, logger),
		planner:   planner,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *BackupService) Export(ctx context.Context, tenantID int64) (*snapshot.Document, error) {
	runID := uuid.NewString()
	ctx = composables.WithRunID(ctx, runID)
	ctx, span := tracer.Start(ctx, "backup.Export", trace.WithAttributes(
		attribute.Int64("tenant_id", tenantID),
		attribute.String("run_id", runID),
	))
	defer span.End()

	start := s.now()
	doc, err := s.exporter.Export(ctx, tenantID)
	elapsed := time.Since(start)
	recordRun("export", "", err, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.publisher.Publish(ctx, &backup.ExportedEvent{
		TenantID:   tenantID,
		TenantName: doc.Metadata.TenantName,
		RunID:      runID,
		Counts:     doc.Counts(),
		Duration:   elapsed,
		Actor:      actorFrom(ctx),
		At:         s.now(),
	})
	return doc, nil
}

// ExportBytes exports tenantID and encodes the document, gzipped when compress is set.
func (s *BackupService) ExportBytes(ctx context.Context, tenantID int64, compress bool) ([]byte, error) {
	doc, err := s.Export(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if compress {
		return snapshot.Compress(doc)
	}
	return snapshot.Marshal(doc)
}

// Import replays doc into tenantID. Version and format problems are reported
// before anything is written; any fatal error during the run is returned as a
// *backup.TransactionAbortError after the transaction has been rolled back.
func (s *BackupService) Import(ctx context.Context, tenantID int64, doc *snapshot.Document, opts ImportOptions) (*backup.Summary, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: no document", snapshot.ErrFormat)
	}
	if err := snapshot.CheckVersion(doc); err != nil {
		return nil, err
	}

	mode := backup.ModeFor(opts.Replace)
	runID := uuid.NewString()
	ctx = composables.WithRunID(ctx, runID)
	ctx, span := tracer.Start(ctx, "backup.Import", trace.WithAttributes(
		attribute.Int64("tenant_id", tenantID),
		attribute.String("mode", string(mode)),
		attribute.String("run_id", runID),
	))
	defer span.End()

	logger := s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"run_id":    runID,
		"mode":      mode,
	})
	logger.Infof("starting import of tenant %d snapshot", doc.Metadata.TenantID)

	start := s.now()
	var summary *backup.Summary
	err := s.repo.InTx(ctx, tenantID, func(txCtx context.Context) error {
		result, err := s.importer.Import(txCtx, tenantID, doc, mode)
		if err != nil {
			return err
		}
		summary = result
		return nil
	})
	elapsed := time.Since(start)
	recordRun("import", string(mode), err, elapsed)

	if err != nil {
		abort := &backup.TransactionAbortError{
			TenantID: tenantID,
			RunID:    runID,
			Mode:     mode,
			Stage:    "transaction",
			Err:      err,
		}
		var se *stageError
		if errors.As(err, &se) {
			abort.Stage = se.stage
			abort.Err = se.err
		}
		logger.WithError(abort.Err).WithField("stage", abort.Stage).Error("tenant import aborted, rolled back")
		span.RecordError(abort)
		span.SetStatus(codes.Error, abort.Error())
		return nil, abort
	}

	summary.Finish(elapsed)
	span.SetAttributes(
		attribute.Int("rows", summary.TotalRows()),
		attribute.Int("errors", len(summary.Errors)),
	)
	logger.Info(summary.Describe())

	s.publisher.Publish(ctx, &backup.ImportedEvent{
		Summary:        summary,
		SourceTenantID: doc.Metadata.TenantID,
		Actor:          actorFrom(ctx),
		At:             s.now(),
	})
	return summary, nil
}

// ImportBytes parses raw snapshot bytes, gzipped or not, and imports them.
func (s *BackupService) ImportBytes(ctx context.Context, tenantID int64, data []byte, opts ImportOptions) (*backup.Summary, error) {
	doc, err := snapshot.Parse(data)
	if err != nil {
		return nil, err
	}
	return s.Import(ctx, tenantID, doc, opts)
}

// PlanReplace describes what a replace import would delete.
func (s *BackupService) PlanReplace() DeletionPlan {
	return s.planner.Plan()
}

func actorFrom(ctx context.Context) backup.Actor {
	params, ok := composables.UseParams(ctx)
	if !ok || params == nil {
		return backup.Actor{}
	}
	return backup.Actor{
		IP:        params.IP,
		UserAgent: params.UserAgent,
		RequestID: params.RequestID,
	}
}
