package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
	"github.com/iota-uz/workshop/modules/backup/infrastructure/memstore"
	"github.com/iota-uz/workshop/modules/backup/infrastructure/persistence"
	"github.com/iota-uz/workshop/modules/backup/services"
	"github.com/iota-uz/workshop/pkg/composables"
)

type importOptions struct {
	tenantID int64
	input    string
	replace  bool
	yes      bool
	dryRun   bool
}

type importResult struct {
	Status string `json:"status"`
	Input  string `json:"input"`
	*backup.Summary
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a tenant snapshot into a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), root, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().Int64Var(&opts.tenantID, "tenant", 0, "Target tenant id (required)")
	cmd.Flags().StringVar(&opts.input, "input", "", "Snapshot file, plain or gzipped (required)")
	cmd.Flags().BoolVar(&opts.replace, "replace", false, "Delete the tenant's data before loading")
	cmd.Flags().BoolVar(&opts.yes, "yes", false, "Confirm --replace")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run the import against an empty in-memory store")

	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runImport(ctx context.Context, root *rootOptions, opts importOptions, stdout, stderr io.Writer) error {
	if opts.tenantID <= 0 {
		return withCode(exitUsage, fmt.Errorf("--tenant must be a positive id"))
	}
	if strings.TrimSpace(opts.input) == "" {
		return withCode(exitUsage, fmt.Errorf("--input is required"))
	}
	if opts.replace && !opts.yes && !opts.dryRun {
		return withCode(exitSafetyNet, fmt.Errorf("--replace deletes every row of tenant %d; pass --yes to confirm", opts.tenantID))
	}
	logger, err := root.logger(stderr)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(opts.input)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("read snapshot: %w", err))
	}
	doc, err := snapshot.Parse(data)
	if err != nil {
		return withCode(exitValidation, err)
	}

	c := catalog.Workshop()
	importOpts := services.ImportOptions{Replace: opts.replace}

	if opts.dryRun {
		store := memstore.New(c)
		store.AddTenant(opts.tenantID, doc.Metadata.TenantName, nil)
		store.RegisterPermissions(snapshotPermissions(doc)...)
		summary, err := newBackupService(store, c, nil, logger).Import(ctx, opts.tenantID, doc, importOpts)
		if err != nil {
			return withCode(serviceCode(err), err)
		}
		return writeJSONLine(stdout, importResult{Status: "dry_run", Input: opts.input, Summary: summary})
	}

	pool, err := connectDB(ctx, root.dsn)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx = composables.WithPool(ctx, pool)

	var audit backup.AuditRepository
	if root.audit {
		audit = persistence.NewPgAuditRepository()
	}
	summary, err := newBackupService(persistence.NewPgRepository(c), c, audit, logger).Import(ctx, opts.tenantID, doc, importOpts)
	if err != nil {
		return withCode(serviceCode(err), err)
	}
	return writeJSONLine(stdout, importResult{Status: "applied", Input: opts.input, Summary: summary})
}

// snapshotPermissions lists every permission the snapshot's groups carry, so a
// dry run does not report them as unknown.
func snapshotPermissions(doc *snapshot.Document) []string {
	var out []string
	for _, g := range doc.Groups {
		out = append(out, g.Permissions...)
	}
	return out
}
