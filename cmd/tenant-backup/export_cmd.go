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
	"github.com/iota-uz/workshop/modules/backup/infrastructure/persistence"
	"github.com/iota-uz/workshop/pkg/composables"
)

type exportOptions struct {
	tenantID int64
	output   string
	gzip     bool
}

type exportResult struct {
	Status   string `json:"status"`
	TenantID int64  `json:"tenant_id"`
	Output   string `json:"output"`
	Bytes    int    `json:"bytes"`
	Gzip     bool   `json:"gzip"`
}

func newExportCmd(root *rootOptions) *cobra.Command {
	var opts exportOptions

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a tenant snapshot to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), root, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().Int64Var(&opts.tenantID, "tenant", 0, "Tenant id (required)")
	cmd.Flags().StringVar(&opts.output, "output", "", "Output file (required)")
	cmd.Flags().BoolVar(&opts.gzip, "gzip", true, "Gzip the snapshot")

	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runExport(ctx context.Context, root *rootOptions, opts exportOptions, stdout, stderr io.Writer) error {
	if opts.tenantID <= 0 {
		return withCode(exitUsage, fmt.Errorf("--tenant must be a positive id"))
	}
	if strings.TrimSpace(opts.output) == "" {
		return withCode(exitUsage, fmt.Errorf("--output is required"))
	}
	logger, err := root.logger(stderr)
	if err != nil {
		return err
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
	c := catalog.Workshop()
	svc := newBackupService(persistence.NewPgRepository(c), c, audit, logger)

	data, err := svc.ExportBytes(ctx, opts.tenantID, opts.gzip)
	if err != nil {
		return withCode(serviceCode(err), err)
	}
	if err := os.WriteFile(opts.output, data, 0o600); err != nil {
		return withCode(exitDB, fmt.Errorf("write snapshot: %w", err))
	}

	return writeJSONLine(stdout, exportResult{
		Status:   "exported",
		TenantID: opts.tenantID,
		Output:   opts.output,
		Bytes:    len(data),
		Gzip:     opts.gzip,
	})
}
