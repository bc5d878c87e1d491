package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
	"github.com/iota-uz/workshop/modules/backup/infrastructure/xlsx"
)

type inspectResult struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	TenantID   int64          `json:"tenant_id"`
	TenantName string         `json:"tenant_name"`
	ExportedAt time.Time      `json:"exported_at"`
	Counts     map[string]int `json:"counts"`
	Unknown    []string       `json:"unknown_sections,omitempty"`
	Workbook   string         `json:"workbook,omitempty"`
}

func newInspectCmd(_ *rootOptions) *cobra.Command {
	var input, workbook string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize a snapshot file without touching the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(input) == "" {
				return withCode(exitUsage, fmt.Errorf("--input is required"))
			}
			data, err := os.ReadFile(input)
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("read snapshot: %w", err))
			}
			doc, err := snapshot.Parse(data)
			if err != nil {
				return withCode(exitValidation, err)
			}

			c := catalog.Workshop()
			result := inspectResult{
				Status:     "ok",
				Version:    doc.Metadata.Version,
				TenantID:   doc.Metadata.TenantID,
				TenantName: doc.Metadata.TenantName,
				ExportedAt: doc.Metadata.ExportedAt,
				Counts:     doc.Counts(),
			}
			for _, s := range doc.Sections() {
				if _, ok := c.Lookup(s.Key); !ok {
					result.Unknown = append(result.Unknown, s.Key)
				}
			}

			if workbook != "" {
				out, err := xlsx.Workbook(doc, c)
				if err != nil {
					return withCode(exitValidation, err)
				}
				if err := os.WriteFile(workbook, out, 0o600); err != nil {
					return withCode(exitDB, fmt.Errorf("write workbook: %w", err))
				}
				result.Workbook = workbook
			}
			return writeJSONLine(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Snapshot file, plain or gzipped (required)")
	cmd.Flags().StringVar(&workbook, "xlsx", "", "Also write the snapshot as a spreadsheet to this path")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
