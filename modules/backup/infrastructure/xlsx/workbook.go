// Package xlsx renders tenant snapshots as spreadsheets for people who want to
// look inside a backup without loading it.
package xlsx

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
)

const SummarySheet = "Resumen"

// Workbook writes a summary sheet with the snapshot metadata and row counts,
// then one sheet per non-empty entity in catalog order. Sections the catalog
// does not know are left out.
func Workbook(doc *snapshot.Document, c *catalog.Catalog) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, fmt.Errorf("failed to rename summary sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	summary := [][]any{
		{"version", doc.Metadata.Version},
		{"tenant_id", doc.Metadata.TenantID},
		{"tenant_name", doc.Metadata.TenantName},
		{"exported_at", exportedAt(doc.Metadata.ExportedAt)},
		{"groups", len(doc.Groups)},
		{"users", len(doc.Users)},
		{},
		{"entity", "rows"},
	}
	countsHeader := len(summary)
	for _, e := range c.Entities() {
		summary = append(summary, []any{e.Key, len(doc.Rows(e.Key))})
	}
	if err := writeRows(f, SummarySheet, summary); err != nil {
		return nil, err
	}
	if err := styleRow(f, SummarySheet, countsHeader, 2, headerStyle); err != nil {
		return nil, err
	}

	for _, e := range c.Entities() {
		rows := doc.Rows(e.Key)
		if len(rows) == 0 {
			continue
		}
		if _, err := f.NewSheet(e.Key); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", e.Key, err)
		}
		fields := append([]string{snapshot.IDField}, e.Fields()...)
		header := make([]any, len(fields))
		for i, name := range fields {
			header[i] = name
		}
		values := [][]any{header}
		for _, row := range rows {
			line := make([]any, len(fields))
			for i, name := range fields {
				line[i] = cellValue(row[name])
			}
			values = append(values, line)
		}
		if err := writeRows(f, e.Key, values); err != nil {
			return nil, err
		}
		if err := styleRow(f, e.Key, 1, len(fields), headerStyle); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func styleRow(f *excelize.File, sheet string, row, cols, style int) error {
	first, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(cols, row)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, first, last, style)
}

// cellValue keeps decimals and large ids as text so the spreadsheet never rounds them.
func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case json.Number:
		return t.String()
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	default:
		return t
	}
}

func exportedAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
