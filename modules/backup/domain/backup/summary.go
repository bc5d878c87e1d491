package backup

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Summary is the outcome of an import that reached commit.
type Summary struct {
	RunID    string `json:"run_id"`
	TenantID int64  `json:"tenant_id"`
	Mode     Mode   `json:"mode"`
	// Counts holds rows imported per entity type, created or reused.
	Counts map[string]int `json:"counts"`
	// Created holds rows newly inserted per entity type.
	Created    map[string]int   `json:"created"`
	Deleted    map[string]int64 `json:"deleted,omitempty"`
	Errors     []string         `json:"errors"`
	DurationMS int64            `json:"duration_ms"`
}

func NewSummary(runID string, tenantID int64, mode Mode) *Summary {
	return &Summary{
		RunID:    runID,
		TenantID: tenantID,
		Mode:     mode,
		Counts:   make(map[string]int),
		Created:  make(map[string]int),
		Errors:   []string{},
	}
}

func (s *Summary) Record(entity string, created bool) {
	s.Counts[entity]++
	if created {
		s.Created[entity]++
	}
}

func (s *Summary) AddError(err error) {
	s.Errors = append(s.Errors, err.Error())
}

func (s *Summary) Finish(d time.Duration) {
	s.DurationMS = d.Milliseconds()
}

func (s *Summary) TotalRows() int {
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	return total
}

// Describe renders the one-line audit description of the import.
func (s *Summary) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s import into tenant %d: %d rows", s.Mode, s.TenantID, s.TotalRows())
	if len(s.Counts) > 0 {
		b.WriteString(" (")
		b.WriteString(formatCounts(s.Counts))
		b.WriteString(")")
	}
	fmt.Fprintf(&b, ", %d errors", len(s.Errors))
	return b.String()
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}
