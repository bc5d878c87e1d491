package services

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
)

// AuditHandler turns completed backup calls into one descriptive audit line.
// Entries are always logged; they are also stored when a repository is set.
type AuditHandler struct {
	repo   backup.AuditRepository
	logger *logrus.Entry
	now    func() time.Time
}

func NewAuditHandler(repo backup.AuditRepository, logger *logrus.Entry) *AuditHandler {
	return &AuditHandler{repo: repo, logger: logger, now: time.Now}
}

func (h *AuditHandler) OnExported(ctx context.Context, e *backup.ExportedEvent) error {
	counts := make(map[string]any, len(e.Counts))
	for k, v := range e.Counts {
		counts[k] = v
	}
	return h.record(ctx, &backup.AuditEntry{
		TenantID:    e.TenantID,
		RunID:       e.RunID,
		Action:      backup.AuditActionExport,
		Description: e.Description(),
		Payload: map[string]any{
			"tenant_name": e.TenantName,
			"counts":      counts,
			"duration_ms": e.Duration.Milliseconds(),
		},
		IP:        e.Actor.IP,
		UserAgent: e.Actor.UserAgent,
		RequestID: e.Actor.RequestID,
		CreatedAt: e.At,
	})
}

func (h *AuditHandler) OnImported(ctx context.Context, e *backup.ImportedEvent) error {
	s := e.Summary
	counts := make(map[string]any, len(s.Counts))
	for k, v := range s.Counts {
		counts[k] = v
	}
	rowErrors := make([]any, 0, len(s.Errors))
	for _, msg := range s.Errors {
		rowErrors = append(rowErrors, msg)
	}
	payload := map[string]any{
		"mode":             string(s.Mode),
		"source_tenant_id": e.SourceTenantID,
		"counts":           counts,
		"errors":           rowErrors,
		"duration_ms":      s.DurationMS,
	}
	if len(s.Deleted) > 0 {
		deleted := make(map[string]any, len(s.Deleted))
		for k, v := range s.Deleted {
			deleted[k] = v
		}
		payload["deleted"] = deleted
	}
	return h.record(ctx, &backup.AuditEntry{
		TenantID:    s.TenantID,
		RunID:       s.RunID,
		Action:      backup.AuditActionImport,
		Description: e.Description(),
		Payload:     payload,
		IP:          e.Actor.IP,
		UserAgent:   e.Actor.UserAgent,
		RequestID:   e.Actor.RequestID,
		CreatedAt:   e.At,
	})
}

func (h *AuditHandler) record(ctx context.Context, entry *backup.AuditEntry) error {
	entry.ID = uuid.New()
	entry.Payload = redactMap(entry.Payload)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = h.now()
	}
	logger := h.logger.WithFields(logrus.Fields{
		"tenant_id": entry.TenantID,
		"run_id":    entry.RunID,
		"action":    entry.Action,
	})
	logger.Info(entry.Description)

	if h.repo == nil {
		return nil
	}
	if err := h.repo.Create(ctx, entry); err != nil {
		logger.WithError(err).Error("failed to store backup audit entry")
		return errors.Wrap(err, "store audit entry")
	}
	return nil
}

func redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if isSensitiveKey(key) {
			out[key] = "<redacted>"
			continue
		}
		switch typed := value.(type) {
		case map[string]any:
			out[key] = redactMap(typed)
		case []any:
			out[key] = redactSlice(typed)
		default:
			out[key] = value
		}
	}
	return out
}

func redactSlice(s []any) []any {
	out := make([]any, 0, len(s))
	for _, value := range s {
		switch typed := value.(type) {
		case map[string]any:
			out = append(out, redactMap(typed))
		case []any:
			out = append(out, redactSlice(typed))
		default:
			out = append(out, value)
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return false
	}
	for _, s := range []string{"password", "secret", "token", "cookie"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
