package persistence

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/pkg/composables"
)

type pgAuditRepository struct{}

func NewPgAuditRepository() backup.AuditRepository {
	return &pgAuditRepository{}
}

func (r *pgAuditRepository) Create(ctx context.Context, entry *backup.AuditEntry) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit payload")
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO backup_audit_logs (
			id,
			tenant_id,
			run_id,
			action,
			description,
			payload,
			ip_address,
			user_agent,
			request_id,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID,
		entry.TenantID,
		entry.RunID,
		entry.Action,
		entry.Description,
		payload,
		entry.IP,
		entry.UserAgent,
		entry.RequestID,
		entry.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert backup audit log")
	}
	return nil
}
