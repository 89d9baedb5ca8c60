package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/stars-ledger/internal/model"
)

// writeAuditLog пишет запись аудита в той же транзакции, что и движение средств.
func writeAuditLog(ctx context.Context, tx pgx.Tx, e model.AuditEntry) error {
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO audit_logs (actor_type, actor_id, action, entity_type, entity_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
		e.ActorType, e.ActorID, e.Action, e.EntityType, e.EntityID, string(meta),
	)
	if err != nil {
		return fmt.Errorf("insert audit log %s: %w", e.Action, err)
	}
	return nil
}
