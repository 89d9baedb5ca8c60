package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/stars-ledger/internal/model"
)

func marshalMetadata(metadata any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if string(raw) == "null" {
		return []byte("{}"), nil
	}
	return raw, nil
}

// appendLedgerEntry добавляет неизменяемую запись журнала. Записи никогда не обновляются и не удаляются.
func appendLedgerEntry(ctx context.Context, tx pgx.Tx, userID int64, typ model.EntryType, amount int64, refType, refID string, metadata any) error {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (user_id, type, amount_stars, ref_type, ref_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
		userID, string(typ), amount, refType, refID, string(meta),
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry %s: %w", typ, err)
	}
	return nil
}

// ListLedger возвращает последние записи журнала пользователя.
func (r *PostgresRepository) ListLedger(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, amount_stars, ref_type, ref_id, metadata, created_at
		 FROM ledger_entries
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var (
			e   model.LedgerEntry
			typ string
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &e.Amount, &e.RefType, &e.RefID, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Type = model.EntryType(typ)
		e.Metadata = raw
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListRefEntries возвращает записи журнала по ссылке в порядке добавления.
func (r *PostgresRepository) ListRefEntries(ctx context.Context, refType, refID string) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, amount_stars, ref_type, ref_id, created_at
		 FROM ledger_entries
		 WHERE ref_type = $1 AND ref_id = $2
		 ORDER BY id`,
		refType, refID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ref entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var (
			e   model.LedgerEntry
			typ string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &e.Amount, &e.RefType, &e.RefID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Type = model.EntryType(typ)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
