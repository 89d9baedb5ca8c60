package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/model"
)

const withdrawalColumns = `id, user_id, amount_stars, status, requested_at, available_at, decided_at, decided_by, decision_reason`

func scanWithdrawal(row pgx.Row) (model.Withdrawal, error) {
	var (
		w      model.Withdrawal
		status string
	)
	err := row.Scan(&w.ID, &w.UserID, &w.Amount, &status, &w.RequestedAt, &w.AvailableAt, &w.DecidedAt, &w.DecidedBy, &w.DecisionReason)
	if err != nil {
		return model.Withdrawal{}, err
	}
	w.Status = model.WithdrawalStatus(status)
	return w, nil
}

// CreateWithdrawal переводит amount в резерв и создаёт заявку на вывод в статусе pending.
// Заявку можно одобрить не раньше availableAt.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, userID, amount int64, availableAt time.Time) (model.Withdrawal, error) {
	if amount <= 0 {
		return model.Withdrawal{}, apperr.New(apperr.KindInvalidAmount, "invalid withdrawal amount %d", amount)
	}

	var w model.Withdrawal
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		// Блокируем строку баланса для предотвращения параллельных списаний, превышающих доступную сумму.
		u, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		if err := u.reserve(ctx, amount); err != nil {
			return err
		}

		w, err = scanWithdrawal(tx.QueryRow(ctx,
			`INSERT INTO withdrawals (id, user_id, amount_stars, status, available_at)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+withdrawalColumns,
			uuid.NewString(), userID, amount, string(model.WithdrawalPending), availableAt,
		))
		if err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}

		if err := u.appendEntry(ctx, model.EntryWithdrawHold, amount, model.RefWithdrawal, w.ID, nil); err != nil {
			return err
		}

		return writeAuditLog(ctx, tx, model.AuditEntry{
			ActorType:  model.ActorUser,
			ActorID:    fmt.Sprint(userID),
			Action:     "withdrawal_requested",
			EntityType: "withdrawal",
			EntityID:   w.ID,
			Metadata:   map[string]any{"amountStars": amount},
		})
	})
	if err != nil {
		return model.Withdrawal{}, err
	}
	return w, nil
}

// ListWithdrawals возвращает последние заявки, при необходимости отфильтрованные по статусу.
func (r *PostgresRepository) ListWithdrawals(ctx context.Context, status string, limit int) ([]model.Withdrawal, error) {
	return r.queryWithdrawals(ctx,
		`SELECT `+withdrawalColumns+`
		 FROM withdrawals
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY requested_at DESC
		 LIMIT $2`,
		status, limit,
	)
}

// ListWithdrawalsByUser возвращает историю заявок пользователя.
func (r *PostgresRepository) ListWithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error) {
	return r.queryWithdrawals(ctx,
		`SELECT `+withdrawalColumns+`
		 FROM withdrawals
		 WHERE user_id = $1
		 ORDER BY requested_at DESC`,
		userID,
	)
}

func (r *PostgresRepository) queryWithdrawals(ctx context.Context, sql string, args ...any) ([]model.Withdrawal, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals: %w", err)
	}
	defer rows.Close()

	var res []model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// DecideWithdrawal переводит заявку в терминальный статус ровно один раз.
//
// Одобрение окончательно списывает средства и возможно только после availableAt;
// отказ возвращает средства в доступный баланс.
func (r *PostgresRepository) DecideWithdrawal(ctx context.Context, id string, decision model.Decision, adminID, reason string, now time.Time) (model.Withdrawal, error) {
	var w model.Withdrawal
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		w, err = scanWithdrawal(tx.QueryRow(ctx,
			`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`,
			id,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.Wrap(apperr.KindNotFound, err, "withdrawal not found")
			}
			return fmt.Errorf("lock withdrawal: %w", err)
		}

		if w.Status != model.WithdrawalPending {
			return apperr.New(apperr.KindAlreadyDecided, "withdrawal %s already %s", id, w.Status)
		}

		u, err := lockBalance(ctx, tx, w.UserID)
		if err != nil {
			return err
		}

		var (
			status model.WithdrawalStatus
			action string
		)
		switch decision {
		case model.DecisionApprove:
			if now.Before(w.AvailableAt) {
				return apperr.New(apperr.KindOnHold,
					"withdrawal is on hold until %s", w.AvailableAt.UTC().Format(time.RFC3339))
			}
			if err := u.consumeHeld(ctx, w.Amount, w.Amount); err != nil {
				return err
			}
			if err := u.appendEntry(ctx, model.EntryWithdrawDebit, w.Amount, model.RefWithdrawal, w.ID, nil); err != nil {
				return err
			}
			status, action = model.WithdrawalApproved, "withdrawal_approved"
		case model.DecisionReject:
			if err := u.releaseHeld(ctx, w.Amount); err != nil {
				return err
			}
			if err := u.appendEntry(ctx, model.EntryWithdrawRelease, w.Amount, model.RefWithdrawal, w.ID, nil); err != nil {
				return err
			}
			status, action = model.WithdrawalRejected, "withdrawal_rejected"
		default:
			return apperr.New(apperr.KindInvalidInput, "unknown decision %q", decision)
		}

		w, err = scanWithdrawal(tx.QueryRow(ctx,
			`UPDATE withdrawals
			 SET status = $2, decided_at = $3, decided_by = $4, decision_reason = $5
			 WHERE id = $1
			 RETURNING `+withdrawalColumns,
			id, string(status), now, adminID, nullable(reason),
		))
		if err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}

		return writeAuditLog(ctx, tx, model.AuditEntry{
			ActorType:  model.ActorAdmin,
			ActorID:    adminID,
			Action:     action,
			EntityType: "withdrawal",
			EntityID:   id,
			Metadata:   map[string]any{"reason": nullable(reason)},
		})
	})
	if err != nil {
		return model.Withdrawal{}, err
	}
	return w, nil
}
