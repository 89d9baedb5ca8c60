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

// HoldForRef резервирует amount под операцию (refType, refID).
// Наряду с записью журнала создаётся открытая запись резерва со сроком deadline:
// если резерв не будет закрыт к этому сроку, его освободит сверка.
func (r *PostgresRepository) HoldForRef(ctx context.Context, userID int64, refType, refID string, amount int64, deadline time.Time) (model.Hold, error) {
	if amount <= 0 {
		return model.Hold{}, apperr.New(apperr.KindInvalidAmount, "invalid hold amount %d", amount)
	}

	hold := model.Hold{
		ID:         uuid.NewString(),
		UserID:     userID,
		RefType:    refType,
		RefID:      refID,
		Amount:     amount,
		Status:     model.HoldOpen,
		DeadlineAt: deadline,
	}

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		u, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		if err := u.reserve(ctx, amount); err != nil {
			return err
		}

		if err := u.appendEntry(ctx, model.EntryHold, amount, refType, refID, nil); err != nil {
			return err
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO billing_holds (id, user_id, ref_type, ref_id, amount_stars, status, deadline_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING created_at`,
			hold.ID, userID, refType, refID, amount, string(model.HoldOpen), deadline,
		).Scan(&hold.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert hold: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Hold{}, err
	}
	return hold, nil
}

// SettleRef закрывает резерв по ссылке: снимает holdAmount из резерва, списывает actual,
// а разницу возвращает в доступный баланс. После закрытия по ссылке ничего не остаётся в резерве.
func (r *PostgresRepository) SettleRef(ctx context.Context, userID int64, refType, refID string, holdAmount, actual int64) (model.Settlement, error) {
	if holdAmount <= 0 || actual < 0 {
		return model.Settlement{}, apperr.New(apperr.KindInvalidAmount,
			"invalid settlement: hold %d, actual %d", holdAmount, actual)
	}
	if actual > holdAmount {
		return model.Settlement{}, apperr.New(apperr.KindSettlementExceedsHold,
			"actual cost %d exceeds hold amount %d", actual, holdAmount)
	}

	var settlement model.Settlement
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		settlement, err = settleRefTx(ctx, tx, userID, refType, refID, holdAmount, actual)
		return err
	})
	if err != nil {
		return model.Settlement{}, err
	}
	return settlement, nil
}

func settleRefTx(ctx context.Context, tx pgx.Tx, userID int64, refType, refID string, holdAmount, actual int64) (model.Settlement, error) {
	u, err := lockBalance(ctx, tx, userID)
	if err != nil {
		return model.Settlement{}, err
	}

	holdID, err := lockOpenHold(ctx, tx, userID, refType, refID, holdAmount)
	if err != nil {
		return model.Settlement{}, err
	}

	return closeHold(ctx, tx, u, holdID, refType, refID, holdAmount, actual)
}

// closeHold списывает actual из заблокированного резерва holdID и помечает его закрытым.
func closeHold(ctx context.Context, tx pgx.Tx, u *userLedger, holdID, refType, refID string, holdAmount, actual int64) (model.Settlement, error) {
	if err := u.consumeHeld(ctx, holdAmount, actual); err != nil {
		return model.Settlement{}, err
	}

	if err := u.appendEntry(ctx, model.EntryDebit, actual, refType, refID, nil); err != nil {
		return model.Settlement{}, err
	}

	settlement := model.Settlement{Debited: actual, Released: holdAmount - actual}
	if settlement.Released > 0 {
		if err := u.appendEntry(ctx, model.EntryRelease, settlement.Released, refType, refID, nil); err != nil {
			return model.Settlement{}, err
		}
	}

	_, err := tx.Exec(ctx,
		`UPDATE billing_holds SET status = $2, settled_at = NOW() WHERE id = $1`,
		holdID, string(model.HoldSettled),
	)
	if err != nil {
		return model.Settlement{}, fmt.Errorf("close hold: %w", err)
	}
	return settlement, nil
}

// ReleaseExpiredHold полностью освобождает резерв, не закрытый к сроку, и пишет запись аудита.
func (r *PostgresRepository) ReleaseExpiredHold(ctx context.Context, h model.Hold) (model.Settlement, error) {
	var settlement model.Settlement
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		u, err := lockBalance(ctx, tx, h.UserID)
		if err != nil {
			return err
		}

		if err := lockHoldByID(ctx, tx, h); err != nil {
			return err
		}

		settlement, err = closeHold(ctx, tx, u, h.ID, h.RefType, h.RefID, h.Amount, 0)
		if err != nil {
			return err
		}

		return writeAuditLog(ctx, tx, model.AuditEntry{
			ActorType:  model.ActorSystem,
			ActorID:    "sweeper",
			Action:     "hold_expired",
			EntityType: h.RefType,
			EntityID:   h.RefID,
			Metadata: map[string]any{
				"holdId":      h.ID,
				"amountStars": h.Amount,
				"deadlineAt":  h.DeadlineAt,
			},
		})
	})
	if err != nil {
		return model.Settlement{}, err
	}
	return settlement, nil
}

// lockOpenHold блокирует самый старый открытый резерв по ссылке.
func lockOpenHold(ctx context.Context, tx pgx.Tx, userID int64, refType, refID string, holdAmount int64) (string, error) {
	var (
		id     string
		amount int64
	)
	err := tx.QueryRow(ctx,
		`SELECT id, amount_stars
		 FROM billing_holds
		 WHERE user_id = $1 AND ref_type = $2 AND ref_id = $3 AND status = $4
		 ORDER BY created_at, id
		 LIMIT 1
		 FOR UPDATE`,
		userID, refType, refID, string(model.HoldOpen),
	).Scan(&id, &amount)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("lock hold: %w", err)
		}

		var settled bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM billing_holds
			   WHERE user_id = $1 AND ref_type = $2 AND ref_id = $3 AND status = $4
			 )`,
			userID, refType, refID, string(model.HoldSettled),
		).Scan(&settled)
		if err != nil {
			return "", fmt.Errorf("check settled hold: %w", err)
		}
		if settled {
			return "", apperr.New(apperr.KindRefAlreadySettled, "%s %s already settled", refType, refID)
		}
		return "", apperr.New(apperr.KindHoldNotFound, "no hold for %s %s", refType, refID)
	}

	if amount != holdAmount {
		return "", apperr.New(apperr.KindAmountMismatch,
			"hold for %s %s is %d, settlement names %d", refType, refID, amount, holdAmount)
	}
	return id, nil
}

// lockHoldByID блокирует именно резерв h, даже если по той же ссылке открыты и другие.
func lockHoldByID(ctx context.Context, tx pgx.Tx, h model.Hold) error {
	var (
		amount int64
		status string
	)
	err := tx.QueryRow(ctx,
		`SELECT amount_stars, status FROM billing_holds WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		h.ID, h.UserID,
	).Scan(&amount, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.New(apperr.KindHoldNotFound, "hold %s not found", h.ID)
		}
		return fmt.Errorf("lock hold %s: %w", h.ID, err)
	}

	if model.HoldStatus(status) != model.HoldOpen {
		return apperr.New(apperr.KindRefAlreadySettled, "hold %s already %s", h.ID, status)
	}
	if amount != h.Amount {
		return apperr.New(apperr.KindAmountMismatch, "hold %s is %d, release names %d", h.ID, amount, h.Amount)
	}
	return nil
}

// ListExpiredHolds возвращает открытые резервы, срок которых истёк к моменту now.
func (r *PostgresRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Hold, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, ref_type, ref_id, amount_stars, status, deadline_at, created_at
		 FROM billing_holds
		 WHERE status = $1 AND deadline_at < $2
		 ORDER BY deadline_at
		 LIMIT $3`,
		string(model.HoldOpen), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired holds: %w", err)
	}
	defer rows.Close()

	var res []model.Hold
	for rows.Next() {
		var (
			h      model.Hold
			status string
		)
		if err := rows.Scan(&h.ID, &h.UserID, &h.RefType, &h.RefID, &h.Amount, &status, &h.DeadlineAt, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		h.Status = model.HoldStatus(status)
		res = append(res, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
