package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/model"
)

// CreditFromPayment зачисляет подтверждённое внешнее событие оплаты ровно один раз.
// Повторная доставка события с тем же ProviderEventID возвращает Applied=false и не меняет баланс.
func (r *PostgresRepository) CreditFromPayment(ctx context.Context, p model.PaymentCredit) (model.CreditResult, error) {
	var res model.CreditResult
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		applied, err := creditFromPaymentTx(ctx, tx, p)
		res = model.CreditResult{Applied: applied, Amount: p.Amount, UserID: p.UserID, ProviderEventID: p.ProviderEventID}
		return err
	})
	if err != nil {
		return model.CreditResult{}, err
	}
	return res, nil
}

// creditFromPaymentTx - то же, что CreditFromPayment, внутри чужой транзакции.
func creditFromPaymentTx(ctx context.Context, tx pgx.Tx, p model.PaymentCredit) (bool, error) {
	if p.Amount <= 0 {
		return false, apperr.New(apperr.KindInvalidAmount, "invalid payment amount %d", p.Amount)
	}
	if p.Status != model.PaymentStatusPaid {
		return false, apperr.New(apperr.KindInvalidStatus, "invalid payment status %q", p.Status)
	}

	payload, err := marshalMetadata(p.Payload)
	if err != nil {
		return false, err
	}

	cmdTag, err := tx.Exec(ctx,
		`INSERT INTO payment_events (
		   provider_event_id, rail, charge_id, telegram_user_id, user_id, amount_stars, status, payload
		 ) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8::jsonb)
		 ON CONFLICT (provider_event_id) DO NOTHING`,
		p.ProviderEventID, string(p.Rail), p.ChargeID, p.TelegramUserID, p.UserID, p.Amount, p.Status, string(payload),
	)
	if err != nil {
		return false, fmt.Errorf("insert payment event: %w", err)
	}

	// Строка уже существовала - событие зачислено ранее.
	if cmdTag.RowsAffected() == 0 {
		return false, nil
	}

	u, err := lockBalance(ctx, tx, p.UserID)
	if err != nil {
		return false, err
	}

	if err := u.creditTotal(ctx, p.Amount); err != nil {
		return false, err
	}

	if err := u.appendEntry(ctx, model.EntryCredit, p.Amount, model.RefPaymentEvent, p.ProviderEventID, p.Payload); err != nil {
		return false, err
	}

	err = writeAuditLog(ctx, tx, model.AuditEntry{
		ActorType:  model.ActorSystem,
		ActorID:    string(p.Rail) + "_webhook",
		Action:     "payment_credited",
		EntityType: "user",
		EntityID:   fmt.Sprint(p.UserID),
		Metadata: map[string]any{
			"providerEventId": p.ProviderEventID,
			"amountStars":     p.Amount,
		},
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

// AdminGrant начисляет звёзды пользователю от имени администратора и возвращает идентификатор операции.
func (r *PostgresRepository) AdminGrant(ctx context.Context, adminID string, userID, amount int64, reason string) (string, error) {
	if amount <= 0 {
		return "", apperr.New(apperr.KindInvalidAmount, "invalid grant amount %d", amount)
	}

	refID := uuid.NewString()
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		u, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		if err := u.creditTotal(ctx, amount); err != nil {
			return err
		}

		meta := map[string]any{"adminActorId": adminID, "reason": nullable(reason)}
		if err := u.appendEntry(ctx, model.EntryAdminCredit, amount, model.RefAdminGrant, refID, meta); err != nil {
			return err
		}

		return writeAuditLog(ctx, tx, model.AuditEntry{
			ActorType:  model.ActorAdmin,
			ActorID:    adminID,
			Action:     "admin_grant_stars",
			EntityType: "user",
			EntityID:   fmt.Sprint(userID),
			Metadata:   map[string]any{"amountStars": amount, "reason": nullable(reason)},
		})
	})
	if err != nil {
		return "", err
	}
	return refID, nil
}

// PurchaseDemoSkill списывает стоимость демо-навыка; каждый навык покупается пользователем один раз.
func (r *PostgresRepository) PurchaseDemoSkill(ctx context.Context, userID int64, skillID string, amount int64) error {
	if amount <= 0 {
		return apperr.New(apperr.KindInvalidAmount, "invalid price %d", amount)
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		u, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		var purchased bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM ledger_entries
			   WHERE user_id = $1 AND type = $2 AND metadata->>'skillId' = $3
			 )`,
			userID, string(model.EntryDemoPurchase), skillID,
		).Scan(&purchased)
		if err != nil {
			return fmt.Errorf("check purchase: %w", err)
		}
		if purchased {
			return apperr.New(apperr.KindAlreadyPurchased, "skill %s already purchased", skillID)
		}

		if err := u.debitAvailable(ctx, amount); err != nil {
			return err
		}

		meta := map[string]any{"skillId": skillID}
		if err := u.appendEntry(ctx, model.EntryDemoPurchase, amount, model.RefDemoSkill, uuid.NewString(), meta); err != nil {
			return err
		}

		return writeAuditLog(ctx, tx, model.AuditEntry{
			ActorType:  model.ActorUser,
			ActorID:    fmt.Sprint(userID),
			Action:     "demo_skill_purchased",
			EntityType: "demo_skill",
			EntityID:   skillID,
			Metadata:   map[string]any{"amountStars": amount},
		})
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
