package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/model"
)

// CreateCryptoIntent сохраняет намерение оплаты TON/USDT в статусе pending.
func (r *PostgresRepository) CreateCryptoIntent(ctx context.Context, in model.CryptoIntent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO crypto_payment_intents (
		   id, user_id, rail, amount_usdt, amount_stars, payment_memo, destination_address, status, expires_at
		 ) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`,
		in.ID, in.UserID, string(in.Rail), in.AmountUSDT.StringFixed(6), in.AmountStars,
		in.PaymentMemo, in.DestinationAddress, string(model.IntentPending), in.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert crypto intent: %w", err)
	}
	return nil
}

func lockIntent(ctx context.Context, tx pgx.Tx, id string) (model.CryptoIntent, error) {
	var (
		in     model.CryptoIntent
		rail   string
		usdt   string
		status string
	)
	err := tx.QueryRow(ctx,
		`SELECT id, user_id, rail, amount_usdt::text, amount_stars, payment_memo, destination_address, status, tx_hash, expires_at
		 FROM crypto_payment_intents
		 WHERE id = $1
		 FOR UPDATE`,
		id,
	).Scan(&in.ID, &in.UserID, &rail, &usdt, &in.AmountStars, &in.PaymentMemo, &in.DestinationAddress, &status, &in.TxHash, &in.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CryptoIntent{}, apperr.Wrap(apperr.KindNotFound, err, "intent not found")
		}
		return model.CryptoIntent{}, fmt.Errorf("lock intent: %w", err)
	}

	in.AmountUSDT, err = decimal.NewFromString(usdt)
	if err != nil {
		return model.CryptoIntent{}, fmt.Errorf("parse amount_usdt: %w", err)
	}
	in.Rail = model.Rail(rail)
	in.Status = model.IntentStatus(status)
	return in, nil
}

func intentCredit(in model.CryptoIntent, txHash string) model.PaymentCredit {
	return model.PaymentCredit{
		ProviderEventID: "ton_usdt:" + txHash,
		Rail:            model.RailTonUSDT,
		ChargeID:        txHash,
		TelegramUserID:  "ton_usdt",
		UserID:          in.UserID,
		Amount:          in.AmountStars,
		Status:          model.PaymentStatusPaid,
		Payload: map[string]any{
			"rail":       string(model.RailTonUSDT),
			"intentId":   in.ID,
			"txHash":     txHash,
			"amountUsdt": in.AmountUSDT.String(),
		},
	}
}

// ConfirmCryptoIntent подтверждает перевод по намерению и зачисляет звёзды в одной транзакции.
//
// Повторное подтверждение тем же txHash идемпотентно и возвращает прежний результат
// с Idempotent=true; другой txHash для подтверждённого намерения - конфликт.
// Просроченное намерение переводится в expired, и возвращается ошибка Expired.
func (r *PostgresRepository) ConfirmCryptoIntent(ctx context.Context, c model.IntentConfirmation, now time.Time) (model.CreditResult, error) {
	var (
		res     model.CreditResult
		expired bool
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		expired = false

		in, err := lockIntent(ctx, tx, c.IntentID)
		if err != nil {
			return err
		}

		credit := intentCredit(in, c.TxHash)
		res = model.CreditResult{Amount: in.AmountStars, UserID: in.UserID, ProviderEventID: credit.ProviderEventID}

		switch in.Status {
		case model.IntentPending:
		case model.IntentConfirmed:
			if in.TxHash != nil && *in.TxHash != c.TxHash {
				return apperr.New(apperr.KindConflict, "intent %s already confirmed with another txHash", in.ID)
			}
			applied, err := creditFromPaymentTx(ctx, tx, credit)
			res.Applied = applied
			res.Idempotent = true
			return err
		default:
			return apperr.New(apperr.KindConflict, "intent %s already %s", in.ID, in.Status)
		}

		if in.ExpiresAt.Before(now) {
			_, err := tx.Exec(ctx,
				`UPDATE crypto_payment_intents SET status = $2 WHERE id = $1`,
				in.ID, string(model.IntentExpired),
			)
			if err != nil {
				return fmt.Errorf("expire intent: %w", err)
			}
			expired = true
			return nil
		}

		raw, err := marshalMetadata(c.RawPayload)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE crypto_payment_intents
			 SET status = $2, tx_hash = $3, raw_payload = $4::jsonb, confirmed_at = NOW()
			 WHERE id = $1`,
			in.ID, string(model.IntentConfirmed), c.TxHash, string(raw),
		)
		if err != nil {
			return fmt.Errorf("confirm intent: %w", err)
		}

		applied, err := creditFromPaymentTx(ctx, tx, credit)
		if err != nil {
			return err
		}
		if !applied {
			return apperr.New(apperr.KindConflict, "txHash %s already credited to another intent", c.TxHash)
		}
		res.Applied = true

		return writeAuditLog(ctx, tx, model.AuditEntry{
			ActorType:  model.ActorAdmin,
			ActorID:    c.AdminID,
			Action:     "ton_usdt_confirmed",
			EntityType: "crypto_payment_intent",
			EntityID:   in.ID,
			Metadata:   map[string]any{"txHash": c.TxHash, "amountStars": in.AmountStars},
		})
	})
	if err != nil {
		return model.CreditResult{}, err
	}
	if expired {
		return model.CreditResult{}, apperr.New(apperr.KindExpired, "intent %s expired", c.IntentID)
	}
	return res, nil
}

// ExpireCryptoIntents помечает просроченные намерения в статусе pending как expired.
func (r *PostgresRepository) ExpireCryptoIntents(ctx context.Context, now time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE crypto_payment_intents SET status = $1 WHERE status = $2 AND expires_at < $3`,
		string(model.IntentExpired), string(model.IntentPending), now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire crypto intents: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
