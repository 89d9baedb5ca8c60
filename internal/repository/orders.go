package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/model"
)

// CreateStarsOrder сохраняет заказ пополнения в статусе pending.
func (r *PostgresRepository) CreateStarsOrder(ctx context.Context, o model.StarsOrder) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO stars_topup_orders (id, user_id, telegram_user_id, amount_stars, invoice_payload, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.UserID, o.TelegramUserID, o.Amount, o.InvoicePayload, string(model.OrderPending), o.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert stars order: %w", err)
	}
	return nil
}

const selectOrderSQL = `SELECT id, user_id, telegram_user_id, amount_stars, invoice_payload, status, charge_id, expires_at
	FROM stars_topup_orders
	WHERE id = $1`

func scanOrder(row pgx.Row) (model.StarsOrder, error) {
	var (
		o      model.StarsOrder
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.TelegramUserID, &o.Amount, &o.InvoicePayload, &status, &o.ChargeID, &o.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.StarsOrder{}, apperr.Wrap(apperr.KindNotFound, err, "order not found")
		}
		return model.StarsOrder{}, fmt.Errorf("scan stars order: %w", err)
	}
	o.Status = model.OrderStatus(status)
	return o, nil
}

// GetStarsOrder возвращает заказ пополнения без блокировки.
func (r *PostgresRepository) GetStarsOrder(ctx context.Context, id string) (model.StarsOrder, error) {
	return scanOrder(r.pool.QueryRow(ctx, selectOrderSQL, id))
}

// ApplyStarsPayment переводит заказ pending → paid и зачисляет платёж в одной транзакции.
// Подпись и срок полезной нагрузки проверяются до вызова; здесь сверяется сам заказ.
func (r *PostgresRepository) ApplyStarsPayment(ctx context.Context, orderID string, p model.StarsPayment) (model.CreditResult, error) {
	var res model.CreditResult
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, selectOrderSQL+` FOR UPDATE`, orderID))
		if err != nil {
			return err
		}

		res = model.CreditResult{Amount: o.Amount, UserID: o.UserID, ProviderEventID: starsEventID(p.ChargeID)}

		if o.TelegramUserID != p.TelegramUserID {
			return apperr.New(apperr.KindConflict, "order %s belongs to another user", orderID)
		}
		if o.Amount != p.Amount {
			return apperr.New(apperr.KindAmountMismatch, "order %s amount %d, paid %d", orderID, o.Amount, p.Amount)
		}
		if o.InvoicePayload != p.InvoicePayload {
			return apperr.New(apperr.KindConflict, "order %s payload mismatch", orderID)
		}

		switch o.Status {
		case model.OrderPending:
		case model.OrderPaid:
			if o.ChargeID != nil && *o.ChargeID == p.ChargeID {
				// Повторная доставка того же платежа.
				return nil
			}
			return apperr.New(apperr.KindConflict, "order %s already paid by another charge", orderID)
		default:
			return apperr.New(apperr.KindConflict, "order %s is %s", orderID, o.Status)
		}

		_, err = tx.Exec(ctx,
			`UPDATE stars_topup_orders
			 SET status = $2, charge_id = $3, paid_at = NOW()
			 WHERE id = $1`,
			orderID, string(model.OrderPaid), p.ChargeID,
		)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}

		applied, err := creditFromPaymentTx(ctx, tx, model.PaymentCredit{
			ProviderEventID: res.ProviderEventID,
			Rail:            model.RailStars,
			ChargeID:        p.ChargeID,
			TelegramUserID:  p.TelegramUserID,
			UserID:          o.UserID,
			Amount:          o.Amount,
			Status:          model.PaymentStatusPaid,
			Payload:         p.Raw,
		})
		res.Applied = applied
		return err
	})
	if err != nil {
		return model.CreditResult{}, err
	}
	return res, nil
}

func starsEventID(chargeID string) string {
	return "bot_update:" + chargeID
}

// ExpireStarsOrders помечает просроченные заказы в статусе pending как expired.
func (r *PostgresRepository) ExpireStarsOrders(ctx context.Context, now time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE stars_topup_orders SET status = $1 WHERE status = $2 AND expires_at < $3`,
		string(model.OrderExpired), string(model.OrderPending), now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire stars orders: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
