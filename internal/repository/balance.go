package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/model"
)

// GetBalance возвращает баланс пользователя без блокировки.
// Подходит для отображения, но не для принятия решений при конкурентном доступе.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (model.Balance, error) {
	var total, held int64
	err := r.pool.QueryRow(ctx,
		`SELECT total_stars, held_stars FROM balances WHERE user_id = $1`,
		userID,
	).Scan(&total, &held)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Balance{}, nil
		}
		return model.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return model.NewBalance(total, held), nil
}

// EnsureAccount создаёт пользователя по Telegram-идентификатору и его строку баланса.
func (r *PostgresRepository) EnsureAccount(ctx context.Context, telegramUserID, username string) (int64, error) {
	var userID int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		id, err := ensureAccountTx(ctx, tx, telegramUserID, username)
		userID = id
		return err
	})
	return userID, err
}

func ensureAccountTx(ctx context.Context, tx pgx.Tx, telegramUserID, username string) (int64, error) {
	var userID int64
	err := tx.QueryRow(ctx,
		`INSERT INTO users (telegram_user_id, username)
		 VALUES ($1, NULLIF($2, ''))
		 ON CONFLICT (telegram_user_id) DO UPDATE
		 SET username = COALESCE(EXCLUDED.username, users.username),
		     updated_at = NOW()
		 RETURNING id`,
		telegramUserID, username,
	).Scan(&userID)
	if err != nil {
		return 0, fmt.Errorf("upsert user: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO balances (user_id, total_stars, held_stars)
		 VALUES ($1, 0, 0)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("ensure balance row: %w", err)
	}
	return userID, nil
}

// GetUser возвращает учётную запись пользователя.
func (r *PostgresRepository) GetUser(ctx context.Context, userID int64) (model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, telegram_user_id, username, referral_code, referred_by FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.TelegramUserID, &u.Username, &u.ReferralCode, &u.ReferredBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, apperr.Wrap(apperr.KindNotFound, err, "user not found")
		}
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// userLedger - единица работы над балансом одного пользователя.
// Существует только внутри транзакции, удерживающей блокировку строки баланса;
// блокировка снимается при фиксации или откате транзакции.
type userLedger struct {
	tx     pgx.Tx
	userID int64
	total  int64
	held   int64
}

// lockBalance блокирует строку баланса пользователя до конца транзакции.
// Все изменяющие операции обязаны начинаться с неё.
func lockBalance(ctx context.Context, tx pgx.Tx, userID int64) (*userLedger, error) {
	u := &userLedger{tx: tx, userID: userID}
	err := tx.QueryRow(ctx,
		`SELECT total_stars, held_stars FROM balances WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&u.total, &u.held)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Wrap(apperr.KindBalanceRowMissing, err, fmt.Sprintf("balance row for user %d", userID))
		}
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	return u, nil
}

func (u *userLedger) available() int64 {
	return u.total - u.held
}

func (u *userLedger) balance() model.Balance {
	return model.NewBalance(u.total, u.held)
}

// apply меняет total и held на заданные величины, сохраняя 0 <= held <= total.
func (u *userLedger) apply(ctx context.Context, dTotal, dHeld int64) error {
	total := u.total + dTotal
	held := u.held + dHeld
	if held < 0 || total < 0 || held > total {
		return fmt.Errorf("balance invariant violated for user %d: total=%d held=%d", u.userID, total, held)
	}

	_, err := u.tx.Exec(ctx,
		`UPDATE balances
		 SET total_stars = $2,
		     held_stars = $3,
		     updated_at = NOW()
		 WHERE user_id = $1`,
		u.userID, total, held,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	u.total = total
	u.held = held
	return nil
}

// creditTotal зачисляет средства на баланс.
func (u *userLedger) creditTotal(ctx context.Context, amount int64) error {
	return u.apply(ctx, amount, 0)
}

// reserve переводит сумму из доступной части в зарезервированную.
func (u *userLedger) reserve(ctx context.Context, amount int64) error {
	if u.available() < amount {
		return apperr.New(apperr.KindInsufficientFunds,
			"insufficient available balance: available %d, requested %d", u.available(), amount)
	}
	return u.apply(ctx, 0, amount)
}

// releaseHeld возвращает зарезервированную сумму в доступную часть.
func (u *userLedger) releaseHeld(ctx context.Context, amount int64) error {
	return u.apply(ctx, 0, -amount)
}

// consumeHeld снимает резерв hold и списывает actual из общей суммы.
func (u *userLedger) consumeHeld(ctx context.Context, hold, actual int64) error {
	return u.apply(ctx, -actual, -hold)
}

// debitAvailable списывает сумму из доступной части без резерва.
func (u *userLedger) debitAvailable(ctx context.Context, amount int64) error {
	if u.available() < amount {
		return apperr.New(apperr.KindInsufficientFunds,
			"insufficient available balance: available %d, requested %d", u.available(), amount)
	}
	return u.apply(ctx, -amount, 0)
}

// appendEntry добавляет запись журнала пользователя в текущей транзакции.
func (u *userLedger) appendEntry(ctx context.Context, typ model.EntryType, amount int64, refType, refID string, metadata any) error {
	return appendLedgerEntry(ctx, u.tx, u.userID, typ, amount, refType, refID, metadata)
}
