package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/model"
)

// ReferralChain возвращает до depth предков пользователя по ссылкам referred_by.
// Обход останавливается на пользователе без пригласившего или на уже встреченном пользователе.
func (r *PostgresRepository) ReferralChain(ctx context.Context, userID int64, depth int) ([]model.ChainEntry, error) {
	chain := make([]model.ChainEntry, 0, depth)
	seen := map[int64]bool{userID: true}
	current := userID

	for level := 1; level <= depth; level++ {
		var parent *int64
		err := r.pool.QueryRow(ctx,
			`SELECT referred_by FROM users WHERE id = $1`,
			current,
		).Scan(&parent)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				break
			}
			return nil, fmt.Errorf("select referrer: %w", err)
		}

		if parent == nil || seen[*parent] {
			break
		}
		seen[*parent] = true

		chain = append(chain, model.ChainEntry{UserID: *parent, Level: level})
		current = *parent
	}

	return chain, nil
}

// PayReferralLevel зачисляет одну выплату реферальной цепочки в собственной транзакции.
// Повторная выплата по тому же (получатель, событие, уровень) ничего не меняет и возвращает false.
func (r *PostgresRepository) PayReferralLevel(ctx context.Context, e model.ReferralEarning) (bool, error) {
	if e.Amount <= 0 {
		return false, apperr.New(apperr.KindInvalidAmount, "invalid referral amount %d", e.Amount)
	}

	var applied bool
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		applied = false

		cmdTag, err := tx.Exec(ctx,
			`INSERT INTO referral_earnings (user_id, source_user_id, source_event_id, level, amount_stars)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (user_id, source_event_id, level) DO NOTHING`,
			e.UserID, e.SourceUserID, e.SourceEventID, e.Level, e.Amount,
		)
		if err != nil {
			return fmt.Errorf("insert referral earning: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return nil
		}

		u, err := lockBalance(ctx, tx, e.UserID)
		if err != nil {
			return err
		}

		if err := u.creditTotal(ctx, e.Amount); err != nil {
			return err
		}

		meta := map[string]any{"sourceUserId": e.SourceUserID, "level": e.Level, "pct": e.Pct}
		if err := u.appendEntry(ctx, model.EntryReferralCredit, e.Amount, model.RefReferral, e.SourceEventID, meta); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// EnsureReferralCode закрепляет за пользователем реферальный код, если его ещё нет,
// и возвращает действующий код. Занятый другим пользователем код даёт ошибку Conflict.
func (r *PostgresRepository) EnsureReferralCode(ctx context.Context, userID int64, candidate string) (string, error) {
	var code *string
	err := r.pool.QueryRow(ctx,
		`SELECT referral_code FROM users WHERE id = $1`,
		userID,
	).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.Wrap(apperr.KindNotFound, err, "user not found")
		}
		return "", fmt.Errorf("select referral code: %w", err)
	}
	if code != nil {
		return *code, nil
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE users SET referral_code = $1, updated_at = NOW()
		 WHERE id = $2 AND referral_code IS NULL`,
		candidate, userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", apperr.Wrap(apperr.KindConflict, err, "referral code taken")
		}
		return "", fmt.Errorf("set referral code: %w", err)
	}

	// Параллельный запрос мог закрепить свой код первым.
	var stored string
	err = r.pool.QueryRow(ctx,
		`SELECT referral_code FROM users WHERE id = $1`,
		userID,
	).Scan(&stored)
	if err != nil {
		return "", fmt.Errorf("reselect referral code: %w", err)
	}
	return stored, nil
}

// ApplyReferralCode привязывает пользователя к владельцу кода.
// Возвращает false, если код не найден, принадлежит самому пользователю
// или пригласивший уже назначен.
func (r *PostgresRepository) ApplyReferralCode(ctx context.Context, userID int64, code string) (bool, error) {
	var referrerID int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM users WHERE upper(referral_code) = upper($1) AND id != $2`,
		code, userID,
	).Scan(&referrerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select referrer by code: %w", err)
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET referred_by = $1, updated_at = NOW()
		 WHERE id = $2 AND referred_by IS NULL`,
		referrerID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("set referrer: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// ReferralSummary возвращает число приглашённых пользователем и заработок по уровням.
func (r *PostgresRepository) ReferralSummary(ctx context.Context, userID int64) (int64, map[int]model.ReferralLevelStats, error) {
	var referred int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM users WHERE referred_by = $1`,
		userID,
	).Scan(&referred)
	if err != nil {
		return 0, nil, fmt.Errorf("count referred: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT level, count(*), COALESCE(sum(amount_stars), 0)
		 FROM referral_earnings
		 WHERE user_id = $1
		 GROUP BY level`,
		userID,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("select referral earnings: %w", err)
	}
	defer rows.Close()

	levels := make(map[int]model.ReferralLevelStats)
	for rows.Next() {
		var s model.ReferralLevelStats
		if err := rows.Scan(&s.Level, &s.Count, &s.Earned); err != nil {
			return 0, nil, fmt.Errorf("scan referral level: %w", err)
		}
		levels[s.Level] = s
	}

	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("rows error: %w", err)
	}

	return referred, levels, nil
}
