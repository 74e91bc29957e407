package rewards

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: This repository assumes the following tables exist:
// - reward_ledger (immutable append-only) with
//   UNIQUE (user_id, idempotency_key)
// - reward_balances (projection, user_id PRIMARY KEY)

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, userID, key string) (LedgerEntry, bool, error) {
	const q = `
SELECT id, user_id, match_id, kind, points, idempotency_key, created_at
FROM reward_ledger
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e LedgerEntry
	err := tx.QueryRowContext(ctx, q, userID, key).Scan(
		&e.ID,
		&e.UserID,
		&e.MatchID,
		&e.Kind,
		&e.Points,
		&e.IdempotencyKey,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LedgerEntry{}, false, nil
		}
		return LedgerEntry{}, false, err
	}
	return e, true, nil
}

// insertLedger appends an entry. A concurrent retry that already inserted
// the same (user_id, idempotency_key) makes this a no-op; the bool tells
// the caller whether the row is new (and the balance delta still owed).
func insertLedger(ctx context.Context, tx *sql.Tx, e LedgerEntry) (bool, error) {
	const q = `
INSERT INTO reward_ledger (
  id, user_id, match_id, kind, points, idempotency_key, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (user_id, idempotency_key) DO NOTHING
`
	res, err := tx.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		e.MatchID,
		e.Kind,
		e.Points,
		e.IdempotencyKey,
		e.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, userID string, delta int64, now time.Time) (Balance, error) {
	const q = `
INSERT INTO reward_balances (user_id, points, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (user_id)
DO UPDATE SET points = reward_balances.points + EXCLUDED.points,
              updated_at = EXCLUDED.updated_at
RETURNING user_id, points, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID, delta, now).Scan(
		&b.UserID,
		&b.Points,
		&b.UpdatedAt,
	); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func getBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (Balance, error) {
	const q = `
SELECT user_id, points, updated_at
FROM reward_balances
WHERE user_id = $1
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID).Scan(
		&b.UserID,
		&b.Points,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func getBalance(ctx context.Context, db *sql.DB, userID string) (Balance, error) {
	const q = `
SELECT user_id, points, updated_at
FROM reward_balances
WHERE user_id = $1
`
	var b Balance
	if err := db.QueryRowContext(ctx, q, userID).Scan(
		&b.UserID,
		&b.Points,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}
