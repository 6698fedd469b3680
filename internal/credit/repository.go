package credit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: This repository assumes the following tables exist:
// - credit_ledger (immutable append-only, UNIQUE (user_id, idempotency_key))
// - credit_balances (projection)

func lockBalance(ctx context.Context, tx *sql.Tx, userID string, now time.Time) (Balance, error) {
	// Upsert-then-lock so first-time users start from zero. The row lock
	// serializes concurrent credit operations per user.
	const ins = `
INSERT INTO credit_balances (user_id, amount, updated_at)
VALUES ($1, 0, $2)
ON CONFLICT (user_id) DO NOTHING
`
	if _, err := tx.ExecContext(ctx, ins, userID, now); err != nil {
		return Balance{}, err
	}

	const q = `
SELECT user_id, amount, updated_at
FROM credit_balances
WHERE user_id = $1
FOR UPDATE
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.Amount, &b.UpdatedAt); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, userID, key string) (Ledger, bool, error) {
	const q = `
SELECT id, user_id, type, amount, idempotency_key, external_ref, created_at
FROM credit_ledger
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e Ledger
	var typ string
	err := tx.QueryRowContext(ctx, q, userID, key).Scan(
		&e.ID,
		&e.UserID,
		&typ,
		&e.Amount,
		&e.IdempotencyKey,
		&e.ExternalRef,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Ledger{}, false, nil
		}
		return Ledger{}, false, err
	}
	e.Type = EntryType(typ)
	return e, true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e Ledger) error {
	const q = `
INSERT INTO credit_ledger (
  id, user_id, type, amount, idempotency_key, external_ref, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		string(e.Type),
		e.Amount,
		e.IdempotencyKey,
		e.ExternalRef,
		e.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, userID string, delta int64, now time.Time) (Balance, error) {
	const q = `
UPDATE credit_balances
SET amount = amount + $2, updated_at = $3
WHERE user_id = $1
RETURNING user_id, amount, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID, delta, now).Scan(&b.UserID, &b.Amount, &b.UpdatedAt); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func getBalance(ctx context.Context, db *sql.DB, userID string) (Balance, error) {
	const q = `
SELECT user_id, amount, updated_at
FROM credit_balances
WHERE user_id = $1
`
	var b Balance
	if err := db.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.Amount, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{UserID: userID}, nil
		}
		return Balance{}, err
	}
	return b, nil
}
