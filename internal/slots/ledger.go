package slots

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/credit"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/queue"
)

// Slot ledger: per-user and system-wide in-flight call capacity.
//
// Capacity state is not an in-process counter. It is derived inside a
// transaction from durable call_queue rows (status processing/calling)
// while a singleton guard row is locked, so concurrent dispatch workers
// and restarted processes always see consistent counts.
//
// NOTE: assumes the following tables exist:
// - slot_guard (single row, id = 1; locked FOR UPDATE to serialize reservations)
// - slot_releases (execution/entry reference PK; makes release exactly-once)
// - users (per-user concurrency_limit override, nullable)

var ErrInvalidArgument = errors.New("slots: invalid argument")

// Reason classifies a reservation outcome. Denials are normal scheduling
// outcomes, logged not alarmed.
type Reason string

const (
	ReasonOK                 Reason = "ok"
	ReasonUserLimitExceeded  Reason = "user_limit_exceeded"
	ReasonSystemLimitExceed  Reason = "system_limit_exceeded"
	ReasonInsufficientCredit Reason = "insufficient_credit"
)

// Limits carries the configured capacity ceilings.
type Limits struct {
	DefaultUserLimit int
	SystemLimit      int
}

func lockGuard(ctx context.Context, tx *sql.Tx) error {
	const q = `SELECT id FROM slot_guard WHERE id = 1 FOR UPDATE`
	var id int
	return tx.QueryRowContext(ctx, q).Scan(&id)
}

func userLimitTx(ctx context.Context, tx *sql.Tx, userID string, def int) (int, error) {
	const q = `SELECT COALESCE(concurrency_limit, $2) FROM users WHERE id = $1`
	var n int
	err := tx.QueryRowContext(ctx, q, userID, def).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return def, nil
	}
	return n, nil
}

// ReserveTx grants one slot to the user, or reports why not. It must run
// in the same transaction that claims the queue entry: on denial the
// caller rolls back and the entry stays queued.
//
// The credit reservation is part of the same atomic unit, so a slot is
// never granted to a user who cannot cover the estimated cost, and a
// failed reservation never leaves a charge behind.
func ReserveTx(ctx context.Context, tx *sql.Tx, userID string, estimatedCost int64, reserveKey, externalRef string, limits Limits, now time.Time) (Reason, error) {
	if userID == "" || reserveKey == "" || estimatedCost <= 0 {
		return "", ErrInvalidArgument
	}
	if limits.DefaultUserLimit <= 0 || limits.SystemLimit <= 0 {
		return "", ErrInvalidArgument
	}

	if err := lockGuard(ctx, tx); err != nil {
		return "", err
	}

	userLimit, err := userLimitTx(ctx, tx, userID, limits.DefaultUserLimit)
	if err != nil {
		return "", err
	}

	// The claimed entry is already `processing` inside this tx, so counts
	// include the reservation being made.
	userActive, systemActive, err := queue.ActiveCountsTx(ctx, tx, userID)
	if err != nil {
		return "", err
	}
	if userActive > userLimit {
		return ReasonUserLimitExceeded, nil
	}
	if systemActive > limits.SystemLimit {
		return ReasonSystemLimitExceed, nil
	}

	if err := credit.ReserveTx(ctx, tx, userID, estimatedCost, reserveKey, externalRef, now); err != nil {
		if errors.Is(err, credit.ErrInsufficientCredit) {
			return ReasonInsufficientCredit, nil
		}
		return "", err
	}
	return ReasonOK, nil
}

// ReleaseTx records the slot release for a finished or recovered dispatch.
// The reference key (execution reference, or the entry id for never-placed
// entries) is the idempotency key: only the first release per key returns
// first=true, and only that caller settles credit and wakes the
// dispatcher. Releasing an already-released slot is a no-op, not an error.
func ReleaseTx(ctx context.Context, tx *sql.Tx, userID, referenceKey string, now time.Time) (first bool, err error) {
	if userID == "" || referenceKey == "" {
		return false, ErrInvalidArgument
	}
	const q = `
INSERT INTO slot_releases (reference_key, user_id, released_at)
VALUES ($1, $2, $3)
ON CONFLICT (reference_key) DO NOTHING
`
	res, err := tx.ExecContext(ctx, q, referenceKey, userID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
