package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/pkg/utils"
)

// NOTE: This repository assumes the following table exists:
// - calls (execution_ref UNIQUE)

var ErrNotFound = errors.New("calls: not found")

const callColumns = `
id, user_id, agent_id, phone_number, execution_ref, status, failure_reason,
started_at, ended_at, duration_seconds, created_at, updated_at
`

// InsertTx creates the Call row in initiated state. Runs inside the
// dispatch transaction so the queue entry's calling transition and the
// call creation commit together.
func InsertTx(ctx context.Context, tx *sql.Tx, c Call) error {
	const q = `
INSERT INTO calls (
  id, user_id, agent_id, phone_number, execution_ref, status,
  duration_seconds, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,0,$7,$8
)
`
	_, err := tx.ExecContext(ctx, q,
		c.ID,
		c.UserID,
		c.AgentID,
		c.PhoneNumber,
		c.ExecutionRef,
		string(c.Status),
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func scanCall(row interface{ Scan(...any) error }) (Call, error) {
	var c Call
	var status string
	var reason sql.NullString
	var startedAt, endedAt sql.NullTime

	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.AgentID,
		&c.PhoneNumber,
		&c.ExecutionRef,
		&status,
		&reason,
		&startedAt,
		&endedAt,
		&c.DurationSeconds,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Call{}, err
	}
	c.Status = Status(status)
	c.FailureReason = utils.NullString(reason)
	c.StartedAt = utils.NullTime(startedAt)
	c.EndedAt = utils.NullTime(endedAt)
	return c, nil
}

// GetByExecutionRefTx locks and returns the call for a provider event.
// The row lock serializes concurrent webhook deliveries for the same call.
func GetByExecutionRefTx(ctx context.Context, tx *sql.Tx, executionRef string) (Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE execution_ref = $1
FOR UPDATE
`
	c, err := scanCall(tx.QueryRowContext(ctx, q, executionRef))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

// AdvanceStatusTx moves the call forward. Callers must have verified the
// transition with Status.Advances; the WHERE guard is a second line of
// defense against concurrent writers.
func AdvanceStatusTx(ctx context.Context, tx *sql.Tx, id string, from, to Status, reason *string, startedAt, endedAt *time.Time, durationSeconds int, now time.Time) error {
	const q = `
UPDATE calls
SET status = $3,
    failure_reason = COALESCE($4, failure_reason),
    started_at = COALESCE($5, started_at),
    ended_at = COALESCE($6, ended_at),
    duration_seconds = GREATEST(duration_seconds, $7),
    updated_at = $8
WHERE id = $1 AND status = $2
`
	res, err := tx.ExecContext(ctx, q,
		id,
		string(from),
		string(to),
		utils.StringOrNull(reason),
		utils.TimeOrNull(startedAt),
		utils.TimeOrNull(endedAt),
		durationSeconds,
		now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrNotFound
	}
	return nil
}

// ListByUser returns the user's call history, newest first.
func ListByUser(ctx context.Context, db *sql.DB, userID string, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
