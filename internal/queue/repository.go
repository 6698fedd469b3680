package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/campaign"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the following tables exist:
// - call_queue (one row per call request, never deleted)
// - campaigns (read-only here; window config joined at claim time)
//
// It also assumes a partial uniqueness constraint, e.g.:
// CREATE UNIQUE INDEX call_queue_campaign_contact
//   ON call_queue (campaign_id, contact_id) WHERE campaign_id IS NOT NULL;

var (
	ErrNotFound       = errors.New("queue: entry not found")
	ErrNotCancellable = errors.New("queue: entry is not cancellable")
	ErrInvalidEntry   = errors.New("queue: invalid entry")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const entryColumns = `
id, user_id, campaign_id, contact_id, agent_id, phone_number, kind,
priority, sequence, status, scheduled_for, last_allocation_at,
attempt_count, failure_reason, call_id, created_at, updated_at
`

func scanEntry(row interface{ Scan(...any) error }) (Entry, error) {
	var e Entry
	var campaignID, contactID, reason, callID sql.NullString
	var lastAlloc sql.NullTime
	var kind, status string

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&campaignID,
		&contactID,
		&e.AgentID,
		&e.PhoneNumber,
		&kind,
		&e.Priority,
		&e.Sequence,
		&status,
		&e.ScheduledFor,
		&lastAlloc,
		&e.AttemptCount,
		&reason,
		&callID,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return Entry{}, err
	}
	e.Kind = Kind(kind)
	e.Status = Status(status)
	e.CampaignID = utils.NullString(campaignID)
	e.ContactID = utils.NullString(contactID)
	e.FailureReason = utils.NullString(reason)
	e.CallID = utils.NullString(callID)
	e.LastAllocationAt = utils.NullTime(lastAlloc)
	return e, nil
}

// Enqueue appends a new request with status queued.
//
// For campaign entries the (campaign_id, contact_id) uniqueness constraint
// makes the insert idempotent: a duplicate enqueue inserts nothing and
// returns inserted=false.
func (r *Repository) Enqueue(ctx context.Context, e Entry) (Entry, bool, error) {
	if e.UserID == "" || e.AgentID == "" || e.PhoneNumber == "" {
		return Entry{}, false, ErrInvalidEntry
	}
	if e.Kind == KindCampaign && (e.CampaignID == nil || e.ContactID == nil) {
		return Entry{}, false, ErrInvalidEntry
	}

	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Status = StatusQueued
	if e.ScheduledFor.IsZero() {
		e.ScheduledFor = now
	}
	e.CreatedAt = now
	e.UpdatedAt = now

	const q = `
INSERT INTO call_queue (
  id, user_id, campaign_id, contact_id, agent_id, phone_number, kind,
  priority, sequence, status, scheduled_for, attempt_count, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12,$13
)
ON CONFLICT (campaign_id, contact_id) WHERE campaign_id IS NOT NULL DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		utils.StringOrNull(e.CampaignID),
		utils.StringOrNull(e.ContactID),
		e.AgentID,
		e.PhoneNumber,
		string(e.Kind),
		e.Priority,
		e.Sequence,
		string(e.Status),
		e.ScheduledFor,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return Entry{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Entry{}, false, err
	}
	return e, n == 1, nil
}

// ClaimNextTx selects and claims the user's next dispatchable entry in one
// atomic step. The row lock is taken with SKIP LOCKED so concurrent
// dispatch workers never block each other or double-claim.
//
// Eligibility: status queued, scheduled_for has passed, and for campaign
// entries the owning campaign is active with its calling window open.
// The window check runs in SQL so that a large parked campaign cannot
// push eligible entries of another campaign past the scan limit; the Go
// re-check below stays as the authoritative minute-granularity filter.
// Ordering: priority desc, sequence asc, created_at asc. The fairness
// cursor across users is applied by the caller via UsersWithEligibleWork.
func ClaimNextTx(ctx context.Context, tx *sql.Tx, userID string, now time.Time) (Entry, bool, error) {
	const q = `
SELECT q.id, q.user_id, q.campaign_id, q.contact_id, q.agent_id, q.phone_number, q.kind,
       q.priority, q.sequence, q.status, q.scheduled_for, q.last_allocation_at,
       q.attempt_count, q.failure_reason, q.call_id, q.created_at, q.updated_at,
       c.status, c.timezone, c.window_start, c.window_end
FROM call_queue q
LEFT JOIN campaigns c ON c.id = q.campaign_id
WHERE q.user_id = $1
  AND q.status = 'queued'
  AND q.scheduled_for <= $2
  AND (
    q.kind <> 'campaign'
    OR (
      c.status = 'active'
      AND (
        (c.window_start::time <= c.window_end::time
          AND date_trunc('minute', $2 AT TIME ZONE c.timezone)::time
              BETWEEN c.window_start::time AND c.window_end::time)
        OR
        (c.window_start::time > c.window_end::time
          AND (date_trunc('minute', $2 AT TIME ZONE c.timezone)::time >= c.window_start::time
            OR date_trunc('minute', $2 AT TIME ZONE c.timezone)::time <= c.window_end::time))
      )
    )
  )
ORDER BY q.priority DESC, q.sequence ASC, q.created_at ASC
LIMIT 20
FOR UPDATE OF q SKIP LOCKED
`
	rows, err := tx.QueryContext(ctx, q, userID, now)
	if err != nil {
		return Entry{}, false, err
	}
	defer rows.Close()

	var claimed *Entry
	for rows.Next() {
		var e Entry
		var campaignID, contactID, reason, callID sql.NullString
		var lastAlloc sql.NullTime
		var kind, status string
		var cStatus, cTZ, cStart, cEnd sql.NullString

		if err := rows.Scan(
			&e.ID, &e.UserID, &campaignID, &contactID, &e.AgentID, &e.PhoneNumber, &kind,
			&e.Priority, &e.Sequence, &status, &e.ScheduledFor, &lastAlloc,
			&e.AttemptCount, &reason, &callID, &e.CreatedAt, &e.UpdatedAt,
			&cStatus, &cTZ, &cStart, &cEnd,
		); err != nil {
			return Entry{}, false, err
		}
		e.Kind = Kind(kind)
		e.Status = Status(status)
		e.CampaignID = utils.NullString(campaignID)
		e.ContactID = utils.NullString(contactID)
		e.FailureReason = utils.NullString(reason)
		e.CallID = utils.NullString(callID)
		e.LastAllocationAt = utils.NullTime(lastAlloc)

		if e.Kind == KindCampaign {
			// Paused/completed campaigns keep their queued entries parked.
			if !cStatus.Valid || campaign.Status(cStatus.String) != campaign.StatusActive {
				continue
			}
			open, werr := campaign.WindowOpen(cTZ.String, cStart.String, cEnd.String, now)
			if werr != nil || !open {
				continue
			}
		}
		claimed = &e
		break
	}
	if err := rows.Err(); err != nil {
		return Entry{}, false, err
	}
	if claimed == nil {
		return Entry{}, false, nil
	}

	const upd = `
UPDATE call_queue
SET status = 'processing', last_allocation_at = $2, updated_at = $2
WHERE id = $1 AND status = 'queued'
`
	res, err := tx.ExecContext(ctx, upd, claimed.ID, now)
	if err != nil {
		return Entry{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Entry{}, false, err
	}
	if n != 1 {
		// Should not happen while the row lock is held.
		return Entry{}, false, errors.New("queue: claim lost row")
	}

	claimed.Status = StatusProcessing
	t := now
	claimed.LastAllocationAt = &t
	claimed.UpdatedAt = now
	return *claimed, true, nil
}

// MarkCallingTx transitions processing -> calling and links the Call row.
func MarkCallingTx(ctx context.Context, tx *sql.Tx, entryID, callID string, now time.Time) error {
	const q = `
UPDATE call_queue
SET status = 'calling', call_id = $2, updated_at = $3
WHERE id = $1 AND status = 'processing'
`
	return execExpectOne(ctx, tx, q, entryID, callID, now)
}

// RequeueForRetryTx returns a processing entry to the queue for another
// attempt, pushing scheduled_for forward by the retry backoff.
func RequeueForRetryTx(ctx context.Context, tx *sql.Tx, entryID string, scheduledFor time.Time, reason string, now time.Time) error {
	const q = `
UPDATE call_queue
SET status = 'queued', attempt_count = attempt_count + 1,
    scheduled_for = $2, failure_reason = $3, updated_at = $4
WHERE id = $1 AND status = 'processing'
`
	return execExpectOne(ctx, tx, q, entryID, scheduledFor, reason, now)
}

// FailTx terminalizes an entry with the recorded reason.
func FailTx(ctx context.Context, tx *sql.Tx, entryID, reason string, now time.Time) error {
	const q = `
UPDATE call_queue
SET status = 'failed', failure_reason = $2, updated_at = $3
WHERE id = $1 AND status IN ('queued', 'processing', 'calling')
`
	return execExpectOne(ctx, tx, q, entryID, reason, now)
}

// CompleteTx terminalizes a calling entry after the provider reported a
// terminal success.
func CompleteTx(ctx context.Context, tx *sql.Tx, entryID string, now time.Time) error {
	const q = `
UPDATE call_queue
SET status = 'completed', updated_at = $2
WHERE id = $1 AND status = 'calling'
`
	return execExpectOne(ctx, tx, q, entryID, now)
}

func execExpectOne(ctx context.Context, tx *sql.Tx, q string, args ...any) error {
	res, err := tx.ExecContext(ctx, q, args...)
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

// Cancel terminalizes a queued entry on user request. Only valid while the
// entry has not been claimed; later states are owned by the dispatcher and
// reconciler.
func (r *Repository) Cancel(ctx context.Context, userID, entryID string) error {
	const q = `
UPDATE call_queue
SET status = 'cancelled', updated_at = now()
WHERE id = $1 AND user_id = $2 AND status = 'queued'
`
	res, err := r.db.ExecContext(ctx, q, entryID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		// Distinguish missing from non-cancellable for the API layer.
		const check = `SELECT 1 FROM call_queue WHERE id = $1 AND user_id = $2`
		var one int
		if err := r.db.QueryRowContext(ctx, check, entryID, userID).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrNotCancellable
	}
	return nil
}

// ListByUser returns the user's queue, pending entries first.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ` + entryColumns + `
FROM call_queue
WHERE user_id = $1
ORDER BY (status IN ('queued','processing','calling')) DESC, created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ActiveCount counts a user's in-flight entries (processing or calling).
func (r *Repository) ActiveCount(ctx context.Context, userID string) (int, error) {
	const q = `
SELECT COUNT(*) FROM call_queue
WHERE user_id = $1 AND status IN ('processing','calling')
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ActiveCountsTx counts the user's and the system's in-flight entries
// inside a reservation transaction. The slot guard row must already be
// locked by the caller so these counts cannot race another reservation.
func ActiveCountsTx(ctx context.Context, tx *sql.Tx, userID string) (user int, system int, err error) {
	const q = `
SELECT
  COUNT(*) FILTER (WHERE user_id = $1),
  COUNT(*)
FROM call_queue
WHERE status IN ('processing','calling')
`
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&user, &system); err != nil {
		return 0, 0, err
	}
	return user, system, nil
}

// UsersWithEligibleWork returns users holding dispatchable queued entries,
// ordered by fairness cursor: the user allocated longest ago comes first,
// users never allocated come before all others. This round-robins dispatch
// across users so one high-volume campaign cannot starve other users'
// direct calls under the shared system-wide limit.
func (r *Repository) UsersWithEligibleWork(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT user_id
FROM call_queue
WHERE status = 'queued' AND scheduled_for <= $1
GROUP BY user_id
ORDER BY MIN(COALESCE(last_allocation_at, 'epoch'::timestamptz)) ASC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// StuckProcessing returns entries that have sat in processing since before
// the cutoff: a dispatch attempt crashed between claim and placement. The
// watchdog requeues or fails them and releases their reservations.
func (r *Repository) StuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ` + entryColumns + `
FROM call_queue
WHERE status = 'processing' AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// OutstandingForCampaign counts a campaign's non-terminal entries. The
// feeder completes a campaign only when this reaches zero with no uncalled
// contacts left.
func (r *Repository) OutstandingForCampaign(ctx context.Context, campaignID string) (int, error) {
	const q = `
SELECT COUNT(*) FROM call_queue
WHERE campaign_id = $1 AND status IN ('queued','processing','calling')
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, campaignID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// GetByCallIDTx fetches the entry linked to a placed call.
func GetByCallIDTx(ctx context.Context, tx *sql.Tx, callID string) (Entry, error) {
	const q = `
SELECT ` + entryColumns + `
FROM call_queue
WHERE call_id = $1
`
	e, err := scanEntry(tx.QueryRowContext(ctx, q, callID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}
