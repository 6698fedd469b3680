package campaign

import (
	"context"
	"database/sql"
	"errors"
)

// NOTE: This repository assumes a `campaigns` table exists with a
// next_sequence counter column.

var (
	ErrNotFound          = errors.New("campaign: not found")
	ErrInvalidTransition = errors.New("campaign: invalid status transition")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const campaignColumns = `
id, user_id, agent_id, name, status, timezone, window_start, window_end,
pacing_limit, next_sequence, created_at, updated_at
`

func scanCampaign(row interface{ Scan(...any) error }) (Campaign, error) {
	var c Campaign
	var status string
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.AgentID,
		&c.Name,
		&status,
		&c.Timezone,
		&c.WindowStart,
		&c.WindowEnd,
		&c.PacingLimit,
		&c.NextSequence,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Campaign{}, err
	}
	c.Status = Status(status)
	return c, nil
}

// Get returns a campaign scoped to its owner.
func (r *Repository) Get(ctx context.Context, userID, campaignID string) (Campaign, error) {
	const q = `
SELECT ` + campaignColumns + `
FROM campaigns
WHERE id = $1 AND user_id = $2
`
	c, err := scanCampaign(r.db.QueryRowContext(ctx, q, campaignID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c, nil
}

// ListActive returns campaigns the feeder should consider this cycle.
// Status is re-read every cycle so a pause takes effect immediately.
func (r *Repository) ListActive(ctx context.Context) ([]Campaign, error) {
	const q = `
SELECT ` + campaignColumns + `
FROM campaigns
WHERE status = 'active'
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AllocateSequences reserves n consecutive queue positions and returns the
// first one. The atomic counter bump keeps positions monotonic even with
// concurrent feeder instances.
func (r *Repository) AllocateSequences(ctx context.Context, campaignID string, n int) (int64, error) {
	if n <= 0 {
		return 0, errors.New("campaign: sequence count must be > 0")
	}
	const q = `
UPDATE campaigns
SET next_sequence = next_sequence + $2, updated_at = now()
WHERE id = $1
RETURNING next_sequence
`
	var end int64
	if err := r.db.QueryRowContext(ctx, q, campaignID, n).Scan(&end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return end - int64(n) + 1, nil
}

// Pause stops new enqueues for the campaign. In-flight calls are not
// aborted; cancellation is forward-only.
func (r *Repository) Pause(ctx context.Context, userID, campaignID string) error {
	return r.transition(ctx, userID, campaignID, StatusActive, StatusPaused)
}

// Resume reactivates a paused campaign.
func (r *Repository) Resume(ctx context.Context, userID, campaignID string) error {
	return r.transition(ctx, userID, campaignID, StatusPaused, StatusActive)
}

// MarkCompleted is called by the feeder once the contact list is exhausted
// and no queue entries remain outstanding.
func (r *Repository) MarkCompleted(ctx context.Context, campaignID string) error {
	const q = `
UPDATE campaigns
SET status = 'completed', updated_at = now()
WHERE id = $1 AND status = 'active'
`
	res, err := r.db.ExecContext(ctx, q, campaignID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *Repository) transition(ctx context.Context, userID, campaignID string, from, to Status) error {
	const q = `
UPDATE campaigns
SET status = $4, updated_at = now()
WHERE id = $1 AND user_id = $2 AND status = $3
`
	res, err := r.db.ExecContext(ctx, q, campaignID, userID, string(from), string(to))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		// Distinguish missing from wrong-state for the API layer.
		const check = `SELECT 1 FROM campaigns WHERE id = $1 AND user_id = $2`
		var one int
		if err := r.db.QueryRowContext(ctx, check, campaignID, userID).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}
