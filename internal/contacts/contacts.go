package contacts

import (
	"context"
	"database/sql"
	"time"
)

// Read-only contact access for the campaign feeder. Contact import and
// editing are ordinary request handling outside the scheduler.
//
// NOTE: assumes a `contacts` table exists (one row per campaign contact).

type Contact struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	UserID     string `json:"user_id" db:"user_id"`

	PhoneNumber string `json:"phone_number" db:"phone_number"`
	Name        string `json:"name" db:"name"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// NextUncalled returns up to limit contacts of the campaign that have no
// queue entry yet, in stable import order. The anti-join (rather than a
// "called" flag on the contact) keeps the queue's uniqueness constraint as
// the single source of idempotence.
func (s *Store) NextUncalled(ctx context.Context, campaignID string, limit int) ([]Contact, error) {
	if limit <= 0 {
		return nil, nil
	}
	const q = `
SELECT ct.id, ct.campaign_id, ct.user_id, ct.phone_number, ct.name, ct.created_at
FROM contacts ct
WHERE ct.campaign_id = $1
  AND NOT EXISTS (
    SELECT 1 FROM call_queue q
    WHERE q.campaign_id = ct.campaign_id AND q.contact_id = ct.id
  )
ORDER BY ct.created_at ASC, ct.id ASC
LIMIT $2
`
	rows, err := s.db.QueryContext(ctx, q, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.CampaignID, &c.UserID, &c.PhoneNumber, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RemainingCount counts contacts that still have no queue entry.
func (s *Store) RemainingCount(ctx context.Context, campaignID string) (int, error) {
	const q = `
SELECT COUNT(*)
FROM contacts ct
WHERE ct.campaign_id = $1
  AND NOT EXISTS (
    SELECT 1 FROM call_queue q
    WHERE q.campaign_id = ct.campaign_id AND q.contact_id = ct.id
  )
`
	var n int
	if err := s.db.QueryRowContext(ctx, q, campaignID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
