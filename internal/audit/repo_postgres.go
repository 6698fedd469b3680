package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo persists audit events.
//
// NOTE: assumes an `audit_events` table with an INSERT-only policy.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events
  (id, type, user_id, actor_role, ip_address, entry_id, campaign_id, call_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		nullIfEmpty(e.UserID),
		nullIfEmpty(e.ActorRole),
		nullIfEmpty(e.IPAddress),
		nullIfEmpty(e.EntryID),
		nullIfEmpty(e.CampaignID),
		nullIfEmpty(e.CallID),
		nullIfEmpty(e.Message),
		nullIfEmpty(e.Metadata),
		e.CreatedAt,
	)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
