package audit

import "time"

// Event is an immutable, append-only audit log record for scheduler
// and admin operations.
//
// Invariants:
// - Events are never updated or deleted.
// - Audit is best-effort; dispatch and reconciliation must never block
//   on an audit failure.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// UserID is the account the event concerns (the queue entry owner
	// for scheduler events, the authenticated actor for admin ones).
	UserID string `json:"user_id,omitempty" db:"user_id"`

	// ActorRole may include hidden roles.
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is captured for request-driven events only.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Target identifiers (optional, depending on the event type).
	EntryID    string `json:"entry_id,omitempty" db:"entry_id"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	CallID     string `json:"call_id,omitempty" db:"call_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAdmissionDenied   EventType = "admission_denied"
	EventTypeWatchdogRecovered EventType = "watchdog_recovered"
	EventTypeCampaignCompleted EventType = "campaign_completed"
	EventTypeAdminAction       EventType = "admin_action"
)
