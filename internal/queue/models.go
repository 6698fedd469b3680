package queue

import "time"

// Entry is one pending or historical call request.
//
// Audit invariant: entries are never deleted, only terminalized
// (completed/failed/cancelled). Dashboards and billing read history
// from this table.
//
// Ownership invariant: UserID is required on every row. CampaignID and
// ContactID are set only for kind=campaign; the pair is unique so a
// contact is never enqueued twice for the same campaign.

type Kind string

const (
	KindDirect   Kind = "direct"
	KindCampaign Kind = "campaign"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCalling    Status = "calling"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition can occur.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition enforces the entry status machine:
// queued -> processing -> calling -> completed|failed, with
// processing -> queued permitted for a retry attempt and
// queued -> cancelled for user cancellation.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusCancelled || to == StatusFailed
	case StatusProcessing:
		return to == StatusCalling || to == StatusQueued || to == StatusFailed
	case StatusCalling:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

type Entry struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	CampaignID *string `json:"campaign_id,omitempty" db:"campaign_id"`
	ContactID  *string `json:"contact_id,omitempty" db:"contact_id"`

	AgentID     string `json:"agent_id" db:"agent_id"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	Kind Kind `json:"kind" db:"kind"`

	// Priority orders a user's backlog; higher dispatches sooner.
	// Direct calls enqueue above campaign entries.
	Priority int `json:"priority" db:"priority"`

	// Sequence breaks ties within the same priority (campaign contact order).
	Sequence int64 `json:"sequence" db:"sequence"`

	Status Status `json:"status" db:"status"`

	// ScheduledFor delays eligibility (retry backoff pushes it forward).
	ScheduledFor time.Time `json:"scheduled_for" db:"scheduled_for"`

	// LastAllocationAt is the fairness cursor: the dispatcher serves the
	// user whose backlog was allocated longest ago first.
	LastAllocationAt *time.Time `json:"last_allocation_at,omitempty" db:"last_allocation_at"`

	AttemptCount  int     `json:"attempt_count" db:"attempt_count"`
	FailureReason *string `json:"failure_reason,omitempty" db:"failure_reason"`

	// CallID links the placed call once the dispatcher succeeds.
	CallID *string `json:"call_id,omitempty" db:"call_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
