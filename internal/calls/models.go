package calls

import "time"

// Call represents a placed outbound call.
//
// Created by the dispatcher in `initiated` state once the provider accepts
// placement; owned by the lifecycle reconciler afterwards. Every status
// move is forward-only so duplicate or reordered webhooks cannot regress
// a call.

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// rank defines the monotonic ordering used by the reconciler: an event may
// only move a call to a strictly higher rank. Terminal states share the
// top rank so completed/failed never overwrite each other.
func (s Status) rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusRinging:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether the call has reached a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether s is a known call status.
func (s Status) IsValid() bool {
	return s.rank() >= 0
}

// Advances reports whether moving from s to next is a forward transition.
// Equal or lower ranked events are absorbed as no-ops.
func (s Status) Advances(next Status) bool {
	return next.rank() > s.rank()
}

type Call struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	AgentID     string `json:"agent_id" db:"agent_id"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	// ExecutionRef is the provider's identifier for this call; webhook
	// events are correlated by it.
	ExecutionRef string `json:"execution_ref" db:"execution_ref"`

	Status Status `json:"status" db:"status"`

	// FailureReason carries the provider error for failed calls.
	FailureReason *string `json:"failure_reason,omitempty" db:"failure_reason"`

	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration_seconds" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
