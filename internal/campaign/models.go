package campaign

import "time"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Campaign is the configuration object for a bulk calling run.
//
// Mutation rules:
// - status is changed by user action (pause/resume) and by the feeder
//   (-> completed when the contact list is exhausted).
// - pausing stops new enqueues immediately; in-flight placed calls are
//   not aborted. Cancellation is forward-only, never retroactive.
type Campaign struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	AgentID string `json:"agent_id" db:"agent_id"`
	Name    string `json:"name" db:"name"`

	Status Status `json:"status" db:"status"`

	// Timezone is an IANA name (e.g. "America/New_York"); the calling
	// window is evaluated in this zone.
	Timezone string `json:"timezone" db:"timezone"`

	// WindowStart/WindowEnd are time-of-day strings "HH:MM", inclusive.
	WindowStart string `json:"window_start" db:"window_start"`
	WindowEnd   string `json:"window_end" db:"window_end"`

	// PacingLimit caps how many contacts the feeder promotes per cycle.
	PacingLimit int `json:"pacing_limit" db:"pacing_limit"`

	// NextSequence hands out monotonically increasing queue positions.
	NextSequence int64 `json:"next_sequence" db:"next_sequence"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
