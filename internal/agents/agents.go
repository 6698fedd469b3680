package agents

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Read-only agent configuration consumed by the dispatcher. Agent CRUD is
// ordinary request handling outside the scheduler and lives elsewhere.
//
// NOTE: assumes an `agents` table exists.

var ErrNotFound = errors.New("agents: not found")

// Agent is the calling-agent configuration needed to place a call.
type Agent struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Name string `json:"name" db:"name"`

	// ProviderAgentID is the agent's identifier at the call-initiation
	// provider; placement requests reference it.
	ProviderAgentID string `json:"provider_agent_id" db:"provider_agent_id"`

	// FromNumber is the caller id used for outbound calls (E.164).
	FromNumber string `json:"from_number" db:"from_number"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the agent, scoped to its owner.
func (s *Store) Get(ctx context.Context, userID, agentID string) (Agent, error) {
	const q = `
SELECT id, user_id, name, provider_agent_id, from_number, created_at
FROM agents
WHERE id = $1 AND user_id = $2
`
	var a Agent
	err := s.db.QueryRowContext(ctx, q, agentID, userID).Scan(
		&a.ID,
		&a.UserID,
		&a.Name,
		&a.ProviderAgentID,
		&a.FromNumber,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, err
	}
	return a, nil
}
