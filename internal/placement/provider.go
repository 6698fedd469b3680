package placement

import (
	"context"
	"errors"
	"fmt"
)

// Provider abstracts the voice-AI vendor that actually dials the call.
//
// Rules:
// - No vendor SDK calls outside placement adapters.
// - Place must return within the configured timeout; the dispatcher
//   treats a slow provider the same as an unreachable one.
// - Request/response types stay vendor-agnostic; raw payloads belong
//   in the adapter, not in business logic.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// Place starts an outbound call and returns the vendor's execution
	// reference. The reference is the correlation key for all later
	// webhook events about this call.
	Place(ctx context.Context, req Request) (executionRef string, err error)
}

type Request struct {
	// EntryID is our queue entry id, passed through as vendor metadata
	// so webhooks can be traced back even without the execution ref.
	EntryID string `json:"entry_id"`
	UserID  string `json:"user_id"`

	// ProviderAgentID is the vendor-side agent configuration to run.
	ProviderAgentID string `json:"provider_agent_id"`

	// To and From are E.164.
	To   string `json:"to"`
	From string `json:"from"`
}

// Error is a classified placement failure. Retryable failures
// (network errors, timeouts, vendor 5xx/429) requeue the entry;
// terminal ones (vendor 4xx: bad agent, bad number) fail it outright.
type Error struct {
	Status    int
	Retryable bool
	Msg       string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("placement: provider returned %d: %s", e.Status, e.Msg)
	}
	return "placement: " + e.Msg
}

// Retryable reports whether err should lead to a retry rather than a
// terminal failure. Unknown error shapes (context deadline, DNS, conn
// refused) are treated as transient.
func Retryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
