package credit

import "time"

// Credit models are user-scoped. Amounts are whole credits expressed as
// int64; one credit is the platform's billing unit for call minutes.

type EntryType string

const (
	// EntryTypeTopUp adds purchased credits.
	EntryTypeTopUp EntryType = "topup"
	// EntryTypeReserve holds the estimated call cost at dispatch time.
	EntryTypeReserve EntryType = "reserve"
	// EntryTypeSettle returns the unused part of a reservation (or debits
	// overage) once the call's actual cost is known.
	EntryTypeSettle EntryType = "settle"
	// EntryTypeRefund returns a full reservation after a failed placement.
	EntryTypeRefund EntryType = "refund"
)

// Ledger is one append-only credit movement.
//
// Money invariants:
// - No balance updates without a ledger entry.
// - The ledger is immutable; corrections are new entries.
// - All movements run inside a DB transaction with the balance row locked.
type Ledger struct {
	ID     string    `json:"id" db:"id"`
	UserID string    `json:"user_id" db:"user_id"`
	Type   EntryType `json:"type" db:"type"`

	// Amount is signed: top-ups and refunds positive, reserves negative.
	Amount int64 `json:"amount" db:"amount"`

	// IdempotencyKey dedupes retried operations, e.g. "reserve:<entry_id>".
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	// ExternalRef links the movement to a queue entry or call.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Balance is the projection row updated atomically alongside ledger inserts.
type Balance struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Amount    int64     `json:"amount" db:"amount"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
