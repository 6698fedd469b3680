package slots

import "fmt"

// Reservation and release keys are derived, never stored on the entry,
// so the dispatcher, watchdog and reconciler all compute the same key
// from the same entry state.
//
// The attempt number is part of the key: each retry is a fresh
// reservation with its own refund, and a stale release from attempt N
// can never swallow the release of attempt N+1.

// ReserveKey is the credit-ledger idempotency key for one placement attempt.
func ReserveKey(entryID string, attempt int) string {
	return fmt.Sprintf("reserve:%s:%d", entryID, attempt)
}

// EntryReleaseRef is the slot release reference for an entry that never
// got an execution reference (placement failed or timed out).
func EntryReleaseRef(entryID string, attempt int) string {
	return fmt.Sprintf("entry:%s:%d", entryID, attempt)
}
