package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/calls"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/credit"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/queue"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/slots"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/pkg/utils"
)

// SQLStore bundles the multi-table transactions of the dispatch flow.
// Every method is a single transaction: the queue transition, the slot
// ledger and the credit ledger move together or not at all.
type SQLStore struct {
	db     *sql.DB
	limits slots.Limits
}

func NewSQLStore(db *sql.DB, limits slots.Limits) *SQLStore {
	return &SQLStore{db: db, limits: limits}
}

// errAdmissionDenied aborts the claim transaction so a denied entry
// rolls back to `queued` untouched.
var errAdmissionDenied = errors.New("dispatch: admission denied")

// ClaimAndReserve claims the user's next eligible entry and reserves a
// slot plus the estimated credit for it, atomically.
//
// Outcomes:
//   - claimed=true,  reason=ok:      entry is `processing`, slot held
//   - claimed=false, reason=denial:  entry exists but was rolled back to `queued`
//   - claimed=false, reason="":      no eligible work
func (s *SQLStore) ClaimAndReserve(ctx context.Context, userID string, estimatedCost int64, now time.Time) (queue.Entry, slots.Reason, bool, error) {
	var (
		entry  queue.Entry
		denial slots.Reason
		found  bool
	)
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		e, ok, err := queue.ClaimNextTx(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		found = true
		entry = e

		reason, err := slots.ReserveTx(ctx, tx, userID, estimatedCost,
			slots.ReserveKey(e.ID, e.AttemptCount), e.ID, s.limits, now)
		if err != nil {
			return err
		}
		if reason != slots.ReasonOK {
			denial = reason
			return errAdmissionDenied
		}
		return nil
	})
	if err != nil && !errors.Is(err, errAdmissionDenied) {
		return queue.Entry{}, "", false, err
	}
	if denial != "" {
		return entry, denial, false, nil
	}
	if !found {
		return queue.Entry{}, "", false, nil
	}
	return entry, slots.ReasonOK, true, nil
}

// RecordPlaced creates the call row and moves the entry to `calling`.
// From here on the execution reference owns the slot release.
func (s *SQLStore) RecordPlaced(ctx context.Context, e queue.Entry, executionRef string, now time.Time) (string, error) {
	callID := uuid.NewString()
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := calls.InsertTx(ctx, tx, calls.Call{
			ID:           callID,
			UserID:       e.UserID,
			AgentID:      e.AgentID,
			PhoneNumber:  e.PhoneNumber,
			ExecutionRef: executionRef,
			Status:       calls.StatusInitiated,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return err
		}
		return queue.MarkCallingTx(ctx, tx, e.ID, callID, now)
	})
	if err != nil {
		return "", err
	}
	return callID, nil
}

// RecordRetry puts a transiently-failed entry back in the queue with a
// backoff, releases its slot and refunds the reservation. Only the
// first release per attempt refunds; replays are no-ops.
func (s *SQLStore) RecordRetry(ctx context.Context, e queue.Entry, retryAt time.Time, reason string, now time.Time) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := queue.RequeueForRetryTx(ctx, tx, e.ID, retryAt, reason, now); err != nil {
			return err
		}
		return releaseUnplaced(ctx, tx, e, now)
	})
}

// RecordFailure terminalizes an entry whose placement cannot succeed,
// releasing the slot and refunding the reservation.
func (s *SQLStore) RecordFailure(ctx context.Context, e queue.Entry, reason string, now time.Time) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := queue.FailTx(ctx, tx, e.ID, reason, now); err != nil {
			return err
		}
		return releaseUnplaced(ctx, tx, e, now)
	})
}

// releaseUnplaced releases the slot of an entry that never received an
// execution reference, refunding the attempt's credit reservation
// exactly once.
func releaseUnplaced(ctx context.Context, tx *sql.Tx, e queue.Entry, now time.Time) error {
	ref := slots.EntryReleaseRef(e.ID, e.AttemptCount)
	first, err := slots.ReleaseTx(ctx, tx, e.UserID, ref, now)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	return credit.RefundTx(ctx, tx, e.UserID,
		slots.ReserveKey(e.ID, e.AttemptCount), "refund:"+ref, ref, now)
}

// UserLimit reads the user's effective concurrency limit for the Redis
// fast-gate. The durable ledger re-checks it authoritatively.
func (s *SQLStore) UserLimit(ctx context.Context, userID string) (int, error) {
	const q = `SELECT COALESCE(concurrency_limit, 0) FROM users WHERE id = $1`
	var n int
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return s.limits.DefaultUserLimit, nil
	}
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return s.limits.DefaultUserLimit, nil
	}
	return n, nil
}
