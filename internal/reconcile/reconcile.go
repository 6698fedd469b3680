package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/calls"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/credit"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/placement"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/pricing"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/queue"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/slots"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/pkg/utils"
)

// The reconciler is the authoritative consumer of provider lifecycle
// events. Webhooks may arrive duplicated, reordered or late; everything
// here is a guarded, idempotent transition, so replaying an event
// stream always converges on the same state.

var ErrUnknownExecution = errors.New("reconcile: unknown execution reference")

// Outcome reports what one event application actually changed.
type Outcome struct {
	// Applied is false for duplicates and out-of-order events.
	Applied bool

	// Terminal means the call reached completed/failed with this event.
	Terminal bool

	// Released means this event performed the slot release (first and
	// only; retried webhooks find the release recorded and skip it).
	Released bool

	UserID string
	CallID string
}

// Store applies one lifecycle event transactionally. Implemented by
// SQLStore; faked in tests.
type Store interface {
	Resolve(ctx context.Context, ev placement.Event, actualCost int64, now time.Time) (Outcome, error)
}

// Reconciler orchestrates event application and the post-commit
// side effects (fast-gate release, dispatcher wake).
type Reconciler struct {
	store Store
	gate  *slots.Gate
	est   pricing.Estimator
	wake  func(ctx context.Context)

	log   *slog.Logger
	clock func() time.Time
}

func New(store Store, gate *slots.Gate, est pricing.Estimator, wake func(ctx context.Context), log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		store: store,
		gate:  gate,
		est:   est,
		wake:  wake,
		log:   log,
		clock: time.Now,
	}
}

// Apply processes one provider event end to end.
func (r *Reconciler) Apply(ctx context.Context, ev placement.Event) (Outcome, error) {
	now := r.clock().UTC()

	actualCost := int64(0)
	if ev.Status == calls.StatusCompleted {
		cost, err := r.est.ActualCost(ev.DurationSeconds)
		if err != nil {
			return Outcome{}, err
		}
		actualCost = cost
	}

	out, err := r.store.Resolve(ctx, ev, actualCost, now)
	if err != nil {
		return Outcome{}, err
	}

	if !out.Applied {
		r.log.Debug("event ignored",
			"execution_ref", ev.ExecutionRef,
			"status", string(ev.Status),
		)
		return out, nil
	}

	r.log.Info("call event applied",
		"execution_ref", ev.ExecutionRef,
		"call_id", out.CallID,
		"status", string(ev.Status),
		"terminal", out.Terminal,
	)

	if out.Released {
		r.gate.Release(ctx, out.UserID)
		if r.wake != nil {
			r.wake(ctx)
		}
	}
	return out, nil
}

// SQLStore reconciles events against Postgres.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Resolve advances the call row and, on a terminal event, terminalizes
// the queue entry, releases the slot and settles or refunds the credit
// reservation, all in one transaction.
//
// If the watchdog already reclaimed the entry (crashed dispatcher, late
// webhook), only the call row is advanced: the attempt's slot and
// credit were resolved by the watchdog and must not move twice.
func (s *SQLStore) Resolve(ctx context.Context, ev placement.Event, actualCost int64, now time.Time) (Outcome, error) {
	var out Outcome
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		call, err := calls.GetByExecutionRefTx(ctx, tx, ev.ExecutionRef)
		if errors.Is(err, calls.ErrNotFound) {
			return ErrUnknownExecution
		}
		if err != nil {
			return err
		}
		out.UserID = call.UserID
		out.CallID = call.ID

		if !call.Status.Advances(ev.Status) {
			// Duplicate or out-of-order: the row already reflects a
			// state at or past this event.
			return nil
		}

		var reason *string
		if ev.Status == calls.StatusFailed && ev.Reason != "" {
			msg := ev.Reason
			reason = &msg
		}

		var startedAt, endedAt *time.Time
		occurred := ev.OccurredAt
		switch ev.Status {
		case calls.StatusInProgress:
			startedAt = &occurred
		case calls.StatusCompleted, calls.StatusFailed:
			endedAt = &occurred
		}

		if err := calls.AdvanceStatusTx(ctx, tx, call.ID, call.Status, ev.Status,
			reason, startedAt, endedAt, ev.DurationSeconds, now); err != nil {
			return err
		}
		out.Applied = true

		if !ev.Status.IsTerminal() {
			return nil
		}
		out.Terminal = true

		entry, err := queue.GetByCallIDTx(ctx, tx, call.ID)
		if errors.Is(err, queue.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.Status != queue.StatusCalling {
			// Watchdog got here first; the call row now carries the
			// provider truth, the entry keeps the watchdog's verdict.
			return nil
		}

		if ev.Status == calls.StatusCompleted {
			if err := queue.CompleteTx(ctx, tx, entry.ID, now); err != nil {
				return err
			}
		} else {
			if err := queue.FailTx(ctx, tx, entry.ID, ev.Reason, now); err != nil {
				return err
			}
		}

		first, err := slots.ReleaseTx(ctx, tx, entry.UserID, ev.ExecutionRef, now)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
		out.Released = true

		reserveKey := slots.ReserveKey(entry.ID, entry.AttemptCount)
		if ev.Status == calls.StatusCompleted {
			return credit.SettleTx(ctx, tx, entry.UserID,
				reserveKey, "settle:"+ev.ExecutionRef, ev.ExecutionRef, actualCost, now)
		}
		return credit.RefundTx(ctx, tx, entry.UserID,
			reserveKey, "refund:"+ev.ExecutionRef, ev.ExecutionRef, now)
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}
