package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("credit: not found")
	ErrInsufficientCredit  = errors.New("credit: insufficient credit")
	ErrInvalidArgument     = errors.New("credit: invalid argument")
	ErrReservationNotFound = errors.New("credit: reservation not found")
)

// Service provides credit operations.
//
// The reserve/settle/refund trio is the scheduler's credit contract: the
// slot ledger reserves the estimated call cost inside the same transaction
// as the slot reservation, and the reconciler settles or refunds it when
// the call terminates. Each step is idempotency-keyed so dispatcher
// retries and duplicate webhooks never double-charge.
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

// GetBalance returns the user's projected balance; unknown users read as zero.
func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return getBalance(ctx, s.db, userID)
}

// TopUp adds purchased credits.
func (s *Service) TopUp(ctx context.Context, userID string, amount int64, idempotencyKey string) (Ledger, Balance, error) {
	if userID == "" || idempotencyKey == "" {
		return Ledger{}, Balance{}, ErrInvalidArgument
	}
	if amount <= 0 {
		return Ledger{}, Balance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()

	var outLedger Ledger
	var outBal Balance

	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		bal, err := lockBalance(ctx, tx, userID, now)
		if err != nil {
			return err
		}

		if existing, ok, err := findLedgerByIdempotency(ctx, tx, userID, idempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			outBal = bal
			return nil
		}

		entry := Ledger{
			ID:             uuid.NewString(),
			UserID:         userID,
			Type:           EntryTypeTopUp,
			Amount:         amount,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}
		b, err := applyBalanceDelta(ctx, tx, userID, amount, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outBal = b
		return nil
	})

	return outLedger, outBal, err
}

// ReserveTx holds the estimated cost against the user's balance inside the
// caller's transaction. Returns ErrInsufficientCredit without writing when
// the balance cannot cover the amount. Re-running with the same key is a
// no-op, so a committed reservation is never double-charged.
func ReserveTx(ctx context.Context, tx *sql.Tx, userID string, amount int64, idempotencyKey, externalRef string, now time.Time) error {
	if userID == "" || idempotencyKey == "" || amount <= 0 {
		return ErrInvalidArgument
	}

	bal, err := lockBalance(ctx, tx, userID, now)
	if err != nil {
		return err
	}

	if _, ok, err := findLedgerByIdempotency(ctx, tx, userID, idempotencyKey); err != nil {
		return err
	} else if ok {
		return nil
	}

	if bal.Amount < amount {
		return ErrInsufficientCredit
	}

	entry := Ledger{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           EntryTypeReserve,
		Amount:         -amount,
		IdempotencyKey: idempotencyKey,
		ExternalRef:    externalRef,
		CreatedAt:      now,
	}
	if err := insertLedger(ctx, tx, entry); err != nil {
		return err
	}
	if _, err := applyBalanceDelta(ctx, tx, userID, -amount, now); err != nil {
		return err
	}
	return nil
}

// SettleTx finalizes a reservation once the actual cost is known: the
// unused remainder flows back to the balance; an overage debits further
// (balances may briefly go negative on overage, matching provider truth).
func SettleTx(ctx context.Context, tx *sql.Tx, userID, reserveKey, settleKey, externalRef string, actual int64, now time.Time) error {
	if userID == "" || reserveKey == "" || settleKey == "" || actual < 0 {
		return ErrInvalidArgument
	}
	return closeReservation(ctx, tx, userID, reserveKey, settleKey, externalRef, EntryTypeSettle, actual, now)
}

// RefundTx returns the full reservation after a failed or cancelled call.
func RefundTx(ctx context.Context, tx *sql.Tx, userID, reserveKey, refundKey, externalRef string, now time.Time) error {
	if userID == "" || reserveKey == "" || refundKey == "" {
		return ErrInvalidArgument
	}
	return closeReservation(ctx, tx, userID, reserveKey, refundKey, externalRef, EntryTypeRefund, 0, now)
}

func closeReservation(ctx context.Context, tx *sql.Tx, userID, reserveKey, closeKey, externalRef string, typ EntryType, actual int64, now time.Time) error {
	if _, err := lockBalance(ctx, tx, userID, now); err != nil {
		return err
	}

	reserve, ok, err := findLedgerByIdempotency(ctx, tx, userID, reserveKey)
	if err != nil {
		return err
	}
	if !ok || reserve.Type != EntryTypeReserve {
		return fmt.Errorf("%w: key %s", ErrReservationNotFound, reserveKey)
	}

	if _, ok, err := findLedgerByIdempotency(ctx, tx, userID, closeKey); err != nil {
		return err
	} else if ok {
		return nil
	}

	reserved := -reserve.Amount // reserve entries are negative
	delta := reserved - actual

	entry := Ledger{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           typ,
		Amount:         delta,
		IdempotencyKey: closeKey,
		ExternalRef:    externalRef,
		CreatedAt:      now,
	}
	if err := insertLedger(ctx, tx, entry); err != nil {
		return err
	}
	if _, err := applyBalanceDelta(ctx, tx, userID, delta, now); err != nil {
		return err
	}
	return nil
}
