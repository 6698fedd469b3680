package pricing

import "errors"

// Credit costing for outbound calls. Amounts are whole credits (one
// credit buys one billable minute). Kept as pure calculation so the
// dispatcher and reconciler can share the same rounding rules.
//
// Contract:
// - Reservation is an estimate: rate * estimated minutes, charged up
//   front and settled against the real duration at call end.
// - Billing is per started minute with a one-minute minimum for any
//   connected call; a call that never connected costs nothing.

var ErrInvalidDuration = errors.New("pricing: invalid duration")

type Estimator struct {
	// RatePerMinute is the credit cost of one billable minute.
	RatePerMinute int64

	// EstimatedMinutes sizes the upfront reservation.
	EstimatedMinutes int
}

func NewEstimator(ratePerMinute int64, estimatedMinutes int) Estimator {
	if ratePerMinute <= 0 {
		ratePerMinute = 1
	}
	if estimatedMinutes <= 0 {
		estimatedMinutes = 5
	}
	return Estimator{RatePerMinute: ratePerMinute, EstimatedMinutes: estimatedMinutes}
}

// ReserveCost is the amount of credit held when a call is admitted.
func (e Estimator) ReserveCost() int64 {
	return e.RatePerMinute * int64(e.EstimatedMinutes)
}

// ActualCost is the amount settled once the real duration is known.
// durationSeconds <= 0 means the call never connected and is free.
func (e Estimator) ActualCost(durationSeconds int) (int64, error) {
	if durationSeconds < 0 {
		return 0, ErrInvalidDuration
	}
	if durationSeconds == 0 {
		return 0, nil
	}
	return e.RatePerMinute * int64(billableMinutes(durationSeconds)), nil
}

// billableMinutes rounds a connected call up to whole minutes,
// minimum one.
func billableMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	m := durationSeconds / 60
	if durationSeconds%60 != 0 {
		m++
	}
	if m < 1 {
		m = 1
	}
	return m
}
