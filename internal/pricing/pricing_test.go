package pricing

import "testing"

func TestBillableMinutes(t *testing.T) {
	if got := billableMinutes(1); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := billableMinutes(60); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := billableMinutes(61); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := billableMinutes(0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestActualCost(t *testing.T) {
	e := NewEstimator(2, 5)

	if got, err := e.ActualCost(0); err != nil || got != 0 {
		t.Fatalf("unconnected call: got %d, %v", got, err)
	}
	if got, err := e.ActualCost(90); err != nil || got != 4 {
		t.Fatalf("90s at rate 2: got %d, %v", got, err)
	}
	if _, err := e.ActualCost(-1); err != ErrInvalidDuration {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestReserveCost(t *testing.T) {
	if got := NewEstimator(2, 5).ReserveCost(); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
	// Defaults kick in for non-positive inputs.
	if got := NewEstimator(0, 0).ReserveCost(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}
