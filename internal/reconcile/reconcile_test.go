package reconcile

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/calls"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/placement"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/pricing"
)

type resolveCall struct {
	ev         placement.Event
	actualCost int64
}

type fakeResolver struct {
	calls []resolveCall
	out   Outcome
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, ev placement.Event, actualCost int64, now time.Time) (Outcome, error) {
	f.calls = append(f.calls, resolveCall{ev: ev, actualCost: actualCost})
	return f.out, f.err
}

func newTestReconciler(store Store, wake func(ctx context.Context)) *Reconciler {
	r := New(store, nil, pricing.NewEstimator(2, 5), wake, slog.Default())
	r.clock = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestApply_CompletedSettlesActualCost(t *testing.T) {
	store := &fakeResolver{out: Outcome{Applied: true, Terminal: true, Released: true, UserID: "u1", CallID: "c1"}}
	woken := false
	r := newTestReconciler(store, func(ctx context.Context) { woken = true })

	ev := placement.Event{
		ExecutionRef:    "exec-1",
		Status:          calls.StatusCompleted,
		DurationSeconds: 90, // 2 billable minutes at rate 2 = 4 credits
	}
	out, err := r.Apply(context.Background(), ev)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.Released {
		t.Fatalf("expected release, got %+v", out)
	}
	if len(store.calls) != 1 || store.calls[0].actualCost != 4 {
		t.Fatalf("expected actual cost 4 passed to store, got %+v", store.calls)
	}
	if !woken {
		t.Fatalf("expected dispatcher woken after slot release")
	}
}

func TestApply_FailedCostsNothing(t *testing.T) {
	store := &fakeResolver{out: Outcome{Applied: true, Terminal: true, Released: true, UserID: "u1"}}
	r := newTestReconciler(store, nil)

	ev := placement.Event{ExecutionRef: "exec-1", Status: calls.StatusFailed, Reason: "no-answer"}
	if _, err := r.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if store.calls[0].actualCost != 0 {
		t.Fatalf("failed call must not settle a cost, got %d", store.calls[0].actualCost)
	}
}

func TestApply_DuplicateEventDoesNotWake(t *testing.T) {
	store := &fakeResolver{out: Outcome{Applied: false, UserID: "u1"}}
	woken := false
	r := newTestReconciler(store, func(ctx context.Context) { woken = true })

	ev := placement.Event{ExecutionRef: "exec-1", Status: calls.StatusRinging}
	out, err := r.Apply(context.Background(), ev)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Applied || woken {
		t.Fatalf("duplicate event must be a silent no-op")
	}
}

func TestApply_TerminalWithoutReleaseDoesNotWake(t *testing.T) {
	// A webhook retry: the entry is already terminal and the release
	// was recorded by the first delivery.
	store := &fakeResolver{out: Outcome{Applied: true, Terminal: true, Released: false, UserID: "u1"}}
	woken := false
	r := newTestReconciler(store, func(ctx context.Context) { woken = true })

	ev := placement.Event{ExecutionRef: "exec-1", Status: calls.StatusCompleted, DurationSeconds: 30}
	if _, err := r.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if woken {
		t.Fatalf("already-released event must not wake the dispatcher")
	}
}

func TestApply_RejectsNegativeDuration(t *testing.T) {
	store := &fakeResolver{}
	r := newTestReconciler(store, nil)

	ev := placement.Event{ExecutionRef: "exec-1", Status: calls.StatusCompleted, DurationSeconds: -5}
	if _, err := r.Apply(context.Background(), ev); err == nil {
		t.Fatalf("expected error for negative duration")
	}
	if len(store.calls) != 0 {
		t.Fatalf("invalid event must not reach the store")
	}
}
