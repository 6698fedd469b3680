package dispatch

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/audit"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/queue"
)

type fakeStuck struct {
	entries []queue.Entry
}

func (f *fakeStuck) StuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]queue.Entry, error) {
	return f.entries, nil
}

func TestSweep_RequeuesAndFailsByAttempts(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{claims: map[string][]claimResult{}}
	stuck := &fakeStuck{entries: []queue.Entry{
		testEntry("fresh", "u1", 0), // first attempt: requeue
		testEntry("spent", "u2", 2), // attempts exhausted: fail
	}}
	repo := audit.NewMemoryRepo()

	woken := false
	w := NewWatchdog(store, stuck, nil, audit.NewService(repo), testSchedCfg(), func() { woken = true }, slog.Default())
	w.clock = func() time.Time { return now }

	if err := w.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(store.retries) != 1 || store.retries[0].entryID != "fresh" {
		t.Fatalf("expected fresh requeued, got %+v", store.retries)
	}
	if len(store.failures) != 1 || store.failures[0] != "spent" {
		t.Fatalf("expected spent failed, got %v", store.failures)
	}
	if !woken {
		t.Fatalf("expected dispatcher woken after recovery")
	}
	if evs := repo.Events(); len(evs) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(evs))
	}
}

func TestSweep_NoStuckEntriesIsQuiet(t *testing.T) {
	store := &fakeStore{claims: map[string][]claimResult{}}
	woken := false
	w := NewWatchdog(store, &fakeStuck{}, nil, nil, testSchedCfg(), func() { woken = true }, slog.Default())

	if err := w.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if woken {
		t.Fatalf("no recovery must not wake the dispatcher")
	}
}
