package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/agents"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/config"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/placement"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/pricing"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/queue"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/slots"
)

type claimResult struct {
	entry   queue.Entry
	reason  slots.Reason
	claimed bool
}

type retryRecord struct {
	entryID string
	retryAt time.Time
	reason  string
}

type fakeStore struct {
	mu     sync.Mutex
	claims map[string][]claimResult

	claimCalls []string
	placed     []string
	retries    []retryRecord
	failures   []string
}

func (f *fakeStore) ClaimAndReserve(ctx context.Context, userID string, estimatedCost int64, now time.Time) (queue.Entry, slots.Reason, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls = append(f.claimCalls, userID)
	pending := f.claims[userID]
	if len(pending) == 0 {
		return queue.Entry{}, "", false, nil
	}
	next := pending[0]
	f.claims[userID] = pending[1:]
	return next.entry, next.reason, next.claimed, nil
}

func (f *fakeStore) RecordPlaced(ctx context.Context, e queue.Entry, executionRef string, now time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, e.ID)
	return "call-" + e.ID, nil
}

func (f *fakeStore) RecordRetry(ctx context.Context, e queue.Entry, retryAt time.Time, reason string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, retryRecord{entryID: e.ID, retryAt: retryAt, reason: reason})
	return nil
}

func (f *fakeStore) RecordFailure(ctx context.Context, e queue.Entry, reason string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, e.ID)
	return nil
}

func (f *fakeStore) UserLimit(ctx context.Context, userID string) (int, error) {
	return 3, nil
}

type fakeWork struct {
	users []string
}

func (f *fakeWork) UsersWithEligibleWork(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return f.users, nil
}

type fakeAgents struct{}

func (fakeAgents) Get(ctx context.Context, userID, agentID string) (agents.Agent, error) {
	return agents.Agent{
		ID:              agentID,
		UserID:          userID,
		ProviderAgentID: "prov-" + agentID,
		FromNumber:      "+15550000000",
	}, nil
}

type fakeProvider struct {
	mu   sync.Mutex
	errs map[string]error
	refs []string
}

func (*fakeProvider) Name() string                          { return "fake" }
func (*fakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeProvider) Place(ctx context.Context, req placement.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[req.EntryID]; ok {
		return "", err
	}
	ref := "exec-" + req.EntryID
	f.refs = append(f.refs, ref)
	return ref, nil
}

func testSchedCfg() config.SchedulerConfig {
	return config.SchedulerConfig{
		DispatchInterval:            time.Second,
		MaxAttempts:                 3,
		RetryBackoffBase:            30 * time.Second,
		RetryBackoffCap:             15 * time.Minute,
		CreditCooldown:              5 * time.Minute,
		SystemConcurrencyLimit:      50,
		DefaultUserConcurrencyLimit: 3,
	}
}

func testEntry(id, userID string, attempts int) queue.Entry {
	return queue.Entry{
		ID:           id,
		UserID:       userID,
		AgentID:      "agent-1",
		PhoneNumber:  "+15551234567",
		Kind:         queue.KindDirect,
		Status:       queue.StatusProcessing,
		AttemptCount: attempts,
	}
}

func newTestDispatcher(store *fakeStore, work *fakeWork, provider *fakeProvider, now time.Time) *Dispatcher {
	d := New(store, work, fakeAgents{}, provider, nil, pricing.NewEstimator(1, 5), nil, testSchedCfg(), slog.Default())
	d.clock = func() time.Time { return now }
	return d
}

func TestCycle_PlacesEligibleWork(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{claims: map[string][]claimResult{
		"u1": {{entry: testEntry("e1", "u1", 0), reason: slots.ReasonOK, claimed: true}},
	}}
	provider := &fakeProvider{}
	d := newTestDispatcher(store, &fakeWork{users: []string{"u1"}}, provider, now)

	if err := d.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(store.placed) != 1 || store.placed[0] != "e1" {
		t.Fatalf("expected e1 placed, got %v", store.placed)
	}
	if len(provider.refs) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(provider.refs))
	}
}

func TestCycle_UserLimitMovesToNextUser(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{claims: map[string][]claimResult{
		"u1": {
			{entry: testEntry("e1", "u1", 0), reason: slots.ReasonOK, claimed: true},
			{entry: testEntry("e2", "u1", 0), reason: slots.ReasonUserLimitExceeded},
		},
		"u2": {{entry: testEntry("e3", "u2", 0), reason: slots.ReasonOK, claimed: true}},
	}}
	d := newTestDispatcher(store, &fakeWork{users: []string{"u1", "u2"}}, &fakeProvider{}, now)

	if err := d.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(store.placed) != 2 || store.placed[0] != "e1" || store.placed[1] != "e3" {
		t.Fatalf("expected e1 then e3 placed, got %v", store.placed)
	}
}

func TestCycle_SystemLimitStopsCycle(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{claims: map[string][]claimResult{
		"u1": {{entry: testEntry("e1", "u1", 0), reason: slots.ReasonSystemLimitExceed}},
		"u2": {{entry: testEntry("e2", "u2", 0), reason: slots.ReasonOK, claimed: true}},
	}}
	d := newTestDispatcher(store, &fakeWork{users: []string{"u1", "u2"}}, &fakeProvider{}, now)

	if err := d.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(store.placed) != 0 {
		t.Fatalf("expected no placements after system denial, got %v", store.placed)
	}
	for _, u := range store.claimCalls {
		if u == "u2" {
			t.Fatalf("u2 must not be tried after a system-level denial")
		}
	}
}

func TestCycle_InsufficientCreditStartsCooldown(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{claims: map[string][]claimResult{
		"u1": {
			{entry: testEntry("e1", "u1", 0), reason: slots.ReasonInsufficientCredit},
			{entry: testEntry("e1", "u1", 0), reason: slots.ReasonOK, claimed: true},
		},
	}}
	d := newTestDispatcher(store, &fakeWork{users: []string{"u1"}}, &fakeProvider{}, now)

	if err := d.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	// Within cooldown: user skipped entirely.
	if err := d.Cycle(context.Background()); err != nil {
		t.Fatalf("second Cycle: %v", err)
	}
	if len(store.claimCalls) != 1 {
		t.Fatalf("expected 1 claim (user in cooldown), got %d", len(store.claimCalls))
	}

	// After cooldown (e.g. top-up cleared it) the user dispatches again.
	d.ClearCooldown("u1")
	if err := d.Cycle(context.Background()); err != nil {
		t.Fatalf("third Cycle: %v", err)
	}
	if len(store.placed) != 1 {
		t.Fatalf("expected placement after cooldown cleared, got %v", store.placed)
	}
}

func TestPlace_RetryableFailureRequeuesWithBackoff(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{claims: map[string][]claimResult{
		"u1": {{entry: testEntry("e1", "u1", 0), reason: slots.ReasonOK, claimed: true}},
	}}
	provider := &fakeProvider{errs: map[string]error{
		"e1": &placement.Error{Status: 503, Retryable: true, Msg: "upstream busy"},
	}}
	d := newTestDispatcher(store, &fakeWork{users: []string{"u1"}}, provider, now)

	if err := d.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(store.retries) != 1 {
		t.Fatalf("expected 1 retry, got %+v", store.retries)
	}
	wantAt := now.Add(30 * time.Second)
	if !store.retries[0].retryAt.Equal(wantAt) {
		t.Fatalf("expected retry at %v, got %v", wantAt, store.retries[0].retryAt)
	}
	if len(store.failures) != 0 {
		t.Fatalf("retryable failure must not terminalize")
	}
}

func TestPlace_TerminalFailureFailsEntry(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{claims: map[string][]claimResult{
		"u1": {{entry: testEntry("e1", "u1", 0), reason: slots.ReasonOK, claimed: true}},
	}}
	provider := &fakeProvider{errs: map[string]error{
		"e1": &placement.Error{Status: 422, Retryable: false, Msg: "unknown agent"},
	}}
	d := newTestDispatcher(store, &fakeWork{users: []string{"u1"}}, provider, now)

	if err := d.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(store.failures) != 1 || store.failures[0] != "e1" {
		t.Fatalf("expected e1 failed, got %v", store.failures)
	}
	if len(store.retries) != 0 {
		t.Fatalf("terminal failure must not retry")
	}
}

func TestPlace_ExhaustedAttemptsFailEntry(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	// Attempt 3 of 3: retryable error still terminalizes.
	store := &fakeStore{claims: map[string][]claimResult{
		"u1": {{entry: testEntry("e1", "u1", 2), reason: slots.ReasonOK, claimed: true}},
	}}
	provider := &fakeProvider{errs: map[string]error{
		"e1": &placement.Error{Status: 503, Retryable: true, Msg: "upstream busy"},
	}}
	d := newTestDispatcher(store, &fakeWork{users: []string{"u1"}}, provider, now)

	if err := d.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(store.failures) != 1 {
		t.Fatalf("expected terminal failure after max attempts, got retries=%v failures=%v", store.retries, store.failures)
	}
}
