package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/agents"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/audit"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/config"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/placement"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/pricing"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/queue"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/slots"
)

// Store is the transactional surface the dispatcher drives. Implemented
// by SQLStore; faked in tests.
type Store interface {
	ClaimAndReserve(ctx context.Context, userID string, estimatedCost int64, now time.Time) (queue.Entry, slots.Reason, bool, error)
	RecordPlaced(ctx context.Context, e queue.Entry, executionRef string, now time.Time) (string, error)
	RecordRetry(ctx context.Context, e queue.Entry, retryAt time.Time, reason string, now time.Time) error
	RecordFailure(ctx context.Context, e queue.Entry, reason string, now time.Time) error
	UserLimit(ctx context.Context, userID string) (int, error)
}

type WorkSource interface {
	UsersWithEligibleWork(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type AgentSource interface {
	Get(ctx context.Context, userID, agentID string) (agents.Agent, error)
}

// Dispatcher is the single consumer of the call queue. It cycles on a
// fixed interval and additionally on wake signals (slot released, new
// work enqueued), claiming entries user by user in fairness order.
//
// Capacity truth lives in Postgres; the optional Redis gate only
// short-circuits claims that would be denied anyway.
type Dispatcher struct {
	store    Store
	work     WorkSource
	agents   AgentSource
	provider placement.Provider
	gate     *slots.Gate
	est      pricing.Estimator
	audit    *audit.Service

	cfg   config.SchedulerConfig
	log   *slog.Logger
	clock func() time.Time

	wake chan struct{}

	mu       sync.Mutex
	cooldown map[string]time.Time
}

func New(store Store, work WorkSource, agentSrc AgentSource, provider placement.Provider, gate *slots.Gate, est pricing.Estimator, auditSvc *audit.Service, cfg config.SchedulerConfig, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:    store,
		work:     work,
		agents:   agentSrc,
		provider: provider,
		gate:     gate,
		est:      est,
		audit:    auditSvc,
		cfg:      cfg,
		log:      log,
		clock:    time.Now,
		wake:     make(chan struct{}, 1),
		cooldown: make(map[string]time.Time),
	}
}

// Wake schedules an immediate cycle. Safe from any goroutine; signals
// coalesce.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run cycles until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("dispatcher started", "interval", d.cfg.DispatchInterval.String())

	ticker := time.NewTicker(d.cfg.DispatchInterval)
	defer ticker.Stop()

	d.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.cycle(ctx)
		case <-d.wake:
			d.cycle(ctx)
		}
	}
}

func (d *Dispatcher) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch cycle panic recovered", "panic", r)
		}
	}()
	if err := d.Cycle(ctx); err != nil && ctx.Err() == nil {
		d.log.Error("dispatch cycle failed", "err", err)
	}
}

// Cycle runs one full dispatch pass: users in fairness order, each
// drained until a denial or their backlog is empty. A system-level
// denial ends the pass, everyone else would be denied too.
func (d *Dispatcher) Cycle(ctx context.Context) error {
	now := d.clock().UTC()

	users, err := d.work.UsersWithEligibleWork(ctx, now, 100)
	if err != nil {
		return err
	}

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.inCooldown(userID, now) {
			continue
		}
		systemFull, err := d.dispatchUser(ctx, userID, now)
		if err != nil {
			d.log.Error("user dispatch failed", "user_id", userID, "err", err)
			continue
		}
		if systemFull {
			return nil
		}
	}
	return nil
}

// dispatchUser claims and places entries for one user until denied or
// out of work. Reports systemFull so the cycle can stop early.
func (d *Dispatcher) dispatchUser(ctx context.Context, userID string, now time.Time) (bool, error) {
	userLimit, err := d.store.UserLimit(ctx, userID)
	if err != nil {
		return false, err
	}

	for {
		granted, err := d.gate.Acquire(ctx, userID, userLimit, d.cfg.SystemConcurrencyLimit)
		if err != nil {
			// Redis down: fall through to the durable ledger.
			d.log.Warn("slot gate unavailable", "err", err)
			granted = true
		}
		if !granted {
			return false, nil
		}

		entry, reason, claimed, err := d.store.ClaimAndReserve(ctx, userID, d.est.ReserveCost(), now)
		if err != nil {
			d.gate.Release(ctx, userID)
			return false, err
		}
		if !claimed && reason == "" {
			d.gate.Release(ctx, userID)
			return false, nil
		}

		switch reason {
		case slots.ReasonOK:
			d.place(ctx, entry, now)
		case slots.ReasonUserLimitExceeded:
			d.gate.Release(ctx, userID)
			return false, nil
		case slots.ReasonSystemLimitExceed:
			d.gate.Release(ctx, userID)
			return true, nil
		case slots.ReasonInsufficientCredit:
			d.gate.Release(ctx, userID)
			d.startCooldown(userID, now)
			d.logDenial(ctx, entry, reason)
			return false, nil
		default:
			d.gate.Release(ctx, userID)
			return false, nil
		}
	}
}

// place runs the provider call for a claimed entry and records the
// outcome. The gate slot stays held on success (the call is in flight)
// and is returned on any failure path.
func (d *Dispatcher) place(ctx context.Context, e queue.Entry, now time.Time) {
	agent, err := d.agents.Get(ctx, e.UserID, e.AgentID)
	if err != nil {
		d.log.Error("agent lookup failed", "entry_id", e.ID, "agent_id", e.AgentID, "err", err)
		d.finishAttempt(ctx, e, "agent not available", false, now)
		return
	}

	ref, err := d.provider.Place(ctx, placement.Request{
		EntryID:         e.ID,
		UserID:          e.UserID,
		ProviderAgentID: agent.ProviderAgentID,
		To:              e.PhoneNumber,
		From:            agent.FromNumber,
	})
	if err != nil {
		d.log.Warn("placement failed",
			"entry_id", e.ID,
			"attempt", e.AttemptCount+1,
			"retryable", placement.Retryable(err),
			"err", err,
		)
		d.finishAttempt(ctx, e, err.Error(), placement.Retryable(err), now)
		return
	}

	callID, err := d.store.RecordPlaced(ctx, e, ref, now)
	if err != nil {
		// The call is live but unrecorded; the watchdog reclaims the
		// entry once it exceeds the processing timeout.
		d.log.Error("placed call not recorded", "entry_id", e.ID, "execution_ref", ref, "err", err)
		d.gate.Release(ctx, e.UserID)
		return
	}
	d.log.Info("call placed", "entry_id", e.ID, "call_id", callID, "execution_ref", ref, "user_id", e.UserID)
}

// finishAttempt requeues or terminalizes a failed attempt and returns
// the gate slot.
func (d *Dispatcher) finishAttempt(ctx context.Context, e queue.Entry, reason string, retryable bool, now time.Time) {
	defer d.gate.Release(ctx, e.UserID)

	if retryable && e.AttemptCount+1 < d.cfg.MaxAttempts {
		retryAt := now.Add(Backoff(d.cfg.RetryBackoffBase, d.cfg.RetryBackoffCap, e.AttemptCount+1))
		if err := d.store.RecordRetry(ctx, e, retryAt, reason, now); err != nil {
			d.log.Error("retry record failed", "entry_id", e.ID, "err", err)
		}
		return
	}
	if err := d.store.RecordFailure(ctx, e, reason, now); err != nil {
		d.log.Error("failure record failed", "entry_id", e.ID, "err", err)
	}
}

func (d *Dispatcher) inCooldown(userID string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.cooldown[userID]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(d.cooldown, userID)
	return false
}

func (d *Dispatcher) startCooldown(userID string, now time.Time) {
	if d.cfg.CreditCooldown <= 0 {
		return
	}
	d.mu.Lock()
	d.cooldown[userID] = now.Add(d.cfg.CreditCooldown)
	d.mu.Unlock()
	d.log.Info("user in credit cooldown", "user_id", userID, "until", now.Add(d.cfg.CreditCooldown))
}

// ClearCooldown lifts the credit cooldown, e.g. after a top-up.
func (d *Dispatcher) ClearCooldown(userID string) {
	d.mu.Lock()
	delete(d.cooldown, userID)
	d.mu.Unlock()
}

func (d *Dispatcher) logDenial(ctx context.Context, e queue.Entry, reason slots.Reason) {
	if d.audit == nil {
		return
	}
	if err := d.audit.LogAdmissionDenied(ctx, e.UserID, e.ID, string(reason)); err != nil {
		d.log.Warn("audit append failed", "err", err)
	}
}
