package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/audit"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/config"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/queue"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/slots"
)

type StuckSource interface {
	StuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]queue.Entry, error)
}

// Watchdog sweeps entries stranded in `processing` past the timeout: a
// dispatcher that crashed (or lost its DB connection) between claiming
// and recording the outcome. Stranded entries are requeued while
// attempts remain, failed otherwise; either way the slot and credit
// reservation come back.
//
// A placement that actually went out before the crash is treated as
// failed here; the release key is attempt-scoped, so a webhook arriving
// later for that orphaned execution cannot double-release.
type Watchdog struct {
	store Store
	stuck StuckSource
	gate  *slots.Gate
	audit *audit.Service

	cfg   config.SchedulerConfig
	log   *slog.Logger
	clock func() time.Time
	wake  func()
}

func NewWatchdog(store Store, stuck StuckSource, gate *slots.Gate, auditSvc *audit.Service, cfg config.SchedulerConfig, wake func(), log *slog.Logger) *Watchdog {
	if log == nil {
		log = slog.Default()
	}
	return &Watchdog{
		store: store,
		stuck: stuck,
		gate:  gate,
		audit: auditSvc,
		cfg:   cfg,
		log:   log,
		clock: time.Now,
		wake:  wake,
	}
}

func (w *Watchdog) Run(ctx context.Context) {
	w.log.Info("watchdog started",
		"interval", w.cfg.WatchdogInterval.String(),
		"processing_timeout", w.cfg.ProcessingTimeout.String(),
	)

	ticker := time.NewTicker(w.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watchdog stopping")
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.log.Error("watchdog sweep failed", "err", err)
			}
		}
	}
}

// Sweep recovers one batch of stuck entries.
func (w *Watchdog) Sweep(ctx context.Context) error {
	now := w.clock().UTC()
	cutoff := now.Add(-w.cfg.ProcessingTimeout)

	entries, err := w.stuck.StuckProcessing(ctx, cutoff, 100)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	recovered := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.recover(ctx, e, now); err != nil {
			w.log.Error("stuck entry recovery failed", "entry_id", e.ID, "err", err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		w.log.Info("stuck entries recovered", "count", recovered)
		if w.wake != nil {
			w.wake()
		}
	}
	return nil
}

func (w *Watchdog) recover(ctx context.Context, e queue.Entry, now time.Time) error {
	outcome := "requeued"
	if e.AttemptCount+1 < w.cfg.MaxAttempts {
		if err := w.store.RecordRetry(ctx, e, now, "placement attempt timed out", now); err != nil {
			return err
		}
	} else {
		outcome = "failed"
		if err := w.store.RecordFailure(ctx, e, "placement attempt timed out", now); err != nil {
			return err
		}
	}

	w.gate.Release(ctx, e.UserID)

	w.log.Warn("stuck entry recovered",
		"entry_id", e.ID,
		"user_id", e.UserID,
		"attempt", e.AttemptCount+1,
		"outcome", outcome,
	)
	if w.audit != nil {
		if err := w.audit.LogWatchdogRecovered(ctx, e.UserID, e.ID, outcome); err != nil {
			w.log.Warn("audit append failed", "err", err)
		}
	}
	return nil
}
