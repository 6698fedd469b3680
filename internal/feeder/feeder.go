package feeder

import (
	"context"
	"log/slog"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/audit"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/campaign"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/contacts"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/queue"
)

// Feeder promotes campaign contacts into the call queue.
//
// Each cycle it re-reads campaign status (so a pause stops enqueues
// immediately), checks the admission window, and enqueues the next
// uncalled contacts up to the campaign's pacing limit. The queue's
// (campaign_id, contact_id) uniqueness constraint makes duplicate
// promotion impossible, so a crashed or concurrent cycle is harmless.

type CampaignStore interface {
	ListActive(ctx context.Context) ([]campaign.Campaign, error)
	AllocateSequences(ctx context.Context, campaignID string, n int) (int64, error)
	MarkCompleted(ctx context.Context, campaignID string) error
}

type ContactSource interface {
	NextUncalled(ctx context.Context, campaignID string, limit int) ([]contacts.Contact, error)
	RemainingCount(ctx context.Context, campaignID string) (int, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, e queue.Entry) (queue.Entry, bool, error)
	OutstandingForCampaign(ctx context.Context, campaignID string) (int, error)
}

type Feeder struct {
	campaigns CampaignStore
	contacts  ContactSource
	queue     Enqueuer

	// Audit, when set, records campaign completions. Best-effort.
	Audit *audit.Service

	interval time.Duration
	log      *slog.Logger
	clock    func() time.Time
}

func New(campaigns CampaignStore, contactSrc ContactSource, q Enqueuer, interval time.Duration, log *slog.Logger) *Feeder {
	if log == nil {
		log = slog.Default()
	}
	return &Feeder{
		campaigns: campaigns,
		contacts:  contactSrc,
		queue:     q,
		interval:  interval,
		log:       log,
		clock:     time.Now,
	}
}

// Run feeds on a fixed interval until ctx is cancelled.
func (f *Feeder) Run(ctx context.Context) {
	f.log.Info("feeder started", "interval", f.interval.String())

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			f.log.Info("feeder stopping")
			return
		case <-ticker.C:
			f.tick(ctx)
		}
	}
}

func (f *Feeder) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("feeder tick panic recovered", "panic", r)
		}
	}()
	if err := f.FeedOnce(ctx); err != nil {
		f.log.Error("feeder cycle failed", "err", err)
	}
}

// FeedOnce runs a single feed cycle over all active campaigns.
func (f *Feeder) FeedOnce(ctx context.Context) error {
	now := f.clock().UTC()

	active, err := f.campaigns.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, c := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.feedCampaign(ctx, c, now); err != nil {
			// One broken campaign must not stall the rest.
			f.log.Error("campaign feed failed", "campaign_id", c.ID, "err", err)
		}
	}
	return nil
}

func (f *Feeder) feedCampaign(ctx context.Context, c campaign.Campaign, now time.Time) error {
	open, err := c.WindowOpenNow(now)
	if err != nil {
		return err
	}
	if !open {
		return f.maybeComplete(ctx, c)
	}

	pacing := c.PacingLimit
	if pacing <= 0 {
		pacing = 10
	}

	batch, err := f.contacts.NextUncalled(ctx, c.ID, pacing)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return f.maybeComplete(ctx, c)
	}

	startSeq, err := f.campaigns.AllocateSequences(ctx, c.ID, len(batch))
	if err != nil {
		return err
	}

	enqueued := 0
	for i, ct := range batch {
		campaignID := c.ID
		contactID := ct.ID
		_, inserted, err := f.queue.Enqueue(ctx, queue.Entry{
			UserID:      c.UserID,
			CampaignID:  &campaignID,
			ContactID:   &contactID,
			AgentID:     c.AgentID,
			PhoneNumber: ct.PhoneNumber,
			Kind:        queue.KindCampaign,
			Priority:    0,
			Sequence:    startSeq + int64(i),
		})
		if err != nil {
			return err
		}
		if inserted {
			enqueued++
		}
	}

	if enqueued > 0 {
		f.log.Info("campaign contacts enqueued",
			"campaign_id", c.ID,
			"user_id", c.UserID,
			"count", enqueued,
		)
	}
	return nil
}

// maybeComplete transitions an exhausted campaign to completed: no
// uncalled contacts remain and no queue entries are outstanding.
func (f *Feeder) maybeComplete(ctx context.Context, c campaign.Campaign) error {
	remaining, err := f.contacts.RemainingCount(ctx, c.ID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	outstanding, err := f.queue.OutstandingForCampaign(ctx, c.ID)
	if err != nil {
		return err
	}
	if outstanding > 0 {
		return nil
	}
	if err := f.campaigns.MarkCompleted(ctx, c.ID); err != nil {
		return err
	}
	f.log.Info("campaign completed", "campaign_id", c.ID, "user_id", c.UserID)
	if f.Audit != nil {
		if err := f.Audit.LogCampaignCompleted(ctx, c.UserID, c.ID); err != nil {
			f.log.Warn("audit append failed", "err", err)
		}
	}
	return nil
}
