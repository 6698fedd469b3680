package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAdmissionDenied records a dispatch admission denial (slot limit or
// insufficient credit). Reason goes in Message verbatim.
func (s *Service) LogAdmissionDenied(ctx context.Context, userID, entryID, reason string) error {
	return s.Append(ctx, Event{
		Type:    EventTypeAdmissionDenied,
		UserID:  userID,
		EntryID: entryID,
		Message: reason,
	})
}

// LogWatchdogRecovered records a stuck entry reclaimed by the watchdog.
func (s *Service) LogWatchdogRecovered(ctx context.Context, userID, entryID, outcome string) error {
	return s.Append(ctx, Event{
		Type:    EventTypeWatchdogRecovered,
		UserID:  userID,
		EntryID: entryID,
		Message: outcome,
	})
}

// LogCampaignCompleted records a campaign auto-completed by the feeder.
func (s *Service) LogCampaignCompleted(ctx context.Context, userID, campaignID string) error {
	return s.Append(ctx, Event{
		Type:       EventTypeCampaignCompleted,
		UserID:     userID,
		CampaignID: campaignID,
		Message:    "contact list exhausted",
	})
}

// LogAdminAction records an admin action (including hidden roles).
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, ip, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeAdminAction,
		UserID:    actorUserID,
		ActorRole: actorRole,
		IPAddress: ip,
		Message:   message,
		Metadata:  metadata,
	})
}
