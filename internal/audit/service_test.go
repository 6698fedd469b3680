package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{UserID: "u"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogAdmissionDenied(context.Background(), "u1", "e1", "user_limit_exceeded"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].Type != EventTypeAdmissionDenied {
		t.Fatalf("expected admission_denied")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp stamped")
	}
	if evs[0].EntryID != "e1" || evs[0].Message != "user_limit_exceeded" {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
}

func TestService_LogCampaignCompleted(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogCampaignCompleted(context.Background(), "u1", "c1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	evs := repo.Events()
	if len(evs) != 1 || evs[0].CampaignID != "c1" {
		t.Fatalf("expected campaign event, got %+v", evs)
	}
}
