package placement

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/calls"
)

func testRequest() Request {
	return Request{
		EntryID:         "entry-1",
		UserID:          "user-1",
		ProviderAgentID: "agent-xyz",
		To:              "+15551234567",
		From:            "+15557654321",
	}
}

func TestPlace_ReturnsExecutionRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/call" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"execution_id":"exec-123","status":"queued"}`))
	}))
	defer srv.Close()

	p := NewBolnaProvider(srv.URL, "key-1", time.Second)
	ref, err := p.Place(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ref != "exec-123" {
		t.Fatalf("expected exec-123, got %q", ref)
	}
}

func TestPlace_ClientErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown agent", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p := NewBolnaProvider(srv.URL, "key-1", time.Second)
	_, err := p.Place(context.Background(), testRequest())
	if err == nil {
		t.Fatalf("expected error")
	}
	if Retryable(err) {
		t.Fatalf("4xx must be terminal, got retryable: %v", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected classified error, got %v", err)
	}
}

func TestPlace_ServerErrorAndRateLimitAreRetryable(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusTooManyRequests} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "busy", status)
		}))
		p := NewBolnaProvider(srv.URL, "key-1", time.Second)
		_, err := p.Place(context.Background(), testRequest())
		srv.Close()
		if err == nil || !Retryable(err) {
			t.Fatalf("status %d must be retryable, got %v", status, err)
		}
	}
}

func TestPlace_TimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewBolnaProvider(srv.URL, "key-1", 20*time.Millisecond)
	_, err := p.Place(context.Background(), testRequest())
	if err == nil || !Retryable(err) {
		t.Fatalf("timeout must be retryable, got %v", err)
	}
}

func TestPlace_MissingAgentIsTerminal(t *testing.T) {
	p := NewBolnaProvider("http://localhost:0", "key-1", time.Second)
	req := testRequest()
	req.ProviderAgentID = ""
	_, err := p.Place(context.Background(), req)
	if err == nil || Retryable(err) {
		t.Fatalf("invalid request must be terminal, got %v", err)
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"execution_id":"exec-1","status":"completed"}`)
	sig := Sign("secret", body)

	if !ValidSignature("secret", body, sig) {
		t.Fatalf("expected valid signature")
	}
	if ValidSignature("secret", body, "deadbeef") {
		t.Fatalf("expected mismatch to fail")
	}
	if ValidSignature("other", body, sig) {
		t.Fatalf("expected wrong secret to fail")
	}
	if ValidSignature("", body, sig) {
		t.Fatalf("empty secret must never validate")
	}
}

func TestParseEvent(t *testing.T) {
	received := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	ev, err := ParseEvent([]byte(`{"execution_id":"exec-1","status":"completed","conversation_duration":93,"timestamp":"2026-01-15T11:59:30Z"}`), received)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.ExecutionRef != "exec-1" || ev.Status != calls.StatusCompleted || ev.DurationSeconds != 93 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.OccurredAt.Equal(time.Date(2026, 1, 15, 11, 59, 30, 0, time.UTC)) {
		t.Fatalf("expected payload timestamp, got %v", ev.OccurredAt)
	}

	if _, err := ParseEvent([]byte(`{"status":"completed"}`), received); err != ErrMissingRef {
		t.Fatalf("expected ErrMissingRef, got %v", err)
	}
	if _, err := ParseEvent([]byte(`{"execution_id":"x","status":"transmogrified"}`), received); err != ErrUnknownStatus {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestMapStatus(t *testing.T) {
	cases := map[string]calls.Status{
		"queued":      calls.StatusInitiated,
		"ringing":     calls.StatusRinging,
		"in-progress": calls.StatusInProgress,
		"answered":    calls.StatusInProgress,
		"completed":   calls.StatusCompleted,
		"busy":        calls.StatusFailed,
		"no-answer":   calls.StatusFailed,
	}
	for in, want := range cases {
		got, ok := mapStatus(in)
		if !ok || got != want {
			t.Fatalf("mapStatus(%q) = %v,%v; want %v", in, got, ok, want)
		}
	}
	if _, ok := mapStatus("bogus"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}
