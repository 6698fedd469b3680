package placement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/calls"
)

// Bolna status callbacks arrive as JSON POSTs signed with
// HMAC-SHA256 over the raw body, hex-encoded in X-Webhook-Signature.

var (
	ErrBadSignature  = errors.New("placement: webhook signature mismatch")
	ErrUnknownStatus = errors.New("placement: unknown provider status")
	ErrMissingRef    = errors.New("placement: webhook missing execution reference")
)

// Event is the normalized lifecycle update handed to the reconciler.
type Event struct {
	ExecutionRef    string
	Status          calls.Status
	DurationSeconds int
	Reason          string
	OccurredAt      time.Time
}

type bolnaWebhookPayload struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	// Duration is total connected seconds, present on terminal events.
	Duration int    `json:"conversation_duration"`
	Error    string `json:"error_message"`
	// Timestamp is RFC3339; zero means "use receipt time".
	Timestamp string `json:"timestamp"`
}

// ValidSignature checks the vendor HMAC over the raw request body.
// Comparison is constant-time.
func ValidSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// Sign produces the signature the vendor would send for body. Used by
// tests and by the local provider stub.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent decodes and normalizes a webhook body. The vendor's
// status vocabulary collapses onto our call status machine; statuses
// we cannot map are rejected rather than guessed at.
func ParseEvent(body []byte, receivedAt time.Time) (Event, error) {
	var p bolnaWebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, err
	}
	if p.ExecutionID == "" {
		return Event{}, ErrMissingRef
	}

	status, ok := mapStatus(p.Status)
	if !ok {
		return Event{}, ErrUnknownStatus
	}

	occurred := receivedAt.UTC()
	if p.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
			occurred = ts.UTC()
		}
	}

	return Event{
		ExecutionRef:    p.ExecutionID,
		Status:          status,
		DurationSeconds: p.Duration,
		Reason:          p.Error,
		OccurredAt:      occurred,
	}, nil
}

func mapStatus(s string) (calls.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "initiated":
		return calls.StatusInitiated, true
	case "ringing":
		return calls.StatusRinging, true
	case "in-progress", "in_progress", "answered":
		return calls.StatusInProgress, true
	case "completed", "call-disconnected", "hangup":
		return calls.StatusCompleted, true
	case "failed", "busy", "no-answer", "error", "cancelled":
		return calls.StatusFailed, true
	default:
		return "", false
	}
}
