package placement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BolnaProvider places calls through the Bolna REST API.
//
// The adapter owns the wire format; everything above it sees only
// Request and the opaque execution ref.
type BolnaProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewBolnaProvider(baseURL, apiKey string, timeout time.Duration) *BolnaProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BolnaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *BolnaProvider) Name() string { return "bolna" }

func (p *BolnaProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &Error{Status: resp.StatusCode, Retryable: true, Msg: "health check failed"}
	}
	return nil
}

type bolnaCallRequest struct {
	AgentID        string            `json:"agent_id"`
	RecipientPhone string            `json:"recipient_phone_number"`
	FromPhone      string            `json:"from_phone_number,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type bolnaCallResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

func (p *BolnaProvider) Place(ctx context.Context, req Request) (string, error) {
	if req.ProviderAgentID == "" || req.To == "" {
		return "", &Error{Retryable: false, Msg: "missing agent or destination"}
	}

	body, err := json.Marshal(bolnaCallRequest{
		AgentID:        req.ProviderAgentID,
		RecipientPhone: req.To,
		FromPhone:      req.From,
		Metadata: map[string]string{
			"entry_id": req.EntryID,
			"user_id":  req.UserID,
		},
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		// Timeout, DNS, connection refused: transient.
		return "", &Error{Retryable: true, Msg: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Retryable: true, Msg: "reading response: " + err.Error()}
	}

	if resp.StatusCode >= 400 {
		return "", classifyStatus(resp.StatusCode, raw)
	}

	var out bolnaCallResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &Error{Status: resp.StatusCode, Retryable: true, Msg: "malformed response body"}
	}
	if out.ExecutionID == "" {
		return "", &Error{Status: resp.StatusCode, Retryable: true, Msg: "response missing execution_id"}
	}
	return out.ExecutionID, nil
}

// classifyStatus decides retryability from the HTTP status. 429 and 5xx
// are vendor-side and transient; remaining 4xx mean the request itself
// is bad and retrying cannot help.
func classifyStatus(status int, raw []byte) *Error {
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	if msg == "" {
		msg = fmt.Sprintf("status %d", status)
	}
	retryable := status == http.StatusTooManyRequests || status >= 500
	return &Error{Status: status, Retryable: retryable, Msg: msg}
}
