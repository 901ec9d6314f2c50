package alert

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/clawguard/clawguard/internal/config"
)

// Webhook request headers.
const (
	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-ClawGuard-Signature"
	// EventHeader names the audit event that raised the alert.
	EventHeader     = "X-ClawGuard-Event"
)

// WebhookPayload is the body posted to a generic webhook.
type WebhookPayload struct {
	Source    string    `json:"source"`
	Event     string    `json:"event"`
	Severity  string    `json:"severity"`
	AgentID   string    `json:"agent_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Pattern   string    `json:"pattern,omitempty"`
	Alert     Alert     `json:"alert"`
	SentAt    time.Time `json:"sent_at"`
}

func newWebhookPayload(alert Alert, now time.Time) WebhookPayload {
	detail := func(key string) string {
		s, _ := alert.Details[key].(string)
		return s
	}
	p := WebhookPayload{
		Source:    "clawguard",
		Event:     alert.Type,
		Severity:  alert.Severity,
		AgentID:   alert.AgentID,
		SessionID: alert.SessionID,
		Tool:      detail("toolName"),
		Pattern:   detail("pattern"),
		Alert:     alert,
		SentAt:    now.UTC(),
	}
	if p.Pattern == "" {
		p.Pattern = detail("leakPattern")
	}
	return p
}

// WebhookSender sends alerts to a generic webhook endpoint.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSender creates a new generic webhook sender.
func NewWebhookSender(cfg config.WebhookAlertConfig) *WebhookSender {
	return &WebhookSender{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookSender) Name() string { return "webhook" }

// Send posts an alert to the webhook URL wrapped in a WebhookPayload.
func (w *WebhookSender) Send(alert Alert) error {
	body, err := json.Marshal(newWebhookPayload(alert, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ClawGuard/1.0")
	req.Header.Set(EventHeader, alert.Type)

	if w.secret != "" {
		req.Header.Set(SignatureHeader, computeHMAC(body, []byte(w.secret)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func computeHMAC(data, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
