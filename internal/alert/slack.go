package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"github.com/clawguard/clawguard/internal/config"
)

// SlackSender sends alerts to Slack via incoming webhook.
type SlackSender struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackSender creates a new Slack alert sender.
func NewSlackSender(cfg config.SlackAlertConfig) *SlackSender {
	return &SlackSender{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackSender) Name() string { return "slack" }

// Send posts an alert to Slack.
func (s *SlackSender) Send(alert Alert) error {
	msg := &slack.WebhookMessage{
		Channel: s.channel,
		Attachments: []slack.Attachment{
			{
				Color:  severityColor(alert.Severity),
				Title:  fmt.Sprintf("%s ClawGuard: %s", severityEmoji(alert.Severity), alert.Title),
				Text:   alert.Message,
				Fields: buildSlackFields(alert),
				Ts:     json.Number(strconv.FormatInt(alert.Timestamp.Unix(), 10)),
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, msg); err != nil {
		return fmt.Errorf("failed to send slack webhook: %w", err)
	}
	return nil
}

func buildSlackFields(alert Alert) []slack.AttachmentField {
	fields := []slack.AttachmentField{
		{Title: "Type", Value: alert.Type, Short: true},
		{Title: "Severity", Value: alert.Severity, Short: true},
	}
	if alert.AgentID != "" {
		fields = append(fields, slack.AttachmentField{Title: "Agent", Value: alert.AgentID, Short: true})
	}
	if alert.SessionID != "" {
		fields = append(fields, slack.AttachmentField{Title: "Session", Value: alert.SessionID, Short: true})
	}
	return fields
}

func severityEmoji(severity string) string {
	switch severity {
	case SeverityCritical:
		return "🔴"
	case SeverityWarning:
		return "🟡"
	default:
		return "🔵"
	}
}

func severityColor(severity string) string {
	switch severity {
	case SeverityCritical:
		return "#dc3545"
	case SeverityWarning:
		return "#ffc107"
	default:
		return "#17a2b8"
	}
}
