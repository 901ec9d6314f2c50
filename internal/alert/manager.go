// Package alert pushes security-significant audit events to humans: a Slack
// incoming webhook and a generic signed webhook. Alerts are deduplicated per
// type, agent and session for a few minutes.
package alert

import (
	"log/slog"
	"sync"
	"time"

	"github.com/clawguard/clawguard/internal/config"
)

// DefaultDedupTTL suppresses repeats of the same alert.
const DefaultDedupTTL = 5 * time.Minute

// Alert represents a notification to be sent.
type Alert struct {
	Type      string         `json:"type"`     // audit event name, e.g. tool_call_blocked
	Severity  string         `json:"severity"` // info, warning, critical
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	AgentID   string         `json:"agent_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sender is an interface for alert delivery channels.
type Sender interface {
	Send(alert Alert) error
	Name() string
}

// Manager orchestrates alert delivery with deduplication.
type Manager struct {
	mu       sync.Mutex
	senders  []Sender
	dedup    map[string]time.Time // dedupKey → lastSent
	dedupTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger

	inflight sync.WaitGroup
}

// NewManager creates a manager with a sender for each configured channel.
func NewManager(cfg config.AlertsConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.Dedup
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	m := &Manager{
		senders:  make([]Sender, 0),
		dedup:    make(map[string]time.Time),
		dedupTTL: ttl,
		now:      time.Now,
		logger:   logger.With("component", "alert.Manager"),
	}

	if cfg.Slack.WebhookURL != "" {
		m.senders = append(m.senders, NewSlackSender(cfg.Slack))
	}
	if cfg.Webhook.URL != "" {
		m.senders = append(m.senders, NewWebhookSender(cfg.Webhook))
	}
	return m
}

// AddSender registers an extra delivery channel.
func (m *Manager) AddSender(s Sender) {
	m.mu.Lock()
	m.senders = append(m.senders, s)
	m.mu.Unlock()
}

// Send dispatches an alert to every sender unless an alert with the same
// type, agent and session went out within the dedup window. Delivery is
// asynchronous; failures are logged.
func (m *Manager) Send(alert Alert) {
	now := m.now()
	alert.Timestamp = now

	dedupKey := alert.Type + "|" + alert.AgentID + "|" + alert.SessionID
	m.mu.Lock()
	if lastSent, ok := m.dedup[dedupKey]; ok && now.Sub(lastSent) < m.dedupTTL {
		m.mu.Unlock()
		m.logger.Debug("alert deduplicated", "type", alert.Type, "key", dedupKey)
		return
	}
	m.dedup[dedupKey] = now
	senders := append([]Sender(nil), m.senders...)
	m.mu.Unlock()

	for _, sender := range senders {
		m.inflight.Add(1)
		go func(s Sender) {
			defer m.inflight.Done()
			if err := s.Send(alert); err != nil {
				m.logger.Error("failed to send alert",
					"sender", s.Name(),
					"type", alert.Type,
					"error", err,
				)
			}
		}(sender)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// PruneDedup removes old dedup entries. Call periodically.
func (m *Manager) PruneDedup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, ts := range m.dedup {
		if now.Sub(ts) > m.dedupTTL*2 {
			delete(m.dedup, key)
		}
	}
}

// HasSenders returns true if any alert channels are configured.
func (m *Manager) HasSenders() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.senders) > 0
}
