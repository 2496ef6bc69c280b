// Package alert delivers operator notifications for enforcement events.
// Delivery is asynchronous and deduplicated; a failed send is logged and
// dropped, never retried into the hot path.
package alert

import (
	"log/slog"
	"sync"
	"time"

	"github.com/intentguard/intentguard/internal/config"
)

// Alert types fired by the runtime.
const (
	TypeEnforcement    = "enforcement_transition" // agent paused or killed
	TypeCriticalDeny   = "critical_deny"          // Deny verdict at critical severity
	TypeApproval       = "approval_required"
	TypeApprovalResult = "approval_resolved"
	TypeChainIntegrity = "chain_integrity" // snapshot or audit chain failed verification
)

// Alert represents a notification to be sent.
type Alert struct {
	Type      string         `json:"type"`
	Severity  string         `json:"severity"` // info, warning, critical
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	AgentID   string         `json:"agent_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sender is an alert delivery channel.
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
	logger   *slog.Logger
}

// NewManager creates an alert manager with the channels the config
// names. No channels configured is fine: Send becomes a no-op.
func NewManager(cfg config.AlertsConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		senders:  make([]Sender, 0),
		dedup:    make(map[string]time.Time),
		dedupTTL: 5 * time.Minute,
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

// AddSender registers an extra delivery channel. Tests use this to
// observe alerts without network transports.
func (m *Manager) AddSender(s Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senders = append(m.senders, s)
}

// Send dispatches an alert to all configured channels. Repeats of the
// same type for the same agent and request within the dedup window are
// dropped.
func (m *Manager) Send(alert Alert) {
	alert.Timestamp = time.Now()

	dedupKey := alert.Type + "|" + alert.AgentID + "|" + alert.RequestID
	m.mu.Lock()
	if lastSent, ok := m.dedup[dedupKey]; ok && time.Since(lastSent) < m.dedupTTL {
		m.mu.Unlock()
		m.logger.Debug("alert deduplicated", "type", alert.Type, "key", dedupKey)
		return
	}
	m.dedup[dedupKey] = time.Now()
	senders := make([]Sender, len(m.senders))
	copy(senders, m.senders)
	m.mu.Unlock()

	for _, sender := range senders {
		go func(s Sender) {
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

// PruneDedup removes old dedup entries. Call periodically.
func (m *Manager) PruneDedup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
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
