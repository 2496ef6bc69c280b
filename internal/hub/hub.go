// Package hub moves data between collaborating agents: bounded
// per-agent mailboxes, broadcast fan-out, correlated request/response,
// shared contexts, and a bounded-round negotiation protocol. The hub
// never executes actions — delegation that does work goes through the
// orchestrator's verified handoff, so nothing here can bypass
// compliance or intent analysis.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/intentguard/intentguard/internal/config"
	"github.com/intentguard/intentguard/internal/fault"
	"github.com/intentguard/intentguard/internal/tirs/drift"
)

// MessageType labels the intent of an inter-agent message.
type MessageType string

const (
	MessageRequest  MessageType = "request"
	MessageResponse MessageType = "response"
	MessageInform   MessageType = "inform"
	MessagePropose  MessageType = "propose"
	MessageAccept   MessageType = "accept"
	MessageReject   MessageType = "reject"
	MessageCounter  MessageType = "counter"
	MessageDelegate MessageType = "delegate"
	MessageComplete MessageType = "complete"
	MessageError    MessageType = "error"
)

// Message is one inter-agent message. Replies carry the original
// message's ID in CorrelationID.
type Message struct {
	ID            string         `json:"message_id"`
	From          string         `json:"from_agent"`
	To            string         `json:"to_agent"`
	Type          MessageType    `json:"message_type"`
	Content       map[string]any `json:"content,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Stats is the hub's activity summary.
type Stats struct {
	RegisteredAgents      int    `json:"registered_agents"`
	MessagesSent          uint64 `json:"messages_sent"`
	ActiveNegotiations    int    `json:"active_negotiations"`
	CompletedNegotiations int    `json:"completed_negotiations"`
	SharedContexts        int    `json:"shared_contexts"`
}

// Hub is the collaboration broker. Mailboxes are bounded channels:
// senders never block, and a full mailbox rejects the message with a
// queue_full failure instead of buffering without limit.
type Hub struct {
	cfg    config.HubConfig
	clock  drift.Clock
	logger *slog.Logger

	seq    atomic.Uint64
	negSeq atomic.Uint64
	ctxSeq atomic.Uint64

	mu           sync.RWMutex
	mailboxes    map[string]chan Message
	links        map[string]map[string]bool
	sent         uint64
	negotiations map[string]*Negotiation
	contexts     map[string]*SharedContext
}

// New builds a hub. Zero config values fall back to the defaults:
// mailbox capacity 32, 5 negotiation rounds, 60s negotiation budget.
func New(cfg config.HubConfig, clock drift.Clock, logger *slog.Logger) *Hub {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 32
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 5
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:          cfg,
		clock:        clock,
		logger:       logger.With("component", "hub.Hub"),
		mailboxes:    make(map[string]chan Message),
		links:        make(map[string]map[string]bool),
		negotiations: make(map[string]*Negotiation),
		contexts:     make(map[string]*SharedContext),
	}
}

func (h *Hub) now() time.Time {
	if h.clock != nil {
		return h.clock.Now()
	}
	return time.Now()
}

// Register creates a mailbox for an agent.
func (h *Hub) Register(agentID string) error {
	if agentID == "" {
		return fmt.Errorf("agent id is empty")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.mailboxes[agentID]; exists {
		return fmt.Errorf("agent %s already has a mailbox", agentID)
	}
	h.mailboxes[agentID] = make(chan Message, h.cfg.MailboxSize)
	h.logger.Info("mailbox created", "agent_id", agentID, "capacity", h.cfg.MailboxSize)
	return nil
}

// Send delivers one message without blocking. A full mailbox returns a
// queue_full failure; the caller decides whether to retry, drop, or
// surface it.
func (h *Hub) Send(from, to string, mt MessageType, content map[string]any, correlationID string) (*Message, error) {
	h.mu.RLock()
	box, ok := h.mailboxes[to]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agent %q is not registered with the hub", to)
	}

	msg := Message{
		ID:            fmt.Sprintf("MSG-%06d", h.seq.Add(1)),
		From:          from,
		To:            to,
		Type:          mt,
		Content:       content,
		CorrelationID: correlationID,
		Timestamp:     h.now(),
	}

	select {
	case box <- msg:
	default:
		return nil, fault.New(fault.KindQueueFull,
			"mailbox for %s is full (capacity %d)", to, h.cfg.MailboxSize).
			WithDetail("message_type", string(mt))
	}

	h.mu.Lock()
	h.sent++
	h.link(from, to)
	h.mu.Unlock()

	h.logger.Debug("message delivered", "message_id", msg.ID, "from", from, "to", to, "type", string(mt))
	return &msg, nil
}

// link records that two agents have communicated. Caller holds h.mu.
func (h *Hub) link(a, b string) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		set := h.links[pair[0]]
		if set == nil {
			set = make(map[string]bool)
			h.links[pair[0]] = set
		}
		set[pair[1]] = true
	}
}

// Receive blocks until a message arrives for the agent or the context
// ends.
func (h *Hub) Receive(ctx context.Context, agentID string) (*Message, error) {
	h.mu.RLock()
	box, ok := h.mailboxes[agentID]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agent %q is not registered with the hub", agentID)
	}
	select {
	case msg := <-box:
		return &msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AwaitResponse drains the agent's mailbox until a response carrying
// the correlation id arrives. Unrelated messages received while waiting
// are dropped with a warning: a requester blocked on a reply is not
// serving its general inbox.
func (h *Hub) AwaitResponse(ctx context.Context, agentID, correlationID string) (*Message, error) {
	for {
		msg, err := h.Receive(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if msg.Type == MessageResponse && msg.CorrelationID == correlationID {
			return msg, nil
		}
		h.logger.Warn("message discarded while awaiting response",
			"agent_id", agentID, "message_id", msg.ID, "type", string(msg.Type))
	}
}

// Collaborate asks helper for help with a task and waits for its
// correlated response on the requester's mailbox.
func (h *Hub) Collaborate(ctx context.Context, requester, helper, task string, payload map[string]any) (map[string]any, error) {
	req, err := h.Send(requester, helper, MessageRequest,
		map[string]any{"task": task, "payload": payload}, "")
	if err != nil {
		return nil, err
	}
	resp, err := h.AwaitResponse(ctx, requester, req.ID)
	if err != nil {
		return nil, fmt.Errorf("no response from %s: %w", helper, err)
	}
	return resp.Content, nil
}

// Broadcast fans a message out to the named recipients, or to every
// registered agent except the sender when to is nil. Full mailboxes are
// skipped with a warning so one slow consumer does not abort the rest.
func (h *Hub) Broadcast(from string, mt MessageType, content map[string]any, to []string) []Message {
	if to == nil {
		h.mu.RLock()
		for id := range h.mailboxes {
			if id != from {
				to = append(to, id)
			}
		}
		h.mu.RUnlock()
		sort.Strings(to)
	}

	delivered := make([]Message, 0, len(to))
	for _, recipient := range to {
		msg, err := h.Send(from, recipient, mt, content, "")
		if err != nil {
			h.logger.Warn("broadcast delivery skipped", "to", recipient, "error", err)
			continue
		}
		delivered = append(delivered, *msg)
	}
	return delivered
}

// Connections lists the agents that have exchanged messages with the
// given agent.
func (h *Hub) Connections(agentID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.links[agentID]))
	for id := range h.links[agentID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats summarizes hub activity.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Stats{
		RegisteredAgents: len(h.mailboxes),
		MessagesSent:     h.sent,
		SharedContexts:   len(h.contexts),
	}
	for _, n := range h.negotiations {
		if n.Status == NegotiationInProgress {
			s.ActiveNegotiations++
		} else {
			s.CompletedNegotiations++
		}
	}
	return s
}
