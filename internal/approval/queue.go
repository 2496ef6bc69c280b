// Package approval parks escalated actions until a human resolves them.
// Submitters block on the outcome; unresolved requests fall to the
// configured timeout effect.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/intentguard/intentguard/internal/alert"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/config"
	"github.com/intentguard/intentguard/internal/metrics"
)

// Type routes a request to the approver group responsible for it.
type Type string

const (
	TypeFinance  Type = "finance"
	TypeLegal    Type = "legal"
	TypeHR       Type = "hr"
	TypeSecurity Type = "security"
	TypeManager  Type = "manager"
)

// TypeForAction derives the approver group from the action name.
func TypeForAction(action string) Type {
	a := strings.ToLower(action)
	switch {
	case strings.Contains(a, "salary") || strings.Contains(a, "payment"):
		return TypeFinance
	case strings.Contains(a, "contract") || strings.Contains(a, "nda"):
		return TypeLegal
	case strings.Contains(a, "hire") || strings.Contains(a, "terminate"):
		return TypeHR
	case strings.Contains(a, "access") || strings.Contains(a, "security"):
		return TypeSecurity
	default:
		return TypeManager
	}
}

// Request represents a pending approval request.
type Request struct {
	ID            string         `json:"approval_id"`
	AgentID       string         `json:"agent_id"`
	Action        string         `json:"action"`
	Type          Type           `json:"approval_type"`
	Reason        string         `json:"reason"`
	PolicyID      string         `json:"policy_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timeout       time.Duration  `json:"-"`
	TimeoutEffect string         `json:"timeout_effect"`
	CreatedAt     time.Time      `json:"created_at"`

	result chan Result
}

// Result is the outcome of an approval request.
type Result struct {
	Approved   bool
	ResolvedBy string
}

// Queue manages pending approval requests. Requests and resolutions
// append to the audit chain, so the approval history is tamper-evident.
type Queue struct {
	mu      sync.RWMutex
	pending map[string]*Request

	chain   *audit.Chain
	alerts  *alert.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger

	defaultTimeout time.Duration
	defaultEffect  string

	seq  atomic.Uint64
	done chan struct{}
}

// NewQueue creates an approval queue and starts its timeout checker.
// Call Close on shutdown to stop the checker.
func NewQueue(cfg config.ApprovalsConfig, chain *audit.Chain, alerts *alert.Manager, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	if cfg.TimeoutEffect == "" {
		cfg.TimeoutEffect = "deny"
	}
	q := &Queue{
		pending:        make(map[string]*Request),
		chain:          chain,
		alerts:         alerts,
		logger:         logger.With("component", "approval.Queue"),
		defaultTimeout: cfg.Timeout,
		defaultEffect:  cfg.TimeoutEffect,
		done:           make(chan struct{}),
	}

	go q.checkTimeouts()

	return q
}

// Close stops the timeout checker.
func (q *Queue) Close() {
	close(q.done)
}

// SetMetrics attaches the metrics sink. Called once at startup; a nil
// sink keeps the no-op calls.
func (q *Queue) SetMetrics(m *metrics.Metrics) { q.metrics = m }

func (q *Queue) nextID() string {
	return fmt.Sprintf("APR-%s-%04d", time.Now().Format("20060102150405"), q.seq.Add(1))
}

// Submit queues an action for approval and blocks until resolved or
// timed out. Zero Timeout and empty TimeoutEffect take the queue
// defaults; an empty Type is derived from the action.
func (q *Queue) Submit(ctx context.Context, req *Request) (bool, error) {
	if req.ID == "" {
		req.ID = q.nextID()
	}
	if req.Type == "" {
		req.Type = TypeForAction(req.Action)
	}
	if req.Timeout <= 0 {
		req.Timeout = q.defaultTimeout
	}
	if req.TimeoutEffect == "" {
		req.TimeoutEffect = q.defaultEffect
	}
	req.CreatedAt = time.Now()
	req.result = make(chan Result, 1)

	if _, err := q.chain.Log(audit.EventApprovalRequested, req.AgentID, "", map[string]any{
		"approval_id":   req.ID,
		"action":        req.Action,
		"approval_type": string(req.Type),
		"reason":        req.Reason,
		"policy_id":     req.PolicyID,
	}); err != nil {
		return false, fmt.Errorf("failed to record approval request: %w", err)
	}

	q.mu.Lock()
	q.pending[req.ID] = req
	q.mu.Unlock()

	if q.alerts != nil {
		q.alerts.Send(alert.Alert{
			Type:     alert.TypeApproval,
			Severity: "warning",
			Title:    fmt.Sprintf("Approval needed: %s", req.Action),
			Message:  fmt.Sprintf("%s approval required for agent %s: %s", req.Type, req.AgentID, req.Reason),
			AgentID:  req.AgentID,
			Details: map[string]any{
				"approval_id":   req.ID,
				"approval_type": string(req.Type),
				"policy_id":     req.PolicyID,
			},
		})
	}

	q.logger.Info("approval request submitted",
		"approval_id", req.ID,
		"agent_id", req.AgentID,
		"action", req.Action,
		"approval_type", string(req.Type),
		"timeout", req.Timeout,
	)

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case result := <-req.result:
		return result.Approved, nil
	case <-timer.C:
		// Losing the expiry race to a concurrent Resolve is fine:
		// exactly one finisher sends, so the read below never blocks.
		q.expire(req)
		result := <-req.result
		return result.Approved, nil
	case <-ctx.Done():
		q.abandon(req.ID)
		return false, ctx.Err()
	}
}

// expire resolves one request with its timeout effect if still pending.
func (q *Queue) expire(req *Request) {
	q.mu.Lock()
	_, ok := q.pending[req.ID]
	if ok {
		delete(q.pending, req.ID)
	}
	q.mu.Unlock()
	if !ok {
		return
	}

	approved := req.TimeoutEffect == "allow"
	q.logger.Warn("approval timed out",
		"approval_id", req.ID,
		"timeout_effect", req.TimeoutEffect,
		"approved", approved,
	)
	q.finish(req, approved, "timeout")
}

// Resolve approves or denies a pending request.
func (q *Queue) Resolve(approvalID string, approved bool, resolvedBy string) error {
	q.mu.Lock()
	req, ok := q.pending[approvalID]
	if ok {
		delete(q.pending, approvalID)
	}
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("approval %s not found or already resolved", approvalID)
	}

	q.finish(req, approved, resolvedBy)
	return nil
}

// finish records the outcome and unblocks the submitter. The request
// must already be removed from pending.
func (q *Queue) finish(req *Request, approved bool, resolvedBy string) {
	event := audit.EventApprovalDenied
	if approved {
		event = audit.EventApprovalGranted
	}
	if _, err := q.chain.Log(event, req.AgentID, resolvedBy, map[string]any{
		"approval_id": req.ID,
		"action":      req.Action,
	}); err != nil {
		q.logger.Error("failed to record approval resolution", "approval_id", req.ID, "error", err)
	}

	if q.alerts != nil {
		outcome := "denied"
		if approved {
			outcome = "approved"
		}
		q.alerts.Send(alert.Alert{
			Type:     alert.TypeApprovalResult,
			Severity: "info",
			Title:    fmt.Sprintf("Approval %s: %s", outcome, req.Action),
			Message:  fmt.Sprintf("Request %s %s by %s", req.ID, outcome, resolvedBy),
			AgentID:  req.AgentID,
			Details:  map[string]any{"approval_id": req.ID},
		})
	}

	outcome := "denied"
	switch {
	case resolvedBy == "timeout":
		outcome = "timeout"
	case approved:
		outcome = "approved"
	}
	q.metrics.ObserveApproval(string(req.Type), outcome)

	req.result <- Result{Approved: approved, ResolvedBy: resolvedBy}

	q.logger.Info("approval resolved",
		"approval_id", req.ID,
		"approved", approved,
		"resolved_by", resolvedBy,
	)
}

// Pending returns a pending request by id.
func (q *Queue) Pending(approvalID string) (*Request, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	req, ok := q.pending[approvalID]
	return req, ok
}

// ListPending returns all pending approval requests.
func (q *Queue) ListPending() []*Request {
	q.mu.RLock()
	defer q.mu.RUnlock()

	requests := make([]*Request, 0, len(q.pending))
	for _, req := range q.pending {
		requests = append(requests, req)
	}
	return requests
}

// checkTimeouts sweeps for expired requests behind the per-request
// timers, catching any submitter that never reached its select.
func (q *Queue) checkTimeouts() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
			q.sweepExpired(time.Now())
		}
	}
}

// sweepExpired resolves every request whose deadline has passed as of
// now.
func (q *Queue) sweepExpired(now time.Time) {
	var expired []*Request
	q.mu.Lock()
	for id, req := range q.pending {
		if now.After(req.CreatedAt.Add(req.Timeout)) {
			delete(q.pending, id)
			expired = append(expired, req)
		}
	}
	q.mu.Unlock()

	for _, req := range expired {
		approved := req.TimeoutEffect == "allow"
		q.logger.Warn("approval timed out",
			"approval_id", req.ID,
			"default_effect", req.TimeoutEffect,
			"approved", approved,
		)
		q.finish(req, approved, "timeout")
	}
}

func (q *Queue) abandon(approvalID string) {
	q.mu.Lock()
	req, ok := q.pending[approvalID]
	if ok {
		delete(q.pending, approvalID)
	}
	q.mu.Unlock()
	if !ok {
		return
	}
	if _, err := q.chain.Log(audit.EventApprovalDenied, req.AgentID, "context_cancelled", map[string]any{
		"approval_id": req.ID,
		"action":      req.Action,
	}); err != nil {
		q.logger.Error("failed to record abandoned approval", "approval_id", req.ID, "error", err)
	}
}
