package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/intentguard/intentguard/internal/agent"
	"github.com/intentguard/intentguard/internal/approval"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
	"github.com/intentguard/intentguard/internal/tirs"
	"github.com/intentguard/intentguard/internal/tirs/drift"
)

// HandoffResult is the outcome of verifying one agent-to-agent
// transfer. Allowed is false when compliance denied the action or the
// receiving agent is not executable; RequiresApproval marks an
// escalation the executing pipeline must park for a human.
type HandoffResult struct {
	Allowed   bool   `json:"allowed"`
	HandoffID string `json:"handoff_id"`
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	Action    string `json:"action"`

	CompliancePassed bool `json:"compliance_passed"`
	TIRSPassed       bool `json:"tirs_passed"`

	RiskScore float64 `json:"risk_score"`
	RiskDelta float64 `json:"risk_delta"`

	BlockedReason string `json:"blocked_reason,omitempty"`
	BlockedPolicy string `json:"blocked_policy,omitempty"`
	Suggestion    string `json:"suggestion,omitempty"`

	ModifiedPayload map[string]any `json:"modified_payload,omitempty"`

	RequiresApproval bool          `json:"requires_approval"`
	ApprovalType     approval.Type `json:"approval_type,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Verifier gates agent-to-agent handoffs. Each verification runs
// compliance against the receiving agent's policy categories, then
// analyzes the transfer as an intent under the receiving agent's
// identity, so drifting or killed receivers block the transfer before
// any work starts.
type Verifier struct {
	deps   Deps
	logger *slog.Logger
	seq    atomic.Uint64
}

// NewVerifier builds a handoff verifier on the shared services.
func NewVerifier(deps Deps) *Verifier {
	return &Verifier{
		deps:   deps,
		logger: deps.logger().With("component", "orchestrator.Verifier"),
	}
}

// Verify checks one handoff from the named sender to the receiving
// agent. An Escalate verdict does not block here: the result is marked
// requires_approval and the receiving agent's execution pipeline parks
// the action on the approval queue, so the approval is requested
// exactly once.
func (v *Verifier) Verify(ctx context.Context, from string, to agent.Agent, action string, payload, reqContext map[string]any) HandoffResult {
	now := v.deps.now()
	res := HandoffResult{
		HandoffID:        fmt.Sprintf("HO-%s-%04d", now.Format("20060102150405"), v.seq.Add(1)),
		FromAgent:        from,
		ToAgent:          to.AgentID(),
		Action:           action,
		CompliancePassed: true,
		TIRSPassed:       true,
		Timestamp:        now,
	}

	if payload == nil {
		payload = map[string]any{}
	}
	evalCtx := make(map[string]any, len(reqContext)+4)
	for k, val := range reqContext {
		evalCtx[k] = val
	}
	evalCtx["from_agent"] = from
	evalCtx["to_agent"] = to.AgentID()
	evalCtx["handoff_id"] = res.HandoffID
	evalCtx["agent_id"] = to.AgentID()
	if _, ok := evalCtx["department"]; !ok {
		evalCtx["department"] = to.AgentType()
	}

	agg := v.deps.Compliance.Evaluate(action, payload, evalCtx, to.PolicyCategories()...)
	res.RiskDelta = agg.TotalRiskDelta

	if !agg.Allowed {
		res.CompliancePassed = false
		res.BlockedReason = agg.BlockReason()
		res.BlockedPolicy = primaryPolicyID(agg)
		res.Suggestion = agg.FirstSuggestion()
		return v.finish(res)
	}

	if agg.RequiresApproval() {
		res.RequiresApproval = true
		res.ApprovalType = approval.TypeForAction(action)
		res.Suggestion = agg.FirstSuggestion()
	}
	if agg.Verdict == compliance.VerdictModify && agg.MergedPayload != nil {
		res.ModifiedPayload = agg.MergedPayload
		payload = agg.MergedPayload
	}

	capName := action
	var def *capability.Definition
	if d, ok := v.deps.Registry.Match(action); ok {
		def = d
		capName = string(d.ID)
	}

	dept, _ := evalCtx["department"].(string)
	role, _ := evalCtx["role"].(string)
	if role == "" {
		role = "standard"
	}
	bctx := drift.ContextAt(now, dept, role)
	if def != nil && def.Sensitive {
		bctx.Sensitive = true
	}

	policy := ""
	if ids := agg.PolicyIDsTriggered(); len(ids) > 0 {
		policy = ids[0]
	}
	analysis, err := v.deps.Risk.AnalyzeIntent(ctx, tirs.Intent{
		AgentID:         to.AgentID(),
		Text:            fmt.Sprintf("Handoff from %s: %s", from, action),
		Capabilities:    []string{capName},
		Allowed:         true,
		PolicyTriggered: policy,
		Context:         bctx,
	})
	if err != nil {
		res.TIRSPassed = false
		res.BlockedReason = fmt.Sprintf("intent analysis failed: %v", err)
		return v.finish(res)
	}

	res.RiskScore = analysis.Result.RiskScore
	if !analysis.Result.Status.Executable() {
		res.TIRSPassed = false
		res.BlockedReason = fmt.Sprintf("agent %s is %s", to.AgentID(), analysis.Result.Status)
		return v.finish(res)
	}

	res.Allowed = true
	return v.finish(res)
}

// finish records the verification on the audit chain and in metrics,
// then returns the result unchanged.
func (v *Verifier) finish(res HandoffResult) HandoffResult {
	event := audit.EventHandoffVerified
	if !res.Allowed {
		event = audit.EventHandoffRejected
	}

	details := map[string]any{
		"handoff_id": res.HandoffID,
		"action":     res.Action,
		"from_agent": res.FromAgent,
		"risk_score": res.RiskScore,
	}
	if res.BlockedReason != "" {
		details["blocked_reason"] = res.BlockedReason
	}
	if res.BlockedPolicy != "" {
		details["blocked_policy"] = res.BlockedPolicy
	}
	if res.RequiresApproval {
		details["approval_type"] = string(res.ApprovalType)
	}
	if _, err := v.deps.Chain.Log(event, res.ToAgent, res.FromAgent, details); err != nil {
		v.logger.Error("failed to record handoff", "handoff_id", res.HandoffID, "error", err)
	}
	v.deps.Metrics.ObserveHandoff(res.Allowed)

	if res.Allowed {
		v.logger.Info("handoff allowed",
			"handoff_id", res.HandoffID,
			"from", res.FromAgent,
			"to", res.ToAgent,
			"action", res.Action,
			"requires_approval", res.RequiresApproval,
		)
	} else {
		v.logger.Warn("handoff blocked",
			"handoff_id", res.HandoffID,
			"from", res.FromAgent,
			"to", res.ToAgent,
			"action", res.Action,
			"reason", res.BlockedReason,
		)
	}
	return res
}

// primaryPolicyID returns the blocking policy's id, falling back to the
// first triggered policy.
func primaryPolicyID(agg compliance.Aggregate) string {
	if agg.PrimaryBlocker != nil {
		return agg.PrimaryBlocker.PolicyID
	}
	if ids := agg.PolicyIDsTriggered(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}
