// Package agent implements the guarded executors that carry out business
// actions. Every agent, regardless of domain, runs the same pipeline:
// capability resolution, status gate, policy evaluation, intent risk
// analysis, optional reasoning review, then the domain handler. The
// pipeline is the enforcement point; handlers only ever see actions that
// cleared it.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/intentguard/intentguard/internal/approval"
	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
	"github.com/intentguard/intentguard/internal/fault"
	"github.com/intentguard/intentguard/internal/oracle"
	"github.com/intentguard/intentguard/internal/tirs"
	"github.com/intentguard/intentguard/internal/tirs/drift"
)

// intentTextLimit caps the payload portion of the analyzed intent text.
const intentTextLimit = 160

// ActionResult is the structured outcome of one executed (or blocked)
// action. Failure is set exactly when Success is false.
type ActionResult struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	AgentID string `json:"agent_id"`

	ResultData map[string]any `json:"result_data,omitempty"`

	CompliancePassed  bool     `json:"compliance_passed"`
	PoliciesTriggered []string `json:"policies_triggered,omitempty"`
	RequiresApproval  bool     `json:"requires_approval,omitempty"`
	PayloadModified   bool     `json:"payload_modified,omitempty"`
	Suggestion        string   `json:"suggestion,omitempty"`

	RiskScore float64         `json:"risk_score"`
	RiskLevel drift.RiskLevel `json:"risk_level,omitempty"`

	Failure      *fault.Failure `json:"failure,omitempty"`
	AuditEntryID string         `json:"audit_entry_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Error returns the failure message, or "" on success.
func (r ActionResult) Error() string {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Message
}

// Stats is one agent's runtime posture, consumed by the router and the
// operations API.
type Stats struct {
	AgentID      string          `json:"agent_id"`
	AgentType    string          `json:"agent_type"`
	Description  string          `json:"description,omitempty"`
	Status       drift.Status    `json:"status"`
	Capabilities []capability.ID `json:"capabilities"`
	ActionCount  uint64          `json:"action_count"`
	BlockedCount uint64          `json:"blocked_count"`
	BlockRate    float64         `json:"block_rate"`
	RiskScore    float64         `json:"risk_score"`
	RiskLevel    drift.RiskLevel `json:"risk_level"`
}

// Agent is the execution surface the orchestrator routes to.
type Agent interface {
	AgentID() string
	AgentType() string
	Capabilities() []capability.ID
	PolicyCategories() []compliance.Category
	Execute(ctx context.Context, action string, payload, reqContext map[string]any) ActionResult
	Stats() Stats
}

// Handler performs the domain work after the pipeline has cleared the
// action. It receives the final payload (post policy rewrite) and the
// evaluation context.
type Handler func(ctx context.Context, action string, payload, reqContext map[string]any) (map[string]any, error)

// Config declares a domain agent's identity and policy surface.
type Config struct {
	// AgentID defaults to "<type>_agent" when empty.
	AgentID     string
	AgentType   string
	Description string

	Capabilities     []capability.ID
	PolicyCategories []compliance.Category
}

// Deps are the shared services a BaseAgent executes against. Oracle,
// Approvals, and Clock are optional; everything else is required.
// Without an approval queue, escalated actions fail immediately with
// KindApprovalRequired instead of waiting for a human decision.
type Deps struct {
	Compliance *compliance.Engine
	Risk       *tirs.Service
	Registry   *capability.Registry
	Oracle     oracle.Reasoner
	Approvals  *approval.Queue
	Clock      drift.Clock
	Logger     *slog.Logger
}

// BaseAgent runs the guarded pipeline around a domain handler. Domain
// constructors in this package all return a *BaseAgent; custom agents
// can do the same with New.
type BaseAgent struct {
	cfg      Config
	agentID  string
	declared map[capability.ID]bool
	deps     Deps
	handler  Handler
	logger   *slog.Logger

	actionCount  atomic.Uint64
	blockedCount atomic.Uint64
}

// New builds an agent from a config and handler. A nil logger falls
// back to slog.Default.
func New(cfg Config, deps Deps, handler Handler) *BaseAgent {
	id := cfg.AgentID
	if id == "" {
		id = cfg.AgentType + "_agent"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	declared := make(map[capability.ID]bool, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		declared[c] = true
	}
	return &BaseAgent{
		cfg:      cfg,
		agentID:  id,
		declared: declared,
		deps:     deps,
		handler:  handler,
		logger:   logger.With("component", "agent.BaseAgent", "agent_id", id),
	}
}

func (a *BaseAgent) AgentID() string   { return a.agentID }
func (a *BaseAgent) AgentType() string { return a.cfg.AgentType }

// Capabilities returns the declared capability set in config order.
func (a *BaseAgent) Capabilities() []capability.ID {
	out := make([]capability.ID, len(a.cfg.Capabilities))
	copy(out, a.cfg.Capabilities)
	return out
}

// PolicyCategories returns the policy categories evaluated for this
// agent's actions.
func (a *BaseAgent) PolicyCategories() []compliance.Category {
	out := make([]compliance.Category, len(a.cfg.PolicyCategories))
	copy(out, a.cfg.PolicyCategories)
	return out
}

// Stats reports counters plus the current risk posture from the drift
// profile. Agents that never executed report Active at zero risk.
func (a *BaseAgent) Stats() Stats {
	total := a.actionCount.Load()
	blocked := a.blockedCount.Load()
	s := Stats{
		AgentID:      a.agentID,
		AgentType:    a.cfg.AgentType,
		Description:  a.cfg.Description,
		Status:       drift.StatusActive,
		Capabilities: a.Capabilities(),
		ActionCount:  total,
		BlockedCount: blocked,
		RiskLevel:    drift.LevelNominal,
	}
	if total > 0 {
		s.BlockRate = float64(blocked) / float64(total)
	}
	if view, ok := a.deps.Risk.AgentView(a.agentID); ok {
		s.Status = view.Status
		s.RiskScore = view.CurrentRiskScore
		s.RiskLevel = view.CurrentRiskLevel
	}
	return s
}

// BlockRate returns blocked actions over total actions, 0 for an idle
// agent. The router folds this into its scoring.
func (a *BaseAgent) BlockRate() float64 {
	total := a.actionCount.Load()
	if total == 0 {
		return 0
	}
	return float64(a.blockedCount.Load()) / float64(total)
}

// Execute runs one action through the full pipeline. It never panics
// and never returns a half-populated result: every exit path carries
// the compliance and risk fields known at that point.
func (a *BaseAgent) Execute(ctx context.Context, action string, payload, reqContext map[string]any) ActionResult {
	a.actionCount.Add(1)
	started := a.now()

	if payload == nil {
		payload = map[string]any{}
	}
	evalCtx := a.evaluationContext(reqContext)

	// Capability resolution. A recognized capability the agent never
	// declared is a hard block; an unrecognized action proceeds under
	// its own name and lets the policy layer judge it.
	capName := action
	def, matched := a.deps.Registry.Match(action)
	if matched {
		if !a.declared[def.ID] {
			a.blockedCount.Add(1)
			return a.failed(action, started, fault.New(fault.KindCapabilityNotFound,
				"capability %s is not declared by agent %s", def.ID, a.agentID).
				WithDetail("capability_id", string(def.ID)))
		}
		capName = string(def.ID)
	}

	// Status gate. Paused and Killed agents do not execute; the block
	// itself is not analyzed because no intent was admitted.
	if status := a.deps.Risk.StatusOf(a.agentID); !status.Executable() {
		a.blockedCount.Add(1)
		return a.failed(action, started, fault.New(fault.KindAgentNotExecutable,
			"agent %s is %s and cannot execute", a.agentID, status).
			WithDetail("status", string(status)))
	}

	agg := a.deps.Compliance.Evaluate(action, payload, evalCtx, a.cfg.PolicyCategories...)
	bctx := a.businessContext(def, evalCtx, started)

	if !agg.Allowed {
		a.blockedCount.Add(1)
		analysis := a.analyzeBlocked(ctx, capName, action, payload, blockerID(agg), bctx)
		res := a.failed(action, started, fault.New(fault.KindPolicyDenied, "%s", agg.BlockReason()).
			WithDetail("policies_triggered", agg.PolicyIDsTriggered()))
		res.PoliciesTriggered = agg.PolicyIDsTriggered()
		res.Suggestion = agg.FirstSuggestion()
		applyAnalysis(&res, analysis)
		return res
	}

	modified := false
	if agg.Verdict == compliance.VerdictModify && agg.MergedPayload != nil {
		payload = agg.MergedPayload
		modified = true
	}

	analysis, err := a.analyzeAllowed(ctx, capName, action, payload, agg, bctx)
	if err != nil {
		f, ok := err.(*fault.Failure)
		if !ok {
			f = fault.New(fault.KindExecutionFailure, "intent analysis failed: %v", err)
		}
		return a.failed(action, started, f)
	}

	// The analysis itself can pause or kill the agent mid-request.
	if st := analysis.Result.Status; !st.Executable() {
		a.blockedCount.Add(1)
		res := a.failed(action, started, fault.New(fault.KindRiskThresholdExceeded,
			"agent %s %s by risk enforcement during this request", a.agentID, st).
			WithDetail("status", string(st)))
		res.CompliancePassed = true
		res.PoliciesTriggered = agg.PolicyIDsTriggered()
		applyAnalysis(&res, analysis)
		return res
	}

	escalated := agg.RequiresApproval()
	suggestion := agg.FirstSuggestion()

	if verdict := a.consultOracle(ctx, action, payload, evalCtx, analysis, escalated); verdict != nil {
		switch {
		case verdict.cleared:
			escalated = false
		case verdict.denied:
			a.blockedCount.Add(1)
			res := a.failed(action, started, fault.New(fault.KindRiskThresholdExceeded,
				"reasoning review denied high-risk intent: %s", verdict.reasoning))
			res.CompliancePassed = true
			res.PoliciesTriggered = agg.PolicyIDsTriggered()
			applyAnalysis(&res, analysis)
			return res
		case verdict.escalate:
			escalated = true
			if suggestion == "" {
				suggestion = verdict.reasoning
			}
		}
	}

	if escalated {
		if a.deps.Approvals == nil {
			return a.approvalDenied(action, started, agg, analysis, suggestion, agg.BlockReason())
		}
		reason := agg.BlockReason()
		if !agg.RequiresApproval() && suggestion != "" {
			reason = suggestion
		}
		approved, aerr := a.deps.Approvals.Submit(ctx, &approval.Request{
			AgentID:  a.agentID,
			Action:   action,
			Reason:   reason,
			PolicyID: blockerID(agg),
			Payload:  payload,
		})
		if aerr != nil {
			return a.approvalDenied(action, started, agg, analysis, suggestion,
				fmt.Sprintf("approval wait abandoned: %v", aerr))
		}
		if !approved {
			return a.approvalDenied(action, started, agg, analysis, suggestion,
				fmt.Sprintf("approval not granted: %s", reason))
		}
		a.logger.Info("escalated action approved", "action", action)
	}

	data, herr := a.handler(ctx, action, payload, evalCtx)
	if herr != nil {
		res := a.failed(action, started, fault.New(fault.KindExecutionFailure, "%v", herr))
		res.CompliancePassed = true
		res.PoliciesTriggered = agg.PolicyIDsTriggered()
		applyAnalysis(&res, analysis)
		return res
	}

	res := ActionResult{
		Success:           true,
		Action:            action,
		AgentID:           a.agentID,
		ResultData:        data,
		CompliancePassed:  true,
		PoliciesTriggered: agg.PolicyIDsTriggered(),
		RequiresApproval:  escalated,
		PayloadModified:   modified,
		Suggestion:        suggestion,
		Timestamp:         started,
	}
	applyAnalysis(&res, analysis)
	return res
}

func (a *BaseAgent) now() time.Time {
	if a.deps.Clock != nil {
		return a.deps.Clock.Now()
	}
	return time.Now()
}

// evaluationContext copies the request context and fills the identity
// fields policies key on.
func (a *BaseAgent) evaluationContext(reqContext map[string]any) map[string]any {
	out := make(map[string]any, len(reqContext)+2)
	for k, v := range reqContext {
		out[k] = v
	}
	out["agent_id"] = a.agentID
	if _, ok := out["department"]; !ok {
		out["department"] = a.cfg.AgentType
	}
	return out
}

// businessContext derives the drift context for this request: wall
// clock plus whatever the request context declares about who is acting.
func (a *BaseAgent) businessContext(def *capability.Definition, evalCtx map[string]any, now time.Time) drift.Context {
	dept, _ := evalCtx["department"].(string)
	role, _ := evalCtx["role"].(string)
	if role == "" {
		role = "standard"
	}
	bctx := drift.ContextAt(now, dept, role)
	if def != nil && def.Sensitive {
		bctx.Sensitive = true
	}
	if s, ok := evalCtx["sensitive"].(bool); ok && s {
		bctx.Sensitive = true
	}
	return bctx
}

// analyzeAllowed runs the risk analysis for an admitted action. The
// triggered policy id is recorded even when the action proceeds, so
// Modify and Warn verdicts stay visible in the agent's forensic view.
func (a *BaseAgent) analyzeAllowed(ctx context.Context, capName, action string, payload map[string]any, agg compliance.Aggregate, bctx drift.Context) (*tirs.Analysis, error) {
	policy := ""
	if ids := agg.PolicyIDsTriggered(); len(ids) > 0 {
		policy = ids[0]
	}
	return a.deps.Risk.AnalyzeIntent(ctx, tirs.Intent{
		AgentID:         a.agentID,
		Text:            intentText(action, payload),
		Capabilities:    []string{capName},
		Allowed:         true,
		PolicyTriggered: policy,
		Context:         bctx,
	})
}

// analyzeBlocked runs the risk analysis for a denied action. Analysis
// errors on this path are logged and swallowed: the block already
// stands.
func (a *BaseAgent) analyzeBlocked(ctx context.Context, capName, action string, payload map[string]any, policy string, bctx drift.Context) *tirs.Analysis {
	analysis, err := a.deps.Risk.AnalyzeIntent(ctx, tirs.Intent{
		AgentID:         a.agentID,
		Text:            intentText(action, payload),
		Capabilities:    []string{capName},
		Allowed:         false,
		PolicyTriggered: policy,
		Context:         bctx,
	})
	if err != nil {
		a.logger.Error("intent analysis failed on blocked action", "action", action, "error", err)
		return nil
	}
	return analysis
}

// oracleVerdict is the pipeline-facing digest of one oracle assessment.
type oracleVerdict struct {
	cleared   bool
	denied    bool
	escalate  bool
	reasoning string
}

// consultOracle asks the reasoning layer about a flagged intent and
// folds its advice into the pipeline. An unavailable oracle changes
// nothing: the local decision stands.
func (a *BaseAgent) consultOracle(ctx context.Context, action string, payload, evalCtx map[string]any, analysis *tirs.Analysis, escalated bool) *oracleVerdict {
	if a.deps.Oracle == nil || !oracle.ShouldConsult(analysis.Result.RiskScore, escalated) {
		return nil
	}

	signals := oracle.Signals{
		RiskScore:        analysis.Result.RiskScore,
		RiskLevel:        string(analysis.Result.RiskLevel),
		AdjustedCritical: analysis.Result.Thresholds.Critical,
	}
	if analysis.Explanation != nil {
		signals.PrimaryFactor = analysis.Explanation.PrimaryFactor
		signals.Summary = analysis.Explanation.Summary
	}

	assessment, err := a.deps.Oracle.Assess(ctx, oracle.Request{
		AgentID:             a.agentID,
		Action:              action,
		Payload:             payload,
		Context:             evalCtx,
		Signals:             signals,
		ComplianceEscalated: escalated,
	})
	if err != nil {
		a.logger.Warn("reasoning oracle unavailable, local decision stands",
			"action", action, "error", err)
		return nil
	}

	v := &oracleVerdict{reasoning: assessment.Reasoning}
	switch {
	case assessment.CanOverride(analysis.Result.RiskScore, analysis.Result.Thresholds.Critical):
		v.cleared = true
		a.logger.Info("reasoning oracle cleared flagged intent",
			"action", action,
			"risk_score", analysis.Result.RiskScore,
			"confidence", assessment.Confidence)
	case escalated:
		// Advice below the override bar never clears an escalation.
	case assessment.Recommendation == oracle.RecommendDeny:
		v.denied = true
	case assessment.Recommendation == oracle.RecommendEscalate:
		v.escalate = true
	}
	return v
}

// approvalDenied builds the failure for an escalated action that was
// not cleared: no queue is configured, the wait was abandoned, or the
// approver said no.
func (a *BaseAgent) approvalDenied(action string, started time.Time, agg compliance.Aggregate, analysis *tirs.Analysis, suggestion, msg string) ActionResult {
	a.blockedCount.Add(1)
	res := a.failed(action, started, fault.New(fault.KindApprovalRequired, "%s", msg).
		WithDetail("policies_triggered", agg.PolicyIDsTriggered()))
	res.CompliancePassed = true
	res.RequiresApproval = true
	res.PoliciesTriggered = agg.PolicyIDsTriggered()
	res.Suggestion = suggestion
	applyAnalysis(&res, analysis)
	return res
}

// failed builds the base failure result for this action.
func (a *BaseAgent) failed(action string, ts time.Time, f *fault.Failure) ActionResult {
	return ActionResult{
		Action:    action,
		AgentID:   a.agentID,
		Failure:   f,
		Timestamp: ts,
	}
}

// applyAnalysis folds risk fields into a result. A nil analysis leaves
// the zero values in place.
func applyAnalysis(res *ActionResult, analysis *tirs.Analysis) {
	if analysis == nil || analysis.Result == nil {
		return
	}
	res.RiskScore = analysis.Result.RiskScore
	res.RiskLevel = analysis.Result.RiskLevel
	res.AuditEntryID = analysis.AuditEntryID
}

// blockerID returns the id of the policy that produced the blocking
// verdict, or "" when none is recorded.
func blockerID(agg compliance.Aggregate) string {
	if agg.PrimaryBlocker != nil {
		return agg.PrimaryBlocker.PolicyID
	}
	if ids := agg.PolicyIDsTriggered(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// intentText renders the analyzed text for one action. Map formatting
// is key-sorted, so identical payloads embed identically across runs.
func intentText(action string, payload map[string]any) string {
	text := fmt.Sprintf("%s: %v", action, payload)
	if len(text) > intentTextLimit {
		text = text[:intentTextLimit]
	}
	return text
}

// BuiltinAgents returns the default executor roster, one agent per
// business domain.
func BuiltinAgents(deps Deps) []*BaseAgent {
	return []*BaseAgent{
		NewFinance(deps),
		NewHR(deps),
		NewLegal(deps),
		NewIT(deps),
		NewProcurement(deps),
		NewOps(deps),
	}
}
