package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/intentguard/intentguard/internal/agent"
	"github.com/intentguard/intentguard/internal/approval"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/compliance"
	"github.com/intentguard/intentguard/internal/config"
	"github.com/intentguard/intentguard/internal/fault"
	"github.com/intentguard/intentguard/internal/iap"
	"github.com/intentguard/intentguard/internal/tirs/drift"
)

// RequestResult is the gateway's answer to one processed request.
type RequestResult struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	Action    string `json:"action"`

	RoutedTo   string         `json:"routed_to,omitempty"`
	ResultData map[string]any `json:"result_data,omitempty"`

	Error       string     `json:"error,omitempty"`
	FailureKind fault.Kind `json:"failure_kind,omitempty"`

	CompliancePassed  bool     `json:"compliance_passed"`
	PoliciesTriggered []string `json:"policies_triggered,omitempty"`
	RequiresApproval  bool     `json:"requires_approval"`

	RiskScore float64         `json:"risk_score"`
	RiskLevel drift.RiskLevel `json:"risk_level"`

	DurationMS float64   `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// SystemStatus is the full operator view of the running system.
type SystemStatus struct {
	RequestCount uint64                 `json:"request_count"`
	Agents       []agent.Stats          `json:"agents"`
	Risk         drift.Summary          `json:"risk"`
	Compliance   compliance.EngineStats `json:"compliance"`
	Workflows    []WorkflowInfo         `json:"workflows"`
	Capabilities map[string][]string    `json:"capabilities"`
}

// Gateway is the single entry point for requests into the agent fleet.
// It routes each action to the healthiest capable agent, optionally
// consults the external intent verifier first, and executes through
// the agent's guarded pipeline.
type Gateway struct {
	cfg      config.OrchestratorConfig
	deps     Deps
	router   *Router
	verifier *Verifier
	engine   *Engine
	logger   *slog.Logger

	reqSeq atomic.Uint64
	wfSeq  atomic.Uint64
}

// NewGateway builds the gateway and its orchestration components.
// Agents are registered afterwards with RegisterAgent; templates with
// RegisterTemplates on the engine.
func NewGateway(cfg config.OrchestratorConfig, deps Deps) *Gateway {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 300 * time.Second
	}
	router := NewRouter(deps.Registry, deps.Logger)
	verifier := NewVerifier(deps)
	engine := NewEngine(cfg, router, verifier, deps)
	return &Gateway{
		cfg:      cfg,
		deps:     deps,
		router:   router,
		verifier: verifier,
		engine:   engine,
		logger:   deps.logger().With("component", "orchestrator.Gateway"),
	}
}

// Router exposes the capability router for management surfaces.
func (g *Gateway) Router() *Router { return g.router }

// Engine exposes the workflow engine for management surfaces.
func (g *Gateway) Engine() *Engine { return g.engine }

// Verifier exposes the handoff verifier for direct delegations.
func (g *Gateway) Verifier() *Verifier { return g.verifier }

// RegisterAgent adds an agent to the fleet and records the event.
func (g *Gateway) RegisterAgent(a agent.Agent) error {
	if err := g.router.Register(a); err != nil {
		return err
	}
	caps := make([]string, 0, len(a.Capabilities()))
	for _, c := range a.Capabilities() {
		caps = append(caps, string(c))
	}
	if _, err := g.deps.Chain.Log(audit.EventAgentRegistered, a.AgentID(), "", map[string]any{
		"agent_type":   a.AgentType(),
		"capabilities": caps,
	}); err != nil {
		g.logger.Error("failed to record agent registration", "agent_id", a.AgentID(), "error", err)
	}
	return nil
}

// RequestCount returns the number of requests processed so far.
func (g *Gateway) RequestCount() uint64 { return g.reqSeq.Load() }

// ProcessRequest routes one action to an agent and executes it under
// full enforcement. The result is always a structured value; guardrail
// blocks surface as failure kinds, never as panics or bare errors.
func (g *Gateway) ProcessRequest(ctx context.Context, action string, payload, reqContext map[string]any) RequestResult {
	started := time.Now()
	requestID := fmt.Sprintf("REQ-%s-%06d", g.deps.now().Format("20060102150405"), g.reqSeq.Add(1))

	g.deps.Metrics.RequestsInFlight(1)
	defer g.deps.Metrics.RequestsInFlight(-1)

	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	if payload == nil {
		payload = map[string]any{}
	}
	reqCtx := make(map[string]any, len(reqContext)+1)
	for k, v := range reqContext {
		reqCtx[k] = v
	}
	reqCtx["request_id"] = requestID

	g.logger.Info("processing request", "request_id", requestID, "action", action)

	route := g.router.Route(action)
	if route.Agent == nil {
		return g.finish(started, RequestResult{
			RequestID:        requestID,
			Action:           action,
			Error:            fmt.Sprintf("no agent found for action %q", action),
			FailureKind:      fault.KindCapabilityNotFound,
			CompliancePassed: true,
			RiskLevel:        drift.LevelNominal,
		})
	}
	target := route.Agent
	g.logger.Info("request routed", "request_id", requestID, "agent_id", target.AgentID())

	if g.deps.IAP != nil && g.deps.IAP.Enabled() {
		var f *fault.Failure
		payload, f = g.consultIAP(ctx, requestID, target, action, payload)
		if f != nil {
			return g.finish(started, RequestResult{
				RequestID:        requestID,
				Action:           action,
				RoutedTo:         target.AgentID(),
				Error:            f.Message,
				FailureKind:      f.Kind,
				CompliancePassed: f.Kind != fault.KindPolicyDenied,
				RequiresApproval: f.Kind == fault.KindApprovalRequired,
				RiskLevel:        drift.LevelNominal,
			})
		}
	}

	ar := target.Execute(ctx, action, payload, reqCtx)

	res := RequestResult{
		Success:           ar.Success,
		RequestID:         requestID,
		Action:            action,
		RoutedTo:          target.AgentID(),
		ResultData:        ar.ResultData,
		Error:             ar.Error(),
		CompliancePassed:  ar.CompliancePassed,
		PoliciesTriggered: ar.PoliciesTriggered,
		RequiresApproval:  ar.RequiresApproval,
		RiskScore:         ar.RiskScore,
		RiskLevel:         ar.RiskLevel,
	}
	if ar.Failure != nil {
		res.FailureKind = ar.Failure.Kind
	}
	return g.finish(started, res)
}

// consultIAP runs the external verifier ahead of local enforcement. A
// Deny fails the request, a Modify rewrites the payload, an Escalate
// parks the request on the approval queue. Transport failures leave
// the local decision in charge.
func (g *Gateway) consultIAP(ctx context.Context, requestID string, target agent.Agent, action string, payload map[string]any) (map[string]any, *fault.Failure) {
	verdict, err := g.deps.IAP.Verify(ctx, target.AgentID(), action, payload)
	if err != nil {
		g.logger.Warn("external verifier unavailable, local decision stands",
			"request_id", requestID, "error", err)
		return payload, nil
	}

	switch verdict.Verdict {
	case iap.VerdictDeny:
		return payload, fault.New(fault.KindPolicyDenied,
			"external verifier denied: %s", verdict.Reason).
			WithDetail("policy_triggered", verdict.PolicyTriggered)

	case iap.VerdictModify:
		if verdict.ModifiedPayload != nil {
			g.logger.Info("external verifier modified payload",
				"request_id", requestID, "reason", verdict.Reason)
			return verdict.ModifiedPayload, nil
		}

	case iap.VerdictEscalate:
		if g.deps.Approvals == nil {
			return payload, fault.New(fault.KindApprovalRequired,
				"external verifier escalated: %s", verdict.Reason)
		}
		approved, err := g.deps.Approvals.Submit(ctx, &approval.Request{
			AgentID:  target.AgentID(),
			Action:   action,
			Reason:   fmt.Sprintf("external verifier escalated: %s", verdict.Reason),
			PolicyID: verdict.PolicyTriggered,
			Payload:  payload,
		})
		if err != nil {
			return payload, fault.New(fault.KindApprovalRequired,
				"approval wait abandoned: %v", err)
		}
		if !approved {
			return payload, fault.New(fault.KindApprovalRequired,
				"external verifier escalated and approval was not granted: %s", verdict.Reason)
		}
	}
	return payload, nil
}

// finish stamps timing, records the request, and returns the result.
func (g *Gateway) finish(started time.Time, res RequestResult) RequestResult {
	res.DurationMS = float64(time.Since(started).Microseconds()) / 1000.0
	res.Timestamp = g.deps.now()

	outcome := "success"
	if !res.Success {
		outcome = "failure"
		if res.FailureKind != "" {
			outcome = string(res.FailureKind)
		}
	}
	agentLabel := res.RoutedTo
	if agentLabel == "" {
		agentLabel = "unrouted"
	}
	g.deps.Metrics.ObserveRequest(agentLabel, outcome, time.Since(started))
	if res.RoutedTo != "" {
		g.deps.Metrics.ObserveRiskScore(res.RoutedTo, res.RiskScore)
	}
	for _, policyID := range res.PoliciesTriggered {
		g.deps.Metrics.ObservePolicyTrigger(policyID)
	}

	details := map[string]any{
		"request_id":  res.RequestID,
		"action":      res.Action,
		"success":     res.Success,
		"duration_ms": res.DurationMS,
	}
	if res.FailureKind != "" {
		details["failure_kind"] = string(res.FailureKind)
	}
	if _, err := g.deps.Chain.Log(audit.EventRequestProcessed, res.RoutedTo, "", details); err != nil {
		g.logger.Error("failed to record request", "request_id", res.RequestID, "error", err)
	}

	if res.Success {
		g.logger.Info("request completed",
			"request_id", res.RequestID,
			"agent_id", res.RoutedTo,
			"duration_ms", res.DurationMS,
		)
	} else {
		g.logger.Warn("request failed",
			"request_id", res.RequestID,
			"agent_id", res.RoutedTo,
			"kind", string(res.FailureKind),
			"error", res.Error,
		)
	}
	return res
}

// ExecuteWorkflow runs a registered workflow through the engine.
func (g *Gateway) ExecuteWorkflow(ctx context.Context, workflowID string, params map[string]any) (*Result, error) {
	return g.engine.Execute(ctx, workflowID, params)
}

// CreateCustomWorkflow registers a one-off workflow and returns its id.
// DependsOn entries may name steps by their short form ("step_001");
// the generated workflow id is prefixed automatically.
func (g *Gateway) CreateCustomWorkflow(name string, steps []StepSpec, parallel bool) (string, error) {
	if len(steps) == 0 {
		return "", errors.New("workflow needs at least one step")
	}
	id := fmt.Sprintf("wf_custom_%04d", g.wfSeq.Add(1))
	w := NewWorkflow(id, name, parallel)
	for _, spec := range steps {
		if len(spec.DependsOn) > 0 {
			deps := make([]string, len(spec.DependsOn))
			for i, dep := range spec.DependsOn {
				if strings.HasPrefix(dep, "step_") {
					dep = id + "_" + dep
				}
				deps[i] = dep
			}
			spec.DependsOn = deps
		}
		w.AddStep(spec)
	}
	if err := g.engine.Register(w); err != nil {
		return "", err
	}
	return id, nil
}

// SystemStatus assembles the operator dashboard view.
func (g *Gateway) SystemStatus() SystemStatus {
	agents := g.router.Agents()
	stats := make([]agent.Stats, 0, len(agents))
	for _, a := range agents {
		stats = append(stats, a.Stats())
	}
	return SystemStatus{
		RequestCount: g.reqSeq.Load(),
		Agents:       stats,
		Risk:         g.deps.Risk.Dashboard(),
		Compliance:   g.deps.Compliance.Stats(),
		Workflows:    g.engine.List(),
		Capabilities: g.router.CapabilityMap(),
	}
}
