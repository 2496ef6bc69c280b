package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/intentguard/intentguard/internal/agent"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/config"
	"github.com/intentguard/intentguard/internal/fault"
)

// newTestEngine builds a router/verifier/engine stack on the harness
// and registers the given agents.
func newTestEngine(t *testing.T, h *harness, cfg config.OrchestratorConfig, agents ...agent.Agent) (*Engine, *Router) {
	t.Helper()
	router := NewRouter(h.deps.Registry, testLogger())
	for _, a := range agents {
		if err := router.Register(a); err != nil {
			t.Fatalf("Register(%s) error = %v", a.AgentID(), err)
		}
	}
	verifier := NewVerifier(h.deps)
	return NewEngine(cfg, router, verifier, h.deps), router
}

func TestRegisterRejectsUnknownDependency(t *testing.T) {
	h := newHarness(t)
	engine, _ := newTestEngine(t, h, config.OrchestratorConfig{})

	w := NewWorkflow("wf_bad", "", false)
	w.AddStep(StepSpec{Action: "approve_expense", DependsOn: []string{"nonexistent"}})

	if err := engine.Register(w); err == nil || !strings.Contains(err.Error(), "unknown step") {
		t.Fatalf("Register() error = %v, want unknown-step rejection", err)
	}
}

func TestSequentialWorkflowCompletes(t *testing.T) {
	h := newHarness(t)
	engine, _ := newTestEngine(t, h, config.OrchestratorConfig{}, agent.NewFinance(h.agentDeps))
	if err := RegisterTemplates(engine); err != nil {
		t.Fatalf("RegisterTemplates() error = %v", err)
	}

	res, err := engine.Execute(context.Background(), "wf_expense_approval",
		map[string]any{"amount": 42.0, "has_receipt": true})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != StatusCompleted {
		t.Fatalf("Status = %s, want %s (steps: %+v)", res.Status, StatusCompleted, res.Steps)
	}
	if res.CompletedSteps != 2 || res.TotalSteps != 2 {
		t.Errorf("steps = %d/%d completed, want 2/2", res.CompletedSteps, res.TotalSteps)
	}
	if res.Steps[0].ID != "wf_expense_approval_step_001" {
		t.Errorf("step id = %q, want wf_expense_approval_step_001", res.Steps[0].ID)
	}
	if res.Steps[0].Handoff == nil || res.Steps[0].Handoff.FromAgent != "gateway" {
		t.Errorf("first handoff from %+v, want gateway", res.Steps[0].Handoff)
	}
	if res.Steps[1].Handoff == nil || res.Steps[1].Handoff.FromAgent != "finance_agent" {
		t.Errorf("second handoff from %+v, want finance_agent", res.Steps[1].Handoff)
	}

	last, ok := engine.LastResult("wf_expense_approval")
	if !ok || last.Status != StatusCompleted {
		t.Errorf("LastResult() = %+v/%v, want the completed run", last, ok)
	}
	if got := countEvents(t, h.chain, audit.EventWorkflowStarted); got != 1 {
		t.Errorf("workflow_started events = %d, want 1", got)
	}
	if got := countEvents(t, h.chain, audit.EventWorkflowFinished); got != 1 {
		t.Errorf("workflow_finished events = %d, want 1", got)
	}
}

func TestSequentialWorkflowAbortsOnBlockedStep(t *testing.T) {
	h := newHarness(t)
	engine, _ := newTestEngine(t, h, config.OrchestratorConfig{}, agent.NewFinance(h.agentDeps))
	if err := RegisterTemplates(engine); err != nil {
		t.Fatalf("RegisterTemplates() error = %v", err)
	}

	res, err := engine.Execute(context.Background(), "wf_expense_approval",
		map[string]any{"amount": 250.0})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != StatusBlocked {
		t.Fatalf("Status = %s, want %s", res.Status, StatusBlocked)
	}
	if res.Steps[0].Status != StatusBlocked {
		t.Errorf("step 1 status = %s, want %s", res.Steps[0].Status, StatusBlocked)
	}
	if !strings.Contains(res.Steps[0].Error, "receipt") {
		t.Errorf("step 1 error = %q, want the receipt policy named", res.Steps[0].Error)
	}
	if res.Steps[1].Status != StatusPending {
		t.Errorf("step 2 status = %s, want %s: the run aborted before it", res.Steps[1].Status, StatusPending)
	}
	if got := countEvents(t, h.chain, audit.EventHandoffRejected); got != 1 {
		t.Errorf("handoff_rejected events = %d, want 1", got)
	}
}

func TestParallelWorkflowRunsDependencyLevels(t *testing.T) {
	h := newHarness(t)
	engine, _ := newTestEngine(t, h, config.OrchestratorConfig{},
		agent.NewProcurement(h.agentDeps),
		agent.NewOps(h.agentDeps),
		agent.NewLegal(h.agentDeps),
	)
	if err := RegisterTemplates(engine); err != nil {
		t.Fatalf("RegisterTemplates() error = %v", err)
	}

	res, err := engine.Execute(context.Background(), "wf_vendor_onboard",
		map[string]any{"vendor_name": "Acme Corp"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != StatusCompleted {
		t.Fatalf("Status = %s, want %s (steps: %+v)", res.Status, StatusCompleted, res.Steps)
	}
	if res.CompletedSteps != 3 {
		t.Errorf("CompletedSteps = %d, want 3", res.CompletedSteps)
	}

	drafting := res.Steps[2]
	if drafting.Action != "contract_drafting" {
		t.Fatalf("step 3 action = %q, want contract_drafting", drafting.Action)
	}
	if drafting.Handoff == nil || drafting.Handoff.FromAgent != "procurement_agent" {
		t.Errorf("drafting handoff from %+v, want procurement_agent (its first dependency)", drafting.Handoff)
	}
	byID := make(map[string]*Step, len(res.Steps))
	for _, st := range res.Steps {
		byID[st.ID] = st
	}
	for _, dep := range drafting.DependsOn {
		if byID[dep].CompletedAt.After(drafting.StartedAt) {
			t.Errorf("dependency %s completed at %v, after drafting started at %v",
				dep, byID[dep].CompletedAt, drafting.StartedAt)
		}
	}
}

func TestParallelWorkflowBlocksDependents(t *testing.T) {
	h := newHarness(t)
	engine, _ := newTestEngine(t, h, config.OrchestratorConfig{}, agent.NewFinance(h.agentDeps))

	w := NewWorkflow("wf_block_chain", "Blocked dependency", true)
	first := w.AddStep(StepSpec{
		Action:    "approve_expense",
		AgentType: "finance",
		Payload:   map[string]any{"amount": 250.0},
	})
	w.AddStep(StepSpec{
		Action:    "process_payment",
		AgentType: "finance",
		DependsOn: []string{first},
	})
	if err := engine.Register(w); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := engine.Execute(context.Background(), "wf_block_chain", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != StatusBlocked {
		t.Fatalf("Status = %s, want %s", res.Status, StatusBlocked)
	}
	if res.BlockedSteps != 2 {
		t.Errorf("BlockedSteps = %d, want 2", res.BlockedSteps)
	}
	if res.Steps[1].Status != StatusBlocked {
		t.Errorf("dependent status = %s, want %s", res.Steps[1].Status, StatusBlocked)
	}
	if !strings.Contains(res.Steps[1].Error, "did not complete") {
		t.Errorf("dependent error = %q, want the unmet dependency named", res.Steps[1].Error)
	}
}

func TestCircularDependencyBlocksRun(t *testing.T) {
	h := newHarness(t)
	engine, _ := newTestEngine(t, h, config.OrchestratorConfig{}, agent.NewFinance(h.agentDeps))

	w := NewWorkflow("wf_cycle", "Cycle", true)
	w.AddStep(StepSpec{Action: "approve_expense", AgentType: "finance", DependsOn: []string{"wf_cycle_step_002"}})
	w.AddStep(StepSpec{Action: "process_payment", AgentType: "finance", DependsOn: []string{"wf_cycle_step_001"}})
	if err := engine.Register(w); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := engine.Execute(context.Background(), "wf_cycle", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != StatusBlocked {
		t.Fatalf("Status = %s, want %s", res.Status, StatusBlocked)
	}
	for _, st := range res.Steps {
		if st.Status != StatusBlocked || st.Error != "circular dependency" {
			t.Errorf("step %s = %s (%q), want blocked with circular dependency", st.ID, st.Status, st.Error)
		}
	}
}

func TestWorkflowContextFlowsBetweenSteps(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	payloads := make(map[string]map[string]any)
	reporter := &stubAgent{
		id:   "reporter_1",
		typ:  "analytics",
		caps: []capability.ID{"analytics.generate_report/v1"},
		exec: func(_ context.Context, action string, payload, reqCtx map[string]any) agent.ActionResult {
			stepID, _ := reqCtx["step_id"].(string)
			mu.Lock()
			payloads[stepID] = payload
			mu.Unlock()
			return agent.ActionResult{
				Success:          true,
				Action:           action,
				AgentID:          "reporter_1",
				ResultData:       map[string]any{"rows": 12},
				CompliancePassed: true,
			}
		},
	}
	engine, _ := newTestEngine(t, h, config.OrchestratorConfig{}, reporter)

	w := NewWorkflow("wf_ctx", "Context flow", false)
	w.AddStep(StepSpec{Action: "generate_report", Payload: map[string]any{"scope": "draft"}})
	w.AddStep(StepSpec{Action: "generate_report"})
	if err := engine.Register(w); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := engine.Execute(context.Background(), "wf_ctx", map[string]any{"region": "emea"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("Status = %s, want %s", res.Status, StatusCompleted)
	}

	mu.Lock()
	defer mu.Unlock()

	first := payloads["wf_ctx_step_001"]
	if first["region"] != "emea" || first["scope"] != "draft" {
		t.Errorf("step 1 payload = %v, want params merged over the declared payload", first)
	}

	second := payloads["wf_ctx_step_002"]
	if second["region"] != "emea" {
		t.Errorf("step 2 payload = %v, want workflow params present", second)
	}
	prior, ok := second["wf_ctx_step_001_result"].(map[string]any)
	if !ok || prior["rows"] != 12 {
		t.Errorf("step 2 payload = %v, want the first step's result under wf_ctx_step_001_result", second)
	}
}

func TestWorkflowAdmissionLimit(t *testing.T) {
	h := newHarness(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	slow := &stubAgent{
		id:   "reporter_1",
		typ:  "analytics",
		caps: []capability.ID{"analytics.generate_report/v1"},
		exec: func(_ context.Context, action string, _, _ map[string]any) agent.ActionResult {
			started <- struct{}{}
			<-release
			return agent.ActionResult{Success: true, Action: action, AgentID: "reporter_1", CompliancePassed: true}
		},
	}
	engine, _ := newTestEngine(t, h, config.OrchestratorConfig{MaxConcurrentWorkflows: 1}, slow)

	w := NewWorkflow("wf_slow", "Slow", false)
	w.AddStep(StepSpec{Action: "generate_report"})
	if err := engine.Register(w); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := engine.Execute(context.Background(), "wf_slow", nil)
		done <- outcome{res, err}
	}()

	<-started
	if _, err := engine.Execute(context.Background(), "wf_slow", nil); !errors.Is(err, ErrWorkflowLimit) {
		t.Errorf("second Execute() error = %v, want ErrWorkflowLimit", err)
	}

	close(release)
	out := <-done
	if out.err != nil {
		t.Fatalf("first Execute() error = %v", out.err)
	}
	if out.res.Status != StatusCompleted {
		t.Errorf("first run status = %s, want %s", out.res.Status, StatusCompleted)
	}
}

func TestStepTimeoutFailsStep(t *testing.T) {
	h := newHarness(t)

	sleeper := &stubAgent{
		id:   "reporter_1",
		typ:  "analytics",
		caps: []capability.ID{"analytics.generate_report/v1"},
		exec: func(ctx context.Context, action string, _, _ map[string]any) agent.ActionResult {
			<-ctx.Done()
			return agent.ActionResult{
				Action:  action,
				AgentID: "reporter_1",
				Failure: fault.New(fault.KindDeadlineExceeded, "report generation interrupted: %v", ctx.Err()),
			}
		},
	}
	engine, _ := newTestEngine(t, h, config.OrchestratorConfig{StepTimeout: 50 * time.Millisecond}, sleeper)

	w := NewWorkflow("wf_stuck", "Stuck", false)
	w.AddStep(StepSpec{Action: "generate_report"})
	if err := engine.Register(w); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := engine.Execute(context.Background(), "wf_stuck", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != StatusFailed {
		t.Fatalf("Status = %s, want %s", res.Status, StatusFailed)
	}
	if res.Steps[0].Status != StatusFailed {
		t.Errorf("step status = %s, want %s", res.Steps[0].Status, StatusFailed)
	}
	if !strings.Contains(res.Steps[0].Error, "deadline") && !strings.Contains(res.Steps[0].Error, "interrupted") {
		t.Errorf("step error = %q, want the timeout surfaced", res.Steps[0].Error)
	}
}
