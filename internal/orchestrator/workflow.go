package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intentguard/intentguard/internal/agent"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/config"
	"github.com/intentguard/intentguard/internal/fault"
)

// ErrWorkflowLimit is returned when the engine is already running its
// configured maximum of concurrent workflows.
var ErrWorkflowLimit = errors.New("concurrent workflow limit reached")

// Status tracks a workflow or step through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
)

// StepSpec defines one step of a workflow: what to do, optionally who
// should do it, and which earlier steps must complete first.
type StepSpec struct {
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	AgentType string         `json:"agent_type,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
}

// Workflow is a step graph. Definitions are immutable once registered:
// every execution works on its own run state, so a template can run
// concurrently with itself.
type Workflow struct {
	ID       string
	Name     string
	Parallel bool

	steps []boundStep
}

type boundStep struct {
	id   string
	spec StepSpec
}

// NewWorkflow starts an empty workflow definition.
func NewWorkflow(id, name string, parallel bool) *Workflow {
	if name == "" {
		name = id
	}
	return &Workflow{ID: id, Name: name, Parallel: parallel}
}

// AddStep appends a step and returns its assigned id, of the form
// {workflow_id}_step_{NNN}. DependsOn entries reference these ids.
func (w *Workflow) AddStep(spec StepSpec) string {
	id := fmt.Sprintf("%s_step_%03d", w.ID, len(w.steps)+1)
	w.steps = append(w.steps, boundStep{id: id, spec: spec})
	return id
}

// StepCount returns the number of defined steps.
func (w *Workflow) StepCount() int { return len(w.steps) }

// Step is the run-state record of one executed (or skipped) step.
type Step struct {
	ID        string         `json:"step_id"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	AgentType string         `json:"agent_type,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`

	Status  Status              `json:"status"`
	AgentID string              `json:"agent_id,omitempty"`
	Handoff *HandoffResult      `json:"handoff,omitempty"`
	Result  *agent.ActionResult `json:"result,omitempty"`
	Error   string              `json:"error,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Result aggregates one workflow run.
type Result struct {
	WorkflowID string  `json:"workflow_id"`
	Name       string  `json:"name"`
	Status     Status  `json:"status"`
	Steps      []*Step `json:"steps"`

	TotalSteps     int `json:"total_steps"`
	CompletedSteps int `json:"completed_steps"`
	FailedSteps    int `json:"failed_steps"`
	BlockedSteps   int `json:"blocked_steps"`

	MaxRiskScore    float64   `json:"max_risk_score"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// WorkflowInfo is the listing view of a registered workflow.
type WorkflowInfo struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name"`
	Steps      int    `json:"steps"`
	Parallel   bool   `json:"parallel"`
}

// Engine executes registered workflows. Every step passes through the
// handoff verifier before its agent runs, and the engine bounds both
// concurrent workflows and concurrent parallel steps.
type Engine struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	order     []string
	results   map[string]*Result

	router   *Router
	verifier *Verifier
	deps     Deps

	maxParallel    int
	stepTimeout    time.Duration
	requestTimeout time.Duration
	running        chan struct{}

	logger *slog.Logger
}

// NewEngine builds a workflow engine. Zero config values fall back to
// the defaults: 5 concurrent workflows, 4 parallel steps, 30s per step,
// 300s per run.
func NewEngine(cfg config.OrchestratorConfig, router *Router, verifier *Verifier, deps Deps) *Engine {
	if cfg.MaxConcurrentWorkflows <= 0 {
		cfg.MaxConcurrentWorkflows = 5
	}
	if cfg.MaxParallelSteps <= 0 {
		cfg.MaxParallelSteps = 4
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 300 * time.Second
	}
	return &Engine{
		workflows:      make(map[string]*Workflow),
		results:        make(map[string]*Result),
		router:         router,
		verifier:       verifier,
		deps:           deps,
		maxParallel:    cfg.MaxParallelSteps,
		stepTimeout:    cfg.StepTimeout,
		requestTimeout: cfg.RequestTimeout,
		running:        make(chan struct{}, cfg.MaxConcurrentWorkflows),
		logger:         deps.logger().With("component", "orchestrator.Engine"),
	}
}

// Register adds a workflow definition. Dependencies must reference step
// ids already defined in the same workflow.
func (e *Engine) Register(w *Workflow) error {
	if w.ID == "" {
		return errors.New("workflow id is empty")
	}
	known := make(map[string]bool, len(w.steps))
	for _, st := range w.steps {
		known[st.id] = true
	}
	for _, st := range w.steps {
		for _, dep := range st.spec.DependsOn {
			if !known[dep] {
				return fmt.Errorf("workflow %s: step %s depends on unknown step %q", w.ID, st.id, dep)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[w.ID]; exists {
		return fmt.Errorf("workflow %s already registered", w.ID)
	}
	e.workflows[w.ID] = w
	e.order = append(e.order, w.ID)
	e.logger.Info("workflow registered", "workflow_id", w.ID, "steps", len(w.steps), "parallel", w.Parallel)
	return nil
}

// Workflow returns a registered definition by id.
func (e *Engine) Workflow(workflowID string) (*Workflow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workflows[workflowID]
	return w, ok
}

// List returns all registered workflows in registration order.
func (e *Engine) List() []WorkflowInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]WorkflowInfo, 0, len(e.order))
	for _, id := range e.order {
		w := e.workflows[id]
		out = append(out, WorkflowInfo{
			WorkflowID: w.ID,
			Name:       w.Name,
			Steps:      len(w.steps),
			Parallel:   w.Parallel,
		})
	}
	return out
}

// LastResult returns the most recent run result for a workflow.
func (e *Engine) LastResult(workflowID string) (*Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res, ok := e.results[workflowID]
	return res, ok
}

// Execute runs a registered workflow with the given parameters. The
// parameters seed the shared run context, which accumulates each
// completed step's result data under "{step_id}_result". Admission is
// non-blocking: when the concurrency limit is reached the run is
// rejected with ErrWorkflowLimit rather than queued.
func (e *Engine) Execute(ctx context.Context, workflowID string, params map[string]any) (*Result, error) {
	e.mu.RLock()
	w, ok := e.workflows[workflowID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %q not registered", workflowID)
	}

	select {
	case e.running <- struct{}{}:
	default:
		return nil, ErrWorkflowLimit
	}
	defer func() { <-e.running }()

	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	started := time.Now()
	r := newRun(w, params)

	e.logger.Info("workflow started", "workflow_id", w.ID, "name", w.Name, "steps", len(r.steps))
	if _, err := e.deps.Chain.Log(audit.EventWorkflowStarted, "", "", map[string]any{
		"workflow_id": w.ID,
		"name":        w.Name,
		"steps":       len(r.steps),
	}); err != nil {
		e.logger.Error("failed to record workflow start", "workflow_id", w.ID, "error", err)
	}

	if w.Parallel {
		e.runParallel(ctx, r)
	} else {
		e.runSequential(ctx, r)
	}

	res := r.summarize(started, time.Now())
	e.mu.Lock()
	e.results[w.ID] = res
	e.mu.Unlock()

	if _, err := e.deps.Chain.Log(audit.EventWorkflowFinished, "", "", map[string]any{
		"workflow_id":     w.ID,
		"status":          string(res.Status),
		"completed_steps": res.CompletedSteps,
		"failed_steps":    res.FailedSteps,
		"blocked_steps":   res.BlockedSteps,
		"max_risk_score":  res.MaxRiskScore,
	}); err != nil {
		e.logger.Error("failed to record workflow finish", "workflow_id", w.ID, "error", err)
	}
	e.deps.Metrics.ObserveWorkflow(w.ID, string(res.Status), time.Since(started))

	e.logger.Info("workflow finished",
		"workflow_id", w.ID,
		"status", string(res.Status),
		"completed", res.CompletedSteps,
		"total", res.TotalSteps,
	)
	return res, nil
}

// run is the mutable state of one workflow execution.
type run struct {
	workflow *Workflow
	steps    []*Step
	byID     map[string]*Step

	mu      sync.Mutex
	context map[string]any
}

func newRun(w *Workflow, params map[string]any) *run {
	r := &run{
		workflow: w,
		byID:     make(map[string]*Step, len(w.steps)),
		context:  make(map[string]any, len(params)+len(w.steps)),
	}
	for k, v := range params {
		r.context[k] = v
	}
	for _, bs := range w.steps {
		st := &Step{
			ID:        bs.id,
			Action:    bs.spec.Action,
			Payload:   bs.spec.Payload,
			AgentType: bs.spec.AgentType,
			DependsOn: bs.spec.DependsOn,
			Status:    StatusPending,
		}
		r.steps = append(r.steps, st)
		r.byID[bs.id] = st
	}
	return r
}

// stepInputs builds the merged payload and request context for a step.
// The run context overlays the step's declared payload, so workflow
// parameters and earlier results flow into later steps.
func (r *run) stepInputs(st *Step) (payload, reqCtx map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload = make(map[string]any, len(st.Payload)+len(r.context))
	for k, v := range st.Payload {
		payload[k] = v
	}
	for k, v := range r.context {
		payload[k] = v
	}

	reqCtx = make(map[string]any, len(r.context)+2)
	for k, v := range r.context {
		reqCtx[k] = v
	}
	reqCtx["workflow_id"] = r.workflow.ID
	reqCtx["step_id"] = st.ID
	return payload, reqCtx
}

func (r *run) record(stepID string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.context[stepID+"_result"] = data
}

// runSequential executes steps in order. The first step that does not
// complete aborts the run: a guarded workflow must not keep going once
// a step has been blocked or has failed, because later steps assume the
// earlier effects happened.
func (e *Engine) runSequential(ctx context.Context, r *run) {
	from := "gateway"
	for _, st := range r.steps {
		if err := ctx.Err(); err != nil {
			return
		}
		e.runStep(ctx, r, st, from)
		if st.Status != StatusCompleted {
			return
		}
		from = st.AgentID
	}
}

// runParallel executes steps level by level: a step's level is one past
// its deepest dependency. Steps inside a level run concurrently under
// the parallel-step limit. Once any step fails or blocks, no further
// level starts; in-flight steps drain before the run reports.
func (e *Engine) runParallel(ctx context.Context, r *run) {
	levels := r.levels()
	sem := make(chan struct{}, e.maxParallel)

	for _, level := range levels {
		if ctx.Err() != nil {
			r.blockPending("workflow cancelled")
			return
		}

		var wg sync.WaitGroup
		for _, st := range level {
			if st.Status != StatusPending {
				continue
			}
			if unmet := r.unmetDependency(st); unmet != "" {
				st.Status = StatusBlocked
				st.Error = fmt.Sprintf("dependency %s did not complete", unmet)
				continue
			}

			wg.Add(1)
			go func(st *Step) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				if err := ctx.Err(); err != nil {
					st.Status = StatusFailed
					st.Error = err.Error()
					return
				}
				e.runStep(ctx, r, st, r.handoffSource(st))
			}(st)
		}
		wg.Wait()

		for _, st := range level {
			if st.Status == StatusFailed || st.Status == StatusBlocked {
				r.blockPending("earlier step did not complete")
				return
			}
		}
	}
}

// runStep resolves an agent, verifies the handoff, and executes. The
// step record carries everything that happened.
func (e *Engine) runStep(ctx context.Context, r *run, st *Step, from string) {
	target := e.resolve(st)
	if target == nil {
		st.Status = StatusFailed
		st.Error = fmt.Sprintf("no agent available for action %q", st.Action)
		e.logger.Error("workflow step has no agent", "step_id", st.ID, "action", st.Action)
		return
	}

	st.AgentID = target.AgentID()
	st.Status = StatusRunning
	st.StartedAt = time.Now()
	defer func() { st.CompletedAt = time.Now() }()

	payload, reqCtx := r.stepInputs(st)

	handoff := e.verifier.Verify(ctx, from, target, st.Action, payload, reqCtx)
	st.Handoff = &handoff
	if !handoff.Allowed {
		st.Status = StatusBlocked
		st.Error = handoff.BlockedReason
		return
	}
	if handoff.ModifiedPayload != nil {
		payload = handoff.ModifiedPayload
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	result := target.Execute(stepCtx, st.Action, payload, reqCtx)
	cancel()
	st.Result = &result

	switch {
	case result.Success:
		st.Status = StatusCompleted
		r.record(st.ID, result.ResultData)
		e.logger.Info("workflow step completed",
			"step_id", st.ID, "agent_id", st.AgentID, "risk_score", result.RiskScore)
	case result.Failure != nil && isBlockKind(result.Failure.Kind):
		st.Status = StatusBlocked
		st.Error = result.Error()
		e.logger.Warn("workflow step blocked",
			"step_id", st.ID, "agent_id", st.AgentID, "reason", st.Error)
	default:
		st.Status = StatusFailed
		st.Error = result.Error()
		e.logger.Error("workflow step failed",
			"step_id", st.ID, "agent_id", st.AgentID, "error", st.Error)
	}
}

// resolve finds the agent for a step: the type hint first, then
// capability routing. A hinted agent is returned even when paused or
// killed so the handoff verifier records the enforcement block.
func (e *Engine) resolve(st *Step) agent.Agent {
	if st.AgentType != "" {
		if a, ok := e.router.ByType(st.AgentType); ok {
			return a
		}
	}
	if rr := e.router.Route(st.Action); rr.Agent != nil {
		return rr.Agent
	}
	return nil
}

// isBlockKind reports whether the failure is a guardrail block rather
// than an execution fault.
func isBlockKind(k fault.Kind) bool {
	switch k {
	case fault.KindPolicyDenied, fault.KindApprovalRequired,
		fault.KindAgentNotExecutable, fault.KindRiskThresholdExceeded:
		return true
	}
	return false
}

// levels groups steps so every step lands one level past its deepest
// dependency. Steps in a dependency cycle are blocked immediately.
func (r *run) levels() [][]*Step {
	assigned := make(map[string]bool, len(r.steps))
	var levels [][]*Step

	for len(assigned) < len(r.steps) {
		var level []*Step
		for _, st := range r.steps {
			if assigned[st.ID] {
				continue
			}
			ready := true
			for _, dep := range st.DependsOn {
				if !assigned[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, st)
			}
		}
		if len(level) == 0 {
			for _, st := range r.steps {
				if !assigned[st.ID] {
					st.Status = StatusBlocked
					st.Error = "circular dependency"
					assigned[st.ID] = true
				}
			}
			break
		}
		for _, st := range level {
			assigned[st.ID] = true
		}
		levels = append(levels, level)
	}
	return levels
}

// unmetDependency returns the id of the first dependency that did not
// complete, or "" when all completed. Dependencies always live in
// earlier levels, so their status is final by the time this runs.
func (r *run) unmetDependency(st *Step) string {
	for _, dep := range st.DependsOn {
		if d, ok := r.byID[dep]; !ok || d.Status != StatusCompleted {
			return dep
		}
	}
	return ""
}

// handoffSource names the handing-off party for a step: the agent that
// completed its first dependency, or the gateway for roots.
func (r *run) handoffSource(st *Step) string {
	for _, dep := range st.DependsOn {
		if d, ok := r.byID[dep]; ok && d.AgentID != "" {
			return d.AgentID
		}
	}
	return "gateway"
}

// blockPending marks every still-pending step blocked with the reason.
func (r *run) blockPending(reason string) {
	for _, st := range r.steps {
		if st.Status == StatusPending {
			st.Status = StatusBlocked
			st.Error = reason
		}
	}
}

// summarize folds the run state into a Result.
func (r *run) summarize(started, completed time.Time) *Result {
	res := &Result{
		WorkflowID:      r.workflow.ID,
		Name:            r.workflow.Name,
		Steps:           r.steps,
		TotalSteps:      len(r.steps),
		StartedAt:       started,
		CompletedAt:     completed,
		DurationSeconds: completed.Sub(started).Seconds(),
	}
	for _, st := range r.steps {
		switch st.Status {
		case StatusCompleted:
			res.CompletedSteps++
		case StatusFailed:
			res.FailedSteps++
		case StatusBlocked:
			res.BlockedSteps++
		}
		if st.Result != nil && st.Result.RiskScore > res.MaxRiskScore {
			res.MaxRiskScore = st.Result.RiskScore
		}
		if st.Handoff != nil && st.Handoff.RiskScore > res.MaxRiskScore {
			res.MaxRiskScore = st.Handoff.RiskScore
		}
	}

	switch {
	case res.FailedSteps > 0:
		res.Status = StatusFailed
	case res.BlockedSteps > 0:
		res.Status = StatusBlocked
	case res.CompletedSteps == res.TotalSteps:
		res.Status = StatusCompleted
	default:
		res.Status = StatusFailed
	}
	return res
}
