// Package orchestrator coordinates multi-agent work: the capability
// router picks the healthiest agent for an action, the handoff verifier
// gates every agent-to-agent transfer through compliance and TIRS, the
// workflow engine runs sequential and parallel step graphs, and the
// gateway fronts all of it as the single request entry point.
package orchestrator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intentguard/intentguard/internal/agent"
	"github.com/intentguard/intentguard/internal/approval"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
	"github.com/intentguard/intentguard/internal/iap"
	"github.com/intentguard/intentguard/internal/metrics"
	"github.com/intentguard/intentguard/internal/tirs"
	"github.com/intentguard/intentguard/internal/tirs/drift"
)

// Deps are the shared services the orchestration components run on.
// Approvals, IAP, Metrics, and Clock are optional; everything else is
// required.
type Deps struct {
	Registry   *capability.Registry
	Compliance *compliance.Engine
	Risk       *tirs.Service
	Chain      *audit.Chain
	Approvals  *approval.Queue
	IAP        *iap.Client
	Metrics    *metrics.Metrics
	Clock      drift.Clock
	Logger     *slog.Logger
}

func (d Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock.Now()
	}
	return time.Now()
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Status scores for candidate selection. Killed agents are never
// candidates.
const (
	scoreActive    = 10.0
	scoreThrottled = 5.0
	scorePaused    = 0.0
)

// RouteResult is one routing decision. Agent is nil when no live agent
// advertises a matching capability; Capability is still set when the
// action resolved but every candidate was unavailable.
type RouteResult struct {
	Agent        agent.Agent
	Capability   *capability.Definition
	Confidence   float64
	Alternatives []string
}

// Router maps actions onto registered agents through the capability
// registry. Selection prefers healthy agents: status first, then low
// risk, then low block rate.
type Router struct {
	mu     sync.RWMutex
	agents map[string]agent.Agent
	order  []string
	byCap  map[capability.ID][]string
	caps   *capability.Registry
	logger *slog.Logger
}

// NewRouter builds a router resolving actions against caps.
func NewRouter(caps *capability.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		agents: make(map[string]agent.Agent),
		byCap:  make(map[capability.ID][]string),
		caps:   caps,
		logger: logger.With("component", "orchestrator.Router"),
	}
}

// Register adds an agent and indexes its declared capabilities.
// Registration order breaks scoring ties, so the first-registered agent
// wins when two candidates are equally healthy.
func (r *Router) Register(a agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := a.AgentID()
	if _, exists := r.agents[id]; exists {
		return fmt.Errorf("agent %s already registered", id)
	}

	r.agents[id] = a
	r.order = append(r.order, id)
	for _, cap := range a.Capabilities() {
		r.byCap[cap] = append(r.byCap[cap], id)
	}

	r.logger.Info("agent registered",
		"agent_id", id,
		"agent_type", a.AgentType(),
		"capabilities", len(a.Capabilities()),
	)
	return nil
}

// Unregister removes an agent and its capability index entries.
func (r *Router) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return
	}
	for _, cap := range a.Capabilities() {
		ids := r.byCap[cap]
		kept := ids[:0]
		for _, id := range ids {
			if id != agentID {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(r.byCap, cap)
		} else {
			r.byCap[cap] = kept
		}
	}
	for i, id := range r.order {
		if id == agentID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	delete(r.agents, agentID)
	r.logger.Info("agent unregistered", "agent_id", agentID)
}

// Agent returns a registered agent by id.
func (r *Router) Agent(agentID string) (agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// Agents returns all registered agents in registration order.
func (r *Router) Agents() []agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agent.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// ByType returns the first-registered agent of the given type. Status
// is deliberately not checked here: a workflow step addressed to a
// killed agent must reach the handoff verifier and be blocked there,
// with the enforcement on record.
func (r *Router) ByType(agentType string) (agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if a := r.agents[id]; a.AgentType() == agentType {
			return a, true
		}
	}
	return nil, false
}

// Route resolves the action to a capability and picks the best live
// agent advertising it.
func (r *Router) Route(action string) RouteResult {
	def, ok := r.caps.Match(action)
	if !ok {
		return RouteResult{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var live []agent.Agent
	for _, id := range r.byCap[def.ID] {
		a := r.agents[id]
		if a.Stats().Status != drift.StatusKilled {
			live = append(live, a)
		}
	}
	if len(live) == 0 {
		return RouteResult{Capability: def}
	}

	best := live[0]
	bestScore := candidateScore(best.Stats())
	for _, a := range live[1:] {
		if score := candidateScore(a.Stats()); score > bestScore {
			best, bestScore = a, score
		}
	}

	var others []string
	for _, a := range live {
		if a.AgentID() != best.AgentID() {
			others = append(others, a.AgentID())
		}
	}

	return RouteResult{
		Agent:        best,
		Capability:   def,
		Confidence:   1.0,
		Alternatives: others,
	}
}

// candidateScore ranks an agent for selection: live status, then low
// current risk, then low historical block rate.
func candidateScore(s agent.Stats) float64 {
	var status float64
	switch s.Status {
	case drift.StatusThrottled:
		status = scoreThrottled
	case drift.StatusPaused:
		status = scorePaused
	default:
		status = scoreActive
	}
	return status + (10 - s.RiskScore*10) + (10 - s.BlockRate*10)
}

// CapabilityMap returns the capability → agent ids index for status
// surfaces.
func (r *Router) CapabilityMap() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.byCap))
	for cap, ids := range r.byCap {
		out[string(cap)] = append([]string(nil), ids...)
	}
	return out
}
