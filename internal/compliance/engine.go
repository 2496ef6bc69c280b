package compliance

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/intentguard/intentguard/internal/capability"
)

// Aggregate is the merged outcome of evaluating every applicable policy
// against one action.
type Aggregate struct {
	Action   string   `json:"action"`
	Allowed  bool     `json:"allowed"`
	Verdict  Verdict  `json:"verdict"`
	Severity Severity `json:"severity"`

	Results []Result `json:"results"`

	Evaluated int `json:"policies_evaluated"`
	Passed    int `json:"policies_passed"`
	Failed    int `json:"policies_failed"`
	Warned    int `json:"policies_warned"`

	// PrimaryBlocker is the highest-severity Deny (ties to the earliest
	// evaluated), or the deciding Escalate/Modify when no Deny fired.
	PrimaryBlocker *Result `json:"primary_blocker,omitempty"`

	Suggestions []string `json:"suggestions,omitempty"`

	// MergedPayload is non-nil only when at least one Modify fired: the
	// original payload overlaid with each modification in result order.
	MergedPayload map[string]any `json:"merged_payload,omitempty"`

	// UnknownFields lists payload keys outside the capability schema.
	// They are preserved in the payload but flagged here.
	UnknownFields []string `json:"unknown_fields,omitempty"`

	TotalRiskDelta float64 `json:"total_risk_delta"`

	Timestamp time.Time `json:"timestamp"`
	ElapsedMS float64   `json:"elapsed_ms"`
}

// RequiresApproval reports whether the aggregate verdict parks the action
// pending human approval.
func (a *Aggregate) RequiresApproval() bool { return a.Verdict == VerdictEscalate }

// PolicyIDsTriggered returns the ids of every policy that did not allow.
func (a *Aggregate) PolicyIDsTriggered() []string {
	var ids []string
	for _, r := range a.Results {
		if r.Verdict != VerdictAllow {
			ids = append(ids, r.PolicyID)
		}
	}
	return ids
}

// BlockReason returns the primary blocker's reason, or a generic message.
func (a *Aggregate) BlockReason() string {
	if a.PrimaryBlocker != nil {
		return a.PrimaryBlocker.Reason
	}
	return "policy denied"
}

// FirstSuggestion returns the first aggregated suggestion, if any.
func (a *Aggregate) FirstSuggestion() string {
	if len(a.Suggestions) > 0 {
		return a.Suggestions[0]
	}
	return ""
}

// Engine evaluates registered policies and merges their results. The
// policy set is built at startup and effectively immutable afterwards;
// registry-backed policies mutate their own internal state under their
// own locks. Evaluation is CPU-bound and never blocks on I/O.
type Engine struct {
	mu       sync.RWMutex
	ordered  []Policy
	byID     map[string]Policy
	caps     *capability.Registry
	logger   *slog.Logger
	schemaOn bool

	evaluations atomic.Uint64
	violations  atomic.Uint64
}

// NewEngine creates an Engine. caps supplies per-capability payload
// schemas consulted before policy evaluation; pass nil to skip schema
// checks entirely.
func NewEngine(caps *capability.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		byID:     make(map[string]Policy),
		caps:     caps,
		schemaOn: caps != nil,
		logger:   logger.With("component", "compliance.Engine"),
	}
}

// Register adds a policy. Evaluation order equals registration order, so
// catalogs register domains deterministically.
func (e *Engine) Register(p Policy) error {
	meta := p.Meta()
	if meta.ID == "" {
		return fmt.Errorf("policy has empty id")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.byID[meta.ID]; exists {
		return fmt.Errorf("policy %q already registered", meta.ID)
	}
	e.byID[meta.ID] = p
	e.ordered = append(e.ordered, p)
	return nil
}

// Unregister removes a policy by id.
func (e *Engine) Unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[id]; !ok {
		return
	}
	delete(e.byID, id)
	for i, p := range e.ordered {
		if p.Meta().ID == id {
			e.ordered = append(e.ordered[:i], e.ordered[i+1:]...)
			break
		}
	}
}

// ReplaceCategory swaps every policy of one category for the given set
// under a single lock, so concurrent evaluations see either the old set
// or the new one, never a mix. Hot reload of the operator rule file
// goes through here.
func (e *Engine) ReplaceCategory(cat Category, policies []Policy) error {
	for _, p := range policies {
		meta := p.Meta()
		if meta.ID == "" {
			return fmt.Errorf("policy has empty id")
		}
		if meta.Category != cat {
			return fmt.Errorf("policy %q is %s, not %s", meta.ID, meta.Category, cat)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.ordered[:0]
	for _, p := range e.ordered {
		if p.Meta().Category == cat {
			delete(e.byID, p.Meta().ID)
			continue
		}
		kept = append(kept, p)
	}
	e.ordered = kept

	for _, p := range policies {
		id := p.Meta().ID
		if _, exists := e.byID[id]; exists {
			return fmt.Errorf("policy %q already registered", id)
		}
		e.byID[id] = p
		e.ordered = append(e.ordered, p)
	}
	return nil
}

// Policy returns a registered policy by id.
func (e *Engine) Policy(id string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.byID[id]
	return p, ok
}

// SetPolicyEnabled toggles a policy without unregistering it.
func (e *Engine) SetPolicyEnabled(id string, enabled bool) bool {
	p, ok := e.Policy(id)
	if !ok {
		return false
	}
	p.SetEnabled(enabled)
	return true
}

// Policies returns registered policies, optionally filtered by category,
// in registration order.
func (e *Engine) Policies(categories ...Category) []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(categories) == 0 {
		out := make([]Policy, len(e.ordered))
		copy(out, e.ordered)
		return out
	}

	want := make(map[Category]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}
	var out []Policy
	for _, p := range e.ordered {
		if want[p.Meta().Category] {
			out = append(out, p)
		}
	}
	return out
}

// Evaluate runs every applicable policy against the action and merges the
// results. categories scopes evaluation; empty means all policies.
func (e *Engine) Evaluate(action string, payload, context map[string]any, categories ...Category) Aggregate {
	start := time.Now()
	if payload == nil {
		payload = map[string]any{}
	}
	if context == nil {
		context = map[string]any{}
	}

	var results []Result
	var suggestions []string
	var unknown []string

	// Schema check first: a malformed payload never reaches the domain
	// policies. Unknown fields are flagged but preserved.
	if e.schemaOn {
		if def, ok := e.caps.Match(action); ok && def.Schema != nil {
			v := def.Schema.Validate(payload)
			unknown = v.UnknownFields
			if !v.Valid() {
				results = append(results, schemaViolation(def.ID, v))
			}
		}
	}

	for _, p := range e.Policies(categories...) {
		if !p.Enabled() {
			continue
		}
		r := p.Evaluate(action, payload, context)
		results = append(results, r)
		if r.Suggestion != "" {
			suggestions = append(suggestions, fmt.Sprintf("[%s] %s", r.PolicyID, r.Suggestion))
		}
	}

	agg := e.merge(action, payload, results, suggestions)
	agg.UnknownFields = unknown
	agg.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000

	if !agg.Allowed || agg.Verdict == VerdictEscalate {
		e.logger.Warn("policy triggered",
			"action", action,
			"verdict", string(agg.Verdict),
			"policy", blockerID(agg.PrimaryBlocker),
			"reason", agg.BlockReason(),
			"agent_id", stringAt(context, "agent_id"),
		)
	}

	return agg
}

// merge folds per-policy results into the aggregate verdict. Precedence:
// Deny > Escalate > Modify > Warn > Allow. Allowed means no Deny fired;
// an Escalate aggregate is not denied but requires approval before the
// action proceeds.
func (e *Engine) merge(action string, payload map[string]any, results []Result, suggestions []string) Aggregate {
	e.evaluations.Add(1)

	agg := Aggregate{
		Action:      action,
		Allowed:     true,
		Verdict:     VerdictAllow,
		Severity:    SeverityLow,
		Results:     results,
		Evaluated:   len(results),
		Suggestions: suggestions,
		Timestamp:   time.Now(),
	}
	if len(results) == 0 {
		return agg
	}

	var firstEscalate, firstModify, firstWarn *Result
	var denies []int

	for i := range results {
		r := &results[i]
		agg.TotalRiskDelta += r.RiskDelta
		if r.Severity > agg.Severity {
			agg.Severity = r.Severity
		}

		switch r.Verdict {
		case VerdictAllow:
			agg.Passed++
		case VerdictDeny:
			agg.Failed++
			denies = append(denies, i)
		case VerdictEscalate:
			agg.Failed++
			if firstEscalate == nil || r.Severity > firstEscalate.Severity {
				firstEscalate = r
			}
		case VerdictModify:
			if firstModify == nil {
				firstModify = r
			}
		case VerdictWarn:
			agg.Warned++
			if firstWarn == nil {
				firstWarn = r
			}
		}
	}

	switch {
	case len(denies) > 0:
		agg.Allowed = false
		agg.Verdict = VerdictDeny
		// Highest severity wins; ties go to the earliest evaluated.
		best := denies[0]
		for _, i := range denies[1:] {
			if results[i].Severity > results[best].Severity {
				best = i
			}
		}
		agg.PrimaryBlocker = &results[best]
		e.violations.Add(1)

	case firstEscalate != nil:
		agg.Verdict = VerdictEscalate
		agg.PrimaryBlocker = firstEscalate
		e.violations.Add(1)

	case firstModify != nil:
		agg.Verdict = VerdictModify
		agg.PrimaryBlocker = firstModify
		agg.MergedPayload = overlayModifications(payload, results)

	case firstWarn != nil:
		agg.Verdict = VerdictWarn
	}

	return agg
}

// overlayModifications applies every Modify result's rewrite over the
// original payload, in evaluation order.
func overlayModifications(payload map[string]any, results []Result) map[string]any {
	merged := make(map[string]any, len(payload))
	for k, v := range payload {
		merged[k] = v
	}
	for _, r := range results {
		if r.Verdict != VerdictModify {
			continue
		}
		for k, v := range r.ModifiedPayload {
			merged[k] = v
		}
	}
	return merged
}

func schemaViolation(id capability.ID, v capability.Validation) Result {
	return Result{
		PolicyID:   "SCHEMA-001",
		PolicyName: "Payload Schema",
		Category:   CategorySchema,
		Verdict:    VerdictDeny,
		Severity:   SeverityMedium,
		Allowed:    false,
		Reason:     fmt.Sprintf("payload for %s failed schema checks: %s", id, strings.Join(v.Violations, "; ")),
		Suggestion: "Correct the payload fields and resubmit",
		RiskDelta:  0.1 * float64(SeverityMedium),
		Timestamp:  time.Now(),
	}
}

func blockerID(r *Result) string {
	if r == nil {
		return ""
	}
	return r.PolicyID
}

// EngineStats summarizes the engine's policy set and evaluation history.
type EngineStats struct {
	TotalPolicies    int              `json:"total_policies"`
	ByCategory       map[Category]int `json:"by_category"`
	BySeverity       map[string]int   `json:"by_severity"`
	TotalEvaluations uint64           `json:"total_evaluations"`
	TotalViolations  uint64           `json:"total_violations"`
	ViolationRate    float64          `json:"violation_rate"`
}

// Stats returns engine-level counters and a breakdown of the policy set.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := EngineStats{
		TotalPolicies:    len(e.ordered),
		ByCategory:       make(map[Category]int),
		BySeverity:       make(map[string]int),
		TotalEvaluations: e.evaluations.Load(),
		TotalViolations:  e.violations.Load(),
	}
	for _, p := range e.ordered {
		meta := p.Meta()
		stats.ByCategory[meta.Category]++
		stats.BySeverity[meta.Severity.String()]++
	}
	if stats.TotalEvaluations > 0 {
		stats.ViolationRate = float64(stats.TotalViolations) / float64(stats.TotalEvaluations)
	}
	return stats
}

// PolicyViolations is one row of the violation summary.
type PolicyViolations struct {
	PolicyID      string   `json:"policy_id"`
	Name          string   `json:"name"`
	Category      Category `json:"category"`
	Severity      Severity `json:"severity"`
	Evaluations   uint64   `json:"evaluation_count"`
	Violations    uint64   `json:"violation_count"`
	ViolationRate float64  `json:"violation_rate"`
}

// ViolationSummary lists policies that have denied at least once, worst
// offenders first.
func (e *Engine) ViolationSummary() []PolicyViolations {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []PolicyViolations
	for _, p := range e.ordered {
		st := p.Stats()
		if st.Violations == 0 {
			continue
		}
		meta := p.Meta()
		row := PolicyViolations{
			PolicyID:    meta.ID,
			Name:        meta.Name,
			Category:    meta.Category,
			Severity:    meta.Severity,
			Evaluations: st.Evaluations,
			Violations:  st.Violations,
		}
		if st.Evaluations > 0 {
			row.ViolationRate = float64(st.Violations) / float64(st.Evaluations)
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Violations != out[j].Violations {
			return out[i].Violations > out[j].Violations
		}
		return out[i].PolicyID < out[j].PolicyID
	})
	return out
}
