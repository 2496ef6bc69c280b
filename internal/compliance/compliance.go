// Package compliance evaluates governance policies against agent actions.
// Policies come in three shapes — ordered rule lists, numeric thresholds,
// and membership registries — plus CEL expressions for operator-defined
// conditions. Every policy returns a structured Result; the Engine merges
// results into a single Aggregate with a deterministic verdict.
package compliance

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// Verdict is the decision a policy (or the merged aggregate) reaches.
type Verdict string

const (
	VerdictAllow    Verdict = "allow"
	VerdictModify   Verdict = "modify"
	VerdictWarn     Verdict = "warn"
	VerdictEscalate Verdict = "escalate"
	VerdictDeny     Verdict = "deny"
)

// Severity grades how serious a policy violation is. The numeric value
// feeds risk deltas: a Deny contributes 0.1 × severity.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalJSON emits the severity name rather than the numeric rank.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the name or the numeric rank.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch name {
		case "low":
			*s = SeverityLow
		case "medium":
			*s = SeverityMedium
		case "high":
			*s = SeverityHigh
		case "critical":
			*s = SeverityCritical
		default:
			return fmt.Errorf("unknown severity %q", name)
		}
		return nil
	}
	var rank int
	if err := json.Unmarshal(data, &rank); err != nil {
		return err
	}
	if rank < int(SeverityLow) || rank > int(SeverityCritical) {
		return fmt.Errorf("severity rank %d out of range", rank)
	}
	*s = Severity(rank)
	return nil
}

// Category groups policies by the domain concern they guard. Engine
// callers pass categories to scope evaluation to the policies an agent
// actually operates under.
type Category string

const (
	// Financial
	CategoryExpenseLimits   Category = "expense_limits"
	CategoryBudgetControls  Category = "budget_controls"
	CategoryInvoiceApproval Category = "invoice_approval"
	CategorySOXCompliance   Category = "sox_compliance"
	CategoryFraudPrevention Category = "fraud_prevention"

	// Legal
	CategoryContractReview Category = "contract_review"
	CategoryNDAEnforcement Category = "nda_enforcement"
	CategoryIPProtection   Category = "ip_protection"
	CategoryLitigationHold Category = "litigation_hold"

	// Security / IT
	CategoryAccessControl      Category = "access_control"
	CategoryDataClassification Category = "data_classification"
	CategoryChangeManagement   Category = "change_management"

	// HR
	CategoryHiringCompliance Category = "hiring_compliance"
	CategoryCompensation     Category = "compensation"
	CategoryTermination      Category = "termination"

	// Procurement
	CategoryVendorApproval  Category = "vendor_approval"
	CategorySpendingLimits  Category = "spending_limits"
	CategoryBidRequirements Category = "bid_requirements"

	// Data privacy
	CategoryPIIProtection Category = "pii_protection"
	CategoryRetention     Category = "retention"

	// Payload shape checks run before any domain policy.
	CategorySchema Category = "payload_schema"

	// Operator-defined CEL rules loaded from config.
	CategoryCustom Category = "custom"
)

// Result is the outcome of evaluating one policy against one action.
type Result struct {
	PolicyID   string   `json:"policy_id"`
	PolicyName string   `json:"policy_name"`
	Category   Category `json:"category"`
	Verdict    Verdict  `json:"verdict"`
	Severity   Severity `json:"severity"`

	Allowed         bool           `json:"allowed"`
	Reason          string         `json:"reason"`
	Suggestion      string         `json:"suggestion,omitempty"`
	ModifiedPayload map[string]any `json:"modified_payload,omitempty"`

	// RiskDelta feeds the drift detector's violation signal: 0.1×severity
	// on Deny, 0.05 on Modify and Escalate, 0.02 on Warn, 0 on Allow.
	RiskDelta float64 `json:"risk_delta"`

	Timestamp time.Time `json:"timestamp"`
}

// Policy is one evaluatable compliance rule. Implementations embed *Core
// for identity, counters, and the verdict constructors.
type Policy interface {
	Meta() Meta
	Enabled() bool
	SetEnabled(bool)
	Evaluate(action string, payload, context map[string]any) Result
	Stats() Stats
}

// Meta is the static identity of a policy.
type Meta struct {
	ID          string   `json:"policy_id"`
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description,omitempty"`
}

// Stats counts how often a policy ran and how often it denied.
type Stats struct {
	Evaluations uint64 `json:"evaluation_count"`
	Violations  uint64 `json:"violation_count"`
}

// Core carries a policy's identity, enabled flag, and counters. Concrete
// policies embed it and build Results through the verdict constructors so
// risk deltas and counters stay consistent everywhere.
type Core struct {
	meta       Meta
	enabled    atomic.Bool
	evals      atomic.Uint64
	violations atomic.Uint64
}

// NewCore returns an enabled Core for the given identity.
func NewCore(meta Meta) *Core {
	if meta.Severity == 0 {
		meta.Severity = SeverityMedium
	}
	c := &Core{meta: meta}
	c.enabled.Store(true)
	return c
}

// Meta returns the policy identity.
func (c *Core) Meta() Meta { return c.meta }

// Enabled reports whether the policy participates in evaluation.
func (c *Core) Enabled() bool { return c.enabled.Load() }

// SetEnabled toggles evaluation without unregistering the policy.
func (c *Core) SetEnabled(v bool) { c.enabled.Store(v) }

// Stats returns the evaluation and violation counters.
func (c *Core) Stats() Stats {
	return Stats{Evaluations: c.evals.Load(), Violations: c.violations.Load()}
}

// Allow builds a passing Result.
func (c *Core) Allow(reason string) Result {
	c.evals.Add(1)
	return Result{
		PolicyID:   c.meta.ID,
		PolicyName: c.meta.Name,
		Category:   c.meta.Category,
		Verdict:    VerdictAllow,
		Severity:   c.meta.Severity,
		Allowed:    true,
		Reason:     reason,
		Timestamp:  time.Now(),
	}
}

// Deny builds a blocking Result and counts a violation.
func (c *Core) Deny(reason, suggestion string) Result {
	c.evals.Add(1)
	c.violations.Add(1)
	return Result{
		PolicyID:   c.meta.ID,
		PolicyName: c.meta.Name,
		Category:   c.meta.Category,
		Verdict:    VerdictDeny,
		Severity:   c.meta.Severity,
		Allowed:    false,
		Reason:     reason,
		Suggestion: suggestion,
		RiskDelta:  0.1 * float64(c.meta.Severity),
		Timestamp:  time.Now(),
	}
}

// Modify builds a Result that rewrites the payload but lets the action
// proceed.
func (c *Core) Modify(reason string, modified map[string]any, suggestion string) Result {
	c.evals.Add(1)
	return Result{
		PolicyID:        c.meta.ID,
		PolicyName:      c.meta.Name,
		Category:        c.meta.Category,
		Verdict:         VerdictModify,
		Severity:        c.meta.Severity,
		Allowed:         true,
		Reason:          reason,
		Suggestion:      suggestion,
		ModifiedPayload: modified,
		RiskDelta:       0.05,
		Timestamp:       time.Now(),
	}
}

// Escalate builds a Result that parks the action pending approval.
func (c *Core) Escalate(reason, suggestion string) Result {
	c.evals.Add(1)
	if suggestion == "" {
		suggestion = "Requires approval from authorized approver"
	}
	return Result{
		PolicyID:   c.meta.ID,
		PolicyName: c.meta.Name,
		Category:   c.meta.Category,
		Verdict:    VerdictEscalate,
		Severity:   c.meta.Severity,
		Allowed:    false,
		Reason:     reason,
		Suggestion: suggestion,
		RiskDelta:  0.05,
		Timestamp:  time.Now(),
	}
}

// Warn builds an advisory Result; the action proceeds.
func (c *Core) Warn(reason string) Result {
	c.evals.Add(1)
	return Result{
		PolicyID:   c.meta.ID,
		PolicyName: c.meta.Name,
		Category:   c.meta.Category,
		Verdict:    VerdictWarn,
		Severity:   c.meta.Severity,
		Allowed:    true,
		Reason:     reason,
		RiskDelta:  0.02,
		Timestamp:  time.Now(),
	}
}
