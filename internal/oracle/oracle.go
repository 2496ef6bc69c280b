// Package oracle defines the reasoning layer consulted for ambiguous
// decisions: intents that TIRS flagged but did not block, or compliance
// verdicts that escalated. The oracle advises; it never replaces the
// deterministic layers. A proceed recommendation can clear a flag only
// under the override rules in Assessment.CanOverride, and nothing the
// oracle says can undo a compliance Deny.
package oracle

import (
	"context"
	"time"
)

// ConsultRiskThreshold is the TIRS score at which the oracle is worth
// asking. Below it the deterministic layers stand alone.
const ConsultRiskThreshold = 0.5

// OverrideConfidence is the minimum confidence a proceed recommendation
// needs before it may clear a flagged intent.
const OverrideConfidence = 0.9

// Recommendation is the oracle's advice for one intent.
type Recommendation string

const (
	RecommendProceed  Recommendation = "proceed"
	RecommendEscalate Recommendation = "escalate"
	RecommendDeny     Recommendation = "deny"
)

// Signals carries the TIRS outcome into the assessment.
type Signals struct {
	RiskScore        float64 `json:"risk_score"`
	RiskLevel        string  `json:"risk_level"`
	AdjustedCritical float64 `json:"adjusted_critical"`
	PrimaryFactor    string  `json:"primary_factor,omitempty"`
	Summary          string  `json:"summary,omitempty"`
}

// Request is everything the oracle sees about one intent.
type Request struct {
	AgentID string         `json:"agent_id"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
	Context map[string]any `json:"context,omitempty"`
	Signals Signals        `json:"signals"`

	// ComplianceEscalated marks intents parked by an Escalate verdict.
	// Denied intents never reach the oracle.
	ComplianceEscalated bool `json:"compliance_escalated"`
}

// Assessment is the oracle's advice plus its own confidence in it.
type Assessment struct {
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	Factors        []string       `json:"factors,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// CanOverride reports whether this assessment may clear a flagged
// intent: proceed advice, confidence at or above the override floor,
// and a TIRS score still below the adjusted critical threshold. A
// critical or terminal score is never overridden.
func (a *Assessment) CanOverride(riskScore, adjustedCritical float64) bool {
	return a.Recommendation == RecommendProceed &&
		a.Confidence >= OverrideConfidence &&
		riskScore < adjustedCritical
}

// Reasoner assesses flagged intents. Implementations may block on I/O
// and must honor the context deadline; an error means the oracle is
// unavailable and the local decision stands.
type Reasoner interface {
	Assess(ctx context.Context, req Request) (*Assessment, error)
}

// ShouldConsult applies the gating rule: the oracle is asked only when
// the TIRS score crossed the consult threshold or compliance escalated.
func ShouldConsult(riskScore float64, complianceEscalated bool) bool {
	return complianceEscalated || riskScore >= ConsultRiskThreshold
}
