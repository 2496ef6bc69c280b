package oracle

import (
	"context"
	"log/slog"
	"time"

	"github.com/intentguard/intentguard/internal/capability"
)

// Heuristic is the built-in deterministic reasoner used when no external
// reasoning service is configured. It applies the same automatic rules
// the external service would short-circuit on, and stays below the
// override floor everywhere else so it never silently clears a flag.
type Heuristic struct {
	logger *slog.Logger
}

// NewHeuristic returns the local reasoner.
func NewHeuristic(logger *slog.Logger) *Heuristic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heuristic{logger: logger.With("component", "oracle.Heuristic")}
}

// Assess applies the automatic decision ladder: deny on critical or
// terminal risk, keep compliance escalations escalated, auto-approve
// low-risk low-value actions, and otherwise proceed with moderate
// confidence that cannot override anything.
func (h *Heuristic) Assess(_ context.Context, req Request) (*Assessment, error) {
	now := time.Now()

	if req.Signals.RiskLevel == "critical" || req.Signals.RiskLevel == "terminal" {
		return &Assessment{
			Recommendation: RecommendDeny,
			Confidence:     0.9,
			Reasoning:      "behavioral risk level is " + req.Signals.RiskLevel,
			Factors:        []string{"high_risk_score"},
			Timestamp:      now,
		}, nil
	}

	if req.ComplianceEscalated {
		return &Assessment{
			Recommendation: RecommendEscalate,
			Confidence:     0.85,
			Reasoning:      "policy escalation requires human approval",
			Factors:        []string{"compliance_escalation"},
			Timestamp:      now,
		}, nil
	}

	if req.Signals.RiskScore < 0.3 {
		if amount, ok := capability.AsNumber(req.Payload["amount"]); ok && amount < 500 {
			return &Assessment{
				Recommendation: RecommendProceed,
				Confidence:     0.9,
				Reasoning:      "low-risk, compliant action with low value",
				Factors:        []string{"low_value", "low_risk"},
				Timestamp:      now,
			}, nil
		}
	}

	return &Assessment{
		Recommendation: RecommendProceed,
		Confidence:     0.7,
		Reasoning:      "no automatic rule matched; deferring to local decision",
		Factors:        []string{"default"},
		Timestamp:      now,
	}, nil
}
