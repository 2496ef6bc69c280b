package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
)

// NewLegal builds the legal executor: contract review and NDA checks.
func NewLegal(deps Deps) *BaseAgent {
	var seq atomic.Uint64
	return New(Config{
		AgentType:   "legal",
		Description: "Contract review, NDA verification, and litigation holds",
		Capabilities: []capability.ID{
			"legal.review_contract/v1",
			"legal.check_nda/v1",
		},
		PolicyCategories: []compliance.Category{
			compliance.CategoryContractReview,
			compliance.CategoryNDAEnforcement,
			compliance.CategoryIPProtection,
			compliance.CategoryLitigationHold,
		},
	}, deps, func(_ context.Context, action string, payload, _ map[string]any) (map[string]any, error) {
		n := seq.Add(1)
		switch {
		case strings.Contains(action, "contract"):
			value, _ := capability.AsNumber(payload["contract_value"])
			if value == 0 {
				value, _ = capability.AsNumber(payload["value"])
			}
			review := "standard"
			switch {
			case value > 100000:
				review = "senior_counsel"
			case value > 50000:
				review = "legal_review"
			}
			return map[string]any{
				"status":       "reviewed",
				"contract_id":  fmt.Sprintf("CON-%06d", n),
				"counterparty": stringOr(payload, "counterparty", "unspecified"),
				"value":        value,
				"review_level": review,
				"redlines":     []any{"liability cap", "governing law"},
			}, nil
		case strings.Contains(action, "nda"):
			return map[string]any{
				"status":       "verified",
				"nda_id":       fmt.Sprintf("NDA-%06d", n),
				"counterparty": stringOr(payload, "counterparty", "unspecified"),
				"mutual":       true,
				"term_years":   3,
			}, nil
		default:
			return nil, fmt.Errorf("legal agent has no handler for action %q", action)
		}
	})
}
