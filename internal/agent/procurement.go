package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
)

// NewProcurement builds the procurement executor: vendor onboarding and
// purchase orders.
func NewProcurement(deps Deps) *BaseAgent {
	var seq atomic.Uint64
	return New(Config{
		AgentType:   "procurement",
		Description: "Vendor onboarding and purchase order issuance",
		Capabilities: []capability.ID{
			"procurement.onboard_vendor/v1",
			"procurement.create_purchase_order/v1",
		},
		PolicyCategories: []compliance.Category{
			compliance.CategoryVendorApproval,
			compliance.CategorySpendingLimits,
			compliance.CategoryBidRequirements,
			compliance.CategoryBudgetControls,
		},
	}, deps, func(_ context.Context, action string, payload, _ map[string]any) (map[string]any, error) {
		n := seq.Add(1)
		switch {
		case strings.Contains(action, "vendor"):
			return map[string]any{
				"status":    "registered",
				"vendor_id": fmt.Sprintf("VEN-%06d", n),
				"vendor":    stringOr(payload, "vendor_name", "unspecified"),
				"tax_form":  "requested",
				"next_step": "security and legal review",
			}, nil
		case strings.Contains(action, "purchase") || strings.Contains(action, "order"):
			amount, _ := capability.AsNumber(payload["amount"])
			return map[string]any{
				"status":   "issued",
				"po_id":    fmt.Sprintf("PO-%06d", n),
				"vendor":   stringOr(payload, "vendor", "unspecified"),
				"amount":   amount,
				"delivery": stringOr(payload, "delivery", "standard"),
			}, nil
		default:
			return nil, fmt.Errorf("procurement agent has no handler for action %q", action)
		}
	})
}
