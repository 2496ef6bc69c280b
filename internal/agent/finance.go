package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
)

// NewFinance builds the finance executor: expense approval, payment
// processing, and budget review.
func NewFinance(deps Deps) *BaseAgent {
	var seq atomic.Uint64
	return New(Config{
		AgentType:   "finance",
		Description: "Expense approvals, payment runs, and budget oversight",
		Capabilities: []capability.ID{
			"finance.approve_expense/v1",
			"finance.process_payment/v1",
			"finance.review_budget/v1",
			"analytics.generate_report/v1",
		},
		PolicyCategories: []compliance.Category{
			compliance.CategoryExpenseLimits,
			compliance.CategoryBudgetControls,
			compliance.CategoryInvoiceApproval,
			compliance.CategorySOXCompliance,
			compliance.CategoryFraudPrevention,
		},
	}, deps, func(_ context.Context, action string, payload, _ map[string]any) (map[string]any, error) {
		n := seq.Add(1)
		switch {
		case strings.Contains(action, "expense"):
			amount, _ := capability.AsNumber(payload["amount"])
			return map[string]any{
				"status":         "approved",
				"expense_id":     fmt.Sprintf("EXP-%06d", n),
				"amount":         amount,
				"category":       stringOr(payload, "category", "general"),
				"reimbursed_via": "next payroll cycle",
			}, nil
		case strings.Contains(action, "payment") || strings.Contains(action, "invoice"):
			amount, _ := capability.AsNumber(payload["amount"])
			return map[string]any{
				"status":         "scheduled",
				"payment_id":     fmt.Sprintf("PAY-%06d", n),
				"amount":         amount,
				"vendor":         stringOr(payload, "vendor", "unspecified"),
				"settlement_eta": "2 business days",
			}, nil
		case strings.Contains(action, "budget"):
			return map[string]any{
				"status":      "reviewed",
				"review_id":   fmt.Sprintf("BUD-%06d", n),
				"department":  stringOr(payload, "department", "all"),
				"utilization": 0.62,
				"findings":    []any{"travel spend trending 8% over plan"},
			}, nil
		case strings.Contains(action, "report"):
			return map[string]any{
				"status":    "generated",
				"report_id": fmt.Sprintf("RPT-%06d", n),
				"report":    stringOr(payload, "report_type", "spend_summary"),
				"rows":      148,
			}, nil
		default:
			return nil, fmt.Errorf("finance agent has no handler for action %q", action)
		}
	})
}

// stringOr reads a string field with a fallback shared by the canned
// handlers in this package.
func stringOr(payload map[string]any, key, fallback string) string {
	if s, ok := payload[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
