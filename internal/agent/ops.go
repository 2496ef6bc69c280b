package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
)

// NewOps builds the operations executor: outbound mail, access audits,
// and report generation. It carries the PII category because it is the
// one agent that sends content outside the organization.
func NewOps(deps Deps) *BaseAgent {
	var seq atomic.Uint64
	return New(Config{
		AgentType:   "ops",
		Description: "Outbound communications, access audits, and reporting",
		Capabilities: []capability.ID{
			"comms.send_email/v1",
			"security.audit_access/v1",
			"analytics.generate_report/v1",
		},
		PolicyCategories: []compliance.Category{
			compliance.CategoryPIIProtection,
			compliance.CategoryRetention,
			compliance.CategoryDataClassification,
			compliance.CategoryChangeManagement,
		},
	}, deps, func(_ context.Context, action string, payload, _ map[string]any) (map[string]any, error) {
		n := seq.Add(1)
		switch {
		case strings.Contains(action, "email") || strings.Contains(action, "send"):
			return map[string]any{
				"status":     "sent",
				"message_id": fmt.Sprintf("MSG-%06d", n),
				"to":         stringOr(payload, "to", stringOr(payload, "recipient", "unspecified")),
				"subject":    stringOr(payload, "subject", "(no subject)"),
				"body":       stringOr(payload, "body", ""),
			}, nil
		case strings.Contains(action, "audit") || strings.Contains(action, "security"):
			return map[string]any{
				"status":    "completed",
				"audit_id":  fmt.Sprintf("AUD-%06d", n),
				"scope":     stringOr(payload, "scope", "all systems"),
				"findings":  2,
				"follow_up": "quarterly review",
			}, nil
		case strings.Contains(action, "report"):
			return map[string]any{
				"status":    "generated",
				"report_id": fmt.Sprintf("RPT-%06d", n),
				"report":    stringOr(payload, "report_type", "operations_summary"),
				"rows":      96,
			}, nil
		default:
			return nil, fmt.Errorf("ops agent has no handler for action %q", action)
		}
	})
}
