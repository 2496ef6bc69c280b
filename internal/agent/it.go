package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
)

// NewIT builds the IT executor: access provisioning and password
// resets.
func NewIT(deps Deps) *BaseAgent {
	var seq atomic.Uint64
	return New(Config{
		AgentType:   "it",
		Description: "System access provisioning and credential resets",
		Capabilities: []capability.ID{
			"it.provision_access/v1",
			"it.reset_password/v1",
		},
		PolicyCategories: []compliance.Category{
			compliance.CategoryAccessControl,
			compliance.CategoryChangeManagement,
			compliance.CategoryDataClassification,
		},
	}, deps, func(_ context.Context, action string, payload, _ map[string]any) (map[string]any, error) {
		n := seq.Add(1)
		switch {
		case strings.Contains(action, "access") || strings.Contains(action, "provision"):
			systems, _ := payload["systems"].([]any)
			if len(systems) == 0 {
				if s := stringOr(payload, "system", ""); s != "" {
					systems = []any{s}
				}
			}
			return map[string]any{
				"status":      "provisioned",
				"ticket_id":   fmt.Sprintf("ACC-%06d", n),
				"employee_id": stringOr(payload, "employee_id", "unknown"),
				"systems":     systems,
				"access":      stringOr(payload, "access_level", "read"),
				"expires":     stringOr(payload, "expires", "90 days"),
			}, nil
		case strings.Contains(action, "password") || strings.Contains(action, "reset"):
			return map[string]any{
				"status":      "reset",
				"ticket_id":   fmt.Sprintf("PWD-%06d", n),
				"employee_id": stringOr(payload, "employee_id", "unknown"),
				"delivery":    "one-time link to verified address",
			}, nil
		default:
			return nil, fmt.Errorf("it agent has no handler for action %q", action)
		}
	})
}
