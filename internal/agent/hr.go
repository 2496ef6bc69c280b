package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
)

// NewHR builds the people-operations executor: offers, salary changes,
// benefits, onboarding, and terminations.
func NewHR(deps Deps) *BaseAgent {
	var seq atomic.Uint64
	return New(Config{
		AgentType:   "hr",
		Description: "Offers, compensation changes, benefits, and employee lifecycle",
		Capabilities: []capability.ID{
			"hr.generate_offer/v1",
			"hr.set_salary/v1",
			"hr.enroll_benefits/v1",
			"hr.onboard_employee/v1",
			"hr.terminate_employee/v1",
		},
		PolicyCategories: []compliance.Category{
			compliance.CategoryHiringCompliance,
			compliance.CategoryCompensation,
			compliance.CategoryTermination,
			compliance.CategoryPIIProtection,
		},
	}, deps, func(_ context.Context, action string, payload, _ map[string]any) (map[string]any, error) {
		n := seq.Add(1)
		switch {
		case strings.Contains(action, "offer"):
			salary, _ := capability.AsNumber(payload["salary"])
			return map[string]any{
				"status":    "drafted",
				"offer_id":  fmt.Sprintf("OFF-%06d", n),
				"candidate": stringOr(payload, "candidate", "unnamed candidate"),
				"level":     stringOr(payload, "level", "L3"),
				"salary":    salary,
				"expires":   "14 days from issue",
			}, nil
		case strings.Contains(action, "salary") || strings.Contains(action, "compensation"):
			newSalary, _ := capability.AsNumber(payload["new_salary"])
			if newSalary == 0 {
				newSalary, _ = capability.AsNumber(payload["salary"])
			}
			return map[string]any{
				"status":      "applied",
				"change_id":   fmt.Sprintf("CMP-%06d", n),
				"employee_id": stringOr(payload, "employee_id", "unknown"),
				"new_salary":  newSalary,
				"effective":   "next pay period",
			}, nil
		case strings.Contains(action, "benefit"):
			return map[string]any{
				"status":        "enrolled",
				"enrollment_id": fmt.Sprintf("BEN-%06d", n),
				"employee_id":   stringOr(payload, "employee_id", "unknown"),
				"plan":          stringOr(payload, "plan", "standard"),
			}, nil
		case strings.Contains(action, "onboard"):
			return map[string]any{
				"status":      "scheduled",
				"onboard_id":  fmt.Sprintf("ONB-%06d", n),
				"employee_id": stringOr(payload, "employee_id", "pending"),
				"start_date":  stringOr(payload, "start_date", "next monday"),
				"checklist":   []any{"equipment", "accounts", "orientation"},
			}, nil
		case strings.Contains(action, "terminat") || strings.Contains(action, "offboard"):
			return map[string]any{
				"status":       "initiated",
				"case_id":      fmt.Sprintf("TRM-%06d", n),
				"employee_id":  stringOr(payload, "employee_id", "unknown"),
				"final_pay":    "per policy",
				"access_sweep": "scheduled",
			}, nil
		default:
			return nil, fmt.Errorf("hr agent has no handler for action %q", action)
		}
	})
}
