package catalog

import (
	"fmt"
	"strings"

	"github.com/intentguard/intentguard/internal/compliance"
)

// HR-001: hiring compliance (IRCA/FCRA). Applies to onboarding actions;
// offer generation is governed by HR-002 instead.
func newHiringCompliancePolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "HR-001",
		Name:        "Hiring Compliance Policy",
		Category:    compliance.CategoryHiringCompliance,
		Severity:    compliance.SeverityCritical,
		Description: "Enforces I-9 and background check requirements before onboarding",
	})
	p.AddRule(func(action string, payload, _ map[string]any) *compliance.Result {
		if !anyKeyword(action, "hire", "onboard", "start_employment") {
			r := p.Allow("not a hiring action")
			return &r
		}
		i9 := stringField(payload, "i9_status")
		if i9 != "verified" && i9 != "pending_reverification" {
			r := p.Deny(
				"cannot complete hire without I-9 verification (IRCA requirement)",
				"Complete I-9 verification before the start date",
			)
			return &r
		}
		roleType := stringField(payload, "role_type")
		if (roleType == "finance" || roleType == "security" || roleType == "executive") &&
			!boolField(payload, "background_check_complete") {
			r := p.Deny(
				fmt.Sprintf("background check required for %s roles (FCRA)", roleType),
				"Complete the background check before hire",
			)
			return &r
		}
		if !boolField(payload, "offer_signed") {
			r := p.Escalate(
				"offer letter must be signed before onboarding",
				"Obtain a signed offer letter",
			)
			return &r
		}
		r := p.Allow("hiring compliance requirements met")
		return &r
	})
	return p
}

// Salary bands by level.
var salaryBands = map[string][2]float64{
	"L1": {50000, 75000},
	"L2": {65000, 95000},
	"L3": {85000, 125000},
	"L4": {110000, 165000},
	"L5": {145000, 210000},
	"L6": {180000, 280000},
	"L7": {230000, 380000},
}

// HR-002: compensation bands. Above-band offers escalate to VP/HR;
// below-band offers warn; raises over 20% escalate to executives.
func newCompensationPolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "HR-002",
		Name:        "Compensation Policy",
		Category:    compliance.CategoryCompensation,
		Severity:    compliance.SeverityHigh,
		Description: "Enforces salary bands and compensation equity",
	})
	p.AddRule(func(action string, payload, _ map[string]any) *compliance.Result {
		if !anyKeyword(action, "salary", "compensation", "offer", "raise", "adjustment") {
			r := p.Allow("not a compensation action")
			return &r
		}
		salary, ok := numberField(payload, "salary", "amount")
		if !ok {
			r := p.Allow("no salary specified")
			return &r
		}
		level := strings.ToUpper(stringField(payload, "level"))
		if level == "" {
			level = "L3"
		}
		band, known := salaryBands[level]
		if known {
			if salary < band[0] {
				r := p.Warn(fmt.Sprintf("salary $%.0f below band minimum for %s ($%.0f)", salary, level, band[0]))
				return &r
			}
			if salary > band[1] {
				r := p.Escalate(
					fmt.Sprintf("salary $%.0f exceeds band maximum for %s ($%.0f)", salary, level, band[1]),
					"Requires VP/HR approval for above-band compensation",
				)
				return &r
			}
		}
		if current, ok := numberField(payload, "current_salary"); ok && current > 0 {
			increase := (salary - current) / current * 100
			if increase > 20 {
				r := p.Escalate(
					fmt.Sprintf("salary increase of %.1f%% exceeds the 20%% threshold", increase),
					"Requires executive approval for large increases",
				)
				return &r
			}
		}
		r := p.Allow(fmt.Sprintf("compensation within %s band", level))
		return &r
	})
	return p
}

// HR-003: termination compliance. Involuntary terminations need a
// documentation trail and legal review; everything needs HR review.
func newTerminationPolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "HR-003",
		Name:        "Termination Policy",
		Category:    compliance.CategoryTermination,
		Severity:    compliance.SeverityHigh,
		Description: "Enforces termination documentation and review process",
	})
	p.AddRule(func(action string, payload, _ map[string]any) *compliance.Result {
		if !anyKeyword(action, "terminate", "offboard") {
			r := p.Allow("not a termination action")
			return &r
		}
		if stringField(payload, "type") == "involuntary" {
			docs := stringList(payload, "documentation")
			have := make(map[string]bool, len(docs))
			for _, d := range docs {
				have[d] = true
			}
			var missing []string
			for _, required := range []string{"performance_records", "warnings", "pip"} {
				if !have[required] {
					missing = append(missing, required)
				}
			}
			if len(missing) > 0 {
				r := p.Deny(
					fmt.Sprintf("involuntary termination requires documentation: %s", strings.Join(missing, ", ")),
					fmt.Sprintf("Provide: %s", strings.Join(missing, ", ")),
				)
				return &r
			}
			if !boolField(payload, "legal_reviewed") {
				r := p.Escalate(
					"involuntary terminations require legal review",
					"Submit to legal for review before proceeding",
				)
				return &r
			}
		}
		if !boolField(payload, "hr_reviewed") {
			r := p.Escalate(
				"all terminations require HR review",
				"Submit to HR for review",
			)
			return &r
		}
		if boolField(payload, "protected_class_flag") {
			r := p.Deny(
				"termination flagged for protected class review",
				"Requires additional HR and legal review",
			)
			return &r
		}
		r := p.Allow("termination compliance requirements met")
		return &r
	})
	return p
}
