package catalog

import (
	"fmt"
	"strings"

	"github.com/intentguard/intentguard/internal/compliance"
)

// Role hierarchy levels for access control.
var roleHierarchy = map[string]int{
	"admin":      100,
	"manager":    80,
	"senior":     60,
	"standard":   40,
	"contractor": 20,
	"guest":      10,
}

// Minimum role level required per resource pattern.
var resourceRequirements = map[string]int{
	"production_database": 80,
	"financial_records":   60,
	"customer_data":       60,
	"source_code":         40,
	"internal_docs":       20,
	"public_docs":         10,
}

// SEC-001: role-based access control over named resources.
func newAccessControlPolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "SEC-001",
		Name:        "Access Control Policy",
		Category:    compliance.CategoryAccessControl,
		Severity:    compliance.SeverityHigh,
		Description: "Enforces role-based access control for resources",
	})
	p.AddRule(func(_ string, payload, context map[string]any) *compliance.Result {
		resource := stringField(payload, "resource", "target")
		if resource == "" {
			r := p.Allow("no resource specified")
			return &r
		}
		role := strings.ToLower(stringField(context, "role"))
		roleLevel, known := roleHierarchy[role]
		if !known {
			roleLevel = roleHierarchy["guest"]
		}

		required := 10
		lower := strings.ToLower(resource)
		for pattern, level := range resourceRequirements {
			if strings.Contains(lower, pattern) && level > required {
				required = level
			}
		}
		if roleLevel < required {
			r := p.Deny(
				fmt.Sprintf("insufficient access level for %s (role: %s)", resource, role),
				"Request elevated access or contact an administrator",
			)
			return &r
		}
		r := p.Allow(fmt.Sprintf("access granted to %s", resource))
		return &r
	})
	return p
}

// Handling requirements per classification level.
type classificationRule struct {
	encrypt          bool
	externalOK       bool
	mfaRequired      bool
	approvalRequired bool
}

var classificationRules = map[string]classificationRule{
	"public":       {externalOK: true},
	"internal":     {},
	"confidential": {encrypt: true},
	"secret":       {encrypt: true, mfaRequired: true},
	"restricted":   {encrypt: true, mfaRequired: true, approvalRequired: true},
}

// SEC-002: data classification handling. Externality here is the
// explicit flag only; recipient-based detection belongs to PRIV-001.
func newDataClassificationPolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "SEC-002",
		Name:        "Data Classification Policy",
		Category:    compliance.CategoryDataClassification,
		Severity:    compliance.SeverityHigh,
		Description: "Enforces data handling based on classification",
	})
	p.AddRule(func(_ string, payload, context map[string]any) *compliance.Result {
		classification := strings.ToLower(stringField(payload, "classification"))
		if classification == "" {
			classification = "internal"
		}
		rule, known := classificationRules[classification]
		if !known {
			rule = classificationRules["internal"]
		}

		if rule.encrypt && !boolField(payload, "encrypted") {
			modified := make(map[string]any, len(payload)+1)
			for k, v := range payload {
				modified[k] = v
			}
			modified["encrypt_required"] = true
			r := p.Modify(
				fmt.Sprintf("%s data must be encrypted", classification),
				modified,
				"Enable encryption before processing",
			)
			return &r
		}
		if (boolField(payload, "external") || boolField(context, "external")) && !rule.externalOK {
			r := p.Deny(
				fmt.Sprintf("%s data cannot be shared externally", classification),
				"Request reclassification or use an approved external sharing method",
			)
			return &r
		}
		if rule.mfaRequired && !boolField(context, "mfa_verified") {
			r := p.Deny(
				fmt.Sprintf("access to %s data requires MFA", classification),
				"Complete MFA verification before accessing",
			)
			return &r
		}
		if rule.approvalRequired && !boolField(payload, "approved") {
			r := p.Escalate(
				fmt.Sprintf("access to %s data requires prior approval", classification),
				"Submit an access request for approval",
			)
			return &r
		}
		r := p.Allow(fmt.Sprintf("data handling compliant for %s classification", classification))
		return &r
	})
	return p
}

// Change categories and what each requires before deployment.
type changeRule struct {
	approval string
	testing  bool
	rollback bool
	staging  bool
}

var changeCategories = map[string]changeRule{
	"standard":  {},
	"normal":    {approval: "manager", testing: true, rollback: true},
	"major":     {approval: "cab", testing: true, rollback: true, staging: true},
	"emergency": {approval: "on_call", rollback: true},
}

// SEC-003: ITIL change management.
func newChangeManagementPolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "SEC-003",
		Name:        "Change Management Policy",
		Category:    compliance.CategoryChangeManagement,
		Severity:    compliance.SeverityMedium,
		Description: "Enforces ITIL change management process",
	})
	p.AddRule(func(action string, payload, context map[string]any) *compliance.Result {
		if !anyKeyword(action, "change", "deploy") {
			r := p.Allow("not a change action")
			return &r
		}
		changeType := strings.ToLower(stringField(payload, "change_type"))
		if changeType == "" {
			changeType = "normal"
		}
		rule, known := changeCategories[changeType]
		if !known {
			rule = changeCategories["normal"]
		}

		if rule.approval != "" && !boolField(payload, "approved") {
			r := p.Escalate(
				fmt.Sprintf("%s change requires %s approval", changeType, rule.approval),
				fmt.Sprintf("Submit the change request to %s", rule.approval),
			)
			return &r
		}
		if rule.testing && !boolField(payload, "tested") {
			r := p.Deny(
				fmt.Sprintf("%s change requires testing", changeType),
				"Complete testing before deployment",
			)
			return &r
		}
		if rule.rollback && !boolField(payload, "rollback_plan") {
			r := p.Deny(
				fmt.Sprintf("%s change requires a rollback plan", changeType),
				"Document the rollback procedure before deployment",
			)
			return &r
		}
		if rule.staging && stringField(context, "environment") == "production" {
			r := p.Deny(
				"major changes must be tested in staging first",
				"Deploy to the staging environment before production",
			)
			return &r
		}
		r := p.Allow(fmt.Sprintf("change management requirements met for %s change", changeType))
		return &r
	})
	return p
}
