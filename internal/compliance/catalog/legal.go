package catalog

import (
	"fmt"
	"strings"

	"github.com/intentguard/intentguard/internal/compliance"
)

// Contract value tiers and the review level each requires.
var contractReviewTiers = []struct {
	limit  float64
	review string
}{
	{10000, "legal_review"},
	{50000, "senior_legal"},
	{100000, "general_counsel"},
	{500000, "ceo_approval"},
}

// Contract types that always need general counsel regardless of value.
var highRiskContractTypes = []string{"licensing", "ip_transfer", "exclusivity", "indemnification"}

// LEG-001: contract review. Review level scales with contract value;
// modified terms always need legal eyes.
func newContractReviewPolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "LEG-001",
		Name:        "Contract Review Policy",
		Category:    compliance.CategoryContractReview,
		Severity:    compliance.SeverityHigh,
		Description: "Enforces contract review requirements based on value and type",
	})
	p.AddRule(func(action string, payload, _ map[string]any) *compliance.Result {
		if !anyKeyword(action, "contract") {
			r := p.Allow("not a contract action")
			return &r
		}
		value, _ := numberField(payload, "value", "amount")

		review := "ceo_approval"
		for _, tier := range contractReviewTiers {
			if value <= tier.limit {
				review = tier.review
				break
			}
		}
		contractType := strings.ToLower(stringField(payload, "type"))
		for _, risky := range highRiskContractTypes {
			if contractType == risky {
				review = "general_counsel"
			}
		}

		reviewed := boolField(payload, "legal_reviewed")
		if boolField(payload, "terms_modified") && !reviewed {
			r := p.Escalate(
				"contract with modified terms requires legal review",
				fmt.Sprintf("Submit to %s for review", review),
			)
			return &r
		}
		if value > 10000 && !reviewed {
			r := p.Escalate(
				fmt.Sprintf("contract value $%.2f requires %s", value, review),
				fmt.Sprintf("Submit to %s before execution", review),
			)
			return &r
		}
		r := p.Allow("contract review requirements met")
		return &r
	})
	return p
}

// LEG-002: NDA enforcement. Registry members are counterparties with an
// active NDA; confidential disclosures to anyone else are denied.
func newNDAPolicy() *compliance.RegistryPolicy {
	p := compliance.NewRegistryPolicy(compliance.Meta{
		ID:          "LEG-002",
		Name:        "NDA Enforcement Policy",
		Category:    compliance.CategoryNDAEnforcement,
		Severity:    compliance.SeverityCritical,
		Description: "Prevents disclosure of confidential information without an NDA",
	})
	p.SetJudge(func(action string, payload, _ map[string]any) compliance.Result {
		if !anyKeyword(action, "share", "disclose", "send") {
			return p.Allow("not a disclosure action")
		}
		classification := strings.ToLower(stringField(payload, "classification"))
		confidential := boolField(payload, "confidential") ||
			classification == "confidential" || classification == "secret" || classification == "restricted"
		if !confidential {
			return p.Allow("not confidential information")
		}
		recipient := stringField(payload, "recipient", "to")
		if recipient == "" {
			return p.Warn("no recipient specified for confidential disclosure")
		}
		if !p.Has(recipient) {
			return p.Deny(
				fmt.Sprintf("cannot disclose confidential information to %s (no NDA on file)", recipient),
				fmt.Sprintf("Execute an NDA with %s before disclosure", recipient),
			)
		}
		return p.Allow(fmt.Sprintf("NDA verified for %s", recipient))
	})
	return p
}

// Content types treated as protected intellectual property.
var protectedIPTypes = []string{"source_code", "algorithm", "patent", "trade_secret", "design"}

// LEG-003: IP protection. Protected content never leaves the
// organization, and internal access needs explicit authorization.
func newIPProtectionPolicy(internalDomain string) *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "LEG-003",
		Name:        "IP Protection Policy",
		Category:    compliance.CategoryIPProtection,
		Severity:    compliance.SeverityCritical,
		Description: "Prevents unauthorized IP transfer or disclosure",
	})
	p.AddRule(func(action string, payload, context map[string]any) *compliance.Result {
		contentType := strings.ToLower(stringField(payload, "content_type"))
		protected := false
		for _, t := range protectedIPTypes {
			if strings.Contains(contentType, t) {
				protected = true
				break
			}
		}
		if !protected {
			r := p.Allow("not protected IP content")
			return &r
		}
		if externalRecipient(payload, context, internalDomain) {
			r := p.Deny(
				fmt.Sprintf("cannot transfer protected IP (%s) externally", contentType),
				"Request IP transfer approval from legal and the executive team",
			)
			return &r
		}
		if !boolField(payload, "ip_authorization") {
			r := p.Escalate(
				"protected IP access requires authorization",
				"Submit an IP access request to the legal department",
			)
			return &r
		}
		r := p.Allow("IP access authorized")
		return &r
	})
	return p
}

// LEG-004: litigation hold. Registry members map hold ids to scope
// descriptors; destructive actions touching held data are denied.
func newLitigationHoldPolicy() *compliance.RegistryPolicy {
	p := compliance.NewRegistryPolicy(compliance.Meta{
		ID:          "LEG-004",
		Name:        "Litigation Hold Policy",
		Category:    compliance.CategoryLitigationHold,
		Severity:    compliance.SeverityCritical,
		Description: "Prevents destruction of data under litigation hold",
	})
	p.SetJudge(func(action string, payload, _ map[string]any) compliance.Result {
		if !anyKeyword(action, "delete", "destroy", "purge", "archive", "modify") {
			return p.Allow("not a destructive action")
		}
		var blocking string
		p.Each(func(holdID string, scope map[string]any) bool {
			if matchesHoldScope(payload, scope) {
				blocking = holdID
				return false
			}
			return true
		})
		if blocking != "" {
			return p.Deny(
				fmt.Sprintf("action blocked by litigation hold %s", blocking),
				"Contact the legal department for guidance on held data",
			)
		}
		return p.Allow("no litigation holds apply")
	})
	return p
}

// matchesHoldScope reports whether any payload value falls inside the
// hold scope. Scope values may be single values or lists.
func matchesHoldScope(payload, scope map[string]any) bool {
	for key, want := range scope {
		got, ok := payload[key]
		if !ok {
			continue
		}
		if list, ok := want.([]any); ok {
			for _, candidate := range list {
				if got == candidate {
					return true
				}
			}
			continue
		}
		if got == want {
			return true
		}
	}
	return false
}
