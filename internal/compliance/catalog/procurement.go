package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/intentguard/intentguard/internal/compliance"
)

// PROC-001: vendor approval. Registry members are approved vendors
// (attrs carry the preferred flag). Orders against unknown vendors are
// denied until onboarding documents are on file, then escalate for
// procurement sign-off.
func newVendorApprovalPolicy() *compliance.RegistryPolicy {
	p := compliance.NewRegistryPolicy(compliance.Meta{
		ID:          "PROC-001",
		Name:        "Vendor Approval Policy",
		Category:    compliance.CategoryVendorApproval,
		Severity:    compliance.SeverityHigh,
		Description: "Enforces vendor approval and due diligence requirements",
	})
	p.SetJudge(func(action string, payload, _ map[string]any) compliance.Result {
		if !anyKeyword(action, "vendor", "supplier", "purchase", "order") {
			return p.Allow("not a vendor action")
		}
		vendorID := stringField(payload, "vendor_id", "supplier")
		if vendorID == "" {
			return p.Warn("no vendor specified")
		}

		attrs, approved := p.Attrs(vendorID)
		if !approved {
			var missing []string
			if !boolField(payload, "w9_on_file") {
				missing = append(missing, "W-9")
			}
			if !boolField(payload, "insurance_verified") {
				missing = append(missing, "insurance certificate")
			}
			if !boolField(payload, "contract_signed") {
				missing = append(missing, "vendor agreement")
			}
			if len(missing) > 0 {
				return p.Deny(
					fmt.Sprintf("vendor %s not approved; missing: %s", vendorID, strings.Join(missing, ", ")),
					"Complete vendor onboarding before placing orders",
				)
			}
			return p.Escalate(
				fmt.Sprintf("new vendor %s requires procurement approval", vendorID),
				"Submit a vendor approval request",
			)
		}

		if amount, ok := numberField(payload, "amount"); ok && amount > 10000 {
			if preferred, _ := attrs["preferred"].(bool); !preferred {
				return p.Warn("consider a preferred vendor for purchases over $10,000")
			}
		}
		return p.Allow(fmt.Sprintf("vendor %s is approved", vendorID))
	})
	return p
}

// Spending limits by requester role.
var roleSpendingLimits = map[string]float64{
	"employee": 500,
	"manager":  5000,
	"director": 25000,
	"vp":       100000,
	"cfo":      500000,
}

// PROC-002: spending limits. Purchases over the requester's role limit
// escalate to the cheapest role whose limit covers the amount.
func newSpendingLimitsPolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "PROC-002",
		Name:        "Spending Limits Policy",
		Category:    compliance.CategorySpendingLimits,
		Severity:    compliance.SeverityHigh,
		Description: "Enforces spending limits by role",
	})
	p.AddRule(func(action string, payload, context map[string]any) *compliance.Result {
		if !anyKeyword(action, "purchase", "order", "spend", "buy") {
			r := p.Allow("not a spending action")
			return &r
		}
		amount, ok := numberField(payload, "amount")
		if !ok {
			r := p.Allow("no amount specified")
			return &r
		}
		role := strings.ToLower(stringField(context, "role"))
		if role == "" {
			role = "employee"
		}
		limit, known := roleSpendingLimits[role]
		if !known {
			limit = roleSpendingLimits["employee"]
		}
		if amount <= limit {
			r := p.Allow(fmt.Sprintf("amount $%.2f within %s limit ($%.2f)", amount, role, limit))
			return &r
		}

		required := "cfo"
		type tier struct {
			role  string
			limit float64
		}
		tiers := make([]tier, 0, len(roleSpendingLimits))
		for r, l := range roleSpendingLimits {
			tiers = append(tiers, tier{r, l})
		}
		sort.Slice(tiers, func(i, j int) bool { return tiers[i].limit < tiers[j].limit })
		for _, t := range tiers {
			if t.limit >= amount {
				required = t.role
				break
			}
		}
		r := p.Escalate(
			fmt.Sprintf("amount $%.2f exceeds %s limit ($%.2f)", amount, role, limit),
			fmt.Sprintf("Requires %s approval", required),
		)
		return &r
	})
	return p
}

// PROC-003: competitive bidding. Single source up to $10k, three quotes
// to $50k, a formal RFP beyond that.
func newBidRequirementsPolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "PROC-003",
		Name:        "Bid Requirements Policy",
		Category:    compliance.CategoryBidRequirements,
		Severity:    compliance.SeverityMedium,
		Description: "Enforces competitive bidding requirements",
	})
	p.AddRule(func(action string, payload, _ map[string]any) *compliance.Result {
		if !anyKeyword(action, "purchase", "contract") {
			r := p.Allow("not a purchase action")
			return &r
		}
		amount, ok := numberField(payload, "amount")
		if !ok {
			r := p.Allow("no amount specified")
			return &r
		}
		if amount <= 10000 {
			r := p.Allow("amount under the single-source threshold")
			return &r
		}

		quotes, _ := numberField(payload, "quotes_received")
		hasRFP := boolField(payload, "rfp_complete")

		if amount <= 50000 {
			if quotes < 3 && stringField(payload, "sole_source_justification") == "" {
				r := p.Deny(
					fmt.Sprintf("purchases $10,000-$50,000 require 3 quotes (%d received)", int(quotes)),
					"Obtain additional quotes or provide sole-source justification",
				)
				return &r
			}
			r := p.Allow("competitive quote requirement met")
			return &r
		}
		if !hasRFP {
			r := p.Deny(
				"purchases over $50,000 require a formal RFP",
				"Complete the RFP process before awarding the contract",
			)
			return &r
		}
		r := p.Allow("procurement requirements met")
		return &r
	})
	return p
}
