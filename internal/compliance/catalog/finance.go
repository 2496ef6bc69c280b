package catalog

import (
	"fmt"
	"math"
	"strings"

	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
)

// Expense approval ladder: the first tier whose limit covers the amount
// names the required approver.
var expenseApprovalLadder = []struct {
	limit    float64
	approver string
}{
	{500, "self"},
	{5000, "manager"},
	{25000, "director"},
	{100000, "vp"},
	{math.Inf(1), "cfo"},
}

// FIN-001: expenses up to the self-approval limit pass; everything above
// escalates to the tiered approver.
func newExpenseLimitPolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "FIN-001",
		Name:        "Expense Limit Policy",
		Category:    compliance.CategoryExpenseLimits,
		Severity:    compliance.SeverityMedium,
		Description: "Enforces expense limits and approval requirements",
	})
	p.AddRule(func(action string, payload, _ map[string]any) *compliance.Result {
		if !anyKeyword(action, "expense", "reimbursement") {
			r := p.Allow("not an expense action")
			return &r
		}
		amount, ok := numberField(payload, "amount")
		if !ok {
			r := p.Allow("no amount specified")
			return &r
		}
		approver := "cfo"
		for _, tier := range expenseApprovalLadder {
			if amount <= tier.limit {
				approver = tier.approver
				break
			}
		}
		if approver == "self" {
			r := p.Allow(fmt.Sprintf("expense $%.2f within self-approval limit", amount))
			return &r
		}
		r := p.Escalate(
			fmt.Sprintf("expense $%.2f requires %s approval", amount, approver),
			fmt.Sprintf("Submit to %s for approval", approver),
		)
		return &r
	})
	return p
}

// Action pairs that may not be performed by the same actor on one object.
var incompatibleDutyPairs = [][2]string{
	{"create_invoice", "approve_invoice"},
	{"create_payment", "approve_payment"},
	{"create_vendor", "approve_vendor"},
	{"request_expense", "approve_expense"},
	{"modify_ledger", "approve_modification"},
}

// FIN-002: SOX separation of duties. The registry records which actor
// performed each side of an incompatible pair per object; an actor who
// already did one side is denied the other.
func newSeparationOfDutiesPolicy() *compliance.RegistryPolicy {
	p := compliance.NewRegistryPolicy(compliance.Meta{
		ID:          "FIN-002",
		Name:        "SOX Separation of Duties",
		Category:    compliance.CategorySOXCompliance,
		Severity:    compliance.SeverityCritical,
		Description: "Enforces SOX separation of duties requirements",
	})
	p.SetJudge(func(action string, payload, context map[string]any) compliance.Result {
		objectID := stringField(payload, "object_id", "id")
		actor := stringField(context, "user_id", "agent_id")
		if objectID == "" || actor == "" {
			return p.Allow("cannot verify duties without object_id and actor")
		}

		lower := strings.ToLower(action)
		for _, pair := range incompatibleDutyPairs {
			var matched, counterpart string
			switch {
			case strings.Contains(lower, pair[0]):
				matched, counterpart = pair[0], pair[1]
			case strings.Contains(lower, pair[1]):
				matched, counterpart = pair[1], pair[0]
			default:
				continue
			}
			if attrs, ok := p.Attrs(objectID + ":" + counterpart); ok {
				if prev, _ := attrs["actor"].(string); prev == actor {
					return p.Deny(
						fmt.Sprintf("separation of duties: %s already performed %s on %s", actor, counterpart, objectID),
						"Route to a different authorized approver",
					)
				}
			}
			p.Add(objectID+":"+matched, map[string]any{"actor": actor})
		}
		return p.Allow("separation of duties maintained")
	})
	return p
}

// FIN-003: department budget ledger. Registry entries map department to
// allocated/spent figures; spends over the remaining budget are denied
// and spends consuming more than 80% of what remains draw a warning.
func newBudgetPolicy() *compliance.RegistryPolicy {
	p := compliance.NewRegistryPolicy(compliance.Meta{
		ID:          "FIN-003",
		Name:        "Budget Control Policy",
		Category:    compliance.CategoryBudgetControls,
		Severity:    compliance.SeverityHigh,
		Description: "Enforces department budget limits and prevents overspending",
	})
	p.SetJudge(func(action string, payload, context map[string]any) compliance.Result {
		if !anyKeyword(action, "spend", "expense", "purchase") {
			return p.Allow("not a spending action")
		}
		department := stringField(payload, "department")
		if department == "" {
			department = stringField(context, "department")
		}
		if department == "" {
			return p.Allow("no department to check")
		}
		attrs, ok := p.Attrs(department)
		if !ok {
			return p.Allow(fmt.Sprintf("no budget configured for %s", department))
		}
		amount, ok := numberField(payload, "amount")
		if !ok {
			return p.Allow("no amount specified")
		}
		allocated, _ := capability.AsNumber(attrs["allocated"])
		spent, _ := capability.AsNumber(attrs["spent"])
		remaining := allocated - spent

		if amount > remaining {
			return p.Deny(
				fmt.Sprintf("insufficient budget: $%.2f requested, $%.2f remaining for %s", amount, remaining, department),
				fmt.Sprintf("Reduce amount to $%.2f or request a budget increase", remaining),
			)
		}
		if amount > remaining*0.8 {
			return p.Warn(fmt.Sprintf("spending $%.2f uses over 80%% of the remaining %s budget ($%.2f)", amount, department, remaining))
		}
		return p.Allow(fmt.Sprintf("within budget: $%.2f remaining for %s after this transaction", remaining-amount, department))
	})
	return p
}

// FIN-004: invoice approval. Unapproved vendors are denied outright;
// larger invoices need a PO and, past $5,000, a completed three-way
// match.
func newInvoiceApprovalPolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "FIN-004",
		Name:        "Invoice Approval Policy",
		Category:    compliance.CategoryInvoiceApproval,
		Severity:    compliance.SeverityMedium,
		Description: "Enforces invoice approval requirements",
	})
	p.AddRule(func(action string, payload, _ map[string]any) *compliance.Result {
		if !anyKeyword(action, "invoice") {
			r := p.Allow("not an invoice action")
			return &r
		}
		if !boolField(payload, "vendor_approved") {
			r := p.Deny(
				"invoice from unapproved vendor",
				"Request vendor approval before processing the invoice",
			)
			return &r
		}
		amount, _ := numberField(payload, "amount")
		if amount > 1000 && stringField(payload, "po_number") == "" {
			r := p.Deny(
				"invoices over $1,000 require a PO number",
				"Attach a valid PO number to the invoice",
			)
			return &r
		}
		if amount > 5000 && !boolField(payload, "three_way_match") {
			r := p.Escalate(
				"invoices over $5,000 require three-way match verification",
				"Complete the three-way match (PO, receipt, invoice) before approval",
			)
			return &r
		}
		r := p.Allow("invoice meets approval requirements")
		return &r
	})
	return p
}

// FIN-005: fraud prevention. Expenses above the receipt threshold must
// carry documentation.
const receiptThreshold = 50

func newReceiptPolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "FIN-005",
		Name:        "Fraud Prevention Policy",
		Category:    compliance.CategoryFraudPrevention,
		Severity:    compliance.SeverityHigh,
		Description: "Requires receipts for expenses over the documentation threshold",
	})
	p.AddRule(func(action string, payload, _ map[string]any) *compliance.Result {
		if !anyKeyword(action, "expense", "reimbursement") {
			return nil
		}
		amount, ok := numberField(payload, "amount")
		if !ok {
			return nil
		}
		if amount > receiptThreshold && !boolField(payload, "has_receipt", "receipt_attached", "receipt") {
			r := p.Deny(
				fmt.Sprintf("receipt required for expenses over $%d", receiptThreshold),
				"Attach receipt documentation and resubmit",
			)
			return &r
		}
		return nil
	})
	return p
}
