// Package catalog ships the built-in domain policy set: finance, HR,
// legal, data privacy, procurement, and security/IT. Policies are built
// on the compliance primitives (rule lists, registries) with the
// constants from the corporate policy handbook baked in. Install wires
// the whole set into an Engine in a fixed order and returns handles to
// the registry-backed policies so operators can manage budgets, vendors,
// NDAs, and litigation holds at runtime.
package catalog

import (
	"fmt"
	"strings"

	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
	"github.com/intentguard/intentguard/internal/redact"
)

// Options configure catalog construction.
type Options struct {
	// Redactor backs the PII policy; a default is built when nil.
	Redactor *redact.Redactor

	// InternalDomain marks recipients inside the organization, e.g.
	// "@company.com". Addresses outside it count as external transfer.
	InternalDomain string
}

// Catalog holds the installed policy set plus direct handles to the
// registry-backed policies that take runtime membership updates.
type Catalog struct {
	Budget  *compliance.RegistryPolicy // FIN-003 department ledger
	Duties  *compliance.RegistryPolicy // FIN-002 action history
	NDAs    *compliance.RegistryPolicy // LEG-002 counterparties
	Holds   *compliance.RegistryPolicy // LEG-004 hold scopes
	Vendors *compliance.RegistryPolicy // PROC-001 approved vendors

	policies []compliance.Policy
}

// Install builds the built-in policies and registers them with the
// engine in a fixed order: finance, HR, legal, privacy, procurement,
// security. The order is the evaluation order.
func Install(engine *compliance.Engine, opts Options) (*Catalog, error) {
	red := opts.Redactor
	if red == nil {
		red = redact.NewRedactor(nil)
	}
	domain := strings.ToLower(opts.InternalDomain)
	if domain == "" {
		domain = "@company.com"
	}
	if !strings.HasPrefix(domain, "@") {
		domain = "@" + domain
	}

	c := &Catalog{
		Budget:  newBudgetPolicy(),
		Duties:  newSeparationOfDutiesPolicy(),
		NDAs:    newNDAPolicy(),
		Holds:   newLitigationHoldPolicy(),
		Vendors: newVendorApprovalPolicy(),
	}

	c.policies = []compliance.Policy{
		newExpenseLimitPolicy(),
		c.Duties,
		c.Budget,
		newInvoiceApprovalPolicy(),
		newReceiptPolicy(),
		newHiringCompliancePolicy(),
		newCompensationPolicy(),
		newTerminationPolicy(),
		newContractReviewPolicy(),
		c.NDAs,
		newIPProtectionPolicy(domain),
		c.Holds,
		newPIIPolicy(red, domain),
		newRetentionPolicy(),
		c.Vendors,
		newSpendingLimitsPolicy(),
		newBidRequirementsPolicy(),
		newAccessControlPolicy(),
		newDataClassificationPolicy(),
		newChangeManagementPolicy(),
	}

	for _, p := range c.policies {
		if err := engine.Register(p); err != nil {
			return nil, fmt.Errorf("register %s: %w", p.Meta().ID, err)
		}
	}
	return c, nil
}

// Policies returns the installed policies in registration order.
func (c *Catalog) Policies() []compliance.Policy {
	out := make([]compliance.Policy, len(c.policies))
	copy(out, c.policies)
	return out
}

// SetBudget allocates a department budget and zeroes its spend.
func (c *Catalog) SetBudget(department string, allocated float64) {
	c.Budget.Add(department, map[string]any{"allocated": allocated, "spent": 0.0})
}

// RecordSpend adds to a department's spent total. Departments without a
// configured budget are ignored.
func (c *Catalog) RecordSpend(department string, amount float64) {
	c.Budget.Update(department, func(attrs map[string]any) map[string]any {
		if attrs == nil {
			return nil
		}
		spent, _ := capability.AsNumber(attrs["spent"])
		attrs["spent"] = spent + amount
		return attrs
	})
}

// ApproveVendor adds a vendor to the approved list.
func (c *Catalog) ApproveVendor(vendorID string, preferred bool) {
	c.Vendors.Add(vendorID, map[string]any{"preferred": preferred})
}

// RegisterNDA records an active NDA for a counterparty.
func (c *Catalog) RegisterNDA(entityID string) {
	c.NDAs.Add(entityID, nil)
}

// AddHold records a litigation hold. scope maps payload keys to the
// value (or list of values) the hold covers.
func (c *Catalog) AddHold(holdID string, scope map[string]any) {
	c.Holds.Add(holdID, scope)
}

// ReleaseHold lifts a litigation hold.
func (c *Catalog) ReleaseHold(holdID string) {
	c.Holds.Remove(holdID)
}

// ---- shared payload helpers ----

func anyKeyword(action string, words ...string) bool {
	lower := strings.ToLower(action)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func numberField(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if n, ok := capability.AsNumber(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func boolField(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if b, ok := m[k].(bool); ok && b {
			return true
		}
	}
	return false
}

func stringList(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// externalRecipient reports whether an action leaves the organization:
// an explicit external flag, or a recipient address outside the internal
// domain.
func externalRecipient(payload, context map[string]any, internalDomain string) bool {
	if boolField(payload, "external") || boolField(context, "external") {
		return true
	}
	rcpt := strings.ToLower(stringField(payload, "recipient", "to"))
	if rcpt == "" || !strings.Contains(rcpt, "@") {
		return false
	}
	return !strings.HasSuffix(rcpt, internalDomain)
}
