package catalog

import (
	"fmt"
	"strings"

	"github.com/intentguard/intentguard/internal/compliance"
	"github.com/intentguard/intentguard/internal/redact"
)

// PRIV-001: PII protection. PII headed outside the organization is
// rewritten with redacted values rather than blocked; bulk exports
// escalate for approval.
func newPIIPolicy(red *redact.Redactor, internalDomain string) *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "PRIV-001",
		Name:        "PII Protection Policy",
		Category:    compliance.CategoryPIIProtection,
		Severity:    compliance.SeverityCritical,
		Description: "Redacts personally identifiable information leaving the organization",
	})
	p.AddRule(func(_ string, payload, context map[string]any) *compliance.Result {
		if !externalRecipient(payload, context, internalDomain) {
			return nil
		}
		modified, res := red.RedactPayload(payload, "to", "recipient", "cc", "from")
		if !res.Detected {
			return nil
		}
		r := p.Modify(
			fmt.Sprintf("PII redacted for external recipient: %s", strings.Join(res.Fields, ", ")),
			modified,
			"Remove PII fields or use data masking",
		)
		return &r
	})
	p.AddRule(func(action string, payload, _ map[string]any) *compliance.Result {
		if !anyKeyword(action, "export", "download") {
			return nil
		}
		scan := red.ScanPayload(payload)
		if !scan.Detected {
			return nil
		}
		r := p.Escalate(
			fmt.Sprintf("PII export requires approval: %s", strings.Join(scan.Fields, ", ")),
			"Submit a data export request for approval",
		)
		return &r
	})
	return p
}

// Retention periods in days by data type.
var retentionPeriods = map[string]float64{
	"transaction": 2555,
	"employee":    2555,
	"customer":    1095,
	"marketing":   365,
	"logs":        90,
	"temporary":   30,
}

// PRIV-005: data retention. Early deletion and overdue data both warn;
// nothing here blocks.
func newRetentionPolicy() *compliance.RulePolicy {
	p := compliance.NewRulePolicy(compliance.Meta{
		ID:          "PRIV-005",
		Name:        "Data Retention Policy",
		Category:    compliance.CategoryRetention,
		Severity:    compliance.SeverityMedium,
		Description: "Enforces data retention and deletion schedules",
	})
	p.AddRule(func(action string, payload, _ map[string]any) *compliance.Result {
		age, ok := numberField(payload, "age_days")
		if !ok {
			return nil
		}
		dataType := stringField(payload, "data_type")
		if dataType == "" {
			dataType = "customer"
		}
		retention, known := retentionPeriods[dataType]
		if !known {
			retention = retentionPeriods["customer"]
		}

		if anyKeyword(action, "delete") {
			if age < retention {
				r := p.Warn(fmt.Sprintf("deleting %s data before the %0.f-day retention period", dataType, retention))
				return &r
			}
			r := p.Allow("data beyond retention period, deletion allowed")
			return &r
		}
		if age > retention {
			r := p.Warn(fmt.Sprintf("%s data (%.0f days old) exceeds the %.0f-day retention period", dataType, age, retention))
			return &r
		}
		return nil
	})
	return p
}
