package compliance

import (
	"fmt"

	"github.com/intentguard/intentguard/internal/capability"
)

// Thresholds configures a ThresholdPolicy. Unset levels are skipped. The
// check order is fixed: deny, then escalate, then warn, each inclusive on
// the lower side (value >= threshold fires).
type Thresholds struct {
	Warn     *float64
	Escalate *float64
	Deny     *float64
}

// Threshold returns a pointer for Thresholds literals.
func Threshold(v float64) *float64 { return &v }

// ThresholdPolicy reads one numeric payload field and grades it against
// configured thresholds. A missing or non-numeric field allows: threshold
// policies guard magnitudes, not presence.
type ThresholdPolicy struct {
	*Core
	field      string
	thresholds Thresholds
}

// NewThresholdPolicy returns a threshold policy over the named payload
// field.
func NewThresholdPolicy(meta Meta, field string, t Thresholds) *ThresholdPolicy {
	return &ThresholdPolicy{Core: NewCore(meta), field: field, thresholds: t}
}

// Field returns the payload field the policy reads.
func (p *ThresholdPolicy) Field() string { return p.field }

// Evaluate grades payload[field] against the thresholds.
func (p *ThresholdPolicy) Evaluate(action string, payload, context map[string]any) Result {
	raw, present := payload[p.field]
	if !present {
		return p.Allow(fmt.Sprintf("field %q not present", p.field))
	}

	value, ok := capability.AsNumber(raw)
	if !ok {
		return p.Allow(fmt.Sprintf("field %q is not numeric", p.field))
	}

	if p.thresholds.Deny != nil && value >= *p.thresholds.Deny {
		return p.Deny(
			fmt.Sprintf("%s (%v) exceeds maximum (%v)", p.field, value, *p.thresholds.Deny),
			fmt.Sprintf("Reduce %s below %v", p.field, *p.thresholds.Deny),
		)
	}
	if p.thresholds.Escalate != nil && value >= *p.thresholds.Escalate {
		return p.Escalate(
			fmt.Sprintf("%s (%v) requires approval (threshold: %v)", p.field, value, *p.thresholds.Escalate),
			"",
		)
	}
	if p.thresholds.Warn != nil && value >= *p.thresholds.Warn {
		return p.Warn(fmt.Sprintf("%s (%v) approaching limit", p.field, value))
	}

	return p.Allow(fmt.Sprintf("%s (%v) within limits", p.field, value))
}
