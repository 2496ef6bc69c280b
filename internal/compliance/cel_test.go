package compliance

import (
	"strings"
	"testing"
)

func newEvaluator(t *testing.T) *CELEvaluator {
	t.Helper()
	eval, err := NewCELEvaluator(nil)
	if err != nil {
		t.Fatalf("NewCELEvaluator: %v", err)
	}
	return eval
}

func TestCELCompileRejectsNonBool(t *testing.T) {
	eval := newEvaluator(t)
	if _, err := eval.Compile(`"not a bool"`); err == nil {
		t.Error("string-typed expression must be rejected")
	}
	if _, err := eval.Compile(`action ==`); err == nil {
		t.Error("syntax error must be rejected")
	}
}

func TestCELEvaluateVariables(t *testing.T) {
	eval := newEvaluator(t)

	tests := []struct {
		expr    string
		action  string
		payload map[string]any
		context map[string]any
		want    bool
	}{
		{`action == "wire_transfer"`, "wire_transfer", nil, nil, true},
		{`action == "wire_transfer"`, "approve_expense", nil, nil, false},
		{`double(payload["amount"]) > 1000.0`, "pay", map[string]any{"amount": 2500.0}, nil, true},
		{`department == "finance"`, "pay", nil, map[string]any{"department": "finance"}, true},
		{`"urgent" in payload`, "pay", map[string]any{"urgent": true}, nil, true},
		{`"urgent" in payload`, "pay", map[string]any{}, nil, false},
	}

	for _, tt := range tests {
		rule, err := eval.Compile(tt.expr)
		if err != nil {
			t.Fatalf("compile %q: %v", tt.expr, err)
		}
		got, err := eval.Evaluate(rule, tt.action, tt.payload, tt.context)
		if err != nil {
			t.Fatalf("evaluate %q: %v", tt.expr, err)
		}
		if got != tt.want {
			t.Errorf("%q = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestCELEvaluateNilMaps(t *testing.T) {
	eval := newEvaluator(t)
	rule, err := eval.Compile(`"x" in payload || "y" in context`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := eval.Evaluate(rule, "act", nil, nil)
	if err != nil {
		t.Fatalf("nil maps must not error: %v", err)
	}
	if got {
		t.Error("empty maps should not match")
	}
}

func TestCELPolicyFiresConfiguredVerdict(t *testing.T) {
	eval := newEvaluator(t)

	p, err := NewCELPolicy(
		Meta{ID: "CUS-001", Name: "after hours wire", Severity: SeverityHigh},
		eval,
		`action == "wire_transfer" && double(payload["amount"]) > 10000.0`,
		VerdictDeny,
		"large wire transfers are blocked",
		"split the transfer or request CFO approval",
	)
	if err != nil {
		t.Fatalf("NewCELPolicy: %v", err)
	}
	if p.Meta().Category != CategoryCustom {
		t.Errorf("default category = %s, want custom", p.Meta().Category)
	}

	r := p.Evaluate("wire_transfer", map[string]any{"amount": 50000.0}, nil)
	if r.Verdict != VerdictDeny {
		t.Errorf("verdict = %s, want deny", r.Verdict)
	}
	if r.Suggestion == "" {
		t.Error("suggestion lost")
	}

	r = p.Evaluate("wire_transfer", map[string]any{"amount": 100.0}, nil)
	if r.Verdict != VerdictAllow {
		t.Errorf("non-matching condition: verdict = %s, want allow", r.Verdict)
	}
}

func TestCELPolicyFailsClosed(t *testing.T) {
	eval := newEvaluator(t)

	// Indexing a missing key errors at evaluation time; the policy must
	// deny rather than allow on error.
	p, err := NewCELPolicy(
		Meta{ID: "CUS-002", Name: "broken", Severity: SeverityMedium},
		eval,
		`double(payload["missing"]) > 1.0`,
		VerdictWarn,
		"", "",
	)
	if err != nil {
		t.Fatalf("NewCELPolicy: %v", err)
	}

	r := p.Evaluate("act", map[string]any{}, nil)
	if r.Verdict != VerdictDeny {
		t.Errorf("evaluation error must fail closed, got %s", r.Verdict)
	}
	if !strings.Contains(r.Reason, "evaluation error") {
		t.Errorf("reason = %q", r.Reason)
	}
}

func TestCELPolicyRejectsAllowVerdict(t *testing.T) {
	eval := newEvaluator(t)
	if _, err := NewCELPolicy(Meta{ID: "CUS-003", Name: "x"}, eval, `true`, VerdictAllow, "", ""); err == nil {
		t.Error("allow verdict for a matching condition makes no sense and must be rejected")
	}
}
