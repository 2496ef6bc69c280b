package compliance

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
)

// CompiledRule wraps a pre-compiled CEL program for fast repeated
// evaluation.
type CompiledRule struct {
	Expression string
	program    cel.Program
}

// CELEvaluator compiles and evaluates CEL expressions against an action,
// its payload, and the request context. Expressions are compiled once at
// load time; evaluation is lock-free and safe for concurrent use.
type CELEvaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewCELEvaluator creates a CELEvaluator with the standard variable
// declarations available in policy conditions.
func NewCELEvaluator(logger *slog.Logger) (*CELEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),

		cel.Variable("agent.id", cel.StringType),
		cel.Variable("department", cel.StringType),
		cel.Variable("role", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CELEvaluator{
		env:    env,
		logger: logger.With("component", "compliance.CELEvaluator"),
	}, nil
}

// Compile parses and type-checks a CEL expression, returning a
// CompiledRule ready for evaluation. This should be called at load time,
// not in the hot path.
func (c *CELEvaluator) Compile(expr string) (CompiledRule, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return CompiledRule{}, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}

	// Ensure the expression evaluates to a boolean.
	if ast.OutputType() != cel.BoolType {
		return CompiledRule{}, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return CompiledRule{}, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}

	c.logger.Debug("compiled CEL expression", "expression", expr)

	return CompiledRule{Expression: expr, program: prg}, nil
}

// Evaluate runs a pre-compiled CEL rule. Returns true if the condition
// matches (i.e. the policy should fire).
func (c *CELEvaluator) Evaluate(rule CompiledRule, action string, payload, context map[string]any) (bool, error) {
	// CEL map access on nil panics; guard both maps.
	if payload == nil {
		payload = map[string]any{}
	}
	if context == nil {
		context = map[string]any{}
	}

	vars := map[string]any{
		"action":  action,
		"payload": payload,
		"context": context,

		"agent.id":   stringAt(context, "agent_id"),
		"department": stringAt(context, "department"),
		"role":       stringAt(context, "role"),
	}

	out, _, err := rule.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", rule.Expression, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q returned non-bool: %T", rule.Expression, out.Value())
	}

	return result, nil
}

func stringAt(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// CELPolicy fires a configured verdict when its compiled condition
// matches. Operators define these in the config file; a compile failure
// at load time rejects the config rather than silently allowing.
type CELPolicy struct {
	*Core
	eval       *CELEvaluator
	rule       CompiledRule
	verdict    Verdict
	reason     string
	suggestion string
}

// NewCELPolicy compiles expr and returns the policy. verdict is applied
// when the condition evaluates true; the policy allows otherwise.
func NewCELPolicy(meta Meta, eval *CELEvaluator, expr string, verdict Verdict, reason, suggestion string) (*CELPolicy, error) {
	rule, err := eval.Compile(expr)
	if err != nil {
		return nil, err
	}
	if verdict == VerdictAllow {
		return nil, fmt.Errorf("CEL policy %s: a matching condition cannot produce allow", meta.ID)
	}
	if meta.Category == "" {
		meta.Category = CategoryCustom
	}
	return &CELPolicy{
		Core:       NewCore(meta),
		eval:       eval,
		rule:       rule,
		verdict:    verdict,
		reason:     reason,
		suggestion: suggestion,
	}, nil
}

// Expression returns the source CEL expression.
func (p *CELPolicy) Expression() string { return p.rule.Expression }

// Evaluate runs the condition. Evaluation errors fail closed: a policy
// that cannot be evaluated denies rather than waving the action through.
func (p *CELPolicy) Evaluate(action string, payload, context map[string]any) Result {
	matched, err := p.eval.Evaluate(p.rule, action, payload, context)
	if err != nil {
		return p.Deny("policy evaluation error: "+err.Error(), "")
	}
	if !matched {
		return p.Allow("condition not met")
	}

	reason := p.reason
	if reason == "" {
		reason = fmt.Sprintf("condition %q matched", p.rule.Expression)
	}

	switch p.verdict {
	case VerdictDeny:
		return p.Deny(reason, p.suggestion)
	case VerdictEscalate:
		return p.Escalate(reason, p.suggestion)
	case VerdictWarn:
		return p.Warn(reason)
	case VerdictModify:
		// CEL policies cannot compute a rewritten payload; a modify
		// verdict surfaces as a warn so the condition still leaves a
		// trace in the aggregate.
		return p.Warn(reason)
	default:
		return p.Deny(fmt.Sprintf("unknown verdict %q", p.verdict), "")
	}
}
