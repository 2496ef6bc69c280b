package compliance

// Rule is one predicate in a rule policy. A rule returns a Result to stop
// evaluation, or nil to pass the action to the next rule.
type Rule func(action string, payload, context map[string]any) *Result

// RulePolicy evaluates an ordered list of rules. The first rule that
// returns a Result decides the outcome; if every rule passes, the policy
// allows. Rules are closures built against the policy itself so they can
// use its verdict constructors:
//
//	p := compliance.NewRulePolicy(meta)
//	p.AddRule(func(action string, payload, _ map[string]any) *compliance.Result {
//	    if amount(payload) > 10000 {
//	        r := p.Deny("amount exceeds hard cap", "split the request")
//	        return &r
//	    }
//	    return nil
//	})
type RulePolicy struct {
	*Core
	rules []Rule
}

// NewRulePolicy returns a rule policy with no rules; it allows everything
// until rules are added.
func NewRulePolicy(meta Meta, rules ...Rule) *RulePolicy {
	return &RulePolicy{Core: NewCore(meta), rules: rules}
}

// AddRule appends a rule. Rules run in insertion order. Not safe to call
// concurrently with Evaluate; build the rule list before registering the
// policy with an Engine.
func (p *RulePolicy) AddRule(rule Rule) {
	p.rules = append(p.rules, rule)
}

// Evaluate runs the rules in order.
func (p *RulePolicy) Evaluate(action string, payload, context map[string]any) Result {
	for _, rule := range p.rules {
		if r := rule(action, payload, context); r != nil {
			return *r
		}
	}
	return p.Allow("all rules passed")
}
