package compliance

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleFile is the YAML shape of the operator-defined policy file. Two
// flavors are supported: CEL policies (condition + verdict) and
// threshold policies (field + warn/escalate/deny levels).
type RuleFile struct {
	Policies []RuleDef `yaml:"policies"`
}

// RuleDef is one operator-defined policy.
type RuleDef struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Severity    string `yaml:"severity"`
	Description string `yaml:"description"`

	// CEL flavor.
	Condition  string `yaml:"condition"`
	Verdict    string `yaml:"verdict"`
	Reason     string `yaml:"reason"`
	Suggestion string `yaml:"suggestion"`

	// Threshold flavor.
	Field    string   `yaml:"field"`
	Warn     *float64 `yaml:"warn"`
	Escalate *float64 `yaml:"escalate"`
	Deny     *float64 `yaml:"deny"`
}

func parseSeverity(s string) (Severity, error) {
	switch s {
	case "", "medium":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

func parseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictDeny, VerdictEscalate, VerdictWarn, VerdictModify:
		return Verdict(s), nil
	case "":
		return VerdictDeny, nil
	default:
		return "", fmt.Errorf("unknown verdict %q", s)
	}
}

// LoadRulesFile parses the operator rule file and compiles every
// definition. Any invalid definition fails the whole load: a policy
// file that half-applies is worse than one that is rejected outright.
func LoadRulesFile(path string, eval *CELEvaluator) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	return ParseRules(data, eval)
}

// ParseRules compiles rule definitions from raw YAML.
func ParseRules(data []byte, eval *CELEvaluator) ([]Policy, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	policies := make([]Policy, 0, len(file.Policies))
	seen := make(map[string]bool, len(file.Policies))
	for i, def := range file.Policies {
		if def.ID == "" {
			return nil, fmt.Errorf("policy %d has no id", i)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate policy id %q", def.ID)
		}
		seen[def.ID] = true

		severity, err := parseSeverity(def.Severity)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", def.ID, err)
		}
		meta := Meta{
			ID:          def.ID,
			Name:        def.Name,
			Category:    CategoryCustom,
			Severity:    severity,
			Description: def.Description,
		}

		switch {
		case def.Condition != "":
			verdict, err := parseVerdict(def.Verdict)
			if err != nil {
				return nil, fmt.Errorf("policy %s: %w", def.ID, err)
			}
			p, err := NewCELPolicy(meta, eval, def.Condition, verdict, def.Reason, def.Suggestion)
			if err != nil {
				return nil, fmt.Errorf("policy %s: %w", def.ID, err)
			}
			policies = append(policies, p)

		case def.Field != "":
			if def.Warn == nil && def.Escalate == nil && def.Deny == nil {
				return nil, fmt.Errorf("policy %s: threshold policy needs at least one level", def.ID)
			}
			policies = append(policies, NewThresholdPolicy(meta, def.Field, Thresholds{
				Warn:     def.Warn,
				Escalate: def.Escalate,
				Deny:     def.Deny,
			}))

		default:
			return nil, fmt.Errorf("policy %s: needs either a condition or a field", def.ID)
		}
	}
	return policies, nil
}
