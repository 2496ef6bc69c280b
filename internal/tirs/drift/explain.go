package drift

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Counterfactual reports the score if one signal's contribution were
// removed.
type Counterfactual struct {
	Signal         string  `json:"signal"`
	Contribution   float64 `json:"contribution"`
	ScoreIfRemoved float64 `json:"score_if_removed"`
	Explanation    string  `json:"explanation"`
}

// Suggestion is a remediation mapped from a signal, ranked by expected
// impact.
type Suggestion struct {
	Action         string  `json:"action"`
	ExpectedImpact float64 `json:"expected_impact"`
	Priority       int     `json:"priority"`
	Explanation    string  `json:"explanation"`
}

// PatternMatch references a known behavioral pattern the current
// signals resemble.
type PatternMatch struct {
	Name        string  `json:"name"`
	Similarity  float64 `json:"similarity"`
	Benign      bool    `json:"benign"`
	Description string  `json:"description"`
}

// Factor is a named contribution used for secondary-factor listings.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

// Explanation is the human-readable breakdown of a drift result.
type Explanation struct {
	AgentID             string            `json:"agent_id"`
	Score               float64           `json:"score"`
	Level               RiskLevel         `json:"risk_level"`
	Timestamp           time.Time         `json:"timestamp"`
	PrimaryFactor       string            `json:"primary_factor"`
	PrimaryContribution float64           `json:"primary_contribution"`
	SecondaryFactors    []Factor          `json:"secondary_factors"`
	SignalNotes         map[string]string `json:"signal_notes"`
	Counterfactuals     []Counterfactual  `json:"counterfactuals"`
	Suggestions         []Suggestion      `json:"suggestions"`
	SimilarPatterns     []PatternMatch    `json:"similar_patterns"`
	Summary             string            `json:"summary"`
}

// referencePattern is a built-in signal fingerprint for comparison.
type referencePattern struct {
	name        string
	description string
	benign      bool
	signals     map[string]float64
}

var referencePatterns = []referencePattern{
	{
		name:        "normal_business_hours",
		description: "Standard business hour operations with typical capability usage",
		benign:      true,
		signals:     map[string]float64{SignalEmbeddingDrift: 0.1, SignalCapabilitySurprisal: 0.15, SignalVelocityAnomaly: 0.1},
	},
	{
		name:        "quarter_end_close",
		description: "Elevated activity during quarter-end financial close",
		benign:      true,
		signals:     map[string]float64{SignalVelocityAnomaly: 0.4, SignalContextDeviation: 0.2},
	},
	{
		name:        "bulk_data_export",
		description: "Large-scale data export pattern, potentially suspicious",
		benign:      false,
		signals:     map[string]float64{SignalCapabilitySurprisal: 0.6, SignalEmbeddingDrift: 0.5},
	},
	{
		name:        "privilege_escalation_attempt",
		description: "Attempting operations beyond normal scope",
		benign:      false,
		signals:     map[string]float64{SignalCapabilitySurprisal: 0.8, SignalViolationRate: 0.5},
	},
	{
		name:        "after_hours_maintenance",
		description: "Legitimate after-hours maintenance activity",
		benign:      true,
		signals:     map[string]float64{SignalContextDeviation: 0.4, SignalVelocityAnomaly: 0.2},
	},
}

var signalNotes = map[string][2]string{
	SignalEmbeddingDrift: {
		"Agent behavior has diverged from its established pattern; recent intents are semantically different from typical operations.",
		"Agent behavior remains consistent with established patterns.",
	},
	SignalCapabilitySurprisal: {
		"Unusual capabilities requested that are rarely used by this agent; this may indicate scope expansion or misuse.",
		"Capability usage is within normal parameters.",
	},
	SignalViolationRate: {
		"Multiple policy violations in recent history indicate potential compliance issues.",
		"Policy compliance is good with minimal violations.",
	},
	SignalVelocityAnomaly: {
		"Action rate is significantly higher than baseline, which may indicate automated or bulk operations.",
		"Action rate is within normal operating parameters.",
	},
	SignalContextDeviation: {
		"Operations are occurring outside normal context such as off-hours or an unusual role.",
		"Operations are occurring within expected context.",
	},
}

// suggestionSpec maps a signal to its remediation and impact factor.
type suggestionSpec struct {
	action      string
	factor      float64
	priority    int
	explanation string
}

var suggestionSpecs = map[string]suggestionSpec{
	SignalEmbeddingDrift: {
		action:      "Return to standard operation patterns",
		factor:      0.8,
		priority:    2,
		explanation: "Focus on core responsibilities rather than expanding scope",
	},
	SignalCapabilitySurprisal: {
		action:      "Request explicit authorization for new capabilities",
		factor:      0.9,
		priority:    1,
		explanation: "Unusual capabilities should be pre-approved before use",
	},
	SignalViolationRate: {
		action:      "Review and comply with policy requirements",
		factor:      0.95,
		priority:    1,
		explanation: "Reduce policy violations to restore trust",
	},
	SignalVelocityAnomaly: {
		action:      "Reduce action rate to baseline levels",
		factor:      0.7,
		priority:    2,
		explanation: "Slow down operations to match normal patterns",
	},
	SignalContextDeviation: {
		action:      "Operate during standard business context",
		factor:      0.6,
		priority:    3,
		explanation: "Schedule operations for normal business hours where possible",
	},
}

const (
	counterfactualFloor = 0.05
	suggestionFloor     = 0.3
	patternFloor        = 0.5
)

// Explain builds a full explanation from a drift result. The view is
// optional and only enriches the summary with historical context.
func Explain(result *Result, view *View) *Explanation {
	sorted := make([]Signal, len(result.Signals))
	copy(sorted, result.Signals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Contribution > sorted[j].Contribution
	})

	exp := &Explanation{
		AgentID:     result.AgentID,
		Score:       result.RiskScore,
		Level:       result.RiskLevel,
		Timestamp:   result.Timestamp,
		SignalNotes: make(map[string]string, len(result.Signals)),
	}

	if len(sorted) > 0 {
		exp.PrimaryFactor = sorted[0].Name
		exp.PrimaryContribution = sorted[0].Contribution
		end := len(sorted)
		if end > 3 {
			end = 3
		}
		for _, s := range sorted[1:end] {
			exp.SecondaryFactors = append(exp.SecondaryFactors, Factor{Name: s.Name, Contribution: s.Contribution})
		}
	} else {
		exp.PrimaryFactor = "agent_killed"
		exp.PrimaryContribution = result.RiskScore
	}

	for _, s := range result.Signals {
		high := s.RawValue > 0.2
		if s.Name == SignalViolationRate {
			high = s.RawValue > 0.3
		}
		notes, ok := signalNotes[s.Name]
		if !ok {
			exp.SignalNotes[s.Name] = fmt.Sprintf("%s: %.2f", s.Name, s.RawValue)
			continue
		}
		if high {
			exp.SignalNotes[s.Name] = notes[0]
		} else {
			exp.SignalNotes[s.Name] = notes[1]
		}
	}

	exp.Counterfactuals = counterfactuals(result)
	exp.Suggestions = suggestions(result)
	exp.SimilarPatterns = similarPatterns(result)
	exp.Summary = summarize(result, view, exp.PrimaryFactor)
	return exp
}

func counterfactuals(result *Result) []Counterfactual {
	var out []Counterfactual
	for _, s := range result.Signals {
		if s.Contribution <= counterfactualFloor {
			continue
		}
		remaining := result.RiskScore - s.Contribution
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, Counterfactual{
			Signal:         s.Name,
			Contribution:   s.Contribution,
			ScoreIfRemoved: remaining,
			Explanation:    fmt.Sprintf("removing %s would reduce risk by %.0f%%", s.Name, s.Contribution*100),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Contribution > out[j].Contribution })
	return out
}

func suggestions(result *Result) []Suggestion {
	var out []Suggestion
	for _, s := range result.Signals {
		if s.RawValue < suggestionFloor {
			continue
		}
		spec, ok := suggestionSpecs[s.Name]
		if !ok {
			continue
		}
		out = append(out, Suggestion{
			Action:         spec.action,
			ExpectedImpact: s.Contribution * spec.factor,
			Priority:       spec.priority,
			Explanation:    spec.explanation,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpectedImpact > out[j].ExpectedImpact })
	return out
}

func similarPatterns(result *Result) []PatternMatch {
	current := make(map[string]float64, len(result.Signals))
	for _, s := range result.Signals {
		current[s.Name] = s.RawValue
	}

	var out []PatternMatch
	for _, pat := range referencePatterns {
		var totalDiff float64
		shared := 0
		for name, want := range pat.signals {
			got, ok := current[name]
			if !ok {
				continue
			}
			totalDiff += math.Abs(got - want)
			shared++
		}
		if shared == 0 {
			continue
		}
		meanDiff := totalDiff / float64(shared)
		if meanDiff > 1 {
			meanDiff = 1
		}
		similarity := 1 - meanDiff
		if similarity > patternFloor {
			out = append(out, PatternMatch{
				Name:        pat.name,
				Similarity:  similarity,
				Benign:      pat.benign,
				Description: pat.description,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func summarize(result *Result, view *View, primary string) string {
	var parts []string

	switch result.RiskLevel {
	case LevelTerminal:
		parts = append(parts, fmt.Sprintf("CRITICAL: agent %s has reached terminal risk level.", result.AgentID))
	case LevelCritical:
		parts = append(parts, fmt.Sprintf("WARNING: agent %s is at critical risk and has been paused.", result.AgentID))
	case LevelWarning:
		parts = append(parts, fmt.Sprintf("CAUTION: agent %s shows warning-level drift.", result.AgentID))
	case LevelElevated:
		parts = append(parts, fmt.Sprintf("NOTE: agent %s shows slightly elevated risk.", result.AgentID))
	default:
		parts = append(parts, fmt.Sprintf("Agent %s is operating within normal parameters.", result.AgentID))
	}

	if ps := result.PrimarySignal(); ps != nil && ps.Contribution > 0.1 {
		parts = append(parts, fmt.Sprintf("Primary concern: %s.", ps.Explanation))
	}

	if view != nil {
		if view.ViolationCount > 5 {
			parts = append(parts, fmt.Sprintf("Agent has %d historical violations.", view.ViolationCount))
		}
		if view.ResurrectionCount > 0 {
			parts = append(parts, fmt.Sprintf("Agent has been resurrected %d time(s).", view.ResurrectionCount))
		}
	}

	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}
