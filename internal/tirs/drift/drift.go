// Package drift implements multi-signal behavioral drift detection for
// agents. Each analyzed intent produces five signals (embedding drift,
// capability surprisal, violation rate, velocity anomaly, context
// deviation) that compose into a risk score. The score is smoothed
// against recent history with exponential time decay and classified
// against context-adjusted thresholds, which drive the agent status
// state machine.
package drift

import "time"

// Status is an agent's runtime enforcement state.
type Status string

const (
	StatusActive      Status = "active"
	StatusThrottled   Status = "throttled"
	StatusPaused      Status = "paused"
	StatusKilled      Status = "killed"
	StatusResurrected Status = "resurrected"
)

// Executable reports whether an agent in this status may run actions.
// Throttled agents still execute; Paused and Killed do not.
func (s Status) Executable() bool {
	return s != StatusPaused && s != StatusKilled
}

// RiskLevel is the classified severity of a risk score.
type RiskLevel string

const (
	LevelNominal  RiskLevel = "nominal"
	LevelElevated RiskLevel = "elevated"
	LevelWarning  RiskLevel = "warning"
	LevelCritical RiskLevel = "critical"
	LevelTerminal RiskLevel = "terminal"
)

// rank orders levels for comparisons.
func (l RiskLevel) rank() int {
	switch l {
	case LevelElevated:
		return 1
	case LevelWarning:
		return 2
	case LevelCritical:
		return 3
	case LevelTerminal:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool { return l.rank() >= other.rank() }

// Signal names. The five signals and their default weights are fixed;
// weights are configurable but must sum to 1.
const (
	SignalEmbeddingDrift      = "embedding_drift"
	SignalCapabilitySurprisal = "capability_surprisal"
	SignalViolationRate       = "violation_rate"
	SignalVelocityAnomaly     = "velocity_anomaly"
	SignalContextDeviation    = "context_deviation"
)

// Signal is one measured drift component.
type Signal struct {
	Name         string  `json:"name"`
	RawValue     float64 `json:"raw_value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Explanation  string  `json:"explanation"`
}

// IntentEvent records one analyzed intent. Events are immutable once
// appended to a profile's history.
type IntentEvent struct {
	IntentID         string    `json:"intent_id"`
	Timestamp        time.Time `json:"timestamp"`
	IntentText       string    `json:"intent_text"`
	Capabilities     []string  `json:"capabilities"`
	Allowed          bool      `json:"allowed"`
	PolicyTriggered  string    `json:"policy_triggered,omitempty"`
	RiskScore        float64   `json:"risk_score"`
	RiskLevel        RiskLevel `json:"risk_level"`
	CentroidDistance float64   `json:"centroid_distance"`
}

// RiskPoint is one (timestamp, score) sample in a profile's risk history.
type RiskPoint struct {
	Time  time.Time `json:"time"`
	Score float64   `json:"score"`
}

// Result is the outcome of analyzing one intent.
type Result struct {
	AgentID        string     `json:"agent_id"`
	IntentID       string     `json:"intent_id"`
	Timestamp      time.Time  `json:"timestamp"`
	RiskScore      float64    `json:"risk_score"`
	RawScore       float64    `json:"raw_score"`
	RiskLevel      RiskLevel  `json:"risk_level"`
	Signals        []Signal   `json:"signals"`
	Status         Status     `json:"status"`
	PreviousStatus Status     `json:"previous_status"`
	StatusChanged  bool       `json:"status_changed"`
	Thresholds     Thresholds `json:"thresholds"`
	Warmup         bool       `json:"warmup"`
}

// PrimarySignal returns the signal with the largest contribution, or nil
// when no signals were computed.
func (r *Result) PrimarySignal() *Signal {
	var best *Signal
	for i := range r.Signals {
		if best == nil || r.Signals[i].Contribution > best.Contribution {
			best = &r.Signals[i]
		}
	}
	return best
}
