package drift

import (
	"sort"
	"sync"
	"time"
)

// Profile is the per-agent behavioral record. All reads and writes of a
// profile's fields go through its mutex; the detector bounds hold time
// to one intent's signal computation.
type Profile struct {
	mu sync.Mutex

	agentID           string
	status            Status
	totalIntents      int
	violationCount    int
	resurrectionCount int

	riskHistory   []RiskPoint
	intentHistory []IntentEvent

	capabilityCounts map[string]int

	baselineCentroid []float64
	warmupSeen       int
	centroidFrozen   bool

	currentRiskScore float64
	lastLevel        RiskLevel
	lastSnapshotHash string

	createdAt   time.Time
	lastUpdated time.Time
}

func newProfile(agentID string, now time.Time) *Profile {
	return &Profile{
		agentID:          agentID,
		status:           StatusActive,
		lastLevel:        LevelNominal,
		capabilityCounts: make(map[string]int),
		createdAt:        now,
		lastUpdated:      now,
	}
}

// View is an immutable copy of a profile's observable state, safe to use
// after the profile lock is released. Snapshots and dashboards consume
// views, never live profiles.
type View struct {
	AgentID                string             `json:"agent_id"`
	Status                 Status             `json:"status"`
	TotalIntents           int                `json:"total_intents"`
	ViolationCount         int                `json:"violation_count"`
	ResurrectionCount      int                `json:"resurrection_count"`
	CurrentRiskScore       float64            `json:"current_risk_score"`
	CurrentRiskLevel       RiskLevel          `json:"current_risk_level"`
	RiskHistoryTail        []float64          `json:"risk_history_tail"`
	IntentHistoryTail      []IntentEvent      `json:"intent_history_tail"`
	CapabilityDistribution map[string]float64 `json:"capability_distribution"`
	UnusualCapabilities    []string           `json:"unusual_capabilities"`
	PoliciesTriggered      []string           `json:"policies_triggered"`
	LastSnapshotHash       string             `json:"last_snapshot_hash,omitempty"`
	WarmupComplete         bool               `json:"warmup_complete"`
	CreatedAt              time.Time          `json:"created_at"`
	LastUpdated            time.Time          `json:"last_updated"`
}

const (
	riskTailLen   = 20
	intentTailLen = 10

	// Capabilities used in under 5% of intents count as unusual.
	unusualShare = 0.05
)

// viewLocked copies observable state. Callers must hold p.mu.
func (p *Profile) viewLocked() View {
	v := View{
		AgentID:           p.agentID,
		Status:            p.status,
		TotalIntents:      p.totalIntents,
		ViolationCount:    p.violationCount,
		ResurrectionCount: p.resurrectionCount,
		CurrentRiskScore:  p.currentRiskScore,
		CurrentRiskLevel:  p.lastLevel,
		LastSnapshotHash:  p.lastSnapshotHash,
		WarmupComplete:    p.centroidFrozen,
		CreatedAt:         p.createdAt,
		LastUpdated:       p.lastUpdated,
	}

	start := len(p.riskHistory) - riskTailLen
	if start < 0 {
		start = 0
	}
	for _, pt := range p.riskHistory[start:] {
		v.RiskHistoryTail = append(v.RiskHistoryTail, pt.Score)
	}

	start = len(p.intentHistory) - intentTailLen
	if start < 0 {
		start = 0
	}
	v.IntentHistoryTail = append(v.IntentHistoryTail, p.intentHistory[start:]...)

	v.CapabilityDistribution = make(map[string]float64, len(p.capabilityCounts))
	if p.totalIntents > 0 {
		for name, count := range p.capabilityCounts {
			share := float64(count) / float64(p.totalIntents)
			v.CapabilityDistribution[name] = share
			if share < unusualShare {
				v.UnusualCapabilities = append(v.UnusualCapabilities, name)
			}
		}
	}
	sort.Strings(v.UnusualCapabilities)

	seen := make(map[string]bool)
	for _, ev := range p.intentHistory {
		if ev.PolicyTriggered != "" && !seen[ev.PolicyTriggered] {
			seen[ev.PolicyTriggered] = true
			v.PoliciesTriggered = append(v.PoliciesTriggered, ev.PolicyTriggered)
		}
	}

	return v
}

// recordLocked appends an intent event and its risk point, updates
// counters, and evicts beyond capacity. Callers must hold p.mu.
func (p *Profile) recordLocked(ev IntentEvent, riskCap, intentCap int) {
	p.totalIntents++
	if !ev.Allowed {
		p.violationCount++
	}
	for _, name := range ev.Capabilities {
		p.capabilityCounts[name]++
	}

	p.riskHistory = append(p.riskHistory, RiskPoint{Time: ev.Timestamp, Score: ev.RiskScore})
	if len(p.riskHistory) > riskCap {
		p.riskHistory = p.riskHistory[len(p.riskHistory)-riskCap:]
	}

	p.intentHistory = append(p.intentHistory, ev)
	if len(p.intentHistory) > intentCap {
		p.intentHistory = p.intentHistory[len(p.intentHistory)-intentCap:]
	}

	p.currentRiskScore = ev.RiskScore
	p.lastLevel = ev.RiskLevel
	p.lastUpdated = ev.Timestamp
}

// violationRateLocked counts disallowed intents over the last window
// entries, divided by the full window size. Callers must hold p.mu.
func (p *Profile) violationRateLocked(window int) float64 {
	if window <= 0 || len(p.intentHistory) == 0 {
		return 0
	}
	start := len(p.intentHistory) - window
	if start < 0 {
		start = 0
	}
	violations := 0
	for _, ev := range p.intentHistory[start:] {
		if !ev.Allowed {
			violations++
		}
	}
	return float64(violations) / float64(window)
}

// recentDistancesLocked returns the last k centroid distances as timed
// values. Callers must hold p.mu.
func (p *Profile) recentDistancesLocked(k int) []TimedValue {
	start := len(p.intentHistory) - k
	if start < 0 {
		start = 0
	}
	out := make([]TimedValue, 0, len(p.intentHistory)-start)
	for _, ev := range p.intentHistory[start:] {
		out = append(out, TimedValue{Time: ev.Timestamp, Value: ev.CentroidDistance})
	}
	return out
}

// absorbCentroidLocked folds an embedding into the warmup centroid via
// running mean. Callers must hold p.mu.
func (p *Profile) absorbCentroidLocked(vec []float64, warmupTarget int) {
	if p.baselineCentroid == nil {
		p.baselineCentroid = make([]float64, len(vec))
		copy(p.baselineCentroid, vec)
	} else {
		n := float64(p.warmupSeen)
		for i := range p.baselineCentroid {
			if i < len(vec) {
				p.baselineCentroid[i] = (p.baselineCentroid[i]*n + vec[i]) / (n + 1)
			}
		}
	}
	p.warmupSeen++
	if p.warmupSeen >= warmupTarget {
		p.centroidFrozen = true
	}
}
