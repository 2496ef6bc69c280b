// Package forensic persists hash-chained agent snapshots. Each snapshot
// links to its predecessor through a canonical content hash, so any
// after-the-fact edit to a stored file breaks chain verification.
package forensic

import (
	"time"

	"github.com/intentguard/intentguard/internal/canonical"
	"github.com/intentguard/intentguard/internal/tirs/drift"
)

// GenesisHash anchors the first snapshot of every agent chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Well-known snapshot triggers. The store accepts any string; these are
// the ones the runtime emits.
const (
	TriggerTerminalKill  = "terminal_risk_kill"
	TriggerCriticalPause = "critical_risk_pause"
	TriggerManualKill    = "manual_kill"
	TriggerManual        = "manual"
)

// Snapshot is an immutable capture of an agent profile at a notable
// moment, typically the transition into Paused or Killed.
type Snapshot struct {
	SnapshotID             string              `json:"snapshot_id"`
	AgentID                string              `json:"agent_id"`
	Trigger                string              `json:"trigger"`
	Timestamp              time.Time           `json:"timestamp"`
	RiskScore              float64             `json:"risk_score"`
	RiskLevel              drift.RiskLevel     `json:"risk_level"`
	Status                 drift.Status        `json:"status"`
	TotalIntents           int                 `json:"total_intents"`
	ViolationCount         int                 `json:"violation_count"`
	ResurrectionCount      int                 `json:"resurrection_count"`
	RiskHistoryTail        []float64           `json:"risk_history_tail"`
	IntentHistoryTail      []drift.IntentEvent `json:"intent_history_tail"`
	CapabilityDistribution map[string]float64  `json:"capability_distribution"`
	UnusualCapabilities    []string            `json:"unusual_capabilities"`
	PoliciesTriggered      []string            `json:"policies_triggered"`
	Environment            map[string]any      `json:"environment,omitempty"`
	PreviousSnapshotHash   string              `json:"previous_snapshot_hash"`
	ContentHash            string              `json:"content_hash"`

	// IntegrityValid is recomputed whenever a snapshot is read back
	// from disk; it is not part of the hashed content.
	IntegrityValid bool `json:"integrity_valid"`
}

// hashContent is the subset of snapshot fields covered by the content
// hash. Everything else can be enriched on read without breaking the
// chain.
type hashContent struct {
	SnapshotID     string  `json:"snapshot_id"`
	AgentID        string  `json:"agent_id"`
	Trigger        string  `json:"trigger"`
	Timestamp      string  `json:"timestamp"`
	RiskScore      float64 `json:"risk_score"`
	TotalIntents   int     `json:"total_intents"`
	ViolationCount int     `json:"violation_count"`
	PreviousHash   string  `json:"previous_hash"`
}

func snapshotHash(s *Snapshot) (string, error) {
	return canonical.Hash(hashContent{
		SnapshotID:     s.SnapshotID,
		AgentID:        s.AgentID,
		Trigger:        s.Trigger,
		Timestamp:      s.Timestamp.UTC().Format(time.RFC3339Nano),
		RiskScore:      s.RiskScore,
		TotalIntents:   s.TotalIntents,
		ViolationCount: s.ViolationCount,
		PreviousHash:   s.PreviousSnapshotHash,
	})
}

// Verify recomputes the content hash and reports whether it matches the
// stored one.
func (s *Snapshot) Verify() bool {
	h, err := snapshotHash(s)
	return err == nil && h == s.ContentHash
}
