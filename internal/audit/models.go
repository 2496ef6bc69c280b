// Package audit maintains a tamper-evident, hash-chained log of every
// governance decision the runtime makes.
package audit

import "time"

// EventType classifies an audit entry.
type EventType string

const (
	EventAgentRegistered  EventType = "agent_registered"
	EventAgentPaused      EventType = "agent_paused"
	EventAgentResumed     EventType = "agent_resumed"
	EventAgentKilled      EventType = "agent_killed"
	EventAgentResurrected EventType = "agent_resurrected"

	EventIntentAllowed  EventType = "intent_allowed"
	EventIntentDenied   EventType = "intent_denied"
	EventIntentModified EventType = "intent_modified"

	EventDriftWarning  EventType = "drift_warning"
	EventDriftCritical EventType = "drift_critical"
	EventDriftTerminal EventType = "drift_terminal"

	EventEnforcementThrottle EventType = "enforcement_throttle"
	EventEnforcementPause    EventType = "enforcement_pause"
	EventEnforcementKill     EventType = "enforcement_kill"

	EventApprovalRequested EventType = "approval_requested"
	EventApprovalGranted   EventType = "approval_granted"
	EventApprovalDenied    EventType = "approval_denied"

	EventSnapshotCreated EventType = "snapshot_created"
	EventChainVerified   EventType = "chain_verified"
	EventChainTampered   EventType = "chain_tampered"

	EventHandoffVerified EventType = "handoff_verified"
	EventHandoffRejected EventType = "handoff_rejected"

	EventWorkflowStarted  EventType = "workflow_started"
	EventWorkflowFinished EventType = "workflow_finished"

	EventRequestProcessed EventType = "request_processed"

	EventSystemStart  EventType = "system_start"
	EventSystemStop   EventType = "system_stop"
	EventConfigChange EventType = "config_change"
)

// Entry is one immutable record in the audit chain. The content hash
// covers every field except itself; the previous hash links entries
// into a per-process chain starting at the genesis hash.
type Entry struct {
	EntryID      string         `json:"entry_id"`
	Timestamp    time.Time      `json:"timestamp"`
	EventType    EventType      `json:"event_type"`
	AgentID      string         `json:"agent_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	Data         map[string]any `json:"data"`
	Sequence     uint64         `json:"sequence"`
	PreviousHash string         `json:"previous_hash"`
	ContentHash  string         `json:"content_hash"`
}

// Filter narrows entry listings. Zero fields match everything.
type Filter struct {
	EventType EventType
	AgentID   string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// Summary aggregates the chain for dashboards.
type Summary struct {
	TotalEntries    int64            `json:"total_entries"`
	CurrentSequence uint64           `json:"current_sequence"`
	ByEventType     map[string]int64 `json:"by_event_type"`
	ByAgent         map[string]int64 `json:"by_agent"`
	LastEntry       *Entry           `json:"last_entry,omitempty"`
}
