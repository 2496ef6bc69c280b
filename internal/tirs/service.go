// Package tirs is the single entry point for intent risk analysis. It
// sequences the drift detector, the explainer, and the forensic
// snapshot store, records every outcome on the audit chain, and raises
// operator alerts on enforcement transitions.
package tirs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/intentguard/intentguard/internal/alert"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/fault"
	"github.com/intentguard/intentguard/internal/metrics"
	"github.com/intentguard/intentguard/internal/tirs/drift"
	"github.com/intentguard/intentguard/internal/tirs/forensic"
)

// Intent is one analyzed action in flight.
type Intent struct {
	AgentID         string        `json:"agent_id"`
	Text            string        `json:"text"`
	Capabilities    []string      `json:"capabilities"`
	Allowed         bool          `json:"allowed"`
	PolicyTriggered string        `json:"policy_triggered,omitempty"`
	Context         drift.Context `json:"context"`
}

// Analysis is the full outcome of analyzing one intent: the drift
// result, its explanation, the forensic snapshot when the transition
// forced one, and the audit entry recording the intent.
type Analysis struct {
	Result       *drift.Result      `json:"result"`
	Explanation  *drift.Explanation `json:"explanation"`
	Snapshot     *forensic.Snapshot `json:"snapshot,omitempty"`
	AuditEntryID string             `json:"audit_entry_id,omitempty"`
}

// Service combines detection, explanation, snapshotting, and
// enforcement bookkeeping. One instance serves all agents.
type Service struct {
	detector  *drift.Detector
	forensics *forensic.Store
	chain     *audit.Chain
	alerts    *alert.Manager
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewService wires the facade. A nil logger falls back to slog.Default.
func NewService(detector *drift.Detector, forensics *forensic.Store, chain *audit.Chain, alerts *alert.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		detector:  detector,
		forensics: forensics,
		chain:     chain,
		alerts:    alerts,
		logger:    logger.With("component", "tirs.Service"),
	}
}

// Detector exposes the underlying drift detector for threshold rule
// registration at startup.
func (s *Service) Detector() *drift.Detector { return s.detector }

// SetMetrics attaches the metrics sink. Called once at startup before
// any analysis runs; a nil sink keeps the no-op calls.
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// AnalyzeIntent scores one intent, advances the agent's status, and
// performs the enforcement side effects: a forensic snapshot when the
// agent entered Paused or Killed, audit entries for the intent and any
// transition, and an alert when enforcement engaged.
func (s *Service) AnalyzeIntent(ctx context.Context, intent Intent) (*Analysis, error) {
	result, transitionView, err := s.detector.Analyze(ctx, intent.AgentID, intent.Text,
		intent.Capabilities, intent.Allowed, intent.PolicyTriggered, intent.Context)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{Result: result}
	if view, ok := s.detector.ViewOf(intent.AgentID); ok {
		analysis.Explanation = drift.Explain(result, &view)
	} else {
		analysis.Explanation = drift.Explain(result, nil)
	}

	if transitionView != nil {
		trigger := forensic.TriggerCriticalPause
		if result.Status == drift.StatusKilled {
			trigger = forensic.TriggerTerminalKill
		}
		analysis.Snapshot = s.capture(*transitionView, trigger, map[string]any{
			"intent_id":        result.IntentID,
			"intent_text":      intent.Text,
			"capabilities":     intent.Capabilities,
			"policy_triggered": intent.PolicyTriggered,
		})
	}

	analysis.AuditEntryID = s.auditIntent(intent, result)
	s.recordTransition(result)
	return analysis, nil
}

// AgentView returns the observable profile state for one agent.
func (s *Service) AgentView(agentID string) (drift.View, bool) {
	return s.detector.ViewOf(agentID)
}

// StatusOf returns the agent's current enforcement status. Unknown
// agents report Active so first-contact requests are not blocked.
func (s *Service) StatusOf(agentID string) drift.Status {
	status, ok := s.detector.StatusOf(agentID)
	if !ok {
		return drift.StatusActive
	}
	return status
}

// Views lists every known agent profile, sorted by agent id.
func (s *Service) Views() []drift.View { return s.detector.AllViews() }

// Dashboard aggregates system-wide risk for operator surfaces.
func (s *Service) Dashboard() drift.Summary { return s.detector.Summarize() }

// Kill forces an agent to Killed, captures a manual-kill snapshot, and
// records the action against the operator who ordered it.
func (s *Service) Kill(agentID, reason, by string) (*forensic.Snapshot, error) {
	view, changed := s.detector.Kill(agentID)
	if !changed {
		return nil, fault.New(fault.KindAgentNotExecutable, "agent %q is already killed", agentID)
	}

	snap := s.capture(view, forensic.TriggerManualKill, map[string]any{
		"reason":    reason,
		"killed_by": by,
	})

	s.log(audit.EventAgentKilled, agentID, by, map[string]any{
		"reason":     reason,
		"risk_score": view.CurrentRiskScore,
	})
	s.alerts.Send(alert.Alert{
		Type:     alert.TypeEnforcement,
		Severity: "critical",
		Title:    fmt.Sprintf("Agent %s killed by operator", agentID),
		Message:  fmt.Sprintf("Manual kill by %s: %s", by, reason),
		AgentID:  agentID,
		Details:  map[string]any{"reason": reason, "killed_by": by},
	})
	return snap, nil
}

// Pause moves an agent to Paused without a risk crossing, for operator
// intervention ahead of investigation.
func (s *Service) Pause(agentID, reason, by string) (drift.Status, error) {
	status, err := s.detector.Pause(agentID)
	if err != nil {
		return status, err
	}
	s.log(audit.EventAgentPaused, agentID, by, map[string]any{"reason": reason})
	return status, nil
}

// Resume restores a Throttled or Paused agent to Active.
func (s *Service) Resume(agentID, by string) (drift.Status, error) {
	status, err := s.detector.Resume(agentID)
	if err != nil {
		return status, err
	}
	s.log(audit.EventAgentResumed, agentID, by, map[string]any{"status": status})
	return status, nil
}

// Resurrect moves a Killed agent back into service with a fresh
// behavioral baseline.
func (s *Service) Resurrect(agentID, by string) (drift.Status, error) {
	status, err := s.detector.Resurrect(agentID)
	if err != nil {
		return status, err
	}
	s.log(audit.EventAgentResurrected, agentID, by, map[string]any{"status": status})
	return status, nil
}

// Snapshots returns the agent's forensic chain in creation order.
func (s *Service) Snapshots(agentID string) []*forensic.Snapshot {
	return s.forensics.Agent(agentID)
}

// VerifyChain checks the agent's snapshot chain, records the result on
// the audit chain, and alerts on tampering.
func (s *Service) VerifyChain(agentID string) forensic.ChainReport {
	report := s.forensics.VerifyChain(agentID)
	if report.Valid {
		s.log(audit.EventChainVerified, agentID, "", map[string]any{
			"snapshot_count": report.SnapshotCount,
		})
		return report
	}

	s.log(audit.EventChainTampered, agentID, "", map[string]any{
		"snapshot_count": report.SnapshotCount,
		"problems":       report.Problems,
	})
	s.alerts.Send(alert.Alert{
		Type:     alert.TypeChainIntegrity,
		Severity: "critical",
		Title:    fmt.Sprintf("Snapshot chain tampered: %s", agentID),
		Message:  fmt.Sprintf("%d problem(s) in a chain of %d snapshots", len(report.Problems), report.SnapshotCount),
		AgentID:  agentID,
		Details:  map[string]any{"problems": report.Problems},
	})
	return report
}

// ExportChain writes the agent's full snapshot chain to path.
func (s *Service) ExportChain(agentID, path string) (*forensic.ChainExport, error) {
	return s.forensics.Export(agentID, path)
}

// capture snapshots the view and records the hash on both the profile
// and the audit chain. A persistence failure keeps the in-memory chain
// authoritative, so the snapshot is still linked and returned.
func (s *Service) capture(view drift.View, trigger string, environment map[string]any) *forensic.Snapshot {
	snap, err := s.forensics.Capture(view, trigger, environment)
	if snap == nil {
		s.logger.Error("snapshot capture failed",
			"agent_id", view.AgentID, "trigger", trigger, "error", err)
		return nil
	}
	if err != nil {
		s.logger.Error("snapshot persisted with errors",
			"snapshot_id", snap.SnapshotID, "error", err)
	}

	s.detector.SetLastSnapshotHash(view.AgentID, snap.ContentHash)
	s.metrics.ObserveSnapshot(trigger)
	s.log(audit.EventSnapshotCreated, view.AgentID, "", map[string]any{
		"snapshot_id":  snap.SnapshotID,
		"trigger":      trigger,
		"risk_score":   snap.RiskScore,
		"content_hash": snap.ContentHash,
	})
	return snap
}

func (s *Service) auditIntent(intent Intent, result *drift.Result) string {
	et := audit.EventIntentAllowed
	if !intent.Allowed {
		et = audit.EventIntentDenied
	}
	data := map[string]any{
		"intent_id":  result.IntentID,
		"risk_score": result.RiskScore,
		"risk_level": result.RiskLevel,
		"status":     result.Status,
	}
	if intent.PolicyTriggered != "" {
		data["policy_triggered"] = intent.PolicyTriggered
	}
	return s.log(et, intent.AgentID, "", data)
}

// recordTransition writes the drift and enforcement entries for a
// status change. Warning always lands in Throttled, critical in Paused,
// and terminal in Killed, so pairing the events to transitions records
// each threshold crossing exactly once.
func (s *Service) recordTransition(result *drift.Result) {
	if !result.StatusChanged {
		return
	}
	data := map[string]any{
		"intent_id":   result.IntentID,
		"risk_score":  result.RiskScore,
		"risk_level":  result.RiskLevel,
		"from_status": result.PreviousStatus,
		"to_status":   result.Status,
	}
	if sig := result.PrimarySignal(); sig != nil {
		data["primary_signal"] = sig.Name
	}

	switch result.RiskLevel {
	case drift.LevelWarning:
		s.log(audit.EventDriftWarning, result.AgentID, "", data)
	case drift.LevelCritical:
		s.log(audit.EventDriftCritical, result.AgentID, "", data)
	case drift.LevelTerminal:
		s.log(audit.EventDriftTerminal, result.AgentID, "", data)
	}

	s.metrics.ObserveEnforcement(result.AgentID, string(result.Status))

	switch result.Status {
	case drift.StatusThrottled:
		s.log(audit.EventEnforcementThrottle, result.AgentID, "", data)
	case drift.StatusPaused:
		s.log(audit.EventEnforcementPause, result.AgentID, "", data)
		s.alertEnforcement(result)
	case drift.StatusKilled:
		s.log(audit.EventEnforcementKill, result.AgentID, "", data)
		s.alertEnforcement(result)
	}
}

func (s *Service) alertEnforcement(result *drift.Result) {
	s.alerts.Send(alert.Alert{
		Type:     alert.TypeEnforcement,
		Severity: "critical",
		Title:    fmt.Sprintf("Agent %s %s", result.AgentID, result.Status),
		Message: fmt.Sprintf("Risk %.3f (%s) moved agent from %s to %s",
			result.RiskScore, result.RiskLevel, result.PreviousStatus, result.Status),
		AgentID: result.AgentID,
		Details: map[string]any{
			"risk_score": result.RiskScore,
			"risk_level": string(result.RiskLevel),
			"intent_id":  result.IntentID,
		},
	})
}

// log appends to the audit chain. Append failures are logged and the
// entry is lost; enforcement never blocks on audit availability.
func (s *Service) log(et audit.EventType, agentID, userID string, data map[string]any) string {
	entry, err := s.chain.Log(et, agentID, userID, data)
	if err != nil {
		s.logger.Error("audit append failed", "event_type", et, "agent_id", agentID, "error", err)
		return ""
	}
	return entry.EntryID
}
