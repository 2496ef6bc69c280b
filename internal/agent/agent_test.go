package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/intentguard/intentguard/internal/alert"
	"github.com/intentguard/intentguard/internal/approval"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
	"github.com/intentguard/intentguard/internal/compliance/catalog"
	"github.com/intentguard/intentguard/internal/config"
	"github.com/intentguard/intentguard/internal/fault"
	"github.com/intentguard/intentguard/internal/oracle"
	"github.com/intentguard/intentguard/internal/tirs"
	"github.com/intentguard/intentguard/internal/tirs/drift"
	"github.com/intentguard/intentguard/internal/tirs/forensic"
)

// stubEmbedder maps texts onto two orthogonal unit vectors so embedding
// drift is fully controlled by the test.
type stubEmbedder struct{}

func (stubEmbedder) Dimension() int { return 4 }

func (stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, 4)
	if strings.Contains(text, "omega") {
		vec[1] = 1
	} else {
		vec[0] = 1
	}
	return vec, nil
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

// stubReasoner returns a fixed assessment and records every request.
type stubReasoner struct {
	mu         sync.Mutex
	assessment oracle.Assessment
	err        error
	requests   []oracle.Request
}

func (s *stubReasoner) Assess(_ context.Context, req oracle.Request) (*oracle.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	a := s.assessment
	a.Timestamp = time.Now()
	return &a, nil
}

func (s *stubReasoner) calls() []oracle.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]oracle.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestDeps wires a full pipeline against in-memory stores. The clock
// is pinned to a weekday morning so contextual thresholds stay at their
// base values.
func newTestDeps(t *testing.T, cfg drift.Config, reasoner oracle.Reasoner) (Deps, *audit.Chain) {
	t.Helper()

	clock := &fixedClock{t: time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)} // Tuesday

	registry, err := capability.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry() error = %v", err)
	}
	engine := compliance.NewEngine(registry, testLogger())
	if _, err := catalog.Install(engine, catalog.Options{}); err != nil {
		t.Fatalf("catalog.Install() error = %v", err)
	}

	detector, err := drift.NewDetector(cfg, stubEmbedder{}, clock, testLogger())
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}
	forensics, err := forensic.NewStore(t.TempDir(), clock, testLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	chain, err := audit.NewChain(audit.NewMemoryStore(), nil, testLogger())
	if err != nil {
		t.Fatalf("NewChain() error = %v", err)
	}
	alerts := alert.NewManager(config.AlertsConfig{}, testLogger())
	risk := tirs.NewService(detector, forensics, chain, alerts, testLogger())

	return Deps{
		Compliance: engine,
		Risk:       risk,
		Registry:   registry,
		Oracle:     reasoner,
		Clock:      clock,
		Logger:     testLogger(),
	}, chain
}

func countEvents(t *testing.T, chain *audit.Chain, et audit.EventType) int {
	t.Helper()
	_, total, err := chain.Entries(audit.Filter{EventType: et})
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	return total
}

func TestExpenseWithinLimitsSucceeds(t *testing.T) {
	deps, chain := newTestDeps(t, drift.DefaultConfig(), nil)
	ag := NewFinance(deps)

	res := ag.Execute(context.Background(), "approve_expense",
		map[string]any{"amount": 150.0, "has_receipt": true},
		map[string]any{"user_id": "u-100"})

	if !res.Success {
		t.Fatalf("Execute() failed: %+v", res.Failure)
	}
	if !res.CompliancePassed {
		t.Errorf("CompliancePassed = false, want true")
	}
	if res.ResultData["expense_id"] != "EXP-000001" {
		t.Errorf("expense_id = %v, want EXP-000001", res.ResultData["expense_id"])
	}
	if res.AuditEntryID == "" {
		t.Errorf("AuditEntryID is empty")
	}
	if res.RiskLevel != drift.LevelNominal {
		t.Errorf("RiskLevel = %s, want %s", res.RiskLevel, drift.LevelNominal)
	}
	if got := countEvents(t, chain, audit.EventIntentAllowed); got != 1 {
		t.Errorf("intent_allowed events = %d, want 1", got)
	}
}

func TestExpenseWithoutReceiptDenied(t *testing.T) {
	deps, chain := newTestDeps(t, drift.DefaultConfig(), nil)
	ag := NewFinance(deps)

	res := ag.Execute(context.Background(), "approve_expense",
		map[string]any{"amount": 250.0},
		map[string]any{"user_id": "u-100"})

	if res.Success {
		t.Fatalf("Execute() succeeded, want denial")
	}
	if res.Failure == nil || res.Failure.Kind != fault.KindPolicyDenied {
		t.Fatalf("Failure = %+v, want kind %s", res.Failure, fault.KindPolicyDenied)
	}
	if !strings.Contains(res.Error(), "receipt") {
		t.Errorf("error %q does not mention the missing receipt", res.Error())
	}
	if res.Suggestion == "" {
		t.Errorf("Suggestion is empty, want remediation hint")
	}
	if len(res.PoliciesTriggered) == 0 || res.PoliciesTriggered[0] != "FIN-005" {
		t.Errorf("PoliciesTriggered = %v, want [FIN-005]", res.PoliciesTriggered)
	}
	if res.AuditEntryID == "" {
		t.Errorf("AuditEntryID is empty; denied intents must be audited")
	}
	if got := countEvents(t, chain, audit.EventIntentDenied); got != 1 {
		t.Errorf("intent_denied events = %d, want 1", got)
	}

	stats := ag.Stats()
	if stats.BlockedCount != 1 || stats.ActionCount != 1 {
		t.Errorf("counters = %d blocked / %d total, want 1/1", stats.BlockedCount, stats.ActionCount)
	}
}

func TestUndeclaredCapabilityBlocked(t *testing.T) {
	deps, _ := newTestDeps(t, drift.DefaultConfig(), nil)
	ag := NewFinance(deps)

	res := ag.Execute(context.Background(), "set_salary",
		map[string]any{"salary": 90000.0}, nil)

	if res.Success {
		t.Fatalf("Execute() succeeded, want capability block")
	}
	if res.Failure.Kind != fault.KindCapabilityNotFound {
		t.Errorf("Failure.Kind = %s, want %s", res.Failure.Kind, fault.KindCapabilityNotFound)
	}
	if !strings.Contains(res.Error(), "hr.set_salary/v1") {
		t.Errorf("error %q does not name the resolved capability", res.Error())
	}
}

func TestUnmatchedActionReachesHandler(t *testing.T) {
	deps, _ := newTestDeps(t, drift.DefaultConfig(), nil)
	ag := NewFinance(deps)

	res := ag.Execute(context.Background(), "transmogrify_widgets",
		map[string]any{"count": 3.0}, nil)

	if res.Success {
		t.Fatalf("Execute() succeeded, want handler rejection")
	}
	if res.Failure.Kind != fault.KindExecutionFailure {
		t.Errorf("Failure.Kind = %s, want %s", res.Failure.Kind, fault.KindExecutionFailure)
	}
	if !strings.Contains(res.Error(), "no handler") {
		t.Errorf("error %q should come from the domain handler", res.Error())
	}
}

func TestKilledAgentCannotExecute(t *testing.T) {
	deps, _ := newTestDeps(t, drift.DefaultConfig(), nil)
	ag := NewFinance(deps)
	ctx := context.Background()

	if res := ag.Execute(ctx, "approve_expense", map[string]any{"amount": 20.0}, nil); !res.Success {
		t.Fatalf("seed Execute() failed: %+v", res.Failure)
	}
	if _, err := deps.Risk.Kill(ag.AgentID(), "incident response", "secops@example.com"); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	res := ag.Execute(ctx, "approve_expense", map[string]any{"amount": 20.0}, nil)
	if res.Success {
		t.Fatalf("Execute() succeeded on a killed agent")
	}
	if res.Failure.Kind != fault.KindAgentNotExecutable {
		t.Errorf("Failure.Kind = %s, want %s", res.Failure.Kind, fault.KindAgentNotExecutable)
	}
	if got := ag.Stats().Status; got != drift.StatusKilled {
		t.Errorf("Stats().Status = %s, want %s", got, drift.StatusKilled)
	}
}

func TestOutboundPIIRedactedBeforeHandler(t *testing.T) {
	deps, _ := newTestDeps(t, drift.DefaultConfig(), nil)
	ag := NewOps(deps)

	res := ag.Execute(context.Background(), "send_email",
		map[string]any{
			"to":      "partner@acme-corp.com",
			"subject": "introduction",
			"body":    "Contractor SSN is 123-45-6789 for your records",
		}, nil)

	if !res.Success {
		t.Fatalf("Execute() failed: %+v", res.Failure)
	}
	if !res.PayloadModified {
		t.Errorf("PayloadModified = false, want true")
	}
	body, _ := res.ResultData["body"].(string)
	if !strings.Contains(body, "[REDACTED]") {
		t.Errorf("body %q not redacted", body)
	}
	if strings.Contains(body, "123-45-6789") {
		t.Errorf("body %q still carries the SSN", body)
	}
	found := false
	for _, id := range res.PoliciesTriggered {
		if id == "PRIV-001" {
			found = true
		}
	}
	if !found {
		t.Errorf("PoliciesTriggered = %v, want PRIV-001 present", res.PoliciesTriggered)
	}
}

func TestAboveBandOfferRequiresApproval(t *testing.T) {
	deps, _ := newTestDeps(t, drift.DefaultConfig(), nil)
	ag := NewHR(deps)

	res := ag.Execute(context.Background(), "generate_offer",
		map[string]any{"candidate": "Jordan Lee", "level": "L3", "salary": 200000.0}, nil)

	if res.Success {
		t.Fatalf("Execute() succeeded, want escalation")
	}
	if !res.RequiresApproval {
		t.Errorf("RequiresApproval = false, want true")
	}
	if res.Failure.Kind != fault.KindApprovalRequired {
		t.Errorf("Failure.Kind = %s, want %s", res.Failure.Kind, fault.KindApprovalRequired)
	}
	if !strings.Contains(res.Error(), "exceeds band maximum") {
		t.Errorf("error %q does not explain the band violation", res.Error())
	}
	if !strings.Contains(res.Suggestion, "VP/HR") {
		t.Errorf("Suggestion = %q, want VP/HR approval hint", res.Suggestion)
	}
	if !res.CompliancePassed {
		t.Errorf("CompliancePassed = false; escalation is not a deny")
	}
}

func TestWithinBandOfferSucceeds(t *testing.T) {
	deps, _ := newTestDeps(t, drift.DefaultConfig(), nil)
	ag := NewHR(deps)

	res := ag.Execute(context.Background(), "generate_offer",
		map[string]any{"candidate": "Jordan Lee", "level": "L3", "salary": 110000.0}, nil)

	if !res.Success {
		t.Fatalf("Execute() failed: %+v", res.Failure)
	}
	if res.RequiresApproval {
		t.Errorf("RequiresApproval = true for an in-band offer")
	}
	if res.ResultData["offer_id"] != "OFF-000001" {
		t.Errorf("offer_id = %v, want OFF-000001", res.ResultData["offer_id"])
	}
}

func TestOracleOverrideClearsEscalation(t *testing.T) {
	reasoner := &stubReasoner{assessment: oracle.Assessment{
		Recommendation: oracle.RecommendProceed,
		Confidence:     0.95,
		Reasoning:      "compensation pre-approved in the hiring plan",
	}}
	deps, _ := newTestDeps(t, drift.DefaultConfig(), reasoner)
	ag := NewHR(deps)

	res := ag.Execute(context.Background(), "generate_offer",
		map[string]any{"candidate": "Jordan Lee", "level": "L3", "salary": 200000.0}, nil)

	if !res.Success {
		t.Fatalf("Execute() failed after override: %+v", res.Failure)
	}
	if res.RequiresApproval {
		t.Errorf("RequiresApproval = true, want cleared by override")
	}

	calls := reasoner.calls()
	if len(calls) != 1 {
		t.Fatalf("oracle consulted %d times, want 1", len(calls))
	}
	if !calls[0].ComplianceEscalated {
		t.Errorf("request.ComplianceEscalated = false, want true")
	}
}

func TestOracleLowConfidenceKeepsEscalation(t *testing.T) {
	reasoner := &stubReasoner{assessment: oracle.Assessment{
		Recommendation: oracle.RecommendProceed,
		Confidence:     0.55,
		Reasoning:      "probably fine",
	}}
	deps, _ := newTestDeps(t, drift.DefaultConfig(), reasoner)
	ag := NewHR(deps)

	res := ag.Execute(context.Background(), "generate_offer",
		map[string]any{"candidate": "Jordan Lee", "level": "L3", "salary": 200000.0}, nil)

	if res.Success || !res.RequiresApproval {
		t.Fatalf("low-confidence proceed cleared the escalation: %+v", res)
	}
	if res.Failure.Kind != fault.KindApprovalRequired {
		t.Errorf("Failure.Kind = %s, want %s", res.Failure.Kind, fault.KindApprovalRequired)
	}
}

func TestOracleDenyNeverClearsEscalation(t *testing.T) {
	reasoner := &stubReasoner{assessment: oracle.Assessment{
		Recommendation: oracle.RecommendDeny,
		Confidence:     0.99,
		Reasoning:      "do not proceed",
	}}
	deps, _ := newTestDeps(t, drift.DefaultConfig(), reasoner)
	ag := NewHR(deps)

	res := ag.Execute(context.Background(), "generate_offer",
		map[string]any{"candidate": "Jordan Lee", "level": "L3", "salary": 200000.0}, nil)

	// A deny recommendation on an escalated action parks it for human
	// approval rather than converting it to a hard block.
	if res.Failure == nil || res.Failure.Kind != fault.KindApprovalRequired {
		t.Fatalf("Failure = %+v, want kind %s", res.Failure, fault.KindApprovalRequired)
	}
	if !res.RequiresApproval {
		t.Errorf("RequiresApproval = false, want true")
	}
}

func TestOracleUnavailableKeepsLocalDecision(t *testing.T) {
	reasoner := &stubReasoner{err: errors.New("model endpoint unreachable")}
	deps, _ := newTestDeps(t, drift.DefaultConfig(), reasoner)
	ag := NewHR(deps)

	res := ag.Execute(context.Background(), "generate_offer",
		map[string]any{"candidate": "Jordan Lee", "level": "L3", "salary": 200000.0}, nil)

	if res.Failure == nil || res.Failure.Kind != fault.KindApprovalRequired {
		t.Fatalf("Failure = %+v, want escalation preserved when the oracle is down", res.Failure)
	}
}

// driftCfg tunes detection so that embedding drift alone drives the
// score: one warmup intent, all weight on the embedding signal.
func driftCfg() drift.Config {
	return drift.Config{
		Weights:       drift.Weights{EmbeddingDrift: 1},
		WarmupIntents: 1,
	}
}

// stageDrift runs one benign warmup action and one moderately drifted
// action so the next drifted action lands above the consult threshold
// without crossing the critical one.
func stageDrift(t *testing.T, ag *BaseAgent) {
	t.Helper()
	ctx := context.Background()
	if res := ag.Execute(ctx, "generate_report", map[string]any{"report_type": "weekly metrics"}, nil); !res.Success {
		t.Fatalf("warmup Execute() failed: %+v", res.Failure)
	}
	if res := ag.Execute(ctx, "generate_report", map[string]any{"report_type": "omega omega omega"}, nil); !res.Success {
		t.Fatalf("drift Execute() failed: %+v", res.Failure)
	}
}

func TestOracleDeniesDriftingIntent(t *testing.T) {
	reasoner := &stubReasoner{assessment: oracle.Assessment{
		Recommendation: oracle.RecommendDeny,
		Confidence:     0.9,
		Reasoning:      "activity matches an exfiltration probe",
	}}
	deps, _ := newTestDeps(t, driftCfg(), reasoner)
	ag := NewOps(deps)
	stageDrift(t, ag)

	res := ag.Execute(context.Background(), "generate_report",
		map[string]any{"report_type": "omega omega omega"}, nil)

	if res.Success {
		t.Fatalf("Execute() succeeded, want oracle denial")
	}
	if res.Failure.Kind != fault.KindRiskThresholdExceeded {
		t.Errorf("Failure.Kind = %s, want %s", res.Failure.Kind, fault.KindRiskThresholdExceeded)
	}
	if !strings.Contains(res.Error(), "exfiltration probe") {
		t.Errorf("error %q does not carry the oracle reasoning", res.Error())
	}

	calls := reasoner.calls()
	if len(calls) != 1 {
		t.Fatalf("oracle consulted %d times, want 1", len(calls))
	}
	if calls[0].ComplianceEscalated {
		t.Errorf("request.ComplianceEscalated = true, want false")
	}
	if calls[0].Signals.RiskScore < oracle.ConsultRiskThreshold {
		t.Errorf("consulted at risk %.3f, below threshold %.2f",
			calls[0].Signals.RiskScore, oracle.ConsultRiskThreshold)
	}
}

func TestOracleEscalatesDriftingIntent(t *testing.T) {
	reasoner := &stubReasoner{assessment: oracle.Assessment{
		Recommendation: oracle.RecommendEscalate,
		Confidence:     0.7,
		Reasoning:      "needs a human look before export",
	}}
	deps, _ := newTestDeps(t, driftCfg(), reasoner)
	ag := NewOps(deps)
	stageDrift(t, ag)

	res := ag.Execute(context.Background(), "generate_report",
		map[string]any{"report_type": "omega omega omega"}, nil)

	if res.Success {
		t.Fatalf("Execute() succeeded, want escalation")
	}
	if res.Failure.Kind != fault.KindApprovalRequired || !res.RequiresApproval {
		t.Errorf("result = %+v, want approval_required", res.Failure)
	}
	if !strings.Contains(res.Suggestion, "human look") {
		t.Errorf("Suggestion = %q, want oracle reasoning", res.Suggestion)
	}
}

func TestOracleProceedClearsDriftFlag(t *testing.T) {
	reasoner := &stubReasoner{assessment: oracle.Assessment{
		Recommendation: oracle.RecommendProceed,
		Confidence:     0.95,
		Reasoning:      "quarterly close explains the new pattern",
	}}
	deps, _ := newTestDeps(t, driftCfg(), reasoner)
	ag := NewOps(deps)
	stageDrift(t, ag)

	res := ag.Execute(context.Background(), "generate_report",
		map[string]any{"report_type": "omega omega omega"}, nil)

	if !res.Success {
		t.Fatalf("Execute() failed: %+v", res.Failure)
	}
	if len(reasoner.calls()) != 1 {
		t.Errorf("oracle consulted %d times, want 1", len(reasoner.calls()))
	}
}

func TestStatsTracksBlockRate(t *testing.T) {
	deps, _ := newTestDeps(t, drift.DefaultConfig(), nil)
	ag := NewFinance(deps)
	ctx := context.Background()

	ag.Execute(ctx, "approve_expense", map[string]any{"amount": 30.0, "has_receipt": true}, nil)
	ag.Execute(ctx, "approve_expense", map[string]any{"amount": 300.0}, nil)

	stats := ag.Stats()
	if stats.ActionCount != 2 || stats.BlockedCount != 1 {
		t.Fatalf("counters = %d/%d, want 1 blocked of 2", stats.BlockedCount, stats.ActionCount)
	}
	if stats.BlockRate != 0.5 {
		t.Errorf("BlockRate = %v, want 0.5", stats.BlockRate)
	}
	if stats.Status != drift.StatusActive {
		t.Errorf("Status = %s, want %s", stats.Status, drift.StatusActive)
	}
	if stats.AgentID != "finance_agent" || stats.AgentType != "finance" {
		t.Errorf("identity = %s/%s, want finance_agent/finance", stats.AgentID, stats.AgentType)
	}
}

func TestEscalatedActionProceedsAfterApproval(t *testing.T) {
	deps, chain := newTestDeps(t, drift.DefaultConfig(), nil)
	queue := approval.NewQueue(config.ApprovalsConfig{Timeout: 5 * time.Second}, chain, nil, testLogger())
	t.Cleanup(queue.Close)
	deps.Approvals = queue
	ag := NewHR(deps)

	go func() {
		for i := 0; i < 200; i++ {
			if pending := queue.ListPending(); len(pending) == 1 {
				queue.Resolve(pending[0].ID, true, "vp@example.com")
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	res := ag.Execute(context.Background(), "generate_offer",
		map[string]any{"candidate": "Jordan Lee", "level": "L3", "salary": 200000.0}, nil)

	if !res.Success {
		t.Fatalf("Execute() failed after approval: %+v", res.Failure)
	}
	if !res.RequiresApproval {
		t.Errorf("RequiresApproval = false, want true on an approved escalation")
	}
	if res.ResultData["offer_id"] == nil {
		t.Errorf("ResultData = %v, want the handler's offer", res.ResultData)
	}
	if got := ag.Stats().BlockedCount; got != 0 {
		t.Errorf("BlockedCount = %d, want 0: an approved action is not a block", got)
	}
	if got := countEvents(t, chain, audit.EventApprovalGranted); got != 1 {
		t.Errorf("approval_granted events = %d, want 1", got)
	}
}

func TestEscalationDeniedOnApprovalTimeout(t *testing.T) {
	deps, chain := newTestDeps(t, drift.DefaultConfig(), nil)
	queue := approval.NewQueue(config.ApprovalsConfig{Timeout: 50 * time.Millisecond, TimeoutEffect: "deny"},
		chain, nil, testLogger())
	t.Cleanup(queue.Close)
	deps.Approvals = queue
	ag := NewHR(deps)

	res := ag.Execute(context.Background(), "generate_offer",
		map[string]any{"candidate": "Jordan Lee", "level": "L3", "salary": 200000.0}, nil)

	if res.Success {
		t.Fatalf("Execute() succeeded, want timeout denial")
	}
	if res.Failure.Kind != fault.KindApprovalRequired {
		t.Errorf("Failure.Kind = %s, want %s", res.Failure.Kind, fault.KindApprovalRequired)
	}
	if !res.RequiresApproval {
		t.Errorf("RequiresApproval = false, want true")
	}
	if got := ag.Stats().BlockedCount; got != 1 {
		t.Errorf("BlockedCount = %d, want 1", got)
	}
}
