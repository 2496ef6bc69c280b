package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/intentguard/intentguard/internal/agent"
	"github.com/intentguard/intentguard/internal/alert"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
	"github.com/intentguard/intentguard/internal/compliance/catalog"
	"github.com/intentguard/intentguard/internal/config"
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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// harness bundles the shared services the orchestration components and
// the real domain agents run on.
type harness struct {
	deps      Deps
	agentDeps agent.Deps
	chain     *audit.Chain
}

// newHarness wires the full service graph against in-memory stores. The
// clock is pinned to a weekday morning so contextual thresholds stay at
// their base values.
func newHarness(t *testing.T) *harness {
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

	detector, err := drift.NewDetector(drift.DefaultConfig(), stubEmbedder{}, clock, testLogger())
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

	return &harness{
		deps: Deps{
			Registry:   registry,
			Compliance: engine,
			Risk:       risk,
			Chain:      chain,
			Clock:      clock,
			Logger:     testLogger(),
		},
		agentDeps: agent.Deps{
			Compliance: engine,
			Risk:       risk,
			Registry:   registry,
			Clock:      clock,
			Logger:     testLogger(),
		},
		chain: chain,
	}
}

func countEvents(t *testing.T, chain *audit.Chain, et audit.EventType) int {
	t.Helper()
	_, total, err := chain.Entries(audit.Filter{EventType: et})
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	return total
}

// stubAgent is a minimal Agent with canned stats and a pluggable
// handler, used where the test needs direct control over execution.
type stubAgent struct {
	id    string
	typ   string
	caps  []capability.ID
	stats agent.Stats
	exec  func(ctx context.Context, action string, payload, reqCtx map[string]any) agent.ActionResult
}

func (s *stubAgent) AgentID() string                         { return s.id }
func (s *stubAgent) AgentType() string                       { return s.typ }
func (s *stubAgent) Capabilities() []capability.ID           { return s.caps }
func (s *stubAgent) PolicyCategories() []compliance.Category { return nil }

func (s *stubAgent) Execute(ctx context.Context, action string, payload, reqCtx map[string]any) agent.ActionResult {
	if s.exec != nil {
		return s.exec(ctx, action, payload, reqCtx)
	}
	return agent.ActionResult{
		Success:          true,
		Action:           action,
		AgentID:          s.id,
		ResultData:       map[string]any{"handled_by": s.id},
		CompliancePassed: true,
		Timestamp:        time.Now(),
	}
}

func (s *stubAgent) Stats() agent.Stats {
	st := s.stats
	st.AgentID = s.id
	st.AgentType = s.typ
	if st.Status == "" {
		st.Status = drift.StatusActive
	}
	return st
}
