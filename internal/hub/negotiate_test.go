package hub

import (
	"context"
	"testing"
	"time"

	"github.com/intentguard/intentguard/internal/config"
)

func TestNegotiationConvergesOnNumericPositions(t *testing.T) {
	h := newTestHub(t, config.HubConfig{}, "finance_agent", "procurement_agent")

	n, err := h.Negotiate(context.Background(),
		[]string{"finance_agent", "procurement_agent"},
		"settle the hardware refresh budget",
		map[string]map[string]any{
			"finance_agent":     {"budget": 1000.0, "priority": "high", "owner": "cfo"},
			"procurement_agent": {"budget": 2000.0, "priority": "high"},
		}, nil)
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}

	if n.Status != NegotiationAgreed {
		t.Fatalf("Status = %s, want %s", n.Status, NegotiationAgreed)
	}
	if n.Rounds != 2 {
		t.Errorf("Rounds = %d, want 2: one midpoint round, one agreeing round", n.Rounds)
	}
	if n.Agreement["budget"] != 1500.0 {
		t.Errorf("agreed budget = %v, want the 1500 midpoint", n.Agreement["budget"])
	}
	if n.Agreement["priority"] != "high" {
		t.Errorf("agreed priority = %v", n.Agreement["priority"])
	}
	if n.Agreement["owner"] != "cfo" {
		t.Errorf("agreed owner = %v, want the uncontested key carried over", n.Agreement["owner"])
	}
	if len(n.Concessions["finance_agent"]) != 1 || len(n.Concessions["procurement_agent"]) != 1 {
		t.Errorf("Concessions = %v, want one move recorded per side", n.Concessions)
	}

	stored, ok := h.Negotiation(n.ID)
	if !ok || stored.Status != NegotiationAgreed {
		t.Errorf("Negotiation(%s) = %+v/%v, want the stored agreed state", n.ID, stored, ok)
	}
}

func TestNegotiationFailsOnIrreconcilablePositions(t *testing.T) {
	h := newTestHub(t, config.HubConfig{MaxRounds: 3}, "a", "b")

	n, err := h.Negotiate(context.Background(), []string{"a", "b"},
		"pick the vendor",
		map[string]map[string]any{
			"a": {"vendor": "acme"},
			"b": {"vendor": "globex"},
		}, nil)
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}

	if n.Status != NegotiationFailed {
		t.Fatalf("Status = %s, want %s", n.Status, NegotiationFailed)
	}
	if n.Rounds != 3 {
		t.Errorf("Rounds = %d, want every configured round spent", n.Rounds)
	}
	if n.Agreement != nil {
		t.Errorf("Agreement = %v, want none", n.Agreement)
	}
}

func TestNegotiationRequiresTwoParticipants(t *testing.T) {
	h := newTestHub(t, config.HubConfig{}, "a")

	if _, err := h.Negotiate(context.Background(), []string{"a"}, "solo", nil, nil); err == nil {
		t.Fatal("Negotiate() accepted a single participant")
	}
}

// stallMediator blocks until the negotiation budget runs out.
type stallMediator struct{}

func (stallMediator) Mediate(ctx context.Context, _ string, _ map[string]map[string]any) (*Compromise, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestNegotiationTimesOut(t *testing.T) {
	h := newTestHub(t, config.HubConfig{NegotiationTimeout: 30 * time.Millisecond}, "a", "b")

	n, err := h.Negotiate(context.Background(), []string{"a", "b"}, "stall",
		map[string]map[string]any{"a": {"x": 1.0}, "b": {"x": 2.0}}, stallMediator{})
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if n.Status != NegotiationTimedOut {
		t.Fatalf("Status = %s, want %s", n.Status, NegotiationTimedOut)
	}
}

// cannedMediator resolves immediately with a fixed agreement.
type cannedMediator struct{ agreement map[string]any }

func (m cannedMediator) Mediate(context.Context, string, map[string]map[string]any) (*Compromise, error) {
	return &Compromise{Resolvable: true, Agreement: m.agreement}, nil
}

func TestNegotiationWithCustomMediator(t *testing.T) {
	h := newTestHub(t, config.HubConfig{}, "a", "b")

	n, err := h.Negotiate(context.Background(), []string{"a", "b"}, "custom",
		map[string]map[string]any{"a": {}, "b": {}},
		cannedMediator{agreement: map[string]any{"terms": "net-30"}})
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if n.Status != NegotiationAgreed || n.Rounds != 1 {
		t.Fatalf("status/rounds = %s/%d, want agreed on round 1", n.Status, n.Rounds)
	}
	if n.Agreement["terms"] != "net-30" {
		t.Errorf("Agreement = %v", n.Agreement)
	}

	s := h.Stats()
	if s.CompletedNegotiations != 1 || s.ActiveNegotiations != 0 {
		t.Errorf("Stats = %+v, want the negotiation counted as completed", s)
	}
}
