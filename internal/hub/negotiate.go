package hub

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/intentguard/intentguard/internal/capability"
)

// NegotiationStatus tracks a negotiation through its lifecycle.
type NegotiationStatus string

const (
	NegotiationInProgress NegotiationStatus = "in_progress"
	NegotiationAgreed     NegotiationStatus = "agreed"
	NegotiationFailed     NegotiationStatus = "failed"
	NegotiationTimedOut   NegotiationStatus = "timeout"
)

// Negotiation is the state of one mediated negotiation between agents.
type Negotiation struct {
	ID           string                    `json:"negotiation_id"`
	Participants []string                  `json:"participants"`
	Goal         string                    `json:"goal"`
	Status       NegotiationStatus         `json:"status"`
	Positions    map[string]map[string]any `json:"positions"`
	Agreement    map[string]any            `json:"agreement,omitempty"`
	Concessions  map[string][]string       `json:"concessions,omitempty"`
	Rounds       int                       `json:"rounds"`
	MaxRounds    int                       `json:"max_rounds"`
	StartedAt    time.Time                 `json:"started_at"`
	CompletedAt  time.Time                 `json:"completed_at"`
}

// Compromise is one mediation round's outcome. When Resolvable is
// false, Adjustments nudges every position before the next round.
type Compromise struct {
	Resolvable  bool
	Agreement   map[string]any
	Concessions map[string][]string
	Adjustments map[string]any
}

// Mediator proposes compromises between conflicting positions. The
// reasoning layer can implement this; MidpointMediator is the built-in
// deterministic fallback.
type Mediator interface {
	Mediate(ctx context.Context, goal string, positions map[string]map[string]any) (*Compromise, error)
}

// Negotiate runs a bounded-round negotiation: each round the mediator
// either resolves the positions into an agreement or adjusts them for
// the next round. Rounds exhausted means failure; the configured
// negotiation budget elapsing means timeout. A nil mediator uses the
// built-in midpoint strategy.
func (h *Hub) Negotiate(ctx context.Context, participants []string, goal string, positions map[string]map[string]any, mediator Mediator) (*Negotiation, error) {
	if len(participants) < 2 {
		return nil, errors.New("negotiation needs at least two participants")
	}
	if mediator == nil {
		mediator = MidpointMediator{}
	}

	n := &Negotiation{
		ID:           fmt.Sprintf("NEG-%06d", h.negSeq.Add(1)),
		Participants: append([]string(nil), participants...),
		Goal:         goal,
		Status:       NegotiationInProgress,
		Positions:    copyPositions(positions),
		MaxRounds:    h.cfg.MaxRounds,
		StartedAt:    h.now(),
	}
	h.mu.Lock()
	h.negotiations[n.ID] = n
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, h.cfg.NegotiationTimeout)
	defer cancel()

	h.logger.Info("negotiation started",
		"negotiation_id", n.ID, "goal", goal, "participants", len(participants))

	for round := 1; round <= n.MaxRounds; round++ {
		if ctx.Err() != nil {
			return h.concludeNegotiation(n, NegotiationTimedOut), nil
		}
		h.mu.Lock()
		n.Rounds = round
		h.mu.Unlock()

		comp, err := mediator.Mediate(ctx, goal, h.negotiationPositions(n))
		if err != nil {
			h.logger.Warn("mediation round failed",
				"negotiation_id", n.ID, "round", round, "error", err)
			continue
		}

		h.mu.Lock()
		for id, given := range comp.Concessions {
			n.Concessions = appendConcessions(n.Concessions, id, given)
		}
		if comp.Resolvable {
			n.Agreement = comp.Agreement
			h.mu.Unlock()
			return h.concludeNegotiation(n, NegotiationAgreed), nil
		}
		for _, pos := range n.Positions {
			for k, v := range comp.Adjustments {
				pos[k] = v
			}
		}
		h.mu.Unlock()
	}

	if ctx.Err() != nil {
		return h.concludeNegotiation(n, NegotiationTimedOut), nil
	}
	return h.concludeNegotiation(n, NegotiationFailed), nil
}

// Negotiation returns a snapshot of a negotiation by id.
func (h *Hub) Negotiation(id string) (*Negotiation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, ok := h.negotiations[id]
	if !ok {
		return nil, false
	}
	return snapshotNegotiation(n), true
}

func (h *Hub) concludeNegotiation(n *Negotiation, status NegotiationStatus) *Negotiation {
	h.mu.Lock()
	n.Status = status
	n.CompletedAt = h.now()
	snap := snapshotNegotiation(n)
	h.mu.Unlock()

	h.logger.Info("negotiation concluded",
		"negotiation_id", n.ID, "status", string(status), "rounds", snap.Rounds)
	return snap
}

func (h *Hub) negotiationPositions(n *Negotiation) map[string]map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copyPositions(n.Positions)
}

func appendConcessions(all map[string][]string, id string, given []string) map[string][]string {
	if len(given) == 0 {
		return all
	}
	if all == nil {
		all = make(map[string][]string)
	}
	all[id] = append(all[id], given...)
	return all
}

func copyPositions(positions map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(positions))
	for id, pos := range positions {
		cp := make(map[string]any, len(pos))
		for k, v := range pos {
			cp[k] = v
		}
		out[id] = cp
	}
	return out
}

// snapshotNegotiation copies a negotiation for handing out. Caller
// holds h.mu.
func snapshotNegotiation(n *Negotiation) *Negotiation {
	snap := *n
	snap.Participants = append([]string(nil), n.Participants...)
	snap.Positions = copyPositions(n.Positions)
	if n.Agreement != nil {
		snap.Agreement = make(map[string]any, len(n.Agreement))
		for k, v := range n.Agreement {
			snap.Agreement[k] = v
		}
	}
	if n.Concessions != nil {
		snap.Concessions = make(map[string][]string, len(n.Concessions))
		for id, cs := range n.Concessions {
			snap.Concessions[id] = append([]string(nil), cs...)
		}
	}
	return &snap
}

// MidpointMediator is the built-in deterministic mediator. Positions
// agree once every key held by more than one participant carries the
// same value; conflicting numeric values are moved to their midpoint
// for the next round; conflicting non-numeric values are
// irreconcilable.
type MidpointMediator struct{}

// Mediate implements Mediator.
func (MidpointMediator) Mediate(_ context.Context, _ string, positions map[string]map[string]any) (*Compromise, error) {
	keys := make(map[string]bool)
	for _, pos := range positions {
		for k := range pos {
			keys[k] = true
		}
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	participants := make([]string, 0, len(positions))
	for id := range positions {
		participants = append(participants, id)
	}
	sort.Strings(participants)

	comp := &Compromise{
		Agreement:   make(map[string]any),
		Concessions: make(map[string][]string),
	}
	deadlocked := false

	for _, key := range ordered {
		holders := make([]string, 0, len(participants))
		for _, id := range participants {
			if _, ok := positions[id][key]; ok {
				holders = append(holders, id)
			}
		}

		if len(holders) == 1 {
			comp.Agreement[key] = positions[holders[0]][key]
			continue
		}

		if agreed, value := sameValue(positions, holders, key); agreed {
			comp.Agreement[key] = value
			continue
		}

		mid, numeric := midpoint(positions, holders, key)
		if !numeric {
			deadlocked = true
			continue
		}
		if comp.Adjustments == nil {
			comp.Adjustments = make(map[string]any)
		}
		comp.Adjustments[key] = mid
		for _, id := range holders {
			if v, _ := capability.AsNumber(positions[id][key]); v != mid {
				comp.Concessions[id] = append(comp.Concessions[id],
					fmt.Sprintf("moved %s from %v to %v", key, positions[id][key], mid))
			}
		}
	}

	comp.Resolvable = !deadlocked && len(comp.Adjustments) == 0
	if !comp.Resolvable {
		comp.Agreement = nil
	}
	return comp, nil
}

func sameValue(positions map[string]map[string]any, holders []string, key string) (bool, any) {
	first := positions[holders[0]][key]
	for _, id := range holders[1:] {
		if !equalValue(first, positions[id][key]) {
			return false, nil
		}
	}
	return true, first
}

func equalValue(a, b any) bool {
	fa, aok := capability.AsNumber(a)
	fb, bok := capability.AsNumber(b)
	if aok && bok {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func midpoint(positions map[string]map[string]any, holders []string, key string) (float64, bool) {
	var sum float64
	for _, id := range holders {
		v, ok := capability.AsNumber(positions[id][key])
		if !ok {
			return 0, false
		}
		sum += v
	}
	return sum / float64(len(holders)), true
}
