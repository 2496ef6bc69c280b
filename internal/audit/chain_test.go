package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newTestChain(t *testing.T, store Store) *Chain {
	t.Helper()
	clock := &testClock{t: time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)}
	c, err := NewChain(store, clock, nil)
	if err != nil {
		t.Fatalf("NewChain() error = %v", err)
	}
	return c
}

func TestLogChainsEntries(t *testing.T) {
	store := NewMemoryStore()
	c := newTestChain(t, store)

	first, err := c.Log(EventIntentAllowed, "agent-1", "user-1", map[string]any{"risk_score": 0.12})
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if first.Sequence != 1 {
		t.Errorf("first sequence = %d, want 1", first.Sequence)
	}
	if first.PreviousHash != GenesisHash {
		t.Errorf("first previous hash = %s, want genesis", first.PreviousHash)
	}
	if !VerifyEntry(first) {
		t.Error("fresh entry fails integrity check")
	}

	second, err := c.Log(EventIntentDenied, "agent-1", "", map[string]any{"policy": "FIN-001"})
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if second.PreviousHash != first.ContentHash {
		t.Error("second entry does not link to first")
	}
	if second.Sequence != 2 {
		t.Errorf("second sequence = %d, want 2", second.Sequence)
	}
}

func TestVerifyCleanChain(t *testing.T) {
	c := newTestChain(t, NewMemoryStore())

	c.Log(EventIntentAllowed, "agent-1", "", nil)
	c.Log(EventDriftWarning, "agent-1", "", map[string]any{"risk_score": 0.55})
	c.Log(EventEnforcementThrottle, "agent-1", "", nil)

	report, err := c.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.Valid {
		t.Fatalf("clean chain reported invalid: %v", report.Issues)
	}
	if report.Entries != 3 {
		t.Errorf("verified entries = %d, want 3", report.Entries)
	}

	// Verification itself lands on the chain.
	sum, err := c.Summary()
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if sum.TotalEntries != 4 {
		t.Errorf("total entries = %d, want 4 including the verification record", sum.TotalEntries)
	}
	if sum.ByEventType[string(EventChainVerified)] != 1 {
		t.Error("chain_verified entry missing")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	store := NewMemoryStore()
	c := newTestChain(t, store)

	c.Log(EventIntentAllowed, "agent-1", "", map[string]any{"amount": 50.0})
	tampered, _ := c.Log(EventIntentAllowed, "agent-1", "", map[string]any{"amount": 75.0})
	c.Log(EventIntentAllowed, "agent-1", "", map[string]any{"amount": 20.0})

	tampered.Data["amount"] = 75000.0

	report, err := c.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if report.Valid {
		t.Fatal("tampered chain reported valid")
	}
	found := false
	for _, issue := range report.Issues {
		if strings.Contains(issue, tampered.EntryID) {
			found = true
		}
	}
	if !found {
		t.Errorf("issues %v do not name the tampered entry", report.Issues)
	}

	sum, _ := c.Summary()
	if sum.ByEventType[string(EventChainTampered)] != 1 {
		t.Error("chain_tampered entry missing")
	}
}

func TestChainContinuesAcrossRestart(t *testing.T) {
	store := NewMemoryStore()

	c1 := newTestChain(t, store)
	c1.Log(EventSystemStart, "", "", nil)
	last, _ := c1.Log(EventAgentRegistered, "agent-1", "", nil)

	c2 := newTestChain(t, store)
	next, err := c2.Log(EventIntentAllowed, "agent-1", "", nil)
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if next.Sequence != 3 {
		t.Errorf("sequence after restart = %d, want 3", next.Sequence)
	}
	if next.PreviousHash != last.ContentHash {
		t.Error("chain broken across restart")
	}

	entries, _ := store.Ordered()
	if valid, issues := VerifyEntries(entries); !valid {
		t.Errorf("chain invalid after restart: %v", issues)
	}
}

func TestVerifyEntriesSequenceGap(t *testing.T) {
	c := newTestChain(t, NewMemoryStore())
	a, _ := c.Log(EventIntentAllowed, "agent-1", "", nil)
	b, _ := c.Log(EventIntentAllowed, "agent-1", "", nil)

	b.Sequence = 5 // simulate a dropped row

	valid, issues := VerifyEntries([]*Entry{a, b})
	if valid {
		t.Fatal("sequence gap not detected")
	}
	found := false
	for _, issue := range issues {
		if strings.Contains(issue, "sequence gap") {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %v, want a sequence gap", issues)
	}
}

func TestVerifyEntriesEmptyChain(t *testing.T) {
	if valid, issues := VerifyEntries(nil); !valid || len(issues) != 0 {
		t.Errorf("empty chain = valid %v issues %v", valid, issues)
	}
}

func TestEntriesFilter(t *testing.T) {
	c := newTestChain(t, NewMemoryStore())
	c.Log(EventIntentAllowed, "agent-1", "", nil)
	c.Log(EventIntentDenied, "agent-2", "", nil)
	c.Log(EventIntentDenied, "agent-1", "", nil)

	entries, total, err := c.Entries(Filter{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("agent filter returned %d of %d", len(entries), total)
	}
	// Newest first.
	if entries[0].EventType != EventIntentDenied {
		t.Errorf("entries[0] = %s, want newest first", entries[0].EventType)
	}

	entries, total, _ = c.Entries(Filter{EventType: EventIntentDenied, Limit: 1})
	if total != 2 || len(entries) != 1 {
		t.Errorf("type filter with limit returned %d of %d", len(entries), total)
	}
}

func TestExportJSON(t *testing.T) {
	c := newTestChain(t, NewMemoryStore())
	c.Log(EventIntentAllowed, "agent-1", "", nil)
	c.Log(EventIntentDenied, "agent-1", "", nil)

	path := filepath.Join(t.TempDir(), "audit.json")
	if err := c.ExportJSON(path); err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var doc struct {
		TotalEntries int      `json:"total_entries"`
		Entries      []*Entry `json:"entries"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if doc.TotalEntries != 2 || len(doc.Entries) != 2 {
		t.Errorf("export = %d entries, want 2", doc.TotalEntries)
	}
	if doc.Entries[0].Sequence != 1 {
		t.Error("export not in chain order")
	}
}
