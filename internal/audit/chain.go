package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/intentguard/intentguard/internal/canonical"
)

// GenesisHash anchors the first entry of the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Clock abstracts wall time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// hashContent is the hashed subset of an entry. Timestamps are
// normalized to UTC RFC 3339 so a round trip through storage cannot
// change the hash.
type hashContent struct {
	EntryID      string         `json:"entry_id"`
	Timestamp    string         `json:"timestamp"`
	EventType    EventType      `json:"event_type"`
	AgentID      string         `json:"agent_id"`
	UserID       string         `json:"user_id"`
	Data         map[string]any `json:"data"`
	Sequence     uint64         `json:"sequence"`
	PreviousHash string         `json:"previous_hash"`
}

func entryHash(e *Entry) (string, error) {
	return canonical.Hash(hashContent{
		EntryID:      e.EntryID,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		EventType:    e.EventType,
		AgentID:      e.AgentID,
		UserID:       e.UserID,
		Data:         e.Data,
		Sequence:     e.Sequence,
		PreviousHash: e.PreviousHash,
	})
}

// VerifyEntry recomputes an entry's hash and compares it to the stored
// one.
func VerifyEntry(e *Entry) bool {
	h, err := entryHash(e)
	return err == nil && h == e.ContentHash
}

// VerifyEntries walks an ordered chain and collects every integrity
// issue: corrupted entries, broken links, and sequence gaps.
func VerifyEntries(entries []*Entry) (bool, []string) {
	var issues []string
	if len(entries) == 0 {
		return true, nil
	}
	if entries[0].PreviousHash != GenesisHash {
		issues = append(issues, "first entry does not anchor at the genesis hash")
	}
	var prevSeq uint64
	for i, e := range entries {
		if !VerifyEntry(e) {
			issues = append(issues, fmt.Sprintf("entry %s failed integrity check", e.EntryID))
		}
		if i > 0 {
			if e.PreviousHash != entries[i-1].ContentHash {
				issues = append(issues, fmt.Sprintf("chain broken at %s (seq %d)", e.EntryID, e.Sequence))
			}
			if e.Sequence != prevSeq+1 {
				issues = append(issues, fmt.Sprintf("sequence gap at %s: expected %d, got %d", e.EntryID, prevSeq+1, e.Sequence))
			}
		}
		prevSeq = e.Sequence
	}
	return len(issues) == 0, issues
}

// Chain is the append-only audit log. Appends are serialized; the
// backing store holds the durable copy and the chain keeps only the
// tip in memory.
type Chain struct {
	store  Store
	clock  Clock
	logger *slog.Logger

	mu       sync.Mutex
	sequence uint64
	lastHash string
}

// NewChain initializes the store and recovers the chain tip so appends
// continue an existing chain across restarts.
func NewChain(store Store, clock Clock, logger *slog.Logger) (*Chain, error) {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := store.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize audit store: %w", err)
	}

	c := &Chain{
		store:    store,
		clock:    clock,
		logger:   logger.With("component", "audit.Chain"),
		lastHash: GenesisHash,
	}

	tip, err := store.Tip()
	if err != nil {
		return nil, fmt.Errorf("recover audit chain tip: %w", err)
	}
	if tip != nil {
		c.sequence = tip.Sequence
		c.lastHash = tip.ContentHash
		c.logger.Info("audit chain recovered", "sequence", tip.Sequence)
	}
	return c, nil
}

// Log appends one entry to the chain. Data values must be plain JSON
// types; nil data is recorded as an empty object.
func (c *Chain) Log(eventType EventType, agentID, userID string, data map[string]any) (*Entry, error) {
	if data == nil {
		data = map[string]any{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := &Entry{
		EntryID:      ulid.Make().String(),
		Timestamp:    c.clock.Now().UTC(),
		EventType:    eventType,
		AgentID:      agentID,
		UserID:       userID,
		Data:         data,
		Sequence:     c.sequence + 1,
		PreviousHash: c.lastHash,
	}

	hash, err := entryHash(e)
	if err != nil {
		return nil, fmt.Errorf("hash audit entry: %w", err)
	}
	e.ContentHash = hash

	if err := c.store.Insert(e); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	c.sequence = e.Sequence
	c.lastHash = hash
	return e, nil
}

// VerifyReport is the outcome of a full chain verification.
type VerifyReport struct {
	Valid   bool     `json:"valid"`
	Entries int      `json:"entries"`
	Issues  []string `json:"issues,omitempty"`
}

// Verify walks the whole stored chain and appends a verification
// outcome entry, so verifications are themselves auditable.
func (c *Chain) Verify() (VerifyReport, error) {
	entries, err := c.store.Ordered()
	if err != nil {
		return VerifyReport{}, fmt.Errorf("read audit chain: %w", err)
	}

	valid, issues := VerifyEntries(entries)
	report := VerifyReport{Valid: valid, Entries: len(entries), Issues: issues}

	outcome := EventChainVerified
	if !valid {
		outcome = EventChainTampered
		c.logger.Error("audit chain verification failed", "issues", len(issues))
	}
	if _, err := c.Log(outcome, "", "", map[string]any{
		"is_valid":     valid,
		"issues_count": len(issues),
	}); err != nil {
		return report, err
	}
	return report, nil
}

// Entries lists entries matching the filter, newest first.
func (c *Chain) Entries(filter Filter) ([]*Entry, int, error) {
	return c.store.List(filter)
}

// Summary aggregates the chain.
func (c *Chain) Summary() (*Summary, error) {
	return c.store.Summary()
}

// ExportJSON writes the full ordered chain to one JSON document.
func (c *Chain) ExportJSON(path string) error {
	entries, err := c.store.Ordered()
	if err != nil {
		return fmt.Errorf("read audit chain: %w", err)
	}
	doc := struct {
		ExportedAt   time.Time `json:"exported_at"`
		TotalEntries int       `json:"total_entries"`
		Entries      []*Entry  `json:"entries"`
	}{
		ExportedAt:   c.clock.Now().UTC(),
		TotalEntries: len(entries),
		Entries:      entries,
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export audit chain: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		f.Close()
		return fmt.Errorf("export audit chain: %w", err)
	}
	return f.Close()
}

// Close releases the backing store.
func (c *Chain) Close() error {
	return c.store.Close()
}
