package forensic

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/intentguard/intentguard/internal/fault"
	"github.com/intentguard/intentguard/internal/tirs/drift"
)

// Store owns the per-agent snapshot chains and their on-disk form,
// one gzipped JSON file per snapshot under a single directory. The
// in-memory chain is authoritative for the process lifetime; a failed
// disk write is reported but never rolls the chain back.
type Store struct {
	dir    string
	clock  drift.Clock
	logger *slog.Logger

	mu       sync.Mutex
	lastHash map[string]string
	chains   map[string][]string
	seq      uint64
}

// NewStore opens (and creates if needed) the snapshot directory and
// rebuilds chain state from any snapshots already on disk.
func NewStore(dir string, clock drift.Clock, logger *slog.Logger) (*Store, error) {
	if clock == nil {
		clock = drift.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	s := &Store{
		dir:      dir,
		clock:    clock,
		logger:   logger.With("component", "forensic.Store"),
		lastHash: make(map[string]string),
		chains:   make(map[string][]string),
	}
	if err := s.recoverChains(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) recoverChains() error {
	paths, err := filepath.Glob(filepath.Join(s.dir, "SNAP-*.json.gz"))
	if err != nil {
		return fmt.Errorf("scan snapshot dir: %w", err)
	}
	sort.Strings(paths)
	for _, path := range paths {
		snap, err := readSnapshotFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot", "path", path, "error", err)
			continue
		}
		s.chains[snap.AgentID] = append(s.chains[snap.AgentID], snap.SnapshotID)
		s.lastHash[snap.AgentID] = snap.ContentHash
		if n := sequenceOf(snap.SnapshotID); n > s.seq {
			s.seq = n
		}
	}
	if len(s.chains) > 0 {
		s.logger.Info("recovered snapshot chains", "agents", len(s.chains))
	}
	return nil
}

func sequenceOf(snapshotID string) uint64 {
	i := strings.LastIndex(snapshotID, "-")
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseUint(snapshotID[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Capture appends a snapshot of the given profile view to the agent's
// chain and writes it to disk. On a persistence failure the snapshot is
// still returned and remains part of the in-memory chain.
func (s *Store) Capture(view drift.View, trigger string, environment map[string]any) (*Snapshot, error) {
	snap, err := s.chainAppend(view, trigger, environment)
	if err != nil {
		return nil, err
	}

	if err := s.persist(snap); err != nil {
		s.logger.Error("snapshot persistence failed",
			"snapshot_id", snap.SnapshotID,
			"agent_id", snap.AgentID,
			"error", err)
		return snap, fault.New(fault.KindSnapshotPersistence, "persist %s: %v", snap.SnapshotID, err)
	}

	s.logger.Warn("forensic snapshot created",
		"snapshot_id", snap.SnapshotID,
		"agent_id", snap.AgentID,
		"trigger", trigger,
		"risk_score", snap.RiskScore)
	return snap, nil
}

func (s *Store) chainAppend(view drift.View, trigger string, environment map[string]any) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	s.seq++
	id := fmt.Sprintf("SNAP-%s-%04d", now.Format("20060102150405"), s.seq)

	prev := s.lastHash[view.AgentID]
	if prev == "" {
		prev = GenesisHash
	}

	snap := &Snapshot{
		SnapshotID:             id,
		AgentID:                view.AgentID,
		Trigger:                trigger,
		Timestamp:              now,
		RiskScore:              view.CurrentRiskScore,
		RiskLevel:              view.CurrentRiskLevel,
		Status:                 view.Status,
		TotalIntents:           view.TotalIntents,
		ViolationCount:         view.ViolationCount,
		ResurrectionCount:      view.ResurrectionCount,
		RiskHistoryTail:        view.RiskHistoryTail,
		IntentHistoryTail:      view.IntentHistoryTail,
		CapabilityDistribution: view.CapabilityDistribution,
		UnusualCapabilities:    view.UnusualCapabilities,
		PoliciesTriggered:      view.PoliciesTriggered,
		Environment:            environment,
		PreviousSnapshotHash:   prev,
		IntegrityValid:         true,
	}

	hash, err := snapshotHash(snap)
	if err != nil {
		return nil, fault.New(fault.KindIntegrityFailure, "hash snapshot %s: %v", id, err)
	}
	snap.ContentHash = hash

	s.lastHash[view.AgentID] = hash
	s.chains[view.AgentID] = append(s.chains[view.AgentID], id)
	return snap, nil
}

func (s *Store) persist(snap *Snapshot) error {
	path := filepath.Join(s.dir, snap.SnapshotID+".json.gz")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(f)
	if err := json.NewEncoder(gw).Encode(snap); err != nil {
		gw.Close()
		f.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readSnapshotFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip %s: %w", filepath.Base(path), err)
	}
	defer gr.Close()

	var snap Snapshot
	if err := json.NewDecoder(gr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &snap, nil
}

// Load reads one snapshot from disk, recomputing its integrity flag.
func (s *Store) Load(snapshotID string) (*Snapshot, error) {
	snap, err := readSnapshotFile(filepath.Join(s.dir, snapshotID+".json.gz"))
	if err != nil {
		return nil, fault.New(fault.KindSnapshotPersistence, "load %s: %v", snapshotID, err)
	}
	snap.IntegrityValid = snap.Verify()
	return snap, nil
}

// Agent returns the agent's chain in creation order, loaded from disk.
// Unreadable entries are skipped; VerifyChain reports them as problems.
func (s *Store) Agent(agentID string) []*Snapshot {
	s.mu.Lock()
	ids := append([]string(nil), s.chains[agentID]...)
	s.mu.Unlock()

	out := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.Load(id)
		if err != nil {
			s.logger.Warn("snapshot missing from disk", "snapshot_id", id, "error", err)
			continue
		}
		out = append(out, snap)
	}
	return out
}

// ChainLength reports how many snapshots the agent's chain holds.
func (s *Store) ChainLength(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chains[agentID])
}

// ChainReport is the result of verifying one agent's snapshot chain.
type ChainReport struct {
	AgentID       string   `json:"agent_id"`
	SnapshotCount int      `json:"snapshot_count"`
	Valid         bool     `json:"valid"`
	Problems      []string `json:"problems,omitempty"`
}

// VerifyChain checks every snapshot in the agent's chain: each stored
// file must still match its content hash, and each link must point at
// the previous snapshot's hash (the first at the genesis hash).
func (s *Store) VerifyChain(agentID string) ChainReport {
	s.mu.Lock()
	ids := append([]string(nil), s.chains[agentID]...)
	s.mu.Unlock()

	report := ChainReport{AgentID: agentID, SnapshotCount: len(ids), Valid: true}
	prev := GenesisHash
	for i, id := range ids {
		snap, err := s.Load(id)
		if err != nil {
			report.Valid = false
			report.Problems = append(report.Problems, fmt.Sprintf("snapshot %s unreadable: %v", id, err))
			continue
		}
		if !snap.IntegrityValid {
			report.Valid = false
			report.Problems = append(report.Problems, fmt.Sprintf("snapshot %s content hash mismatch", id))
		}
		if snap.PreviousSnapshotHash != prev {
			report.Valid = false
			report.Problems = append(report.Problems, fmt.Sprintf("snapshot %s broken link at position %d", id, i))
		}
		prev = snap.ContentHash
	}
	return report
}

// ChainExport is the serialized form of one agent's full chain.
type ChainExport struct {
	AgentID       string      `json:"agent_id"`
	ExportedAt    time.Time   `json:"exported_at"`
	SnapshotCount int         `json:"snapshot_count"`
	ChainValid    bool        `json:"chain_valid"`
	Snapshots     []*Snapshot `json:"snapshots"`
}

// Export writes the agent's ordered chain as one gzipped JSON document
// and returns it.
func (s *Store) Export(agentID, path string) (*ChainExport, error) {
	snaps := s.Agent(agentID)
	exp := &ChainExport{
		AgentID:       agentID,
		ExportedAt:    s.clock.Now().UTC(),
		SnapshotCount: len(snaps),
		ChainValid:    s.VerifyChain(agentID).Valid,
		Snapshots:     snaps,
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fault.New(fault.KindSnapshotPersistence, "export %s: %v", agentID, err)
	}
	gw := gzip.NewWriter(f)
	if err := json.NewEncoder(gw).Encode(exp); err != nil {
		gw.Close()
		f.Close()
		return nil, fault.New(fault.KindSnapshotPersistence, "export %s: %v", agentID, err)
	}
	if err := gw.Close(); err != nil {
		f.Close()
		return nil, fault.New(fault.KindSnapshotPersistence, "export %s: %v", agentID, err)
	}
	if err := f.Close(); err != nil {
		return nil, fault.New(fault.KindSnapshotPersistence, "export %s: %v", agentID, err)
	}

	s.logger.Info("snapshot chain exported", "agent_id", agentID, "path", path, "count", len(snaps))
	return exp, nil
}
