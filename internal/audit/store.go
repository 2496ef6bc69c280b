package audit

import "sync"

// Store is the persistence backend for audit entries.
type Store interface {
	// Initialize creates tables and indexes.
	Initialize() error

	// Close cleanly shuts down the store.
	Close() error

	Insert(e *Entry) error
	Get(entryID string) (*Entry, error)
	List(filter Filter) ([]*Entry, int, error)

	// Ordered returns the full chain in sequence order.
	Ordered() ([]*Entry, error)

	// Tip returns the entry with the highest sequence, or nil.
	Tip() (*Entry, error)

	Summary() (*Summary, error)
}

// MemoryStore keeps the chain in process memory. It backs tests and
// deployments that disable durable audit storage.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]*Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Entry)}
}

func (s *MemoryStore) Initialize() error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Insert(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	s.byID[e.EntryID] = e
	return nil
}

func (s *MemoryStore) Get(entryID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[entryID], nil
}

func (s *MemoryStore) List(filter Filter) ([]*Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Entry
	for _, e := range s.entries {
		if !matches(e, filter) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)

	// Newest first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func matches(e *Entry, f Filter) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

func (s *MemoryStore) Ordered() ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *MemoryStore) Tip() (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	return s.entries[len(s.entries)-1], nil
}

func (s *MemoryStore) Summary() (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &Summary{
		TotalEntries: int64(len(s.entries)),
		ByEventType:  make(map[string]int64),
		ByAgent:      make(map[string]int64),
	}
	for _, e := range s.entries {
		sum.ByEventType[string(e.EventType)]++
		if e.AgentID != "" {
			sum.ByAgent[e.AgentID]++
		}
	}
	if len(s.entries) > 0 {
		last := s.entries[len(s.entries)-1]
		sum.CurrentSequence = last.Sequence
		sum.LastEntry = last
	}
	return sum, nil
}
