// Package capability defines the closed, versioned set of actions agents
// may perform. Free-form action strings are resolved through a declarative
// alias table rather than scattered string matching, so lookups are O(1)
// for the common case and the full identifier set stays enumerable.
package capability

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// ID is a stable, versioned capability identifier of the form
// "domain.action/v1".
type ID string

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*/v[0-9]+$`)

// Valid reports whether the identifier has the domain.action/vN shape.
func (id ID) Valid() bool { return idPattern.MatchString(string(id)) }

// Domain returns the segment before the dot, e.g. "finance".
func (id ID) Domain() string {
	s := string(id)
	if i := strings.IndexByte(s, '.'); i > 0 {
		return s[:i]
	}
	return ""
}

// Base returns the action segment without domain or version, e.g.
// "approve_expense".
func (id ID) Base() string {
	s := string(id)
	start := strings.IndexByte(s, '.') + 1
	end := strings.IndexByte(s, '/')
	if start <= 0 || end < start {
		return s
	}
	return s[start:end]
}

// Definition describes one capability: identity, matching surface, and
// the payload schema consulted before policy evaluation.
type Definition struct {
	ID          ID       `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Domain      string   `yaml:"domain" json:"domain"`
	Description string   `yaml:"description" json:"description"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
	Aliases     []string `yaml:"aliases" json:"aliases"`
	Sensitive   bool     `yaml:"sensitive" json:"sensitive"`
	Schema      *Schema  `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// catalog is one immutable registry snapshot. Lookups run against a
// snapshot without locking; writers build a new one.
type catalog struct {
	byID    map[ID]*Definition
	byAlias map[string]ID
	ordered []*Definition
}

func emptyCatalog() *catalog {
	return &catalog{
		byID:    make(map[ID]*Definition),
		byAlias: make(map[string]ID),
	}
}

func (c *catalog) clone() *catalog {
	next := &catalog{
		byID:    make(map[ID]*Definition, len(c.byID)+1),
		byAlias: make(map[string]ID, len(c.byAlias)+4),
		ordered: make([]*Definition, len(c.ordered), len(c.ordered)+1),
	}
	for k, v := range c.byID {
		next.byID[k] = v
	}
	for k, v := range c.byAlias {
		next.byAlias[k] = v
	}
	copy(next.ordered, c.ordered)
	return next
}

// Registry holds capability definitions copy-on-write: Match and Get are
// lock-free against the current snapshot, Register swaps in a new one
// under a writer lock.
type Registry struct {
	writeMu sync.Mutex
	current atomic.Pointer[catalog]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(emptyCatalog())
	return r
}

// NewBuiltinRegistry returns a registry preloaded with the built-in
// capability set.
func NewBuiltinRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, def := range Builtins() {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a definition. The ID must be well-formed and unused; the
// alias table must stay unambiguous.
func (r *Registry) Register(def Definition) error {
	if !def.ID.Valid() {
		return fmt.Errorf("capability id %q: want domain.action/vN", def.ID)
	}
	if def.Name == "" {
		def.Name = def.ID.Base()
	}
	if def.Domain == "" {
		def.Domain = def.ID.Domain()
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := r.current.Load().clone()
	if _, exists := next.byID[def.ID]; exists {
		return fmt.Errorf("capability %q already registered", def.ID)
	}

	entry := def
	aliases := append([]string{string(def.ID), def.Name}, def.Aliases...)
	for _, alias := range aliases {
		key := normalizeAction(alias)
		if key == "" {
			continue
		}
		if owner, taken := next.byAlias[key]; taken && owner != def.ID {
			return fmt.Errorf("alias %q for %q already mapped to %q", alias, def.ID, owner)
		}
		next.byAlias[key] = def.ID
	}

	next.byID[def.ID] = &entry
	next.ordered = append(next.ordered, &entry)
	r.current.Store(next)
	return nil
}

// Get returns the definition for an exact identifier.
func (r *Registry) Get(id ID) (*Definition, bool) {
	def, ok := r.current.Load().byID[id]
	return def, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []*Definition {
	cat := r.current.Load()
	out := make([]*Definition, len(cat.ordered))
	copy(out, cat.ordered)
	return out
}

// Match resolves a free-form action string to a capability. Resolution
// order: exact identifier, alias table, substring against base names,
// then keyword token overlap. Ties go to the earliest registration.
func (r *Registry) Match(action string) (*Definition, bool) {
	cat := r.current.Load()
	norm := normalizeAction(action)
	if norm == "" {
		return nil, false
	}

	if def, ok := cat.byID[ID(action)]; ok {
		return def, true
	}
	if id, ok := cat.byAlias[norm]; ok {
		return cat.byID[id], true
	}

	for _, def := range cat.ordered {
		name := normalizeAction(def.Name)
		if strings.Contains(norm, name) || strings.Contains(name, norm) {
			return def, true
		}
	}

	actionTokens := tokenSet(norm)
	var best *Definition
	bestOverlap := 0
	for _, def := range cat.ordered {
		overlap := 0
		for _, kw := range def.Keywords {
			if actionTokens[strings.ToLower(kw)] {
				overlap++
			}
		}
		if overlap > bestOverlap {
			best, bestOverlap = def, overlap
		}
	}
	if best != nil {
		return best, true
	}
	return nil, false
}

// normalizeAction lowercases and collapses separators to underscores so
// "Approve Expense" and "approve_expense" hit the same alias entry.
func normalizeAction(action string) string {
	action = strings.ToLower(strings.TrimSpace(action))
	var b strings.Builder
	b.Grow(len(action))
	lastSep := false
	for _, r := range action {
		switch {
		case 'a' <= r && r <= 'z', '0' <= r && r <= '9', r == '.', r == '/':
			b.WriteRune(r)
			lastSep = false
		default:
			if !lastSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			lastSep = true
		}
	}
	return strings.Trim(b.String(), "_")
}

func tokenSet(norm string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(norm, func(r rune) bool {
		return r == '_' || r == '.' || r == '/'
	}) {
		set[tok] = true
	}
	return set
}
